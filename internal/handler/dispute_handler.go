package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/grachmannico95/palette-cheque/internal/dispute"
	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

type DisputeHandler struct {
	resolver *dispute.Resolver
	logger   *logger.Logger
}

func NewDisputeHandler(resolver *dispute.Resolver, log *logger.Logger) *DisputeHandler {
	return &DisputeHandler{
		resolver: resolver,
		logger:   log,
	}
}

type actionRequest struct {
	By      string `json:"by"`
	Reason  string `json:"reason,omitempty"`
	Content string `json:"content,omitempty"`
}

func (h *DisputeHandler) List(c echo.Context) error {
	page, perPage := pagination(c)

	filter := domain.DisputeFilter{
		ChequeID:  c.QueryParam("cheque_id"),
		CompanyID: c.QueryParam("company_id"),
		Priority:  domain.DisputePriority(c.QueryParam("priority")),
		Type:      domain.DisputeType(c.QueryParam("type")),
		Limit:     perPage,
		Offset:    (page - 1) * perPage,
	}
	for _, s := range csv(c.QueryParam("status")) {
		status := domain.DisputeStatus(s)
		if !status.Valid() {
			return badRequest(c, "unknown status "+s)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return badRequest(c, "priority must be low, medium or high")
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return badRequest(c, "unknown dispute type "+string(filter.Type))
	}

	disputes, total, err := h.resolver.List(c.Request().Context(), filter)
	if err != nil {
		return respondError(c, h.logger, err, "list disputes")
	}

	return c.JSON(http.StatusOK, listResponse(disputes, page, perPage, total))
}

func (h *DisputeHandler) Get(c echo.Context) error {
	details, err := h.resolver.Details(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.logger, err, "get dispute")
	}
	return c.JSON(http.StatusOK, details)
}

func (h *DisputeHandler) Create(c echo.Context) error {
	var in dispute.OpenInput
	if err := bind(c, &in); err != nil {
		return respondError(c, h.logger, err, "open dispute")
	}

	d, err := h.resolver.Open(c.Request().Context(), in)
	if err != nil {
		return respondError(c, h.logger, err, "open dispute")
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *DisputeHandler) Propose(c echo.Context) error {
	var in dispute.ProposeInput
	if err := bind(c, &in); err != nil {
		return respondError(c, h.logger, err, "propose resolution")
	}

	d, err := h.resolver.Propose(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return respondError(c, h.logger, err, "propose resolution")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *DisputeHandler) Validate(c echo.Context) error {
	var in dispute.ValidateInput
	if err := bind(c, &in); err != nil {
		return respondError(c, h.logger, err, "validate resolution")
	}

	d, err := h.resolver.Validate(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return respondError(c, h.logger, err, "validate resolution")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *DisputeHandler) Comment(c echo.Context) error {
	var in actionRequest
	if err := bind(c, &in); err != nil {
		return respondError(c, h.logger, err, "comment dispute")
	}

	d, err := h.resolver.Comment(c.Request().Context(), c.Param("id"), in.By, in.Content)
	if err != nil {
		return respondError(c, h.logger, err, "comment dispute")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *DisputeHandler) Escalate(c echo.Context) error {
	var in actionRequest
	if err := bind(c, &in); err != nil {
		return respondError(c, h.logger, err, "escalate dispute")
	}

	d, err := h.resolver.Escalate(c.Request().Context(), c.Param("id"), in.By, in.Reason)
	if err != nil {
		return respondError(c, h.logger, err, "escalate dispute")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *DisputeHandler) Reject(c echo.Context) error {
	var in actionRequest
	if err := bind(c, &in); err != nil {
		return respondError(c, h.logger, err, "reject dispute")
	}

	d, err := h.resolver.Reject(c.Request().Context(), c.Param("id"), in.By, in.Reason)
	if err != nil {
		return respondError(c, h.logger, err, "reject dispute")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *DisputeHandler) Stats(c echo.Context) error {
	stats, err := h.resolver.Stats(c.Request().Context())
	if err != nil {
		return respondError(c, h.logger, err, "get dispute stats")
	}
	return c.JSON(http.StatusOK, stats)
}
