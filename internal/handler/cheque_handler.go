package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/grachmannico95/palette-cheque/internal/cheque"
	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/internal/signature"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

type ChequeHandler struct {
	registry *cheque.Registry
	signer   *signature.Service
	logger   *logger.Logger
}

func NewChequeHandler(registry *cheque.Registry, signer *signature.Service, log *logger.Logger) *ChequeHandler {
	return &ChequeHandler{
		registry: registry,
		signer:   signer,
		logger:   log,
	}
}

func (h *ChequeHandler) List(c echo.Context) error {
	page, perPage := pagination(c)

	filter := domain.ChequeFilter{
		EmitterID: c.QueryParam("emitter_id"),
		SiteID:    c.QueryParam("site_id"),
		Limit:     perPage,
		Offset:    (page - 1) * perPage,
	}
	for _, s := range csv(c.QueryParam("status")) {
		status := domain.ChequeStatus(s)
		if !status.Valid() {
			return badRequest(c, "unknown status "+s)
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	cheques, total, err := h.registry.List(c.Request().Context(), filter)
	if err != nil {
		return respondError(c, h.logger, err, "list cheques")
	}

	return c.JSON(http.StatusOK, listResponse(cheques, page, perPage, total))
}

func (h *ChequeHandler) Get(c echo.Context) error {
	ch, err := h.registry.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.logger, err, "get cheque")
	}
	return c.JSON(http.StatusOK, ch)
}

func (h *ChequeHandler) Create(c echo.Context) error {
	var in cheque.CreateInput
	if err := bind(c, &in); err != nil {
		return respondError(c, h.logger, err, "create cheque")
	}

	ch, err := h.registry.Create(c.Request().Context(), in)
	if err != nil {
		return respondError(c, h.logger, err, "create cheque")
	}
	return c.JSON(http.StatusCreated, ch)
}

func (h *ChequeHandler) Dispatch(c echo.Context) error {
	ch, err := h.registry.Dispatch(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.logger, err, "dispatch cheque")
	}
	return c.JSON(http.StatusOK, ch)
}

func (h *ChequeHandler) Deposit(c echo.Context) error {
	var in cheque.DepositInput
	if err := bind(c, &in); err != nil {
		return respondError(c, h.logger, err, "deposit cheque")
	}

	ch, err := h.registry.Deposit(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return respondError(c, h.logger, err, "deposit cheque")
	}
	return c.JSON(http.StatusOK, ch)
}

func (h *ChequeHandler) Receive(c echo.Context) error {
	var in cheque.ReceiveInput
	if err := bind(c, &in); err != nil {
		return respondError(c, h.logger, err, "receive cheque")
	}

	ch, err := h.registry.Receive(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return respondError(c, h.logger, err, "receive cheque")
	}
	return c.JSON(http.StatusOK, ch)
}

func (h *ChequeHandler) Cancel(c echo.Context) error {
	var in struct {
		Reason string `json:"reason"`
	}
	if err := bind(c, &in); err != nil {
		return respondError(c, h.logger, err, "cancel cheque")
	}

	ch, err := h.registry.Cancel(c.Request().Context(), c.Param("id"), in.Reason)
	if err != nil {
		return respondError(c, h.logger, err, "cancel cheque")
	}
	return c.JSON(http.StatusOK, ch)
}

func (h *ChequeHandler) Verify(c echo.Context) error {
	result, err := h.registry.Verify(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.logger, err, "verify cheque")
	}
	return c.JSON(http.StatusOK, result)
}

func (h *ChequeHandler) Proof(c echo.Context) error {
	proof, err := h.registry.Proof(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.logger, err, "build cheque proof")
	}
	return c.JSON(http.StatusOK, proof)
}

func (h *ChequeHandler) PublicKey(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"public_key":     h.signer.PublicKey(),
		"public_key_hex": h.signer.PublicKeyHex(),
		"algorithm":      "Ed25519",
	})
}
