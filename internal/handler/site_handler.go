package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/internal/site"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

type SiteHandler struct {
	service *site.Service
	logger  *logger.Logger
}

func NewSiteHandler(service *site.Service, log *logger.Logger) *SiteHandler {
	return &SiteHandler{
		service: service,
		logger:  log,
	}
}

func (h *SiteHandler) List(c echo.Context) error {
	filter := domain.SiteFilter{
		CompanyID: c.QueryParam("company_id"),
		Priority:  domain.SitePriority(c.QueryParam("priority")),
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return badRequest(c, "priority must be INTERNAL, NETWORK or EXTERNAL")
	}
	if active, err := strconv.ParseBool(c.QueryParam("active")); err == nil && active {
		filter.ActiveOnly = true
	}

	sites, err := h.service.List(c.Request().Context(), filter)
	if err != nil {
		return respondError(c, h.logger, err, "list sites")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"items": sites,
		"total": len(sites),
	})
}

func (h *SiteHandler) Get(c echo.Context) error {
	s, err := h.service.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.logger, err, "get site")
	}
	return c.JSON(http.StatusOK, s)
}

func (h *SiteHandler) Create(c echo.Context) error {
	var in site.CreateInput
	if err := bind(c, &in); err != nil {
		return respondError(c, h.logger, err, "create site")
	}

	s, err := h.service.Create(c.Request().Context(), in)
	if err != nil {
		return respondError(c, h.logger, err, "create site")
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *SiteHandler) Update(c echo.Context) error {
	var in site.UpdateInput
	if err := bind(c, &in); err != nil {
		return respondError(c, h.logger, err, "update site")
	}

	s, err := h.service.Update(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return respondError(c, h.logger, err, "update site")
	}
	return c.JSON(http.StatusOK, s)
}

func (h *SiteHandler) UpdateQuota(c echo.Context) error {
	var in site.QuotaLimits
	if err := bind(c, &in); err != nil {
		return respondError(c, h.logger, err, "update site quota")
	}

	s, err := h.service.UpdateQuota(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return respondError(c, h.logger, err, "update site quota")
	}
	return c.JSON(http.StatusOK, s)
}

func (h *SiteHandler) ResetQuota(c echo.Context) error {
	var in struct {
		Type site.ResetScope `json:"type"`
	}
	if err := bind(c, &in); err != nil {
		return respondError(c, h.logger, err, "reset site quota")
	}

	s, err := h.service.ResetQuota(c.Request().Context(), c.Param("id"), in.Type)
	if err != nil {
		return respondError(c, h.logger, err, "reset site quota")
	}
	return c.JSON(http.StatusOK, s)
}

func (h *SiteHandler) SetActive(c echo.Context) error {
	var in struct {
		Active *bool `json:"active"`
	}
	if err := bind(c, &in); err != nil {
		return respondError(c, h.logger, err, "toggle site")
	}
	if in.Active == nil {
		return badRequest(c, "active is required")
	}

	s, err := h.service.SetActive(c.Request().Context(), c.Param("id"), *in.Active)
	if err != nil {
		return respondError(c, h.logger, err, "toggle site")
	}
	return c.JSON(http.StatusOK, s)
}

func (h *SiteHandler) Delete(c echo.Context) error {
	s, err := h.service.Delete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.logger, err, "delete site")
	}
	return c.JSON(http.StatusOK, s)
}

func (h *SiteHandler) Stats(c echo.Context) error {
	report, err := h.service.Stats(c.Request().Context(), c.Param("id"), c.QueryParam("period"))
	if err != nil {
		return respondError(c, h.logger, err, "get site stats")
	}
	return c.JSON(http.StatusOK, report)
}
