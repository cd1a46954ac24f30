package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/grachmannico95/palette-cheque/internal/registry"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

type RegistryHandler struct {
	mirror *registry.Mirror
	logger *logger.Logger
}

func NewRegistryHandler(mirror *registry.Mirror, log *logger.Logger) *RegistryHandler {
	return &RegistryHandler{
		mirror: mirror,
		logger: log,
	}
}

func (h *RegistryHandler) ValidateSerial(c echo.Context) error {
	var in struct {
		Serial string `json:"serial"`
	}
	if err := bind(c, &in); err != nil {
		return respondError(c, h.logger, err, "validate serial")
	}

	check, err := h.mirror.ValidateSerial(c.Request().Context(), in.Serial)
	if err != nil {
		return respondError(c, h.logger, err, "validate serial")
	}
	return c.JSON(http.StatusOK, check)
}

func (h *RegistryHandler) Sync(c echo.Context) error {
	report, err := h.mirror.SyncLedger(c.Request().Context(), c.Param("companyId"))
	if err != nil {
		return respondError(c, h.logger, err, "sync ledger with registry")
	}
	return c.JSON(http.StatusOK, report)
}

func (h *RegistryHandler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.mirror.Stats())
}
