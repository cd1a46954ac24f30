package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/internal/ledger"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

type LedgerHandler struct {
	store  *ledger.Store
	logger *logger.Logger
}

func NewLedgerHandler(store *ledger.Store, log *logger.Logger) *LedgerHandler {
	return &LedgerHandler{
		store:  store,
		logger: log,
	}
}

// List returns every ledger, or only the indebted ones with ?debtors=true.
func (h *LedgerHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	var (
		ledgers []*domain.Ledger
		err     error
	)
	if debtors, _ := strconv.ParseBool(c.QueryParam("debtors")); debtors {
		ledgers, err = h.store.Debtors(ctx)
	} else {
		ledgers, err = h.store.List(ctx)
	}
	if err != nil {
		return respondError(c, h.logger, err, "list ledgers")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"items": ledgers,
		"total": len(ledgers),
	})
}

func (h *LedgerHandler) Get(c echo.Context) error {
	l, err := h.store.Get(c.Request().Context(), c.Param("companyId"))
	if err != nil {
		return respondError(c, h.logger, err, "get ledger")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"ledger": l,
		"total":  l.Total(),
	})
}

func (h *LedgerHandler) History(c echo.Context) error {
	palletType, err := domain.ParsePalletType(c.QueryParam("pallet_type"))
	if c.QueryParam("pallet_type") != "" && err != nil {
		return respondError(c, h.logger, err, "get ledger history")
	}

	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit < 1 {
		limit = 50
	}

	companyID := c.Param("companyId")
	entries, err := h.store.History(c.Request().Context(), companyID, palletType, limit)
	if err != nil {
		return respondError(c, h.logger, err, "get ledger history")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"company_id": companyID,
		"items":      entries,
	})
}

// Adjust applies a manual correction. The reason is mandatory.
func (h *LedgerHandler) Adjust(c echo.Context) error {
	var in ledger.AdjustInput
	if err := bind(c, &in); err != nil {
		return respondError(c, h.logger, err, "adjust ledger")
	}
	in.CompanyID = c.Param("companyId")
	in.ChequeID = ""
	if in.Reason == "" {
		return badRequest(c, "reason is required")
	}

	entry, err := h.store.Adjust(c.Request().Context(), in)
	if err != nil {
		return respondError(c, h.logger, err, "adjust ledger")
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *LedgerHandler) Stats(c echo.Context) error {
	stats, err := h.store.Stats(c.Request().Context())
	if err != nil {
		return respondError(c, h.logger, err, "get ledger stats")
	}
	return c.JSON(http.StatusOK, stats)
}
