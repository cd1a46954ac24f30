package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/grachmannico95/palette-cheque/internal/matching"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

type MatchingHandler struct {
	matcher *matching.Matcher
	logger  *logger.Logger
}

func NewMatchingHandler(matcher *matching.Matcher, log *logger.Logger) *MatchingHandler {
	return &MatchingHandler{
		matcher: matcher,
		logger:  log,
	}
}

func (h *MatchingHandler) FindSites(c echo.Context) error {
	var req matching.Request
	if err := bind(c, &req); err != nil {
		return respondError(c, h.logger, err, "find sites")
	}

	sites, err := h.matcher.FindSites(c.Request().Context(), req)
	if err != nil {
		return respondError(c, h.logger, err, "find sites")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"items": sites,
		"total": len(sites),
	})
}

func (h *MatchingHandler) BestSite(c echo.Context) error {
	var req matching.Request
	if err := bind(c, &req); err != nil {
		return respondError(c, h.logger, err, "find best site")
	}

	best, found, err := h.matcher.FindBest(c.Request().Context(), req)
	if err != nil {
		return respondError(c, h.logger, err, "find best site")
	}
	if !found {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "no site available in the search radius",
		})
	}
	return c.JSON(http.StatusOK, best)
}

func (h *MatchingHandler) Stats(c echo.Context) error {
	stats, err := h.matcher.Stats(c.Request().Context())
	if err != nil {
		return respondError(c, h.logger, err, "get matching stats")
	}
	return c.JSON(http.StatusOK, stats)
}
