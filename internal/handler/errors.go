package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// statusFor maps domain errors onto HTTP statuses. Anything unknown is a
// server error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrGeofenceViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c echo.Context, log *logger.Logger, err error, action string) error {
	ctx := c.Request().Context()
	status := statusFor(err)

	if status == http.StatusInternalServerError {
		log.Error(ctx, "Failed to "+action, "error", err)
		return c.JSON(status, map[string]string{
			"error": "failed to " + action,
		})
	}

	log.Debug(ctx, "Request rejected", "action", action, "status", status, "error", err)

	body := map[string]interface{}{
		"error": err.Error(),
	}

	var validationErr *domain.ValidationError
	var geofenceErr *domain.GeofenceError
	var quotaErr *domain.QuotaError
	switch {
	case errors.As(err, &validationErr):
		body["field"] = validationErr.Field
	case errors.As(err, &geofenceErr):
		body["distance_meters"] = geofenceErr.DistanceMeters
		body["radius_meters"] = geofenceErr.RadiusMeters
	case errors.As(err, &quotaErr):
		body["requested"] = quotaErr.Requested
		body["available"] = quotaErr.Available
	}

	return c.JSON(status, body)
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error": message,
	})
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return domain.NewValidationError("body", err.Error())
	}
	return nil
}

// pagination reads page and per_page with the usual defaults.
func pagination(c echo.Context) (page, perPage int) {
	page, err := strconv.Atoi(c.QueryParam("page"))
	if err != nil || page < 1 {
		page = 1
	}

	perPage, err = strconv.Atoi(c.QueryParam("per_page"))
	if err != nil || perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	return page, perPage
}

// csv splits a comma separated query parameter, dropping empty items.
func csv(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func listResponse(items interface{}, page, perPage, total int) map[string]interface{} {
	return map[string]interface{}{
		"items":    items,
		"page":     page,
		"per_page": perPage,
		"total":    total,
	}
}
