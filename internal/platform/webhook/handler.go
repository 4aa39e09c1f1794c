package webhook

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labflow/intake/internal/platform/auth"
	"github.com/labflow/intake/pkg/pagination"
)

// LogHandler exposes the audit log to staff for forensic inspection.
type LogHandler struct {
	store LogStore
}

func NewLogHandler(store LogStore) *LogHandler {
	return &LogHandler{store: store}
}

func (h *LogHandler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/webhook-logs", auth.RequireRole(auth.RoleAdmin))
	g.GET("", h.ListLogs)
	g.GET("/:id", h.GetLog)
}

// ListLogs handles GET /webhook-logs?status=&source=.
func (h *LogHandler) ListLogs(c echo.Context) error {
	pg := pagination.FromContext(c)
	status := LogStatus(c.QueryParam("status"))
	if status != "" && !status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	logs, total, err := h.store.List(c.Request().Context(), LogFilter{
		Status: status,
		Source: c.QueryParam("source"),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(logs, total, pg.Limit, pg.Offset))
}

// GetLog handles GET /webhook-logs/:id.
func (h *LogHandler) GetLog(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	l, err := h.store.Get(c.Request().Context(), id)
	if errors.Is(err, ErrLogNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "webhook log not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "data": l})
}
