// Package api implements status HTTP API of the fleet.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/gotd/fleet/internal/monitor"
	"github.com/gotd/fleet/internal/store"
)

// Monitor is an account health monitor.
type Monitor interface {
	Running() bool
	Interval() time.Duration
	CheckAll(ctx context.Context) ([]monitor.Result, error)
	AutoReconnect(ctx context.Context) []monitor.ReconnectResult
}

// Pool reports live account handles.
type Pool interface {
	Connected(phone string) bool
	ConnectedCount() int
}

// Handler serves status API.
type Handler struct {
	store   *store.Store
	pool    Pool
	monitor Monitor
}

// NewHandler creates new Handler.
func NewHandler(st *store.Store, p Pool, m Monitor) *Handler {
	return &Handler{store: st, pool: p, monitor: m}
}

// Health is a health check response.
type Health struct {
	Status    string `json:"status"`
	Accounts  int    `json:"accounts"`
	Connected int    `json:"connected"`
}

// Account is an account status entry.
type Account struct {
	Phone     string       `json:"phone"`
	Status    store.Status `json:"status"`
	Detail    string       `json:"detail,omitempty"`
	Connected bool         `json:"connected"`
	Timestamp *time.Time   `json:"timestamp,omitempty"`
}

// MonitorState is a monitoring loop state.
type MonitorState struct {
	Running         bool `json:"running"`
	IntervalSeconds int  `json:"interval_seconds"`
}

// CheckResult is a single account check result.
type CheckResult struct {
	Phone   string       `json:"phone"`
	Status  store.Status `json:"status"`
	Detail  string       `json:"detail"`
	Changed bool         `json:"changed"`
}

// ReconnectResult is a single account reconnect result.
type ReconnectResult struct {
	Phone string `json:"phone"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Error is an error response.
type Error struct {
	Message string `json:"error"`
}

// RegisterRoutes registers handlers using given Echo router.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.health)
	e.GET("/accounts", h.accounts)
	e.GET("/monitor", h.monitorState)
	e.POST("/monitor/check", h.check)
	e.POST("/monitor/reconnect", h.reconnect)
}

// Logger returns middleware that attaches logger to request context.
func Logger(lg *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := zctx.Base(req.Context(), lg.With(zap.String("path", c.Path())))
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

func (h *Handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, Health{
		Status:    "ok",
		Accounts:  len(h.store.Accounts()),
		Connected: h.pool.ConnectedCount(),
	})
}

func (h *Handler) accounts(c echo.Context) error {
	statuses := h.store.Statuses()
	accounts := h.store.Accounts()

	out := make([]Account, 0, len(accounts))
	for _, acc := range accounts {
		a := Account{
			Phone:     acc.Phone,
			Status:    acc.Status,
			Connected: h.pool.Connected(acc.Phone),
		}
		if rec, ok := statuses[acc.Phone]; ok {
			a.Status = rec.Status
			a.Detail = rec.Detail
			ts := rec.Timestamp
			a.Timestamp = &ts
		}
		out = append(out, a)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) monitorState(c echo.Context) error {
	return c.JSON(http.StatusOK, MonitorState{
		Running:         h.monitor.Running(),
		IntervalSeconds: int(h.monitor.Interval() / time.Second),
	})
}

func (h *Handler) check(c echo.Context) error {
	ctx := c.Request().Context()
	results, err := h.monitor.CheckAll(ctx)
	if err != nil {
		zctx.From(ctx).Error("Check accounts", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, Error{Message: err.Error()})
	}

	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, CheckResult{
			Phone:   r.Phone,
			Status:  r.Status,
			Detail:  r.Detail,
			Changed: r.Changed,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) reconnect(c echo.Context) error {
	ctx := c.Request().Context()
	results := h.monitor.AutoReconnect(ctx)

	out := make([]ReconnectResult, 0, len(results))
	for _, r := range results {
		res := ReconnectResult{Phone: r.Phone, OK: r.Err == nil}
		if r.Err != nil {
			res.Error = r.Err.Error()
		}
		out = append(out, res)
	}
	zctx.From(ctx).Info("Reconnect sweep", zap.Int("accounts", len(out)))
	return c.JSON(http.StatusOK, out)
}
