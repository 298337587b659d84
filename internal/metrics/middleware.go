// Package metrics instruments admin bot interactions.
package metrics

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/gotd/fleet/internal/dispatch"
	"github.com/gotd/fleet/internal/tgbot"
)

// Metrics of admin bot.
type Metrics struct {
	Interactions metric.Int64Counter
	Responses    metric.Int64Counter
	Failures     metric.Int64Counter
	Duration     metric.Float64Histogram
}

// NewMetrics creates instruments using given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.Interactions, err = meter.Int64Counter("fleet.bot.interactions"); err != nil {
		return m, errors.Wrap(err, "interactions")
	}
	if m.Responses, err = meter.Int64Counter("fleet.bot.responses"); err != nil {
		return m, errors.Wrap(err, "responses")
	}
	if m.Failures, err = meter.Int64Counter("fleet.bot.failures"); err != nil {
		return m, errors.Wrap(err, "failures")
	}
	if m.Duration, err = meter.Float64Histogram("fleet.bot.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Interaction handling duration"),
	); err != nil {
		return m, errors.Wrap(err, "duration")
	}
	return m, nil
}

var _ tgbot.Handler = (*Middleware)(nil)

// Middleware counts interactions passed to next handler.
type Middleware struct {
	next    tgbot.Handler
	metrics Metrics

	logger *zap.Logger
}

// NewMiddleware creates new metrics middleware.
func NewMiddleware(next tgbot.Handler, metrics Metrics) *Middleware {
	return &Middleware{
		next:    next,
		metrics: metrics,
		logger:  zap.NewNop(),
	}
}

// WithLogger sets logger.
func (m *Middleware) WithLogger(logger *zap.Logger) *Middleware {
	m.logger = logger
	return m
}

func (m *Middleware) observe(ctx context.Context, kind string, f func() error) error {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.metrics.Interactions.Add(ctx, 1, attrs)

	start := time.Now()
	err := f()
	m.metrics.Duration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		m.metrics.Failures.Add(ctx, 1, attrs)
		m.logger.Debug("Interaction failed", zap.String("kind", kind), zap.Error(err))
		return err
	}
	m.metrics.Responses.Add(ctx, 1, attrs)
	return nil
}

// OnCommand implements tgbot.Handler.
func (m *Middleware) OnCommand(ctx context.Context, in dispatch.Interaction, name, args string) error {
	return m.observe(ctx, "command", func() error {
		return m.next.OnCommand(ctx, in, name, args)
	})
}

// OnMenuSelection implements tgbot.Handler.
func (m *Middleware) OnMenuSelection(ctx context.Context, in dispatch.Interaction, token string) error {
	return m.observe(ctx, "menu", func() error {
		return m.next.OnMenuSelection(ctx, in, token)
	})
}

// OnFreeText implements tgbot.Handler.
func (m *Middleware) OnFreeText(ctx context.Context, in dispatch.Interaction, text string) error {
	return m.observe(ctx, "text", func() error {
		return m.next.OnFreeText(ctx, in, text)
	})
}
