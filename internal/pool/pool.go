// Package pool manages live connections of platform accounts.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gotd/fleet/internal/platform"
	"github.com/gotd/fleet/internal/store"
)

// Default per-handle action rate.
const (
	DefaultRate  = rate.Limit(10)
	DefaultBurst = 10
)

// DefaultTimeout bounds single platform operation, including dial.
const DefaultTimeout = 30 * time.Second

type handle struct {
	client  platform.Client
	limiter *rate.Limiter
	since   time.Time
}

// Pool owns at most one live handle per account phone.
type Pool struct {
	dialer platform.Dialer
	store  *store.Store
	log    *zap.Logger
	tracer trace.Tracer
	limit   rate.Limit
	burst   int
	timeout time.Duration

	locks   *phoneLocks
	mux     sync.Mutex
	handles map[string]*handle
}

// New creates new Pool.
func New(
	dialer platform.Dialer,
	st *store.Store,
	log *zap.Logger,
	meterProvider metric.MeterProvider,
	tracerProvider trace.TracerProvider,
) (*Pool, error) {
	meter := meterProvider.Meter("fleet/pool")
	p := &Pool{
		dialer:  dialer,
		store:   st,
		log:     log,
		tracer:  tracerProvider.Tracer("fleet/pool"),
		limit:   DefaultRate,
		burst:   DefaultBurst,
		timeout: DefaultTimeout,
		locks:   newPhoneLocks(),
		handles: map[string]*handle{},
	}

	connected, err := meter.Int64ObservableGauge("fleet.accounts.connected",
		metric.WithDescription("Accounts with live handle"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create observable gauge")
	}
	total, err := meter.Int64ObservableGauge("fleet.accounts.total")
	if err != nil {
		return nil, errors.Wrap(err, "create observable gauge")
	}
	if _, err := meter.RegisterCallback(func(ctx context.Context, observer metric.Observer) error {
		observer.ObserveInt64(connected, int64(p.ConnectedCount()))
		observer.ObserveInt64(total, int64(len(p.store.Accounts())))
		return nil
	}, connected, total); err != nil {
		return nil, errors.Wrap(err, "register callback")
	}

	return p, nil
}

// WithRateLimit sets per-handle action rate limit.
func (p *Pool) WithRateLimit(limit rate.Limit, burst int) *Pool {
	p.limit = limit
	p.burst = burst
	return p
}

// WithTimeout sets bound of single platform operation.
func (p *Pool) WithTimeout(timeout time.Duration) *Pool {
	p.timeout = timeout
	return p
}

// bounded calls f with deadline of p.timeout.
//
// Expired deadline is reported as TransportError unless parent context is
// done itself.
func (p *Pool) bounded(ctx context.Context, f func(ctx context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := f(opCtx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return &platform.TransportError{Detail: "no response in " + p.timeout.String()}
	}
	return err
}

func (p *Pool) handle(phone string) (*handle, bool) {
	p.mux.Lock()
	defer p.mux.Unlock()

	h, ok := p.handles[phone]
	return h, ok
}

// Connected reports whether account has live handle.
func (p *Pool) Connected(phone string) bool {
	_, ok := p.handle(phone)
	return ok
}

// ConnectedCount returns count of live handles.
func (p *Pool) ConnectedCount() int {
	p.mux.Lock()
	defer p.mux.Unlock()

	return len(p.handles)
}

// install replaces handle of phone, tearing down previous one.
//
// Caller must hold phone lock.
func (p *Pool) install(phone string, client platform.Client) {
	p.mux.Lock()
	prev, ok := p.handles[phone]
	delete(p.handles, phone)
	p.mux.Unlock()

	if ok {
		if err := prev.client.Close(); err != nil {
			p.log.Warn("Close previous client", zap.String("phone", phone), zap.Error(err))
		}
	}

	p.mux.Lock()
	p.handles[phone] = &handle{
		client:  client,
		limiter: rate.NewLimiter(p.limit, p.burst),
		since:   time.Now(),
	}
	p.mux.Unlock()
}

// Teardown disconnects account. Does nothing if account is not connected.
func (p *Pool) Teardown(phone string) error {
	unlock := p.locks.lock(phone)
	defer unlock()

	return p.teardown(phone)
}

func (p *Pool) teardown(phone string) error {
	p.mux.Lock()
	h, ok := p.handles[phone]
	delete(p.handles, phone)
	p.mux.Unlock()

	if !ok {
		return nil
	}
	p.log.Info("Disconnecting", zap.String("phone", phone))
	if err := h.client.Close(); err != nil {
		return errors.Wrapf(err, "close %s", phone)
	}
	return nil
}

// Close disconnects all accounts.
func (p *Pool) Close() (rerr error) {
	p.mux.Lock()
	phones := make([]string, 0, len(p.handles))
	for phone := range p.handles {
		phones = append(phones, phone)
	}
	p.mux.Unlock()

	for _, phone := range phones {
		multierr.AppendInto(&rerr, p.Teardown(phone))
	}
	return rerr
}
