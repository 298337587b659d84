// Package monitor implements periodic health checks of accounts.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/gotd/fleet/internal/notify"
	"github.com/gotd/fleet/internal/store"
)

// Check intervals.
const (
	MinInterval     = time.Minute
	DefaultInterval = 5 * time.Minute
	// RetryDelay is a pause after failed iteration.
	RetryDelay = time.Minute
)

// Pool is a set of live account handles.
//
// Both methods persist observed status themselves.
type Pool interface {
	CheckStatus(ctx context.Context, phone string) (store.Status, string)
	Provision(ctx context.Context, phone string, appID int, appHash, token string) error
}

// Sink receives status transitions.
type Sink interface {
	Notify(ctx context.Context, e notify.Event) error
}

// Result of single account check.
type Result struct {
	Phone   string
	Status  store.Status
	Detail  string
	Changed bool
}

// Monitor periodically checks all accounts and reports status changes.
type Monitor struct {
	pool  Pool
	store *store.Store
	sink  Sink
	log   *zap.Logger
	now   func() time.Time
	retry time.Duration

	interval atomic.Duration
	running  atomic.Bool

	mux    sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates new Monitor with interval loaded from store.
func New(pool Pool, st *store.Store, sink Sink) *Monitor {
	m := &Monitor{
		pool:  pool,
		store: st,
		sink:  sink,
		log:   zap.NewNop(),
		now:   time.Now,
		retry: RetryDelay,
	}
	m.interval.Store(clamp(st.CheckInterval()))
	return m
}

// WithLogger sets logger.
func (m *Monitor) WithLogger(log *zap.Logger) *Monitor {
	m.log = log
	return m
}

func clamp(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	return d
}

// Interval returns current check interval.
func (m *Monitor) Interval() time.Duration {
	return m.interval.Load()
}

// SetInterval sets check interval, raising it to MinInterval if lower.
//
// New interval is applied after current sleep.
func (m *Monitor) SetInterval(d time.Duration) (time.Duration, error) {
	d = clamp(d)
	if err := m.store.SetCheckInterval(d); err != nil {
		return 0, errors.Wrap(err, "save interval")
	}
	m.interval.Store(d)
	return d, nil
}

// Running reports whether monitoring loop is running.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

// Start starts monitoring loop. Does nothing if already running.
func (m *Monitor) Start(ctx context.Context) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running.Store(true)

	go m.run(ctx, m.done)
	m.log.Info("Monitoring started", zap.Duration("interval", m.Interval()))
}

// Stop stops monitoring loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
	m.running.Store(false)
	m.log.Info("Monitoring stopped")
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		delay := m.Interval()
		if _, err := m.iteration(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Error("Monitoring iteration failed", zap.Error(err))
			delay = m.retry
		}
		timer.Reset(delay)
	}
}

func (m *Monitor) iteration(ctx context.Context) (_ []Result, rerr error) {
	defer func() {
		if r := recover(); r != nil {
			rerr = errors.Errorf("panic: %v", r)
		}
	}()
	return m.CheckAll(ctx)
}

// CheckAll checks every account once, persisting and reporting status
// transitions.
func (m *Monitor) CheckAll(ctx context.Context) ([]Result, error) {
	accounts := m.store.Accounts()
	results := make([]Result, 0, len(accounts))
	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, m.check(ctx, acc.Phone))
	}
	return results, nil
}

func (m *Monitor) check(ctx context.Context, phone string) Result {
	prev := m.store.Status(phone).Status
	status, detail := m.pool.CheckStatus(ctx, phone)
	res := Result{
		Phone:  phone,
		Status: status,
		Detail: detail,
	}
	if status == prev {
		return res
	}
	res.Changed = true

	m.log.Info("Status changed",
		zap.String("phone", phone),
		zap.String("old", string(prev)),
		zap.String("new", string(status)),
	)
	m.emit(ctx, notify.Event{
		Phone:  phone,
		Old:    prev,
		New:    status,
		Detail: detail,
		At:     m.now(),
	})
	return res
}

func (m *Monitor) emit(ctx context.Context, e notify.Event) {
	if err := m.sink.Notify(ctx, e); err != nil {
		m.log.Warn("Notify status change", zap.String("phone", e.Phone), zap.Error(err))
	}
}

// ReconnectResult is outcome of reconnecting single account.
type ReconnectResult struct {
	Phone string
	Err   error
}

func (r ReconnectResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s", r.Phone, r.Err)
	}
	return r.Phone + ": reconnected"
}

// AutoReconnect provisions disconnected or expired accounts that have a
// stored session, reporting successful reconnects as transitions to active.
func (m *Monitor) AutoReconnect(ctx context.Context) []ReconnectResult {
	return m.reconnect(ctx, true, func(s store.Status) bool {
		return s == store.StatusDisconnected || s == store.StatusSessionExpired
	})
}

// Restore provisions every account that has a stored session without
// reporting transitions. Used on startup.
func (m *Monitor) Restore(ctx context.Context) []ReconnectResult {
	return m.reconnect(ctx, false, func(store.Status) bool { return true })
}

func (m *Monitor) reconnect(ctx context.Context, report bool, match func(s store.Status) bool) []ReconnectResult {
	apiID, apiHash := m.store.Credentials()

	var out []ReconnectResult
	for _, acc := range m.store.Accounts() {
		if ctx.Err() != nil {
			break
		}
		prev := m.store.Status(acc.Phone).Status
		if !match(prev) {
			continue
		}
		token := sessionToken(m.store, acc)
		if token == "" {
			continue
		}

		id, hash := acc.APIID, acc.APIHash
		if id == 0 || hash == "" {
			id, hash = apiID, apiHash
		}
		lg := m.log.With(zap.String("phone", acc.Phone))
		if err := m.pool.Provision(ctx, acc.Phone, id, hash, token); err != nil {
			lg.Warn("Reconnect failed", zap.Error(err))
			out = append(out, ReconnectResult{Phone: acc.Phone, Err: err})
			continue
		}
		lg.Info("Reconnected")
		out = append(out, ReconnectResult{Phone: acc.Phone})

		if !report || prev == store.StatusActive {
			continue
		}
		m.emit(ctx, notify.Event{
			Phone:  acc.Phone,
			Old:    prev,
			New:    store.StatusActive,
			Detail: "Reconnected",
			At:     m.now(),
		})
	}
	return out
}

func sessionToken(st *store.Store, acc store.Account) string {
	if s, ok := st.Session(acc.Phone); ok && s.Token != "" {
		return s.Token
	}
	if acc.SessionToken != nil {
		return *acc.SessionToken
	}
	return ""
}
