package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/gotd/fleet/internal/notify"
	"github.com/gotd/fleet/internal/store"
)

type mockPool struct {
	mux sync.Mutex
	// store receives observed statuses, if set.
	store      *store.Store
	statuses   map[string]store.Status
	checks     int
	provisions []string
	failing    map[string]bool
}

func (m *mockPool) CheckStatus(ctx context.Context, phone string) (store.Status, string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.checks++
	status := m.statuses[phone]
	if m.store != nil {
		if err := m.store.SetStatus(phone, status, "detail"); err != nil {
			return store.StatusError, err.Error()
		}
	}
	return status, "detail"
}

func (m *mockPool) Provision(ctx context.Context, phone string, appID int, appHash, token string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	if m.failing[phone] {
		return errors.New("dial failed")
	}
	m.provisions = append(m.provisions, phone)
	if m.store != nil {
		return m.store.SetStatus(phone, store.StatusActive, "connected")
	}
	return nil
}

func (m *mockPool) checkCount() int {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.checks
}

type mockSink struct {
	mux    sync.Mutex
	events []notify.Event
}

func (m *mockSink) Notify(ctx context.Context, e notify.Event) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *mockSink) all() []notify.Event {
	m.mux.Lock()
	defer m.mux.Unlock()
	return append([]notify.Event(nil), m.events...)
}

func newStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := pebble.Open("fleet", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	st, err := store.New(db)
	require.NoError(t, err)
	return st
}

func TestMonitor_SingleTransition(t *testing.T) {
	ctx := context.Background()
	a := require.New(t)
	st := newStore(t)

	a.NoError(st.AddAccount("+10000000001", 1, "hash", nil))
	a.NoError(st.AddAccount("+10000000002", 1, "hash", nil))
	a.NoError(st.SetStatus("+10000000001", store.StatusActive, "ok"))
	a.NoError(st.SetStatus("+10000000002", store.StatusActive, "ok"))

	pool := &mockPool{store: st, statuses: map[string]store.Status{
		"+10000000001": store.StatusActive,
		"+10000000002": store.StatusBanned,
	}}
	sink := &mockSink{}
	m := New(pool, st, sink).WithLogger(zaptest.NewLogger(t))

	results, err := m.CheckAll(ctx)
	a.NoError(err)
	a.Len(results, 2)

	events := sink.all()
	a.Len(events, 1)
	a.Equal("+10000000002", events[0].Phone)
	a.Equal(store.StatusActive, events[0].Old)
	a.Equal(store.StatusBanned, events[0].New)
	a.Equal(store.StatusBanned, st.Status("+10000000002").Status)

	// Same statuses on next pass produce nothing.
	_, err = m.CheckAll(ctx)
	a.NoError(err)
	a.Len(sink.all(), 1)
}

func TestMonitor_UnknownPrevious(t *testing.T) {
	a := require.New(t)
	st := newStore(t)
	a.NoError(st.AddAccount("+10000000001", 1, "hash", nil))

	pool := &mockPool{statuses: map[string]store.Status{
		"+10000000001": store.StatusDisconnected,
	}}
	sink := &mockSink{}
	m := New(pool, st, sink)

	_, err := m.CheckAll(context.Background())
	a.NoError(err)
	events := sink.all()
	a.Len(events, 1)
	a.Equal(store.StatusUnknown, events[0].Old)
}

func TestMonitor_StatusWrittenByPool(t *testing.T) {
	ctx := context.Background()
	a := require.New(t)
	st := newStore(t)

	token := "c2Vzc2lvbg=="
	a.NoError(st.AddAccount("+10000000001", 1, "hash", &token))
	a.NoError(st.SetStatus("+10000000001", store.StatusActive, "ok"))

	// Pool that does not persist anything.
	pool := &mockPool{statuses: map[string]store.Status{
		"+10000000001": store.StatusBanned,
	}}
	sink := &mockSink{}
	m := New(pool, st, sink)

	results, err := m.CheckAll(ctx)
	a.NoError(err)
	a.Len(results, 1)
	a.True(results[0].Changed)
	a.Len(sink.all(), 1)

	rec := st.Status("+10000000001")
	a.Equal(store.StatusActive, rec.Status)
	a.Equal("ok", rec.Detail)

	a.NoError(st.SetStatus("+10000000001", store.StatusDisconnected, ""))
	a.Len(m.AutoReconnect(ctx), 1)
	a.Equal(store.StatusDisconnected, st.Status("+10000000001").Status)
}

func TestMonitor_Interval(t *testing.T) {
	a := require.New(t)
	st := newStore(t)
	m := New(&mockPool{}, st, &mockSink{})

	a.Equal(DefaultInterval, m.Interval())

	d, err := m.SetInterval(10 * time.Second)
	a.NoError(err)
	a.Equal(MinInterval, d)
	a.Equal(MinInterval, m.Interval())

	d, err = m.SetInterval(10 * time.Minute)
	a.NoError(err)
	a.Equal(10*time.Minute, d)

	// Persisted.
	a.Equal(10*time.Minute, New(&mockPool{}, st, &mockSink{}).Interval())
}

func TestMonitor_StartStop(t *testing.T) {
	a := require.New(t)
	st := newStore(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	a.NoError(st.AddAccount("+10000000001", 1, "hash", nil))

	pool := &mockPool{statuses: map[string]store.Status{
		"+10000000001": store.StatusActive,
	}}
	m := New(pool, st, &mockSink{}).WithLogger(zaptest.NewLogger(t))

	a.False(m.Running())
	m.Start(context.Background())
	m.Start(context.Background())
	a.True(m.Running())

	a.Eventually(func() bool {
		return pool.checkCount() >= 1
	}, 5*time.Second, 10*time.Millisecond)

	start := time.Now()
	m.Stop()
	a.Less(time.Since(start), 5*time.Second, "stop must interrupt sleep")
	a.False(m.Running())
	a.Equal(1, pool.checkCount())

	m.Stop()
}

func TestMonitor_AutoReconnect(t *testing.T) {
	ctx := context.Background()
	a := require.New(t)
	st := newStore(t)

	token := "c2Vzc2lvbg=="
	for _, phone := range []string{"+10000000001", "+10000000002", "+10000000003", "+10000000004"} {
		a.NoError(st.AddAccount(phone, 1, "hash", &token))
	}
	a.NoError(st.AddAccount("+10000000005", 1, "hash", nil))
	a.NoError(st.SetStatus("+10000000001", store.StatusDisconnected, ""))
	a.NoError(st.SetStatus("+10000000002", store.StatusSessionExpired, ""))
	a.NoError(st.SetStatus("+10000000003", store.StatusBanned, ""))
	a.NoError(st.SetStatus("+10000000004", store.StatusDisconnected, ""))
	a.NoError(st.SetStatus("+10000000005", store.StatusDisconnected, ""))

	pool := &mockPool{store: st, failing: map[string]bool{"+10000000004": true}}
	sink := &mockSink{}
	m := New(pool, st, sink)

	results := m.AutoReconnect(ctx)
	a.Len(results, 3)
	a.Equal([]string{"+10000000001", "+10000000002"}, pool.provisions)

	events := sink.all()
	a.Len(events, 2)
	for _, e := range events {
		a.Equal(store.StatusActive, e.New)
	}
	a.Equal(store.StatusSessionExpired, events[1].Old)
	a.Equal(store.StatusActive, st.Status("+10000000002").Status)
	a.Equal(store.StatusDisconnected, st.Status("+10000000004").Status)
}

func TestMonitor_Restore(t *testing.T) {
	a := require.New(t)
	st := newStore(t)

	token := "c2Vzc2lvbg=="
	a.NoError(st.AddAccount("+10000000001", 0, "", &token))
	a.NoError(st.SetAPIID(5))
	a.NoError(st.SetAPIHash("global"))

	pool := &mockPool{}
	sink := &mockSink{}
	results := New(pool, st, sink).Restore(context.Background())
	a.Len(results, 1)
	a.NoError(results[0].Err)
	a.Empty(sink.all())
}
