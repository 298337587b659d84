package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gotd/fleet/internal/conversation"
	"github.com/gotd/fleet/internal/monitor"
	"github.com/gotd/fleet/internal/platform"
	"github.com/gotd/fleet/internal/pool"
	"github.com/gotd/fleet/internal/store"
	"github.com/gotd/fleet/internal/ui"
)

type sent struct {
	To   int64
	Text string
	At   time.Time
}

type mockOut struct {
	mux     sync.Mutex
	sent    []sent
	edits   []string
	answers []string
	alerts  int
}

func (m *mockOut) SendText(ctx context.Context, recipient int64, text string, kb *ui.Keyboard) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.sent = append(m.sent, sent{To: recipient, Text: text, At: time.Now()})
	return nil
}

func (m *mockOut) EditMessage(ctx context.Context, ref MessageRef, text string, kb *ui.Keyboard) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.edits = append(m.edits, text)
	return nil
}

func (m *mockOut) AnswerInteraction(ctx context.Context, queryID int64, text string, alert bool) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.answers = append(m.answers, text)
	if alert {
		m.alerts++
	}
	return nil
}

func (m *mockOut) texts() []sent {
	m.mux.Lock()
	defer m.mux.Unlock()
	return append([]sent(nil), m.sent...)
}

func (m *mockOut) last() string {
	m.mux.Lock()
	defer m.mux.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockOut) contains(substr string) bool {
	for _, s := range m.texts() {
		if strings.Contains(s.Text, substr) {
			return true
		}
	}
	return false
}

func (m *mockOut) lastEdit() string {
	m.mux.Lock()
	defer m.mux.Unlock()
	if len(m.edits) == 0 {
		return ""
	}
	return m.edits[len(m.edits)-1]
}

type mockPool struct {
	mux      sync.Mutex
	failing  map[string]bool
	reported []string
	verify   []pool.VerifyRequest
	verified error
	panics   bool
}

func (m *mockPool) outcome(phone string) pool.Outcome {
	if m.failing[phone] {
		return pool.Outcome{Message: "Error: failed"}
	}
	return pool.Outcome{OK: true, Message: "done"}
}

func (m *mockPool) RequestCode(ctx context.Context, phone string, appID int, appHash string) (pool.Challenge, error) {
	return pool.Challenge{Phone: phone, Hash: "hash"}, nil
}

func (m *mockPool) VerifyCode(ctx context.Context, req pool.VerifyRequest) (pool.VerifyResult, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.verify = append(m.verify, req)
	if m.verified != nil {
		return pool.VerifyResult{}, m.verified
	}
	return pool.VerifyResult{Connected: true}, nil
}

func (m *mockPool) Teardown(phone string) error { return nil }

func (m *mockPool) ReportEntity(ctx context.Context, phone, target string) pool.Outcome {
	if m.panics {
		panic("boom")
	}
	return m.outcome(phone)
}

func (m *mockPool) ReportPosts(ctx context.Context, phone string, links []string) pool.Outcome {
	m.mux.Lock()
	defer m.mux.Unlock()
	for _, l := range links {
		m.reported = append(m.reported, phone+" "+l)
	}
	return m.outcome(phone)
}

func (m *mockPool) JoinChat(ctx context.Context, phone, target string) pool.Outcome {
	return m.outcome(phone)
}

func (m *mockPool) LeaveChat(ctx context.Context, phone, target string) pool.Outcome {
	return m.outcome(phone)
}

func (m *mockPool) SendDirectMessage(ctx context.Context, phone string, userID int64, text string) pool.Outcome {
	return m.outcome(phone)
}

func (m *mockPool) ApplyReaction(ctx context.Context, phone, link, emoji string) pool.Outcome {
	return m.outcome(phone)
}

type mockMonitor struct {
	running  bool
	interval time.Duration
	panics   bool
}

func (m *mockMonitor) Start(ctx context.Context) { m.running = true }
func (m *mockMonitor) Stop()                     { m.running = false }
func (m *mockMonitor) Running() bool             { return m.running }
func (m *mockMonitor) Interval() time.Duration   { return m.interval }

func (m *mockMonitor) SetInterval(d time.Duration) (time.Duration, error) {
	if d < monitor.MinInterval {
		d = monitor.MinInterval
	}
	m.interval = d
	return d, nil
}

func (m *mockMonitor) CheckAll(ctx context.Context) ([]monitor.Result, error) {
	if m.panics {
		panic("boom")
	}
	return []monitor.Result{{Phone: "+10000000001", Status: store.StatusActive, Detail: "OK"}}, nil
}

func (m *mockMonitor) AutoReconnect(ctx context.Context) []monitor.ReconnectResult {
	return nil
}

const admin = int64(100)

type env struct {
	d     *Dispatcher
	store *store.Store
	out   *mockOut
	pool  *mockPool
	mon   *mockMonitor
	conv  *conversation.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db, err := pebble.Open("fleet", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	st, err := store.New(db)
	require.NoError(t, err)
	require.NoError(t, st.AddAdmin(admin, 0))

	e := &env{
		store: st,
		out:   &mockOut{},
		pool:  &mockPool{failing: map[string]bool{}},
		mon:   &mockMonitor{interval: monitor.DefaultInterval},
		conv:  conversation.NewStore(time.Minute),
	}
	e.d = New(st, e.pool, e.mon, e.out, e.conv).WithLogger(zaptest.NewLogger(t))
	t.Cleanup(e.d.Tasks().Shutdown)
	return e
}

func (e *env) menu(t *testing.T, user int64, token string) {
	t.Helper()
	require.NoError(t, e.d.OnMenuSelection(context.Background(), Interaction{
		UserID:  user,
		Message: MessageRef{PeerID: user, MsgID: 1},
		QueryID: 1,
	}, token))
}

func (e *env) text(t *testing.T, user int64, text string) {
	t.Helper()
	require.NoError(t, e.d.OnFreeText(context.Background(), Interaction{UserID: user}, text))
}

func TestDispatcher_Unauthorized(t *testing.T) {
	a := require.New(t)
	e := newEnv(t)
	ctx := context.Background()
	in := Interaction{UserID: 7, Username: "stranger"}

	a.NoError(e.d.OnCommand(ctx, in, "start", ""))
	a.Equal(ui.AccessDenied, e.out.last())
	u, ok := e.store.User(7)
	a.True(ok)
	a.Equal("stranger", u.Username)

	e.menu(t, 7, ui.TokenAddAdmin)
	a.Equal(1, e.out.alerts)
	_, ok = e.conv.Get(7)
	a.False(ok)

	e.text(t, 7, "42")
	a.Len(e.out.texts(), 1)
	a.False(e.store.IsAdmin(42))
}

func TestDispatcher_Start(t *testing.T) {
	a := require.New(t)
	e := newEnv(t)

	a.NoError(e.d.OnCommand(context.Background(), Interaction{UserID: admin}, "start", ""))
	a.Equal(ui.Welcome, e.out.last())

	// Text without conversation is ignored.
	e.text(t, admin, "hello")
	a.Len(e.out.texts(), 1)
}

func TestDispatcher_AddAdmin(t *testing.T) {
	a := require.New(t)
	e := newEnv(t)

	e.menu(t, admin, ui.TokenAddAdmin)
	st, ok := e.conv.Get(admin)
	a.True(ok)
	a.Equal(AddAdmin, st.Workflow)
	a.Contains(e.out.lastEdit(), "<user_id> [days]")

	e.text(t, admin, "42 3")
	a.True(e.store.IsAdmin(42))
	a.Contains(e.out.last(), "for 3 days")
	_, ok = e.conv.Get(admin)
	a.False(ok)
}

func TestDispatcher_TerminalStepClears(t *testing.T) {
	a := require.New(t)
	e := newEnv(t)

	e.menu(t, admin, ui.TokenSetAPIID)
	e.text(t, admin, "not-a-number")
	a.Contains(e.out.last(), "Start again from the menu")
	_, ok := e.conv.Get(admin)
	a.False(ok)

	// Next text is not routed anywhere.
	e.text(t, admin, "12345")
	id, _ := e.store.Credentials()
	a.Zero(id)
}

func TestDispatcher_SendMessage(t *testing.T) {
	a := require.New(t)
	e := newEnv(t)
	a.NoError(e.store.AddAccount("+10000000001", 1, "hash", nil))
	a.NoError(e.store.AddAccount("+10000000002", 1, "hash", nil))
	e.pool.failing["+10000000002"] = true

	e.menu(t, admin, ui.TokenSendMessage)

	// Malformed number re-prompts without advancing.
	e.text(t, admin, "abc")
	st, ok := e.conv.Get(admin)
	a.True(ok)
	a.Equal(awaitUserID, st.Step)

	e.text(t, admin, "555")
	st, _ = e.conv.Get(admin)
	a.Equal(awaitMessageBody, st.Step)
	a.Equal("555", st.Field(fieldUserID))

	e.text(t, admin, "hello there")
	out := e.out.last()
	a.Contains(out, "✅ +10000000001: done")
	a.Contains(out, "❌ +10000000002: Error: failed")

	reports := e.store.Reports(admin)
	a.Len(reports, 1)
	a.Equal(string(SendMessage), reports[0].Kind)
	a.Equal(store.ReportCompleted, reports[0].Status)
}

func TestDispatcher_BatchWithoutAccounts(t *testing.T) {
	a := require.New(t)
	e := newEnv(t)

	e.menu(t, admin, ui.TokenJoinChat)
	e.text(t, admin, "@chat")
	a.Equal(ui.NoAccounts, e.out.last())
	a.Empty(e.store.Reports(0))
}

func TestDispatcher_PanicRecovered(t *testing.T) {
	a := require.New(t)
	e := newEnv(t)
	a.NoError(e.store.AddAccount("+10000000001", 1, "hash", nil))
	e.pool.panics = true

	e.menu(t, admin, ui.TokenReportChannel)
	e.text(t, admin, "@channel")
	a.Contains(e.out.last(), "❌ +10000000001: Error: panic: boom")

	e.mon.panics = true
	e.menu(t, admin, ui.TokenCheckAccounts)
	a.Equal(ui.Failure, e.out.last())
}

func TestDispatcher_AddAccount(t *testing.T) {
	a := require.New(t)
	e := newEnv(t)

	e.menu(t, admin, ui.TokenAddAccount)
	e.text(t, admin, "+1 000 000 0001")
	a.Contains(e.out.last(), "Set API ID")
	_, ok := e.store.Account("+10000000001")
	a.False(ok)

	a.NoError(e.store.SetAPIID(1))
	a.NoError(e.store.SetAPIHash("hash"))
	e.menu(t, admin, ui.TokenAddAccount)
	e.text(t, admin, "+1 000 000 0001")
	acc, ok := e.store.Account("+10000000001")
	a.True(ok)
	a.Equal(store.StatusUnknown, acc.Status)
	a.Contains(e.out.last(), "Get code")
}

func TestDispatcher_VerifyCode(t *testing.T) {
	a := require.New(t)
	e := newEnv(t)
	a.NoError(e.store.SetAPIID(5))
	a.NoError(e.store.SetAPIHash("global"))

	e.menu(t, admin, ui.TokenVerifyCode)
	e.text(t, admin, "+10000000001 12345")
	a.Len(e.pool.verify, 1)
	a.Equal(pool.VerifyRequest{
		Phone:   "+10000000001",
		Code:    "12345",
		AppID:   5,
		AppHash: "global",
	}, e.pool.verify[0])
	a.Contains(e.out.last(), "authorized and connected")

	e.pool.verified = &platform.AuthError{Kind: platform.InvalidCode}
	e.menu(t, admin, ui.TokenVerifyCode)
	e.text(t, admin, "+10000000001 00000")
	a.Contains(e.out.last(), "invalid verification code")
}

func TestDispatcher_MonitorMenu(t *testing.T) {
	a := require.New(t)
	e := newEnv(t)

	e.menu(t, admin, ui.TokenMonitorStart)
	a.True(e.mon.running)
	a.Contains(e.out.lastEdit(), "Monitoring started")

	e.menu(t, admin, ui.TokenMonitorInterval)
	e.text(t, admin, "10")
	a.Equal(monitor.MinInterval, e.mon.interval)
	a.Contains(e.out.last(), "1m0s")

	e.menu(t, admin, ui.TokenMonitorStop)
	a.False(e.mon.running)
}

func TestDispatcher_CheckAccounts(t *testing.T) {
	a := require.New(t)
	e := newEnv(t)
	a.NoError(e.store.AddAccount("+10000000001", 1, "hash", nil))

	e.menu(t, admin, ui.TokenAccountStatus)
	a.Contains(e.out.lastEdit(), "✅ +10000000001: OK")
}

func TestDispatcher_RemoveAccount(t *testing.T) {
	a := require.New(t)
	e := newEnv(t)
	a.NoError(e.store.AddAccount("+10000000001", 1, "hash", nil))

	e.menu(t, admin, ui.TokenRemoveAccount)
	a.Contains(e.out.lastEdit(), "Select account")

	e.menu(t, admin, ui.PrefixRemoveAccount+"+10000000001")
	_, ok := e.store.Account("+10000000001")
	a.False(ok)
	a.Contains(e.out.lastEdit(), "removed")
}

func TestDispatcher_ViewPhones(t *testing.T) {
	a := require.New(t)
	e := newEnv(t)
	a.NoError(e.store.AddAccount("+10000000001", 1, "hash", nil))
	a.NoError(e.store.AddAccount("+10000000002", 1, "hash", nil))

	e.menu(t, admin, ui.TokenViewPhones)
	out := e.out.lastEdit()
	a.True(strings.Contains(out, "+10000000001\n+10000000002\n"), out)
	a.Contains(out, "Total: 2")
}

func TestDispatcher_Batch(t *testing.T) {
	for _, tt := range []struct {
		Token  string
		Kind   conversation.Workflow
		Input  string
		Target string
	}{
		{Token: ui.TokenReportChannel, Kind: ReportChannel, Input: "@channel", Target: "@channel"},
		{Token: ui.TokenJoinChat, Kind: JoinChat, Input: "https://t.me/+invite", Target: "https://t.me/+invite"},
		{Token: ui.TokenLeaveChat, Kind: LeaveChat, Input: "@chat", Target: "@chat"},
		{Token: ui.TokenNegativeReaction, Kind: NegativeReaction, Input: "https://t.me/channel/10", Target: "https://t.me/channel/10"},
		{
			Token:  ui.TokenReportPost,
			Kind:   ReportPosts,
			Input:  "https://t.me/channel/1\n\n  https://t.me/channel/2 \n",
			Target: "https://t.me/channel/1\nhttps://t.me/channel/2",
		},
	} {
		t.Run(string(tt.Kind), func(t *testing.T) {
			a := require.New(t)
			e := newEnv(t)
			a.NoError(e.store.AddAccount("+10000000001", 1, "hash", nil))
			a.NoError(e.store.AddAccount("+10000000002", 1, "hash", nil))
			e.pool.failing["+10000000002"] = true

			e.menu(t, admin, tt.Token)
			st, ok := e.conv.Get(admin)
			a.True(ok)
			a.Equal(tt.Kind, st.Workflow)

			e.text(t, admin, tt.Input)
			_, ok = e.conv.Get(admin)
			a.False(ok)

			out := e.out.last()
			a.Contains(out, "✅ +10000000001: done")
			a.Contains(out, "❌ +10000000002: Error: failed")

			reports := e.store.Reports(admin)
			a.Len(reports, 1)
			a.Equal(string(tt.Kind), reports[0].Kind)
			a.Equal(tt.Target, reports[0].Target)
			a.Equal(store.ReportCompleted, reports[0].Status)
		})
	}
}

func TestDispatcher_BatchFailed(t *testing.T) {
	a := require.New(t)
	e := newEnv(t)
	a.NoError(e.store.AddAccount("+10000000001", 1, "hash", nil))
	e.pool.failing["+10000000001"] = true

	e.menu(t, admin, ui.TokenLeaveChat)
	e.text(t, admin, "@chat")

	reports := e.store.Reports(admin)
	a.Len(reports, 1)
	a.Equal(store.ReportFailed, reports[0].Status)
}

func TestDispatcher_InvalidReactionLink(t *testing.T) {
	a := require.New(t)
	e := newEnv(t)
	a.NoError(e.store.AddAccount("+10000000001", 1, "hash", nil))

	e.menu(t, admin, ui.TokenNegativeReaction)
	e.text(t, admin, "not a link")
	a.Contains(e.out.last(), "Invalid link")
	a.Empty(e.store.Reports(admin))
}

func TestDispatcher_Settings(t *testing.T) {
	a := require.New(t)
	e := newEnv(t)

	e.menu(t, admin, ui.TokenSetAPIID)
	e.text(t, admin, "-1")
	a.Contains(e.out.last(), "positive number")
	_, ok := e.conv.Get(admin)
	a.False(ok)

	e.menu(t, admin, ui.TokenSetAPIID)
	e.text(t, admin, "17349")
	e.menu(t, admin, ui.TokenSetAPIHash)
	e.text(t, admin, "344583e45741c457fe1862106095a5eb")

	id, hash := e.store.Credentials()
	a.Equal(17349, id)
	a.Equal("344583e45741c457fe1862106095a5eb", hash)

	e.menu(t, admin, ui.TokenSettingsMenu)
	a.Contains(e.out.lastEdit(), "17349")
}

func TestDispatcher_Cancel(t *testing.T) {
	a := require.New(t)
	e := newEnv(t)

	e.menu(t, admin, ui.TokenReportPostSeq)
	_, ok := e.conv.Get(admin)
	a.True(ok)

	a.NoError(e.d.OnCommand(context.Background(), Interaction{UserID: admin}, "cancel", ""))
	_, ok = e.conv.Get(admin)
	a.False(ok)

	// Free text without conversation is ignored.
	n := len(e.out.texts())
	e.text(t, admin, "hello")
	a.Len(e.out.texts(), n)
}
