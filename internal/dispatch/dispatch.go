// Package dispatch routes admin interactions to account operations.
package dispatch

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/gotd/fleet/internal/conversation"
	"github.com/gotd/fleet/internal/monitor"
	"github.com/gotd/fleet/internal/pool"
	"github.com/gotd/fleet/internal/store"
	"github.com/gotd/fleet/internal/ui"
)

// MessageRef identifies bot message in chat.
type MessageRef struct {
	PeerID int64
	MsgID  int
}

// Interaction is a single inbound event from user.
type Interaction struct {
	UserID    int64
	Username  string
	FirstName string
	// Message is a message with keyboard, set for menu selections.
	Message MessageRef
	// QueryID is a callback query id, set for menu selections.
	QueryID int64
}

// Outbound sends messages to users.
type Outbound interface {
	SendText(ctx context.Context, recipient int64, text string, kb *ui.Keyboard) error
	EditMessage(ctx context.Context, ref MessageRef, text string, kb *ui.Keyboard) error
	AnswerInteraction(ctx context.Context, queryID int64, text string, alert bool) error
}

// Pool is a set of account clients.
type Pool interface {
	RequestCode(ctx context.Context, phone string, appID int, appHash string) (pool.Challenge, error)
	VerifyCode(ctx context.Context, req pool.VerifyRequest) (pool.VerifyResult, error)
	Teardown(phone string) error

	ReportEntity(ctx context.Context, phone, target string) pool.Outcome
	ReportPosts(ctx context.Context, phone string, links []string) pool.Outcome
	JoinChat(ctx context.Context, phone, target string) pool.Outcome
	LeaveChat(ctx context.Context, phone, target string) pool.Outcome
	SendDirectMessage(ctx context.Context, phone string, userID int64, text string) pool.Outcome
	ApplyReaction(ctx context.Context, phone, link, emoji string) pool.Outcome
}

// Monitor is an account health monitor.
type Monitor interface {
	Start(ctx context.Context)
	Stop()
	Running() bool
	Interval() time.Duration
	SetInterval(d time.Duration) (time.Duration, error)
	CheckAll(ctx context.Context) ([]monitor.Result, error)
	AutoReconnect(ctx context.Context) []monitor.ReconnectResult
}

// Dispatcher drives menus and multi-step workflows of admins.
type Dispatcher struct {
	store   *store.Store
	pool    Pool
	monitor Monitor
	out     Outbound
	conv    *conversation.Store
	tasks   *Tasks
	log     *zap.Logger

	// parallel is a limit of concurrent account operations in batch.
	parallel  int
	workflows map[conversation.Workflow]workflow
	menus     map[string]menuFunc
	starts    map[string]conversation.Workflow
}

// DefaultParallel is default limit of concurrent account operations.
const DefaultParallel = 8

// New creates new Dispatcher.
func New(st *store.Store, p Pool, m Monitor, out Outbound, conv *conversation.Store) *Dispatcher {
	d := &Dispatcher{
		store:    st,
		pool:     p,
		monitor:  m,
		out:      out,
		conv:     conv,
		tasks:    NewTasks(),
		log:      zap.NewNop(),
		parallel: DefaultParallel,
	}
	d.workflows = d.workflowTable()
	d.menus = d.menuTable()
	d.starts = startTable()
	return d
}

// WithLogger sets logger.
func (d *Dispatcher) WithLogger(log *zap.Logger) *Dispatcher {
	d.log = log
	return d
}

// WithParallel sets limit of concurrent account operations in batch.
func (d *Dispatcher) WithParallel(n int) *Dispatcher {
	if n > 0 {
		d.parallel = n
	}
	return d
}

// Tasks returns background tasks of dispatcher.
func (d *Dispatcher) Tasks() *Tasks {
	return d.tasks
}

func (d *Dispatcher) context(ctx context.Context, in Interaction) context.Context {
	return zctx.Base(ctx, d.log.With(zap.Int64("user_id", in.UserID)))
}

// guard recovers handler panic or error and replies with generic failure.
//
// Only failure to deliver the notice is returned.
func (d *Dispatcher) guard(ctx context.Context, in Interaction, op string, rerr *error) {
	r := recover()
	if r == nil && *rerr == nil {
		return
	}
	lg := zctx.From(ctx)
	if r != nil {
		lg.Error("Panic", zap.String("op", op), zap.Any("recover", r))
	} else {
		lg.Error("Handler failed", zap.String("op", op), zap.Error(*rerr))
	}
	*rerr = nil
	if err := d.out.SendText(ctx, in.UserID, ui.Failure, ui.BackMenu()); err != nil {
		*rerr = errors.Wrap(err, "send failure notice")
	}
}

func (d *Dispatcher) touch(ctx context.Context, in Interaction) {
	if err := d.store.TouchUser(in.UserID); err != nil {
		zctx.From(ctx).Warn("Touch user", zap.Error(err))
	}
}

// OnCommand handles slash command.
func (d *Dispatcher) OnCommand(ctx context.Context, in Interaction, name, args string) (rerr error) {
	ctx = d.context(ctx, in)
	defer d.guard(ctx, in, "command", &rerr)

	switch name {
	case "start":
		if err := d.store.UpsertUser(in.UserID, in.Username, in.FirstName); err != nil {
			zctx.From(ctx).Warn("Upsert user", zap.Error(err))
		}
		if !d.store.IsAdmin(in.UserID) {
			return d.reply(ctx, in, ui.AccessDenied, nil)
		}
		d.conv.Clear(in.UserID)
		return d.reply(ctx, in, ui.Welcome, ui.MainMenu())
	case "cancel":
		if !d.store.IsAdmin(in.UserID) {
			return nil
		}
		d.touch(ctx, in)
		return d.cancel(ctx, in, false)
	default:
		zctx.From(ctx).Debug("Unknown command", zap.String("name", name))
		return nil
	}
}

// OnMenuSelection handles keyboard button press.
func (d *Dispatcher) OnMenuSelection(ctx context.Context, in Interaction, token string) (rerr error) {
	ctx = d.context(ctx, in)
	defer d.guard(ctx, in, "menu", &rerr)

	if !d.store.IsAdmin(in.UserID) {
		return d.out.AnswerInteraction(ctx, in.QueryID, ui.AccessDenied, true)
	}
	d.touch(ctx, in)

	// Answer early, some menu actions take a while.
	if err := d.out.AnswerInteraction(ctx, in.QueryID, "", false); err != nil {
		zctx.From(ctx).Debug("Answer callback", zap.Error(err))
	}

	zctx.From(ctx).Debug("Menu selection", zap.String("token", token))
	switch {
	case strings.HasPrefix(token, ui.PrefixRemoveAccount):
		return d.removeAccount(ctx, in, strings.TrimPrefix(token, ui.PrefixRemoveAccount))
	case strings.HasPrefix(token, ui.PrefixGetCode):
		d.conv.Clear(in.UserID)
		return d.requestCode(ctx, in, strings.TrimPrefix(token, ui.PrefixGetCode))
	}
	if f, ok := d.menus[token]; ok {
		return f(ctx, in)
	}
	if w, ok := d.starts[token]; ok {
		return d.begin(ctx, in, w, d.workflows[w].prompt)
	}

	zctx.From(ctx).Warn("Unknown menu token", zap.String("token", token))
	return nil
}

// OnFreeText handles plain text message, routing it by conversation state.
func (d *Dispatcher) OnFreeText(ctx context.Context, in Interaction, text string) (rerr error) {
	ctx = d.context(ctx, in)
	defer d.guard(ctx, in, "text", &rerr)

	if !d.store.IsAdmin(in.UserID) {
		return nil
	}
	st, ok := d.conv.Get(in.UserID)
	if !ok {
		return nil
	}
	d.touch(ctx, in)

	w, ok := d.workflows[st.Workflow]
	if !ok {
		d.conv.Clear(in.UserID)
		return errors.Errorf("unknown workflow %q", st.Workflow)
	}
	s, ok := w.steps[st.Step]
	if !ok {
		d.conv.Clear(in.UserID)
		return errors.Errorf("unknown step %q of %q", st.Step, st.Workflow)
	}

	zctx.From(ctx).Debug("Workflow step",
		zap.String("workflow", string(st.Workflow)),
		zap.String("step", string(st.Step)),
	)
	if s.terminal {
		d.conv.Clear(in.UserID)
	}
	return s.handle(ctx, in, st, strings.TrimSpace(text))
}

// begin starts workflow and sends its prompt.
func (d *Dispatcher) begin(ctx context.Context, in Interaction, w conversation.Workflow, prompt string) error {
	d.conv.Start(in.UserID, w, d.workflows[w].first)
	return d.show(ctx, in, prompt, ui.CancelMenu())
}

func (d *Dispatcher) cancel(ctx context.Context, in Interaction, edit bool) error {
	d.conv.Clear(in.UserID)
	text := ui.Canceled
	if n := d.tasks.Cancel(in.UserID); n > 0 {
		text += "\n⏹ Stopped background reports: " + strconv.Itoa(n)
	}
	if edit {
		return d.show(ctx, in, text, ui.MainMenu())
	}
	return d.reply(ctx, in, text, ui.MainMenu())
}

// reply sends new message to user.
func (d *Dispatcher) reply(ctx context.Context, in Interaction, text string, kb *ui.Keyboard) error {
	return d.out.SendText(ctx, in.UserID, text, kb)
}

// show replaces message with keyboard, falling back to new message.
func (d *Dispatcher) show(ctx context.Context, in Interaction, text string, kb *ui.Keyboard) error {
	if in.Message.MsgID == 0 {
		return d.reply(ctx, in, text, kb)
	}
	if err := d.out.EditMessage(ctx, in.Message, text, kb); err != nil {
		zctx.From(ctx).Debug("Edit message", zap.Error(err))
		return d.reply(ctx, in, text, kb)
	}
	return nil
}
