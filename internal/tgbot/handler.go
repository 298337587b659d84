package tgbot

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"github.com/gotd/fleet/internal/dispatch"
)

// Handler handles admin interactions.
type Handler interface {
	OnCommand(ctx context.Context, in dispatch.Interaction, name, args string) error
	OnMenuSelection(ctx context.Context, in dispatch.Interaction, token string) error
	OnFreeText(ctx context.Context, in dispatch.Interaction, text string) error
}

// Router routes bot updates to Handler.
//
// Handler is called outside of update loop: interactions of single user are
// handled in order, interactions of different users concurrently.
type Router struct {
	handler Handler
	peers   Peers
	queue   *queue
	log     *zap.Logger
}

// NewRouter creates new Router.
func NewRouter(h Handler, peers Peers) *Router {
	return &Router{
		handler: h,
		peers:   peers,
		queue:   newQueue(),
		log:     zap.NewNop(),
	}
}

// WithLogger sets logger.
func (r *Router) WithLogger(log *zap.Logger) *Router {
	r.log = log
	return r
}

// Wait blocks until all accepted interactions are handled.
func (r *Router) Wait() {
	r.queue.Wait()
}

// Register sets handlers using given dispatcher.
func (r *Router) Register(d tg.UpdateDispatcher) *Router {
	d.OnNewMessage(r.OnNewMessage)
	d.OnBotCallbackQuery(r.OnBotCallbackQuery)
	return r
}

func (r *Router) remember(ctx context.Context, user *tg.User) {
	if user.AccessHash == 0 {
		return
	}
	if err := r.peers.SavePeer(ctx, user.ID, user.AccessHash); err != nil {
		r.log.Warn("Save peer", zap.Int64("user_id", user.ID), zap.Error(err))
	}
}

func interaction(user *tg.User) dispatch.Interaction {
	return dispatch.Interaction{
		UserID:    user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
	}
}

// parseCommand splits "/name@bot args" to name and args.
func parseCommand(text string) (name, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	name, args, _ = strings.Cut(strings.TrimPrefix(text, "/"), " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name), strings.TrimSpace(args), name != ""
}

// serve schedules f in queue of user.
//
// Context of f keeps values of ctx, but not its cancellation: update
// context ends with the update loop iteration.
func (r *Router) serve(ctx context.Context, userID int64, kind string, f func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	r.queue.Push(userID, func() {
		lg := r.log.With(zap.Int64("user_id", userID), zap.String("kind", kind))
		defer func() {
			if rec := recover(); rec != nil {
				lg.Error("Panic", zap.Any("recover", rec))
			}
		}()

		switch err := f(ctx); {
		case err == nil:
		case blocked(err):
			lg.Debug("Bot is blocked by user")
		default:
			lg.Error("Handle interaction", zap.Error(err))
		}
	})
}

func (r *Router) handleUser(ctx context.Context, user *tg.User, m *tg.Message) {
	r.log.Debug("Got message",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username),
		zap.Int("msg_id", m.ID),
	)
	r.remember(ctx, user)

	in := interaction(user)
	if name, args, ok := parseCommand(m.Message); ok {
		r.serve(ctx, user.ID, "command", func(ctx context.Context) error {
			return r.handler.OnCommand(ctx, in, name, args)
		})
		return
	}
	text := m.Message
	r.serve(ctx, user.ID, "text", func(ctx context.Context) error {
		return r.handler.OnFreeText(ctx, in, text)
	})
}

func (r *Router) handleMessage(ctx context.Context, e tg.Entities, msg tg.MessageClass) error {
	m, ok := msg.(*tg.Message)
	if !ok || m.Out {
		return nil
	}
	// Admin bot works in private chats only.
	p, ok := m.PeerID.(*tg.PeerUser)
	if !ok {
		return nil
	}
	user, ok := e.Users[p.UserID]
	if !ok {
		return errors.Errorf("unknown user ID %d", p.UserID)
	}
	if user.Bot {
		return nil
	}
	r.handleUser(ctx, user, m)
	return nil
}

func blocked(err error) bool {
	return tgerr.Is(err, "USER_IS_BLOCKED")
}

func (r *Router) OnNewMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	if err := r.handleMessage(ctx, e, u.Message); err != nil {
		return errors.Wrapf(err, "handle message %d", u.Message.GetID())
	}
	return nil
}

func (r *Router) OnBotCallbackQuery(ctx context.Context, e tg.Entities, u *tg.UpdateBotCallbackQuery) error {
	in := dispatch.Interaction{
		UserID:  u.UserID,
		QueryID: u.QueryID,
		Message: dispatch.MessageRef{PeerID: u.UserID, MsgID: u.MsgID},
	}
	if user, ok := e.Users[u.UserID]; ok {
		r.remember(ctx, user)
		in.Username = user.Username
		in.FirstName = user.FirstName
	}
	if _, ok := u.Peer.(*tg.PeerUser); !ok {
		in.Message = dispatch.MessageRef{}
	}

	r.log.Debug("Got callback",
		zap.Int64("user_id", u.UserID),
		zap.ByteString("data", u.Data),
	)
	token := string(u.Data)
	r.serve(ctx, u.UserID, "menu", func(ctx context.Context) error {
		return r.handler.OnMenuSelection(ctx, in, token)
	})
	return nil
}

type loggedHandler struct {
	telegram.UpdateHandler
	log *zap.Logger
}

func (h loggedHandler) Handle(ctx context.Context, u tg.UpdatesClass) error {
	h.log.Debug("Update",
		zap.String("t", fmt.Sprintf("%T", u)),
	)
	return h.UpdateHandler.Handle(ctx, u)
}
