package tgbot

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/markup"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"github.com/gotd/fleet/internal/dispatch"
	"github.com/gotd/fleet/internal/ui"
)

// ErrOffline is returned when bot is not connected.
var ErrOffline = errors.New("bot is not connected")

// Peers stores access hashes of users.
type Peers interface {
	SavePeer(ctx context.Context, userID, accessHash int64) error
	Peer(ctx context.Context, userID int64) (accessHash int64, found bool, err error)
}

var _ dispatch.Outbound = (*Sender)(nil)

// Sender delivers bot messages to users.
type Sender struct {
	peers Peers
	log   *zap.Logger

	mux    sync.RWMutex
	raw    *tg.Client
	sender *message.Sender
}

// NewSender creates new Sender. It is offline until Bind is called.
func NewSender(peers Peers) *Sender {
	return &Sender{
		peers: peers,
		log:   zap.NewNop(),
	}
}

// WithLogger sets logger.
func (s *Sender) WithLogger(log *zap.Logger) *Sender {
	s.log = log
	return s
}

// Bind sets client of current connection, nil makes sender offline.
func (s *Sender) Bind(raw *tg.Client) *Sender {
	s.mux.Lock()
	defer s.mux.Unlock()

	s.raw = raw
	s.sender = nil
	if raw != nil {
		s.sender = message.NewSender(raw)
	}
	return s
}

func (s *Sender) client() (*tg.Client, *message.Sender, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	if s.raw == nil {
		return nil, nil, ErrOffline
	}
	return s.raw, s.sender, nil
}

func (s *Sender) peer(ctx context.Context, userID int64) tg.InputPeerClass {
	hash, ok, err := s.peers.Peer(ctx, userID)
	if err != nil {
		s.log.Warn("Get peer", zap.Int64("user_id", userID), zap.Error(err))
	}
	if !ok {
		s.log.Debug("Unknown access hash", zap.Int64("user_id", userID))
	}
	return &tg.InputPeerUser{UserID: userID, AccessHash: hash}
}

// Keyboard converts keyboard to inline markup.
func Keyboard(kb *ui.Keyboard) tg.ReplyMarkupClass {
	if kb == nil || len(kb.Rows) == 0 {
		return nil
	}
	rows := make([]tg.KeyboardButtonRow, 0, len(kb.Rows))
	for _, row := range kb.Rows {
		buttons := make([]tg.KeyboardButtonClass, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, markup.Callback(b.Text, []byte(b.Data)))
		}
		rows = append(rows, markup.Row(buttons...))
	}
	return markup.InlineKeyboard(rows...)
}

// SendText sends text message to user.
func (s *Sender) SendText(ctx context.Context, recipient int64, text string, kb *ui.Keyboard) error {
	_, sender, err := s.client()
	if err != nil {
		return err
	}
	b := sender.To(s.peer(ctx, recipient)).NoWebpage()
	if m := Keyboard(kb); m != nil {
		b = b.Markup(m)
	}
	if _, err := b.Text(ctx, text); err != nil {
		return errors.Wrap(err, "send")
	}
	return nil
}

// EditMessage replaces text and keyboard of bot message.
func (s *Sender) EditMessage(ctx context.Context, ref dispatch.MessageRef, text string, kb *ui.Keyboard) error {
	raw, _, err := s.client()
	if err != nil {
		return err
	}
	req := &tg.MessagesEditMessageRequest{
		Peer:      s.peer(ctx, ref.PeerID),
		ID:        ref.MsgID,
		Message:   text,
		NoWebpage: true,
	}
	if m := Keyboard(kb); m != nil {
		req.ReplyMarkup = m
	}
	if _, err := raw.MessagesEditMessage(ctx, req); err != nil {
		return errors.Wrap(err, "edit")
	}
	return nil
}

// AnswerInteraction answers callback query, showing alert if requested.
func (s *Sender) AnswerInteraction(ctx context.Context, queryID int64, text string, alert bool) error {
	raw, _, err := s.client()
	if err != nil {
		return err
	}
	if _, err := raw.MessagesSetBotCallbackAnswer(ctx, &tg.MessagesSetBotCallbackAnswerRequest{
		QueryID: queryID,
		Message: text,
		Alert:   alert,
	}); err != nil {
		return errors.Wrap(err, "answer callback")
	}
	return nil
}
