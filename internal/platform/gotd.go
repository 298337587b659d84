package platform

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// GotdDialer dials accounts using gotd/td MTProto client.
type GotdDialer struct {
	log  *zap.Logger
	test bool
}

// NewGotdDialer creates new GotdDialer.
func NewGotdDialer() *GotdDialer {
	return &GotdDialer{log: zap.NewNop()}
}

// WithLogger sets logger.
func (d *GotdDialer) WithLogger(log *zap.Logger) *GotdDialer {
	d.log = log
	return d
}

// WithTestServer makes dialer use platform test data centers.
func (d *GotdDialer) WithTestServer(test bool) *GotdDialer {
	d.test = test
	return d
}

// Dial implements Dialer.
//
// Returned client is connected, but not necessary authorized.
func (d *GotdDialer) Dial(ctx context.Context, opts DialOptions) (Client, error) {
	storage := new(session.StorageMemory)
	if len(opts.Session) > 0 {
		if err := storage.StoreSession(ctx, opts.Session); err != nil {
			return nil, errors.Wrap(err, "load session")
		}
	}

	lg := d.log.With(zap.String("phone", opts.Phone))
	options := telegram.Options{
		Logger:         lg.Named("client"),
		SessionStorage: storage,
		NoUpdates:      true,
	}
	if d.test {
		options.DCList = dcs.Test()
	}
	client := telegram.NewClient(opts.AppID, opts.AppHash, options)

	runCtx, cancel := context.WithCancel(context.Background())
	c := &gotdClient{
		client:  client,
		storage: storage,
		appID:   opts.AppID,
		appHash: opts.AppHash,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	ready := make(chan struct{})
	go func() {
		defer close(c.done)
		c.err = client.Run(runCtx, func(ctx context.Context) error {
			raw := client.API()
			c.api = raw
			c.sender = message.NewSender(raw)
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case <-ready:
		lg.Debug("Connected")
		return c, nil
	case <-c.done:
		cancel()
		if c.err == nil {
			return nil, &TransportError{Detail: "connection closed"}
		}
		return nil, Classify(c.err)
	case <-ctx.Done():
		cancel()
		<-c.done
		return nil, ctx.Err()
	}
}

type gotdClient struct {
	client  *telegram.Client
	storage *session.StorageMemory
	api     *tg.Client
	sender  *message.Sender
	appID   int
	appHash string

	cancel context.CancelFunc
	done   chan struct{}
	err    error
	close  sync.Once
}

func (c *gotdClient) SendCode(ctx context.Context, phone string) (string, error) {
	sent, err := c.api.AuthSendCode(ctx, &tg.AuthSendCodeRequest{
		PhoneNumber: phone,
		APIID:       c.appID,
		APIHash:     c.appHash,
		Settings:    tg.CodeSettings{},
	})
	if err != nil {
		return "", Classify(err)
	}
	switch s := sent.(type) {
	case *tg.AuthSentCode:
		return s.PhoneCodeHash, nil
	default:
		return "", &TransportError{Detail: "unexpected sent code type"}
	}
}

func (c *gotdClient) SignIn(ctx context.Context, phone, code, hash string) error {
	if _, err := c.client.Auth().SignIn(ctx, phone, code, hash); err != nil {
		return Classify(err)
	}
	return nil
}

func (c *gotdClient) ExportSession(ctx context.Context) ([]byte, error) {
	data, err := c.storage.LoadSession(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}
	return data, nil
}

func (c *gotdClient) Self(ctx context.Context) (Identity, error) {
	u, err := c.client.Self(ctx)
	if err != nil {
		return Identity{}, Classify(err)
	}
	return Identity{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		Phone:     u.Phone,
	}, nil
}

func (c *gotdClient) resolve(ctx context.Context, target string) (tg.InputPeerClass, error) {
	name, invite := ChatTarget(target)
	if invite || name == "" {
		return nil, errors.Wrapf(ErrValidation, "can't resolve %q", target)
	}
	p, err := c.sender.ResolveDomain(name).AsInputPeer(ctx)
	if err != nil {
		return nil, Classify(err)
	}
	return p, nil
}

func (c *gotdClient) ReportPeer(ctx context.Context, target string) error {
	p, err := c.resolve(ctx, target)
	if err != nil {
		return err
	}
	if _, err := c.api.AccountReportPeer(ctx, &tg.AccountReportPeerRequest{
		Peer:    p,
		Reason:  &tg.InputReportReasonSpam{},
		Message: "Spam / Abuse",
	}); err != nil {
		return Classify(err)
	}
	return nil
}

func (c *gotdClient) ReportMessage(ctx context.Context, channel string, msgID int) error {
	p, err := c.resolve(ctx, channel)
	if err != nil {
		return err
	}
	if _, err := c.api.MessagesReport(ctx, &tg.MessagesReportRequest{
		Peer:    p,
		ID:      []int{msgID},
		Message: "Spam / Abuse",
	}); err != nil {
		return Classify(err)
	}
	return nil
}

func (c *gotdClient) Join(ctx context.Context, target string) error {
	name, invite := ChatTarget(target)
	if invite {
		if _, err := c.api.MessagesImportChatInvite(ctx, name); err != nil {
			return Classify(err)
		}
		return nil
	}
	p, err := c.resolve(ctx, target)
	if err != nil {
		return err
	}
	ch, ok := p.(*tg.InputPeerChannel)
	if !ok {
		return errors.Wrapf(ErrValidation, "%q is not a channel or supergroup", target)
	}
	if _, err := c.api.ChannelsJoinChannel(ctx, &tg.InputChannel{
		ChannelID:  ch.ChannelID,
		AccessHash: ch.AccessHash,
	}); err != nil {
		return Classify(err)
	}
	return nil
}

func (c *gotdClient) Leave(ctx context.Context, target string) error {
	p, err := c.resolve(ctx, target)
	if err != nil {
		return err
	}
	switch p := p.(type) {
	case *tg.InputPeerChannel:
		_, err = c.api.ChannelsLeaveChannel(ctx, &tg.InputChannel{
			ChannelID:  p.ChannelID,
			AccessHash: p.AccessHash,
		})
	case *tg.InputPeerChat:
		_, err = c.api.MessagesDeleteChatUser(ctx, &tg.MessagesDeleteChatUserRequest{
			ChatID: p.ChatID,
			UserID: &tg.InputUserSelf{},
		})
	default:
		return errors.Wrapf(ErrValidation, "%q is not a chat", target)
	}
	return Classify(err)
}

func (c *gotdClient) SendMessage(ctx context.Context, userID int64, text string) error {
	if _, err := c.sender.To(&tg.InputPeerUser{UserID: userID}).Text(ctx, text); err != nil {
		return Classify(err)
	}
	return nil
}

func (c *gotdClient) SendReaction(ctx context.Context, channel string, msgID int, emoji string) error {
	p, err := c.resolve(ctx, channel)
	if err != nil {
		return err
	}
	if _, err := c.api.MessagesSendReaction(ctx, &tg.MessagesSendReactionRequest{
		Peer:     p,
		MsgID:    msgID,
		Reaction: []tg.ReactionClass{&tg.ReactionEmoji{Emoticon: emoji}},
	}); err != nil {
		return Classify(err)
	}
	return nil
}

func (c *gotdClient) Close() error {
	c.close.Do(func() {
		c.cancel()
		<-c.done
	})
	if c.err == nil || errors.Is(c.err, context.Canceled) {
		return nil
	}
	return c.err
}
