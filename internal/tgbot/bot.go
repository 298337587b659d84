// Package tgbot implements admin bot transport over MTProto bot session.
package tgbot

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
)

// Options of Bot.
type Options struct {
	AppID       int
	AppHash     string
	Token       string
	SessionPath string
	// TestServer switches client to test DCs.
	TestServer bool
	Logger     *zap.Logger
}

// Bot runs admin bot connection, reconnecting on failures.
type Bot struct {
	opts   Options
	state  *BoltState
	sender *Sender
	router *Router
	log    *zap.Logger

	// newBackOff returns reconnect policy.
	newBackOff func() backoff.BackOff
}

// New creates new Bot.
func New(opts Options, state *BoltState, sender *Sender, router *Router) *Bot {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Bot{
		opts:   opts,
		state:  state,
		sender: sender,
		router: router,
		log:    opts.Logger,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxInterval = time.Minute
			// Never give up.
			bo.MaxElapsedTime = 0
			return bo
		},
	}
}

// Run runs bot until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	bo := backoff.WithContext(b.newBackOff(), ctx)
	err := backoff.RetryNotify(func() error {
		err := b.run(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, errUnauthorized) {
			return backoff.Permanent(err)
		}
		if err == nil {
			err = errors.New("connection closed")
		}
		return err
	}, bo, func(err error, d time.Duration) {
		b.log.Warn("Bot connection failed", zap.Error(err), zap.Duration("retry", d))
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

var errUnauthorized = errors.New("bot token rejected")

func (b *Bot) run(ctx context.Context) error {
	dispatcher := tg.NewUpdateDispatcher()
	b.router.Register(dispatcher)

	gaps := updates.New(updates.Config{
		Handler: dispatcher,
		Storage: b.state,
		Logger:  b.log.Named("gaps"),
	})
	opts := telegram.Options{
		Logger:         b.log.Named("client"),
		SessionStorage: &session.FileStorage{Path: b.opts.SessionPath},
		UpdateHandler: loggedHandler{
			UpdateHandler: gaps,
			log:           b.log.Named("updates"),
		},
	}
	if b.opts.TestServer {
		opts.DCList = dcs.Test()
	}
	client := telegram.NewClient(b.opts.AppID, b.opts.AppHash, opts)

	return client.Run(ctx, func(ctx context.Context) error {
		b.log.Debug("Client initialized")

		status, err := client.Auth().Status(ctx)
		if err != nil {
			return errors.Wrap(err, "auth status")
		}
		if !status.Authorized {
			if _, err := client.Auth().Bot(ctx, b.opts.Token); err != nil {
				if tgerr.Is(err, "ACCESS_TOKEN_INVALID", "ACCESS_TOKEN_EXPIRED") {
					return errors.Wrap(errUnauthorized, err.Error())
				}
				return errors.Wrap(err, "login")
			}
			if status, err = client.Auth().Status(ctx); err != nil {
				return errors.Wrap(err, "auth status")
			}
		} else {
			b.log.Info("Bot login restored", zap.String("name", status.User.Username))
		}

		b.sender.Bind(client.API())
		defer b.sender.Bind(nil)
		defer b.router.Wait()

		b.log.Info("Bot started", zap.Int64("id", status.User.ID))
		return gaps.Run(ctx, client.API(), status.User.ID, updates.AuthOptions{
			IsBot: true,
		})
	})
}
