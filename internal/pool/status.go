package pool

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/gotd/fleet/internal/platform"
	"github.com/gotd/fleet/internal/store"
)

// CheckStatus queries account identity and records observed status.
//
// Status of account removed from store is not recorded.
func (p *Pool) CheckStatus(ctx context.Context, phone string) (store.Status, string) {
	ctx, span := p.tracer.Start(ctx, "CheckStatus")
	defer span.End()

	status, detail := p.observe(ctx, phone)
	if _, ok := p.store.Account(phone); !ok {
		p.log.Debug("Skip status of removed account", zap.String("phone", phone))
		return status, detail
	}
	if err := p.store.SetStatus(phone, status, detail); err != nil {
		p.log.Error("Set status", zap.String("phone", phone), zap.Error(err))
	}
	return status, detail
}

func (p *Pool) observe(ctx context.Context, phone string) (store.Status, string) {
	h, ok := p.handle(phone)
	if !ok {
		return store.StatusDisconnected, "Client not connected"
	}
	if err := h.limiter.Wait(ctx); err != nil {
		return store.StatusError, err.Error()
	}

	var self platform.Identity
	err := p.bounded(ctx, func(ctx context.Context) (err error) {
		self, err = h.client.Self(ctx)
		return err
	})
	switch {
	case err == nil:
		return store.StatusActive, "Account active: " + describe(self)
	case errors.Is(err, platform.ErrUserDeactivated):
		return store.StatusBanned, "Account has been banned/deactivated"
	case errors.Is(err, platform.ErrAuthKeyInvalid):
		return store.StatusSessionExpired, "Session has expired or been revoked"
	default:
		return store.StatusError, err.Error()
	}
}

func describe(id platform.Identity) string {
	switch {
	case id.Username != "":
		return "@" + id.Username
	case id.FirstName != "":
		return id.FirstName
	default:
		return "Unknown"
	}
}
