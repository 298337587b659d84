package pool

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gotd/fleet/internal/platform"
	"github.com/gotd/fleet/internal/store"
)

// Challenge is an outstanding code request.
type Challenge struct {
	Phone       string
	Hash        string
	RequestedAt time.Time
}

// VerifyRequest is a code verification request.
type VerifyRequest struct {
	Phone   string
	Code    string
	AppID   int
	AppHash string
	// Hash of challenge, stored one is used if empty.
	Hash string
}

// VerifyResult is a result of successful verification.
type VerifyResult struct {
	// Connected is false if session was stored but provisioning failed.
	Connected bool
	Warning   string
}

func validateCredentials(appID int, appHash string) error {
	if appID == 0 || appHash == "" {
		return errors.Wrap(platform.ErrValidation, "api_id and api_hash are not set")
	}
	return nil
}

// Provision restores live handle of account from session token.
//
// On success the previous handle is replaced, session is persisted and
// account is marked active.
func (p *Pool) Provision(ctx context.Context, phone string, appID int, appHash, token string) (rerr error) {
	ctx, span := p.tracer.Start(ctx, "Provision")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
		}
		span.End()
	}()

	unlock := p.locks.lock(phone)
	defer unlock()

	return p.provision(ctx, phone, appID, appHash, token)
}

func (p *Pool) provision(ctx context.Context, phone string, appID int, appHash, token string) error {
	return p.bounded(ctx, func(ctx context.Context) error {
		return p.connect(ctx, phone, appID, appHash, token)
	})
}

func (p *Pool) connect(ctx context.Context, phone string, appID int, appHash, token string) (rerr error) {
	if err := validateCredentials(appID, appHash); err != nil {
		return err
	}
	if token == "" {
		return &platform.AuthError{Kind: platform.NotAuthorized}
	}
	data, err := platform.DecodeSession(token)
	if err != nil {
		return err
	}

	lg := p.log.With(zap.String("phone", phone))
	client, err := p.dialer.Dial(ctx, platform.DialOptions{
		Phone:   phone,
		AppID:   appID,
		AppHash: appHash,
		Session: data,
	})
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer func() {
		if rerr != nil {
			multierr.AppendInto(&rerr, client.Close())
		}
	}()

	self, err := client.Self(ctx)
	switch {
	case errors.Is(err, platform.ErrAuthKeyInvalid):
		return &platform.AuthError{Kind: platform.NotAuthorized}
	case err != nil:
		return errors.Wrap(err, "self")
	}

	exported, err := client.ExportSession(ctx)
	if err != nil {
		return errors.Wrap(err, "export session")
	}
	p.install(phone, client)

	if err := p.store.StoreSession(phone, platform.EncodeSession(exported)); err != nil {
		lg.Error("Store session", zap.Error(err))
	}
	if err := p.store.SetStatus(phone, store.StatusActive, "Client connected successfully"); err != nil {
		lg.Error("Set status", zap.Error(err))
	}
	lg.Info("Provisioned", zap.Int64("user_id", self.ID))
	return nil
}

// RequestCode sends login code to phone and stores the challenge.
func (p *Pool) RequestCode(ctx context.Context, phone string, appID int, appHash string) (_ Challenge, rerr error) {
	ctx, span := p.tracer.Start(ctx, "RequestCode")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
		}
		span.End()
	}()

	if err := validateCredentials(appID, appHash); err != nil {
		return Challenge{}, err
	}
	phone, err := platform.NormalizePhone(phone)
	if err != nil {
		return Challenge{}, err
	}

	unlock := p.locks.lock(phone)
	defer unlock()

	var hash string
	if err := p.bounded(ctx, func(ctx context.Context) (rerr error) {
		client, err := p.dialer.Dial(ctx, platform.DialOptions{
			Phone:   phone,
			AppID:   appID,
			AppHash: appHash,
		})
		if err != nil {
			return errors.Wrap(err, "dial")
		}
		defer func() {
			multierr.AppendInto(&rerr, client.Close())
		}()

		if hash, err = client.SendCode(ctx, phone); err != nil {
			return errors.Wrap(err, "send code")
		}
		return nil
	}); err != nil {
		return Challenge{}, err
	}
	pending, err := p.store.PutPending(phone, hash)
	if err != nil {
		return Challenge{}, errors.Wrap(err, "store challenge")
	}
	p.log.Info("Code requested", zap.String("phone", phone))

	return Challenge{
		Phone:       phone,
		Hash:        hash,
		RequestedAt: pending.RequestedAt,
	}, nil
}

// VerifyCode completes login with code, persists session and provisions
// the account.
//
// Failed verification keeps the challenge for another attempt.
func (p *Pool) VerifyCode(ctx context.Context, req VerifyRequest) (_ VerifyResult, rerr error) {
	ctx, span := p.tracer.Start(ctx, "VerifyCode")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
		}
		span.End()
	}()

	if err := validateCredentials(req.AppID, req.AppHash); err != nil {
		return VerifyResult{}, err
	}
	phone, err := platform.NormalizePhone(req.Phone)
	if err != nil {
		return VerifyResult{}, err
	}
	if req.Code == "" {
		return VerifyResult{}, errors.Wrap(platform.ErrValidation, "empty code")
	}

	unlock := p.locks.lock(phone)
	defer unlock()

	pending, ok := p.store.Pending(phone)
	if !ok || (req.Hash != "" && req.Hash != pending.Hash) {
		return VerifyResult{}, errors.Wrap(platform.ErrNotFound, "no pending code request, request a new code")
	}

	token, err := p.signIn(ctx, phone, req, pending.Hash)
	if err != nil {
		return VerifyResult{}, err
	}

	if err := p.store.AddAccount(phone, req.AppID, req.AppHash, &token); err != nil {
		return VerifyResult{}, errors.Wrap(err, "save account")
	}
	if err := p.store.StoreSession(phone, token); err != nil {
		return VerifyResult{}, errors.Wrap(err, "save session")
	}
	if err := p.store.ClearPending(phone); err != nil {
		p.log.Warn("Clear pending auth", zap.String("phone", phone), zap.Error(err))
	}

	if err := p.provision(ctx, phone, req.AppID, req.AppHash, token); err != nil {
		p.log.Warn("Provision after sign in",
			zap.String("phone", phone),
			zap.Error(err),
		)
		return VerifyResult{Warning: err.Error()}, nil
	}
	return VerifyResult{Connected: true}, nil
}

// signIn signs in on temporary connection and returns session token.
func (p *Pool) signIn(ctx context.Context, phone string, req VerifyRequest, hash string) (token string, _ error) {
	err := p.bounded(ctx, func(ctx context.Context) (rerr error) {
		client, err := p.dialer.Dial(ctx, platform.DialOptions{
			Phone:   phone,
			AppID:   req.AppID,
			AppHash: req.AppHash,
		})
		if err != nil {
			return errors.Wrap(err, "dial")
		}
		defer func() {
			multierr.AppendInto(&rerr, client.Close())
		}()

		if err := client.SignIn(ctx, phone, req.Code, hash); err != nil {
			return errors.Wrap(err, "sign in")
		}
		data, err := client.ExportSession(ctx)
		if err != nil {
			return errors.Wrap(err, "export session")
		}
		token = platform.EncodeSession(data)
		return nil
	})
	return token, err
}
