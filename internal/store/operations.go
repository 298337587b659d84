package store

import (
	"github.com/go-faster/errors"
)

// StoreSession persists serialized session of account, also recording it in
// account config if account exists.
func (s *Store) StoreSession(phone, token string) error {
	now := s.now()
	if err := s.operations.update(func(o *operationsDoc) error {
		o.Sessions[phone] = Session{Token: token, CreatedAt: now}
		return nil
	}); err != nil {
		return errors.Wrap(err, "store session")
	}
	return s.config.update(func(c *configDoc) error {
		if acc, ok := c.Accounts[phone]; ok {
			t := token
			acc.SessionToken = &t
		}
		return nil
	})
}

// Session returns persisted session of account.
func (s *Store) Session(phone string) (Session, bool) {
	var (
		v  Session
		ok bool
	)
	s.operations.view(func(o *operationsDoc) {
		v, ok = o.Sessions[phone]
	})
	return v, ok
}

// PutPending stores pending code request, superseding previous one.
func (s *Store) PutPending(phone, hash string) (PendingAuth, error) {
	p := PendingAuth{Hash: hash, RequestedAt: s.now()}
	if err := s.operations.update(func(o *operationsDoc) error {
		o.PendingAuth[phone] = p
		return nil
	}); err != nil {
		return PendingAuth{}, err
	}
	return p, nil
}

// Pending returns pending code request.
func (s *Store) Pending(phone string) (PendingAuth, bool) {
	var (
		v  PendingAuth
		ok bool
	)
	s.operations.view(func(o *operationsDoc) {
		v, ok = o.PendingAuth[phone]
	})
	return v, ok
}

// ClearPending deletes pending code request.
func (s *Store) ClearPending(phone string) error {
	return s.operations.update(func(o *operationsDoc) error {
		delete(o.PendingAuth, phone)
		return nil
	})
}

// SetStatus records observed account status.
func (s *Store) SetStatus(phone string, status Status, detail string) error {
	rec := StatusRecord{
		Status:    status,
		Detail:    detail,
		Timestamp: s.now(),
	}
	if err := s.operations.update(func(o *operationsDoc) error {
		o.AccountStatus[phone] = rec
		return nil
	}); err != nil {
		return errors.Wrap(err, "set status")
	}
	return s.config.update(func(c *configDoc) error {
		if acc, ok := c.Accounts[phone]; ok {
			acc.Status = status
		}
		return nil
	})
}

// Status returns last observed status of account, StatusUnknown if none.
func (s *Store) Status(phone string) StatusRecord {
	rec := StatusRecord{Status: StatusUnknown}
	s.operations.view(func(o *operationsDoc) {
		if v, ok := o.AccountStatus[phone]; ok {
			rec = v
		}
	})
	return rec
}

// Statuses returns last observed statuses of all accounts.
func (s *Store) Statuses() map[string]StatusRecord {
	out := map[string]StatusRecord{}
	s.operations.view(func(o *operationsDoc) {
		for k, v := range o.AccountStatus {
			out[k] = v
		}
	})
	return out
}
