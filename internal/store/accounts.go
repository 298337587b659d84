package store

import (
	"sort"

	"github.com/go-faster/errors"
)

// AddAccount creates account or updates credentials and session of existing one.
func (s *Store) AddAccount(phone string, apiID int, apiHash string, token *string) error {
	now := s.now()
	return s.config.update(func(c *configDoc) error {
		acc, ok := c.Accounts[phone]
		if !ok {
			acc = &Account{
				Phone:   phone,
				Status:  StatusUnknown,
				AddedAt: now,
			}
			c.Accounts[phone] = acc
		}
		acc.APIID = apiID
		acc.APIHash = apiHash
		if token != nil {
			t := *token
			acc.SessionToken = &t
		}
		return nil
	})
}

// RemoveAccount deletes account with its session, pending auth and status
// history. Returns false if account did not exist.
func (s *Store) RemoveAccount(phone string) (bool, error) {
	var found bool
	if err := s.config.update(func(c *configDoc) error {
		_, found = c.Accounts[phone]
		delete(c.Accounts, phone)
		return nil
	}); err != nil {
		return false, errors.Wrap(err, "remove account")
	}
	if err := s.operations.update(func(o *operationsDoc) error {
		delete(o.Sessions, phone)
		delete(o.PendingAuth, phone)
		delete(o.AccountStatus, phone)
		return nil
	}); err != nil {
		return found, errors.Wrap(err, "remove account data")
	}
	return found, nil
}

// Account returns account by phone.
func (s *Store) Account(phone string) (Account, bool) {
	var (
		acc Account
		ok  bool
	)
	s.config.view(func(c *configDoc) {
		var v *Account
		if v, ok = c.Accounts[phone]; ok {
			acc = copyAccount(v)
		}
	})
	return acc, ok
}

// Accounts returns all accounts ordered by addition time.
func (s *Store) Accounts() []Account {
	var accounts []Account
	s.config.view(func(c *configDoc) {
		for _, v := range c.Accounts {
			accounts = append(accounts, copyAccount(v))
		}
	})
	sort.Slice(accounts, func(i, j int) bool {
		a, b := accounts[i], accounts[j]
		if !a.AddedAt.Equal(b.AddedAt) {
			return a.AddedAt.Before(b.AddedAt)
		}
		return a.Phone < b.Phone
	})
	return accounts
}

func copyAccount(v *Account) Account {
	acc := *v
	if v.SessionToken != nil {
		t := *v.SessionToken
		acc.SessionToken = &t
	}
	return acc
}

// SetAccountStatus sets status of account in config.
func (s *Store) SetAccountStatus(phone string, status Status) error {
	return s.config.update(func(c *configDoc) error {
		acc, ok := c.Accounts[phone]
		if !ok {
			return errors.Wrapf(ErrNotFound, "account %s", phone)
		}
		acc.Status = status
		return nil
	})
}
