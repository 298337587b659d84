package store

import (
	"time"

	"go.uber.org/zap"
)

// AddAdmin grants admin access to user. Zero duration means permanent access.
//
// Existing entry of the same user is replaced.
func (s *Store) AddAdmin(userID int64, duration time.Duration) error {
	now := s.now()
	admin := Admin{UserID: userID, AddedAt: now}
	if duration > 0 {
		expires := now.Add(duration)
		admin.ExpiresAt = &expires
	}
	return s.config.update(func(c *configDoc) error {
		admins := c.Admins[:0]
		for _, a := range c.Admins {
			if a.UserID != userID {
				admins = append(admins, a)
			}
		}
		c.Admins = append(admins, admin)
		return nil
	})
}

// RemoveAdmin revokes admin access, returning false if user was not an admin.
func (s *Store) RemoveAdmin(userID int64) (bool, error) {
	var found bool
	err := s.config.update(func(c *configDoc) error {
		admins := c.Admins[:0]
		for _, a := range c.Admins {
			if a.UserID == userID {
				found = true
				continue
			}
			admins = append(admins, a)
		}
		c.Admins = admins
		return nil
	})
	return found, err
}

// IsAdmin reports whether user currently has admin access.
func (s *Store) IsAdmin(userID int64) bool {
	for _, a := range s.ValidAdmins() {
		if a.UserID == userID {
			return true
		}
	}
	return false
}

// ValidAdmins returns admins with unexpired access, evicting expired ones.
func (s *Store) ValidAdmins() []Admin {
	now := s.now()

	var (
		valid   []Admin
		expired bool
	)
	s.config.view(func(c *configDoc) {
		for _, a := range c.Admins {
			if a.Expired(now) {
				expired = true
				continue
			}
			valid = append(valid, a)
		}
	})
	if !expired {
		return valid
	}

	if err := s.config.update(func(c *configDoc) error {
		admins := c.Admins[:0]
		for _, a := range c.Admins {
			if !a.Expired(now) {
				admins = append(admins, a)
			}
		}
		c.Admins = admins
		return nil
	}); err != nil {
		// Eviction is retried on next access.
		s.log.Warn("Evict expired admins", zap.Error(err))
	}
	return valid
}
