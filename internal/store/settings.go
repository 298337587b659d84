package store

import "time"

// DefaultCheckInterval is used when settings have no interval.
const DefaultCheckInterval = 5 * time.Minute

// Settings returns global settings.
func (s *Store) Settings() Settings {
	var v Settings
	s.config.view(func(c *configDoc) {
		v = c.Settings
	})
	return v
}

// Credentials returns global platform application credentials.
func (s *Store) Credentials() (apiID int, apiHash string) {
	v := s.Settings()
	return v.APIID, v.APIHash
}

// SetAPIID sets global application id.
func (s *Store) SetAPIID(id int) error {
	return s.config.update(func(c *configDoc) error {
		c.Settings.APIID = id
		return nil
	})
}

// SetAPIHash sets global application hash.
func (s *Store) SetAPIHash(hash string) error {
	return s.config.update(func(c *configDoc) error {
		c.Settings.APIHash = hash
		return nil
	})
}

// CheckInterval returns configured monitor interval.
func (s *Store) CheckInterval() time.Duration {
	v := s.Settings()
	if v.CheckIntervalSeconds <= 0 {
		return DefaultCheckInterval
	}
	return time.Duration(v.CheckIntervalSeconds) * time.Second
}

// SetCheckInterval persists monitor interval.
func (s *Store) SetCheckInterval(d time.Duration) error {
	return s.config.update(func(c *configDoc) error {
		c.Settings.CheckIntervalSeconds = int(d / time.Second)
		return nil
	})
}
