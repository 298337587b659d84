package store

// UpsertUser creates or refreshes user record.
func (s *Store) UpsertUser(userID int64, username, firstName string) error {
	now := s.now()
	return s.operations.update(func(o *operationsDoc) error {
		u, ok := o.Users[userID]
		if !ok {
			u = &User{UserID: userID, JoinedAt: now}
			o.Users[userID] = u
		}
		u.Username = username
		u.FirstName = firstName
		u.LastActivity = now
		return nil
	})
}

// TouchUser updates last activity of known user.
func (s *Store) TouchUser(userID int64) error {
	now := s.now()
	var found bool
	s.operations.view(func(o *operationsDoc) {
		_, found = o.Users[userID]
	})
	if !found {
		return nil
	}
	return s.operations.update(func(o *operationsDoc) error {
		if u, ok := o.Users[userID]; ok {
			u.LastActivity = now
		}
		return nil
	})
}

// User returns user record.
func (s *Store) User(userID int64) (User, bool) {
	var (
		v  User
		ok bool
	)
	s.operations.view(func(o *operationsDoc) {
		var u *User
		if u, ok = o.Users[userID]; ok {
			v = *u
		}
	})
	return v, ok
}
