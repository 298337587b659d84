package store

import (
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/require"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func openDB(t *testing.T) *pebble.DB {
	t.Helper()

	db, err := pebble.Open("fleet", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func newStore(t *testing.T) (*Store, *clock) {
	t.Helper()

	c := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := New(openDB(t))
	require.NoError(t, err)
	return s.WithClock(c.Now), c
}

func TestStore_AdminExpiry(t *testing.T) {
	a := require.New(t)
	s, c := newStore(t)

	a.NoError(s.AddAdmin(10, 0))
	a.NoError(s.AddAdmin(20, time.Hour))
	a.True(s.IsAdmin(10))
	a.True(s.IsAdmin(20))

	c.now = c.now.Add(2 * time.Hour)
	a.False(s.IsAdmin(20))
	a.True(s.IsAdmin(10))

	admins := s.ValidAdmins()
	a.Len(admins, 1)
	a.Equal(int64(10), admins[0].UserID)

	// Evicted entry must not be persisted anymore.
	var stored []Admin
	s.config.view(func(c *configDoc) {
		stored = append(stored, c.Admins...)
	})
	a.Len(stored, 1)
}

func TestStore_AddAdminReplaces(t *testing.T) {
	a := require.New(t)
	s, _ := newStore(t)

	a.NoError(s.AddAdmin(10, time.Hour))
	a.NoError(s.AddAdmin(10, 0))

	admins := s.ValidAdmins()
	a.Len(admins, 1)
	a.Nil(admins[0].ExpiresAt)

	removed, err := s.RemoveAdmin(10)
	a.NoError(err)
	a.True(removed)
	removed, err = s.RemoveAdmin(10)
	a.NoError(err)
	a.False(removed)
}

func TestStore_LegacyAdmins(t *testing.T) {
	a := require.New(t)
	db := openDB(t)
	a.NoError(db.Set(keyConfig, []byte(`{"admins":[42,{"user_id":7,"added_at":"2024-01-01T00:00:00Z"}]}`), pebble.Sync))

	s, err := New(db)
	a.NoError(err)
	a.True(s.IsAdmin(42))
	a.True(s.IsAdmin(7))
	a.False(s.IsAdmin(1))
}

func TestStore_Reload(t *testing.T) {
	a := require.New(t)
	db := openDB(t)

	s, err := New(db)
	a.NoError(err)
	token := "token"
	a.NoError(s.AddAccount("+10000000000", 1, "hash", nil))
	a.NoError(s.StoreSession("+10000000000", token))
	a.NoError(s.SetStatus("+10000000000", StatusActive, "ok"))
	_, err = s.PutPending("+10000000000", "code-hash")
	a.NoError(err)

	reloaded, err := New(db)
	a.NoError(err)

	acc, ok := reloaded.Account("+10000000000")
	a.True(ok)
	a.Equal(StatusActive, acc.Status)
	a.NotNil(acc.SessionToken)
	a.Equal(token, *acc.SessionToken)
	a.Equal(StatusActive, reloaded.Status("+10000000000").Status)

	p, ok := reloaded.Pending("+10000000000")
	a.True(ok)
	a.Equal("code-hash", p.Hash)
}

func TestStore_RemoveAccountCascades(t *testing.T) {
	a := require.New(t)
	s, _ := newStore(t)

	const phone = "+10000000000"
	a.NoError(s.AddAccount(phone, 1, "hash", nil))
	a.NoError(s.StoreSession(phone, "token"))
	a.NoError(s.SetStatus(phone, StatusBanned, "deactivated"))
	_, err := s.PutPending(phone, "code-hash")
	a.NoError(err)

	removed, err := s.RemoveAccount(phone)
	a.NoError(err)
	a.True(removed)

	_, ok := s.Account(phone)
	a.False(ok)
	_, ok = s.Session(phone)
	a.False(ok)
	_, ok = s.Pending(phone)
	a.False(ok)
	a.Equal(StatusUnknown, s.Status(phone).Status)
}

func TestStore_AccountsOrder(t *testing.T) {
	a := require.New(t)
	s, c := newStore(t)

	a.NoError(s.AddAccount("+30000000000", 1, "h", nil))
	c.now = c.now.Add(time.Second)
	a.NoError(s.AddAccount("+10000000000", 1, "h", nil))

	accounts := s.Accounts()
	a.Len(accounts, 2)
	a.Equal("+30000000000", accounts[0].Phone)
	a.Equal(StatusUnknown, accounts[0].Status)
}

func TestStore_ReportSequence(t *testing.T) {
	a := require.New(t)
	db := openDB(t)
	s, err := New(db)
	a.NoError(err)

	first, err := s.AddReport(1, "report_channel", "@spam")
	a.NoError(err)
	second, err := s.AddReport(1, "join", "@chat")
	a.NoError(err)
	a.Equal(first+1, second)

	a.NoError(s.FinishReport(first, ReportCompleted))
	a.ErrorIs(s.FinishReport(100, ReportFailed), ErrNotFound)

	reloaded, err := New(db)
	a.NoError(err)
	third, err := reloaded.AddReport(2, "leave", "@chat")
	a.NoError(err)
	a.Equal(second+1, third)

	reports := reloaded.Reports(1)
	a.Len(reports, 2)
	a.Equal(ReportCompleted, reports[0].Status)
	a.NotNil(reports[0].CompletedAt)
}

func TestStore_FailedUpdateRollsBack(t *testing.T) {
	a := require.New(t)
	s, _ := newStore(t)

	a.ErrorIs(s.SetAccountStatus("+10000000000", StatusActive), ErrNotFound)
	a.Empty(s.Accounts())
}

func TestStore_Settings(t *testing.T) {
	a := require.New(t)
	s, _ := newStore(t)

	a.Equal(DefaultCheckInterval, s.CheckInterval())
	a.NoError(s.SetAPIID(100))
	a.NoError(s.SetAPIHash("abc"))
	a.NoError(s.SetCheckInterval(2 * time.Minute))

	id, hash := s.Credentials()
	a.Equal(100, id)
	a.Equal("abc", hash)
	a.Equal(2*time.Minute, s.CheckInterval())
}

func TestStore_Users(t *testing.T) {
	a := require.New(t)
	s, c := newStore(t)

	a.NoError(s.TouchUser(5))
	_, ok := s.User(5)
	a.False(ok)

	a.NoError(s.UpsertUser(5, "neo", "Thomas"))
	joined := c.now
	c.now = c.now.Add(time.Minute)
	a.NoError(s.TouchUser(5))

	u, ok := s.User(5)
	a.True(ok)
	a.Equal("neo", u.Username)
	a.Equal(joined, u.JoinedAt)
	a.Equal(c.now, u.LastActivity)
}
