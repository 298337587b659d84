package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"github.com/gotd/fleet/internal/store"
	"github.com/gotd/fleet/internal/ui"
)

type staticAdmins []store.Admin

func (s staticAdmins) ValidAdmins() []store.Admin { return s }

type mockSender struct {
	mux   sync.Mutex
	fail  map[int64]bool
	texts map[int64][]string
}

func (m *mockSender) SendText(ctx context.Context, recipient int64, text string, kb *ui.Keyboard) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	if m.fail[recipient] {
		return errors.New("blocked")
	}
	if m.texts == nil {
		m.texts = map[int64][]string{}
	}
	m.texts[recipient] = append(m.texts[recipient], text)
	return nil
}

func TestNotifier(t *testing.T) {
	a := require.New(t)
	sender := &mockSender{fail: map[int64]bool{2: true}}
	admins := staticAdmins{{UserID: 1}, {UserID: 2}, {UserID: 3}}
	n := New(sender, admins).WithLogger(zaptest.NewLogger(t))

	err := n.Notify(context.Background(), Event{
		Phone:  "+10000000001",
		Old:    store.StatusActive,
		New:    store.StatusBanned,
		Detail: "Account has been banned/deactivated",
		At:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	a.Error(err)
	a.Len(multierr.Errors(err), 1)

	a.Len(sender.texts[1], 1)
	a.Len(sender.texts[3], 1)
	a.Empty(sender.texts[2])
	a.Contains(sender.texts[1][0], "+10000000001")
	a.Contains(sender.texts[1][0], "🚫 banned")
}
