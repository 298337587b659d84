// Package notify delivers account status changes to admins.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gotd/fleet/internal/store"
	"github.com/gotd/fleet/internal/ui"
)

// Event is an account status transition.
type Event struct {
	Phone  string
	Old    store.Status
	New    store.Status
	Detail string
	At     time.Time
}

// Sender sends text messages to users.
type Sender interface {
	SendText(ctx context.Context, recipient int64, text string, kb *ui.Keyboard) error
}

// Admins lists recipients of notifications.
type Admins interface {
	ValidAdmins() []store.Admin
}

// Notifier sends every event to every valid admin.
type Notifier struct {
	sender Sender
	admins Admins
	log    *zap.Logger
}

// New creates new Notifier.
func New(sender Sender, admins Admins) *Notifier {
	return &Notifier{
		sender: sender,
		admins: admins,
		log:    zap.NewNop(),
	}
}

// WithLogger sets logger.
func (n *Notifier) WithLogger(log *zap.Logger) *Notifier {
	n.log = log
	return n
}

// Notify sends event to all admins.
//
// Delivery failure to one admin does not prevent delivery to others, all
// failures are combined.
func (n *Notifier) Notify(ctx context.Context, e Event) (rerr error) {
	text := ui.StatusChange(e.Phone, e.Old, e.New, e.Detail, e.At)
	for _, admin := range n.admins.ValidAdmins() {
		if err := n.sender.SendText(ctx, admin.UserID, text, nil); err != nil {
			n.log.Warn("Notify admin",
				zap.Int64("admin_id", admin.UserID),
				zap.String("phone", e.Phone),
				zap.Error(err),
			)
			multierr.AppendInto(&rerr, errors.Wrapf(err, "notify %d", admin.UserID))
		}
	}
	return rerr
}
