// Package platform abstracts the messaging platform used by managed accounts.
package platform

import (
	"context"
	"encoding/base64"

	"github.com/go-faster/errors"
)

// DialOptions describe a connection of single account.
type DialOptions struct {
	Phone   string
	AppID   int
	AppHash string
	// Session is serialized session blob, nil for fresh unauthenticated connection.
	Session []byte
}

// Identity of authenticated account.
type Identity struct {
	ID        int64
	Username  string
	FirstName string
	Phone     string
}

// Client is a live connection of account.
//
// Methods return errors already classified by Classify.
type Client interface {
	// SendCode requests login code and returns phone code hash.
	SendCode(ctx context.Context, phone string) (string, error)
	// SignIn completes login with code.
	SignIn(ctx context.Context, phone, code, hash string) error
	// ExportSession serializes current session.
	ExportSession(ctx context.Context) ([]byte, error)
	// Self returns identity of current account.
	Self(ctx context.Context) (Identity, error)

	// ReportPeer reports channel, group or user as spam.
	ReportPeer(ctx context.Context, target string) error
	// ReportMessage reports single post of channel.
	ReportMessage(ctx context.Context, channel string, msgID int) error
	// Join joins public chat or accepts invite link.
	Join(ctx context.Context, target string) error
	// Leave leaves chat.
	Leave(ctx context.Context, target string) error
	// SendMessage sends text to user.
	SendMessage(ctx context.Context, userID int64, text string) error
	// SendReaction reacts to post.
	SendReaction(ctx context.Context, channel string, msgID int, emoji string) error

	// Close disconnects client.
	Close() error
}

// Dialer opens client connections.
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Client, error)
}

// EncodeSession returns session token for session blob.
func EncodeSession(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeSession returns session blob of token.
func DecodeSession(token string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, errors.Wrap(ErrValidation, "malformed session token")
	}
	if len(data) == 0 {
		return nil, errors.Wrap(ErrValidation, "empty session token")
	}
	return data, nil
}
