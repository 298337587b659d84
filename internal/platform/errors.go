package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"
)

var (
	// ErrValidation is returned on malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when required record is absent.
	ErrNotFound = errors.New("not found")
	// ErrNotConnected is returned when account has no live handle.
	ErrNotConnected = errors.New("client not connected")
	// ErrUserDeactivated means that account is banned by the platform.
	ErrUserDeactivated = errors.New("user deactivated")
	// ErrAuthKeyInvalid means that session was revoked or expired.
	ErrAuthKeyInvalid = errors.New("auth key invalid")
)

// AuthErrorKind is a kind of authentication failure.
type AuthErrorKind string

// Authentication failure kinds.
const (
	TwoFactorRequired AuthErrorKind = "two_factor_required"
	InvalidCode       AuthErrorKind = "invalid_code"
	CodeExpired       AuthErrorKind = "code_expired"
	InvalidPhone      AuthErrorKind = "invalid_phone"
	InvalidAPIID      AuthErrorKind = "invalid_api_id"
	NotAuthorized     AuthErrorKind = "not_authorized"
)

// AuthError is an authentication failure.
type AuthError struct {
	Kind AuthErrorKind
}

func (e *AuthError) Error() string {
	switch e.Kind {
	case TwoFactorRequired:
		return "two-factor authentication is enabled on this account"
	case InvalidCode:
		return "invalid verification code"
	case CodeExpired:
		return "verification code expired, request a new one"
	case InvalidPhone:
		return "invalid phone number"
	case InvalidAPIID:
		return "invalid api_id or api_hash"
	case NotAuthorized:
		return "account is not authorized"
	default:
		return fmt.Sprintf("auth: %s", string(e.Kind))
	}
}

// Terminal reports whether retrying with other code can not help.
func (e *AuthError) Terminal() bool {
	return e.Kind == TwoFactorRequired
}

// FloodWaitError is returned when platform asks to wait before retry.
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: retry after %d seconds", e.Seconds)
}

// TransportError is any other platform failure.
type TransportError struct {
	Detail string
}

func (e *TransportError) Error() string {
	return e.Detail
}

// IsAuthError reports whether err is AuthError of given kind.
func IsAuthError(err error, kind AuthErrorKind) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Kind == kind
}

// Classify maps platform library error to the error taxonomy.
//
// Already classified errors and context errors are returned as is.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var (
		authErr      *AuthError
		floodErr     *FloodWaitError
		transportErr *TransportError
	)
	if errors.As(err, &authErr) || errors.As(err, &floodErr) || errors.As(err, &transportErr) ||
		errors.Is(err, ErrUserDeactivated) || errors.Is(err, ErrAuthKeyInvalid) {
		return err
	}

	if d, ok := tgerr.AsFloodWait(err); ok {
		return &FloodWaitError{Seconds: int(d / time.Second)}
	}
	switch {
	case errors.Is(err, auth.ErrPasswordAuthNeeded),
		tgerr.Is(err, "SESSION_PASSWORD_NEEDED"):
		return &AuthError{Kind: TwoFactorRequired}
	case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EMPTY"):
		return &AuthError{Kind: InvalidCode}
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return &AuthError{Kind: CodeExpired}
	case tgerr.Is(err, "PHONE_NUMBER_INVALID", "PHONE_NUMBER_BANNED", "PHONE_NUMBER_UNOCCUPIED"):
		return &AuthError{Kind: InvalidPhone}
	case tgerr.Is(err, "API_ID_INVALID", "API_ID_PUBLISHED_FLOOD"):
		return &AuthError{Kind: InvalidAPIID}
	case tgerr.Is(err, "USER_DEACTIVATED", "USER_DEACTIVATED_BAN"):
		return errors.Wrap(ErrUserDeactivated, err.Error())
	case tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "AUTH_KEY_INVALID", "SESSION_REVOKED", "SESSION_EXPIRED"):
		return errors.Wrap(ErrAuthKeyInvalid, err.Error())
	}
	return &TransportError{Detail: err.Error()}
}
