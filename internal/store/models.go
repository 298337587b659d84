package store

import (
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
)

// Status is an observed operability category of an account.
type Status string

// Account statuses.
const (
	StatusUnknown        Status = "unknown"
	StatusActive         Status = "active"
	StatusBanned         Status = "banned"
	StatusSessionExpired Status = "session_expired"
	StatusDisconnected   Status = "disconnected"
	StatusFrozen         Status = "frozen"
	StatusError          Status = "error"
)

// Admin is a user allowed to operate the bot.
type Admin struct {
	UserID    int64      `json:"user_id"`
	AddedAt   time.Time  `json:"added_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether admin access ended before now.
func (a Admin) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// UnmarshalJSON accepts both the record shape and a legacy bare user id.
func (a *Admin) UnmarshalJSON(data []byte) error {
	var id int64
	if err := json.Unmarshal(data, &id); err == nil {
		*a = Admin{UserID: id}
		return nil
	}
	type plain Admin
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Wrap(err, "decode admin")
	}
	*a = Admin(v)
	return nil
}

// Account is a managed user account of the messaging platform.
type Account struct {
	Phone        string    `json:"phone"`
	APIID        int       `json:"api_id"`
	APIHash      string    `json:"api_hash"`
	SessionToken *string   `json:"session_string,omitempty"`
	Status       Status    `json:"status"`
	AddedAt      time.Time `json:"added_at"`
}

// Settings are global bot settings.
type Settings struct {
	APIID                int    `json:"api_id"`
	APIHash              string `json:"api_hash"`
	CheckIntervalSeconds int    `json:"check_interval"`
	AutoJoin             bool   `json:"auto_join"`
	AutoReport           bool   `json:"auto_report"`
	ViewReactions        bool   `json:"view_reactions"`
}

// User is a record of someone who talked to the bot.
type User struct {
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username"`
	FirstName    string    `json:"first_name"`
	JoinedAt     time.Time `json:"joined_at"`
	LastActivity time.Time `json:"last_activity"`
}

// ReportStatus is a state of report record.
type ReportStatus string

// Report statuses.
const (
	ReportPending   ReportStatus = "pending"
	ReportCompleted ReportStatus = "completed"
	ReportFailed    ReportStatus = "failed"
)

// Report is a record of a batch operation started by admin.
type Report struct {
	ID          int64        `json:"id"`
	UserID      int64        `json:"user_id"`
	Kind        string       `json:"type"`
	Target      string       `json:"target"`
	Status      ReportStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Session is a persisted serialized session.
type Session struct {
	Token     string    `json:"session_string"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingAuth is an outstanding code request.
type PendingAuth struct {
	Hash        string    `json:"phone_code_hash"`
	RequestedAt time.Time `json:"requested_at"`
}

// StatusRecord is a last observed account status.
type StatusRecord struct {
	Status    Status    `json:"status"`
	Detail    string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type configDoc struct {
	Admins   []Admin             `json:"admins"`
	Accounts map[string]*Account `json:"accounts"`
	Settings Settings            `json:"settings"`
}

func (c *configDoc) init() {
	if c.Accounts == nil {
		c.Accounts = map[string]*Account{}
	}
}

type operationsDoc struct {
	Users         map[int64]*User         `json:"users"`
	Reports       []Report                `json:"reports"`
	ReportSeq     int64                   `json:"report_seq"`
	Sessions      map[string]Session      `json:"sessions"`
	PendingAuth   map[string]PendingAuth  `json:"pending_auth"`
	AccountStatus map[string]StatusRecord `json:"account_status"`
}

func (o *operationsDoc) init() {
	if o.Users == nil {
		o.Users = map[int64]*User{}
	}
	if o.Sessions == nil {
		o.Sessions = map[string]Session{}
	}
	if o.PendingAuth == nil {
		o.PendingAuth = map[string]PendingAuth{}
	}
	if o.AccountStatus == nil {
		o.AccountStatus = map[string]StatusRecord{}
	}
	// Documents written before the counter existed.
	for _, r := range o.Reports {
		if r.ID > o.ReportSeq {
			o.ReportSeq = r.ID
		}
	}
}
