package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/gotd/fleet/internal/store"
)

var statusEmoji = map[store.Status]string{
	store.StatusActive:         "✅",
	store.StatusBanned:         "🚫",
	store.StatusSessionExpired: "⏰",
	store.StatusDisconnected:   "📵",
	store.StatusFrozen:         "🧊",
	store.StatusError:          "❌",
	store.StatusUnknown:        "❓",
}

// StatusEmoji returns emoji of account status.
func StatusEmoji(s store.Status) string {
	if e, ok := statusEmoji[s]; ok {
		return e
	}
	return "❓"
}

// Mark returns line marker of result.
func Mark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

// Common texts.
const (
	Welcome      = "🤖 Welcome to the account management bot.\n\nChoose an option:"
	AccessDenied = "⛔ Access denied. You are not an admin."
	Canceled     = "❌ Operation canceled."
	NoAccounts   = "❌ No accounts added yet."
	Failure      = "❌ Something went wrong, try again later."
)

// AdminList formats list of admins.
func AdminList(admins []store.Admin) string {
	if len(admins) == 0 {
		return "📋 No admins."
	}
	var b strings.Builder
	b.WriteString("📋 Admins:\n\n")
	for _, a := range admins {
		expires := "permanent"
		if a.ExpiresAt != nil {
			expires = "until " + a.ExpiresAt.Format(time.DateTime)
		}
		fmt.Fprintf(&b, "👤 %d (%s)\n", a.UserID, expires)
	}
	return b.String()
}

// AccountList formats list of accounts.
func AccountList(accounts []store.Account) string {
	if len(accounts) == 0 {
		return NoAccounts
	}
	var b strings.Builder
	b.WriteString("📋 Accounts:\n\n")
	for _, acc := range accounts {
		fmt.Fprintf(&b, "%s %s (%s)\n", StatusEmoji(acc.Status), acc.Phone, acc.Status)
	}
	return b.String()
}

// Result is an outcome line of single account.
type Result struct {
	Phone   string
	OK      bool
	Message string
}

// Results formats batch operation results.
func Results(title string, results []Result) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "%s %s: %s\n", Mark(r.OK), r.Phone, r.Message)
	}
	return b.String()
}

// StatusChange formats account status transition notification.
func StatusChange(phone string, from, to store.Status, detail string, at time.Time) string {
	return fmt.Sprintf("⚠️ Account status changed\n\n📱 %s\n%s %s → %s %s\n💬 %s\n🕐 %s",
		phone,
		StatusEmoji(from), from,
		StatusEmoji(to), to,
		detail,
		at.Format(time.DateTime),
	)
}
