// Package ui contains menus and text templates of the admin bot.
package ui

// Button is an inline keyboard button with callback token.
type Button struct {
	Text string
	Data string
}

// Keyboard is an inline keyboard.
type Keyboard struct {
	Rows [][]Button
}

// Row appends row of buttons.
func (k *Keyboard) Row(buttons ...Button) *Keyboard {
	k.Rows = append(k.Rows, buttons)
	return k
}

// Menu tokens.
const (
	TokenMainMenu         = "main_menu"
	TokenAdminMenu        = "admin_menu"
	TokenAccountMenu      = "account_menu"
	TokenJoinLeaveMenu    = "join_leave_menu"
	TokenSettingsMenu     = "settings_menu"
	TokenReportChannel    = "report_channel"
	TokenReportPost       = "report_post"
	TokenReportPostSeq    = "report_post_seq"
	TokenSendMessage      = "send_message"
	TokenNegativeReaction = "negative_reaction"
	TokenAccountStatus    = "account_status"
	TokenAddAdmin         = "add_admin"
	TokenRemoveAdmin      = "remove_admin"
	TokenListAdmins       = "list_admins"
	TokenAddAccount       = "add_account"
	TokenRemoveAccount    = "remove_account"
	TokenListAccounts     = "list_accounts"
	TokenCheckAccounts    = "check_accounts"
	TokenGetPhoneCode     = "get_phone_code"
	TokenVerifyCode       = "verify_code"
	TokenJoinChat         = "join_chat"
	TokenLeaveChat        = "leave_chat"
	TokenSetAPIID         = "set_api_id"
	TokenSetAPIHash       = "set_api_hash"
	TokenViewPhones       = "view_phones"
	TokenMonitorStart     = "monitor_start"
	TokenMonitorStop      = "monitor_stop"
	TokenMonitorInterval  = "monitor_interval"
	TokenReconnect        = "reconnect"
	TokenCancel           = "cancel"

	// PrefixRemoveAccount is followed by phone of account to remove.
	PrefixRemoveAccount = "remove_account:"
	// PrefixGetCode is followed by phone of account to request code for.
	PrefixGetCode = "get_code:"
)

func back(token string) Button {
	return Button{Text: "🔙 Back", Data: token}
}

// MainMenu returns main menu.
func MainMenu() *Keyboard {
	return new(Keyboard).
		Row(
			Button{Text: "👥 Admins", Data: TokenAdminMenu},
			Button{Text: "📱 Accounts", Data: TokenAccountMenu},
		).
		Row(
			Button{Text: "📢 Report channel/group", Data: TokenReportChannel},
			Button{Text: "📝 Report posts", Data: TokenReportPost},
		).
		Row(Button{Text: "⚡ Sequential post report", Data: TokenReportPostSeq}).
		Row(
			Button{Text: "🔗 Join/Leave", Data: TokenJoinLeaveMenu},
			Button{Text: "💬 Send message", Data: TokenSendMessage},
		).
		Row(
			Button{Text: "👎 Negative reaction", Data: TokenNegativeReaction},
			Button{Text: "📊 Account status", Data: TokenAccountStatus},
		).
		Row(Button{Text: "⚙️ Settings", Data: TokenSettingsMenu})
}

// AdminMenu returns admin management menu.
func AdminMenu() *Keyboard {
	return new(Keyboard).
		Row(
			Button{Text: "➕ Add admin", Data: TokenAddAdmin},
			Button{Text: "➖ Remove admin", Data: TokenRemoveAdmin},
		).
		Row(Button{Text: "📋 List admins", Data: TokenListAdmins}).
		Row(back(TokenMainMenu))
}

// AccountMenu returns account management menu.
func AccountMenu() *Keyboard {
	return new(Keyboard).
		Row(
			Button{Text: "➕ Add account", Data: TokenAddAccount},
			Button{Text: "➖ Remove account", Data: TokenRemoveAccount},
		).
		Row(
			Button{Text: "📋 List accounts", Data: TokenListAccounts},
			Button{Text: "🔍 Check status", Data: TokenCheckAccounts},
		).
		Row(
			Button{Text: "📞 Get code", Data: TokenGetPhoneCode},
			Button{Text: "✅ Verify code", Data: TokenVerifyCode},
		).
		Row(back(TokenMainMenu))
}

// JoinLeaveMenu returns join/leave menu.
func JoinLeaveMenu() *Keyboard {
	return new(Keyboard).
		Row(
			Button{Text: "➕ Join chat", Data: TokenJoinChat},
			Button{Text: "➖ Leave chat", Data: TokenLeaveChat},
		).
		Row(back(TokenMainMenu))
}

// SettingsMenu returns settings menu.
func SettingsMenu() *Keyboard {
	return new(Keyboard).
		Row(
			Button{Text: "🔑 Set API ID", Data: TokenSetAPIID},
			Button{Text: "🔐 Set API Hash", Data: TokenSetAPIHash},
		).
		Row(Button{Text: "📱 View phones", Data: TokenViewPhones}).
		Row(
			Button{Text: "🟢 Start monitoring", Data: TokenMonitorStart},
			Button{Text: "🔴 Stop monitoring", Data: TokenMonitorStop},
		).
		Row(
			Button{Text: "⏱️ Check interval", Data: TokenMonitorInterval},
			Button{Text: "🔄 Reconnect", Data: TokenReconnect},
		).
		Row(back(TokenMainMenu))
}

// BackMenu returns keyboard with single back button.
func BackMenu() *Keyboard {
	return new(Keyboard).Row(back(TokenMainMenu))
}

// CancelMenu returns keyboard with cancel button for prompts.
func CancelMenu() *Keyboard {
	return new(Keyboard).Row(Button{Text: "❌ Cancel", Data: TokenCancel})
}

// PhoneMenu returns keyboard with button per phone, tokens prefixed by prefix.
func PhoneMenu(prefix string, phones []string) *Keyboard {
	k := new(Keyboard)
	for _, phone := range phones {
		k.Row(Button{Text: "📱 " + phone, Data: prefix + phone})
	}
	return k.Row(back(TokenAccountMenu))
}
