package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/gotd/fleet/internal/store"
	"github.com/gotd/fleet/internal/ui"
)

type menuFunc func(ctx context.Context, in Interaction) error

func (d *Dispatcher) menuTable() map[string]menuFunc {
	static := func(text string, kb func() *ui.Keyboard) menuFunc {
		return func(ctx context.Context, in Interaction) error {
			d.conv.Clear(in.UserID)
			return d.show(ctx, in, text, kb())
		}
	}
	return map[string]menuFunc{
		ui.TokenMainMenu:      static(ui.Welcome, ui.MainMenu),
		ui.TokenAdminMenu:     static("👥 Admin management:", ui.AdminMenu),
		ui.TokenAccountMenu:   static("📱 Account management:", ui.AccountMenu),
		ui.TokenJoinLeaveMenu: static("🔗 Join or leave chats:", ui.JoinLeaveMenu),
		ui.TokenSettingsMenu:  d.settingsMenu,

		ui.TokenListAdmins: func(ctx context.Context, in Interaction) error {
			return d.show(ctx, in, ui.AdminList(d.store.ValidAdmins()), ui.AdminMenu())
		},
		ui.TokenListAccounts: func(ctx context.Context, in Interaction) error {
			return d.show(ctx, in, ui.AccountList(d.store.Accounts()), ui.AccountMenu())
		},
		ui.TokenViewPhones:      d.viewPhones,
		ui.TokenRemoveAccount:   d.selectAccount(ui.PrefixRemoveAccount, "➖ Select account to remove:"),
		ui.TokenGetPhoneCode:    d.getPhoneCode,
		ui.TokenAccountStatus:   d.checkAccounts(ui.MainMenu),
		ui.TokenCheckAccounts:   d.checkAccounts(ui.AccountMenu),
		ui.TokenMonitorStart:    d.monitorStart,
		ui.TokenMonitorStop:     d.monitorStop,
		ui.TokenMonitorInterval: d.monitorInterval,
		ui.TokenReconnect:       d.reconnect,
		ui.TokenCancel: func(ctx context.Context, in Interaction) error {
			return d.cancel(ctx, in, true)
		},
	}
}

func (d *Dispatcher) settingsMenu(ctx context.Context, in Interaction) error {
	d.conv.Clear(in.UserID)
	s := d.store.Settings()

	apiID := "not set"
	if s.APIID != 0 {
		apiID = fmt.Sprint(s.APIID)
	}
	apiHash := "not set"
	if s.APIHash != "" {
		apiHash = "set"
	}
	monitoring := "🔴 stopped"
	if d.monitor.Running() {
		monitoring = "🟢 running"
	}
	return d.show(ctx, in, fmt.Sprintf(
		"⚙️ Settings\n\n🔑 API ID: %s\n🔐 API Hash: %s\n📡 Monitoring: %s\n⏱️ Interval: %s",
		apiID, apiHash, monitoring, d.monitor.Interval(),
	), ui.SettingsMenu())
}

func phones(accounts []store.Account) []string {
	out := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, acc.Phone)
	}
	return out
}

func (d *Dispatcher) viewPhones(ctx context.Context, in Interaction) error {
	accounts := d.store.Accounts()
	if len(accounts) == 0 {
		return d.show(ctx, in, ui.NoAccounts, ui.SettingsMenu())
	}
	var b strings.Builder
	b.WriteString("📱 Phones:\n\n")
	for _, phone := range phones(accounts) {
		b.WriteString(phone)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\nTotal: %d", len(accounts))
	return d.show(ctx, in, b.String(), ui.SettingsMenu())
}

func (d *Dispatcher) selectAccount(prefix, title string) menuFunc {
	return func(ctx context.Context, in Interaction) error {
		d.conv.Clear(in.UserID)
		accounts := d.store.Accounts()
		if len(accounts) == 0 {
			return d.show(ctx, in, ui.NoAccounts, ui.AccountMenu())
		}
		return d.show(ctx, in, title, ui.PhoneMenu(prefix, phones(accounts)))
	}
}

// getPhoneCode shows account selection and accepts typed phone as well.
func (d *Dispatcher) getPhoneCode(ctx context.Context, in Interaction) error {
	accounts := d.store.Accounts()
	if len(accounts) == 0 {
		return d.show(ctx, in, ui.NoAccounts, ui.AccountMenu())
	}
	w := d.workflows[GetPhoneCode]
	d.conv.Start(in.UserID, GetPhoneCode, w.first)
	return d.show(ctx, in, w.prompt, ui.PhoneMenu(ui.PrefixGetCode, phones(accounts)))
}

func (d *Dispatcher) removeAccount(ctx context.Context, in Interaction, phone string) error {
	d.conv.Clear(in.UserID)
	if err := d.pool.Teardown(phone); err != nil {
		zctx.From(ctx).Warn("Teardown", zap.String("phone", phone), zap.Error(err))
	}
	removed, err := d.store.RemoveAccount(phone)
	if err != nil {
		return errors.Wrap(err, "remove account")
	}
	if !removed {
		return d.show(ctx, in, fmt.Sprintf("❌ Account %s not found.", phone), ui.AccountMenu())
	}
	zctx.From(ctx).Info("Account removed", zap.String("phone", phone))
	return d.show(ctx, in, fmt.Sprintf("✅ Account %s removed.", phone), ui.AccountMenu())
}

func (d *Dispatcher) checkAccounts(kb func() *ui.Keyboard) menuFunc {
	return func(ctx context.Context, in Interaction) error {
		d.conv.Clear(in.UserID)
		if len(d.store.Accounts()) == 0 {
			return d.show(ctx, in, ui.NoAccounts, kb())
		}
		results, err := d.monitor.CheckAll(ctx)
		if err != nil {
			return errors.Wrap(err, "check accounts")
		}

		var b strings.Builder
		b.WriteString("📊 Account status:\n\n")
		for _, r := range results {
			fmt.Fprintf(&b, "%s %s: %s\n", ui.StatusEmoji(r.Status), r.Phone, r.Detail)
		}
		return d.show(ctx, in, b.String(), kb())
	}
}

func (d *Dispatcher) monitorStart(ctx context.Context, in Interaction) error {
	if d.monitor.Running() {
		return d.show(ctx, in, "🟢 Monitoring is already running.", ui.SettingsMenu())
	}
	// Monitoring outlives the interaction.
	d.monitor.Start(context.WithoutCancel(ctx))
	return d.show(ctx, in,
		fmt.Sprintf("🟢 Monitoring started, interval %s.", d.monitor.Interval()),
		ui.SettingsMenu(),
	)
}

func (d *Dispatcher) monitorStop(ctx context.Context, in Interaction) error {
	if !d.monitor.Running() {
		return d.show(ctx, in, "🔴 Monitoring is not running.", ui.SettingsMenu())
	}
	d.monitor.Stop()
	return d.show(ctx, in, "🔴 Monitoring stopped.", ui.SettingsMenu())
}

func (d *Dispatcher) monitorInterval(ctx context.Context, in Interaction) error {
	prompt := fmt.Sprintf("⏱️ Current check interval: %s.\n\n%s",
		d.monitor.Interval(), d.workflows[SetMonitorInterval].prompt,
	)
	return d.begin(ctx, in, SetMonitorInterval, prompt)
}

func (d *Dispatcher) reconnect(ctx context.Context, in Interaction) error {
	results := d.monitor.AutoReconnect(ctx)
	if len(results) == 0 {
		return d.show(ctx, in, "🔄 Nothing to reconnect.", ui.SettingsMenu())
	}
	var b strings.Builder
	b.WriteString("🔄 Reconnect results:\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "%s %s\n", ui.Mark(r.Err == nil), r)
	}
	return d.show(ctx, in, b.String(), ui.SettingsMenu())
}
