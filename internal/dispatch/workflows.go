package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/gotd/fleet/internal/conversation"
	"github.com/gotd/fleet/internal/platform"
	"github.com/gotd/fleet/internal/pool"
	"github.com/gotd/fleet/internal/ui"
)

// Workflows.
const (
	AddAdmin             conversation.Workflow = "add-admin"
	RemoveAdmin          conversation.Workflow = "remove-admin"
	AddAccount           conversation.Workflow = "add-account"
	ReportChannel        conversation.Workflow = "report-channel"
	ReportPosts          conversation.Workflow = "report-posts"
	ReportPostsSequenced conversation.Workflow = "report-posts-sequenced"
	JoinChat             conversation.Workflow = "join-chat"
	LeaveChat            conversation.Workflow = "leave-chat"
	SendMessage          conversation.Workflow = "send-message"
	NegativeReaction     conversation.Workflow = "negative-reaction"
	GetPhoneCode         conversation.Workflow = "get-phone-code"
	VerifyCode           conversation.Workflow = "verify-code"
	SetAPIID             conversation.Workflow = "set-api-id"
	SetAPIHash           conversation.Workflow = "set-api-hash"
	SetMonitorInterval   conversation.Workflow = "set-monitor-interval"
)

// Steps.
const (
	awaitAdmin        conversation.Step = "await_admin"
	awaitAdminID      conversation.Step = "await_admin_id"
	awaitPhone        conversation.Step = "await_phone"
	awaitTarget       conversation.Step = "await_target"
	awaitLinks        conversation.Step = "await_links"
	awaitInterval     conversation.Step = "await_interval"
	awaitRepeats      conversation.Step = "await_repeats"
	awaitUserID       conversation.Step = "await_user_id"
	awaitMessageBody  conversation.Step = "await_message_body"
	awaitPostLink     conversation.Step = "await_post_link"
	awaitPhoneAndCode conversation.Step = "await_phone_and_code"
	awaitAPIID        conversation.Step = "await_api_id"
	awaitAPIHash      conversation.Step = "await_api_hash"
)

// Collected fields.
const (
	fieldLinks    = "links"
	fieldInterval = "interval"
	fieldUserID   = "user_id"
)

const restart = "\n\nStart again from the menu."

type stepFunc func(ctx context.Context, in Interaction, st conversation.State, text string) error

type step struct {
	handle stepFunc
	// terminal step clears conversation before handling input.
	terminal bool
}

type workflow struct {
	first  conversation.Step
	prompt string
	steps  map[conversation.Step]step
}

func single(first conversation.Step, prompt string, f stepFunc) workflow {
	return workflow{
		first:  first,
		prompt: prompt,
		steps: map[conversation.Step]step{
			first: {handle: f, terminal: true},
		},
	}
}

func startTable() map[string]conversation.Workflow {
	return map[string]conversation.Workflow{
		ui.TokenAddAdmin:         AddAdmin,
		ui.TokenRemoveAdmin:      RemoveAdmin,
		ui.TokenAddAccount:       AddAccount,
		ui.TokenReportChannel:    ReportChannel,
		ui.TokenReportPost:       ReportPosts,
		ui.TokenReportPostSeq:    ReportPostsSequenced,
		ui.TokenJoinChat:         JoinChat,
		ui.TokenLeaveChat:        LeaveChat,
		ui.TokenSendMessage:      SendMessage,
		ui.TokenNegativeReaction: NegativeReaction,
		ui.TokenVerifyCode:       VerifyCode,
		ui.TokenSetAPIID:         SetAPIID,
		ui.TokenSetAPIHash:       SetAPIHash,
	}
}

func (d *Dispatcher) workflowTable() map[conversation.Workflow]workflow {
	return map[conversation.Workflow]workflow{
		AddAdmin: single(awaitAdmin,
			"👤 Send user ID of new admin and optional duration in days:\n<user_id> [days]",
			d.addAdmin,
		),
		RemoveAdmin: single(awaitAdminID,
			"👤 Send user ID of admin to remove:",
			d.removeAdmin,
		),
		AddAccount: single(awaitPhone,
			"📱 Send phone number in international format, e.g. +12345678900:",
			d.addAccount,
		),
		ReportChannel: single(awaitTarget,
			"📢 Send channel or group username or link:",
			d.batchTarget(ReportChannel, "📢 Report results", d.pool.ReportEntity),
		),
		ReportPosts: single(awaitLinks,
			"📝 Send post links, one per line:\nhttps://t.me/channel/123",
			d.reportPosts,
		),
		ReportPostsSequenced: {
			first:  awaitLinks,
			prompt: "⚡ Send post links, one per line:\nhttps://t.me/channel/123",
			steps: map[conversation.Step]step{
				awaitLinks:    {handle: d.sequenceLinks},
				awaitInterval: {handle: d.sequenceInterval},
				awaitRepeats:  {handle: d.sequenceRepeats, terminal: true},
			},
		},
		JoinChat: single(awaitTarget,
			"🔗 Send chat username or invite link:",
			d.batchTarget(JoinChat, "➕ Join results", d.pool.JoinChat),
		),
		LeaveChat: single(awaitTarget,
			"🔗 Send chat username or link to leave:",
			d.batchTarget(LeaveChat, "➖ Leave results", d.pool.LeaveChat),
		),
		SendMessage: {
			first:  awaitUserID,
			prompt: "💬 Send user ID of recipient:",
			steps: map[conversation.Step]step{
				awaitUserID:      {handle: d.messageRecipient},
				awaitMessageBody: {handle: d.messageBody, terminal: true},
			},
		},
		NegativeReaction: single(awaitPostLink,
			"👎 Send post link:\nhttps://t.me/channel/123",
			d.negativeReaction,
		),
		GetPhoneCode: single(awaitPhone,
			"📞 Select account or send phone number:",
			func(ctx context.Context, in Interaction, _ conversation.State, text string) error {
				return d.requestCode(ctx, in, text)
			},
		),
		VerifyCode: single(awaitPhoneAndCode,
			"✅ Send phone and code:\n<phone> <code>",
			d.verifyCode,
		),
		SetAPIID: single(awaitAPIID,
			"🔑 Send API ID:",
			d.setAPIID,
		),
		SetAPIHash: single(awaitAPIHash,
			"🔐 Send API Hash:",
			d.setAPIHash,
		),
		SetMonitorInterval: single(awaitInterval,
			"⏱️ Send check interval in seconds:",
			d.setMonitorInterval,
		),
	}
}

// parseLinks splits text to non-blank lines.
func parseLinks(text string) []string {
	var links []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			links = append(links, line)
		}
	}
	return links
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// errorText returns user-facing description of operation error.
func errorText(err error) string {
	var (
		authErr  *platform.AuthError
		floodErr *platform.FloodWaitError
	)
	switch {
	case errors.As(err, &authErr):
		return authErr.Error()
	case errors.As(err, &floodErr):
		return fmt.Sprintf("too many attempts, retry after %d seconds", floodErr.Seconds)
	case errors.Is(err, platform.ErrNotFound):
		return "no pending code request, request a new code"
	default:
		return err.Error()
	}
}

func (d *Dispatcher) addAdmin(ctx context.Context, in Interaction, _ conversation.State, text string) error {
	fields := strings.Fields(text)
	if len(fields) == 0 || len(fields) > 2 {
		return d.reply(ctx, in, "❌ Invalid format, expected <user_id> [days]."+restart, ui.AdminMenu())
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return d.reply(ctx, in, "❌ User ID must be a number."+restart, ui.AdminMenu())
	}
	var days int
	if len(fields) == 2 {
		if days, err = strconv.Atoi(fields[1]); err != nil || days < 0 {
			return d.reply(ctx, in, "❌ Duration must be a number of days."+restart, ui.AdminMenu())
		}
	}

	if err := d.store.AddAdmin(id, time.Duration(days)*24*time.Hour); err != nil {
		return errors.Wrap(err, "add admin")
	}
	zctx.From(ctx).Info("Admin added", zap.Int64("admin_id", id), zap.Int("days", days))

	text = fmt.Sprintf("✅ Admin %d added permanently.", id)
	if days > 0 {
		text = fmt.Sprintf("✅ Admin %d added for %d days.", id, days)
	}
	return d.reply(ctx, in, text, ui.AdminMenu())
}

func (d *Dispatcher) removeAdmin(ctx context.Context, in Interaction, _ conversation.State, text string) error {
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return d.reply(ctx, in, "❌ User ID must be a number."+restart, ui.AdminMenu())
	}
	removed, err := d.store.RemoveAdmin(id)
	if err != nil {
		return errors.Wrap(err, "remove admin")
	}
	if !removed {
		return d.reply(ctx, in, fmt.Sprintf("❌ Admin %d not found.", id), ui.AdminMenu())
	}
	zctx.From(ctx).Info("Admin removed", zap.Int64("admin_id", id))
	return d.reply(ctx, in, fmt.Sprintf("✅ Admin %d removed.", id), ui.AdminMenu())
}

func (d *Dispatcher) addAccount(ctx context.Context, in Interaction, _ conversation.State, text string) error {
	phone, err := platform.NormalizePhone(text)
	if err != nil {
		return d.reply(ctx, in, "❌ Invalid phone, expected international format like +12345678900."+restart, ui.AccountMenu())
	}
	apiID, apiHash := d.store.Credentials()
	if apiID == 0 || apiHash == "" {
		return d.reply(ctx, in, "❌ Set API ID and API Hash in settings first.", ui.SettingsMenu())
	}
	if err := d.store.AddAccount(phone, 0, "", nil); err != nil {
		return errors.Wrap(err, "add account")
	}
	zctx.From(ctx).Info("Account added", zap.String("phone", phone))
	return d.reply(ctx, in,
		fmt.Sprintf("✅ Account %s added.\n\nUse \"Get code\" to authorize it.", phone),
		ui.AccountMenu(),
	)
}

func (d *Dispatcher) reportPosts(ctx context.Context, in Interaction, _ conversation.State, text string) error {
	links := parseLinks(text)
	if len(links) == 0 {
		return d.reply(ctx, in, "❌ No links provided."+restart, ui.MainMenu())
	}
	return d.batch(ctx, in, ReportPosts, strings.Join(links, "\n"), "📝 Report results",
		func(ctx context.Context, phone string) pool.Outcome {
			return d.pool.ReportPosts(ctx, phone, links)
		},
	)
}

func (d *Dispatcher) sequenceLinks(ctx context.Context, in Interaction, _ conversation.State, text string) error {
	links := parseLinks(text)
	if len(links) == 0 {
		return d.reply(ctx, in, "❌ No links provided, send at least one link:", ui.CancelMenu())
	}
	d.conv.Advance(in.UserID, awaitInterval, fieldLinks, strings.Join(links, "\n"))
	return d.reply(ctx, in,
		fmt.Sprintf("✅ Got %d links.\n\n⏱️ Send interval between reports in seconds:", len(links)),
		ui.CancelMenu(),
	)
}

func (d *Dispatcher) sequenceInterval(ctx context.Context, in Interaction, _ conversation.State, text string) error {
	n, err := strconv.Atoi(text)
	if err != nil {
		return d.reply(ctx, in, "❌ Interval must be a number of seconds, try again:", ui.CancelMenu())
	}
	d.conv.Advance(in.UserID, awaitRepeats, fieldInterval, strconv.Itoa(atLeastOne(n)))
	return d.reply(ctx, in, "🔁 Send number of rounds:", ui.CancelMenu())
}

func (d *Dispatcher) sequenceRepeats(ctx context.Context, in Interaction, st conversation.State, text string) error {
	repeats, err := strconv.Atoi(text)
	if err != nil {
		return d.reply(ctx, in, "❌ Number of rounds must be a number."+restart, ui.MainMenu())
	}
	interval, err := strconv.Atoi(st.Field(fieldInterval))
	if err != nil {
		return errors.Wrap(err, "parse interval")
	}
	seq := Sequence{
		Links:    parseLinks(st.Field(fieldLinks)),
		Interval: time.Duration(interval) * time.Second,
		Repeats:  atLeastOne(repeats),
	}
	if len(d.store.Accounts()) == 0 {
		return d.reply(ctx, in, ui.NoAccounts, ui.MainMenu())
	}

	reportID, err := d.store.AddReport(in.UserID, string(ReportPostsSequenced), strings.Join(seq.Links, "\n"))
	if err != nil {
		return errors.Wrap(err, "add report")
	}
	id := d.tasks.Start(ctx, in.UserID, func(ctx context.Context) {
		d.runSequence(ctx, in.UserID, reportID, seq)
	})
	zctx.From(ctx).Info("Sequenced report started",
		zap.Stringer("task_id", id),
		zap.Int64("report_id", reportID),
		zap.Int("links", len(seq.Links)),
		zap.Int("repeats", seq.Repeats),
		zap.Duration("interval", seq.Interval),
	)
	return d.reply(ctx, in, fmt.Sprintf(
		"⚡ Sequential report started.\n\n📝 Links: %d\n🔁 Rounds: %d\n⏱️ Interval: %s\n\nUse /cancel to stop.",
		len(seq.Links), seq.Repeats, seq.Interval,
	), ui.MainMenu())
}

func (d *Dispatcher) messageRecipient(ctx context.Context, in Interaction, _ conversation.State, text string) error {
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return d.reply(ctx, in, "❌ User ID must be a number, try again:", ui.CancelMenu())
	}
	d.conv.Advance(in.UserID, awaitMessageBody, fieldUserID, strconv.FormatInt(id, 10))
	return d.reply(ctx, in, "💬 Send message text:", ui.CancelMenu())
}

func (d *Dispatcher) messageBody(ctx context.Context, in Interaction, st conversation.State, text string) error {
	if text == "" {
		return d.reply(ctx, in, "❌ Message is empty."+restart, ui.MainMenu())
	}
	userID, err := strconv.ParseInt(st.Field(fieldUserID), 10, 64)
	if err != nil {
		return errors.Wrap(err, "parse user id")
	}
	return d.batch(ctx, in, SendMessage, st.Field(fieldUserID), "💬 Send results",
		func(ctx context.Context, phone string) pool.Outcome {
			return d.pool.SendDirectMessage(ctx, phone, userID, text)
		},
	)
}

func (d *Dispatcher) negativeReaction(ctx context.Context, in Interaction, _ conversation.State, text string) error {
	if _, err := platform.ParsePostLink(text); err != nil {
		return d.reply(ctx, in, "❌ Invalid link, expected https://t.me/channel/123."+restart, ui.MainMenu())
	}
	return d.batch(ctx, in, NegativeReaction, text, "👎 Reaction results",
		func(ctx context.Context, phone string) pool.Outcome {
			return d.pool.ApplyReaction(ctx, phone, text, pool.NegativeReaction)
		},
	)
}

// credentials returns api_id and api_hash of account, falling back to
// global ones.
func (d *Dispatcher) credentials(phone string) (int, string) {
	if acc, ok := d.store.Account(phone); ok && acc.APIID != 0 && acc.APIHash != "" {
		return acc.APIID, acc.APIHash
	}
	return d.store.Credentials()
}

func (d *Dispatcher) requestCode(ctx context.Context, in Interaction, text string) error {
	phone, err := platform.NormalizePhone(text)
	if err != nil {
		return d.reply(ctx, in, "❌ Invalid phone, expected international format like +12345678900."+restart, ui.AccountMenu())
	}
	if _, ok := d.store.Account(phone); !ok {
		return d.reply(ctx, in, fmt.Sprintf("❌ Account %s not found, add it first.", phone), ui.AccountMenu())
	}

	apiID, apiHash := d.credentials(phone)
	if _, err := d.pool.RequestCode(ctx, phone, apiID, apiHash); err != nil {
		zctx.From(ctx).Warn("Request code", zap.String("phone", phone), zap.Error(err))
		return d.reply(ctx, in, fmt.Sprintf("❌ Failed to send code to %s: %s", phone, errorText(err)), ui.AccountMenu())
	}
	return d.reply(ctx, in, fmt.Sprintf(
		"✅ Code sent to %s.\n\nUse \"Verify code\" and send:\n%s <code>", phone, phone,
	), ui.AccountMenu())
}

func (d *Dispatcher) verifyCode(ctx context.Context, in Interaction, _ conversation.State, text string) error {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return d.reply(ctx, in, "❌ Invalid format, expected <phone> <code>."+restart, ui.AccountMenu())
	}
	phone, err := platform.NormalizePhone(fields[0])
	if err != nil {
		return d.reply(ctx, in, "❌ Invalid phone, expected international format like +12345678900."+restart, ui.AccountMenu())
	}

	apiID, apiHash := d.credentials(phone)
	res, err := d.pool.VerifyCode(ctx, pool.VerifyRequest{
		Phone:   phone,
		Code:    fields[1],
		AppID:   apiID,
		AppHash: apiHash,
	})
	if err != nil {
		zctx.From(ctx).Warn("Verify code", zap.String("phone", phone), zap.Error(err))
		return d.reply(ctx, in, fmt.Sprintf("❌ Verification of %s failed: %s", phone, errorText(err)), ui.AccountMenu())
	}
	if !res.Connected {
		return d.reply(ctx, in, fmt.Sprintf(
			"✅ Account %s verified, session saved.\n⚠️ Not connected yet: %s", phone, res.Warning,
		), ui.AccountMenu())
	}
	return d.reply(ctx, in, fmt.Sprintf("✅ Account %s authorized and connected.", phone), ui.AccountMenu())
}

func (d *Dispatcher) setAPIID(ctx context.Context, in Interaction, _ conversation.State, text string) error {
	id, err := strconv.Atoi(text)
	if err != nil || id <= 0 {
		return d.reply(ctx, in, "❌ API ID must be a positive number."+restart, ui.SettingsMenu())
	}
	if err := d.store.SetAPIID(id); err != nil {
		return errors.Wrap(err, "set api id")
	}
	return d.reply(ctx, in, fmt.Sprintf("✅ API ID set to %d.", id), ui.SettingsMenu())
}

func (d *Dispatcher) setAPIHash(ctx context.Context, in Interaction, _ conversation.State, text string) error {
	if text == "" || strings.ContainsAny(text, " \t\n") {
		return d.reply(ctx, in, "❌ Invalid API Hash."+restart, ui.SettingsMenu())
	}
	if err := d.store.SetAPIHash(text); err != nil {
		return errors.Wrap(err, "set api hash")
	}
	return d.reply(ctx, in, "✅ API Hash updated.", ui.SettingsMenu())
}

func (d *Dispatcher) setMonitorInterval(ctx context.Context, in Interaction, _ conversation.State, text string) error {
	n, err := strconv.Atoi(text)
	if err != nil || n <= 0 {
		return d.reply(ctx, in, "❌ Interval must be a positive number of seconds."+restart, ui.SettingsMenu())
	}
	applied, err := d.monitor.SetInterval(time.Duration(n) * time.Second)
	if err != nil {
		return errors.Wrap(err, "set interval")
	}
	return d.reply(ctx, in, fmt.Sprintf("✅ Check interval set to %s.", applied), ui.SettingsMenu())
}
