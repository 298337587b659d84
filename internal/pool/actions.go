package pool

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/gotd/fleet/internal/platform"
)

// NegativeReaction is the reaction applied by ApplyReaction by default.
const NegativeReaction = "👎"

// Outcome of action on single account.
type Outcome struct {
	OK      bool
	Message string
}

func failure(err error) Outcome {
	return Outcome{Message: "Error: " + err.Error()}
}

func success(format string, args ...any) Outcome {
	return Outcome{OK: true, Message: fmt.Sprintf(format, args...)}
}

// do calls f with live client of phone, honoring handle rate limit.
func (p *Pool) do(ctx context.Context, phone, action string, f func(ctx context.Context, c platform.Client) Outcome) Outcome {
	h, ok := p.handle(phone)
	if !ok {
		return Outcome{Message: platform.ErrNotConnected.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := h.limiter.Wait(ctx); err != nil {
		return failure(err)
	}
	out := f(ctx, h.client)
	if !out.OK {
		p.log.Info("Action failed",
			zap.String("phone", phone),
			zap.String("action", action),
			zap.String("message", out.Message),
		)
	}
	return out
}

// ReportEntity reports channel, group or user.
func (p *Pool) ReportEntity(ctx context.Context, phone, target string) Outcome {
	return p.do(ctx, phone, "report", func(ctx context.Context, c platform.Client) Outcome {
		if err := c.ReportPeer(ctx, target); err != nil {
			return failure(err)
		}
		return success("Successfully reported %s", target)
	})
}

// ReportPosts reports each post link, producing one line per link.
//
// Outcome is OK only if every link was reported.
func (p *Pool) ReportPosts(ctx context.Context, phone string, links []string) Outcome {
	h, ok := p.handle(phone)
	if !ok {
		return Outcome{Message: platform.ErrNotConnected.Error()}
	}

	var (
		lines []string
		all   = true
	)
	for _, link := range links {
		line, ok := p.reportPost(ctx, h, link)
		all = all && ok
		lines = append(lines, line)
	}
	return Outcome{OK: all, Message: strings.Join(lines, "\n")}
}

func (p *Pool) reportPost(ctx context.Context, h *handle, link string) (string, bool) {
	post, err := platform.ParsePostLink(link)
	if err != nil {
		return fmt.Sprintf("❌ Invalid link format: %s", link), false
	}
	if err := h.limiter.Wait(ctx); err != nil {
		return fmt.Sprintf("❌ Error reporting %s: %s", link, err), false
	}
	if err := h.client.ReportMessage(ctx, post.Channel, post.MsgID); err != nil {
		return fmt.Sprintf("❌ Error reporting %s: %s", link, err), false
	}
	return fmt.Sprintf("✅ Reported %s", link), true
}

// JoinChat joins chat by username or link.
func (p *Pool) JoinChat(ctx context.Context, phone, target string) Outcome {
	return p.do(ctx, phone, "join", func(ctx context.Context, c platform.Client) Outcome {
		if err := c.Join(ctx, target); err != nil {
			return failure(err)
		}
		return success("Successfully joined %s", target)
	})
}

// LeaveChat leaves chat.
func (p *Pool) LeaveChat(ctx context.Context, phone, target string) Outcome {
	return p.do(ctx, phone, "leave", func(ctx context.Context, c platform.Client) Outcome {
		if err := c.Leave(ctx, target); err != nil {
			return failure(err)
		}
		return success("Successfully left %s", target)
	})
}

// SendDirectMessage sends text to user.
func (p *Pool) SendDirectMessage(ctx context.Context, phone string, userID int64, text string) Outcome {
	return p.do(ctx, phone, "send", func(ctx context.Context, c platform.Client) Outcome {
		if err := c.SendMessage(ctx, userID, text); err != nil {
			return failure(err)
		}
		return success("Message sent to %d", userID)
	})
}

// ApplyReaction reacts to post link.
func (p *Pool) ApplyReaction(ctx context.Context, phone, link, emoji string) Outcome {
	post, err := platform.ParsePostLink(link)
	if err != nil {
		return failure(err)
	}
	return p.do(ctx, phone, "reaction", func(ctx context.Context, c platform.Client) Outcome {
		if err := c.SendReaction(ctx, post.Channel, post.MsgID, emoji); err != nil {
			return failure(err)
		}
		return success("Reaction %s applied to %s", emoji, link)
	})
}
