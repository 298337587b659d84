package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/gotd/fleet/internal/pool"
	"github.com/gotd/fleet/internal/store"
	"github.com/gotd/fleet/internal/ui"
)

// Sequence is a parameters of sequential post report.
type Sequence struct {
	Links    []string
	Interval time.Duration
	Repeats  int
}

func progress(round, repeats, idx, total int, link string, results []ui.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Round %d/%d, link %d/%d\n🔗 %s\n\n", round, repeats, idx, total, link)
	for _, r := range results {
		tag := "OK"
		if !r.OK {
			tag = "ERR"
		}
		fmt.Fprintf(&b, "%s: %s\n", r.Phone, tag)
	}
	return b.String()
}

// sleep waits for d, returning false if ctx is done first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runSequence reports every link with all accounts for seq.Repeats rounds,
// sending progress notice to owner after each link.
func (d *Dispatcher) runSequence(ctx context.Context, owner, reportID int64, seq Sequence) {
	lg := zctx.From(ctx).With(zap.Int64("report_id", reportID))
	notify := func(text string) {
		// Final notices must be delivered after cancellation too.
		if err := d.out.SendText(context.WithoutCancel(ctx), owner, text, nil); err != nil {
			lg.Warn("Send progress", zap.Error(err))
		}
	}

	var (
		succeeded bool
		sent      int
		total     = seq.Repeats * len(seq.Links)
	)
	finish := func(canceled bool) {
		status := store.ReportFailed
		if succeeded {
			status = store.ReportCompleted
		}
		if err := d.store.FinishReport(reportID, status); err != nil {
			lg.Warn("Finish report", zap.Error(err))
		}
		if canceled {
			lg.Info("Sequenced report canceled", zap.Int("sent", sent))
			notify(fmt.Sprintf("⏹ Sequential report canceled after %d of %d reports.", sent, total))
			return
		}
		lg.Info("Sequenced report finished", zap.Int("sent", sent))
		notify(fmt.Sprintf("✅ Sequential report finished: %d reports sent.", sent))
	}

	for round := 1; round <= seq.Repeats; round++ {
		for i, link := range seq.Links {
			if ctx.Err() != nil {
				finish(true)
				return
			}
			results := d.fanOut(ctx, func(ctx context.Context, phone string) pool.Outcome {
				return d.pool.ReportPosts(ctx, phone, []string{link})
			})
			if anySucceeded(results) {
				succeeded = true
			}
			sent++
			notify(progress(round, seq.Repeats, i+1, len(seq.Links), link, results))

			if sent == total {
				break
			}
			if !sleep(ctx, seq.Interval) {
				finish(true)
				return
			}
		}
	}
	finish(false)
}
