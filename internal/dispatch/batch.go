package dispatch

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gotd/fleet/internal/conversation"
	"github.com/gotd/fleet/internal/pool"
	"github.com/gotd/fleet/internal/store"
	"github.com/gotd/fleet/internal/ui"
)

type accountFunc func(ctx context.Context, phone string) pool.Outcome

// fanOut calls f for every account, keeping account order in results.
func (d *Dispatcher) fanOut(ctx context.Context, f accountFunc) []ui.Result {
	accounts := d.store.Accounts()
	results := make([]ui.Result, len(accounts))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallel)
	for i, acc := range accounts {
		i, acc := i, acc
		g.Go(func() error {
			results[i] = ui.Result{Phone: acc.Phone}
			defer func() {
				if r := recover(); r != nil {
					zctx.From(ctx).Error("Panic",
						zap.String("phone", acc.Phone),
						zap.Any("recover", r),
					)
					results[i].Message = fmt.Sprintf("Error: panic: %v", r)
				}
			}()
			out := f(gCtx, acc.Phone)
			results[i].OK = out.OK
			results[i].Message = out.Message
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func anySucceeded(results []ui.Result) bool {
	for _, r := range results {
		if r.OK {
			return true
		}
	}
	return false
}

// batch runs f on every account, records report and replies with one
// line per account.
func (d *Dispatcher) batch(
	ctx context.Context, in Interaction,
	kind conversation.Workflow, target, title string,
	f accountFunc,
) error {
	if len(d.store.Accounts()) == 0 {
		return d.reply(ctx, in, ui.NoAccounts, ui.MainMenu())
	}
	id, err := d.store.AddReport(in.UserID, string(kind), target)
	if err != nil {
		return errors.Wrap(err, "add report")
	}

	results := d.fanOut(ctx, f)
	status := store.ReportFailed
	if anySucceeded(results) {
		status = store.ReportCompleted
	}
	if err := d.store.FinishReport(id, status); err != nil {
		zctx.From(ctx).Warn("Finish report", zap.Int64("report_id", id), zap.Error(err))
	}
	zctx.From(ctx).Info("Batch finished",
		zap.String("kind", string(kind)),
		zap.Int64("report_id", id),
		zap.String("status", string(status)),
	)
	return d.reply(ctx, in, ui.Results(title, results), ui.MainMenu())
}

// batchTarget returns terminal step running f with entered target.
func (d *Dispatcher) batchTarget(
	kind conversation.Workflow, title string,
	f func(ctx context.Context, phone, target string) pool.Outcome,
) stepFunc {
	return func(ctx context.Context, in Interaction, _ conversation.State, text string) error {
		if text == "" {
			return d.reply(ctx, in, "❌ Target is empty."+restart, ui.MainMenu())
		}
		return d.batch(ctx, in, kind, text, title, func(ctx context.Context, phone string) pool.Outcome {
			return f(ctx, phone, text)
		})
	}
}
