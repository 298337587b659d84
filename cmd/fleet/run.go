package main

import (
	"context"
	"io/fs"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/brpaz/echozap"
	"github.com/cockroachdb/pebble"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/gotd/fleet/internal/api"
	"github.com/gotd/fleet/internal/config"
	"github.com/gotd/fleet/internal/conversation"
	"github.com/gotd/fleet/internal/dispatch"
	"github.com/gotd/fleet/internal/metrics"
	"github.com/gotd/fleet/internal/monitor"
	"github.com/gotd/fleet/internal/notify"
	"github.com/gotd/fleet/internal/platform"
	"github.com/gotd/fleet/internal/pool"
	"github.com/gotd/fleet/internal/store"
	"github.com/gotd/fleet/internal/tgbot"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run admin bot, monitor and status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateBot(); err != nil {
				return err
			}
			app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Metrics) error {
				defer func() {
					if r := recover(); r != nil {
						lg.Error("panic", zap.Any("recover", r))
						debug.PrintStack()
					}
					lg.Info("Stopping")
				}()
				return runFleet(ctx, cfg, lg, m)
			})
			return nil
		},
	}
}

func runFleet(ctx context.Context, cfg config.Config, lg *zap.Logger, m *app.Metrics) (rerr error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabasePath(), &pebble.Options{})
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	st.WithLogger(lg.Named("store"))
	defer func() {
		multierr.AppendInto(&rerr, st.Close())
	}()
	for _, id := range cfg.AdminIDs {
		if st.IsAdmin(id) {
			continue
		}
		if err := st.AddAdmin(id, 0); err != nil {
			return errors.Wrapf(err, "add admin %d", id)
		}
		lg.Info("Admin granted", zap.Int64("user_id", id))
	}

	stateDB, err := bolt.Open(cfg.StatePath(), fs.ModePerm, bolt.DefaultOptions)
	if err != nil {
		return errors.Wrap(err, "state database")
	}
	defer func() {
		multierr.AppendInto(&rerr, stateDB.Close())
	}()

	dialer := platform.NewGotdDialer().
		WithLogger(lg.Named("dialer")).
		WithTestServer(cfg.TestDC)
	p, err := pool.New(dialer, st, lg.Named("pool"), m.MeterProvider(), m.TracerProvider())
	if err != nil {
		return errors.Wrap(err, "create pool")
	}
	p.WithRateLimit(rate.Limit(cfg.ActionRate), cfg.ActionBurst)
	defer func() {
		multierr.AppendInto(&rerr, p.Close())
	}()

	state := tgbot.NewBoltState(stateDB)
	sender := tgbot.NewSender(state).WithLogger(lg.Named("sender"))

	notifier := notify.New(sender, st).WithLogger(lg.Named("notify"))
	mon := monitor.New(p, st, notifier).WithLogger(lg.Named("monitor"))
	defer mon.Stop()

	conv := conversation.NewStore(cfg.ConversationTimeout)
	d := dispatch.New(st, p, mon, sender, conv).
		WithLogger(lg.Named("dispatch")).
		WithParallel(cfg.Parallel)

	mx, err := metrics.NewMetrics(m.MeterProvider().Meter("fleet.bot"))
	if err != nil {
		return errors.Wrap(err, "metrics")
	}
	h := metrics.NewMiddleware(d, mx).WithLogger(lg.Named("metrics"))
	router := tgbot.NewRouter(h, state).WithLogger(lg.Named("router"))
	bot := tgbot.New(tgbot.Options{
		AppID:       cfg.AppID,
		AppHash:     cfg.AppHash,
		Token:       cfg.BotToken,
		SessionPath: cfg.SessionPath(),
		TestServer:  cfg.TestDC,
		Logger:      lg.Named("bot"),
	}, state, sender, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := conv.Run(ctx); err != nil && ctx.Err() == nil {
			return errors.Wrap(err, "conversations")
		}
		return nil
	})

	// Bot outlives ctx until background tasks are done, so their
	// cancellation notices can still be delivered.
	botCtx, stopBot := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBot()
	g.Go(func() error {
		return bot.Run(botCtx)
	})
	g.Go(func() error {
		shutdown(ctx, d.Tasks().Shutdown, router.Wait, stopBot)
		return nil
	})
	g.Go(func() error {
		results := mon.Restore(ctx)
		lg.Info("Sessions restored", zap.Int("accounts", len(results)))
		if cfg.MonitorOnStart {
			mon.Start(context.WithoutCancel(ctx))
		}
		return nil
	})
	serveAPI(ctx, g, cfg.HTTPAddr, api.NewHandler(st, p, mon), lg.Named("http"))

	return g.Wait()
}

// shutdown waits for ctx and runs steps in order.
func shutdown(ctx context.Context, steps ...func()) {
	<-ctx.Done()
	for _, step := range steps {
		step()
	}
}

func serveAPI(ctx context.Context, g *errgroup.Group, addr string, h *api.Handler, logger *zap.Logger) {
	e := echo.New()
	e.HideBanner = true
	e.Use(
		middleware.Recover(),
		middleware.RequestID(),
		echozap.ZapLogger(logger.Named("requests")),
		api.Logger(logger),
	)
	h.RegisterRoutes(e)

	server := http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("ListenAndServe", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		logger.Info("Shutdown", zap.String("addr", server.Addr))
		if err := server.Shutdown(shutCtx); err != nil {
			return multierr.Append(err, server.Close())
		}
		return nil
	})
}
