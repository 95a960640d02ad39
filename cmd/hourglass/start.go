package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/hourglass/internal/banner"
	"github.com/alekspetrov/hourglass/internal/cache"
	"github.com/alekspetrov/hourglass/internal/config"
	"github.com/alekspetrov/hourglass/internal/digest"
	"github.com/alekspetrov/hourglass/internal/gateway"
	"github.com/alekspetrov/hourglass/internal/logging"
	"github.com/alekspetrov/hourglass/internal/orchestrator"
)

func newStartCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Work tickets for a session until its hours run out",
		Long: `Run the orchestrator for one session. Tickets are pulled from the
configured trackers, solved, reviewed and published until the session is
paused, cancelled or out of hours.

The first Ctrl+C finishes the current ticket and stops. A second Ctrl+C
aborts immediately.

Examples:
  hourglass start --session 7f3c2a1e-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			eng, err := a.buildEngine()
			if err != nil {
				return err
			}
			sess, err := a.ledger.Get(ctx, sessionID)
			if err != nil {
				return err
			}
			log := logging.WithSession(sess.ID)
			banner.Print(cmd.OutOrStdout(), banner.Startup{
				Version:   version,
				SessionID: sess.ID,
				Customer:  sess.CustomerRef,
				Remaining: sess.RemainingHours,
				Sources:   a.cfg.EnabledSources(),
				Targets:   a.cfg.EnabledCodeHosts(),
				Features:  startupFeatures(a.cfg),
			})

			hub := gateway.NewHub()
			orch := orchestrator.New(sess.ID, orchestrator.Deps{
				Config:    a.cfg.Orchestrator,
				Ledger:    a.ledger,
				Tickets:   a.store,
				Sources:   eng.registry.Sources,
				Router:    eng.router,
				Processor: eng.pipeline,
				Notifier:  eng.notifier,
				Leases:    a.store,
				Events:    hub,
			})

			sigCh := make(chan os.Signal, 2)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case <-sigCh:
				case <-ctx.Done():
					return
				}
				log.Info("Stopping after the current ticket; interrupt again to abort")
				orch.Stop()
				select {
				case <-sigCh:
					log.Warn("Aborting")
					cancel()
				case <-ctx.Done():
				}
			}()

			srvCtx, stopServices := context.WithCancel(ctx)
			defer stopServices()
			gatewayDone := make(chan error, 1)
			if a.cfg.Gateway != nil && a.cfg.Gateway.Enabled {
				srv := gateway.NewServer(a.cfg.Gateway, a.ledger, a.store, hub)
				go func() { gatewayDone <- srv.Start(srvCtx) }()
			} else {
				close(gatewayDone)
			}

			if a.cfg.Digest != nil && a.cfg.Digest.Enabled {
				sched := digest.NewScheduler(a.cfg.Digest, a.ledger, eng.notifier)
				if err := sched.Start(srvCtx); err != nil {
					return err
				}
				defer sched.Stop()
				log.Info("Digest scheduled", slog.Time("next_run", sched.NextRun()))
			}

			runErr := orch.Run(ctx)
			stopServices()
			gwErr := <-gatewayDone
			if gwErr != nil {
				log.Error("Gateway failed", slog.Any("error", gwErr))
			}

			switch {
			case runErr == nil, errors.Is(runErr, context.Canceled):
			default:
				return runErr
			}

			final, err := a.ledger.Get(context.WithoutCancel(ctx), sess.ID)
			if err == nil {
				newPrinter(cmd.OutOrStdout()).report(a.ledger.Report(final))
			}
			return gwErr
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session to work for")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func startupFeatures(cfg *config.Config) []banner.Feature {
	var features []banner.Feature
	if cfg.Gateway != nil {
		f := banner.Feature{Name: "gateway", Enabled: cfg.Gateway.Enabled}
		if f.Enabled {
			f.Note = cfg.Gateway.Addr()
		}
		features = append(features, f)
	}
	if cfg.Digest != nil {
		f := banner.Feature{Name: "digest", Enabled: cfg.Digest.Enabled}
		if f.Enabled {
			f.Note = cfg.Digest.Schedule
		}
		features = append(features, f)
	}
	if cfg.Review != nil {
		features = append(features, banner.Feature{Name: "review", Enabled: cfg.Review.Enabled})
	}
	if cfg.Notifications != nil {
		features = append(features, banner.Feature{
			Name:    "email",
			Enabled: cfg.Notifications.Email != nil && cfg.Notifications.Email.Enabled,
		}, banner.Feature{
			Name:    "webhooks",
			Enabled: len(cfg.Notifications.Webhooks) > 0,
		})
	}
	if cfg.Cache != nil {
		features = append(features, banner.Feature{
			Name:    "cache",
			Enabled: cfg.Cache.Backend != "" && cfg.Cache.Backend != cache.BackendNone,
			Note:    cfg.Cache.Backend,
		})
	}
	return features
}
