package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/alekspetrov/hourglass/internal/adapters"
	"github.com/alekspetrov/hourglass/internal/adapters/github"
	"github.com/alekspetrov/hourglass/internal/adapters/gitlab"
	"github.com/alekspetrov/hourglass/internal/adapters/jira"
	"github.com/alekspetrov/hourglass/internal/ai"
	"github.com/alekspetrov/hourglass/internal/cache"
	"github.com/alekspetrov/hourglass/internal/clock"
	"github.com/alekspetrov/hourglass/internal/config"
	"github.com/alekspetrov/hourglass/internal/logging"
	"github.com/alekspetrov/hourglass/internal/notify"
	"github.com/alekspetrov/hourglass/internal/pipeline"
	"github.com/alekspetrov/hourglass/internal/review"
	"github.com/alekspetrov/hourglass/internal/routing"
	"github.com/alekspetrov/hourglass/internal/session"
	"github.com/alekspetrov/hourglass/internal/store"
)

// app holds the collaborators shared by commands.
type app struct {
	cfg     *config.Config
	store   *store.Store
	ledger  *session.Ledger
	closers []io.Closer
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// openApp loads configuration, initializes logging and opens storage.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := logging.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	clk := clock.Real()
	st, err := store.Open(cfg.Storage, store.WithClock(clk))
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: st, closers: []io.Closer{st}}

	c, closer, err := cache.New(ctx, cfg.Cache, clk)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closer)
	opts := []session.Option{session.WithClock(clk)}
	if c != nil {
		opts = append(opts, session.WithCache(c))
	}
	a.ledger = session.NewLedger(st, opts...)
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	errs = append(errs, logging.Close())
	return errors.Join(errs...)
}

// registry builds the enabled ticket sources and code hosts.
func registry(cfg *config.Config) *adapters.Registry {
	r := &adapters.Registry{}
	if ts := cfg.TicketSources; ts != nil {
		r.DefaultSource = ts.Default
		if ts.GitHub != nil && ts.GitHub.Enabled {
			r.Sources = append(r.Sources, github.NewSource(ts.GitHub))
		}
		if ts.Jira != nil && ts.Jira.Enabled {
			r.Sources = append(r.Sources, jira.NewSource(ts.Jira))
		}
		if ts.GitLab != nil && ts.GitLab.Enabled {
			r.Sources = append(r.Sources, gitlab.NewSource(ts.GitLab))
		}
	}
	if ch := cfg.CodeHosts; ch != nil {
		r.DefaultTarget = ch.Default
		if ch.GitHub != nil && ch.GitHub.Enabled {
			r.Targets = append(r.Targets, github.NewPublisher(ch.GitHub))
		}
		if ch.GitLab != nil && ch.GitLab.Enabled {
			r.Targets = append(r.Targets, gitlab.NewPublisher(ch.GitLab))
		}
	}
	return r
}

// engine is everything the orchestrator needs beyond storage.
type engine struct {
	router   *routing.Router
	registry *adapters.Registry
	pipeline *pipeline.Pipeline
	notifier *notify.Dispatcher
}

func (a *app) buildEngine() (*engine, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	router, err := a.cfg.Router()
	if err != nil {
		return nil, err
	}
	chain, err := ai.New(a.cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	reg := registry(a.cfg)

	deps := pipeline.Deps{
		Tickets:   a.store,
		Router:    router,
		Registry:  reg,
		Generator: chain,
		Reviewer:  review.NewGate(a.cfg.Review, chain),
	}
	if a.cfg.Retry != nil {
		deps.Retry = *a.cfg.Retry
	}
	return &engine{
		router:   router,
		registry: reg,
		pipeline: pipeline.New(deps),
		notifier: notify.New(a.cfg.Notifications),
	}, nil
}
