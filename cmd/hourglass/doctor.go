package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/hourglass/internal/ai"
	"github.com/alekspetrov/hourglass/internal/config"
	"github.com/alekspetrov/hourglass/internal/logging"
	"github.com/alekspetrov/hourglass/internal/store"
)

// connectionTester is implemented by ticket sources and code hosts.
type connectionTester interface {
	Name() string
	TestConnection(ctx context.Context) error
}

func newDoctorCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and integrations",
		Long: `Validate the configuration, open the database and test every enabled
tracker and code host.

Examples:
  hourglass doctor
  hourglass doctor --offline   # skip network checks`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(cmd.OutOrStdout())
			failed := 0
			check := func(ok bool, name, detail string) {
				if !ok {
					failed++
				}
				p.check(ok, name, detail)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.Suppress()

			p.header("Hourglass Doctor")
			p.line("")
			p.line("System:")
			if path, err := exec.LookPath("git"); err != nil {
				check(false, "git", "not found in PATH")
			} else {
				check(true, "git", path)
			}
			for _, pc := range cfg.AI.Providers {
				if pc.Type != ai.TypeClaudeCode {
					continue
				}
				bin := pc.Command
				if bin == "" {
					bin = "claude"
				}
				_, err := exec.LookPath(bin)
				check(err == nil, pc.Name, describe(err, bin+" found"))
			}
			p.line("")

			p.line("Configuration:")
			var verr *config.ValidationError
			switch err := cfg.Validate(); {
			case err == nil:
				check(true, "config", "valid")
			case errors.As(err, &verr):
				for _, problem := range verr.Problems {
					check(false, "config", problem)
				}
			default:
				check(false, "config", err.Error())
			}
			p.line("")

			p.line("Storage:")
			st, err := store.Open(cfg.Storage)
			if err != nil {
				check(false, cfg.Storage.Driver, err.Error())
			} else {
				pingCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				err := st.Ping(pingCtx)
				cancel()
				check(err == nil, cfg.Storage.Driver, describe(err, "reachable"))
				_ = st.Close()
			}
			p.line("")

			if !offline {
				reg := registry(cfg)
				var testers []connectionTester
				for _, s := range reg.Sources {
					testers = append(testers, s)
				}
				for _, t := range reg.Targets {
					testers = append(testers, t)
				}
				p.line("Integrations:")
				if len(testers) == 0 {
					p.line("  none enabled")
				}
				for _, t := range testers {
					ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
					err := t.TestConnection(ctx)
					cancel()
					check(err == nil, t.Name(), describe(err, "connected"))
				}
				p.line("")
			}

			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			p.line("%s", p.render(okStyle, "All checks passed."))
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip tracker and code host connection tests")
	return cmd
}

func describe(err error, ok string) string {
	if err != nil {
		return err.Error()
	}
	return ok
}
