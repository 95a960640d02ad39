package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/hourglass/internal/session"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage prepaid hour sessions",
	}
	cmd.AddCommand(
		newSessionCreateCmd(),
		newSessionListCmd(),
		newSessionShowCmd(),
		newSessionStatusCmd("pause", "Pause a session; the orchestrator idles until resumed",
			func(c *cobra.Command, a *app, id string) (*session.Session, error) { return a.ledger.Pause(c.Context(), id) }),
		newSessionStatusCmd("resume", "Resume a paused session",
			func(c *cobra.Command, a *app, id string) (*session.Session, error) { return a.ledger.Resume(c.Context(), id) }),
		newSessionStatusCmd("cancel", "Cancel a session permanently",
			func(c *cobra.Command, a *app, id string) (*session.Session, error) { return a.ledger.Cancel(c.Context(), id) }),
	)
	return cmd
}

func newSessionCreateCmd() *cobra.Command {
	var (
		customer string
		hours    float64
		meta     []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session with purchased hours",
		Long: `Create a session with a prepaid hour budget.

Examples:
  hourglass session create --customer acme --hours 40
  hourglass session create --customer acme --hours 10 --meta invoice=INV-204`,
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata := map[string]string{}
			for _, kv := range meta {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("--meta %q must be key=value", kv)
				}
				metadata[k] = v
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			s, err := a.ledger.Create(cmd.Context(), customer, hours, metadata)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			p.line("Created session %s for %s with %.2fh", s.ID, s.CustomerRef, s.PurchasedHours)
			p.line("Start it with: hourglass start --session %s", s.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&customer, "customer", "", "customer reference")
	cmd.Flags().Float64Var(&hours, "hours", 0, "purchased hours")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata key=value (repeatable)")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("hours")
	return cmd
}

func newSessionListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			sessions, err := a.ledger.List(cmd.Context())
			if err != nil {
				return err
			}
			reports := make([]session.Report, 0, len(sessions))
			for _, s := range sessions {
				if !all && s.Status.IsTerminal() {
					continue
				}
				reports = append(reports, a.ledger.Report(s))
			}

			p := newPrinter(cmd.OutOrStdout())
			if len(reports) == 0 {
				p.line("No sessions. Create one with: hourglass session create --customer NAME --hours N")
				return nil
			}
			p.sessions(reports)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include expired and cancelled sessions")
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show SESSION_ID",
		Short: "Show a session report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			s, err := a.ledger.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			newPrinter(cmd.OutOrStdout()).report(a.ledger.Report(s))
			return nil
		},
	}
}

type sessionAction func(cmd *cobra.Command, a *app, id string) (*session.Session, error)

func newSessionStatusCmd(use, short string, action sessionAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " SESSION_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			s, err := action(cmd, a, args[0])
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			p.line("Session %s is %s", s.ID, p.sessionStatus(s.Status))
			return nil
		},
	}
}
