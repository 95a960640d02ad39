package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/alekspetrov/hourglass/internal/clock"
	"github.com/alekspetrov/hourglass/internal/dashboard"
	"github.com/alekspetrov/hourglass/internal/gateway"
	"github.com/alekspetrov/hourglass/internal/logging"
	"github.com/alekspetrov/hourglass/internal/orchestrator"
)

const streamReconnectDelay = 5 * time.Second

func newDashboardCmd() *cobra.Command {
	var (
		sessionID string
		live      bool
	)
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Watch a session in the terminal",
		Long: `Open a live terminal dashboard for a session. The report and ticket
table refresh on an interval; with the gateway enabled, orchestrator events
stream in as they happen.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			logging.Suppress()

			if _, err := a.ledger.Get(ctx, sessionID); err != nil {
				return err
			}

			var opts []dashboard.Option
			if a.cfg.Dashboard != nil {
				opts = append(opts, dashboard.WithRefresh(a.cfg.Dashboard.RefreshInterval))
			}
			source := &dashboard.StoreSource{Sessions: a.ledger, Tickets: a.store}
			program := tea.NewProgram(dashboard.NewModel(version, sessionID, source, opts...), tea.WithAltScreen())

			if live && a.cfg.Gateway != nil && a.cfg.Gateway.Enabled {
				u, err := streamURL(a.cfg.Gateway, sessionID)
				if err != nil {
					return err
				}
				go streamEvents(ctx, u, func(ev orchestrator.Event) { program.Send(dashboard.EventMsg(ev)) })
			}

			_, err = program.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session to watch")
	cmd.Flags().BoolVar(&live, "live", true, "stream events from the gateway when it is enabled")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

// streamURL builds the gateway websocket URL for a session, authenticating
// with a freshly issued token when the gateway requires one.
func streamURL(cfg *gateway.Config, sessionID string) (string, error) {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	u := url.URL{
		Scheme:  "ws",
		Host:    net.JoinHostPort(host, strconv.Itoa(cfg.Port)),
		Path:    "/ws/sessions/" + sessionID,
		// RawPath keeps a "/" inside the ID escaped; String encodes Path
		// itself otherwise.
		RawPath: "/ws/sessions/" + url.PathEscape(sessionID),
	}
	if cfg.JWTSecret != "" {
		token, err := gateway.NewTokenService(cfg.JWTSecret, time.Hour).Issue("dashboard")
		if err != nil {
			return "", fmt.Errorf("issue dashboard token: %w", err)
		}
		u.RawQuery = url.Values{"access_token": {token}}.Encode()
	}
	return u.String(), nil
}

// streamEvents forwards gateway events to deliver until ctx ends,
// reconnecting after failures.
func streamEvents(ctx context.Context, rawURL string, deliver func(orchestrator.Event)) {
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
		if err == nil {
			readEvents(ctx, conn, deliver)
		}
		if clock.Sleep(ctx, clock.Real(), streamReconnectDelay) != nil {
			return
		}
	}
}

func readEvents(ctx context.Context, conn *websocket.Conn, deliver func(orchestrator.Event)) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() { _ = conn.Close() }()
	for {
		var ev orchestrator.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		deliver(ev)
	}
}
