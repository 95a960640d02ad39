package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/hourglass/internal/ticket"
)

func newTicketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "Inspect and retry tickets",
	}
	cmd.AddCommand(newTicketListCmd(), newTicketRetryCmd())
	return cmd
}

func newTicketListCmd() *cobra.Command {
	var (
		sessionID string
		status    string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		Long: `List tickets, newest first.

Examples:
  hourglass ticket list --session 7f3c...
  hourglass ticket list --status failed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ticket.Filter{SessionID: sessionID, Limit: limit}
			if status != "" {
				st, err := ticket.ParseStatus(status)
				if err != nil {
					return err
				}
				filter.Status = st
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			tickets, err := a.store.ListTickets(cmd.Context(), filter)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			if len(tickets) == 0 {
				p.line("No tickets.")
				return nil
			}
			p.tickets(tickets)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "only tickets billed to this session")
	cmd.Flags().StringVar(&status, "status", "", "only tickets in this status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of tickets")
	return cmd
}

func newTicketRetryCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "retry TICKET_KEY",
		Short: "Send a failed or flagged ticket back to pending",
		Long: `Send a failed or requires_review ticket back to pending. The ticket is
detached from its session so any running session can pick it up, unless
--session assigns it to one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			t, err := a.store.GetTicketByKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if t.Status != ticket.StatusFailed && t.Status != ticket.StatusRequiresReview {
				return fmt.Errorf("ticket %s is %s; only failed or requires_review tickets can be retried", t.ExternalKey, t.Status)
			}
			updated, err := a.store.UpdateTicket(cmd.Context(), t.ID, func(t *ticket.Ticket) error {
				if err := t.ResetForRetry(time.Now().UTC()); err != nil {
					return err
				}
				t.SessionID = sessionID
				return nil
			})
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			p.line("Ticket %s is %s (retry %d)", updated.ExternalKey, p.ticketStatus(updated.Status), updated.RetryCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "assign the ticket to this session")
	return cmd
}
