package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/alekspetrov/hourglass/internal/ticket"
)

const ticketColumns = `id, external_key, source, project_key, title, description, labels, components,
	priority, url, status, session_id, retry_count, hours_consumed, complexity_score,
	ai_provider_used, repository, branch, pr_url, pr_number, commit_hash, error_message, retired,
	processing_started_at, processing_completed_at, created_at, updated_at`

// UpsertTicket creates a pending ticket for an unseen external key. For a
// known key only title, description, labels, components, priority and url
// are updated, so pipeline state and session association survive re-polls.
func (s *Store) UpsertTicket(ctx context.Context, p ticket.Payload) (*ticket.Ticket, bool, error) {
	if p.ExternalKey == "" {
		return nil, false, errors.New("upsert ticket: external key is required")
	}
	labels, components, err := encodeLists(p.Labels, p.Components)
	if err != nil {
		return nil, false, err
	}

	now := formatTime(s.clock.Now())
	var (
		out     *ticket.Ticket
		created bool
	)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT id FROM tickets WHERE external_key = ?`), p.ExternalKey).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			id = uuid.NewString()
			created = true
			_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO tickets
				(id, external_key, source, project_key, title, description, labels, components, priority, url,
				 status, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				id, p.ExternalKey, p.Source, p.ProjectKey, p.Title, p.Description, labels, components,
				int(p.Priority), p.URL, string(ticket.StatusPending), now, now)
			if err != nil {
				return fmt.Errorf("insert ticket: %w", err)
			}
		case err != nil:
			return fmt.Errorf("lookup ticket: %w", err)
		default:
			_, err = tx.ExecContext(ctx, s.rebind(`UPDATE tickets SET
					title = ?, description = ?, labels = ?, components = ?, priority = ?, url = ?, updated_at = ?
				WHERE id = ?`),
				p.Title, p.Description, labels, components, int(p.Priority), p.URL, now, id)
			if err != nil {
				return fmt.Errorf("update ticket: %w", err)
			}
		}

		row := tx.QueryRowContext(ctx, s.rebind(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`), id)
		out, err = scanTicket(row)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// GetTicket loads a ticket by ID.
func (s *Store) GetTicket(ctx context.Context, id string) (*ticket.Ticket, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`), id)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ticket.ErrNotFound, id)
	}
	return t, err
}

// GetTicketByKey loads a ticket by its tracker key.
func (s *Store) GetTicketByKey(ctx context.Context, key string) (*ticket.Ticket, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+ticketColumns+` FROM tickets WHERE external_key = ?`), key)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ticket.ErrNotFound, key)
	}
	return t, err
}

// ListPending returns unretired pending tickets, oldest first.
func (s *Store) ListPending(ctx context.Context) ([]*ticket.Ticket, error) {
	return s.queryTickets(ctx, `SELECT `+ticketColumns+` FROM tickets
		WHERE status = ? AND retired = 0 ORDER BY created_at, id`, string(ticket.StatusPending))
}

// ListTickets returns tickets matching f, newest first.
func (s *Store) ListTickets(ctx context.Context, f ticket.Filter) ([]*ticket.Ticket, error) {
	var (
		where []string
		args  []any
	)
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	q := `SELECT ` + ticketColumns + ` FROM tickets`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return s.queryTickets(ctx, q, args...)
}

// UpdateTicket reads the ticket, applies fn and persists every mutable
// column in one transaction.
func (s *Store) UpdateTicket(ctx context.Context, id string, fn func(*ticket.Ticket) error) (*ticket.Ticket, error) {
	var updated *ticket.Ticket
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`+s.forUpdate()), id)
		t, err := scanTicket(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ticket.ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		if err := fn(t); err != nil {
			return err
		}
		t.UpdatedAt = s.clock.Now().UTC()

		labels, components, err := encodeLists(t.Labels, t.Components)
		if err != nil {
			return err
		}
		var sessionID sql.NullString
		if t.SessionID != "" {
			sessionID = sql.NullString{String: t.SessionID, Valid: true}
		}

		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE tickets SET
				title = ?, description = ?, labels = ?, components = ?, priority = ?, url = ?,
				status = ?, session_id = ?, retry_count = ?, hours_consumed = ?, complexity_score = ?,
				ai_provider_used = ?, repository = ?, branch = ?, pr_url = ?, pr_number = ?, commit_hash = ?,
				error_message = ?, retired = ?, processing_started_at = ?, processing_completed_at = ?, updated_at = ?
			WHERE id = ?`),
			t.Title, t.Description, labels, components, int(t.Priority), t.URL,
			string(t.Status), sessionID, t.RetryCount, t.HoursConsumed, t.ComplexityScore,
			t.AIProviderUsed, t.Repository, t.Branch, t.PRURL, t.PRNumber, t.CommitHash,
			t.ErrorMessage, boolInt(t.Retired), formatTimePtr(t.ProcessingStartedAt),
			formatTimePtr(t.ProcessingCompletedAt), formatTime(t.UpdatedAt),
			id,
		)
		if err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ReplaceSubtasks swaps a ticket's subtasks for steps, in order.
func (s *Store) ReplaceSubtasks(ctx context.Context, ticketID string, steps []string) ([]ticket.Subtask, error) {
	now := formatTime(s.clock.Now())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM ticket_subtasks WHERE ticket_id = ?`), ticketID); err != nil {
			return fmt.Errorf("clear subtasks: %w", err)
		}
		for i, step := range steps {
			_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO ticket_subtasks
				(ticket_id, sequence, description, done, created_at) VALUES (?, ?, ?, 0, ?)`),
				ticketID, i+1, step, now)
			if err != nil {
				return fmt.Errorf("insert subtask: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.ListSubtasks(ctx, ticketID)
}

// CompleteSubtasks marks every open subtask of a ticket done.
func (s *Store) CompleteSubtasks(ctx context.Context, ticketID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE ticket_subtasks SET done = 1, completed_at = ?
		WHERE ticket_id = ? AND done = 0`), formatTime(s.clock.Now()), ticketID)
	if err != nil {
		return fmt.Errorf("complete subtasks: %w", err)
	}
	return nil
}

// ListSubtasks returns a ticket's subtasks in sequence order.
func (s *Store) ListSubtasks(ctx context.Context, ticketID string) ([]ticket.Subtask, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, ticket_id, sequence, description, done, created_at, completed_at
		FROM ticket_subtasks WHERE ticket_id = ? ORDER BY sequence`), ticketID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ticket.Subtask
	for rows.Next() {
		var (
			st        ticket.Subtask
			done      int
			createdAt string
			completed sql.NullString
		)
		if err := rows.Scan(&st.ID, &st.TicketID, &st.Sequence, &st.Description, &done, &createdAt, &completed); err != nil {
			return nil, err
		}
		st.Done = done != 0
		if st.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if st.CompletedAt, err = parseTimePtr(completed); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) queryTickets(ctx context.Context, q string, args ...any) ([]*ticket.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTicket(row scanner) (*ticket.Ticket, error) {
	var (
		t                          ticket.Ticket
		labels, components, status string
		priority, retired          int
		sessionID                  sql.NullString
		startedAt, completedAt     sql.NullString
		createdAt, updatedAt       string
	)
	err := row.Scan(
		&t.ID, &t.ExternalKey, &t.Source, &t.ProjectKey, &t.Title, &t.Description, &labels, &components,
		&priority, &t.URL, &status, &sessionID, &t.RetryCount, &t.HoursConsumed, &t.ComplexityScore,
		&t.AIProviderUsed, &t.Repository, &t.Branch, &t.PRURL, &t.PRNumber, &t.CommitHash, &t.ErrorMessage, &retired,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if t.Status, err = ticket.ParseStatus(status); err != nil {
		return nil, err
	}
	t.Priority = ticket.Priority(priority)
	t.Retired = retired != 0
	t.SessionID = sessionID.String
	if err := json.Unmarshal([]byte(labels), &t.Labels); err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}
	if err := json.Unmarshal([]byte(components), &t.Components); err != nil {
		return nil, fmt.Errorf("decode components: %w", err)
	}
	if t.ProcessingStartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if t.ProcessingCompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeLists(labels, components []string) (string, string, error) {
	if labels == nil {
		labels = []string{}
	}
	if components == nil {
		components = []string{}
	}
	l, err := json.Marshal(labels)
	if err != nil {
		return "", "", fmt.Errorf("encode labels: %w", err)
	}
	c, err := json.Marshal(components)
	if err != nil {
		return "", "", fmt.Errorf("encode components: %w", err)
	}
	return string(l), string(c), nil
}
