package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alekspetrov/hourglass/internal/session"
)

const sessionColumns = `id, customer_ref, metadata, purchased_hours, consumed_hours, remaining_hours,
	status, tickets_processed, tickets_successful, tickets_failed,
	warning_75_sent, warning_90_sent, expiry_notification_sent,
	started_at, paused_at, expired_at, cancelled_at, last_activity_at, updated_at`

// CreateSession inserts a new session.
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if sess.Metadata == nil {
		meta = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sess.ID, sess.CustomerRef, string(meta),
		sess.PurchasedHours, sess.ConsumedHours, sess.RemainingHours,
		string(sess.Status), sess.TicketsProcessed, sess.TicketsSuccessful, sess.TicketsFailed,
		boolInt(sess.Warning75Sent), boolInt(sess.Warning90Sent), boolInt(sess.ExpiryNotificationSent),
		formatTime(sess.StartedAt), formatTimePtr(sess.PausedAt), formatTimePtr(sess.ExpiredAt),
		formatTimePtr(sess.CancelledAt), formatTimePtr(sess.LastActivityAt), formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession loads a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	return sess, err
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// UpdateSession reads the row, applies fn and writes the result in one
// transaction. fn returning an error aborts the update.
func (s *Store) UpdateSession(ctx context.Context, id string, fn func(*session.Session) error) (*session.Session, error) {
	var updated *session.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`+s.forUpdate()), id)
		sess, err := scanSession(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", session.ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		if err := fn(sess); err != nil {
			return err
		}

		meta, err := json.Marshal(sess.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if sess.Metadata == nil {
			meta = []byte("{}")
		}

		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE sessions SET
				metadata = ?, purchased_hours = ?, consumed_hours = ?, remaining_hours = ?, status = ?,
				tickets_processed = ?, tickets_successful = ?, tickets_failed = ?,
				warning_75_sent = ?, warning_90_sent = ?, expiry_notification_sent = ?,
				paused_at = ?, expired_at = ?, cancelled_at = ?, last_activity_at = ?, updated_at = ?
			WHERE id = ?`),
			string(meta), sess.PurchasedHours, sess.ConsumedHours, sess.RemainingHours, string(sess.Status),
			sess.TicketsProcessed, sess.TicketsSuccessful, sess.TicketsFailed,
			boolInt(sess.Warning75Sent), boolInt(sess.Warning90Sent), boolInt(sess.ExpiryNotificationSent),
			formatTimePtr(sess.PausedAt), formatTimePtr(sess.ExpiredAt), formatTimePtr(sess.CancelledAt),
			formatTimePtr(sess.LastActivityAt), formatTime(sess.UpdatedAt),
			id,
		)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		updated = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteSession removes a session. Its tickets are detached, not deleted.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE tickets SET session_id = NULL WHERE session_id = ?`), id); err != nil {
			return fmt.Errorf("detach tickets: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM session_leases WHERE session_id = ?`), id); err != nil {
			return fmt.Errorf("delete lease: %w", err)
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", session.ErrNotFound, id)
		}
		return nil
	})
}

func scanSession(row scanner) (*session.Session, error) {
	var (
		sess                                      session.Session
		meta, status, startedAt, updatedAt        string
		w75, w90, expiryNotified                  int
		pausedAt, expiredAt, cancelledAt, lastAct sql.NullString
	)
	err := row.Scan(
		&sess.ID, &sess.CustomerRef, &meta,
		&sess.PurchasedHours, &sess.ConsumedHours, &sess.RemainingHours,
		&status, &sess.TicketsProcessed, &sess.TicketsSuccessful, &sess.TicketsFailed,
		&w75, &w90, &expiryNotified,
		&startedAt, &pausedAt, &expiredAt, &cancelledAt, &lastAct, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if sess.Status, err = session.ParseStatus(status); err != nil {
		return nil, err
	}
	if meta != "" && meta != "{}" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("decode session metadata: %w", err)
		}
	}
	sess.Warning75Sent = w75 != 0
	sess.Warning90Sent = w90 != 0
	sess.ExpiryNotificationSent = expiryNotified != 0

	if sess.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if sess.PausedAt, err = parseTimePtr(pausedAt); err != nil {
		return nil, err
	}
	if sess.ExpiredAt, err = parseTimePtr(expiredAt); err != nil {
		return nil, err
	}
	if sess.CancelledAt, err = parseTimePtr(cancelledAt); err != nil {
		return nil, err
	}
	if sess.LastActivityAt, err = parseTimePtr(lastAct); err != nil {
		return nil, err
	}
	return &sess, nil
}
