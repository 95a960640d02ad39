package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// AcquireLease claims the session for owner until ttl elapses. A live lease
// held by someone else yields ErrLeaseHeld; an expired one is taken over.
func (s *Store) AcquireLease(ctx context.Context, sessionID, owner string, ttl time.Duration) error {
	now := s.clock.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var holder, expires string
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT owner, expires_at FROM session_leases WHERE session_id = ?`+s.forUpdate()), sessionID).
			Scan(&holder, &expires)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("read lease: %w", err)
		default:
			exp, perr := parseTime(expires)
			if perr != nil {
				return perr
			}
			if holder != owner && exp.After(now) {
				return fmt.Errorf("%w: %s until %s", ErrLeaseHeld, holder, exp.Format(time.RFC3339))
			}
			if holder != owner {
				s.log.Warn("Taking over expired session lease",
					slog.String("session_id", sessionID),
					slog.String("previous_owner", holder))
			}
		}

		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO session_leases (session_id, owner, expires_at)
			VALUES (?, ?, ?)
			ON CONFLICT (session_id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at`),
			sessionID, owner, formatTime(now.Add(ttl)))
		if err != nil {
			return fmt.Errorf("write lease: %w", err)
		}
		return nil
	})
}

// RenewLease extends a lease owner still holds. ErrLeaseHeld means the lease
// was lost to another owner.
func (s *Store) RenewLease(ctx context.Context, sessionID, owner string, ttl time.Duration) error {
	now := s.clock.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE session_leases SET expires_at = ?
		WHERE session_id = ? AND owner = ?`), formatTime(now.Add(ttl)), sessionID, owner)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: lease for %s no longer owned by %s", ErrLeaseHeld, sessionID, owner)
	}
	return nil
}

// ReleaseLease drops owner's lease. Releasing a lease you do not hold is a no-op.
func (s *Store) ReleaseLease(ctx context.Context, sessionID, owner string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM session_leases WHERE session_id = ? AND owner = ?`), sessionID, owner)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
