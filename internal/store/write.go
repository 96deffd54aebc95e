package store

import (
	"context"
	"fmt"
	"time"

	"github.com/permafrost-labs/glacier/internal/domain"
)

// Credit adds amount to a user's liquid balance, creating the balance
// row on first touch.
func (s *Store) Credit(ctx context.Context, userID string, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("credit: negative amount %v", amount)
	}
	_, err := s.run.ExecContext(ctx, `
		INSERT INTO balances (user_id, liquid) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET liquid = liquid + excluded.liquid
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	return nil
}

// Debit subtracts amount from a user's liquid balance.
//
// The debit is a single conditional UPDATE guarded by liquid >= amount,
// so a shortfall can never drive the balance negative - the statement
// affects zero rows and the call fails with INSUFFICIENT_BALANCE.
func (s *Store) Debit(ctx context.Context, userID string, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("debit: negative amount %v", amount)
	}
	res, err := s.run.ExecContext(ctx, `
		UPDATE balances SET liquid = liquid - ?
		WHERE user_id = ? AND liquid >= ?
	`, amount, userID, amount)
	if err != nil {
		return fmt.Errorf("debit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit: %w", err)
	}
	if n == 0 {
		return domain.NewInsufficientBalance(userID, amount)
	}
	return nil
}

// CreditLocked adds amount to a user's locked (Permafrost) balance.
//
// There is deliberately no DebitLocked: the conversion is one-way and
// the locked balance only ever grows.
func (s *Store) CreditLocked(ctx context.Context, userID string, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("credit locked: negative amount %v", amount)
	}
	_, err := s.run.ExecContext(ctx, `
		INSERT INTO balances (user_id, locked) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET locked = locked + excluded.locked
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("credit locked: %w", err)
	}
	return nil
}

// SetLegacy flags a user as holding long-term-loyalty status.
func (s *Store) SetLegacy(ctx context.Context, userID string, legacy bool) error {
	v := 0
	if legacy {
		v = 1
	}
	_, err := s.run.ExecContext(ctx, `
		INSERT INTO balances (user_id, legacy) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET legacy = excluded.legacy
	`, userID, v)
	if err != nil {
		return fmt.Errorf("set legacy: %w", err)
	}
	return nil
}

// CreditPool adds amount to a named pool account (permafrost, staking,
// warchest), creating the account on first touch.
func (s *Store) CreditPool(ctx context.Context, pool string, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("credit pool: negative amount %v", amount)
	}
	_, err := s.run.ExecContext(ctx, `
		INSERT INTO pool_accounts (pool, balance) VALUES (?, ?)
		ON CONFLICT(pool) DO UPDATE SET balance = balance + excluded.balance
	`, pool, amount)
	if err != nil {
		return fmt.Errorf("credit pool: %w", err)
	}
	return nil
}

// InsertPosition records a newly opened stake position.
func (s *Store) InsertPosition(ctx context.Context, p Position) error {
	_, err := s.run.ExecContext(ctx, `
		INSERT INTO stake_positions (id, user_id, pool_id, principal, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.PoolID, p.Principal, millis(p.StartedAt))
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// ClosePosition marks a position withdrawn at the given instant.
//
// The UPDATE is guarded by withdrawn_at IS NULL, so closure happens at
// most once: of two concurrent unstakes, exactly one observes
// closed=true and the other gets closed=false.
func (s *Store) ClosePosition(ctx context.Context, stakeID string, at time.Time) (closed bool, err error) {
	res, err := s.run.ExecContext(ctx, `
		UPDATE stake_positions SET withdrawn_at = ?
		WHERE id = ? AND withdrawn_at IS NULL
	`, millis(at), stakeID)
	if err != nil {
		return false, fmt.Errorf("close position: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close position: %w", err)
	}
	return n > 0, nil
}

// AppendReceipt appends one row to the audit trail. The seq column is
// assigned by SQLite and increases monotonically.
func (s *Store) AppendReceipt(ctx context.Context, r Receipt) error {
	_, err := s.run.ExecContext(ctx, `
		INSERT INTO receipts (token, kind, user_id, ref, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.Token, r.Kind, r.UserID, r.Ref, r.Amount, millis(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("append receipt: %w", err)
	}
	return nil
}

// InsertSession creates a session row.
//
// The UNIQUE(user_id) constraint makes this the compare half of the
// engine's compare-and-create: inserting a second session for a user
// fails, and the engine returns the existing session instead.
func (s *Store) InsertSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.run.ExecContext(ctx, `
		INSERT INTO sessions
		(id, user_id, state, started_at, last_checkpoint_at,
		 house_ads_watched, ads_watched, accumulated_yield, ad_break_at, last_house_ad_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.UserID,
		rec.State,
		millis(rec.StartedAt),
		millis(rec.LastCheckpointAt),
		rec.HouseAdsWatched,
		rec.AdsWatched,
		rec.AccumulatedYield,
		optMillis(rec.AdBreakAt),
		optMillis(rec.LastHouseAdAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSession persists a mutated session row.
func (s *Store) UpdateSession(ctx context.Context, rec SessionRecord) error {
	res, err := s.run.ExecContext(ctx, `
		UPDATE sessions SET
			state = ?,
			last_checkpoint_at = ?,
			house_ads_watched = ?,
			ads_watched = ?,
			accumulated_yield = ?,
			ad_break_at = ?,
			last_house_ad_at = ?
		WHERE id = ?
	`,
		rec.State,
		millis(rec.LastCheckpointAt),
		rec.HouseAdsWatched,
		rec.AdsWatched,
		rec.AccumulatedYield,
		optMillis(rec.AdBreakAt),
		optMillis(rec.LastHouseAdAt),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		return domain.NewInvalidSession(rec.ID)
	}
	return nil
}

// DeleteSession destroys a session row. The id is never reused - ids
// are UUIDv7 tokens minted per session.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.run.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// optMillis converts an optional time for storage.
func optMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return millis(*t)
}
