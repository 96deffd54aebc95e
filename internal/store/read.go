package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/permafrost-labs/glacier/internal/domain"
)

// LiquidBalance returns a user's liquid balance. Users without a
// balance row hold zero.
func (s *Store) LiquidBalance(ctx context.Context, userID string) (float64, error) {
	return s.balanceColumn(ctx, userID, "liquid")
}

// LockedBalance returns a user's locked (Permafrost) balance.
func (s *Store) LockedBalance(ctx context.Context, userID string) (float64, error) {
	return s.balanceColumn(ctx, userID, "locked")
}

func (s *Store) balanceColumn(ctx context.Context, userID, column string) (float64, error) {
	// column is one of two compile-time constants, never user input.
	var v float64
	err := s.run.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM balances WHERE user_id = ?", column),
		userID,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s balance: %w", column, err)
	}
	return v, nil
}

// HasLegacy reports whether a user holds long-term-loyalty status.
func (s *Store) HasLegacy(ctx context.Context, userID string) (bool, error) {
	var v int
	err := s.run.QueryRowContext(ctx,
		"SELECT legacy FROM balances WHERE user_id = ?", userID,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read legacy flag: %w", err)
	}
	return v != 0, nil
}

// PoolBalance returns a pool account's balance. Untouched pools hold zero.
func (s *Store) PoolBalance(ctx context.Context, pool string) (float64, error) {
	var v float64
	err := s.run.QueryRowContext(ctx,
		"SELECT balance FROM pool_accounts WHERE pool = ?", pool,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read pool balance: %w", err)
	}
	return v, nil
}

// GetPosition returns a stake position by id.
// Returns UNKNOWN_STAKE when no such position was ever created.
func (s *Store) GetPosition(ctx context.Context, stakeID string) (Position, error) {
	var (
		p           Position
		startedAt   int64
		withdrawnAt sql.NullInt64
	)
	err := s.run.QueryRowContext(ctx, `
		SELECT id, user_id, pool_id, principal, started_at, withdrawn_at
		FROM stake_positions WHERE id = ?
	`, stakeID).Scan(&p.ID, &p.UserID, &p.PoolID, &p.Principal, &startedAt, &withdrawnAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, domain.NewUnknownStake(stakeID)
	}
	if err != nil {
		return Position{}, fmt.Errorf("read position: %w", err)
	}
	p.StartedAt = fromMillis(startedAt)
	if withdrawnAt.Valid {
		t := fromMillis(withdrawnAt.Int64)
		p.WithdrawnAt = &t
	}
	return p, nil
}

// ListOpenPositions returns a user's open positions ordered by id.
// Returns an empty slice (not nil) when the user has none.
func (s *Store) ListOpenPositions(ctx context.Context, userID string) ([]Position, error) {
	rows, err := s.run.QueryContext(ctx, `
		SELECT id, user_id, pool_id, principal, started_at, withdrawn_at
		FROM stake_positions
		WHERE user_id = ? AND withdrawn_at IS NULL
		ORDER BY id COLLATE BINARY ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	positions := []Position{}
	for rows.Next() {
		var (
			p           Position
			startedAt   int64
			withdrawnAt sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.PoolID, &p.Principal, &startedAt, &withdrawnAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.StartedAt = fromMillis(startedAt)
		if withdrawnAt.Valid {
			t := fromMillis(withdrawnAt.Int64)
			p.WithdrawnAt = &t
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return positions, nil
}

// ListReceipts returns all receipts in append order (seq ascending).
// Pass a non-empty userID to filter to one user's trail.
func (s *Store) ListReceipts(ctx context.Context, userID string) ([]Receipt, error) {
	query := `
		SELECT seq, token, kind, user_id, ref, amount, created_at
		FROM receipts ORDER BY seq ASC
	`
	args := []any{}
	if userID != "" {
		query = `
			SELECT seq, token, kind, user_id, ref, amount, created_at
			FROM receipts WHERE user_id = ? ORDER BY seq ASC
		`
		args = append(args, userID)
	}

	rows, err := s.run.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	receipts := []Receipt{}
	for rows.Next() {
		var (
			r         Receipt
			createdAt int64
		)
		if err := rows.Scan(&r.Seq, &r.Token, &r.Kind, &r.UserID, &r.Ref, &r.Amount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		r.CreatedAt = fromMillis(createdAt)
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return receipts, nil
}

// SessionByID returns the session with the given id, or nil when no
// such session exists (destroyed or never created).
func (s *Store) SessionByID(ctx context.Context, sessionID string) (*SessionRecord, error) {
	return s.readSession(ctx, "id = ?", sessionID)
}

// SessionByUser returns the user's session, or nil when the user has
// none. At most one can exist per user (schema constraint).
func (s *Store) SessionByUser(ctx context.Context, userID string) (*SessionRecord, error) {
	return s.readSession(ctx, "user_id = ?", userID)
}

func (s *Store) readSession(ctx context.Context, where string, arg any) (*SessionRecord, error) {
	var (
		rec           SessionRecord
		startedAt     int64
		lastCheckAt   int64
		adBreakAt     sql.NullInt64
		lastHouseAdAt sql.NullInt64
	)
	err := s.run.QueryRowContext(ctx, `
		SELECT id, user_id, state, started_at, last_checkpoint_at,
		       house_ads_watched, ads_watched, accumulated_yield, ad_break_at, last_house_ad_at
		FROM sessions WHERE `+where,
		arg,
	).Scan(
		&rec.ID, &rec.UserID, &rec.State, &startedAt, &lastCheckAt,
		&rec.HouseAdsWatched, &rec.AdsWatched, &rec.AccumulatedYield, &adBreakAt, &lastHouseAdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	rec.StartedAt = fromMillis(startedAt)
	rec.LastCheckpointAt = fromMillis(lastCheckAt)
	if adBreakAt.Valid {
		t := fromMillis(adBreakAt.Int64)
		rec.AdBreakAt = &t
	}
	if lastHouseAdAt.Valid {
		t := fromMillis(lastHouseAdAt.Int64)
		rec.LastHouseAdAt = &t
	}
	return &rec, nil
}
