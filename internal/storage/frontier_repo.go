package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// StoreFrontier persists the serialized frontier state at height 0 during
// startup seeding; writes inside the finalize transaction go through
// Tx.StoreFrontier.
func (s *Store) StoreFrontier(ctx context.Context, election string, height uint64, frontier []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cmx_frontiers (election, height, frontier) VALUES ($1, $2, $3)
		 ON CONFLICT (election, height) DO NOTHING`,
		election, height, frontier,
	)
	if err != nil {
		return fmt.Errorf("storage: store frontier (%s, %d): %w", election, height, err)
	}
	return nil
}

// StoreFrontier persists the serialized frontier state inside the
// finalize transaction.
func (t *Tx) StoreFrontier(ctx context.Context, election string, height uint64, frontier []byte) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO cmx_frontiers (election, height, frontier) VALUES ($1, $2, $3)`,
		election, height, frontier,
	)
	if err != nil {
		return fmt.Errorf("storage: store frontier (%s, %d): %w", election, height, err)
	}
	return nil
}

// LatestFrontier returns the highest-height frontier row for an election:
// the state that FinalizeBallot must resume from.
func (s *Store) LatestFrontier(ctx context.Context, election string) (height uint64, frontier []byte, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT height, frontier FROM cmx_frontiers WHERE election = $1 ORDER BY height DESC LIMIT 1`,
		election,
	).Scan(&height, &frontier)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, ErrFrontierNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("storage: latest frontier for %s: %w", election, err)
	}
	return height, frontier, nil
}

// LatestFrontier reads the latest frontier row using the finalize
// transaction's view, so a chain of FinalizeBallot calls within one block
// sees its own uncommitted writes.
func (t *Tx) LatestFrontier(ctx context.Context, election string) (height uint64, frontier []byte, err error) {
	err = t.tx.QueryRowContext(ctx,
		`SELECT height, frontier FROM cmx_frontiers WHERE election = $1 ORDER BY height DESC LIMIT 1`,
		election,
	).Scan(&height, &frontier)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, ErrFrontierNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("storage: latest frontier for %s: %w", election, err)
	}
	return height, frontier, nil
}

// StoreRoot persists a commitment root at height 0 during startup
// seeding; writes inside the finalize transaction go through Tx.StoreRoot.
func (s *Store) StoreRoot(ctx context.Context, election string, height uint64, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cmx_roots (election, height, hash) VALUES ($1, $2, $3)
		 ON CONFLICT (election, height) DO NOTHING`,
		election, height, hash,
	)
	if err != nil {
		return fmt.Errorf("storage: store root (%s, %d): %w", election, height, err)
	}
	return nil
}

// StoreRoot persists a commitment root inside the finalize transaction.
func (t *Tx) StoreRoot(ctx context.Context, election string, height uint64, hash string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO cmx_roots (election, height, hash) VALUES ($1, $2, $3)`,
		election, height, hash,
	)
	if err != nil {
		return fmt.Errorf("storage: store root (%s, %d): %w", election, height, err)
	}
	return nil
}

// CheckRoot reports whether hash is any historical cmx_root of election,
// implementing spec invariant I4's "any historical root" anchor check
// (within the finalize transaction's view, so roots written earlier in
// the same block are visible).
func (t *Tx) CheckRoot(ctx context.Context, election string, hash string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM cmx_roots WHERE election = $1 AND hash = $2)`,
		election, hash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: check root (%s): %w", election, err)
	}
	return exists, nil
}

// CheckRoot is the read-only counterpart used by CheckBallot, which runs
// outside any finalize transaction.
func (s *Store) CheckRoot(ctx context.Context, election string, hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM cmx_roots WHERE election = $1 AND hash = $2)`,
		election, hash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: check root (%s): %w", election, err)
	}
	return exists, nil
}

// TipRoot is one election's highest-height commitment root, the unit the
// app-hash rollup sorts and concatenates.
type TipRoot struct {
	Election string
	Hash     string
}

// ListTipRootsByElection returns every election's tip commitment root,
// ordered by election_id ascending as spec §4.5 requires for deterministic
// app-hash computation. Runs inside the finalize transaction so it
// reflects this block's in-progress writes.
func (t *Tx) ListTipRootsByElection(ctx context.Context) ([]TipRoot, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT DISTINCT ON (election) election, hash
		FROM cmx_roots
		ORDER BY election ASC, height DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: list tip roots: %w", err)
	}
	defer rows.Close()

	var out []TipRoot
	for rows.Next() {
		var r TipRoot
		if err := rows.Scan(&r.Election, &r.Hash); err != nil {
			return nil, fmt.Errorf("storage: list tip roots: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
