package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LoadProp reads a named property from the bag backing AppState (and any
// other scalar node-level state). Returns ErrPropNotFound if never set.
func (s *Store) LoadProp(ctx context.Context, name string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM properties WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPropNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load prop %s: %w", name, err)
	}
	return value, nil
}

// StoreProp upserts a named property, outside any finalize transaction —
// used to write AppState.height in Commit, after the block's finalize
// transaction has committed.
func (s *Store) StoreProp(ctx context.Context, name string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO properties (name, value) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`,
		name, value,
	)
	if err != nil {
		return fmt.Errorf("storage: store prop %s: %w", name, err)
	}
	return nil
}

// StoreProp upserts a named property inside the finalize transaction —
// used to write AppState.hash in FinalizeBallot.
func (t *Tx) StoreProp(ctx context.Context, name string, value []byte) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO properties (name, value) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`,
		name, value,
	)
	if err != nil {
		return fmt.Errorf("storage: store prop %s: %w", name, err)
	}
	return nil
}

// LoadProp reads a named property using the finalize transaction's view.
func (t *Tx) LoadProp(ctx context.Context, name string) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRowContext(ctx, `SELECT value FROM properties WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPropNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load prop %s: %w", name, err)
	}
	return value, nil
}
