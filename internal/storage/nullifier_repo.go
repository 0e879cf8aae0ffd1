package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// StoreNullifier inserts a spent nullifier inside the finalize
// transaction. Returns ErrDuplicateNullifier on conflict, which the chain
// core maps to the fatal DoubleSpend error of spec §4.4 step 4.
func (t *Tx) StoreNullifier(ctx context.Context, election string, hash string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO dnfs (election, hash) VALUES ($1, $2)`,
		election, hash,
	)
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return ErrDuplicateNullifier
	}
	return fmt.Errorf("storage: store nullifier (%s, %s): %w", election, hash, err)
}

// HasNullifier reports whether a nullifier has already been committed for
// an election, used by CheckBallot's double-spend screen against durable
// state (outside any finalize transaction).
func (s *Store) HasNullifier(ctx context.Context, election string, hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM dnfs WHERE election = $1 AND hash = $2)`,
		election, hash,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: check nullifier (%s, %s): %w", election, hash, err)
	}
	return exists, nil
}
