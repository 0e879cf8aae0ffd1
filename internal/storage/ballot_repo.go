package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// BallotRow is the durable representation of a finalized ballot, stored
// under the next per-election ballot-height.
type BallotRow struct {
	Election string
	Height   uint64
	Hash     string // hex sighash
	Data     []byte // JSON-encoded ballot.Ballot
}

// StoreBallot persists a finalized ballot at the next per-election
// height. Must be called inside the finalize transaction (tx).
func (t *Tx) StoreBallot(ctx context.Context, row BallotRow) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO ballots (election, height, hash, data) VALUES ($1, $2, $3, $4)`,
		row.Election, row.Height, row.Hash, row.Data,
	)
	if err != nil {
		return fmt.Errorf("storage: store ballot (%s, %d): %w", row.Election, row.Height, err)
	}
	return nil
}

// GetBallot fetches a single stored ballot for the read-only HTTP surface.
func (s *Store) GetBallot(ctx context.Context, election string, height uint64) (BallotRow, error) {
	var row BallotRow
	row.Election = election
	row.Height = height
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, data FROM ballots WHERE election = $1 AND height = $2`,
		election, height,
	).Scan(&row.Hash, &row.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return BallotRow{}, ErrBallotNotFound
	}
	if err != nil {
		return BallotRow{}, fmt.Errorf("storage: get ballot (%s, %d): %w", election, height, err)
	}
	return row, nil
}

// NumBallots reports how many ballots have been finalized for an
// election. Ballot heights start at 1, so this is also the height of the
// most recently stored ballot.
func (s *Store) NumBallots(ctx context.Context, election string) (uint64, error) {
	var n uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM ballots WHERE election = $1`, election,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count ballots for %s: %w", election, err)
	}
	return n, nil
}
