package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ElectionRow is the durable representation of an election: storage
// itself never interprets Definition, leaving election-specific parsing to
// the internal/election package.
type ElectionRow struct {
	ID         string
	Definition []byte
	Closed     bool
}

// GetElection fetches an election by its hex election_id.
func (s *Store) GetElection(ctx context.Context, id string) (ElectionRow, error) {
	var row ElectionRow
	err := s.db.QueryRowContext(ctx,
		`SELECT id, definition, closed FROM elections WHERE id = $1`, id,
	).Scan(&row.ID, &row.Definition, &row.Closed)
	if errors.Is(err, sql.ErrNoRows) {
		return ElectionRow{}, ErrElectionNotFound
	}
	if err != nil {
		return ElectionRow{}, fmt.Errorf("storage: get election %s: %w", id, err)
	}
	return row, nil
}

// StoreElection inserts an election definition as open, or re-opens it if
// the id is already stored (the stored definition is left unchanged). Used
// at startup for every election file the registry discovers.
func (s *Store) StoreElection(ctx context.Context, id string, definition []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO elections (id, definition, closed) VALUES ($1, $2, false)
		 ON CONFLICT (id) DO UPDATE SET closed = false`,
		id, definition,
	)
	if err != nil {
		return fmt.Errorf("storage: store election %s: %w", id, err)
	}
	return nil
}

// CloseAllElections marks every currently-known election closed. Called
// once at startup before the registry re-opens elections discovered in
// the current data_path scan (spec §6 startup reconciliation).
func (s *Store) CloseAllElections(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE elections SET closed = true`); err != nil {
		return fmt.Errorf("storage: close all elections: %w", err)
	}
	return nil
}

// SetElectionClosed flips an election's closed flag directly, used by
// operator tooling outside the normal startup-reconciliation path.
func (s *Store) SetElectionClosed(ctx context.Context, id string, closed bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE elections SET closed = $2 WHERE id = $1`, id, closed)
	if err != nil {
		return fmt.Errorf("storage: set election closed %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: set election closed %s: %w", id, err)
	}
	if n == 0 {
		return ErrElectionNotFound
	}
	return nil
}

// ListElections returns every election row known to storage, used at
// startup to rebuild the in-memory registry after a restart.
func (s *Store) ListElections(ctx context.Context) ([]ElectionRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, definition, closed FROM elections ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list elections: %w", err)
	}
	defer rows.Close()

	var out []ElectionRow
	for rows.Next() {
		var row ElectionRow
		if err := rows.Scan(&row.ID, &row.Definition, &row.Closed); err != nil {
			return nil, fmt.Errorf("storage: list elections: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
