// Package storage is the durable, transactional relational store of
// elections, ballots, nullifiers, per-height frontiers, commitment roots,
// and the app-state property bag (component C1).
//
// Adapted from the teacher's pkg/database/client.go: same connection-pool
// tuning, same embedded-migration runner, same *log.Logger field.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/vote-bft/vote-node/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the durable backing of every chain-core mutation. The chain
// core holds the only write-capable handle to it; HTTP handlers are given
// a read-only view over the same pool.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open connects to Postgres, tunes the connection pool per cfg, and
// verifies connectivity with a ping.
func Open(cfg *config.Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DataSourceName())
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: log.New(log.Writer(), "[Storage] ", log.LstdFlags),
	}
	s.logger.Printf("connected to database (max_open=%d, max_idle=%d)", cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	return s, nil
}

// DB exposes the underlying pool for read-only callers (the HTTP surface).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.logger.Println("closing database connection")
	return s.db.Close()
}

// Ping verifies the connection is alive, for the HTTP surface's health
// route.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies every embedded migration that has not yet been recorded
// in schema_migrations, in filename order.
func (s *Store) Migrate(ctx context.Context) error {
	migrations, err := s.readMigrations()
	if err != nil {
		return fmt.Errorf("storage: read migrations: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		if !strings.Contains(err.Error(), "does not exist") {
			return fmt.Errorf("storage: read applied migrations: %w", err)
		}
		applied = make(map[string]bool)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		s.logger.Printf("applying migration %s", m.version)
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("storage: begin migration tx: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("storage: apply migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("storage: commit migration %s: %w", m.version, err)
		}
	}
	return nil
}

type migration struct {
	version string
	sql     string
}

func (s *Store) readMigrations() ([]migration, error) {
	var out []migration
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		out = append(out, migration{
			version: strings.TrimSuffix(d.Name(), ".sql"),
			sql:     string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func (s *Store) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// Tx wraps a *sql.Tx for the lifetime the chain core holds across an
// entire block's worth of FinalizeBallot calls, opened by BeginFinalize
// and closed by Commit or Rollback.
type Tx struct {
	tx *sql.Tx
}

// BeginFinalize opens the transaction that every FinalizeBallot call of
// the current block will run inside, per spec §4.1's finalize-atomicity
// requirement.
func (s *Store) BeginFinalize(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: begin finalize transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the finalize transaction, landing every ballot of the
// block atomically.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the finalize transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Savepoint marks a point inside the finalize transaction that a single
// ballot's writes can be rolled back to without discarding the rest of
// the block's already-finalized ballots, per spec §7's "storage errors
// during finalize are fatal for that tx... but the block proceeds with
// subsequent txs" policy.
func (t *Tx) Savepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "SAVEPOINT "+pq.QuoteIdentifier(name))
	if err != nil {
		return fmt.Errorf("storage: create savepoint %s: %w", name, err)
	}
	return nil
}

// RollbackToSavepoint discards one ballot's partial writes, keeping the
// rest of the finalize transaction intact.
func (t *Tx) RollbackToSavepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+pq.QuoteIdentifier(name))
	if err != nil {
		return fmt.Errorf("storage: rollback to savepoint %s: %w", name, err)
	}
	return nil
}

// ReleaseSavepoint confirms one ballot's writes as part of the
// surrounding finalize transaction.
func (t *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+pq.QuoteIdentifier(name))
	if err != nil {
		return fmt.Errorf("storage: release savepoint %s: %w", name, err)
	}
	return nil
}
