// Package postgres implements store.Store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/cardano-indexer/pkg/store"
)

//go:embed migrations/001_initial_schema.sql
var initialSchema string

// Store is a PostgreSQL store.
type Store struct {
	log logrus.FieldLogger
	db  *sql.DB
}

var _ store.Store = (*Store)(nil)

// New connects to PostgreSQL, retrying with exponential backoff until cfg.ConnectTimeout, and
// applies the schema.
func New(ctx context.Context, log logrus.FieldLogger, cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := &Store{
		log: log.WithField("component", "postgres"),
		db:  db,
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 15 * time.Second
	bo.MaxElapsedTime = cfg.ConnectTimeout

	attempt := 0

	err = backoff.Retry(func() error {
		attempt++

		if pingErr := db.PingContext(ctx); pingErr != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}

			s.log.WithError(pingErr).WithField("attempt", attempt).Warn("Postgres not reachable, retrying")

			return pingErr
		}

		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()

		return nil, err
	}

	s.log.Info("Connected to postgres")

	return s, nil
}

// Migrate applies the schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, initialSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	return nil
}

// Begin starts a transaction on a dedicated connection.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}

	return &Tx{tx: tx}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// mapError converts driver errors to store errors.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}

	if errors.Is(err, sql.ErrTxDone) {
		return store.ErrTxDone
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s: %w: %s", op, store.ErrConflict, pqErr.Detail)
	}

	return fmt.Errorf("%s: %w", op, err)
}
