// Package postgres implements the store ports on PostgreSQL through pgx.
// Lock* methods use SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ariefcatur/go-realtime-payments/internal/shop"
	"github.com/ariefcatur/go-realtime-payments/internal/store"
)

//go:embed schema.sql
var schema string

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	querier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Migrate creates the tables when they do not exist yet.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*Tx)(nil)
)

type Store struct {
	DB DB
}

func NewStore(db DB) *Store { return &Store{DB: db} }

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &Tx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (s *Store) Order(ctx context.Context, id string) (shop.Order, error) {
	return (&Tx{q: s.DB}).Order(ctx, id)
}

func (s *Store) Payment(ctx context.Context, id string) (shop.Payment, error) {
	return (&Tx{q: s.DB}).Payment(ctx, id)
}

// notFound maps pgx.ErrNoRows to shop.ErrNotFound.
func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, shop.ErrNotFound)
	}
	return fmt.Errorf("postgres: %s %s: %w", what, id, err)
}
