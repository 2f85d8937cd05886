package postgresrepo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirinyoku/eventpay/internal/repository"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

func (s *Store) RunTx(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx DB) error,
) error {
	txOpts := pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	}

	if opts != nil {
		txOpts.IsoLevel = opts.IsoLevel
		txOpts.AccessMode = opts.AccessMode
		txOpts.DeferrableMode = opts.DeferrableMode
	}

	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func (s *Store) Users() repository.Users       { return &UserRepo{pool: s.pool} }
func (s *Store) Events() repository.Events     { return &EventRepo{pool: s.pool} }
func (s *Store) Tickets() repository.Tickets   { return &TicketRepo{pool: s.pool} }
func (s *Store) Payments() repository.Payments { return &PaymentRepo{pool: s.pool} }

// Bind returns repositories that run every statement on db, typically a transaction.
func (s *Store) Bind(db DB) repository.Repositories {
	return &boundRepos{pool: s.pool, db: db}
}

type boundRepos struct {
	pool *pgxpool.Pool
	db   DB
}

func (b *boundRepos) Users() repository.Users {
	return (&UserRepo{pool: b.pool}).With(b.db)
}

func (b *boundRepos) Events() repository.Events {
	return (&EventRepo{pool: b.pool}).With(b.db)
}

func (b *boundRepos) Tickets() repository.Tickets {
	return (&TicketRepo{pool: b.pool}).With(b.db)
}

func (b *boundRepos) Payments() repository.Payments {
	return (&PaymentRepo{pool: b.pool}).With(b.db)
}
