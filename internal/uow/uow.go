package uow

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/kirinyoku/eventpay/internal/repository"
	postgresrepo "github.com/kirinyoku/eventpay/internal/repository/postgres"
)

// AfterCommit is a function that runs after a successful transaction commit.
type AfterCommit func(ctx context.Context)

// Func is the body of a unit of work. Repositories in tx share one transaction;
// after registers hooks that run only once that transaction has committed.
type Func func(ctx context.Context, tx repository.Repositories, after func(AfterCommit)) error

// Runner runs a Func inside a transaction.
type Runner interface {
	Do(ctx context.Context, fn Func) error
}

const defaultMaxAttempts = 3

// UoW represents a unit of work.
type UoW struct {
	store       *postgresrepo.Store
	maxAttempts int
}

func NewUoW(store *postgresrepo.Store) *UoW {
	return &UoW{store: store, maxAttempts: defaultMaxAttempts}
}

// Do runs fn inside the transaction. After a successful commit,
// it executes all after-commit hooks.
func (u *UoW) Do(ctx context.Context, fn Func) error {
	return u.DoWithOpts(ctx, nil, fn)
}

// DoWithOpts runs fn inside the transaction with the given options. A transaction
// that fails on a serialization conflict or deadlock is retried from scratch.
// After a successful commit, it executes all after-commit hooks.
func (u *UoW) DoWithOpts(ctx context.Context, opts *pgx.TxOptions, fn Func) error {
	var (
		hooks []AfterCommit
		err   error
	)

	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		hooks = hooks[:0]

		err = u.store.RunTx(ctx, opts, func(ctx context.Context, tx postgresrepo.DB) error {
			return fn(ctx, u.store.Bind(tx), func(h AfterCommit) {
				hooks = append(hooks, h)
			})
		})
		if err == nil || !postgresrepo.IsRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}
