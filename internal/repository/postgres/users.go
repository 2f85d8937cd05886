package postgresrepo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirinyoku/eventpay/internal/domain"
)

type UserRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *UserRepo) With(db DB) *UserRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *UserRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// FindOrCreate returns the id of the user with u.Email, inserting u when the
// email is new. An existing row is left untouched. The no-op update makes
// RETURNING yield the id on conflict and locks the row for the transaction.
func (r *UserRepo) FindOrCreate(ctx context.Context, u domain.User) (int64, error) {
	const op = "postgresrepo.UserRepo.FindOrCreate"

	db := r.handle()

	var id int64
	if err := db.QueryRow(ctx,
		`INSERT INTO users(first_name, last_name, email, contact_info)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		 RETURNING id`,
		u.FirstName, u.LastName, u.Email, u.ContactInfo,
	).Scan(&id); err != nil {
		return 0, wrapDBErr(op, err)
	}

	return id, nil
}

func (r *UserRepo) Get(ctx context.Context, id int64) (*domain.User, error) {
	const op = "postgresrepo.UserRepo.Get"

	db := r.handle()

	var u domain.User
	var email *string
	if err := db.QueryRow(ctx,
		`SELECT id, first_name, last_name, email, contact_info
		 FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.FirstName, &u.LastName, &email, &u.ContactInfo); err != nil {
		return nil, wrapDBErr(op, err)
	}

	if email != nil {
		u.Email = *email
	}

	return &u, nil
}
