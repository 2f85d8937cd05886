package postgresrepo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kirinyoku/eventpay/internal/domain"
)

type EventRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *EventRepo) With(db DB) *EventRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *EventRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *EventRepo) Get(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgresrepo.EventRepo.Get"

	db := r.handle()

	var e domain.Event
	var price string
	if err := db.QueryRow(ctx,
		`SELECT id, title, price::text, event_date, location, chat_link
		 FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Title, &price, &e.EventDate, &e.Location, &e.ChatLink); err != nil {
		return nil, wrapDBErr(op, err)
	}

	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("%s: price: %w", op, err)
	}
	e.Price = p

	return &e, nil
}
