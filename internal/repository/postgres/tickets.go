package postgresrepo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kirinyoku/eventpay/internal/domain"
	"github.com/kirinyoku/eventpay/internal/repository"
)

type TicketRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *TicketRepo) With(db DB) *TicketRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *TicketRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Create inserts a ticket.
//
// Returns:
//   - int64: the ticket ID when successful.
//   - error: repository.ErrConflict if the user already holds a ticket for the event.
func (r *TicketRepo) Create(ctx context.Context, t domain.Ticket) (int64, error) {
	const op = "postgresrepo.TicketRepo.Create"

	db := r.handle()

	var id int64
	if err := db.QueryRow(ctx,
		`INSERT INTO event_tickets(event_id, user_id, amount_paid, status)
		 VALUES ($1, $2, $3::numeric, $4)
		 RETURNING id`,
		t.EventID, t.UserID, t.AmountPaid.String(), string(t.Status),
	).Scan(&id); err != nil {
		return 0, wrapDBErr(op, err)
	}

	return id, nil
}

func (r *TicketRepo) Get(ctx context.Context, id int64) (*domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.Get"

	t, err := scanTicket(r.handle().QueryRow(ctx,
		`SELECT id, event_id, user_id, amount_paid::text, status, created_at, updated_at
		 FROM event_tickets WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return t, nil
}

func (r *TicketRepo) GetForUpdate(ctx context.Context, id int64) (*domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.GetForUpdate"

	t, err := scanTicket(r.handle().QueryRow(ctx,
		`SELECT id, event_id, user_id, amount_paid::text, status, created_at, updated_at
		 FROM event_tickets WHERE id = $1
		 FOR UPDATE`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return t, nil
}

// GetDetails loads a ticket joined with its event and buyer.
func (r *TicketRepo) GetDetails(ctx context.Context, id int64) (*domain.TicketDetails, error) {
	const op = "postgresrepo.TicketRepo.GetDetails"

	db := r.handle()

	var (
		d             domain.TicketDetails
		amount, price string
		status        string
		email         *string
	)

	err := db.QueryRow(ctx,
		`SELECT t.id, t.event_id, t.user_id, t.amount_paid::text, t.status, t.created_at, t.updated_at,
		        e.id, e.title, e.price::text, e.event_date, e.location, e.chat_link,
		        u.id, u.first_name, u.last_name, u.email, u.contact_info
		 FROM event_tickets t
		 JOIN events e ON e.id = t.event_id
		 JOIN users u ON u.id = t.user_id
		 WHERE t.id = $1`,
		id,
	).Scan(
		&d.Ticket.ID, &d.Ticket.EventID, &d.Ticket.UserID, &amount, &status, &d.Ticket.CreatedAt, &d.Ticket.UpdatedAt,
		&d.Event.ID, &d.Event.Title, &price, &d.Event.EventDate, &d.Event.Location, &d.Event.ChatLink,
		&d.User.ID, &d.User.FirstName, &d.User.LastName, &email, &d.User.ContactInfo,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	if d.Ticket.AmountPaid, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("%s: amount_paid: %w", op, err)
	}
	if d.Event.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("%s: price: %w", op, err)
	}
	if d.Ticket.Status, err = domain.ParseTicketStatus(status); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if email != nil {
		d.User.Email = *email
	}

	return &d, nil
}

// MarkPaid records the confirmed amount and moves the ticket to paid.
func (r *TicketRepo) MarkPaid(ctx context.Context, id int64, amount decimal.Decimal) error {
	const op = "postgresrepo.TicketRepo.MarkPaid"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE event_tickets
		 SET amount_paid = $2::numeric, status = $3, updated_at = now()
		 WHERE id = $1`,
		id, amount.String(), string(domain.TicketPaid),
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	return nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		t      domain.Ticket
		amount string
		status string
	)

	if err := row.Scan(&t.ID, &t.EventID, &t.UserID, &amount, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}

	a, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("amount_paid: %w", err)
	}
	t.AmountPaid = a

	st, err := domain.ParseTicketStatus(status)
	if err != nil {
		return nil, err
	}
	t.Status = st

	return &t, nil
}
