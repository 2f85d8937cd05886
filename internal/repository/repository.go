package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/kirinyoku/eventpay/internal/domain"
)

type Users interface {
	// FindOrCreate returns the id of the user registered with u.Email, creating
	// the user when the email is unknown. An existing user's profile is not changed.
	FindOrCreate(ctx context.Context, u domain.User) (int64, error)
	Get(ctx context.Context, id int64) (*domain.User, error)
}

type Events interface {
	Get(ctx context.Context, id int64) (*domain.Event, error)
}

type Tickets interface {
	// Create returns ErrConflict when the user already holds a ticket for the event.
	Create(ctx context.Context, t domain.Ticket) (int64, error)
	Get(ctx context.Context, id int64) (*domain.Ticket, error)
	// GetForUpdate locks the ticket row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*domain.Ticket, error)
	GetDetails(ctx context.Context, id int64) (*domain.TicketDetails, error)
	MarkPaid(ctx context.Context, id int64, amount decimal.Decimal) error
}

type Payments interface {
	// Create returns ErrConflict when a payment with the same gateway id exists.
	Create(ctx context.Context, p domain.Payment) (int64, error)
	GetByGatewayID(ctx context.Context, gatewayPaymentID string) (*domain.Payment, error)
}

// Repositories groups the repositories bound to one database handle.
type Repositories interface {
	Users() Users
	Events() Events
	Tickets() Tickets
	Payments() Payments
}
