package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is the only currency tickets are sold in.
const Currency = "RUB"

type User struct {
	ID          int64
	FirstName   string
	LastName    string
	Email       string
	ContactInfo *string
}

func (u User) FullName() string {
	return u.FirstName + " " + u.LastName
}

type Event struct {
	ID        int64
	Title     string
	Price     decimal.Decimal
	EventDate time.Time
	Location  string
	ChatLink  *string
}

type Ticket struct {
	ID         int64
	EventID    int64
	UserID     int64
	AmountPaid decimal.Decimal
	Status     TicketStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TicketDetails is a ticket together with the event and the buyer it belongs to.
type TicketDetails struct {
	Ticket Ticket
	Event  Event
	User   User
}

type Payment struct {
	ID               int64
	Target           PaymentTarget
	GatewayPaymentID string
	Amount           decimal.Decimal
	Status           PaymentStatus
	Source           PaymentSource
	Type             PaymentType
	Metadata         map[string]any
	CreatedAt        time.Time
}

// TicketView is the read model served to the payment return page.
type TicketView struct {
	ID         int64     `json:"id"`
	EventID    int64     `json:"eventId"`
	EventTitle string    `json:"eventTitle"`
	EventDate  time.Time `json:"eventDate"`
	Location   string    `json:"location"`
	AmountPaid string    `json:"amountPaid"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func NewTicketView(d *TicketDetails) TicketView {
	return TicketView{
		ID:         d.Ticket.ID,
		EventID:    d.Event.ID,
		EventTitle: d.Event.Title,
		EventDate:  d.Event.EventDate,
		Location:   d.Event.Location,
		AmountPaid: d.Ticket.AmountPaid.StringFixed(2),
		Status:     string(d.Ticket.Status),
		UpdatedAt:  d.Ticket.UpdatedAt,
	}
}
