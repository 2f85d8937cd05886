// Package memrepo is an in-memory implementation of the repository interfaces
// with the same uniqueness rules as the Postgres schema. Services use it in tests.
package memrepo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirinyoku/eventpay/internal/domain"
	"github.com/kirinyoku/eventpay/internal/repository"
	"github.com/kirinyoku/eventpay/internal/uow"
)

type Store struct {
	mu sync.Mutex

	nextID   int64
	users    map[int64]domain.User
	events   map[int64]domain.Event
	tickets  map[int64]domain.Ticket
	payments map[int64]domain.Payment
}

func New() *Store {
	return &Store{
		users:    map[int64]domain.User{},
		events:   map[int64]domain.Event{},
		tickets:  map[int64]domain.Ticket{},
		payments: map[int64]domain.Payment{},
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// AddEvent seeds an event and returns its id.
func (s *Store) AddEvent(e domain.Event) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == 0 {
		e.ID = s.id()
	}
	s.events[e.ID] = e
	return e.ID
}

// AddUser seeds a user and returns its id.
func (s *Store) AddUser(u domain.User) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == 0 {
		u.ID = s.id()
	}
	s.users[u.ID] = u
	return u.ID
}

func (s *Store) TicketsSnapshot() []domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, t)
	}
	return out
}

func (s *Store) PaymentsSnapshot() []domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Payment, 0, len(s.payments))
	for _, p := range s.payments {
		out = append(out, p)
	}
	return out
}

func (s *Store) UsersSnapshot() []domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out
}

func (s *Store) Users() repository.Users       { return users{s} }
func (s *Store) Events() repository.Events     { return events{s} }
func (s *Store) Tickets() repository.Tickets   { return tickets{s} }
func (s *Store) Payments() repository.Payments { return payments{s} }

// Do implements uow.Runner. Hooks run when fn succeeds; there is no rollback.
func (s *Store) Do(ctx context.Context, fn uow.Func) error {
	var hooks []uow.AfterCommit

	if err := fn(ctx, s, func(h uow.AfterCommit) { hooks = append(hooks, h) }); err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}
	return nil
}

type users struct{ s *Store }

func (r users) FindOrCreate(_ context.Context, u domain.User) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, existing := range r.s.users {
		if existing.Email == u.Email {
			return id, nil
		}
	}

	u.ID = r.s.id()
	r.s.users[u.ID] = u
	return u.ID, nil
}

func (r users) Get(_ context.Context, id int64) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, fmt.Errorf("memrepo.users.Get: %w", repository.ErrNotFound)
	}
	return &u, nil
}

type events struct{ s *Store }

func (r events) Get(_ context.Context, id int64) (*domain.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.events[id]
	if !ok {
		return nil, fmt.Errorf("memrepo.events.Get: %w", repository.ErrNotFound)
	}
	return &e, nil
}

type tickets struct{ s *Store }

func (r tickets) Create(_ context.Context, t domain.Ticket) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.tickets {
		if existing.EventID == t.EventID && existing.UserID == t.UserID {
			return 0, fmt.Errorf("memrepo.tickets.Create: %w", repository.ErrConflict)
		}
	}

	now := time.Now()
	t.ID = r.s.id()
	t.CreatedAt, t.UpdatedAt = now, now
	r.s.tickets[t.ID] = t
	return t.ID, nil
}

func (r tickets) Get(_ context.Context, id int64) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("memrepo.tickets.Get: %w", repository.ErrNotFound)
	}
	return &t, nil
}

func (r tickets) GetForUpdate(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.Get(ctx, id)
}

func (r tickets) GetDetails(_ context.Context, id int64) (*domain.TicketDetails, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("memrepo.tickets.GetDetails: %w", repository.ErrNotFound)
	}
	return &domain.TicketDetails{
		Ticket: t,
		Event:  r.s.events[t.EventID],
		User:   r.s.users[t.UserID],
	}, nil
}

func (r tickets) MarkPaid(_ context.Context, id int64, amount decimal.Decimal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tickets[id]
	if !ok {
		return fmt.Errorf("memrepo.tickets.MarkPaid: %w", repository.ErrNotFound)
	}
	t.AmountPaid = amount
	t.Status = domain.TicketPaid
	t.UpdatedAt = time.Now()
	r.s.tickets[id] = t
	return nil
}

type payments struct{ s *Store }

func (r payments) Create(_ context.Context, p domain.Payment) (int64, error) {
	if err := p.Target.Validate(); err != nil {
		return 0, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ticketID, forTicket := p.Target.TicketID()
	for _, existing := range r.s.payments {
		if existing.GatewayPaymentID == p.GatewayPaymentID {
			return 0, fmt.Errorf("memrepo.payments.Create: %w", repository.ErrConflict)
		}
		if forTicket && p.Type == domain.PaymentEventTicket && existing.Type == domain.PaymentEventTicket {
			if id, ok := existing.Target.TicketID(); ok && id == ticketID {
				return 0, fmt.Errorf("memrepo.payments.Create: %w", repository.ErrConflict)
			}
		}
	}

	p.ID = r.s.id()
	p.CreatedAt = time.Now()
	r.s.payments[p.ID] = p
	return p.ID, nil
}

func (r payments) GetByGatewayID(_ context.Context, gatewayPaymentID string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, p := range r.s.payments {
		if p.GatewayPaymentID == gatewayPaymentID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("memrepo.payments.GetByGatewayID: %w", repository.ErrNotFound)
}
