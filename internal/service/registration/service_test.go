package registration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/eventpay/internal/domain"
	"github.com/kirinyoku/eventpay/internal/gateway"
	"github.com/kirinyoku/eventpay/internal/repository/memrepo"
)

type fakeGateway struct {
	mu   sync.Mutex
	err  error
	url  string
	reqs []gateway.CreatePaymentRequest
	keys []string
}

func (g *fakeGateway) CreatePayment(
	_ context.Context,
	req gateway.CreatePaymentRequest,
	key string,
) (*gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.reqs = append(g.reqs, req)
	g.keys = append(g.keys, key)

	if g.err != nil {
		return nil, g.err
	}

	p := &gateway.Payment{ID: "pay-" + key, Status: gateway.StatusPending, Amount: req.Amount}
	if g.url != "" {
		p.Confirmation = &gateway.Confirmation{Type: gateway.ConfirmationRedirect, ConfirmationURL: g.url}
	}
	return p, nil
}

type fixture struct {
	store   *memrepo.Store
	gw      *fakeGateway
	svc     *Service
	eventID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memrepo.New()
	eventID := store.AddEvent(domain.Event{
		Title:     "Go Meetup",
		Price:     decimal.RequireFromString("1500"),
		EventDate: time.Date(2025, 4, 12, 19, 0, 0, 0, time.UTC),
		Location:  "Moscow",
	})

	gw := &fakeGateway{url: "https://pay.example/confirm"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &fixture{
		store:   store,
		gw:      gw,
		svc:     New(store, store, gw, logger, Config{ReturnURL: "https://example.com/return"}),
		eventID: eventID,
	}
}

func (f *fixture) input() RegisterInput {
	return RegisterInput{
		Email:     "buyer@example.com",
		FirstName: "Ivan",
		LastName:  "Petrov",
		EventID:   f.eventID,
		Source:    "website",
	}
}

func TestRegister_HappyPath(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Register(context.Background(), f.input())
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/confirm", res.PaymentURL)

	tickets := f.store.TicketsSnapshot()
	require.Len(t, tickets, 1)
	assert.Equal(t, res.TicketID, tickets[0].ID)
	assert.Equal(t, domain.TicketWaitingPayment, tickets[0].Status)
	assert.True(t, tickets[0].AmountPaid.Equal(decimal.NewFromInt(1500)))

	users := f.store.UsersSnapshot()
	require.Len(t, users, 1)
	assert.Equal(t, "buyer@example.com", users[0].Email)

	require.Len(t, f.gw.reqs, 1)
	req := f.gw.reqs[0]
	assert.Equal(t, "1500.00", req.Amount.Value)
	assert.Equal(t, "RUB", req.Amount.Currency)
	assert.True(t, req.Capture)
	assert.Equal(t, gateway.ConfirmationRedirect, req.Confirmation.Type)
	assert.Equal(t, "https://example.com/return", req.Confirmation.ReturnURL)
	assert.Contains(t, req.Description, "Go Meetup")
	assert.Equal(t, map[string]string{
		"ticket_id": itoa(res.TicketID),
		"event_id":  itoa(f.eventID),
		"user_id":   itoa(users[0].ID),
		"source":    "website",
	}, req.Metadata)
	assert.Equal(t, PaymentIdempotenceKey(res.TicketID), f.gw.keys[0])
}

func TestRegister_ExistingEmailReusesUser(t *testing.T) {
	f := newFixture(t)
	secondEvent := f.store.AddEvent(domain.Event{Title: "Rust Meetup", Price: decimal.NewFromInt(500)})

	_, err := f.svc.Register(context.Background(), f.input())
	require.NoError(t, err)

	in := f.input()
	in.EventID = secondEvent
	_, err = f.svc.Register(context.Background(), in)
	require.NoError(t, err)

	assert.Len(t, f.store.UsersSnapshot(), 1)
	assert.Len(t, f.store.TicketsSnapshot(), 2)
}

func TestRegister_ExistingUserProfileIsKept(t *testing.T) {
	f := newFixture(t)
	contact := "@owner"
	ownerID := f.store.AddUser(domain.User{
		FirstName:   "Real",
		LastName:    "Owner",
		Email:       "buyer@example.com",
		ContactInfo: &contact,
	})

	other := "@someone-else"
	in := f.input()
	in.FirstName = "Someone"
	in.LastName = "Else"
	in.ContactInfo = &other

	res, err := f.svc.Register(context.Background(), in)
	require.NoError(t, err)

	users := f.store.UsersSnapshot()
	require.Len(t, users, 1)
	assert.Equal(t, ownerID, users[0].ID)
	assert.Equal(t, "Real", users[0].FirstName)
	assert.Equal(t, "Owner", users[0].LastName)
	require.NotNil(t, users[0].ContactInfo)
	assert.Equal(t, "@owner", *users[0].ContactInfo)

	assert.Equal(t, itoa(ownerID), f.gw.reqs[0].Metadata["user_id"])
	assert.Equal(t, res.TicketID, f.store.TicketsSnapshot()[0].ID)
}

func TestRegister_FreeFormSourceIsEchoed(t *testing.T) {
	f := newFixture(t)

	in := f.input()
	in.Source = " test@site.com "

	_, err := f.svc.Register(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "test@site.com", f.gw.reqs[0].Metadata["source"])
}

func TestRegister_DuplicateIsConflict(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), f.input())
	require.NoError(t, err)

	_, err = f.svc.Register(context.Background(), f.input())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTicketExists)

	assert.Len(t, f.store.TicketsSnapshot(), 1)
	assert.Len(t, f.gw.reqs, 1)
}

func TestRegister_UnknownEventCreatesNothing(t *testing.T) {
	f := newFixture(t)

	in := f.input()
	in.EventID = 999

	_, err := f.svc.Register(context.Background(), in)
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.Empty(t, f.store.UsersSnapshot())
	assert.Empty(t, f.store.TicketsSnapshot())
	assert.Empty(t, f.gw.reqs)
}

func TestRegister_InvalidInput(t *testing.T) {
	f := newFixture(t)

	cases := map[string]func(in *RegisterInput){
		"bad email":    func(in *RegisterInput) { in.Email = "not-an-email" },
		"no last name": func(in *RegisterInput) { in.LastName = "  " },
		"no source":    func(in *RegisterInput) { in.Source = "  " },
		"long source":  func(in *RegisterInput) { in.Source = strings.Repeat("x", 65) },
		"no event":     func(in *RegisterInput) { in.EventID = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := f.input()
			mutate(&in)

			_, err := f.svc.Register(context.Background(), in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	assert.Empty(t, f.store.TicketsSnapshot())
}

func TestRegister_GatewayFailureLeavesTicketWaiting(t *testing.T) {
	f := newFixture(t)
	f.gw.err = gateway.ErrTimeout

	_, err := f.svc.Register(context.Background(), f.input())
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrTimeout)

	tickets := f.store.TicketsSnapshot()
	require.Len(t, tickets, 1)
	assert.Equal(t, domain.TicketWaitingPayment, tickets[0].Status)
	assert.Empty(t, f.store.PaymentsSnapshot())
}

func TestRegister_NoConfirmationURL(t *testing.T) {
	f := newFixture(t)
	f.gw.url = ""

	_, err := f.svc.Register(context.Background(), f.input())
	assert.ErrorIs(t, err, ErrNoPaymentURL)
}

func TestResumePayment_ReusesIdempotenceKey(t *testing.T) {
	f := newFixture(t)
	f.gw.err = errors.New("boom")

	_, err := f.svc.Register(context.Background(), f.input())
	require.Error(t, err)

	ticketID := f.store.TicketsSnapshot()[0].ID
	f.gw.err = nil

	res, err := f.svc.ResumePayment(context.Background(), ticketID, "")
	require.NoError(t, err)
	assert.Equal(t, ticketID, res.TicketID)
	assert.Equal(t, "https://pay.example/confirm", res.PaymentURL)

	require.Len(t, f.gw.keys, 2)
	assert.Equal(t, f.gw.keys[0], f.gw.keys[1])
	assert.Equal(t, "website", f.gw.reqs[1].Metadata["source"])
}

func TestResumePayment_NotPending(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Register(context.Background(), f.input())
	require.NoError(t, err)

	require.NoError(t, f.store.Tickets().MarkPaid(context.Background(), res.TicketID, decimal.NewFromInt(1500)))

	_, err = f.svc.ResumePayment(context.Background(), res.TicketID, "website")
	assert.ErrorIs(t, err, ErrTicketNotPending)
}

func TestResumePayment_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ResumePayment(context.Background(), 404, "telegram")
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestRegisterUser(t *testing.T) {
	f := newFixture(t)
	userID := f.store.AddUser(domain.User{FirstName: "Anna", LastName: "Ivanova", Email: "anna@example.com"})

	res, err := f.svc.RegisterUser(context.Background(), userID, f.eventID, "telegram")
	require.NoError(t, err)
	assert.NotEmpty(t, res.PaymentURL)
	assert.Equal(t, "telegram", f.gw.reqs[0].Metadata["source"])

	_, err = f.svc.RegisterUser(context.Background(), userID, f.eventID, "telegram")
	assert.ErrorIs(t, err, ErrTicketExists)
}

func TestRegisterUser_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RegisterUser(context.Background(), 12345, f.eventID, "website")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Empty(t, f.store.TicketsSnapshot())
}

func TestPaymentIdempotenceKey(t *testing.T) {
	assert.Equal(t, PaymentIdempotenceKey(7), PaymentIdempotenceKey(7))
	assert.NotEqual(t, PaymentIdempotenceKey(7), PaymentIdempotenceKey(8))
	assert.Len(t, PaymentIdempotenceKey(7), 36)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
