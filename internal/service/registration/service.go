package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kirinyoku/eventpay/internal/domain"
	"github.com/kirinyoku/eventpay/internal/gateway"
	"github.com/kirinyoku/eventpay/internal/metrics"
	"github.com/kirinyoku/eventpay/internal/repository"
	"github.com/kirinyoku/eventpay/internal/uow"
)

// paymentKeyNamespace scopes the UUIDv5 idempotence keys derived from ticket ids.
var paymentKeyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("eventpay:ticket-payment"))

const (
	kindNewUser      = "new_user"
	kindExistingUser = "existing_user"
	kindResume       = "resume"
)

const (
	// defaultSource tags payments resumed without an explicit source.
	defaultSource = "website"
	maxSourceLen  = 64
)

// PaymentGateway creates payments at the payment provider. *gateway.Client implements it.
type PaymentGateway interface {
	CreatePayment(ctx context.Context, req gateway.CreatePaymentRequest, idempotenceKey string) (*gateway.Payment, error)
}

type Config struct {
	// ReturnURL is where the gateway sends the buyer after paying.
	ReturnURL string
}

type Service struct {
	repos   repository.Repositories
	uow     uow.Runner
	gateway PaymentGateway
	logger  *slog.Logger
	cfg     Config
}

func New(
	repos repository.Repositories,
	runner uow.Runner,
	gw PaymentGateway,
	logger *slog.Logger,
	cfg Config,
) *Service {
	return &Service{
		repos:   repos,
		uow:     runner,
		gateway: gw,
		logger:  logger.With("component", "registration"),
		cfg:     cfg,
	}
}

type RegisterInput struct {
	Email       string
	FirstName   string
	LastName    string
	EventID     int64
	ContactInfo *string
	// Source is a free-form channel tag echoed into the payment metadata.
	Source string
}

func (in *RegisterInput) normalize() error {
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	if _, err := mail.ParseAddress(in.Email); err != nil {
		return fmt.Errorf("%w: email %q", ErrInvalidInput, in.Email)
	}

	if in.FirstName == "" || in.LastName == "" {
		return fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}

	if in.EventID <= 0 {
		return fmt.Errorf("%w: eventId must be positive", ErrInvalidInput)
	}

	src, err := normalizeSource(in.Source)
	if err != nil {
		return err
	}
	in.Source = src

	return nil
}

func normalizeSource(src string) (string, error) {
	src = strings.TrimSpace(src)

	if src == "" {
		return "", fmt.Errorf("%w: source is required", ErrInvalidInput)
	}

	if utf8.RuneCountInString(src) > maxSourceLen {
		return "", fmt.Errorf("%w: source longer than %d characters", ErrInvalidInput, maxSourceLen)
	}

	return src, nil
}

// Result is what the buyer needs to continue to payment.
type Result struct {
	TicketID   int64
	PaymentURL string
}

// Register signs a buyer up for an event and opens a payment for the ticket.
//
// Parameters:
//   - ctx: request-scoped context.
//   - in: buyer details, event and sales channel.
//
// Returns:
//   - *Result: the new ticket id and the gateway's payment page.
//   - error: registration.ErrInvalidInput, registration.ErrEventNotFound,
//     registration.ErrTicketExists, registration.ErrNoPaymentURL or a gateway error.
//     When the gateway call fails the ticket stays waiting for payment.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Result, error) {
	const op = "service.registration.Register"

	res, err := s.register(ctx, in)
	metrics.Registrations.WithLabelValues(kindNewUser, outcome(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return res, nil
}

func (s *Service) register(ctx context.Context, in RegisterInput) (*Result, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	event, err := s.loadEvent(ctx, in.EventID)
	if err != nil {
		return nil, err
	}

	var ticket *domain.Ticket

	err = s.uow.Do(ctx, func(ctx context.Context, tx repository.Repositories, _ func(uow.AfterCommit)) error {
		userID, err := tx.Users().FindOrCreate(ctx, domain.User{
			FirstName:   in.FirstName,
			LastName:    in.LastName,
			Email:       in.Email,
			ContactInfo: in.ContactInfo,
		})
		if err != nil {
			return err
		}

		ticket, err = createTicket(ctx, tx, event, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.requestPayment(ctx, ticket, event, in.Source)
}

// RegisterUser signs an existing user up for an event and opens a payment.
//
// Returns registration.ErrUserNotFound when userID is unknown; other errors as Register.
func (s *Service) RegisterUser(
	ctx context.Context,
	userID, eventID int64,
	source string,
) (*Result, error) {
	const op = "service.registration.RegisterUser"

	res, err := s.registerUser(ctx, userID, eventID, source)
	metrics.Registrations.WithLabelValues(kindExistingUser, outcome(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return res, nil
}

func (s *Service) registerUser(
	ctx context.Context,
	userID, eventID int64,
	source string,
) (*Result, error) {
	if userID <= 0 || eventID <= 0 {
		return nil, fmt.Errorf("%w: userId and eventId must be positive", ErrInvalidInput)
	}

	source, err := normalizeSource(source)
	if err != nil {
		return nil, err
	}

	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	var ticket *domain.Ticket

	err = s.uow.Do(ctx, func(ctx context.Context, tx repository.Repositories, _ func(uow.AfterCommit)) error {
		if _, err := tx.Users().Get(ctx, userID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		ticket, err = createTicket(ctx, tx, event, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.requestPayment(ctx, ticket, event, source)
}

// ResumePayment reopens the payment for a ticket that is still waiting for it,
// e.g. after the gateway call in Register failed. The gateway sees the same
// idempotence key as the first attempt, so a payment it already created is returned.
//
// Returns:
//   - error: registration.ErrTicketNotFound, registration.ErrTicketNotPending
//     or a gateway error.
func (s *Service) ResumePayment(
	ctx context.Context,
	ticketID int64,
	source string,
) (*Result, error) {
	const op = "service.registration.ResumePayment"

	res, err := s.resumePayment(ctx, ticketID, source)
	metrics.Registrations.WithLabelValues(kindResume, outcome(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return res, nil
}

func (s *Service) resumePayment(
	ctx context.Context,
	ticketID int64,
	source string,
) (*Result, error) {
	if strings.TrimSpace(source) == "" {
		source = defaultSource
	}

	source, err := normalizeSource(source)
	if err != nil {
		return nil, err
	}

	ticket, err := s.repos.Tickets().Get(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}

	if ticket.Status != domain.TicketWaitingPayment {
		return nil, ErrTicketNotPending
	}

	event, err := s.loadEvent(ctx, ticket.EventID)
	if err != nil {
		return nil, err
	}

	return s.requestPayment(ctx, ticket, event, source)
}

func (s *Service) loadEvent(ctx context.Context, eventID int64) (*domain.Event, error) {
	event, err := s.repos.Events().Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}

	return event, nil
}

func createTicket(
	ctx context.Context,
	tx repository.Repositories,
	event *domain.Event,
	userID int64,
) (*domain.Ticket, error) {
	t := domain.Ticket{
		EventID:    event.ID,
		UserID:     userID,
		AmountPaid: event.Price,
		Status:     domain.TicketWaitingPayment,
	}

	id, err := tx.Tickets().Create(ctx, t)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrTicketExists
		}
		return nil, err
	}

	t.ID = id

	return &t, nil
}

// requestPayment runs after the ticket is committed; no transaction is held
// across the gateway call.
func (s *Service) requestPayment(
	ctx context.Context,
	ticket *domain.Ticket,
	event *domain.Event,
	source string,
) (*Result, error) {
	key := PaymentIdempotenceKey(ticket.ID)

	log := s.logger.With(
		"ticket_id", ticket.ID,
		"event_id", event.ID,
		"user_id", ticket.UserID,
		"idempotence_key", key,
	)

	payment, err := s.gateway.CreatePayment(ctx, gateway.CreatePaymentRequest{
		Amount:      gateway.NewAmount(event.Price, domain.Currency),
		Description: fmt.Sprintf("Оплата участия в мероприятии %s", event.Title),
		Confirmation: &gateway.ConfirmationRequest{
			Type:      gateway.ConfirmationRedirect,
			ReturnURL: s.cfg.ReturnURL,
		},
		Capture: true,
		Metadata: map[string]string{
			"ticket_id": strconv.FormatInt(ticket.ID, 10),
			"event_id":  strconv.FormatInt(event.ID, 10),
			"user_id":   strconv.FormatInt(ticket.UserID, 10),
			"source":    source,
		},
	}, key)
	if err != nil {
		log.Error("payment creation failed, ticket left waiting for payment", "error", err)
		return nil, err
	}

	url := payment.ConfirmationURL()
	if url == "" {
		log.Error("gateway payment has no confirmation url", "payment_id", payment.ID)
		return nil, ErrNoPaymentURL
	}

	log.Info("payment created", "payment_id", payment.ID)

	return &Result{TicketID: ticket.ID, PaymentURL: url}, nil
}

// PaymentIdempotenceKey is the gateway idempotence key for the ticket's payment.
func PaymentIdempotenceKey(ticketID int64) string {
	return uuid.NewSHA1(paymentKeyNamespace, []byte("ticket:"+strconv.FormatInt(ticketID, 10))).String()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrTicketExists), errors.Is(err, ErrTicketNotPending):
		return metrics.OutcomeConflict
	case errors.Is(err, ErrEventNotFound), errors.Is(err, ErrUserNotFound), errors.Is(err, ErrTicketNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, gateway.ErrTimeout):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeError
	}
}
