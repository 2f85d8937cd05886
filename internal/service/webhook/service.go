package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirinyoku/eventpay/internal/domain"
	"github.com/kirinyoku/eventpay/internal/gateway"
	"github.com/kirinyoku/eventpay/internal/metrics"
	"github.com/kirinyoku/eventpay/internal/repository"
	"github.com/kirinyoku/eventpay/internal/uow"
)

const afterCommitTimeout = 30 * time.Second

type TicketCache interface {
	InvalidateTicket(ctx context.Context, ticketID int64) error
}

type TicketPublisher interface {
	PublishTicketChanged(ctx context.Context, ticketID int64, status string) error
}

type Mailer interface {
	SendTicketConfirmation(ctx context.Context, t *domain.TicketDetails) error
}

type Service struct {
	uow       uow.Runner
	cache     TicketCache
	publisher TicketPublisher
	mailer    Mailer
	logger    *slog.Logger
}

func New(
	runner uow.Runner,
	cache TicketCache,
	publisher TicketPublisher,
	mailer Mailer,
	logger *slog.Logger,
) *Service {
	return &Service{
		uow:       runner,
		cache:     cache,
		publisher: publisher,
		mailer:    mailer,
		logger:    logger.With("component", "webhook"),
	}
}

type succeededPayment struct {
	gatewayID string
	ticketID  int64
	amount    decimal.Decimal
	metadata  map[string]any
}

// HandleNotification applies a gateway notification. Only payment.succeeded is
// acted upon; other event types are accepted and ignored.
//
// The ticket row is locked before the payment is recorded, so a notification
// for an unknown ticket leaves no payment behind and concurrent deliveries of
// the same payment serialize. A repeated delivery of an already recorded
// payment is a no-op. A different payment for a ticket that is no longer
// waiting for payment is logged and counted as an anomaly; the ticket and its
// payments are left unchanged and no email is sent.
//
// Returns:
//   - error: webhook.ErrMalformed when the payload cannot be interpreted.
//   - error: webhook.ErrTicketNotFound when the referenced ticket does not exist.
//
// Email delivery happens after commit and its failure is not returned.
func (s *Service) HandleNotification(ctx context.Context, n gateway.Notification) error {
	const op = "service.webhook.HandleNotification"

	if n.Event != gateway.EventPaymentSucceeded {
		metrics.WebhookNotifications.WithLabelValues(n.Event, metrics.OutcomeIgnored).Inc()
		s.logger.Info("ignoring gateway notification", "event", n.Event, "payment_id", n.Object.ID)
		return nil
	}

	p, err := parseSucceeded(n.Object)
	if err != nil {
		metrics.WebhookNotifications.WithLabelValues(n.Event, metrics.OutcomeMalformed).Inc()
		s.logger.Warn("malformed payment notification", "payment_id", n.Object.ID, "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	log := s.logger.With("payment_id", p.gatewayID, "ticket_id", p.ticketID)

	var (
		duplicate bool
		anomaly   domain.TicketStatus
	)

	err = s.uow.Do(ctx, func(ctx context.Context, tx repository.Repositories, after func(uow.AfterCommit)) error {
		t, err := tx.Tickets().GetForUpdate(ctx, p.ticketID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTicketNotFound
			}
			return err
		}

		if t.Status != domain.TicketWaitingPayment {
			_, err := tx.Payments().GetByGatewayID(ctx, p.gatewayID)
			switch {
			case err == nil:
				duplicate = true
				return nil
			case errors.Is(err, repository.ErrNotFound):
				anomaly = t.Status
				return nil
			default:
				return err
			}
		}

		_, err = tx.Payments().Create(ctx, domain.Payment{
			Target:           domain.TicketTarget(p.ticketID),
			GatewayPaymentID: p.gatewayID,
			Amount:           p.amount,
			Status:           domain.PaymentSucceeded,
			Source:           domain.SourceWebsite,
			Type:             domain.PaymentEventTicket,
			Metadata:         p.metadata,
		})
		if errors.Is(err, repository.ErrConflict) {
			duplicate = true
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Tickets().MarkPaid(ctx, p.ticketID, p.amount); err != nil {
			return err
		}

		details, err := tx.Tickets().GetDetails(ctx, p.ticketID)
		if err != nil {
			return err
		}

		after(func(ctx context.Context) {
			s.afterPaid(ctx, details)
		})

		return nil
	})
	if err != nil {
		metrics.WebhookNotifications.WithLabelValues(n.Event, outcome(err)).Inc()
		log.Error("failed to apply payment notification", "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	if duplicate {
		metrics.WebhookNotifications.WithLabelValues(n.Event, metrics.OutcomeDuplicate).Inc()
		log.Info("payment already recorded, skipping")
		return nil
	}

	if anomaly != "" {
		metrics.WebhookNotifications.WithLabelValues(n.Event, metrics.OutcomeAnomaly).Inc()
		log.Error("payment for a ticket that is not waiting for payment, not recorded",
			"ticket_status", anomaly, "amount", p.amount.StringFixed(2))
		return nil
	}

	metrics.WebhookNotifications.WithLabelValues(n.Event, metrics.OutcomeOK).Inc()
	log.Info("ticket paid", "amount", p.amount.StringFixed(2))

	return nil
}

// afterPaid runs once the ticket is committed as paid. Failures here are logged
// only: the payment is already recorded.
func (s *Service) afterPaid(ctx context.Context, d *domain.TicketDetails) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterCommitTimeout)
	defer cancel()

	log := s.logger.With("ticket_id", d.Ticket.ID)

	if s.cache != nil {
		if err := s.cache.InvalidateTicket(ctx, d.Ticket.ID); err != nil {
			log.Warn("failed to invalidate ticket cache", "error", err)
		}
	}

	if s.publisher != nil {
		if err := s.publisher.PublishTicketChanged(ctx, d.Ticket.ID, string(d.Ticket.Status)); err != nil {
			log.Warn("failed to publish ticket change", "error", err)
		}
	}

	if s.mailer != nil {
		if err := s.mailer.SendTicketConfirmation(ctx, d); err != nil {
			log.Error("ticket paid but confirmation email failed", "email", d.User.Email, "error", err)
		}
	}
}

func parseSucceeded(obj gateway.Payment) (*succeededPayment, error) {
	if obj.ID == "" {
		return nil, fmt.Errorf("%w: missing payment id", ErrMalformed)
	}

	rawTicket, ok := obj.Metadata["ticket_id"]
	if !ok {
		return nil, fmt.Errorf("%w: missing metadata.ticket_id", ErrMalformed)
	}

	ticketID, err := strconv.ParseInt(rawTicket, 10, 64)
	if err != nil || ticketID <= 0 {
		return nil, fmt.Errorf("%w: metadata.ticket_id %q", ErrMalformed, rawTicket)
	}

	amount, err := obj.Amount.Decimal()
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q", ErrMalformed, obj.Amount.Value)
	}

	metadata := map[string]any{"ticket_id": ticketID}

	for _, k := range []string{"event_id", "user_id"} {
		raw, ok := obj.Metadata[k]
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata.%s %q", ErrMalformed, k, raw)
		}
		metadata[k] = v
	}

	if src, ok := obj.Metadata["source"]; ok {
		metadata["source"] = src
	}

	return &succeededPayment{
		gatewayID: obj.ID,
		ticketID:  ticketID,
		amount:    amount,
		metadata:  metadata,
	}, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrTicketNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeError
	}
}
