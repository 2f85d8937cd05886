package tickets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirinyoku/eventpay/internal/domain"
	"github.com/kirinyoku/eventpay/internal/repository"
	redisrepo "github.com/kirinyoku/eventpay/internal/repository/redis"
)

type Config struct {
	// ViewTTL applies to paid and refunded tickets.
	ViewTTL time.Duration
	// PendingViewTTL applies to tickets still waiting for payment. It bounds how
	// long a view loaded just before the webhook commit can outlive the
	// webhook's invalidation.
	PendingViewTTL time.Duration
}

type Service struct {
	repos  repository.Repositories
	cache  *redisrepo.Cache
	logger *slog.Logger
	cfg    Config
}

// New builds the ticket read model. cache may be nil, in which case every
// read goes to the database.
func New(repos repository.Repositories, cache *redisrepo.Cache, logger *slog.Logger, cfg Config) *Service {
	if cfg.ViewTTL <= 0 {
		cfg.ViewTTL = 30 * time.Second
	}
	if cfg.PendingViewTTL <= 0 {
		cfg.PendingViewTTL = 2 * time.Second
	}

	return &Service{
		repos:  repos,
		cache:  cache,
		logger: logger.With("component", "tickets"),
		cfg:    cfg,
	}
}

// Get returns the buyer-facing view of a ticket, served from cache when present.
//
// Parameters:
//   - ctx: request-scoped context.
//   - id: ID of the ticket.
//
// Returns:
//   - domain.TicketView: ticket status with the event it belongs to.
//   - error: tickets.ErrTicketNotFound if the ticket does not exist.
func (s *Service) Get(ctx context.Context, id int64) (domain.TicketView, error) {
	const op = "service.tickets.Get"

	if s.cache == nil {
		v, err := s.load(ctx, id)
		if err != nil {
			return domain.TicketView{}, fmt.Errorf("%s: %w", op, err)
		}
		return v, nil
	}

	v, err := redisrepo.GetOrSetJSONFunc(ctx, s.cache, redisrepo.KeyTicketView(id), s.ttlFor, func(ctx context.Context) (domain.TicketView, error) {
		return s.load(ctx, id)
	})
	if err == nil {
		return v, nil
	}

	if errors.Is(err, ErrTicketNotFound) {
		return domain.TicketView{}, fmt.Errorf("%s: %w", op, err)
	}

	// Cache unavailable: serve from the database.
	s.logger.Warn("ticket view cache failed", "ticket_id", id, "error", err)

	v, err = s.load(ctx, id)
	if err != nil {
		return domain.TicketView{}, fmt.Errorf("%s: %w", op, err)
	}

	return v, nil
}

func (s *Service) ttlFor(v domain.TicketView) time.Duration {
	if v.Status == string(domain.TicketWaitingPayment) {
		return s.cfg.PendingViewTTL
	}
	return s.cfg.ViewTTL
}

func (s *Service) load(ctx context.Context, id int64) (domain.TicketView, error) {
	d, err := s.repos.Tickets().GetDetails(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.TicketView{}, ErrTicketNotFound
		}
		return domain.TicketView{}, err
	}

	return domain.NewTicketView(d), nil
}
