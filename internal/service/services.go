package service

import (
	"log/slog"

	"github.com/kirinyoku/eventpay/internal/repository"
	redisrepo "github.com/kirinyoku/eventpay/internal/repository/redis"
	"github.com/kirinyoku/eventpay/internal/service/registration"
	"github.com/kirinyoku/eventpay/internal/service/tickets"
	"github.com/kirinyoku/eventpay/internal/service/webhook"
	"github.com/kirinyoku/eventpay/internal/uow"
)

type Services struct {
	Registration *registration.Service
	Webhook      *webhook.Service
	Tickets      *tickets.Service
}

type Config struct {
	Registration registration.Config
	Tickets      tickets.Config
}

// Deps are the adapters the services run on. Cache and PubSub may be nil.
type Deps struct {
	Repos   repository.Repositories
	UoW     uow.Runner
	Gateway registration.PaymentGateway
	Mailer  webhook.Mailer
	Cache   *redisrepo.Cache
	PubSub  *redisrepo.TicketsPubSub
	Logger  *slog.Logger
}

func NewServices(deps Deps, cfg Config) *Services {
	var (
		cache     webhook.TicketCache
		publisher webhook.TicketPublisher
	)

	if deps.Cache != nil {
		cache = deps.Cache
	}

	if deps.PubSub != nil {
		publisher = deps.PubSub
	}

	return &Services{
		Registration: registration.New(deps.Repos, deps.UoW, deps.Gateway, deps.Logger, cfg.Registration),
		Webhook:      webhook.New(deps.UoW, cache, publisher, deps.Mailer, deps.Logger),
		Tickets:      tickets.New(deps.Repos, deps.Cache, deps.Logger, cfg.Tickets),
	}
}
