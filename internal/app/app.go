package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kirinyoku/eventpay/internal/config"
	"github.com/kirinyoku/eventpay/internal/gateway"
	"github.com/kirinyoku/eventpay/internal/notification"
	"github.com/kirinyoku/eventpay/internal/postgres"
	redisx "github.com/kirinyoku/eventpay/internal/redis"
	postgresrepo "github.com/kirinyoku/eventpay/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/eventpay/internal/repository/redis"
	"github.com/kirinyoku/eventpay/internal/service"
	"github.com/kirinyoku/eventpay/internal/service/registration"
	"github.com/kirinyoku/eventpay/internal/service/tickets"
	httpgin "github.com/kirinyoku/eventpay/internal/transport/http/gin"
	"github.com/kirinyoku/eventpay/internal/uow"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server

	pool    *pgxpool.Pool
	rdb     *redis.Client
	gateway *gateway.Client
	smtp    *notification.SMTPPool
	cache   *redisrepo.Cache
	pubsub  *redisrepo.TicketsPubSub
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	pool, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.Postgres.DSN(),
		MaxConns:        cfg.Postgres.MaxConns,
		MaxConnLifetime: cfg.Postgres.ConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redisx.New(ctx, redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Repositories and Redis-backed stores
	store := postgresrepo.NewStore(pool)
	cache := redisrepo.New(rdb)
	pubsub := redisrepo.NewTicketsPubSub(rdb)
	var limiter *redisrepo.SlidingWindowLimiter
	if cfg.Limits.RegisterPerMinute > 0 {
		limiter = redisrepo.NewSlidingWindowLimiter(rdb, "register", cfg.Limits.RegisterPerMinute, time.Minute)
	}
	idem := redisrepo.NewIdempotencyStore(rdb, cfg.Limits.IdempotencyTTL)

	// Outbound adapters
	gw := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		ShopID:    cfg.Gateway.ShopID,
		SecretKey: cfg.Gateway.SecretKey,
		Test:      cfg.Gateway.Test,
	}, gateway.NewHTTPClient(), logger)

	smtpPool := notification.NewSMTPPool(notification.SMTPConfig{
		Host:        cfg.SMTP.Host,
		Port:        cfg.SMTP.Port,
		User:        cfg.SMTP.User,
		Password:    cfg.SMTP.Password,
		ImplicitTLS: cfg.SMTP.ImplicitTLS,
		Timeout:     cfg.SMTP.Timeout,
	}, logger)

	services := service.NewServices(service.Deps{
		Repos:   store,
		UoW:     uow.NewUoW(store),
		Gateway: gw,
		Mailer:  notification.NewDispatcher(smtpPool, cfg.SMTP.From, logger),
		Cache:   cache,
		PubSub:  pubsub,
		Logger:  logger,
	}, service.Config{
		Registration: registration.Config{ReturnURL: cfg.Gateway.ReturnURL},
		Tickets:      tickets.Config{
			ViewTTL:        cfg.Limits.TicketViewTTL,
			PendingViewTTL: cfg.Limits.TicketPendingViewTTL,
		},
	})

	router := httpgin.NewRouter(services, httpgin.Options{
		Idempotency: idem,
		Limiter:     limiter,
	}, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		pool:    pool,
		rdb:     rdb,
		gateway: gw,
		smtp:    smtpPool,
		cache:   cache,
		pubsub:  pubsub,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer a.close()

	g, gCtx := errgroup.WithContext(ctx)

	// HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Ticket change fan-out: every instance drops its copy of the read model.
	g.Go(func() error {
		err := a.pubsub.Subscribe(gCtx, func(ctx context.Context, msg redisrepo.TicketChanged) {
			if err := a.cache.InvalidateTicket(ctx, msg.TicketID); err != nil {
				a.logger.Warn("failed to invalidate ticket view", "ticket_id", msg.TicketID, "error", err)
				return
			}
			a.logger.Debug("ticket changed", "ticket_id", msg.TicketID, "status", msg.Status)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ticket change subscriber: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

// close releases outbound connections once the server has stopped.
func (a *App) close() {
	a.gateway.Close()

	if err := a.smtp.Close(); err != nil {
		a.logger.Warn("failed to close smtp connection", "error", err)
	}

	if err := a.rdb.Close(); err != nil {
		a.logger.Warn("failed to close redis", "error", err)
	}

	a.pool.Close()

	a.logger.Info("shutdown complete")
}
