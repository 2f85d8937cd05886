package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/kirinyoku/eventpay/internal/gateway"
	redisrepo "github.com/kirinyoku/eventpay/internal/repository/redis"
	"github.com/kirinyoku/eventpay/internal/service"
	"github.com/kirinyoku/eventpay/internal/service/registration"
	"github.com/kirinyoku/eventpay/internal/service/tickets"
	"github.com/kirinyoku/eventpay/internal/service/webhook"
)

const (
	idemLockTTL       = 90 * time.Second
	ticketCacheHeader = "private, max-age=5"
)

// Options carries the optional Redis-backed request guards.
type Options struct {
	Idempotency *redisrepo.IdempotencyStore
	Limiter     *redisrepo.SlidingWindowLimiter
}

func NewRouter(
	svcs *service.Services,
	opts Options,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(logger), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	h := &handlers{svcs: svcs, idem: opts.Idempotency, logger: logger}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		reg := api.Group("/register", RateLimit(opts.Limiter, logger))
		reg.POST("/unregistered", h.register)
		reg.POST("/registered", h.registerUser)

		api.GET("/tickets/:id", h.getTicket)
		api.POST("/tickets/:id/payment", h.resumePayment)

		api.POST("/webhook", h.webhook)
	}

	return r
}

type handlers struct {
	svcs   *service.Services
	idem   *redisrepo.IdempotencyStore
	logger *slog.Logger
}

// @Summary  Register a new participant and start payment
// @Tags     registration
// @Accept   json
// @Produce  json
// @Param    Idempotency-Key header string false "client retry key"
// @Param    req body RegisterRequest true "payload"
// @Success  201 {object} PaymentURLResponse
// @Failure  400 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse "event not found"
// @Failure  409 {object} ErrorResponse "already registered"
// @Failure  422 {object} ErrorResponse "idempotency key reused with a different request"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Failure  502 {object} ErrorResponse
// @Failure  503 {object} ErrorResponse
// @Failure  504 {object} ErrorResponse
// @Router   /api/v1/register/unregistered [post]
func (h *handlers) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	h.idempotent(c, "unregistered", requestFingerprint(req), func() (int, any, error) {
		res, err := h.svcs.Registration.Register(c.Request.Context(), registration.RegisterInput{
			Email:       req.Email,
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			EventID:     req.EventID,
			ContactInfo: req.ContactInfo,
			Source:      req.Source,
		})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, PaymentURLResponse{TicketID: res.TicketID, PaymentURL: res.PaymentURL}, nil
	})
}

// @Summary  Register an existing user and start payment
// @Tags     registration
// @Accept   json
// @Produce  json
// @Param    Idempotency-Key header string false "client retry key"
// @Param    req body RegisterUserRequest true "payload"
// @Success  201 {object} PaymentURLResponse
// @Failure  400 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse "user or event not found"
// @Failure  409 {object} ErrorResponse "already registered"
// @Failure  422 {object} ErrorResponse "idempotency key reused with a different request"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /api/v1/register/registered [post]
func (h *handlers) registerUser(c *gin.Context) {
	var req RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	h.idempotent(c, "registered", requestFingerprint(req), func() (int, any, error) {
		res, err := h.svcs.Registration.RegisterUser(c.Request.Context(), req.UserID, req.EventID, req.Source)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, PaymentURLResponse{TicketID: res.TicketID, PaymentURL: res.PaymentURL}, nil
	})
}

// @Summary  Get payment link again for a ticket waiting for payment
// @Tags     tickets
// @Accept   json
// @Produce  json
// @Param    id  path int true "Ticket ID"
// @Param    req body ResumePaymentRequest false "payload"
// @Success  200 {object} PaymentURLResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "ticket is not waiting for payment"
// @Router   /api/v1/tickets/{id}/payment [post]
func (h *handlers) resumePayment(c *gin.Context) {
	ticketID, ok := parseInt64Param(c, "id")
	if !ok {
		return
	}

	var req ResumePaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	res, err := h.svcs.Registration.ResumePayment(c.Request.Context(), ticketID, req.Source)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, PaymentURLResponse{TicketID: res.TicketID, PaymentURL: res.PaymentURL})
}

// @Summary  Get ticket status
// @Tags     tickets
// @Produce  json
// @Param    id  path int true "Ticket ID"
// @Success  200 {object} domain.TicketView
// @Success  304 "not modified"
// @Failure  404 {object} ErrorResponse
// @Router   /api/v1/tickets/{id} [get]
func (h *handlers) getTicket(c *gin.Context) {
	ticketID, ok := parseInt64Param(c, "id")
	if !ok {
		return
	}

	v, err := h.svcs.Tickets.Get(c.Request.Context(), ticketID)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	writeJSONWithCache(c, http.StatusOK, v, ticketCacheHeader, true)
}

// @Summary  Payment gateway notification
// @Tags     webhook
// @Accept   json
// @Produce  plain
// @Param    req body gateway.Notification true "notification"
// @Success  200 {string} string "OK"
// @Failure  400 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse "ticket not found"
// @Router   /api/v1/webhook [post]
func (h *handlers) webhook(c *gin.Context) {
	var n gateway.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		badRequest(c, "malformed notification")
		return
	}

	if n.Event == "" {
		badRequest(c, "missing event")
		return
	}

	if err := h.svcs.Webhook.HandleNotification(c.Request.Context(), n); err != nil {
		h.respondErr(c, err)
		return
	}

	c.String(http.StatusOK, "OK")
}

// idempotent runs handle at most once per Idempotency-Key. A repeat of a
// completed request gets the stored response; a repeat of one still running
// gets 409. A key reused with a different request gets 422. Failed requests
// are not stored, so they can be retried.
func (h *handlers) idempotent(c *gin.Context, scope, fingerprint string, handle func() (int, any, error)) {
	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))

	if h.idem == nil || key == "" {
		status, body, err := handle()
		if err != nil {
			h.respondErr(c, err)
			return
		}
		c.JSON(status, body)
		return
	}

	ctx := c.Request.Context()
	storageKey := redisrepo.KeyIdemRegistration(scope, key)

	if res, ok, _ := h.idem.GetResult(ctx, storageKey); ok {
		replay(c, key, fingerprint, res)
		return
	}

	locked, err := h.idem.AcquireLock(ctx, storageKey, idemLockTTL)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	if !locked {
		if res, ok, _ := h.idem.GetResult(ctx, storageKey); ok {
			replay(c, key, fingerprint, res)
			return
		}
		c.Header("Retry-After", "1")
		c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
		return
	}

	status, body, err := handle()
	if err != nil {
		_ = h.idem.Release(ctx, storageKey)
		h.respondErr(c, err)
		return
	}

	b, err := json.Marshal(body)
	if err != nil {
		_ = h.idem.Release(ctx, storageKey)
		h.respondErr(c, err)
		return
	}

	if err := h.idem.SaveResult(ctx, storageKey, redisrepo.StoredResponse{
		Status:      status,
		Fingerprint: fingerprint,
		Body:        string(b),
	}); err != nil {
		h.logger.Warn("failed to store idempotent response", "key", storageKey, "error", err)
	}

	c.Header("Idempotency-Key", key)
	c.Data(status, "application/json; charset=utf-8", b)
}

func replay(c *gin.Context, key, fingerprint string, res redisrepo.StoredResponse) {
	if res.Fingerprint != fingerprint {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "idempotency key reused with a different request"})
		return
	}

	c.Header("Idempotency-Key", key)
	c.Header("Idempotent-Replayed", "true")
	c.Data(res.Status, "application/json; charset=utf-8", []byte(res.Body))
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func (h *handlers) respondErr(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, ErrorResponse{Error: msg})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, registration.ErrInvalidInput):
		return http.StatusBadRequest, unwrapMessage(err, registration.ErrInvalidInput)
	case errors.Is(err, webhook.ErrMalformed):
		return http.StatusBadRequest, "malformed notification"

	case errors.Is(err, registration.ErrEventNotFound):
		return http.StatusNotFound, "event not found"
	case errors.Is(err, registration.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, registration.ErrTicketNotFound),
		errors.Is(err, webhook.ErrTicketNotFound),
		errors.Is(err, tickets.ErrTicketNotFound):
		return http.StatusNotFound, "ticket not found"

	case errors.Is(err, registration.ErrTicketExists):
		return http.StatusConflict, "user is already registered for the event"
	case errors.Is(err, registration.ErrTicketNotPending):
		return http.StatusConflict, "ticket is not waiting for payment"

	case errors.Is(err, gateway.ErrBadRequest):
		return http.StatusBadGateway, "payment gateway rejected the request"
	case errors.Is(err, gateway.ErrUnavailable):
		return http.StatusServiceUnavailable, "payment gateway unavailable"
	case errors.Is(err, gateway.ErrTimeout):
		return http.StatusGatewayTimeout, "payment gateway timed out"
	}

	return http.StatusInternalServerError, "internal error"
}

// unwrapMessage returns err's text from the sentinel onward, dropping op prefixes.
func unwrapMessage(err, sentinel error) string {
	msg := err.Error()
	if i := strings.Index(msg, sentinel.Error()); i >= 0 {
		return msg[i:]
	}
	return sentinel.Error()
}
