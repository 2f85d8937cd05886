package httpgin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/eventpay/internal/domain"
	"github.com/kirinyoku/eventpay/internal/gateway"
	"github.com/kirinyoku/eventpay/internal/repository/memrepo"
	redisrepo "github.com/kirinyoku/eventpay/internal/repository/redis"
	"github.com/kirinyoku/eventpay/internal/service"
	"github.com/kirinyoku/eventpay/internal/service/registration"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubGateway struct {
	err   error
	calls int
}

func (g *stubGateway) CreatePayment(
	_ context.Context,
	req gateway.CreatePaymentRequest,
	key string,
) (*gateway.Payment, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &gateway.Payment{
		ID:           "pay-" + key,
		Status:       gateway.StatusPending,
		Amount:       req.Amount,
		Confirmation: &gateway.Confirmation{Type: gateway.ConfirmationRedirect, ConfirmationURL: "https://pay.example/confirm"},
	}, nil
}

type nopMailer struct{ sent int }

func (m *nopMailer) SendTicketConfirmation(context.Context, *domain.TicketDetails) error {
	m.sent++
	return nil
}

type testServer struct {
	store   *memrepo.Store
	gw      *stubGateway
	mailer  *nopMailer
	router  *gin.Engine
	eventID int64
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()

	store := memrepo.New()
	eventID := store.AddEvent(domain.Event{
		Title:     "Go Meetup",
		Price:     decimal.NewFromInt(1500),
		EventDate: time.Date(2025, 4, 12, 19, 0, 0, 0, time.UTC),
		Location:  "Moscow",
	})

	gw := &stubGateway{}
	mailer := &nopMailer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svcs := service.NewServices(service.Deps{
		Repos:   store,
		UoW:     store,
		Gateway: gw,
		Mailer:  mailer,
		Logger:  logger,
	}, service.Config{
		Registration: registration.Config{ReturnURL: "https://example.com/return"},
	})

	return &testServer{
		store:   store,
		gw:      gw,
		mailer:  mailer,
		router:  NewRouter(svcs, opts, logger),
		eventID: eventID,
	}
}

func (s *testServer) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		raw, _ := json.Marshal(b)
		rdr = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rdr)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) registerBody() map[string]any {
	return map[string]any{
		"email":     "buyer@example.com",
		"firstName": "Ivan",
		"lastName":  "Petrov",
		"eventId":   s.eventID,
		"source":    "test@site.com",
	}
}

func fingerprintOf(t *testing.T, body map[string]any) string {
	t.Helper()

	b, err := json.Marshal(body)
	require.NoError(t, err)

	var req RegisterRequest
	require.NoError(t, json.Unmarshal(b, &req))
	return requestFingerprint(req)
}

func (s *testServer) paidNotification(ticketID int64) map[string]any {
	return map[string]any{
		"type":  "notification",
		"event": "payment.succeeded",
		"object": map[string]any{
			"id":     "pay-1",
			"status": "succeeded",
			"paid":   true,
			"amount": map[string]any{"value": "1500.00", "currency": "RUB"},
			"metadata": map[string]any{
				"ticket_id": strconv.FormatInt(ticketID, 10),
				"event_id":  strconv.FormatInt(s.eventID, 10),
				"source":    "website",
			},
		},
	}
}

func TestRegister_Created(t *testing.T) {
	s := newTestServer(t, Options{})

	w := s.do(http.MethodPost, "/api/v1/register/unregistered", s.registerBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp PaymentURLResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://pay.example/confirm", resp.PaymentURL)
	assert.NotZero(t, resp.TicketID)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRegister_DuplicateIsConflict(t *testing.T) {
	s := newTestServer(t, Options{})

	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/register/unregistered", s.registerBody()).Code)

	w := s.do(http.MethodPost, "/api/v1/register/unregistered", s.registerBody())
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRegister_Validation(t *testing.T) {
	s := newTestServer(t, Options{})

	w := s.do(http.MethodPost, "/api/v1/register/unregistered", `{"email":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := s.registerBody()
	body["email"] = "nope"
	w = s.do(http.MethodPost, "/api/v1/register/unregistered", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = s.registerBody()
	body["source"] = strings.Repeat("x", 65)
	w = s.do(http.MethodPost, "/api/v1/register/unregistered", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Zero(t, s.gw.calls)
}

func TestRegister_UnknownEvent(t *testing.T) {
	s := newTestServer(t, Options{})

	body := s.registerBody()
	body["eventId"] = 999
	w := s.do(http.MethodPost, "/api/v1/register/unregistered", body)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegister_GatewayErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{gateway.ErrTimeout, http.StatusGatewayTimeout},
		{gateway.ErrUnavailable, http.StatusServiceUnavailable},
		{gateway.ErrBadRequest, http.StatusBadGateway},
		{gateway.ErrService, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			s := newTestServer(t, Options{})
			s.gw.err = tc.err

			w := s.do(http.MethodPost, "/api/v1/register/unregistered", s.registerBody())
			assert.Equal(t, tc.want, w.Code, w.Body.String())

			tickets := s.store.TicketsSnapshot()
			require.Len(t, tickets, 1)
			assert.Equal(t, domain.TicketWaitingPayment, tickets[0].Status)
		})
	}
}

func TestRegisterUser(t *testing.T) {
	s := newTestServer(t, Options{})
	userID := s.store.AddUser(domain.User{FirstName: "Anna", LastName: "Ivanova", Email: "anna@example.com"})

	w := s.do(http.MethodPost, "/api/v1/register/registered", map[string]any{
		"userId":  userID,
		"eventId": s.eventID,
		"source":  "telegram",
	})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/v1/register/registered", map[string]any{
		"userId":  777,
		"eventId": s.eventID,
		"source":  "telegram",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResumePayment(t *testing.T) {
	s := newTestServer(t, Options{})
	s.gw.err = gateway.ErrTimeout

	require.Equal(t, http.StatusGatewayTimeout, s.do(http.MethodPost, "/api/v1/register/unregistered", s.registerBody()).Code)
	ticketID := s.store.TicketsSnapshot()[0].ID
	path := "/api/v1/tickets/" + strconv.FormatInt(ticketID, 10) + "/payment"

	s.gw.err = nil
	w := s.do(http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "https://pay.example/confirm")

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/webhook", s.paidNotification(ticketID)).Code)

	w = s.do(http.MethodPost, path, map[string]any{"source": "website"})
	assert.Equal(t, http.StatusConflict, w.Code)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/v1/tickets/999/payment", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/tickets/abc/payment", nil).Code)
}

func TestWebhook(t *testing.T) {
	s := newTestServer(t, Options{})

	w := s.do(http.MethodPost, "/api/v1/register/unregistered", s.registerBody())
	require.Equal(t, http.StatusCreated, w.Code)
	ticketID := s.store.TicketsSnapshot()[0].ID

	w = s.do(http.MethodPost, "/api/v1/webhook", s.paidNotification(ticketID))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	assert.Equal(t, domain.TicketPaid, s.store.TicketsSnapshot()[0].Status)
	assert.Len(t, s.store.PaymentsSnapshot(), 1)
	assert.Equal(t, 1, s.mailer.sent)

	w = s.do(http.MethodPost, "/api/v1/webhook", s.paidNotification(ticketID))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, s.store.PaymentsSnapshot(), 1)
	assert.Equal(t, 1, s.mailer.sent)

	other := s.paidNotification(ticketID)
	other["object"].(map[string]any)["id"] = "pay-2"
	w = s.do(http.MethodPost, "/api/v1/webhook", other)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, s.store.PaymentsSnapshot(), 1)
	assert.Equal(t, 1, s.mailer.sent)
}

func TestWebhook_Errors(t *testing.T) {
	s := newTestServer(t, Options{})

	w := s.do(http.MethodPost, "/api/v1/webhook", s.paidNotification(4242))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, s.store.PaymentsSnapshot())

	n := s.paidNotification(1)
	n["object"].(map[string]any)["metadata"] = map[string]any{"ticket_id": "x"}
	w = s.do(http.MethodPost, "/api/v1/webhook", n)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/v1/webhook", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	n = s.paidNotification(4242)
	n["event"] = "payment.canceled"
	w = s.do(http.MethodPost, "/api/v1/webhook", n)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestGetTicket_ETag(t *testing.T) {
	s := newTestServer(t, Options{})

	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/register/unregistered", s.registerBody()).Code)
	path := "/api/v1/tickets/" + strconv.FormatInt(s.store.TicketsSnapshot()[0].ID, 10)

	w := s.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var v domain.TicketView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, "waiting_payment", v.Status)
	assert.Equal(t, "Go Meetup", v.EventTitle)
	assert.Equal(t, "1500.00", v.AmountPaid)

	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.Equal(t, ticketCacheHeader, w.Header().Get("Cache-Control"))

	w = s.do(http.MethodGet, path, nil, "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/tickets/999", nil).Code)
}

func TestIdempotencyKey_StoresFirstResponse(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := newTestServer(t, Options{Idempotency: redisrepo.NewIdempotencyStore(db, time.Hour)})

	key := redisrepo.KeyIdemRegistration("unregistered", "retry-1")
	// event 1, user 2, ticket 3 in a fresh store
	body := `{"ticketId":3,"paymentUrl":"https://pay.example/confirm"}`
	stored := "RES:201:" + fingerprintOf(t, s.registerBody()) + ":" + body

	mock.ExpectGet(key).RedisNil()
	mock.ExpectSetNX(key, "LOCK", idemLockTTL).SetVal(true)
	mock.ExpectSet(key, stored, time.Hour).SetVal("OK")

	w := s.do(http.MethodPost, "/api/v1/register/unregistered", s.registerBody(), "Idempotency-Key", "retry-1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, body, w.Body.String())
	assert.Equal(t, "retry-1", w.Header().Get("Idempotency-Key"))

	mock.ExpectGet(key).SetVal(stored)

	w = s.do(http.MethodPost, "/api/v1/register/unregistered", s.registerBody(), "Idempotency-Key", "retry-1")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, body, w.Body.String())
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))

	assert.Equal(t, 1, s.gw.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyKey_DifferentRequestIsRejected(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := newTestServer(t, Options{Idempotency: redisrepo.NewIdempotencyStore(db, time.Hour)})

	key := redisrepo.KeyIdemRegistration("unregistered", "reused")
	first := s.registerBody()
	stored := "RES:201:" + fingerprintOf(t, first) + `:{"ticketId":3,"paymentUrl":"https://pay.example/confirm"}`

	second := s.registerBody()
	second["email"] = "other@example.com"
	mock.ExpectGet(key).SetVal(stored)

	w := s.do(http.MethodPost, "/api/v1/register/unregistered", second, "Idempotency-Key", "reused")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Empty(t, w.Header().Get("Idempotent-Replayed"))
	assert.Zero(t, s.gw.calls)
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectGet(key).SetVal(stored)

	w = s.do(http.MethodPost, "/api/v1/register/unregistered", first, "Idempotency-Key", "reused")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
	assert.Zero(t, s.gw.calls)
}

func TestIdempotencyKey_InProgress(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := newTestServer(t, Options{Idempotency: redisrepo.NewIdempotencyStore(db, time.Hour)})

	key := redisrepo.KeyIdemRegistration("unregistered", "busy")
	mock.ExpectGet(key).SetVal("LOCK")
	mock.ExpectSetNX(key, "LOCK", idemLockTTL).SetVal(false)
	mock.ExpectGet(key).SetVal("LOCK")

	w := s.do(http.MethodPost, "/api/v1/register/unregistered", s.registerBody(), "Idempotency-Key", "busy")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Zero(t, s.gw.calls)
}

func TestIdempotencyKey_FailureReleasesLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := newTestServer(t, Options{Idempotency: redisrepo.NewIdempotencyStore(db, time.Hour)})
	s.gw.err = gateway.ErrUnavailable

	key := redisrepo.KeyIdemRegistration("unregistered", "fail")
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSetNX(key, "LOCK", idemLockTTL).SetVal(true)
	mock.ExpectDel(key).SetVal(1)

	w := s.do(http.MethodPost, "/api/v1/register/unregistered", s.registerBody(), "Idempotency-Key", "fail")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, Options{})

	w := s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
