package gateway

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusWaitingForCapture Status = "waiting_for_capture"
	StatusSucceeded         Status = "succeeded"
	StatusCanceled          Status = "canceled"
)

const ConfirmationRedirect = "redirect"

// Amount is a money value as the gateway encodes it: a decimal string.
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

func NewAmount(v decimal.Decimal, currency string) Amount {
	return Amount{Value: v.StringFixed(2), Currency: currency}
}

func (a Amount) Decimal() (decimal.Decimal, error) {
	return decimal.NewFromString(a.Value)
}

type ConfirmationRequest struct {
	Type      string `json:"type"`
	ReturnURL string `json:"return_url,omitempty"`
	Locale    string `json:"locale,omitempty"`
}

type CreatePaymentRequest struct {
	Amount            Amount               `json:"amount"`
	Description       string               `json:"description,omitempty"`
	Confirmation      *ConfirmationRequest `json:"confirmation,omitempty"`
	Capture           bool                 `json:"capture"`
	SavePaymentMethod bool                 `json:"save_payment_method"`
	Metadata          map[string]string    `json:"metadata,omitempty"`
}

type Confirmation struct {
	Type            string `json:"type"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
	ReturnURL       string `json:"return_url,omitempty"`
}

type CancellationDetails struct {
	Party  string `json:"party"`
	Reason string `json:"reason"`
}

type Payment struct {
	ID                  string               `json:"id"`
	Status              Status               `json:"status"`
	Amount              Amount               `json:"amount"`
	IncomeAmount        *Amount              `json:"income_amount,omitempty"`
	Description         string               `json:"description,omitempty"`
	Paid                bool                 `json:"paid"`
	Refundable          bool                 `json:"refundable"`
	Test                bool                 `json:"test"`
	CreatedAt           time.Time            `json:"created_at"`
	CapturedAt          *time.Time           `json:"captured_at,omitempty"`
	Confirmation        *Confirmation        `json:"confirmation,omitempty"`
	Metadata            map[string]string    `json:"metadata,omitempty"`
	CancellationDetails *CancellationDetails `json:"cancellation_details,omitempty"`
}

// ConfirmationURL returns the redirect target for the buyer, if any.
func (p *Payment) ConfirmationURL() string {
	if p == nil || p.Confirmation == nil {
		return ""
	}
	return p.Confirmation.ConfirmationURL
}

const EventPaymentSucceeded = "payment.succeeded"

// Notification is the body of a webhook delivery.
type Notification struct {
	Type   string  `json:"type"`
	Event  string  `json:"event"`
	Object Payment `json:"object"`
}

type errorBody struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description"`
}
