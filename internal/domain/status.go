package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownStatus = errors.New("unknown status")
	ErrPaymentTarget = errors.New("payment must reference exactly one of ticket or subscription")
)

type TicketStatus string

const (
	TicketWaitingPayment TicketStatus = "waiting_payment"
	TicketPaid           TicketStatus = "paid"
	TicketRefunded       TicketStatus = "refunded"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketWaitingPayment, TicketPaid, TicketRefunded:
		return true
	}
	return false
}

func ParseTicketStatus(s string) (TicketStatus, error) {
	st := TicketStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("ticket status %q: %w", s, ErrUnknownStatus)
	}
	return st, nil
}

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentWaitingForCapture PaymentStatus = "waiting_for_capture"
	PaymentSucceeded         PaymentStatus = "succeeded"
	PaymentCanceled          PaymentStatus = "canceled"
	PaymentFailed            PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentWaitingForCapture, PaymentSucceeded, PaymentCanceled, PaymentFailed:
		return true
	}
	return false
}

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	st := PaymentStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("payment status %q: %w", s, ErrUnknownStatus)
	}
	return st, nil
}

type PaymentSource string

const (
	SourceWebsite  PaymentSource = "website"
	SourceTelegram PaymentSource = "telegram"
	SourceAdmin    PaymentSource = "admin"
)

func (s PaymentSource) Valid() bool {
	switch s {
	case SourceWebsite, SourceTelegram, SourceAdmin:
		return true
	}
	return false
}

func ParsePaymentSource(s string) (PaymentSource, error) {
	src := PaymentSource(s)
	if !src.Valid() {
		return "", fmt.Errorf("payment source %q: %w", s, ErrUnknownStatus)
	}
	return src, nil
}

type PaymentType string

const (
	PaymentEventTicket     PaymentType = "event_ticket"
	PaymentProSubscription PaymentType = "pro_subscription"
)

func (t PaymentType) Valid() bool {
	switch t {
	case PaymentEventTicket, PaymentProSubscription:
		return true
	}
	return false
}

func ParsePaymentType(s string) (PaymentType, error) {
	t := PaymentType(s)
	if !t.Valid() {
		return "", fmt.Errorf("payment type %q: %w", s, ErrUnknownStatus)
	}
	return t, nil
}

// PaymentTarget references either a ticket or a subscription, never both.
type PaymentTarget struct {
	ticketID       *int64
	subscriptionID *int64
}

func TicketTarget(ticketID int64) PaymentTarget {
	return PaymentTarget{ticketID: &ticketID}
}

func SubscriptionTarget(subscriptionID int64) PaymentTarget {
	return PaymentTarget{subscriptionID: &subscriptionID}
}

// NewPaymentTarget rebuilds a target from nullable columns.
func NewPaymentTarget(ticketID, subscriptionID *int64) (PaymentTarget, error) {
	t := PaymentTarget{ticketID: ticketID, subscriptionID: subscriptionID}
	if err := t.Validate(); err != nil {
		return PaymentTarget{}, err
	}
	return t, nil
}

func (t PaymentTarget) Validate() error {
	if (t.ticketID == nil) == (t.subscriptionID == nil) {
		return ErrPaymentTarget
	}
	return nil
}

func (t PaymentTarget) TicketID() (int64, bool) {
	if t.ticketID == nil {
		return 0, false
	}
	return *t.ticketID, true
}

func (t PaymentTarget) SubscriptionID() (int64, bool) {
	if t.subscriptionID == nil {
		return 0, false
	}
	return *t.subscriptionID, true
}

// Columns returns the target as nullable ticket_id and subscription_id values.
func (t PaymentTarget) Columns() (ticketID, subscriptionID *int64) {
	return t.ticketID, t.subscriptionID
}
