package registration

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid registration input")
	ErrEventNotFound    = errors.New("event not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrTicketExists     = errors.New("user is already registered for the event")
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrTicketNotPending = errors.New("ticket is not waiting for payment")
	ErrNoPaymentURL     = errors.New("gateway returned no confirmation url")
)
