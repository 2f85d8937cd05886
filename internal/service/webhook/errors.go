package webhook

import "errors"

var (
	ErrMalformed      = errors.New("malformed payment notification")
	ErrTicketNotFound = errors.New("ticket not found")
)
