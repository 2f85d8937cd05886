package redisrepo

import "fmt"

const ns = "eventpay:v1"

func KeyTicketView(ticketID int64) string {
	return fmt.Sprintf("%s:ticket:%d:view", ns, ticketID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelTicketsChanged() string {
	return ns + ":tickets:changed"
}
