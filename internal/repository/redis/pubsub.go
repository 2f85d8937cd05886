package redisrepo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// TicketsPubSub fans ticket status changes out to every API instance so each
// can drop its cached read model.
type TicketsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewTicketsPubSub(rdb *redis.Client) *TicketsPubSub {
	return &TicketsPubSub{
		rdb:     rdb,
		channel: ChannelTicketsChanged(),
	}
}

type TicketChanged struct {
	Type     string `json:"type"`
	TicketID int64  `json:"ticket_id"`
	Status   string `json:"status"`
	TsUnix   int64  `json:"ts_unix"`
}

func (p *TicketsPubSub) PublishTicketChanged(ctx context.Context, ticketID int64, status string) error {
	msg := TicketChanged{
		Type:     "ticket_changed",
		TicketID: ticketID,
		Status:   status,
		TsUnix:   time.Now().Unix(),
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

func (p *TicketsPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, msg TicketChanged)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg TicketChanged
			if err := json.Unmarshal([]byte(m.Payload), &msg); err == nil &&
				msg.TicketID != 0 {
				handler(ctx, msg)
			}
		}
	}
}
