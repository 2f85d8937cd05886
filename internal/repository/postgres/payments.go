package postgresrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kirinyoku/eventpay/internal/domain"
	"github.com/kirinyoku/eventpay/internal/repository"
)

type PaymentRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *PaymentRepo) With(db DB) *PaymentRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *PaymentRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Create inserts a payment record. The gateway payment id is unique and a
// ticket has at most one ticket payment, so a replayed webhook or a second
// payment for the same ticket is reported as repository.ErrConflict instead of
// a second row. The insert uses ON CONFLICT DO NOTHING to keep an enclosing
// transaction usable.
func (r *PaymentRepo) Create(ctx context.Context, p domain.Payment) (int64, error) {
	const op = "postgresrepo.PaymentRepo.Create"

	if err := p.Target.Validate(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	meta := p.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("%s: metadata: %w", op, err)
	}

	ticketID, subscriptionID := p.Target.Columns()

	db := r.handle()

	var id int64
	err = db.QueryRow(ctx,
		`INSERT INTO payments(ticket_id, subscription_id, gateway_payment_id, amount,
		                      payment_status, payment_source, payment_type, payment_metadata)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
		 ON CONFLICT DO NOTHING
		 RETURNING id`,
		ticketID, subscriptionID, p.GatewayPaymentID, p.Amount.String(),
		string(p.Status), string(p.Source), string(p.Type), metaJSON,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%s: %w", op, repository.ErrConflict)
	}
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return id, nil
}

func (r *PaymentRepo) GetByGatewayID(ctx context.Context, gatewayPaymentID string) (*domain.Payment, error) {
	const op = "postgresrepo.PaymentRepo.GetByGatewayID"

	db := r.handle()

	var (
		p                        domain.Payment
		ticketID, subscriptionID *int64
		amount                   string
		status, source, typ      string
		metaJSON                 []byte
	)

	err := db.QueryRow(ctx,
		`SELECT id, ticket_id, subscription_id, gateway_payment_id, amount::text,
		        payment_status, payment_source, payment_type, payment_metadata, created_at
		 FROM payments WHERE gateway_payment_id = $1`,
		gatewayPaymentID,
	).Scan(&p.ID, &ticketID, &subscriptionID, &p.GatewayPaymentID, &amount,
		&status, &source, &typ, &metaJSON, &p.CreatedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	if p.Target, err = domain.NewPaymentTarget(ticketID, subscriptionID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("%s: amount: %w", op, err)
	}
	if p.Status, err = domain.ParsePaymentStatus(status); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if p.Source, err = domain.ParsePaymentSource(source); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if p.Type, err = domain.ParsePaymentType(typ); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &p.Metadata); err != nil {
			return nil, fmt.Errorf("%s: metadata: %w", op, err)
		}
	}

	return &p, nil
}
