package redisrepo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const idemNS = ns + ":idem"

const (
	lockValue = "LOCK"
	resPrefix = "RES:"
)

func KeyIdemRegistration(scope, idemKey string) string {
	return fmt.Sprintf("%s:register:%s:%s", idemNS, scope, idemKey)
}

// StoredResponse is an HTTP response replayed for a repeated Idempotency-Key.
// Fingerprint identifies the request that produced it.
type StoredResponse struct {
	Status      int
	Fingerprint string
	Body        string
}

// IdempotencyStore keeps a short-lived lock while a keyed request is in flight
// and the final response once it completes.
type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

func (s *IdempotencyStore) AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, lockValue, lockTTL).Result()
}

func (s *IdempotencyStore) SaveResult(ctx context.Context, key string, resp StoredResponse) error {
	val := resPrefix + strconv.Itoa(resp.Status) + ":" + resp.Fingerprint + ":" + resp.Body
	return s.rdb.Set(ctx, key, val, s.ttl).Err()
}

// GetResult returns ok=false when nothing is stored or the request is still locked.
func (s *IdempotencyStore) GetResult(ctx context.Context, key string) (StoredResponse, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return StoredResponse{}, false, nil
	}
	if err != nil {
		return StoredResponse{}, false, err
	}

	rest, ok := strings.CutPrefix(v, resPrefix)
	if !ok {
		return StoredResponse{}, false, nil
	}

	code, rest, ok := strings.Cut(rest, ":")
	if !ok {
		return StoredResponse{}, false, fmt.Errorf("idempotency %s: malformed value", key)
	}

	fingerprint, body, ok := strings.Cut(rest, ":")
	if !ok {
		return StoredResponse{}, false, fmt.Errorf("idempotency %s: malformed value", key)
	}

	status, err := strconv.Atoi(code)
	if err != nil {
		return StoredResponse{}, false, fmt.Errorf("idempotency %s: status: %w", key, err)
	}

	return StoredResponse{Status: status, Fingerprint: fingerprint, Body: body}, true, nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
