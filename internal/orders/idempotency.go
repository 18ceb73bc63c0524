package orders

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRequestInProgress = errors.New("a request with this idempotency key is in progress")
	ErrKeyReused         = errors.New("idempotency key was already used with a different request")
)

const idempotencyPrefix = "idempotency:orders:"

// Outcome is what a completed request left behind under its key. A successful
// create only records the order id; a failure after the order was persisted
// also records the response that was sent, so retries see the same failure.
type Outcome struct {
	OrderID    string          `json:"orderId"`
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body,omitempty"`
}

type idempotencyRecord struct {
	Fingerprint string   `json:"fingerprint"`
	Outcome     *Outcome `json:"outcome,omitempty"`
}

// IdempotencyStore remembers the outcome an Idempotency-Key produced. A key is
// first reserved under a short lock TTL, then either completed with its outcome
// for the full TTL or released.
type IdempotencyStore struct {
	client  redis.UniversalClient
	ttl     time.Duration
	lockTTL time.Duration
}

func NewIdempotencyStore(client redis.UniversalClient, ttl, lockTTL time.Duration) *IdempotencyStore {
	return &IdempotencyStore{client: client, ttl: ttl, lockTTL: lockTTL}
}

// Fingerprint identifies a request payload independently of its formatting.
func Fingerprint(payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("fingerprint request: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Begin reserves key for the caller and returns a nil outcome. When the key
// already completed it returns the recorded outcome instead. A key recorded for
// another fingerprint yields ErrKeyReused, and one still held by another request
// yields ErrRequestInProgress.
func (s *IdempotencyStore) Begin(ctx context.Context, key, fingerprint string) (*Outcome, error) {
	pending, err := json.Marshal(idempotencyRecord{Fingerprint: fingerprint})
	if err != nil {
		return nil, fmt.Errorf("encode idempotency record: %w", err)
	}

	reserved, err := s.client.SetNX(ctx, idempotencyPrefix+key, pending, s.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if reserved {
		return nil, nil
	}

	value, err := s.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return nil, ErrRequestInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("read idempotency key: %w", err)
	}

	var record idempotencyRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}

	if record.Fingerprint != fingerprint {
		return nil, ErrKeyReused
	}
	if record.Outcome == nil {
		return nil, ErrRequestInProgress
	}
	return record.Outcome, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key, fingerprint string, outcome Outcome) error {
	value, err := json.Marshal(idempotencyRecord{Fingerprint: fingerprint, Outcome: &outcome})
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, idempotencyPrefix+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Abort releases a reservation so the request can be retried with the same key.
func (s *IdempotencyStore) Abort(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, idempotencyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
