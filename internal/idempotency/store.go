package idempotency

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

var (
	ErrFingerprintMismatch = errors.New("idempotency: key reused for a different request")
	ErrKeyExpired          = errors.New("idempotency: key expired during reservation")
)

// Record is what is kept per key: the request fingerprint and, once the
// first request finished, the response to replay.
type Record struct {
	Fingerprint    string `json:"fingerprint"`
	Status         Status `json:"status"`
	ResponseStatus int    `json:"responseStatus,omitempty"`
	ContentType    string `json:"contentType,omitempty"`
	Body           []byte `json:"body,omitempty"`
}

type Store interface {
	// Reserve claims key for fingerprint. fresh is true when the caller owns
	// the key and must Complete or Release it; otherwise rec is the existing
	// record.
	Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (rec Record, fresh bool, err error)
	Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}
