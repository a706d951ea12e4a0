// Package codes keeps the short-lived numeric codes exchanged at cash
// handoff. Codes live in Redis under a TTL and vanish on their own, so a
// missing code is a normal verification failure rather than an error.
package codes

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "handoff:"

// Store holds at most one active handoff code per request. Issuing again
// replaces the previous code.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Issue generates a fresh six-digit code for the request and stores it
// under ttl.
func (s *Store) Issue(ctx context.Context, requestID string, ttl time.Duration) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("failed to generate handoff code: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+requestID, code, ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store handoff code: %w", err)
	}
	return code, nil
}

// Verify reports whether code is the request's current handoff code.
// Expired and never-issued codes are false, not errors.
func (s *Store) Verify(ctx context.Context, requestID, code string) (bool, error) {
	stored, err := s.client.Get(ctx, keyPrefix+requestID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read handoff code: %w", err)
	}
	return stored == code, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
