// Package redisstore implements the approval token store on Redis. Tokens
// live in hashes keyed by token value and carry an explicit expiry field; a
// Redis TTL with a small grace period garbage-collects them.
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"goa.design/sor/approval"
)

const (
	keyPrefix = "sor:approval:token:"

	// ttlGrace keeps the hash around past its logical expiry so validation
	// can report expired instead of unknown.
	ttlGrace = 5 * time.Minute
)

type (
	// Store issues and validates approval tokens in Redis. It implements
	// approval.TokenValidator.
	Store struct {
		rdb *redis.Client
		now func() time.Time
	}

	// Option configures a Store.
	Option func(*Store)
)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New builds a Redis-backed token store.
func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, now: time.Now}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// Issue registers a token. A zero ExpiresAt gets the default TTL.
func (s *Store) Issue(ctx context.Context, t approval.Token) error {
	if t.Token == "" {
		return errors.New("token value is required")
	}
	expires := t.ExpiresAt
	if expires.IsZero() {
		expires = s.now().Add(approval.DefaultTTL)
	}
	key := keyPrefix + t.Token
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"actor":       t.Actor,
		"proposal_id": t.ProposalID,
		"expires_at":  expires.UTC().Format(time.RFC3339Nano),
	})
	pipe.ExpireAt(ctx, key, expires.Add(ttlGrace))
	_, err := pipe.Exec(ctx)
	return err
}

// Validate implements approval.TokenValidator.
func (s *Store) Validate(ctx context.Context, token, actor, proposalID string) (bool, string) {
	fields, err := s.rdb.HGetAll(ctx, keyPrefix+token).Result()
	if err != nil || len(fields) == 0 {
		return false, approval.ReasonUnknown
	}
	expires, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return false, approval.ReasonUnknown
	}
	if s.now().After(expires) {
		s.rdb.Del(ctx, keyPrefix+token)
		return false, approval.ReasonExpired
	}
	if fields["actor"] != actor {
		return false, approval.ReasonActorMismatch
	}
	if fields["proposal_id"] != proposalID {
		return false, approval.ReasonProposalMismatch
	}
	return true, ""
}
