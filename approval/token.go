package approval

import (
	"context"
	"sync"
	"time"
)

// Internal token rejection reasons reported by validators.
const (
	ReasonExpired          = "expired"
	ReasonActorMismatch    = "actor_mismatch"
	ReasonProposalMismatch = "proposal_mismatch"
	ReasonUnknown          = "unknown"
)

// Public token statuses recorded in policy metadata.
const (
	TokenStatusValid   = "valid"
	TokenStatusExpired = "expired"
	TokenStatusInvalid = "invalid"
)

type (
	// TokenValidator checks an approval token against the actor and proposal
	// it claims to unlock. reason is empty when valid, otherwise one of the
	// Reason* constants.
	TokenValidator interface {
		Validate(ctx context.Context, token, actor, proposalID string) (valid bool, reason string)
	}

	// Token is a single-use approval handle bound to one proposal and actor.
	Token struct {
		Token      string    `json:"token"`
		Actor      string    `json:"actor"`
		ProposalID string    `json:"proposal_id"`
		ExpiresAt  time.Time `json:"expires_at"`
	}

	// DenyAllValidator rejects every token. It is the safe default when no
	// token store is wired.
	DenyAllValidator struct{}

	// MemoryTokenStore is an in-memory TokenValidator with issuance, for
	// tests and single-process deployments. Token access is mutually
	// exclusive; expired tokens are destroyed when observed.
	MemoryTokenStore struct {
		mu     sync.Mutex
		tokens map[string]Token
		now    func() time.Time
	}
)

// Validate implements TokenValidator by rejecting every token.
func (DenyAllValidator) Validate(context.Context, string, string, string) (bool, string) {
	return false, ReasonUnknown
}

// NewMemoryTokenStore builds an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		tokens: make(map[string]Token),
		now:    time.Now,
	}
}

// Issue registers a token. A zero ExpiresAt gets the default TTL.
func (s *MemoryTokenStore) Issue(t Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ExpiresAt.IsZero() {
		t.ExpiresAt = s.now().Add(DefaultTTL)
	}
	s.tokens[t.Token] = t
}

// Validate implements TokenValidator.
func (s *MemoryTokenStore) Validate(_ context.Context, token, actor, proposalID string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return false, ReasonUnknown
	}
	if s.now().After(t.ExpiresAt) {
		delete(s.tokens, token)
		return false, ReasonExpired
	}
	if t.Actor != actor {
		return false, ReasonActorMismatch
	}
	if t.ProposalID != proposalID {
		return false, ReasonProposalMismatch
	}
	return true, ""
}

// NormalizeTokenReason maps internal rejection reasons to the public token
// statuses exposed in policy metadata: expiry stays visible, every other
// rejection is reported as invalid.
func NormalizeTokenReason(reason string) string {
	if reason == ReasonExpired {
		return TokenStatusExpired
	}
	return TokenStatusInvalid
}
