package policy

import (
	"context"
	"fmt"

	"goa.design/sor/approval"
	"goa.design/sor/registry"
)

// Denial reason codes, in evaluation order. Capability denials append the
// missing capability id after the colon.
const (
	ReasonChannelDenied        = "channel_denied"
	ReasonChannelNotAllowed    = "channel_not_allowed"
	ReasonActorDenied          = "actor_denied"
	ReasonActorNotAllowed      = "actor_not_allowed"
	ReasonCapabilityPrefix     = "capability_not_allowed:"
	ReasonAutonomyExceedsLimit = "autonomy_exceeds_limit"
	ReasonReviewRequired       = "review_required"
	ReasonApprovalRequired     = "approval_required"
	ReasonRateLimitExceeded    = "rate_limit_exceeded"
	ReasonTokenExpired         = "approval_token_expired"
	ReasonTokenInvalid         = "approval_token_invalid"
)

type (
	// Context is the per-invocation policy input: the identity of the
	// caller, its capability grants and ceilings, and the deterministic
	// proposal id the request hashes to.
	Context struct {
		Actor               string
		Channel             string
		AllowedCapabilities map[registry.CapabilityID]bool
		MaxAutonomy         *registry.AutonomyLevel
		Confirmed           bool
		ApprovalToken       string
		ProposalID          string
	}

	// Decision is the evaluation outcome: allowed iff no reasons remain,
	// plus a flat metadata map for audit records.
	Decision struct {
		Allowed bool
		Reasons []string
		Meta    map[string]any
	}

	// Evaluator runs the ordered policy stack for one entry and context.
	// Safe for concurrent use.
	Evaluator struct {
		limiter *RateLimiter
		tokens  approval.TokenValidator
	}

	// Option configures an Evaluator.
	Option func(*Evaluator)
)

// WithRateLimiter replaces the evaluator's rate limiter.
func WithRateLimiter(l *RateLimiter) Option {
	return func(e *Evaluator) { e.limiter = l }
}

// WithTokenValidator wires the approval token validator. Defaults to the
// deny-all validator.
func WithTokenValidator(v approval.TokenValidator) Option {
	return func(e *Evaluator) { e.tokens = v }
}

// NewEvaluator builds an Evaluator with a fresh rate limiter and the
// deny-all token validator unless overridden.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		limiter: NewRateLimiter(),
		tokens:  approval.DenyAllValidator{},
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e
}

// Evaluate runs the policy stack in order and returns the decision. A panic
// inside a rule surfaces as an error for the caller to map to its dedicated
// policy failure.
func (e *Evaluator) Evaluate(ctx context.Context, entry *registry.Entry, pc Context) (decision Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("policy evaluation panicked: %v", r)
		}
	}()

	var reasons []string
	meta := map[string]any{
		"actor":       pc.Actor,
		"channel":     pc.Channel,
		"proposal_id": pc.ProposalID,
	}

	if cp := entry.Channels; cp != nil {
		reasons = append(reasons, checkList(cp.Allow, cp.Deny, pc.Channel, ReasonChannelDenied, ReasonChannelNotAllowed)...)
	}
	if ap := entry.Actors; ap != nil {
		reasons = append(reasons, checkList(ap.Allow, ap.Deny, pc.Actor, ReasonActorDenied, ReasonActorNotAllowed)...)
	}

	for _, c := range entry.Capabilities() {
		if !pc.AllowedCapabilities[c] {
			reasons = append(reasons, ReasonCapabilityPrefix+string(c))
		}
	}

	if pc.MaxAutonomy != nil && entry.Autonomy.Exceeds(*pc.MaxAutonomy) {
		reasons = append(reasons, ReasonAutonomyExceedsLimit)
	}

	if entry.RequiresApproval() && !pc.Confirmed {
		reasons = append(reasons, ReasonReviewRequired)
	}

	if limit := entry.RateLimit; limit != nil && e.limiter != nil {
		if !e.limiter.Allow(entry.Ident(), limit.MaxPerMinute) {
			reasons = append(reasons, ReasonRateLimitExceeded)
		}
	}

	if entry.RequiresApproval() && pc.ApprovalToken != "" {
		valid, tokenReason := e.tokens.Validate(ctx, pc.ApprovalToken, pc.Actor, pc.ProposalID)
		status := approval.TokenStatusValid
		if !valid {
			status = approval.NormalizeTokenReason(tokenReason)
		}
		meta["token_valid"] = valid
		meta["token_status"] = status
		meta["token_reason"] = tokenReason
		meta["policy.approval.token_status"] = status
		if valid {
			reasons = removeReason(reasons, ReasonReviewRequired)
		} else if status == approval.TokenStatusExpired {
			reasons = append(reasons, ReasonTokenExpired)
		} else {
			reasons = append(reasons, ReasonTokenInvalid)
		}
	}

	return Decision{
		Allowed: len(reasons) == 0,
		Reasons: reasons,
		Meta:    meta,
	}, nil
}

// checkList applies deny-wins then allow-restricts semantics to one
// allow/deny pair.
func checkList(allow, deny []string, value, deniedCode, notAllowedCode string) []string {
	for _, d := range deny {
		if d == value {
			return []string{deniedCode}
		}
	}
	if len(allow) > 0 {
		for _, a := range allow {
			if a == value {
				return nil
			}
		}
		return []string{notAllowedCode}
	}
	return nil
}

func removeReason(reasons []string, code string) []string {
	out := reasons[:0]
	for _, r := range reasons {
		if r != code {
			out = append(out, r)
		}
	}
	return out
}
