package approval

import (
	"context"
	"sync"
	"time"
)

// Decision outcomes.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
	DecisionExpired  = "expired"
)

type (
	// Decision is the recorded outcome of a proposal.
	Decision struct {
		ProposalID string    `json:"proposal_id"`
		Actor      string    `json:"actor,omitempty"`
		Decision   string    `json:"decision"`
		Reason     string    `json:"reason,omitempty"`
		TokenUsed  bool      `json:"token_used"`
		DecidedAt  time.Time `json:"decided_at"`
	}

	// Recorder persists proposals and decisions. Implementations are
	// append-only; concurrent appends are serialized by the implementation.
	Recorder interface {
		RecordProposal(ctx context.Context, p *Proposal) error
		RecordDecision(ctx context.Context, d *Decision) error
	}

	// Router hands a proposal to the external attention channel. Routing is
	// asynchronous from the approver's point of view; an error fails only
	// the current request, never the recording that already happened.
	Router interface {
		Route(ctx context.Context, p *Proposal) error
	}

	// MemoryRecorder is an append-only in-memory Recorder for tests and
	// single-process deployments.
	MemoryRecorder struct {
		mu        sync.Mutex
		proposals []*Proposal
		decisions []*Decision
	}

	// NopRouter accepts and drops every proposal. Useful in tests; wire a
	// real router in production.
	NopRouter struct{}
)

// Route implements Router by discarding the proposal.
func (NopRouter) Route(context.Context, *Proposal) error { return nil }

// NewMemoryRecorder builds an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder { return &MemoryRecorder{} }

// RecordProposal implements Recorder.
func (r *MemoryRecorder) RecordProposal(_ context.Context, p *Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proposals = append(r.proposals, p)
	return nil
}

// RecordDecision implements Recorder.
func (r *MemoryRecorder) RecordDecision(_ context.Context, d *Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
	return nil
}

// Proposals returns a copy of the recorded proposals in append order.
func (r *MemoryRecorder) Proposals() []*Proposal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Proposal(nil), r.proposals...)
}

// Decisions returns a copy of the recorded decisions in append order.
func (r *MemoryRecorder) Decisions() []*Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Decision(nil), r.decisions...)
}
