// Package approval builds and records the artifacts of the human approval
// loop: deterministic proposal identifiers, proposal documents routed to an
// attention channel, recorded decisions, and approval tokens that unlock
// exactly the request that produced a proposal.
package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"goa.design/sor/registry"
)

// ProposalVersion is the wire version of proposal documents.
const ProposalVersion = "1.0"

// DefaultTTL bounds how long a proposal (and any token issued against it)
// stays actionable.
const DefaultTTL = time.Hour

// HashRedactedPlaceholder replaces redacted input values in the canonical
// serialization hashed into the proposal id.
const HashRedactedPlaceholder = "<redacted>"

type (
	// Request captures everything that identifies a blocked invocation. The
	// same Request always yields the same proposal id.
	Request struct {
		Kind         registry.TargetKind
		Name         string
		Version      string
		Autonomy     registry.AutonomyLevel
		Capabilities []registry.CapabilityID
		PolicyTags   []string

		Actor        string
		Channel      string
		TraceID      string
		InvocationID string

		// Inputs are the raw invocation inputs; RedactFields lists the input
		// fields whose values are replaced before hashing and before the
		// field list is recorded on the proposal.
		Inputs       map[string]any
		RedactFields []string

		ReasonForReview string
	}

	// Proposal is the immutable document routed to a human for approval.
	Proposal struct {
		ProposalVersion string                  `json:"proposal_version"`
		ProposalID      string                  `json:"proposal_id"`
		Kind            registry.TargetKind     `json:"kind"`
		Name            string                  `json:"name"`
		Version         string                  `json:"version"`
		Autonomy        registry.AutonomyLevel  `json:"autonomy"`
		Capabilities    []registry.CapabilityID `json:"capabilities,omitempty"`
		PolicyTags      []string                `json:"policy_tags,omitempty"`
		ReasonForReview string                  `json:"reason_for_review,omitempty"`

		Actor        string `json:"actor,omitempty"`
		Channel      string `json:"channel,omitempty"`
		TraceID      string `json:"trace_id,omitempty"`
		InvocationID string `json:"invocation_id,omitempty"`

		// RedactedInputFields lists the redacted input field names; values
		// are never carried on the proposal.
		RedactedInputFields []string `json:"redactions,omitempty"`

		CreatedAt time.Time `json:"created_at"`
		ExpiresAt time.Time `json:"expires_at"`
	}
)

// ProposalID computes the deterministic identifier of the request: the
// SHA-256 of a canonical JSON serialization (sorted keys, compact
// separators) of the action identity, the invocation context and the
// redacted inputs.
func ProposalID(req Request) string {
	doc := map[string]any{
		"action": map[string]any{
			"kind":     string(req.Kind),
			"name":     req.Name,
			"version":  req.Version,
			"autonomy": string(req.Autonomy),
		},
		"context": map[string]any{
			"actor":         req.Actor,
			"channel":       req.Channel,
			"trace_id":      req.TraceID,
			"invocation_id": req.InvocationID,
		},
		"inputs": RedactForHash(req.Inputs, req.RedactFields),
	}
	canonical, err := canonicalJSON(doc)
	if err != nil {
		// The document is built exclusively from JSON-representable values;
		// a marshal failure is a programming error.
		panic(fmt.Sprintf("approval: canonicalize proposal document: %v", err))
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// New builds a proposal for the request. ttl <= 0 uses DefaultTTL; now
// defaults to time.Now.
func New(req Request, ttl time.Duration, now func() time.Time) *Proposal {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	created := now().UTC()
	return &Proposal{
		ProposalVersion:     ProposalVersion,
		ProposalID:          ProposalID(req),
		Kind:                req.Kind,
		Name:                req.Name,
		Version:             req.Version,
		Autonomy:            req.Autonomy,
		Capabilities:        append([]registry.CapabilityID(nil), req.Capabilities...),
		PolicyTags:          append([]string(nil), req.PolicyTags...),
		ReasonForReview:     req.ReasonForReview,
		Actor:               req.Actor,
		Channel:             req.Channel,
		TraceID:             req.TraceID,
		InvocationID:        req.InvocationID,
		RedactedInputFields: presentFields(req.Inputs, req.RedactFields),
		CreatedAt:           created,
		ExpiresAt:           created.Add(ttl),
	}
}

// RedactForHash returns a copy of inputs with each listed field's value
// replaced by the hash placeholder. Absent fields stay absent.
func RedactForHash(inputs map[string]any, fields []string) map[string]any {
	if inputs == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		out[k] = v
	}
	for _, f := range fields {
		if _, ok := out[f]; ok {
			out[f] = HashRedactedPlaceholder
		}
	}
	return out
}

func presentFields(inputs map[string]any, fields []string) []string {
	var out []string
	for _, f := range fields {
		if _, ok := inputs[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// canonicalJSON serializes v deterministically. encoding/json already sorts
// map keys and emits compact separators; time.Time values marshal as
// RFC 3339 UTC strings when callers normalize them with UTC().
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
