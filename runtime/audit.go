package runtime

import (
	"context"
	"time"

	"goa.design/sor/registry"
	"goa.design/sor/telemetry"
)

// AuditRedactedPlaceholder replaces redacted field values in audit payloads.
const AuditRedactedPlaceholder = "[REDACTED]"

// Terminal audit statuses.
const (
	AuditSuccess = "success"
	AuditDenied  = "denied"
	AuditFailed  = "failed"
)

// AuditEvent is the structured record emitted once per terminal invocation
// state. Inputs and outputs are redacted copies; field names are stable.
type AuditEvent struct {
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id"`

	Kind    registry.TargetKind `json:"kind"`
	Name    string              `json:"name"`
	Version string              `json:"version"`

	Status     string `json:"status"`
	DurationMS *int64 `json:"duration_ms,omitempty"`

	Actor              string `json:"actor,omitempty"`
	Channel            string `json:"channel,omitempty"`
	ParentInvocationID string `json:"parent_invocation_id,omitempty"`

	Capabilities []registry.CapabilityID `json:"capabilities,omitempty"`
	SideEffects  []registry.CapabilityID `json:"side_effects,omitempty"`

	Inputs  map[string]any `json:"inputs,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`

	Error         string         `json:"error,omitempty"`
	PolicyReasons []string       `json:"policy_reasons,omitempty"`
	PolicyMeta    map[string]any `json:"policy_meta,omitempty"`
}

// Auditor writes audit events at INFO to a structured logger. Writes never
// tear: each event goes out as a single log record.
type Auditor struct {
	logger telemetry.Logger
}

// NewAuditor builds an Auditor over the given logger.
func NewAuditor(logger telemetry.Logger) *Auditor {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Auditor{logger: logger}
}

// Emit writes one audit event.
func (a *Auditor) Emit(ctx context.Context, ev *AuditEvent) {
	kv := []any{
		"audit", true,
		"trace_id", ev.TraceID,
		"span_id", ev.SpanID,
		"kind", string(ev.Kind),
		"name", ev.Name,
		"version", ev.Version,
		"status", ev.Status,
	}
	if ev.DurationMS != nil {
		kv = append(kv, "duration_ms", *ev.DurationMS)
	}
	if ev.Actor != "" {
		kv = append(kv, "actor", ev.Actor)
	}
	if ev.Channel != "" {
		kv = append(kv, "channel", ev.Channel)
	}
	if ev.ParentInvocationID != "" {
		kv = append(kv, "parent_invocation_id", ev.ParentInvocationID)
	}
	if len(ev.Capabilities) > 0 {
		kv = append(kv, "capabilities", ev.Capabilities)
	}
	if len(ev.SideEffects) > 0 {
		kv = append(kv, "side_effects", ev.SideEffects)
	}
	if ev.Inputs != nil {
		kv = append(kv, "inputs", ev.Inputs)
	}
	if ev.Outputs != nil {
		kv = append(kv, "outputs", ev.Outputs)
	}
	if ev.Error != "" {
		kv = append(kv, "error", ev.Error)
	}
	if len(ev.PolicyReasons) > 0 {
		kv = append(kv, "policy_reasons", ev.PolicyReasons)
	}
	if len(ev.PolicyMeta) > 0 {
		kv = append(kv, "policy_meta", ev.PolicyMeta)
	}
	a.logger.Info(ctx, "skill execution audit", kv...)
}

// redactFields returns a copy of payload with each listed field's value
// replaced by the audit placeholder. Absent fields stay absent; other fields
// pass through untouched.
func redactFields(payload map[string]any, fields []string) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	for _, f := range fields {
		if _, ok := out[f]; ok {
			out[f] = AuditRedactedPlaceholder
		}
	}
	return out
}

func durationMS(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}
