package runtime_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/sor/approval"
	"goa.design/sor/policy"
	"goa.design/sor/registry"
	"goa.design/sor/runtime"
	"goa.design/sor/runtime/adapters/native"
)

const testCapabilities = `{
  "capabilities": [
    {"id": "email.send"},
    {"id": "text.transform"},
    {"id": "funds.move"}
  ]
}`

const testOps = `{
  "registry_version": "1.0.0",
  "ops": [
    {
      "name": "deliver_email",
      "version": "1.0.0",
      "status": "enabled",
      "autonomy": "L0",
      "capabilities": ["email.send"],
      "inputs_schema": {"type": "object", "properties": {"to": {"type": "string"}}},
      "outputs_schema": {"type": "object", "properties": {"delivered": {"type": "boolean"}}},
      "entrypoint": {"runtime": "python", "module": "ops.email", "handler": "deliver"},
      "failure_modes": [{"code": "delivery_failed", "retryable": true}]
    },
    {
      "name": "ping",
      "version": "1.0.0",
      "status": "enabled",
      "autonomy": "L0",
      "capabilities": ["text.transform"],
      "rate_limit": {"max_per_minute": 2},
      "inputs_schema": {"type": "object"},
      "outputs_schema": {"type": "object", "properties": {"pong": {"type": "boolean"}}},
      "entrypoint": {"runtime": "python", "module": "ops.sys", "handler": "ping"},
      "failure_modes": [{"code": "ping_failed", "retryable": true}]
    }
  ]
}`

const testSkills = `{
  "registry_version": "1.0.0",
  "skills": [
    {
      "name": "send_email",
      "version": "1.0.0",
      "kind": "logic",
      "status": "enabled",
      "autonomy": "L2",
      "capabilities": ["email.send"],
      "side_effects": ["email.send"],
      "inputs_schema": {
        "type": "object",
        "required": ["to"],
        "properties": {
          "to": {"type": "string", "format": "uri"},
          "body": {"type": "string"},
          "api_key": {"type": "string"}
        }
      },
      "outputs_schema": {
        "type": "object",
        "required": ["message_id"],
        "properties": {
          "message_id": {"type": "string"},
          "receipt": {"type": "string"}
        }
      },
      "redaction": {"inputs": ["api_key"], "outputs": ["receipt"]},
      "entrypoint": {"runtime": "python", "module": "skills.email", "handler": "send"},
      "call_targets": [{"kind": "op", "name": "deliver_email"}],
      "failure_modes": [{"code": "send_failed", "retryable": true}]
    },
    {
      "name": "wire_funds",
      "version": "1.0.0",
      "kind": "logic",
      "status": "enabled",
      "autonomy": "L1",
      "capabilities": ["funds.move"],
      "inputs_schema": {
        "type": "object",
        "required": ["amount"],
        "properties": {"amount": {"type": "integer"}}
      },
      "outputs_schema": {
        "type": "object",
        "required": ["status"],
        "properties": {"status": {"type": "string"}}
      },
      "entrypoint": {"runtime": "python", "module": "skills.funds", "handler": "wire"},
      "call_targets": [{"kind": "op", "name": "deliver_email"}],
      "failure_modes": [{"code": "wire_failed", "retryable": false}]
    },
    {
      "name": "summarize",
      "version": "1.0.0",
      "kind": "logic",
      "status": "enabled",
      "autonomy": "L0",
      "capabilities": ["text.transform"],
      "inputs_schema": {
        "type": "object",
        "required": ["text"],
        "properties": {"text": {"type": "string"}}
      },
      "outputs_schema": {
        "type": "object",
        "required": ["summary"],
        "properties": {"summary": {"type": "string"}}
      },
      "entrypoint": {"runtime": "python", "module": "skills.text", "handler": "summarize"},
      "call_targets": [{"kind": "op", "name": "deliver_email"}],
      "failure_modes": [{"code": "summarize_failed", "retryable": false}]
    },
    {
      "name": "compose",
      "version": "1.0.0",
      "kind": "logic",
      "status": "enabled",
      "autonomy": "L0",
      "capabilities": ["email.send"],
      "inputs_schema": {
        "type": "object",
        "required": ["text"],
        "properties": {"text": {"type": "string"}}
      },
      "outputs_schema": {
        "type": "object",
        "properties": {"summary": {"type": "string"}}
      },
      "entrypoint": {"runtime": "python", "module": "skills.text", "handler": "compose"},
      "call_targets": [{"kind": "skill", "name": "summarize"}],
      "failure_modes": [{"code": "compose_failed", "retryable": false}]
    },
    {
      "name": "digest",
      "version": "1.0.0",
      "kind": "pipeline",
      "status": "enabled",
      "autonomy": "L0",
      "capabilities": [],
      "inputs_schema": {
        "type": "object",
        "required": ["text"],
        "properties": {"text": {"type": "string"}}
      },
      "outputs_schema": {
        "type": "object",
        "required": ["summary"],
        "properties": {"summary": {"type": "string"}}
      },
      "steps": [
        {
          "step_id": "s1",
          "target": {"kind": "skill", "name": "summarize"},
          "inputs": {"text": "$inputs.text"}
        },
        {
          "step_id": "s2",
          "target": {"kind": "skill", "name": "summarize"},
          "inputs": {"text": "$step.s1.summary"},
          "outputs": {"summary": "$outputs.summary"}
        }
      ],
      "failure_modes": [{"code": "digest_failed", "retryable": false}]
    }
  ]
}`

// auditRecorder captures structured log records so tests can assert on the
// emitted audit events.
type auditRecorder struct {
	mu      sync.Mutex
	records []map[string]any
}

func (a *auditRecorder) log(msg string, keyvals ...any) {
	if msg != "skill execution audit" {
		return
	}
	fields := make(map[string]any, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		fields[key] = keyvals[i+1]
	}
	a.mu.Lock()
	a.records = append(a.records, fields)
	a.mu.Unlock()
}

func (a *auditRecorder) Debug(_ context.Context, msg string, kv ...any) { a.log(msg, kv...) }
func (a *auditRecorder) Info(_ context.Context, msg string, kv ...any)  { a.log(msg, kv...) }
func (a *auditRecorder) Warn(_ context.Context, msg string, kv ...any)  { a.log(msg, kv...) }
func (a *auditRecorder) Error(_ context.Context, msg string, kv ...any) { a.log(msg, kv...) }

func (a *auditRecorder) events() []map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]map[string]any(nil), a.records...)
}

// capturingRouter records routed proposals.
type capturingRouter struct {
	mu        sync.Mutex
	proposals []*approval.Proposal
}

func (r *capturingRouter) Route(_ context.Context, p *approval.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proposals = append(r.proposals, p)
	return nil
}

func (r *capturingRouter) routed() []*approval.Proposal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*approval.Proposal(nil), r.proposals...)
}

// harness wires a full runtime over a temp-dir registry and the native
// adapter, counting handler invocations.
type harness struct {
	rt      *runtime.Runtime
	audit   *auditRecorder
	rec     *approval.MemoryRecorder
	router  *capturingRouter
	tokens  *approval.MemoryTokenStore
	adapter *native.Adapter

	mu    sync.Mutex
	calls map[string]int
}

func (h *harness) called(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[name]++
}

func (h *harness) callCount(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[name]
}

func newHarness(t *testing.T, opts ...runtime.Option) *harness {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}
	cfg := registry.Config{
		SkillsPath:       write("skills.json", testSkills),
		OpsPath:          write("ops.json", testOps),
		CapabilitiesPath: write("capabilities.json", testCapabilities),
	}

	h := &harness{
		audit:   &auditRecorder{},
		rec:     approval.NewMemoryRecorder(),
		router:  &capturingRouter{},
		tokens:  approval.NewMemoryTokenStore(),
		adapter: native.New(),
		calls:   make(map[string]int),
	}

	h.adapter.Register("skills.email", "send", func(ctx context.Context, inputs map[string]any, _ *runtime.Invoker) (map[string]any, error) {
		h.called("send")
		return map[string]any{"message_id": "m-1", "receipt": "r-1"}, nil
	})
	h.adapter.Register("skills.funds", "wire", func(ctx context.Context, inputs map[string]any, _ *runtime.Invoker) (map[string]any, error) {
		h.called("wire")
		return map[string]any{"status": "ok"}, nil
	})
	h.adapter.Register("skills.text", "summarize", func(ctx context.Context, inputs map[string]any, _ *runtime.Invoker) (map[string]any, error) {
		h.called("summarize")
		text, _ := inputs["text"].(string)
		return map[string]any{"summary": "sum(" + text + ")"}, nil
	})
	h.adapter.Register("skills.text", "compose", func(ctx context.Context, inputs map[string]any, inv *runtime.Invoker) (map[string]any, error) {
		h.called("compose")
		out, err := inv.InvokeOp(ctx, "deliver_email", "", map[string]any{"to": "x"})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	h.adapter.Register("ops.email", "deliver", func(ctx context.Context, inputs map[string]any, _ *runtime.Invoker) (map[string]any, error) {
		h.called("deliver")
		return map[string]any{"delivered": true}, nil
	})
	h.adapter.Register("ops.sys", "ping", func(ctx context.Context, inputs map[string]any, _ *runtime.Invoker) (map[string]any, error) {
		h.called("ping")
		return map[string]any{"pong": true}, nil
	})

	loader := registry.NewLoader(cfg)
	base := []runtime.Option{
		runtime.WithAdapter(registry.RuntimeNative, h.adapter),
		runtime.WithLogger(h.audit),
		runtime.WithRecorder(h.rec),
		runtime.WithRouter(h.router),
		runtime.WithEvaluator(policy.NewEvaluator(policy.WithTokenValidator(h.tokens))),
	}
	h.rt = runtime.New(loader, append(base, opts...)...)
	return h
}

func sendEmailInputs() map[string]any {
	return map[string]any{
		"to":      "mailto://a@example.com",
		"body":    "hi",
		"api_key": "s3cret",
	}
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	sc := runtime.NewContext(
		runtime.WithCapabilities("email.send"),
		runtime.WithActor("alice"),
		runtime.WithChannel("email"),
	)

	res, err := h.rt.ExecuteSkill(context.Background(), "send_email", "", sendEmailInputs(), sc)
	require.NoError(t, err)
	assert.Equal(t, "m-1", res.Output["message_id"])
	assert.Equal(t, 1, h.callCount("send"))

	events := h.audit.events()
	require.Len(t, events, 1, "exactly one terminal audit event")
	ev := events[0]
	assert.Equal(t, "success", ev["status"])
	assert.Equal(t, sc.TraceID, ev["trace_id"])
	assert.Equal(t, sc.InvocationID, ev["span_id"])
	assert.Contains(t, ev, "duration_ms")

	inputs, ok := ev["inputs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", inputs["api_key"], "redacted input field")
	assert.Equal(t, "hi", inputs["body"], "other fields pass through untouched")

	outputs, ok := ev["outputs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", outputs["receipt"])
	assert.Equal(t, "m-1", outputs["message_id"])
}

func TestPolicyDeniedMissingCapability(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	sc := runtime.NewContext(runtime.WithActor("alice"))

	_, err := h.rt.ExecuteSkill(context.Background(), "send_email", "", sendEmailInputs(), sc)
	require.Error(t, err)
	re, ok := runtime.AsError(err)
	require.True(t, ok)
	assert.Equal(t, runtime.KindPolicy, re.Kind)
	assert.Equal(t, runtime.CodePolicyDenied, re.Code)
	assert.Contains(t, re.Meta["reasons"], "capability_not_allowed:email.send")

	assert.Zero(t, h.callCount("send"), "adapter never invoked on denial")
	events := h.audit.events()
	require.Len(t, events, 1)
	assert.Equal(t, "denied", events[0]["status"])
}

func TestSchemaInputFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	sc := runtime.NewContext(runtime.WithCapabilities("email.send"))

	inputs := sendEmailInputs()
	inputs["to"] = "not a url"
	_, err := h.rt.ExecuteSkill(context.Background(), "send_email", "", inputs, sc)
	require.Error(t, err)
	re, ok := runtime.AsError(err)
	require.True(t, ok)
	assert.Equal(t, runtime.KindValidation, re.Kind)
	assert.Equal(t, "schema_format_invalid", re.Code)

	assert.Zero(t, h.callCount("send"))
	events := h.audit.events()
	require.Len(t, events, 1)
	assert.Equal(t, "failed", events[0]["status"])
	assert.NotContains(t, events[0], "policy_reasons", "no policy evaluation before valid inputs")
	assert.Empty(t, h.rec.Proposals())
}

func TestRateLimitDenied(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	sc := runtime.NewContext(runtime.WithCapabilities("text.transform"))

	for i := 0; i < 2; i++ {
		_, err := h.rt.ExecuteOp(context.Background(), "ping", "", map[string]any{}, sc)
		require.NoError(t, err, "call %d", i+1)
	}
	_, err := h.rt.ExecuteOp(context.Background(), "ping", "", map[string]any{}, sc)
	require.Error(t, err)
	re, _ := runtime.AsError(err)
	require.NotNil(t, re)
	assert.Equal(t, runtime.CodePolicyDenied, re.Code)
	assert.Contains(t, re.Meta["reasons"], "rate_limit_exceeded")
	assert.Equal(t, 2, h.callCount("ping"))
}

func TestProposalGeneration(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	sc := runtime.NewContext(
		runtime.WithCapabilities("funds.move"),
		runtime.WithActor("alice"),
		runtime.WithChannel("email"),
	)
	inputs := map[string]any{"amount": 50}

	_, err := h.rt.ExecuteSkill(context.Background(), "wire_funds", "", inputs, sc)
	require.Error(t, err)
	re, _ := runtime.AsError(err)
	require.NotNil(t, re)
	assert.Equal(t, runtime.CodePolicyDenied, re.Code)
	assert.Contains(t, re.Meta["reasons"], "review_required")
	assert.Zero(t, h.callCount("wire"))

	proposals := h.rec.Proposals()
	require.Len(t, proposals, 1, "proposal recorded")
	routed := h.router.routed()
	require.Len(t, routed, 1, "attention router invoked once")
	assert.Equal(t, proposals[0].ProposalID, routed[0].ProposalID)

	want := approval.ProposalID(approval.Request{
		Kind:         registry.TargetSkill,
		Name:         "wire_funds",
		Version:      "1.0.0",
		Autonomy:     registry.AutonomyL1,
		Actor:        "alice",
		Channel:      "email",
		TraceID:      sc.TraceID,
		InvocationID: sc.InvocationID,
		Inputs:       inputs,
	})
	assert.Equal(t, want, proposals[0].ProposalID, "deterministic proposal id")
}

func TestApprovalTokenPath(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	sc := runtime.NewContext(
		runtime.WithCapabilities("funds.move"),
		runtime.WithActor("alice"),
		runtime.WithChannel("email"),
	)
	inputs := map[string]any{"amount": 50}

	pid := approval.ProposalID(approval.Request{
		Kind:         registry.TargetSkill,
		Name:         "wire_funds",
		Version:      "1.0.0",
		Autonomy:     registry.AutonomyL1,
		Actor:        "alice",
		Channel:      "email",
		TraceID:      sc.TraceID,
		InvocationID: sc.InvocationID,
		Inputs:       inputs,
	})
	h.tokens.Issue(approval.Token{Token: "tok", Actor: "alice", ProposalID: pid})
	sc.ApprovalToken = "tok"

	res, err := h.rt.ExecuteSkill(context.Background(), "wire_funds", "", inputs, sc)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Output["status"])
	assert.Equal(t, 1, h.callCount("wire"))

	decisions := h.rec.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, approval.DecisionApproved, decisions[0].Decision)
	assert.True(t, decisions[0].TokenUsed)
	assert.Equal(t, pid, decisions[0].ProposalID)

	events := h.audit.events()
	require.Len(t, events, 1)
	assert.Equal(t, "success", events[0]["status"])
}

func TestCompositionViolation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	sc := runtime.NewContext(runtime.WithCapabilities("email.send", "text.transform"))

	_, err := h.rt.ExecuteSkill(context.Background(), "compose", "", map[string]any{"text": "x"}, sc)
	require.Error(t, err)
	re, _ := runtime.AsError(err)
	require.NotNil(t, re)
	assert.Equal(t, runtime.KindComposition, re.Kind)
	assert.Equal(t, runtime.CodeCallTargetNotAllowed, re.Code)
	assert.Zero(t, h.callCount("deliver"), "undeclared target never executed")
}

func TestCompositionNarrowsCapabilities(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	// The parent is granted only its own capability. When its handler calls
	// the declared summarize skill, the child context is the intersection of
	// the parent grants and the child's declared capabilities: empty, so the
	// child invocation is denied.
	h.adapter.Register("skills.text", "compose", func(ctx context.Context, inputs map[string]any, inv *runtime.Invoker) (map[string]any, error) {
		h.called("compose")
		return inv.InvokeSkill(ctx, "summarize", "", map[string]any{"text": "x"})
	})
	sc := runtime.NewContext(runtime.WithCapabilities("email.send"))

	_, err := h.rt.ExecuteSkill(context.Background(), "compose", "", map[string]any{"text": "x"}, sc)
	require.Error(t, err)
	re, _ := runtime.AsError(err)
	require.NotNil(t, re)
	assert.Equal(t, runtime.CodePolicyDenied, re.Code)
	assert.Contains(t, re.Meta["reasons"], "capability_not_allowed:text.transform")
	assert.Zero(t, h.callCount("summarize"))
}

func TestPipelineHappyPath(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	sc := runtime.NewContext(runtime.WithCapabilities("text.transform"))

	res, err := h.rt.ExecuteSkill(context.Background(), "digest", "", map[string]any{"text": "abc"}, sc)
	require.NoError(t, err)
	assert.Equal(t, "sum(sum(abc))", res.Output["summary"], "steps run in order, s2 consumes s1")
	assert.Equal(t, 2, h.callCount("summarize"))

	statuses := make([]string, 0, 3)
	for _, ev := range h.audit.events() {
		statuses = append(statuses, ev["status"].(string))
	}
	assert.Equal(t, []string{"success", "success", "success"}, statuses,
		"each step invocation and the pipeline itself audit terminally")
}

func TestAdapterTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, runtime.WithAdapterTimeout(30*time.Millisecond))
	h.adapter.Register("skills.email", "send", func(ctx context.Context, inputs map[string]any, _ *runtime.Invoker) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
			return map[string]any{"message_id": "late"}, nil
		}
	})
	sc := runtime.NewContext(runtime.WithCapabilities("email.send"))

	_, err := h.rt.ExecuteSkill(context.Background(), "send_email", "", sendEmailInputs(), sc)
	require.Error(t, err)
	assert.True(t, runtime.IsCode(err, runtime.CodeTimeout), "got %v", err)

	events := h.audit.events()
	require.Len(t, events, 1)
	assert.Equal(t, "failed", events[0]["status"])
}

func TestOutputValidationFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.adapter.Register("skills.email", "send", func(ctx context.Context, inputs map[string]any, _ *runtime.Invoker) (map[string]any, error) {
		return map[string]any{"unexpected": true}, nil
	})
	sc := runtime.NewContext(runtime.WithCapabilities("email.send"))

	_, err := h.rt.ExecuteSkill(context.Background(), "send_email", "", sendEmailInputs(), sc)
	require.Error(t, err)
	re, _ := runtime.AsError(err)
	require.NotNil(t, re)
	assert.Equal(t, runtime.KindValidation, re.Kind)

	events := h.audit.events()
	require.Len(t, events, 1)
	assert.Equal(t, "failed", events[0]["status"])
}

func TestAdapterMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}
	loader := registry.NewLoader(registry.Config{
		SkillsPath:       write("skills.json", testSkills),
		OpsPath:          write("ops.json", testOps),
		CapabilitiesPath: write("capabilities.json", testCapabilities),
	})
	rt := runtime.New(loader) // no adapters registered
	sc := runtime.NewContext(runtime.WithCapabilities("email.send"))

	_, err := rt.ExecuteSkill(context.Background(), "send_email", "", sendEmailInputs(), sc)
	require.Error(t, err)
	assert.True(t, runtime.IsCode(err, runtime.CodeAdapterMissing), "got %v", err)
}

func TestDisabledEntryUnavailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// Route the skill through an overlay-disabled copy by loading a second
	// registry with the overlay applied.
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}
	overlay := "overlay_version: \"1.0\"\noverrides:\n  - name: send_email\n    status: disabled\n"
	loader := registry.NewLoader(registry.Config{
		SkillsPath:       write("skills.json", testSkills),
		OpsPath:          write("ops.json", testOps),
		CapabilitiesPath: write("capabilities.json", testCapabilities),
		OverlayPaths:     []string{write("overlay.yaml", overlay)},
	})
	rt := runtime.New(loader,
		runtime.WithAdapter(registry.RuntimeNative, h.adapter),
		runtime.WithLogger(h.audit),
	)
	sc := runtime.NewContext(runtime.WithCapabilities("email.send"))

	_, err := rt.ExecuteSkill(context.Background(), "send_email", "", sendEmailInputs(), sc)
	require.Error(t, err)
	assert.True(t, runtime.IsCode(err, runtime.CodeEntryUnavailable), "got %v", err)
	assert.Zero(t, h.callCount("send"))

	events := h.audit.events()
	require.Len(t, events, 1)
	assert.Equal(t, "denied", events[0]["status"])
	assert.Equal(t, "entry_disabled", events[0]["error"])
}

func TestRoutingHookFailureIsNonFatal(t *testing.T) {
	t.Parallel()
	hookCalls := 0
	h := newHarness(t, runtime.WithRoutingHook(func(context.Context, *registry.Entry, *runtime.Context, map[string]any) error {
		hookCalls++
		return assert.AnError
	}))
	sc := runtime.NewContext(runtime.WithCapabilities("email.send"))

	_, err := h.rt.ExecuteSkill(context.Background(), "send_email", "", sendEmailInputs(), sc)
	require.NoError(t, err)
	assert.Equal(t, 1, hookCalls)
}
