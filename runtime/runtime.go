// Package runtime orchestrates skill and op execution end to end: entry
// resolution, input and output schema validation, policy evaluation, approval
// proposal routing, adapter dispatch with timeouts, pipeline interpretation,
// composition gating and redacted audit records.
package runtime

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"

	"goa.design/sor/approval"
	"goa.design/sor/policy"
	"goa.design/sor/registry"
	"goa.design/sor/schema"
	"goa.design/sor/telemetry"
)

type (
	// RoutingHook previews an invocation to the attention surface before
	// policy runs. Failures are logged and never fail the request.
	RoutingHook func(ctx context.Context, entry *registry.Entry, sc *Context, inputs map[string]any) error

	// Runtime executes skills and ops against a registry snapshot. Safe for
	// concurrent use; all mutable state lives behind the loader, the rate
	// limiter and the recorder.
	Runtime struct {
		loader    *registry.Loader
		evaluator *policy.Evaluator
		recorder  approval.Recorder
		router    approval.Router
		adapters  map[registry.RuntimeKind]Adapter
		auditor   *Auditor

		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer

		routingHook    RoutingHook
		adapterTimeout time.Duration
		proposalTTL    time.Duration
		now            func() time.Time
	}

	// Option configures a Runtime.
	Option func(*Runtime)

	// Result is a successful execution outcome.
	Result struct {
		Output   map[string]any
		Duration time.Duration
	}
)

// WithLogger sets the structured logger used for diagnostics and audit.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithTracer sets the tracer used to span each invocation.
func WithTracer(t telemetry.Tracer) Option {
	return func(r *Runtime) { r.tracer = t }
}

// WithEvaluator replaces the policy evaluator.
func WithEvaluator(e *policy.Evaluator) Option {
	return func(r *Runtime) { r.evaluator = e }
}

// WithRecorder wires the approval recorder.
func WithRecorder(rec approval.Recorder) Option {
	return func(r *Runtime) { r.recorder = rec }
}

// WithRouter wires the attention router proposals are handed to.
func WithRouter(router approval.Router) Option {
	return func(r *Runtime) { r.router = router }
}

// WithAdapter registers the adapter for a runtime selector.
func WithAdapter(kind registry.RuntimeKind, a Adapter) Option {
	return func(r *Runtime) { r.adapters[kind] = a }
}

// WithRoutingHook sets the pre-policy attention preview hook.
func WithRoutingHook(h RoutingHook) Option {
	return func(r *Runtime) { r.routingHook = h }
}

// WithAdapterTimeout overrides the per-call adapter timeout.
func WithAdapterTimeout(d time.Duration) Option {
	return func(r *Runtime) { r.adapterTimeout = d }
}

// WithProposalTTL overrides how long routed proposals stay actionable.
func WithProposalTTL(d time.Duration) Option {
	return func(r *Runtime) { r.proposalTTL = d }
}

// New builds a Runtime over the given registry loader. Unset collaborators
// default to safe implementations: a deny-all token validator behind the
// evaluator, an in-memory recorder, a no-op router and noop telemetry.
func New(loader *registry.Loader, opts ...Option) *Runtime {
	r := &Runtime{
		loader:         loader,
		recorder:       approval.NewMemoryRecorder(),
		router:         approval.NopRouter{},
		adapters:       make(map[registry.RuntimeKind]Adapter),
		logger:         telemetry.NewNoopLogger(),
		metrics:        telemetry.NewNoopMetrics(),
		tracer:         telemetry.NewNoopTracer(),
		adapterTimeout: DefaultAdapterTimeout,
		proposalTTL:    approval.DefaultTTL,
		now:            time.Now,
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	if r.evaluator == nil {
		r.evaluator = policy.NewEvaluator()
	}
	r.auditor = NewAuditor(r.logger)
	return r
}

// ExecuteSkill resolves and executes a skill by name and optional version.
func (r *Runtime) ExecuteSkill(ctx context.Context, name, version string, inputs map[string]any, sc *Context) (*Result, error) {
	return r.execute(ctx, registry.TargetSkill, name, version, inputs, sc)
}

// ExecuteOp resolves and executes an op by name and optional version.
func (r *Runtime) ExecuteOp(ctx context.Context, name, version string, inputs map[string]any, sc *Context) (*Result, error) {
	return r.execute(ctx, registry.TargetOp, name, version, inputs, sc)
}

func (r *Runtime) execute(ctx context.Context, kind registry.TargetKind, name, version string, inputs map[string]any, sc *Context) (*Result, error) {
	view, err := r.loader.Snapshot(ctx)
	if err != nil {
		return nil, wrapError(KindRegistry, registry.ErrorCode(err), err, "load registry")
	}
	entry, err := view.Resolve(registry.CallTargetRef{Kind: kind, Name: name, Version: version})
	if err != nil {
		return nil, wrapError(KindRegistry, registry.ErrorCode(err), err, "resolve %s %q", kind, name)
	}
	return r.executeEntry(ctx, view, entry, inputs, sc)
}

// executeEntry runs the full orchestration for one resolved entry. Exactly
// one audit event is emitted per call.
func (r *Runtime) executeEntry(ctx context.Context, view *registry.View, entry *registry.Entry, inputs map[string]any, sc *Context) (*Result, error) {
	t0 := time.Now()
	ctx, span := r.tracer.Start(ctx, "sor.execute "+entry.Ident())
	defer span.End()

	var redactIn, redactOut []string
	if red := entry.Redaction(); red != nil {
		redactIn, redactOut = red.Inputs, red.Outputs
	}
	ev := &AuditEvent{
		TraceID:            sc.TraceID,
		SpanID:             sc.InvocationID,
		Kind:               entry.Kind,
		Name:               entry.Name(),
		Version:            entry.Version(),
		Actor:              sc.Actor,
		Channel:            sc.Channel,
		ParentInvocationID: sc.ParentInvocationID,
		Capabilities:       entry.Capabilities(),
		SideEffects:        entry.SideEffects(),
		Inputs:             redactFields(inputs, redactIn),
	}
	fail := func(status string, err error) (*Result, error) {
		ev.Status = status
		ev.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.finish(ctx, entry, ev)
		return nil, err
	}

	if entry.Status != registry.StatusEnabled {
		ev.Status = AuditDenied
		ev.Error = "entry_" + string(entry.Status)
		r.finish(ctx, entry, ev)
		return nil, newError(KindPolicy, CodeEntryUnavailable, "%s is %s", entry.Ident(), entry.Status)
	}

	if err := schema.Validate(inputs, entry.InputsSchema(), "inputs"); err != nil {
		return fail(AuditFailed, asValidationError(err, "inputs"))
	}

	if r.routingHook != nil {
		if err := r.routingHook(ctx, entry, sc, inputs); err != nil {
			r.logger.Warn(ctx, "attention routing hook failed", "entry", entry.Ident(), "err", err.Error())
		}
	}

	req := r.proposalRequest(entry, sc, inputs, redactIn)
	proposalID := approval.ProposalID(req)

	decision, err := r.evaluator.Evaluate(ctx, entry, policy.Context{
		Actor:               sc.Actor,
		Channel:             sc.Channel,
		AllowedCapabilities: sc.AllowedCapabilities(),
		MaxAutonomy:         sc.MaxAutonomy,
		Confirmed:           sc.Confirmed,
		ApprovalToken:       sc.ApprovalToken,
		ProposalID:          proposalID,
	})
	if err != nil {
		ev.PolicyReasons = []string{CodePolicyError}
		return fail(AuditDenied, wrapError(KindPolicy, CodePolicyError, err, "evaluate policy for %s", entry.Ident()))
	}

	if !decision.Allowed {
		if entry.RequiresApproval() && approvalOnlyReasons(decision.Reasons) {
			prop := approval.New(req, r.proposalTTL, r.now)
			if err := r.recorder.RecordProposal(ctx, prop); err != nil {
				r.logger.Error(ctx, "record proposal failed", "proposal_id", prop.ProposalID, "err", err.Error())
			}
			if err := r.router.Route(ctx, prop); err != nil {
				r.logger.Error(ctx, "route proposal failed", "proposal_id", prop.ProposalID, "err", err.Error())
			}
		}
		r.recordDecision(ctx, proposalID, sc, entry, decision)
		ev.PolicyReasons = decision.Reasons
		ev.PolicyMeta = decision.Meta
		return fail(AuditDenied, (&Error{
			Kind:    KindPolicy,
			Code:    CodePolicyDenied,
			Message: "policy denied " + entry.Ident(),
		}).withMeta("reasons", decision.Reasons))
	}
	r.recordDecision(ctx, proposalID, sc, entry, decision)

	var (
		output map[string]any
		derr   error
	)
	if entry.IsPipeline() {
		output, derr = r.interpretPipeline(ctx, view, entry, inputs, sc)
	} else {
		adapter, aerr := r.adapterFor(entry)
		if aerr != nil {
			return fail(AuditFailed, aerr)
		}
		call := &AdapterCall{Entry: entry, Inputs: inputs, Context: sc}
		if len(entry.CallTargets()) > 0 {
			call.Invoker = &Invoker{rt: r, view: view, parent: entry, pctx: sc}
		}
		output, derr = r.dispatch(ctx, entry, adapter, call)
	}
	if derr != nil {
		return fail(AuditFailed, derr)
	}
	ev.Outputs = redactFields(output, redactOut)

	if err := schema.Validate(output, entry.OutputsSchema(), "outputs"); err != nil {
		return fail(AuditFailed, asValidationError(err, "outputs"))
	}

	elapsed := time.Since(t0)
	ev.Status = AuditSuccess
	ev.DurationMS = durationMS(elapsed)
	r.finish(ctx, entry, ev)
	return &Result{Output: output, Duration: elapsed}, nil
}

// dispatch runs one adapter call under the per-call timeout and maps its
// failure modes to runtime errors.
func (r *Runtime) dispatch(ctx context.Context, entry *registry.Entry, adapter Adapter, call *AdapterCall) (map[string]any, error) {
	cctx, cancel := context.WithTimeout(ctx, r.adapterTimeout)
	defer cancel()
	out, err := adapter.Execute(cctx, call)
	if err == nil {
		return out, nil
	}
	if cctx.Err() != nil {
		return nil, wrapError(KindAdapter, CodeTimeout, err, "%s timed out after %s", entry.Ident(), r.adapterTimeout)
	}
	if re, ok := AsError(err); ok {
		return nil, re
	}
	code := string(entry.Entrypoint().Runtime) + "_unexpected_error"
	return nil, wrapError(KindAdapter, code, err, "%s adapter failed", entry.Ident())
}

// finish emits the audit event and instrumentation for one terminal state.
func (r *Runtime) finish(ctx context.Context, entry *registry.Entry, ev *AuditEvent) {
	r.auditor.Emit(ctx, ev)
	r.metrics.IncCounter("sor.executions", 1, "entry", entry.Ident(), "status", ev.Status)
	if ev.DurationMS != nil {
		r.metrics.RecordTimer("sor.execution.duration", time.Duration(*ev.DurationMS)*time.Millisecond, "entry", entry.Ident())
	}
}

// proposalRequest captures the request shape hashed into the proposal id.
func (r *Runtime) proposalRequest(entry *registry.Entry, sc *Context, inputs map[string]any, redactIn []string) approval.Request {
	return approval.Request{
		Kind:            entry.Kind,
		Name:            entry.Name(),
		Version:         entry.Version(),
		Autonomy:        entry.Autonomy,
		Capabilities:    entry.Capabilities(),
		PolicyTags:      entry.PolicyTags(),
		Actor:           sc.Actor,
		Channel:         sc.Channel,
		TraceID:         sc.TraceID,
		InvocationID:    sc.InvocationID,
		Inputs:          inputs,
		RedactFields:    redactIn,
		ReasonForReview: reasonForReview(entry),
	}
}

// recordDecision appends the approval decision implied by the policy outcome:
// approved on the allowed path of an approval-gated entry, rejected or
// expired when a presented token failed.
func (r *Runtime) recordDecision(ctx context.Context, proposalID string, sc *Context, entry *registry.Entry, decision policy.Decision) {
	if !entry.RequiresApproval() {
		return
	}
	status, _ := decision.Meta["policy.approval.token_status"].(string)
	var d *approval.Decision
	switch {
	case decision.Allowed:
		reason := "operator confirmed"
		if status == approval.TokenStatusValid {
			reason = "approval token accepted"
		}
		d = &approval.Decision{
			ProposalID: proposalID,
			Actor:      sc.Actor,
			Decision:   approval.DecisionApproved,
			Reason:     reason,
			TokenUsed:  status == approval.TokenStatusValid,
			DecidedAt:  r.now().UTC(),
		}
	case status == approval.TokenStatusExpired:
		d = &approval.Decision{
			ProposalID: proposalID,
			Actor:      sc.Actor,
			Decision:   approval.DecisionExpired,
			Reason:     tokenReason(decision.Meta),
			TokenUsed:  true,
			DecidedAt:  r.now().UTC(),
		}
	case status == approval.TokenStatusInvalid:
		d = &approval.Decision{
			ProposalID: proposalID,
			Actor:      sc.Actor,
			Decision:   approval.DecisionRejected,
			Reason:     tokenReason(decision.Meta),
			TokenUsed:  true,
			DecidedAt:  r.now().UTC(),
		}
	default:
		return
	}
	if err := r.recorder.RecordDecision(ctx, d); err != nil {
		r.logger.Error(ctx, "record decision failed", "proposal_id", proposalID, "err", err.Error())
	}
}

func tokenReason(meta map[string]any) string {
	reason, _ := meta["token_reason"].(string)
	return reason
}

// approvalOnlyReasons reports whether every denial reason is approval
// related, so the request qualifies for the proposal branch.
func approvalOnlyReasons(reasons []string) bool {
	for _, reason := range reasons {
		switch reason {
		case policy.ReasonApprovalRequired, policy.ReasonReviewRequired,
			policy.ReasonTokenExpired, policy.ReasonTokenInvalid:
		default:
			return false
		}
	}
	return true
}

func reasonForReview(entry *registry.Entry) string {
	if entry.Autonomy == registry.AutonomyL1 {
		return "autonomy level L1 requires explicit approval"
	}
	if entry.HasPolicyTag(registry.PolicyTagRequiresReview) {
		return "entry is tagged " + registry.PolicyTagRequiresReview
	}
	return ""
}

// asValidationError wraps a schema validation failure into a runtime Error
// carrying the first issue code and the full issue list.
func asValidationError(err error, where string) error {
	ve, ok := schema.AsValidationError(err)
	if !ok {
		return wrapError(KindValidation, "schema_invalid", err, "validate %s", where)
	}
	code := "schema_invalid"
	if len(ve.Issues) > 0 {
		code = ve.Issues[0].Code
	}
	return wrapError(KindValidation, code, err, "validate %s", where).withMeta("issues", ve.Issues)
}
