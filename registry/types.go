// Package registry holds the typed definitions of skills, ops and
// capabilities, validates them at load time, merges YAML overlay overrides,
// statically checks pipeline skills, and publishes immutable snapshots with a
// mtime-based hot reload. Readers always observe a consistent view; a reload
// atomically replaces the published snapshot.
package registry

import (
	"fmt"
	"regexp"

	"goa.design/sor/schema"
)

type (
	// CapabilityID is a dotted lowercase permission token such as
	// "email.send". Set membership is the unit of capability scoping.
	CapabilityID string

	// AutonomyLevel is the ordered ceiling on how freely an entry may act.
	// L1 always requires explicit approval.
	AutonomyLevel string

	// Status is the lifecycle state of a registry entry. Disabled entries
	// are filtered from active views.
	Status string

	// SkillKind discriminates logic skills (entrypoint + declared call
	// targets) from pipeline skills (ordered steps over other entries).
	SkillKind string

	// TargetKind distinguishes skill from op references.
	TargetKind string

	// RuntimeKind selects the transport adapter used to execute an entry.
	RuntimeKind string
)

// Autonomy levels in ascending order of freedom.
const (
	AutonomyL0 AutonomyLevel = "L0"
	AutonomyL1 AutonomyLevel = "L1"
	AutonomyL2 AutonomyLevel = "L2"
	AutonomyL3 AutonomyLevel = "L3"
)

const (
	StatusEnabled    Status = "enabled"
	StatusDisabled   Status = "disabled"
	StatusDeprecated Status = "deprecated"
)

const (
	KindLogic    SkillKind = "logic"
	KindPipeline SkillKind = "pipeline"
)

const (
	TargetSkill TargetKind = "skill"
	TargetOp    TargetKind = "op"
)

// Runtime selectors. Each demands specific entrypoint fields: native needs
// module+handler, http needs url, script needs command, mcp needs tool.
const (
	RuntimeNative RuntimeKind = "python"
	RuntimeHTTP   RuntimeKind = "http"
	RuntimeScript RuntimeKind = "script"
	RuntimeMCP    RuntimeKind = "mcp"
)

// PolicyTagRequiresReview marks entries that need operator review before
// unconfirmed execution.
const PolicyTagRequiresReview = "requires_review"

var (
	capabilityPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*\.[a-z][a-z0-9_]*$`)
	namePattern       = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	semverPattern     = regexp.MustCompile(`^\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?(?:\+[0-9A-Za-z.-]+)?$`)
)

// Valid reports whether the capability id matches the domain.verb pattern.
func (c CapabilityID) Valid() bool { return capabilityPattern.MatchString(string(c)) }

// index returns the ordinal of the level, or -1 for unknown levels.
func (a AutonomyLevel) index() int {
	switch a {
	case AutonomyL0:
		return 0
	case AutonomyL1:
		return 1
	case AutonomyL2:
		return 2
	case AutonomyL3:
		return 3
	default:
		return -1
	}
}

// Valid reports whether the level is one of L0..L3.
func (a AutonomyLevel) Valid() bool { return a.index() >= 0 }

// Exceeds reports whether a is strictly more autonomous than ceiling.
func (a AutonomyLevel) Exceeds(ceiling AutonomyLevel) bool {
	return a.index() > ceiling.index()
}

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	return s == StatusEnabled || s == StatusDisabled || s == StatusDeprecated
}

type (
	// Entrypoint selects the transport and carries its runtime-specific
	// fields. Exactly the fields demanded by Runtime must be set.
	Entrypoint struct {
		Runtime RuntimeKind `json:"runtime"`
		Module  string      `json:"module,omitempty"`
		Handler string      `json:"handler,omitempty"`
		URL     string      `json:"url,omitempty"`
		Command string      `json:"command,omitempty"`
		Tool    string      `json:"tool,omitempty"`
	}

	// RateLimit caps invocations per sliding 60-second window.
	RateLimit struct {
		MaxPerMinute int `json:"max_per_minute" yaml:"max_per_minute"`
	}

	// Redaction lists the input and output fields whose values are replaced
	// by a sentinel in audit records and proposal hashes.
	Redaction struct {
		Inputs  []string `json:"inputs,omitempty"`
		Outputs []string `json:"outputs,omitempty"`
	}

	// Deprecation carries the metadata required for deprecated entries.
	Deprecation struct {
		Reason     string `json:"reason"`
		ReplacedBy string `json:"replaced_by,omitempty"`
		Since      string `json:"since,omitempty"`
	}

	// FailureMode declares a failure an entry may report and whether the
	// caller may retry it.
	FailureMode struct {
		Code        string `json:"code"`
		Description string `json:"description,omitempty"`
		Retryable   bool   `json:"retryable"`
	}

	// CallTargetRef is a statically declared call target of a logic skill or
	// the target of a pipeline step.
	CallTargetRef struct {
		Kind    TargetKind `json:"kind"`
		Name    string     `json:"name"`
		Version string     `json:"version,omitempty"`
	}

	// PipelineStep wires one target into a pipeline. Inputs map target
	// fields to source expressions ($inputs.<field> or $step.<id>.<field>);
	// Outputs map target fields to destination expressions ($outputs.<field>
	// or $step.<id>.<field>).
	PipelineStep struct {
		StepID  string            `json:"step_id"`
		Target  CallTargetRef     `json:"target"`
		Inputs  map[string]string `json:"inputs,omitempty"`
		Outputs map[string]string `json:"outputs,omitempty"`
	}

	// SkillDefinition is the tagged union of logic and pipeline skills,
	// discriminated by Kind. Logic skills set Entrypoint and CallTargets;
	// pipeline skills set Steps.
	SkillDefinition struct {
		Name          string          `json:"name"`
		Version       string          `json:"version"`
		Kind          SkillKind       `json:"kind"`
		Status        Status          `json:"status"`
		Description   string          `json:"description,omitempty"`
		Owners        []string        `json:"owners,omitempty"`
		InputsSchema  *schema.Schema  `json:"inputs_schema"`
		OutputsSchema *schema.Schema  `json:"outputs_schema"`
		Capabilities  []CapabilityID  `json:"capabilities,omitempty"`
		SideEffects   []CapabilityID  `json:"side_effects,omitempty"`
		Autonomy      AutonomyLevel   `json:"autonomy"`
		PolicyTags    []string        `json:"policy_tags,omitempty"`
		RateLimit     *RateLimit      `json:"rate_limit,omitempty"`
		Entrypoint    *Entrypoint     `json:"entrypoint,omitempty"`
		CallTargets   []CallTargetRef `json:"call_targets,omitempty"`
		Steps         []PipelineStep  `json:"steps,omitempty"`
		FailureModes  []FailureMode   `json:"failure_modes"`
		Redaction     *Redaction      `json:"redaction,omitempty"`
		Deprecation   *Deprecation    `json:"deprecation,omitempty"`
	}

	// OpDefinition is a primitive operation: like a logic skill but without
	// composition (no call targets, no pipeline variant).
	OpDefinition struct {
		Name          string         `json:"name"`
		Version       string         `json:"version"`
		Status        Status         `json:"status"`
		Description   string         `json:"description,omitempty"`
		Owners        []string       `json:"owners,omitempty"`
		InputsSchema  *schema.Schema `json:"inputs_schema"`
		OutputsSchema *schema.Schema `json:"outputs_schema"`
		Capabilities  []CapabilityID `json:"capabilities,omitempty"`
		SideEffects   []CapabilityID `json:"side_effects,omitempty"`
		Autonomy      AutonomyLevel  `json:"autonomy"`
		PolicyTags    []string       `json:"policy_tags,omitempty"`
		RateLimit     *RateLimit     `json:"rate_limit,omitempty"`
		Entrypoint    *Entrypoint    `json:"entrypoint"`
		FailureModes  []FailureMode  `json:"failure_modes"`
		Redaction     *Redaction     `json:"redaction,omitempty"`
		Deprecation   *Deprecation   `json:"deprecation,omitempty"`
	}

	// ChannelPolicy allows or denies delivery channels. Deny wins; a
	// non-empty allow list restricts to its members.
	ChannelPolicy struct {
		Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`
		Deny  []string `json:"deny,omitempty" yaml:"deny,omitempty"`
	}

	// ActorPolicy allows or denies actors, with the same semantics as
	// ChannelPolicy.
	ActorPolicy struct {
		Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`
		Deny  []string `json:"deny,omitempty" yaml:"deny,omitempty"`
	}
)

// String renders the reference as kind:name@version.
func (r CallTargetRef) String() string {
	if r.Version == "" {
		return fmt.Sprintf("%s:%s", r.Kind, r.Name)
	}
	return fmt.Sprintf("%s:%s@%s", r.Kind, r.Name, r.Version)
}
