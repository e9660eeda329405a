package registry

import (
	"fmt"

	"goa.design/sor/schema"
)

// Entry is a skill or op definition merged with its overlay-derived policy
// overrides. Entries are immutable after load; a reload replaces them
// wholesale.
type Entry struct {
	// Kind reports whether this entry wraps a skill or an op.
	Kind TargetKind

	// Skill is set when Kind is TargetSkill.
	Skill *SkillDefinition
	// Op is set when Kind is TargetOp.
	Op *OpDefinition

	// Overlay-controlled policy fields. These start from the definition and
	// are the only fields an overlay may override.
	Status    Status
	Autonomy  AutonomyLevel
	RateLimit *RateLimit
	Channels  *ChannelPolicy
	Actors    *ActorPolicy
}

// newSkillEntry seeds an Entry from a skill definition before overlays apply.
func newSkillEntry(def *SkillDefinition) *Entry {
	return &Entry{
		Kind:      TargetSkill,
		Skill:     def,
		Status:    def.Status,
		Autonomy:  def.Autonomy,
		RateLimit: def.RateLimit,
	}
}

// newOpEntry seeds an Entry from an op definition before overlays apply.
func newOpEntry(def *OpDefinition) *Entry {
	return &Entry{
		Kind:      TargetOp,
		Op:        def,
		Status:    def.Status,
		Autonomy:  def.Autonomy,
		RateLimit: def.RateLimit,
	}
}

// Name returns the entry name.
func (e *Entry) Name() string {
	if e.Kind == TargetSkill {
		return e.Skill.Name
	}
	return e.Op.Name
}

// Version returns the entry semver version.
func (e *Entry) Version() string {
	if e.Kind == TargetSkill {
		return e.Skill.Version
	}
	return e.Op.Version
}

// Ident returns the rate-limit and audit key "name@version".
func (e *Entry) Ident() string { return fmt.Sprintf("%s@%s", e.Name(), e.Version()) }

// SkillKind returns the skill variant, or KindLogic for ops (ops behave like
// entrypoint-backed skills at dispatch time).
func (e *Entry) SkillKind() SkillKind {
	if e.Kind == TargetSkill {
		return e.Skill.Kind
	}
	return KindLogic
}

// IsPipeline reports whether the entry is a pipeline skill.
func (e *Entry) IsPipeline() bool {
	return e.Kind == TargetSkill && e.Skill.Kind == KindPipeline
}

// Capabilities returns the declared capability set.
func (e *Entry) Capabilities() []CapabilityID {
	if e.Kind == TargetSkill {
		return e.Skill.Capabilities
	}
	return e.Op.Capabilities
}

// SideEffects returns the declared side-effecting capabilities.
func (e *Entry) SideEffects() []CapabilityID {
	if e.Kind == TargetSkill {
		return e.Skill.SideEffects
	}
	return e.Op.SideEffects
}

// PolicyTags returns the entry's policy tags.
func (e *Entry) PolicyTags() []string {
	if e.Kind == TargetSkill {
		return e.Skill.PolicyTags
	}
	return e.Op.PolicyTags
}

// HasPolicyTag reports whether tag appears in the entry's policy tags.
func (e *Entry) HasPolicyTag(tag string) bool {
	for _, t := range e.PolicyTags() {
		if t == tag {
			return true
		}
	}
	return false
}

// InputsSchema returns the declared input schema.
func (e *Entry) InputsSchema() *schema.Schema {
	if e.Kind == TargetSkill {
		return e.Skill.InputsSchema
	}
	return e.Op.InputsSchema
}

// OutputsSchema returns the declared output schema.
func (e *Entry) OutputsSchema() *schema.Schema {
	if e.Kind == TargetSkill {
		return e.Skill.OutputsSchema
	}
	return e.Op.OutputsSchema
}

// Entrypoint returns the runtime selector, nil for pipeline skills.
func (e *Entry) Entrypoint() *Entrypoint {
	if e.Kind == TargetSkill {
		return e.Skill.Entrypoint
	}
	return e.Op.Entrypoint
}

// CallTargets returns the statically declared call targets of a logic skill.
// Ops and pipelines have none.
func (e *Entry) CallTargets() []CallTargetRef {
	if e.Kind == TargetSkill && e.Skill.Kind == KindLogic {
		return e.Skill.CallTargets
	}
	return nil
}

// Steps returns the ordered pipeline steps, nil for non-pipelines.
func (e *Entry) Steps() []PipelineStep {
	if e.IsPipeline() {
		return e.Skill.Steps
	}
	return nil
}

// Redaction returns the redaction configuration, possibly nil.
func (e *Entry) Redaction() *Redaction {
	if e.Kind == TargetSkill {
		return e.Skill.Redaction
	}
	return e.Op.Redaction
}

// FailureModes returns the declared failure modes.
func (e *Entry) FailureModes() []FailureMode {
	if e.Kind == TargetSkill {
		return e.Skill.FailureModes
	}
	return e.Op.FailureModes
}

// RequiresApproval reports whether executing this entry needs an approval
// artifact: autonomy L1 always does, as does the requires_review policy tag.
func (e *Entry) RequiresApproval() bool {
	return e.Autonomy == AutonomyL1 || e.HasPolicyTag(PolicyTagRequiresReview)
}
