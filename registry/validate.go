package registry

import "fmt"

// validateSkill collects every value-level problem with a skill definition.
// An empty result means the definition is well formed.
func validateSkill(def *SkillDefinition) []string {
	at := func(format string, args ...any) string {
		return fmt.Sprintf("skill %s@%s: %s", def.Name, def.Version, fmt.Sprintf(format, args...))
	}
	var problems []string
	problems = append(problems, validateShared(at, sharedFields{
		Name:         def.Name,
		Version:      def.Version,
		Status:       def.Status,
		Autonomy:     def.Autonomy,
		Capabilities: def.Capabilities,
		SideEffects:  def.SideEffects,
		RateLimit:    def.RateLimit,
		FailureModes: def.FailureModes,
		Deprecation:  def.Deprecation,
		// Pipeline capabilities may start empty and be filled from the
		// computed closure during load.
		AllowEmptyCapabilities: def.Kind == KindPipeline,
	})...)

	switch def.Kind {
	case KindLogic:
		if def.Entrypoint == nil {
			problems = append(problems, at("logic skill requires an entrypoint"))
		} else {
			problems = append(problems, validateEntrypoint(at, def.Entrypoint)...)
		}
		if len(def.CallTargets) == 0 {
			problems = append(problems, at("logic skill requires at least one call target"))
		}
		for i, ref := range def.CallTargets {
			problems = append(problems, validateTargetRef(at, fmt.Sprintf("call_targets[%d]", i), ref)...)
		}
		if len(def.Steps) > 0 {
			problems = append(problems, at("logic skill must not declare pipeline steps"))
		}
	case KindPipeline:
		if len(def.Steps) == 0 {
			problems = append(problems, at("pipeline skill requires at least one step"))
		}
		if def.Entrypoint != nil {
			problems = append(problems, at("pipeline skill must not declare an entrypoint"))
		}
		if len(def.CallTargets) > 0 {
			problems = append(problems, at("pipeline skill must not declare call targets"))
		}
		seen := make(map[string]bool, len(def.Steps))
		for i, step := range def.Steps {
			where := fmt.Sprintf("steps[%d]", i)
			if step.StepID == "" {
				problems = append(problems, at("%s: step_id is required", where))
			} else if seen[step.StepID] {
				problems = append(problems, at("%s: duplicate step_id %q", where, step.StepID))
			}
			seen[step.StepID] = true
			problems = append(problems, validateTargetRef(at, where+".target", step.Target)...)
		}
	default:
		problems = append(problems, at("unknown skill kind %q", def.Kind))
	}
	return problems
}

// validateOp collects every value-level problem with an op definition.
func validateOp(def *OpDefinition) []string {
	at := func(format string, args ...any) string {
		return fmt.Sprintf("op %s@%s: %s", def.Name, def.Version, fmt.Sprintf(format, args...))
	}
	var problems []string
	problems = append(problems, validateShared(at, sharedFields{
		Name:         def.Name,
		Version:      def.Version,
		Status:       def.Status,
		Autonomy:     def.Autonomy,
		Capabilities: def.Capabilities,
		SideEffects:  def.SideEffects,
		RateLimit:    def.RateLimit,
		FailureModes: def.FailureModes,
		Deprecation:  def.Deprecation,
	})...)
	if def.Entrypoint == nil {
		problems = append(problems, at("op requires an entrypoint"))
	} else {
		problems = append(problems, validateEntrypoint(at, def.Entrypoint)...)
	}
	return problems
}

type sharedFields struct {
	Name                   string
	Version                string
	Status                 Status
	Autonomy               AutonomyLevel
	Capabilities           []CapabilityID
	SideEffects            []CapabilityID
	RateLimit              *RateLimit
	FailureModes           []FailureMode
	Deprecation            *Deprecation
	AllowEmptyCapabilities bool
}

func validateShared(at func(string, ...any) string, f sharedFields) []string {
	var problems []string
	if !namePattern.MatchString(f.Name) {
		problems = append(problems, at("name must be snake_case"))
	}
	if !semverPattern.MatchString(f.Version) {
		problems = append(problems, at("version must be semver"))
	}
	if !f.Status.Valid() {
		problems = append(problems, at("unknown status %q", f.Status))
	}
	if !f.Autonomy.Valid() {
		problems = append(problems, at("unknown autonomy level %q", f.Autonomy))
	}
	if len(f.Capabilities) == 0 && !f.AllowEmptyCapabilities {
		problems = append(problems, at("at least one capability is required"))
	}
	declared := make(map[CapabilityID]bool, len(f.Capabilities))
	for _, c := range f.Capabilities {
		if !c.Valid() {
			problems = append(problems, at("invalid capability id %q", c))
		}
		declared[c] = true
	}
	for _, c := range f.SideEffects {
		if !declared[c] {
			problems = append(problems, at("side effect %q is not a declared capability", c))
		}
	}
	if f.RateLimit != nil && f.RateLimit.MaxPerMinute < 1 {
		problems = append(problems, at("rate_limit.max_per_minute must be >= 1"))
	}
	if len(f.FailureModes) == 0 {
		problems = append(problems, at("at least one failure mode is required"))
	}
	codes := make(map[string]bool, len(f.FailureModes))
	for _, fm := range f.FailureModes {
		if !namePattern.MatchString(fm.Code) {
			problems = append(problems, at("failure mode code %q must be snake_case", fm.Code))
		}
		if codes[fm.Code] {
			problems = append(problems, at("duplicate failure mode code %q", fm.Code))
		}
		codes[fm.Code] = true
	}
	if f.Status == StatusDeprecated && f.Deprecation == nil {
		problems = append(problems, at("deprecated entries require deprecation metadata"))
	}
	if f.Deprecation != nil && f.Deprecation.Reason == "" {
		problems = append(problems, at("deprecation metadata requires a reason"))
	}
	return problems
}

// validateEntrypoint enforces the fields each runtime selector demands and
// rejects fields belonging to other selectors.
func validateEntrypoint(at func(string, ...any) string, ep *Entrypoint) []string {
	var problems []string
	requires := func(field, value string) {
		if value == "" {
			problems = append(problems, at("entrypoint runtime %q requires %s", ep.Runtime, field))
		}
	}
	forbids := func(field, value string) {
		if value != "" {
			problems = append(problems, at("entrypoint runtime %q does not accept %s", ep.Runtime, field))
		}
	}
	switch ep.Runtime {
	case RuntimeNative:
		requires("module", ep.Module)
		requires("handler", ep.Handler)
		forbids("url", ep.URL)
		forbids("command", ep.Command)
		forbids("tool", ep.Tool)
	case RuntimeHTTP:
		requires("url", ep.URL)
		forbids("module", ep.Module)
		forbids("handler", ep.Handler)
		forbids("command", ep.Command)
		forbids("tool", ep.Tool)
	case RuntimeScript:
		requires("command", ep.Command)
		forbids("module", ep.Module)
		forbids("handler", ep.Handler)
		forbids("url", ep.URL)
		forbids("tool", ep.Tool)
	case RuntimeMCP:
		requires("tool", ep.Tool)
		forbids("module", ep.Module)
		forbids("handler", ep.Handler)
		forbids("url", ep.URL)
		forbids("command", ep.Command)
	default:
		problems = append(problems, at("unknown entrypoint runtime %q", ep.Runtime))
	}
	return problems
}

func validateTargetRef(at func(string, ...any) string, where string, ref CallTargetRef) []string {
	var problems []string
	if ref.Kind != TargetSkill && ref.Kind != TargetOp {
		problems = append(problems, at("%s: unknown target kind %q", where, ref.Kind))
	}
	if !namePattern.MatchString(ref.Name) {
		problems = append(problems, at("%s: target name must be snake_case", where))
	}
	if ref.Version != "" && !semverPattern.MatchString(ref.Version) {
		problems = append(problems, at("%s: target version must be semver", where))
	}
	return problems
}
