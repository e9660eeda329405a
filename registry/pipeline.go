package registry

import (
	"fmt"
	"sort"
	"strings"

	"goa.design/sor/schema"
)

// Source and destination expression prefixes used in pipeline step wiring.
const (
	ExprInputs  = "$inputs."
	ExprStep    = "$step."
	ExprOutputs = "$outputs."
)

// SplitStepExpr splits a "$step.<id>.<field>" expression into its step id and
// field. ok is false when the expression has a different shape.
func SplitStepExpr(expr string) (stepID, field string, ok bool) {
	rest, found := strings.CutPrefix(expr, ExprStep)
	if !found {
		return "", "", false
	}
	stepID, field, found = strings.Cut(rest, ".")
	if !found || stepID == "" || field == "" {
		return "", "", false
	}
	return stepID, field, true
}

// validatePipeline statically checks a pipeline skill against the resolved
// registries: every step target must resolve, every wiring expression must
// reference a declared field, and every source schema must be structurally
// compatible with its target schema. It returns the computed capability
// closure (union of resolved step capabilities) and the list of problems.
func validatePipeline(def *SkillDefinition, resolve func(CallTargetRef) (*Entry, error)) ([]CapabilityID, []string) {
	at := func(format string, args ...any) string {
		return fmt.Sprintf("pipeline %s@%s: %s", def.Name, def.Version, fmt.Sprintf(format, args...))
	}
	var problems []string
	closure := make(map[CapabilityID]bool)

	// available tracks, per step id, the output fields later steps may
	// consume and their schemas. Step destinations of the form
	// $step.<id>.<field> extend it.
	available := make(map[string]map[string]*schema.Schema)

	// mappedOutputs tracks which pipeline output fields have a producer.
	mappedOutputs := make(map[string]bool)

	for i, step := range def.Steps {
		where := fmt.Sprintf("steps[%d] (%s)", i, step.StepID)
		target, err := resolve(step.Target)
		if err != nil {
			problems = append(problems, at("%s: target %s: %v", where, step.Target, err))
			continue
		}
		for _, c := range target.Capabilities() {
			closure[c] = true
		}

		problems = append(problems, checkStepInputs(at, where, def, step, target, available)...)
		stepProblems, produced := checkStepOutputs(at, where, def, step, target, mappedOutputs)
		problems = append(problems, stepProblems...)

		if available[step.StepID] == nil {
			available[step.StepID] = make(map[string]*schema.Schema)
		}
		for field, s := range produced {
			available[step.StepID][field] = s
		}
	}

	if def.OutputsSchema != nil {
		for _, req := range def.OutputsSchema.Required {
			if !mappedOutputs[req] {
				problems = append(problems, at("required output %q is not produced by any step", req))
			}
		}
	}

	caps := make([]CapabilityID, 0, len(closure))
	for c := range closure {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps, problems
}

func checkStepInputs(at func(string, ...any) string, where string, def *SkillDefinition, step PipelineStep, target *Entry, available map[string]map[string]*schema.Schema) []string {
	var problems []string
	targetInputs := target.InputsSchema()

	if targetInputs != nil {
		for _, req := range targetInputs.Required {
			if _, ok := step.Inputs[req]; !ok {
				problems = append(problems, at("%s: required input %q of target %s is not mapped", where, req, target.Ident()))
			}
		}
	}

	for field, expr := range step.Inputs {
		targetSchema := targetInputs.Property(field)
		if targetSchema == nil {
			problems = append(problems, at("%s: input %q is not declared by target %s", where, field, target.Ident()))
			continue
		}
		source, problem := resolveSourceSchema(def, expr, available)
		if problem != "" {
			problems = append(problems, at("%s: input %q: %s", where, field, problem))
			continue
		}
		for _, p := range schema.Compatible(source, targetSchema, field) {
			problems = append(problems, at("%s: input %q: %s", where, field, p))
		}
	}
	return problems
}

func checkStepOutputs(at func(string, ...any) string, where string, def *SkillDefinition, step PipelineStep, target *Entry, mappedOutputs map[string]bool) ([]string, map[string]*schema.Schema) {
	var problems []string
	produced := make(map[string]*schema.Schema)
	targetOutputs := target.OutputsSchema()

	// Every declared output of the target is available to later steps under
	// this step's own id, whether or not it is explicitly mapped.
	for name, s := range targetOutputs.Properties {
		produced[name] = s
	}

	for field, expr := range step.Outputs {
		fieldSchema := targetOutputs.Property(field)
		if fieldSchema == nil {
			problems = append(problems, at("%s: output %q is not declared by target %s", where, field, target.Ident()))
			continue
		}
		switch {
		case strings.HasPrefix(expr, ExprOutputs):
			name := strings.TrimPrefix(expr, ExprOutputs)
			pipelineField := def.OutputsSchema.Property(name)
			if pipelineField == nil {
				problems = append(problems, at("%s: output %q maps to undeclared pipeline output %q", where, field, name))
				continue
			}
			for _, p := range schema.Compatible(fieldSchema, pipelineField, name) {
				problems = append(problems, at("%s: output %q: %s", where, field, p))
			}
			mappedOutputs[name] = true
		case strings.HasPrefix(expr, ExprStep):
			stepID, aliasField, ok := SplitStepExpr(expr)
			if !ok {
				problems = append(problems, at("%s: output %q has invalid destination %q", where, field, expr))
				continue
			}
			// A step may only publish aliases under its own namespace.
			if stepID != step.StepID {
				problems = append(problems, at("%s: output %q destination %q must use step id %q", where, field, expr, step.StepID))
				continue
			}
			produced[aliasField] = fieldSchema
		default:
			problems = append(problems, at("%s: output %q has invalid destination %q", where, field, expr))
		}
	}
	return problems, produced
}

// resolveSourceSchema resolves a step input source expression to the schema
// that produces it, or describes why it cannot.
func resolveSourceSchema(def *SkillDefinition, expr string, available map[string]map[string]*schema.Schema) (*schema.Schema, string) {
	switch {
	case strings.HasPrefix(expr, ExprInputs):
		name := strings.TrimPrefix(expr, ExprInputs)
		s := def.InputsSchema.Property(name)
		if s == nil {
			return nil, fmt.Sprintf("source %q references undeclared pipeline input %q", expr, name)
		}
		return s, ""
	case strings.HasPrefix(expr, ExprStep):
		stepID, field, ok := SplitStepExpr(expr)
		if !ok {
			return nil, fmt.Sprintf("invalid source expression %q", expr)
		}
		fields, ok := available[stepID]
		if !ok {
			return nil, fmt.Sprintf("source %q references step %q which has not run yet", expr, stepID)
		}
		s, ok := fields[field]
		if !ok {
			return nil, fmt.Sprintf("source %q references undeclared output %q of step %q", expr, field, stepID)
		}
		return s, ""
	default:
		return nil, fmt.Sprintf("invalid source expression %q", expr)
	}
}
