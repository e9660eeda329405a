package runtime

import (
	"context"
	"strings"

	"goa.design/sor/registry"
)

// interpretPipeline runs a pipeline skill's steps strictly in declaration
// order. Each step's inputs are materialized from the pipeline inputs and
// earlier step outputs, the step target executes as a full child invocation,
// and declared outputs are projected into the step namespace and the overall
// pipeline output.
func (r *Runtime) interpretPipeline(ctx context.Context, view *registry.View, entry *registry.Entry, inputs map[string]any, sc *Context) (map[string]any, error) {
	stepOutputs := make(map[string]map[string]any)
	pipelineOut := make(map[string]any)

	for _, step := range entry.Steps() {
		target, err := view.Resolve(step.Target)
		if err != nil {
			return nil, wrapError(KindRegistry, registry.ErrorCode(err), err,
				"pipeline %s step %s: resolve target %s", entry.Ident(), step.StepID, step.Target)
		}

		stepInputs := make(map[string]any, len(step.Inputs))
		for field, expr := range step.Inputs {
			v, rerr := resolveSource(entry, step.StepID, field, expr, inputs, stepOutputs)
			if rerr != nil {
				return nil, rerr
			}
			stepInputs[field] = v
		}

		res, err := r.executeEntry(ctx, view, target, stepInputs, sc.Child(target.Capabilities()))
		if err != nil {
			return nil, err
		}

		// Every field the target returned is visible to later steps under
		// this step's id; explicit mappings add aliases and pipeline outputs.
		outs := make(map[string]any, len(res.Output))
		for k, v := range res.Output {
			outs[k] = v
		}
		for field, dest := range step.Outputs {
			v, ok := res.Output[field]
			if !ok {
				return nil, newError(KindPipeline, CodePipelineOutputMissing,
					"pipeline %s step %s: target %s returned no output %q",
					entry.Ident(), step.StepID, target.Ident(), field).
					withMeta("step_id", step.StepID).
					withMeta("field", field)
			}
			switch {
			case strings.HasPrefix(dest, registry.ExprOutputs):
				pipelineOut[strings.TrimPrefix(dest, registry.ExprOutputs)] = v
			case strings.HasPrefix(dest, registry.ExprStep):
				_, alias, ok := registry.SplitStepExpr(dest)
				if !ok {
					return nil, newError(KindPipeline, CodePipelineSourceInvalid,
						"pipeline %s step %s: invalid destination %q", entry.Ident(), step.StepID, dest)
				}
				outs[alias] = v
			default:
				return nil, newError(KindPipeline, CodePipelineSourceInvalid,
					"pipeline %s step %s: invalid destination %q", entry.Ident(), step.StepID, dest)
			}
		}
		stepOutputs[step.StepID] = outs
	}
	return pipelineOut, nil
}

// resolveSource materializes one step input source expression.
func resolveSource(entry *registry.Entry, stepID, field, expr string, inputs map[string]any, stepOutputs map[string]map[string]any) (any, error) {
	switch {
	case strings.HasPrefix(expr, registry.ExprInputs):
		name := strings.TrimPrefix(expr, registry.ExprInputs)
		v, ok := inputs[name]
		if !ok {
			return nil, newError(KindPipeline, CodePipelineInputMissing,
				"pipeline %s step %s: input %q needs pipeline input %q which was not provided",
				entry.Ident(), stepID, field, name).
				withMeta("step_id", stepID).
				withMeta("field", name)
		}
		return v, nil
	case strings.HasPrefix(expr, registry.ExprStep):
		srcStep, srcField, ok := registry.SplitStepExpr(expr)
		if !ok {
			return nil, newError(KindPipeline, CodePipelineSourceInvalid,
				"pipeline %s step %s: invalid source %q", entry.Ident(), stepID, expr)
		}
		outs, ok := stepOutputs[srcStep]
		if !ok {
			return nil, newError(KindPipeline, CodePipelineSourceMissingStep,
				"pipeline %s step %s: source %q references step %q which has not run",
				entry.Ident(), stepID, expr, srcStep).
				withMeta("step_id", srcStep)
		}
		v, ok := outs[srcField]
		if !ok {
			return nil, newError(KindPipeline, CodePipelineSourceMissingField,
				"pipeline %s step %s: step %q produced no field %q",
				entry.Ident(), stepID, srcStep, srcField).
				withMeta("step_id", srcStep).
				withMeta("field", srcField)
		}
		return v, nil
	default:
		return nil, newError(KindPipeline, CodePipelineSourceInvalid,
			"pipeline %s step %s: invalid source %q", entry.Ident(), stepID, expr)
	}
}
