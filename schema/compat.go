package schema

import "fmt"

// Compatible checks that every value accepted by source is also accepted by
// target, using the structural rules applied during pipeline wiring:
//
//   - same base type (a source integer satisfies a target number)
//   - source enum ⊆ target enum
//   - source lower bounds at or above the target's, upper bounds at or below
//   - arrays recurse into items
//   - objects: target required ⊆ source required, per-field schemas recurse,
//     and additionalProperties=false on the target forbids a source that
//     admits unrestricted extra keys
//
// The returned list describes every rule violation found; an empty list means
// the schemas are compatible. path locates the mismatch in error messages.
func Compatible(source, target *Schema, path string) []string {
	if target == nil {
		return nil
	}
	if source == nil {
		return []string{fmt.Sprintf("%s: source schema is undeclared", path)}
	}

	var problems []string
	if target.Type != "" && source.Type != target.Type {
		if !(source.Type == "integer" && target.Type == "number") {
			problems = append(problems, fmt.Sprintf("%s: source type %q does not match target type %q", path, source.Type, target.Type))
			return problems
		}
	}

	if len(target.Enum) > 0 {
		if len(source.Enum) == 0 {
			problems = append(problems, fmt.Sprintf("%s: target restricts values to an enum but source is unrestricted", path))
		} else {
			for _, sv := range source.Enum {
				if !enumContains(target.Enum, sv) {
					problems = append(problems, fmt.Sprintf("%s: source enum value %v is not accepted by target", path, sv))
				}
			}
		}
	}

	problems = append(problems, compatibleBounds(source, target, path)...)

	if target.Type == "array" && target.Items != nil {
		problems = append(problems, Compatible(source.Items, target.Items, path+"[]")...)
	}

	if target.Type == "object" {
		problems = append(problems, compatibleObjects(source, target, path)...)
	}
	return problems
}

func compatibleBounds(source, target *Schema, path string) []string {
	var problems []string
	check := func(name string, src, tgt *int, lower bool) {
		if tgt == nil {
			return
		}
		if src == nil {
			problems = append(problems, fmt.Sprintf("%s: target sets %s=%d but source is unbounded", path, name, *tgt))
			return
		}
		if lower && *src < *tgt {
			problems = append(problems, fmt.Sprintf("%s: source %s=%d below target %s=%d", path, name, *src, name, *tgt))
		}
		if !lower && *src > *tgt {
			problems = append(problems, fmt.Sprintf("%s: source %s=%d above target %s=%d", path, name, *src, name, *tgt))
		}
	}
	check("minLength", source.MinLength, target.MinLength, true)
	check("maxLength", source.MaxLength, target.MaxLength, false)
	check("minItems", source.MinItems, target.MinItems, true)
	check("maxItems", source.MaxItems, target.MaxItems, false)

	if target.Minimum != nil {
		if source.Minimum == nil {
			problems = append(problems, fmt.Sprintf("%s: target sets minimum=%v but source is unbounded", path, *target.Minimum))
		} else if *source.Minimum < *target.Minimum {
			problems = append(problems, fmt.Sprintf("%s: source minimum=%v below target minimum=%v", path, *source.Minimum, *target.Minimum))
		}
	}
	if target.Maximum != nil {
		if source.Maximum == nil {
			problems = append(problems, fmt.Sprintf("%s: target sets maximum=%v but source is unbounded", path, *target.Maximum))
		} else if *source.Maximum > *target.Maximum {
			problems = append(problems, fmt.Sprintf("%s: source maximum=%v above target maximum=%v", path, *source.Maximum, *target.Maximum))
		}
	}
	return problems
}

func compatibleObjects(source, target *Schema, path string) []string {
	var problems []string
	for _, req := range target.Required {
		if !source.IsRequired(req) {
			problems = append(problems, fmt.Sprintf("%s: target requires field %q which source does not guarantee", path, req))
		}
	}
	for name, tsub := range target.Properties {
		ssub := source.Property(name)
		if ssub == nil {
			// Field may legitimately be absent when the target does not
			// require it; required fields are covered above.
			continue
		}
		problems = append(problems, Compatible(ssub, tsub, joinPath(path, name))...)
	}
	// The runtime validator is strict by default once properties are declared,
	// so a target without additionalProperties rejects extra keys too.
	if target.Properties != nil && !target.allowsAdditional() {
		if source.allowsAdditional() {
			problems = append(problems, fmt.Sprintf("%s: target forbids additional properties but source admits unrestricted keys", path))
		}
	}
	return problems
}
