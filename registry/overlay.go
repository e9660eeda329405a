package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type (
	// overlayFile is the YAML document shape. Unknown keys anywhere in the
	// document fail validation (KnownFields on the decoder).
	overlayFile struct {
		OverlayVersion string            `yaml:"overlay_version"`
		Overrides      []overlayOverride `yaml:"overrides"`
	}

	// overlayOverride mutates only the policy surface of an entry: status,
	// autonomy, rate limit, channel and actor lists.
	overlayOverride struct {
		Kind      string         `yaml:"kind,omitempty"`
		Name      string         `yaml:"name"`
		Version   string         `yaml:"version,omitempty"`
		Status    string         `yaml:"status,omitempty"`
		Autonomy  string         `yaml:"autonomy,omitempty"`
		RateLimit *RateLimit     `yaml:"rate_limit,omitempty"`
		Channels  *ChannelPolicy `yaml:"channels,omitempty"`
		Actors    *ActorPolicy   `yaml:"actors,omitempty"`
	}
)

// parseOverlay decodes and validates one overlay document.
func parseOverlay(path string, data []byte) (*overlayFile, []string) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f overlayFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, []string{fmt.Sprintf("%s: %v", path, err)}
	}
	var problems []string
	if f.OverlayVersion == "" {
		problems = append(problems, fmt.Sprintf("%s: overlay_version is required", path))
	}
	for i, o := range f.Overrides {
		at := func(format string, args ...any) string {
			return fmt.Sprintf("%s: overrides[%d] (%s): %s", path, i, o.Name, fmt.Sprintf(format, args...))
		}
		if o.Name == "" {
			problems = append(problems, at("name is required"))
		}
		if o.Kind != "" && o.Kind != string(TargetSkill) && o.Kind != string(TargetOp) {
			problems = append(problems, at("unknown kind %q", o.Kind))
		}
		if o.Version != "" && !semverPattern.MatchString(o.Version) {
			problems = append(problems, at("version must be semver"))
		}
		// Overlays may only enable or disable; deprecation is a definition
		// concern.
		if o.Status != "" && o.Status != string(StatusEnabled) && o.Status != string(StatusDisabled) {
			problems = append(problems, at("status must be enabled or disabled, got %q", o.Status))
		}
		if o.Autonomy != "" && !AutonomyLevel(o.Autonomy).Valid() {
			problems = append(problems, at("unknown autonomy level %q", o.Autonomy))
		}
		if o.RateLimit != nil && o.RateLimit.MaxPerMinute < 1 {
			problems = append(problems, at("rate_limit.max_per_minute must be >= 1"))
		}
	}
	return &f, problems
}

// resolveOverride finds the entries an override targets. An override without
// a kind must resolve unambiguously: a name present in both registries needs
// an explicit kind.
func resolveOverride(o overlayOverride, skills, ops map[string][]*Entry) ([]*Entry, error) {
	pick := func(index map[string][]*Entry) []*Entry {
		versions := index[o.Name]
		if o.Version == "" {
			return versions
		}
		for _, e := range versions {
			if e.Version() == o.Version {
				return []*Entry{e}
			}
		}
		return nil
	}

	switch o.Kind {
	case string(TargetSkill):
		if targets := pick(skills); len(targets) > 0 {
			return targets, nil
		}
	case string(TargetOp):
		if targets := pick(ops); len(targets) > 0 {
			return targets, nil
		}
	default:
		inSkills := pick(skills)
		inOps := pick(ops)
		if len(inSkills) > 0 && len(inOps) > 0 {
			return nil, fmt.Errorf("override %q matches both a skill and an op, set kind", o.Name)
		}
		if len(inSkills) > 0 {
			return inSkills, nil
		}
		if len(inOps) > 0 {
			return inOps, nil
		}
	}
	if o.Version != "" {
		return nil, fmt.Errorf("override targets unknown entry %s@%s", o.Name, o.Version)
	}
	return nil, fmt.Errorf("override targets unknown entry %q", o.Name)
}

// applyOverride mutates the overlay-controlled fields of each target entry.
func applyOverride(o overlayOverride, targets []*Entry) {
	for _, e := range targets {
		if o.Status != "" {
			e.Status = Status(o.Status)
		}
		if o.Autonomy != "" {
			e.Autonomy = AutonomyLevel(o.Autonomy)
		}
		if o.RateLimit != nil {
			limit := *o.RateLimit
			e.RateLimit = &limit
		}
		if o.Channels != nil {
			channels := *o.Channels
			e.Channels = &channels
		}
		if o.Actors != nil {
			actors := *o.Actors
			e.Actors = &actors
		}
	}
}
