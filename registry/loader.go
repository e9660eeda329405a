package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"goa.design/sor/telemetry"
)

type (
	// Config names the registry source files. Overlay paths are applied in
	// order; paths that do not exist are skipped.
	Config struct {
		SkillsPath       string
		OpsPath          string
		CapabilitiesPath string
		OverlayPaths     []string
	}

	// NativeResolver reports whether a native (in-process) handler is
	// registered for the given module and handler names. The loader uses it
	// to drop disabled entries whose handler cannot resolve in this process.
	NativeResolver func(module, handler string) bool

	// Loader reads the base registries and overlays, publishes immutable
	// Views and reloads when any source file's mtime changes. Safe for
	// concurrent use.
	Loader struct {
		cfg      Config
		logger   telemetry.Logger
		resolver NativeResolver

		// mu serializes reloads; readers take the atomic pointer.
		mu     sync.Mutex
		view   atomic.Pointer[View]
		mtimes map[string]time.Time
	}

	// Option configures a Loader.
	Option func(*Loader)

	skillsFile struct {
		RegistryVersion string             `json:"registry_version"`
		Skills          []*SkillDefinition `json:"skills"`
	}

	opsFile struct {
		RegistryVersion string          `json:"registry_version"`
		Ops             []*OpDefinition `json:"ops"`
	}

	capabilitiesFile struct {
		Capabilities []capabilityRecord `json:"capabilities"`
	}

	// capabilityRecord consumes only the id; other fields are tolerated so
	// capability registries may carry extra documentation.
	capabilityRecord struct {
		ID CapabilityID `json:"id"`
	}
)

// WithLogger sets the loader's diagnostic logger. Defaults to a noop logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithNativeResolver wires the native handler table used to decide whether a
// disabled entry's handler resolves in this process. Without a resolver,
// disabled entries are kept.
func WithNativeResolver(r NativeResolver) Option {
	return func(l *Loader) { l.resolver = r }
}

// NewLoader builds a Loader. Call Load (or any query) to populate the first
// snapshot.
func NewLoader(cfg Config, opts ...Option) *Loader {
	l := &Loader{
		cfg:    cfg,
		logger: telemetry.NewNoopLogger(),
	}
	for _, o := range opts {
		if o != nil {
			o(l)
		}
	}
	return l
}

// Snapshot returns the current registry view, reloading first when any
// source file changed since the last load. Concurrent readers observe either
// the prior or the new view, never a torn state.
func (l *Loader) Snapshot(ctx context.Context) (*View, error) {
	if err := l.maybeReload(ctx); err != nil {
		return nil, err
	}
	return l.view.Load(), nil
}

// Load forces a full reload and atomically publishes the new view.
func (l *Loader) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked(ctx)
}

// List returns entries matching the filter, reloading first when any source
// file changed. See View.List for filter semantics.
func (l *Loader) List(ctx context.Context, filter ListFilter) ([]*Entry, error) {
	view, err := l.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return view.List(filter), nil
}

// GetSkill resolves a skill by name and optional version against the current
// view, reloading first when any source file changed.
func (l *Loader) GetSkill(ctx context.Context, name, version string) (*Entry, error) {
	view, err := l.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return view.GetSkill(name, version)
}

// GetOp resolves an op by name and optional version against the current view,
// reloading first when any source file changed.
func (l *Loader) GetOp(ctx context.Context, name, version string) (*Entry, error) {
	view, err := l.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return view.GetOp(name, version)
}

func (l *Loader) maybeReload(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.view.Load() != nil && !l.sourcesChangedLocked() {
		return nil
	}
	return l.loadLocked(ctx)
}

// sourcesChangedLocked compares current file mtimes with the ones captured
// at the last successful load.
func (l *Loader) sourcesChangedLocked() bool {
	current := l.statSources()
	if len(current) != len(l.mtimes) {
		return true
	}
	for path, mtime := range current {
		if prev, ok := l.mtimes[path]; !ok || !prev.Equal(mtime) {
			return true
		}
	}
	return false
}

func (l *Loader) statSources() map[string]time.Time {
	paths := []string{l.cfg.SkillsPath, l.cfg.OpsPath, l.cfg.CapabilitiesPath}
	paths = append(paths, l.cfg.OverlayPaths...)
	mtimes := make(map[string]time.Time, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		mtimes[path] = info.ModTime()
	}
	return mtimes
}

func (l *Loader) loadLocked(ctx context.Context) error {
	mtimes := l.statSources()

	skills, skillsVersion, err := l.loadSkills()
	if err != nil {
		return err
	}
	ops, opsVersion, err := l.loadOps()
	if err != nil {
		return err
	}
	capabilities, err := l.loadCapabilities()
	if err != nil {
		return err
	}
	known := make(map[CapabilityID]bool, len(capabilities))
	for _, c := range capabilities {
		known[c] = true
	}

	var issues []string
	for _, def := range skills {
		issues = append(issues, validateSkill(def)...)
		issues = append(issues, checkKnownCapabilities("skill", def.Name, def.Version, def.Capabilities, known)...)
	}
	for _, def := range ops {
		issues = append(issues, validateOp(def)...)
		issues = append(issues, checkKnownCapabilities("op", def.Name, def.Version, def.Capabilities, known)...)
	}
	if len(issues) > 0 {
		return &Error{Code: CodeValidationFailed, Message: "registry validation failed", Issues: issues}
	}

	skillEntries := make([]*Entry, 0, len(skills))
	skillIndex := make(map[string][]*Entry)
	for _, def := range skills {
		e := newSkillEntry(def)
		skillEntries = append(skillEntries, e)
		skillIndex[def.Name] = append(skillIndex[def.Name], e)
	}
	opEntries := make([]*Entry, 0, len(ops))
	opIndex := make(map[string][]*Entry)
	for _, def := range ops {
		e := newOpEntry(def)
		opEntries = append(opEntries, e)
		opIndex[def.Name] = append(opIndex[def.Name], e)
	}

	if err := l.applyOverlays(skillIndex, opIndex); err != nil {
		return err
	}

	if issues := checkCallTargets(skills, skillIndex, opIndex); len(issues) > 0 {
		return &Error{Code: CodeValidationFailed, Message: "call target validation failed", Issues: issues}
	}

	if err := l.checkPipelines(skills, skillIndex, opIndex); err != nil {
		return err
	}

	skillEntries = l.filterUnresolvable(ctx, skillEntries)
	opEntries = l.filterUnresolvable(ctx, opEntries)

	l.view.Store(newView(skillsVersion, opsVersion, capabilities, skillEntries, opEntries))
	l.mtimes = mtimes
	l.logger.Debug(ctx, "registry loaded",
		"skills", len(skillEntries),
		"ops", len(opEntries),
		"registry_version", skillsVersion,
	)
	return nil
}

func (l *Loader) loadSkills() ([]*SkillDefinition, string, error) {
	raw, err := readRegistryFile(l.cfg.SkillsPath)
	if err != nil {
		return nil, "", err
	}
	if issues := validateAgainstMeta(skillsMetaSchema, l.cfg.SkillsPath, raw); len(issues) > 0 {
		return nil, "", &Error{Code: CodeValidationFailed, Message: "skill registry rejected", Issues: issues}
	}
	var f skillsFile
	if err := decodeStrict(raw, &f); err != nil {
		return nil, "", newError(CodeValidationFailed, "%s: %v", l.cfg.SkillsPath, err)
	}
	for _, def := range f.Skills {
		if def.Status == "" {
			def.Status = StatusEnabled
		}
	}
	return f.Skills, f.RegistryVersion, nil
}

func (l *Loader) loadOps() ([]*OpDefinition, string, error) {
	raw, err := readRegistryFile(l.cfg.OpsPath)
	if err != nil {
		return nil, "", err
	}
	if issues := validateAgainstMeta(opsMetaSchema, l.cfg.OpsPath, raw); len(issues) > 0 {
		return nil, "", &Error{Code: CodeValidationFailed, Message: "op registry rejected", Issues: issues}
	}
	var f opsFile
	if err := decodeStrict(raw, &f); err != nil {
		return nil, "", newError(CodeValidationFailed, "%s: %v", l.cfg.OpsPath, err)
	}
	for _, def := range f.Ops {
		if def.Status == "" {
			def.Status = StatusEnabled
		}
	}
	return f.Ops, f.RegistryVersion, nil
}

func (l *Loader) loadCapabilities() ([]CapabilityID, error) {
	raw, err := readRegistryFile(l.cfg.CapabilitiesPath)
	if err != nil {
		return nil, err
	}
	if issues := validateAgainstMeta(capabilitiesMetaSchema, l.cfg.CapabilitiesPath, raw); len(issues) > 0 {
		return nil, &Error{Code: CodeValidationFailed, Message: "capability registry rejected", Issues: issues}
	}
	var f capabilitiesFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, newError(CodeValidationFailed, "%s: %v", l.cfg.CapabilitiesPath, err)
	}
	caps := make([]CapabilityID, 0, len(f.Capabilities))
	for _, rec := range f.Capabilities {
		caps = append(caps, rec.ID)
	}
	return caps, nil
}

func (l *Loader) applyOverlays(skillIndex, opIndex map[string][]*Entry) error {
	for _, path := range l.cfg.OverlayPaths {
		raw, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return newError(CodeOverlayFailed, "%s: %v", path, err)
		}
		overlay, problems := parseOverlay(path, raw)
		if len(problems) > 0 {
			return &Error{Code: CodeOverlayFailed, Message: "overlay rejected", Issues: problems}
		}
		for _, o := range overlay.Overrides {
			targets, err := resolveOverride(o, skillIndex, opIndex)
			if err != nil {
				return newError(CodeOverlayFailed, "%s: %v", path, err)
			}
			applyOverride(o, targets)
		}
	}
	return nil
}

// checkPipelines runs static validation for every pipeline skill, filling an
// empty declared capability set from the computed closure and requiring a
// non-empty one to equal it.
func (l *Loader) checkPipelines(skills []*SkillDefinition, skillIndex, opIndex map[string][]*Entry) error {
	resolve := func(ref CallTargetRef) (*Entry, error) {
		if ref.Kind == TargetOp {
			return getEntry(opIndex, TargetOp, ref.Name, ref.Version)
		}
		return getEntry(skillIndex, TargetSkill, ref.Name, ref.Version)
	}
	var issues []string
	for _, def := range skills {
		if def.Kind != KindPipeline {
			continue
		}
		closure, problems := validatePipeline(def, resolve)
		if len(problems) > 0 {
			issues = append(issues, problems...)
			continue
		}
		if len(def.Capabilities) == 0 {
			def.Capabilities = closure
			continue
		}
		if !sameCapabilitySet(def.Capabilities, closure) {
			issues = append(issues, fmt.Sprintf(
				"pipeline %s@%s: declared capabilities %v do not equal computed closure %v",
				def.Name, def.Version, def.Capabilities, closure,
			))
		}
	}
	if len(issues) > 0 {
		return &Error{Code: CodeValidationFailed, Message: "pipeline validation failed", Issues: issues}
	}
	return nil
}

// filterUnresolvable drops disabled entries whose native handler does not
// resolve in this process, with a warning. Entries on other runtimes and
// enabled entries are kept.
func (l *Loader) filterUnresolvable(ctx context.Context, entries []*Entry) []*Entry {
	if l.resolver == nil {
		return entries
	}
	kept := entries[:0]
	for _, e := range entries {
		ep := e.Entrypoint()
		if e.Status == StatusDisabled && ep != nil && ep.Runtime == RuntimeNative && !l.resolver(ep.Module, ep.Handler) {
			l.logger.Warn(ctx, "dropping disabled entry with unresolvable native handler",
				"entry", e.Ident(),
				"module", ep.Module,
				"handler", ep.Handler,
			)
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func readRegistryFile(path string) ([]byte, error) {
	if path == "" {
		return nil, newError(CodeFileNotFound, "registry path is empty")
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, newError(CodeFileNotFound, "registry file %s does not exist", path)
	}
	if err != nil {
		return nil, newError(CodeFileNotFound, "registry file %s: %v", path, err)
	}
	return raw, nil
}

// decodeStrict decodes JSON rejecting unknown fields at every level.
func decodeStrict(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// checkCallTargets verifies that every statically declared call target of a
// logic skill resolves to an entry in the loaded registries.
func checkCallTargets(skills []*SkillDefinition, skillIndex, opIndex map[string][]*Entry) []string {
	var problems []string
	for _, def := range skills {
		if def.Kind != KindLogic {
			continue
		}
		for i, ref := range def.CallTargets {
			index := skillIndex
			if ref.Kind == TargetOp {
				index = opIndex
			}
			versions := index[ref.Name]
			found := len(versions) > 0 && ref.Version == ""
			for _, e := range versions {
				if e.Version() == ref.Version {
					found = true
					break
				}
			}
			if !found {
				problems = append(problems, fmt.Sprintf(
					"skill %s@%s: call_targets[%d]: %s does not resolve to a registered entry",
					def.Name, def.Version, i, ref,
				))
			}
		}
	}
	return problems
}

func checkKnownCapabilities(kind, name, version string, caps []CapabilityID, known map[CapabilityID]bool) []string {
	var problems []string
	for _, c := range caps {
		if !known[c] {
			problems = append(problems, fmt.Sprintf("%s %s@%s: capability %q is not in the capability registry", kind, name, version, c))
		}
	}
	return problems
}

// sameCapabilitySet compares as sets; duplicates collapse.
func sameCapabilitySet(declared, closure []CapabilityID) bool {
	toSet := func(list []CapabilityID) map[CapabilityID]bool {
		m := make(map[CapabilityID]bool, len(list))
		for _, c := range list {
			m[c] = true
		}
		return m
	}
	a, b := toSet(declared), toSet(closure)
	if len(a) != len(b) {
		return false
	}
	for c := range a {
		if !b[c] {
			return false
		}
	}
	return true
}
