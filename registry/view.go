package registry

// View is an immutable snapshot of the merged registries. Concurrent readers
// hold the same snapshot for the duration of a call; a reload publishes a
// fresh View and never mutates an existing one.
type View struct {
	// Version is the skills registry_version; OpsVersion the ops file's.
	Version    string
	OpsVersion string

	// Capabilities lists the capability registry ids in file order.
	Capabilities []CapabilityID

	skills map[string][]*Entry
	ops    map[string][]*Entry

	// ordered keeps deterministic listing order (skills then ops, file
	// order preserved).
	ordered []*Entry
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	// Status keeps only entries in the given lifecycle state.
	Status Status
	// Capability keeps only entries declaring the given capability.
	Capability CapabilityID
	// Kind keeps only skills or only ops.
	Kind TargetKind
}

func newView(version, opsVersion string, capabilities []CapabilityID, skills, ops []*Entry) *View {
	v := &View{
		Version:      version,
		OpsVersion:   opsVersion,
		Capabilities: capabilities,
		skills:       make(map[string][]*Entry),
		ops:          make(map[string][]*Entry),
	}
	for _, e := range skills {
		v.skills[e.Name()] = append(v.skills[e.Name()], e)
		v.ordered = append(v.ordered, e)
	}
	for _, e := range ops {
		v.ops[e.Name()] = append(v.ops[e.Name()], e)
		v.ordered = append(v.ordered, e)
	}
	return v
}

// List returns every entry matching the filter.
func (v *View) List(filter ListFilter) []*Entry {
	var out []*Entry
	for _, e := range v.ordered {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if filter.Capability != "" && !hasCapability(e, filter.Capability) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// GetSkill resolves a skill by name and optional version. With an empty
// version, a single registered version is returned directly and multiple
// versions produce an ambiguous_version failure.
func (v *View) GetSkill(name, version string) (*Entry, error) {
	return getEntry(v.skills, TargetSkill, name, version)
}

// GetOp resolves an op by name and optional version with the same semantics
// as GetSkill.
func (v *View) GetOp(name, version string) (*Entry, error) {
	return getEntry(v.ops, TargetOp, name, version)
}

// Resolve resolves a call target reference against the snapshot.
func (v *View) Resolve(ref CallTargetRef) (*Entry, error) {
	if ref.Kind == TargetOp {
		return v.GetOp(ref.Name, ref.Version)
	}
	return v.GetSkill(ref.Name, ref.Version)
}

func getEntry(index map[string][]*Entry, kind TargetKind, name, version string) (*Entry, error) {
	notFound := CodeSkillNotFound
	if kind == TargetOp {
		notFound = CodeOpNotFound
	}
	versions := index[name]
	if len(versions) == 0 {
		return nil, newError(notFound, "no %s named %q", kind, name)
	}
	if version == "" {
		if len(versions) > 1 {
			return nil, newError(CodeAmbiguousVersion, "%s %q has %d versions, a version is required", kind, name, len(versions))
		}
		return versions[0], nil
	}
	for _, e := range versions {
		if e.Version() == version {
			return e, nil
		}
	}
	return nil, newError(notFound, "no %s %s@%s", kind, name, version)
}

func hasCapability(e *Entry, c CapabilityID) bool {
	for _, have := range e.Capabilities() {
		if have == c {
			return true
		}
	}
	return false
}
