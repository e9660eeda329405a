package registry

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed metaschema/*.json
var metaschemaFS embed.FS

// compiled meta-schemas, built once at package init. A failure here is a
// packaging bug, not a runtime condition.
var (
	skillsMetaSchema       = mustCompileMeta("metaschema/skills.json")
	opsMetaSchema          = mustCompileMeta("metaschema/ops.json")
	capabilitiesMetaSchema = mustCompileMeta("metaschema/capabilities.json")
)

func mustCompileMeta(name string) *jsonschema.Schema {
	raw, err := metaschemaFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("registry: read embedded meta-schema %s: %v", name, err))
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		panic(fmt.Sprintf("registry: parse embedded meta-schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("registry: add meta-schema resource %s: %v", name, err))
	}
	compiled, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("registry: compile meta-schema %s: %v", name, err))
	}
	return compiled
}

// validateAgainstMeta checks the raw registry document against the embedded
// meta-schema before typed decoding, so malformed documents fail with a
// structural report instead of a decoder error.
func validateAgainstMeta(meta *jsonschema.Schema, path string, raw []byte) []string {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []string{fmt.Sprintf("%s: invalid JSON: %v", path, err)}
	}
	if err := meta.Validate(doc); err != nil {
		return []string{fmt.Sprintf("%s: %v", path, err)}
	}
	return nil
}
