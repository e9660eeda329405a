// Command sor runs a self-contained demonstration of the skill execution
// runtime: it loads a small registry, registers native handlers and executes
// a skill end to end, printing the outputs and the audit trail to stderr.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"goa.design/clue/log"

	"goa.design/sor/registry"
	"goa.design/sor/runtime"
	"goa.design/sor/runtime/adapters/native"
	"goa.design/sor/telemetry"
)

const demoCapabilities = `{
  "capabilities": [
    {"id": "text.transform"}
  ]
}`

const demoOps = `{
  "registry_version": "1.0.0",
  "ops": []
}`

const demoSkills = `{
  "registry_version": "1.0.0",
  "skills": [
    {
      "name": "greet",
      "version": "1.0.0",
      "kind": "logic",
      "status": "enabled",
      "autonomy": "L2",
      "capabilities": ["text.transform"],
      "inputs_schema": {
        "type": "object",
        "required": ["name"],
        "properties": {"name": {"type": "string"}}
      },
      "outputs_schema": {
        "type": "object",
        "required": ["greeting"],
        "properties": {"greeting": {"type": "string"}}
      },
      "entrypoint": {"runtime": "python", "module": "demo", "handler": "greet"},
      "failure_modes": [{"code": "greet_failed", "retryable": false}]
    }
  ]
}`

func main() {
	var (
		skillsPath = flag.String("skills", "", "skill registry JSON (defaults to a built-in demo registry)")
		opsPath    = flag.String("ops", "", "op registry JSON")
		capsPath   = flag.String("capabilities", "", "capability registry JSON")
		overlay    = flag.String("overlay", "", "optional YAML overlay")
		skill      = flag.String("skill", "greet", "skill to execute")
		inputsJSON = flag.String("inputs", `{"name": "world"}`, "skill inputs as a JSON object")
		actor      = flag.String("actor", "operator", "requesting actor")
		channel    = flag.String("channel", "cli", "delivery channel")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *debug {
		ctx = log.Context(ctx, log.WithDebug())
	}

	if *skillsPath == "" {
		dir, err := writeDemoRegistry()
		if err != nil {
			log.Fatal(ctx, err)
		}
		defer os.RemoveAll(dir)
		*skillsPath = filepath.Join(dir, "skills.json")
		*opsPath = filepath.Join(dir, "ops.json")
		*capsPath = filepath.Join(dir, "capabilities.json")
	}

	var inputs map[string]any
	if err := json.Unmarshal([]byte(*inputsJSON), &inputs); err != nil {
		log.Fatal(ctx, fmt.Errorf("parse -inputs: %w", err))
	}

	adapter := native.New()
	adapter.Register("demo", "greet", func(_ context.Context, in map[string]any, _ *runtime.Invoker) (map[string]any, error) {
		name, _ := in["name"].(string)
		return map[string]any{"greeting": "hello, " + name}, nil
	})

	cfg := registry.Config{
		SkillsPath:       *skillsPath,
		OpsPath:          *opsPath,
		CapabilitiesPath: *capsPath,
	}
	if *overlay != "" {
		cfg.OverlayPaths = []string{*overlay}
	}
	loader := registry.NewLoader(cfg,
		registry.WithLogger(telemetry.NewClueLogger()),
		registry.WithNativeResolver(adapter.Resolves),
	)
	if err := loader.Load(ctx); err != nil {
		log.Fatal(ctx, err)
	}

	rt := runtime.New(loader,
		runtime.WithAdapter(registry.RuntimeNative, adapter),
		runtime.WithLogger(telemetry.NewClueLogger()),
		runtime.WithMetrics(telemetry.NewClueMetrics()),
		runtime.WithTracer(telemetry.NewClueTracer()),
	)

	view, err := loader.Snapshot(ctx)
	if err != nil {
		log.Fatal(ctx, err)
	}
	sc := runtime.NewContext(
		runtime.WithCapabilities(view.Capabilities...),
		runtime.WithActor(*actor),
		runtime.WithChannel(*channel),
	)

	res, err := rt.ExecuteSkill(ctx, *skill, "", inputs, sc)
	if err != nil {
		log.Fatal(ctx, err)
	}
	out, err := json.MarshalIndent(res.Output, "", "  ")
	if err != nil {
		log.Fatal(ctx, err)
	}
	fmt.Println(string(out))
}

// writeDemoRegistry lays the built-in demo registry out in a temp dir.
func writeDemoRegistry() (string, error) {
	dir, err := os.MkdirTemp("", "sor-demo-*")
	if err != nil {
		return "", err
	}
	files := map[string]string{
		"skills.json":       demoSkills,
		"ops.json":          demoOps,
		"capabilities.json": demoCapabilities,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}
	return dir, nil
}
