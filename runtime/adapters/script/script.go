// Package script executes entries as subprocesses. Inputs are written to the
// child's stdin as a JSON object; the child prints a JSON object of outputs
// on stdout and exits zero on success.
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"goa.design/sor/registry"
	"goa.design/sor/runtime"
)

type (
	// Adapter dispatches the "script" runtime selector.
	Adapter struct {
		env []string
	}

	// Option configures an Adapter.
	Option func(*Adapter)
)

// WithEnv sets the environment passed to every subprocess. Defaults to the
// parent environment.
func WithEnv(env []string) Option {
	return func(a *Adapter) { a.env = env }
}

// New builds a script adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}
	return a
}

// Execute implements runtime.Adapter. Context cancellation kills the child.
func (a *Adapter) Execute(ctx context.Context, call *runtime.AdapterCall) (map[string]any, error) {
	ep := call.Entry.Entrypoint()
	if ep == nil || ep.Runtime != registry.RuntimeScript || strings.TrimSpace(ep.Command) == "" {
		return nil, runtime.Errorf(runtime.KindAdapter, runtime.CodeInvalidEntrypoint,
			"%s has no script command entrypoint", call.Entry.Ident())
	}

	stdin, err := json.Marshal(call.Inputs)
	if err != nil {
		return nil, runtime.WrapErrorf(runtime.KindAdapter, runtime.CodeToolCallFailed, err,
			"encode inputs for %s", call.Entry.Ident())
	}

	argv := strings.Fields(ep.Command)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(stdin)
	if a.env != nil {
		cmd.Env = a.env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, runtime.WrapErrorf(runtime.KindAdapter, runtime.CodeToolCallFailed, err,
			"%s exited abnormally", argv[0]).
			WithMeta("stderr", truncate(stderr.String(), 1024))
	}

	var out map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, runtime.WrapErrorf(runtime.KindAdapter, runtime.CodeToolCallFailed, err,
			"%s printed invalid JSON", argv[0])
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
