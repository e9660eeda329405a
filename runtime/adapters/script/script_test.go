package script

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/sor/registry"
	"goa.design/sor/runtime"
)

func scriptCall(command string, inputs map[string]any) *runtime.AdapterCall {
	return &runtime.AdapterCall{
		Entry: &registry.Entry{
			Kind: registry.TargetOp,
			Op: &registry.OpDefinition{
				Name:       "shell",
				Version:    "1.0.0",
				Entrypoint: &registry.Entrypoint{Runtime: registry.RuntimeScript, Command: command},
			},
		},
		Inputs: inputs,
	}
}

func TestExecuteRoundTrip(t *testing.T) {
	t.Parallel()
	// cat echoes stdin, so the decoded outputs equal the inputs.
	out, err := New().Execute(context.Background(), scriptCall("cat", map[string]any{"msg": "hi"}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"msg": "hi"}, out)
}

func TestExecuteCommandFails(t *testing.T) {
	t.Parallel()
	_, err := New().Execute(context.Background(), scriptCall("false", nil))
	assert.True(t, runtime.IsCode(err, runtime.CodeToolCallFailed), "got %v", err)
}

func TestExecuteInvalidOutput(t *testing.T) {
	t.Parallel()
	_, err := New().Execute(context.Background(), scriptCall("echo not-json", nil))
	assert.True(t, runtime.IsCode(err, runtime.CodeToolCallFailed), "got %v", err)
}

func TestExecuteCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New().Execute(ctx, scriptCall("sleep 10", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteInvalidEntrypoint(t *testing.T) {
	t.Parallel()
	_, err := New().Execute(context.Background(), scriptCall("   ", nil))
	assert.True(t, runtime.IsCode(err, runtime.CodeInvalidEntrypoint), "got %v", err)
}
