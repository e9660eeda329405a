package httpcall

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/sor/registry"
	"goa.design/sor/runtime"
)

func httpCall(url string, inputs map[string]any) *runtime.AdapterCall {
	return &runtime.AdapterCall{
		Entry: &registry.Entry{
			Kind: registry.TargetOp,
			Op: &registry.OpDefinition{
				Name:       "webhook",
				Version:    "1.0.0",
				Entrypoint: &registry.Entrypoint{Runtime: registry.RuntimeHTTP, URL: url},
			},
		},
		Inputs: inputs,
	}
}

func TestExecutePostsInputs(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hi", body["msg"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	out, err := New().Execute(context.Background(), httpCall(srv.URL, map[string]any{"msg": "hi"}))
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
}

func TestExecuteNon2xx(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New().Execute(context.Background(), httpCall(srv.URL, nil))
	require.Error(t, err)
	re, ok := runtime.AsError(err)
	require.True(t, ok)
	assert.Equal(t, runtime.CodeToolCallFailed, re.Code)
	assert.Equal(t, http.StatusBadGateway, re.Meta["status"])
	assert.Contains(t, re.Meta["body"], "boom")
}

func TestExecuteInvalidResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := New().Execute(context.Background(), httpCall(srv.URL, nil))
	assert.True(t, runtime.IsCode(err, runtime.CodeToolCallFailed), "got %v", err)
}

func TestExecuteRateLimited(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	a := New(WithRateLimit(1000, 1))
	for i := 0; i < 3; i++ {
		_, err := a.Execute(context.Background(), httpCall(srv.URL, nil))
		require.NoError(t, err)
	}
}

func TestExecuteInvalidEntrypoint(t *testing.T) {
	t.Parallel()
	_, err := New().Execute(context.Background(), httpCall("", nil))
	assert.True(t, runtime.IsCode(err, runtime.CodeInvalidEntrypoint), "got %v", err)
}
