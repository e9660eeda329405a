// Package httpcall executes entries whose entrypoint names an HTTP endpoint.
// Inputs are POSTed as a JSON object and the response body is decoded as the
// entry outputs. An optional token-bucket limiter throttles outbound calls
// across all entries sharing the adapter.
package httpcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"goa.design/sor/registry"
	"goa.design/sor/runtime"
)

type (
	// Adapter dispatches the "http" runtime selector.
	Adapter struct {
		client  *http.Client
		limiter *rate.Limiter
	}

	// Option configures an Adapter.
	Option func(*Adapter)
)

// WithClient replaces the HTTP client. The client should not set its own
// timeout; the runtime bounds each call through the request context.
func WithClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// WithRateLimit throttles outbound calls to rps requests per second with the
// given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(a *Adapter) { a.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New builds an HTTP adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{client: http.DefaultClient}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}
	return a
}

// Execute implements runtime.Adapter.
func (a *Adapter) Execute(ctx context.Context, call *runtime.AdapterCall) (map[string]any, error) {
	ep := call.Entry.Entrypoint()
	if ep == nil || ep.Runtime != registry.RuntimeHTTP || ep.URL == "" {
		return nil, runtime.Errorf(runtime.KindAdapter, runtime.CodeInvalidEntrypoint,
			"%s has no http url entrypoint", call.Entry.Ident())
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(call.Inputs)
	if err != nil {
		return nil, runtime.WrapErrorf(runtime.KindAdapter, runtime.CodeToolCallFailed, err,
			"encode inputs for %s", call.Entry.Ident())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, runtime.WrapErrorf(runtime.KindAdapter, runtime.CodeToolCallFailed, err,
			"build request for %s", call.Entry.Ident())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, runtime.WrapErrorf(runtime.KindAdapter, runtime.CodeToolCallFailed, err,
			"call %s", ep.URL)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, runtime.WrapErrorf(runtime.KindAdapter, runtime.CodeToolCallFailed, err,
			"read response from %s", ep.URL)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, runtime.Errorf(runtime.KindAdapter, runtime.CodeToolCallFailed,
			"%s returned status %d", ep.URL, resp.StatusCode).
			WithMeta("status", resp.StatusCode).
			WithMeta("body", truncate(payload, 1024))
	}

	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, runtime.WrapErrorf(runtime.KindAdapter, runtime.CodeToolCallFailed, err,
			"decode response from %s", ep.URL)
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s... (%d bytes)", b[:n], len(b))
}
