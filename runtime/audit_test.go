package runtime

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestRedactFields(t *testing.T) {
	t.Parallel()
	in := map[string]any{"to": "a@b", "api_key": "s3cret"}
	out := redactFields(in, []string{"api_key", "absent"})
	assert.Equal(t, map[string]any{"to": "a@b", "api_key": AuditRedactedPlaceholder}, out)
	assert.Equal(t, "s3cret", in["api_key"], "source payload untouched")
	assert.Nil(t, redactFields(nil, []string{"api_key"}))
}

func TestRedactFieldsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("listed fields present in the payload always read the sentinel", prop.ForAll(
		func(keys, redacted []string) bool {
			payload := map[string]any{}
			for _, k := range keys {
				payload[k] = "v:" + k
			}
			out := redactFields(payload, redacted)
			if len(out) != len(payload) {
				return false
			}
			marked := map[string]bool{}
			for _, f := range redacted {
				marked[f] = true
			}
			for k, v := range out {
				if marked[k] {
					if v != AuditRedactedPlaceholder {
						return false
					}
				} else if v != payload[k] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
