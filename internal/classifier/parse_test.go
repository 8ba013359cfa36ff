package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		wantStage string
	}{
		{"direct object", `{"topics":[{"name":"A","opinions":[1]}]}`, StageDirect},
		{"bare array", `[{"opinion":1,"topic":2}]`, StageDirect},
		{"fenced with tag", "```json\n{\"assignments\":[{\"opinion\":1,\"topic\":1}]}\n```", StageFence},
		{"fenced without tag", "```\n{\"assignments\":[{\"opinion\":1,\"topic\":1}]}\n```", StageFence},
		{"prose around object", `Here is the result: {"topics":[{"name":"x {y}","opinions":["1"]}]} Hope it helps.`, StageBrackets},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, ok := Parse(tt.raw).(Structured)
			require.True(t, ok)
			assert.Equal(t, tt.wantStage, res.Stage)
			assert.False(t, res.Response.empty())
		})
	}
}

func TestParseUnstructured(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"",
		"no json here",
		`{"topics": [`,
		`{}`,
		`{"unrelated": true}`,
	} {
		res, ok := Parse(raw).(Unstructured)
		require.True(t, ok, raw)
		assert.Equal(t, raw, res.Raw)
		assert.Error(t, res.Err)
	}
}

func TestFirstObject(t *testing.T) {
	t.Parallel()

	span, ok := firstObject(`noise {"a":"}","b":{"c":1}} tail {"d":2}`)
	require.True(t, ok)
	assert.Equal(t, `{"a":"}","b":{"c":1}}`, span)

	_, ok = firstObject(`{"open": 1`)
	assert.False(t, ok)
}

func TestResponseSchema(t *testing.T) {
	t.Parallel()

	schema := ResponseSchema()
	assert.Contains(t, schema, `"opinions"`)
	assert.Contains(t, schema, `"existing_topic"`)
	assert.Contains(t, schema, `"oneOf"`)
}
