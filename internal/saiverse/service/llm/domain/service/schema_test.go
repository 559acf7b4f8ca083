package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var verdictSchema = map[string]any{
	"type":     "object",
	"required": []any{"verdict"},
	"properties": map[string]any{
		"verdict": map[string]any{"type": "string"},
		"score":   map[string]any{"type": "number"},
	},
}

func TestParseStructuredPlainJSON(t *testing.T) {
	out, err := ParseStructured(`{"verdict": "yes", "score": 0.9}`, verdictSchema)
	require.NoError(t, err)
	assert.Equal(t, "yes", out["verdict"])
}

func TestParseStructuredStripsFence(t *testing.T) {
	raw := "```json\n{\"verdict\": \"no\"}\n```"
	out, err := ParseStructured(raw, verdictSchema)
	require.NoError(t, err)
	assert.Equal(t, "no", out["verdict"])
}

func TestParseStructuredNoSchema(t *testing.T) {
	out, err := ParseStructured(`{"anything": true}`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["anything"])
}

func TestParseStructuredInvalidJSON(t *testing.T) {
	_, err := ParseStructured("そうですね、JSONではないです", verdictSchema)
	assert.Error(t, err)
}

func TestParseStructuredSchemaViolation(t *testing.T) {
	_, err := ParseStructured(`{"score": 1}`, verdictSchema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "violates schema")
}
