package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatTemplate(t *testing.T) {
	state := State{
		"name": "灯",
		"plan": map[string]any{"next": "market"},
		"n":    float64(3),
	}

	out, undef := FormatTemplate("こんにちは {name}、{plan.next} に {n} 回", state)
	assert.Equal(t, "こんにちは 灯、market に 3 回", out)
	assert.Empty(t, undef)
}

func TestFormatTemplateUndefinedLeftIntact(t *testing.T) {
	out, undef := FormatTemplate("hello {missing} and {also.gone}", State{})
	assert.Equal(t, "hello {missing} and {also.gone}", out)
	assert.Equal(t, []string{"missing", "also.gone"}, undef)
}

func TestFormatTemplateKeepsJSONBraces(t *testing.T) {
	// Braces that do not form a valid reference are not template syntax.
	out, undef := FormatTemplate(`{"answer": "{last}"}`, State{"last": "yes"})
	assert.Equal(t, `{"answer": "yes"}`, out)
	assert.Empty(t, undef)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "text", Stringify("text"))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "42", Stringify(42))
	assert.Equal(t, "42", Stringify(float64(42)))
	assert.Equal(t, "1.5", Stringify(1.5))
	assert.Equal(t, `["a","b"]`, Stringify([]any{"a", "b"}))
	assert.Equal(t, `{"k":"v"}`, Stringify(map[string]any{"k": "v"}))
}

func TestReplaceLiterals(t *testing.T) {
	out := ReplaceLiterals("{who} says {what}", map[string]string{
		"who":  "persona",
		"what": `{"raw": true}`,
	})
	assert.Equal(t, `persona says {"raw": true}`, out)
}

func TestWrapSystem(t *testing.T) {
	assert.Equal(t, "<system>do it</system>", WrapSystem("do it"))
	assert.Equal(t, "<system>already</system>", WrapSystem("<system>already</system>"))
	assert.Equal(t, "  <system>padded</system>", WrapSystem("  <system>padded</system>"))
}
