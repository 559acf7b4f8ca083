package service

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/maha0525/SAIVerse-sub004/pkg/utils/json"
)

// ParseStructured parses an LLM response expected to satisfy a JSON
// schema. The model sometimes wraps JSON in a markdown fence; the fence
// is stripped before parsing.
func ParseStructured(raw string, schemaDoc map[string]any) (map[string]any, error) {
	cleaned := stripFence(raw)

	var value map[string]any
	if err := json.Unmarshal([]byte(cleaned), &value); err != nil {
		return nil, fmt.Errorf("structured output is not valid JSON: %w", err)
	}
	if schemaDoc == nil {
		return value, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("invalid response schema: %w", err)
	}
	sch, err := compiler.Compile("response.json")
	if err != nil {
		return nil, fmt.Errorf("invalid response schema: %w", err)
	}
	// jsonschema validates the decoded form, which is what we have.
	var doc any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, err
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("structured output violates schema: %w", err)
	}
	return value, nil
}

func stripFence(s string) string {
	const fence = "```"
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, fence) {
		return s
	}
	// Skip the opening fence line.
	body := trimmed[len(fence):]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	}
	if j := strings.LastIndex(body, fence); j >= 0 {
		body = body[:j]
	}
	return body
}
