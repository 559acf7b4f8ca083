package runtime

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/maha0525/SAIVerse-sub004/pkg/utils/json"
)

// refRe matches {name} and {dotted.path} template references.
var refRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_.]*)\}`)

// FormatTemplate expands {ref} tokens against the state using literal
// replacement, so JSON braces in the surrounding text survive.
// Undefined references are left intact (braces and all) and reported in
// the second return value.
func FormatTemplate(tmpl string, state State) (string, []string) {
	var undefined []string
	out := refRe.ReplaceAllStringFunc(tmpl, func(tok string) string {
		path := tok[1 : len(tok)-1]
		v, ok := state.Get(path)
		if !ok {
			undefined = append(undefined, path)
			return tok
		}
		return Stringify(v)
	})
	return out, undefined
}

// Stringify renders a state value for prompt interpolation. Strings
// pass through; maps and slices become JSON; everything else uses the
// default Go rendering.
func Stringify(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case bool:
		return strconv.FormatBool(vv)
	case int:
		return strconv.Itoa(vv)
	case int64:
		return strconv.FormatInt(vv, 10)
	case float64:
		// Whole floats (common after JSON decoding) print as integers.
		if vv == float64(int64(vv)) {
			return strconv.FormatInt(int64(vv), 10)
		}
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case map[string]any, []any, []string, []map[string]any:
		b, err := json.Marshal(vv)
		if err != nil {
			return fmt.Sprintf("%v", vv)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", vv)
	}
}

// ReplaceLiterals substitutes each placeholder with its value using
// plain string replacement. Used for the common prompt where values may
// themselves contain braces.
func ReplaceLiterals(text string, values map[string]string) string {
	for name, value := range values {
		text = strings.ReplaceAll(text, "{"+name+"}", value)
	}
	return text
}

// WrapSystem wraps a prompt in a <system> annotation unless it already
// is one.
func WrapSystem(prompt string) string {
	trimmed := strings.TrimSpace(prompt)
	if strings.HasPrefix(trimmed, "<system>") {
		return prompt
	}
	return "<system>" + prompt + "</system>"
}
