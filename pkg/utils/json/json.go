// Package json is a thin wrapper over sonic so that the rest of the
// codebase does not depend on the JSON implementation directly.
package json

import (
	"github.com/bytedance/sonic"
)

// Marshal encodes v as JSON.
func Marshal(v interface{}) ([]byte, error) {
	return sonic.Marshal(v)
}

// MarshalIndent encodes v as indented JSON.
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return sonic.ConfigDefault.MarshalIndent(v, prefix, indent)
}

// Unmarshal decodes JSON data into v.
func Unmarshal(data []byte, v interface{}) error {
	return sonic.Unmarshal(data, v)
}

// MarshalString encodes v and returns the JSON as a string, ignoring
// errors. Intended for log/display paths only.
func MarshalString(v interface{}) string {
	data, err := sonic.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
