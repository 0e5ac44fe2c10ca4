// Package document is the traversal primitive shared by the placeholder scan
// and redaction. A document is a decoded JSON value: string, []any,
// map[string]any, or a scalar leaf (nil, bool, numbers, json.Number).
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UnsupportedShapeError reports a value outside the closed set of shapes.
type UnsupportedShapeError struct {
	Path string
	Type string
}

func (e *UnsupportedShapeError) Error() string {
	return fmt.Sprintf("unsupported document shape %s at %s", e.Type, e.Path)
}

// Visit calls fn for every string leaf in doc, depth first.
func Visit(doc any, fn func(s string)) error {
	return visit(doc, "$", fn)
}

func visit(v any, path string, fn func(string)) error {
	switch val := v.(type) {
	case string:
		fn(val)
	case []any:
		for i, item := range val {
			if err := visit(item, fmt.Sprintf("%s[%d]", path, i), fn); err != nil {
				return err
			}
		}
	case map[string]any:
		for k, item := range val {
			if err := visit(item, path+"."+k, fn); err != nil {
				return err
			}
		}
	default:
		if !isScalar(v) {
			return &UnsupportedShapeError{Path: path, Type: fmt.Sprintf("%T", v)}
		}
	}
	return nil
}

// Rewrite returns a deep copy of doc with every string leaf replaced by
// fn(leaf). The input is never modified. Map keys are not rewritten.
func Rewrite(doc any, fn func(s string) string) (any, error) {
	return rewrite(doc, "$", fn)
}

func rewrite(v any, path string, fn func(string) string) (any, error) {
	switch val := v.(type) {
	case string:
		return fn(val), nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := rewrite(item, fmt.Sprintf("%s[%d]", path, i), fn)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := rewrite(item, path+"."+k, fn)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	default:
		if !isScalar(v) {
			return nil, &UnsupportedShapeError{Path: path, Type: fmt.Sprintf("%T", v)}
		}
		return v, nil
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, bool, json.Number,
		float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

// Decode parses raw JSON into a document, keeping numbers as json.Number so
// a round trip does not change their text.
func Decode(raw []byte) (any, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
