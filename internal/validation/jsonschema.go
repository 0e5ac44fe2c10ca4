// Package validation checks HTTP request bodies against embedded JSON Schemas
// (Draft 2020-12) before they are decoded into typed inputs.
package validation

import (
	"bytes"
	"embed"
	"fmt"
	"path"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/mcvault/pkg/schema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://mcvault.dev/schemas/"

// Schema names, one per request body.
const (
	CreateItem   = "create_item"
	UpdateItem   = "update_item"
	RotateItem   = "rotate_item"
	ResolveBatch = "resolve_batch"
)

// RequestValidator holds the compiled request schemas. It is immutable after
// construction and safe for concurrent use.
type RequestValidator struct {
	schemas map[string]*jsonschema.Schema
}

// NewRequestValidator compiles every embedded schema.
func NewRequestValidator() (*RequestValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	var names []string
	for _, e := range entries {
		raw, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", e.Name(), err)
		}
		if err := c.AddResource(schemaBaseURL+e.Name(), doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", e.Name(), err)
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}

	v := &RequestValidator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		compiled, err := c.Compile(schemaBaseURL + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = compiled
	}
	return v, nil
}

// Validate checks a raw JSON body against the named schema.
func (v *RequestValidator) Validate(name string, body []byte) error {
	sch, ok := v.schemas[name]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown request schema %q", name)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "request body is required")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "request body is not valid JSON").WithCause(err)
	}
	if err := sch.Validate(doc); err != nil {
		return toVaultError(err)
	}
	return nil
}

// toVaultError converts a jsonschema.ValidationError into a VaultError
// listing each violation with its instance location.
func toVaultError(err error) *schema.VaultError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
