package mcp

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/mcvault/pkg/schema"
)

// maxJQResults bounds how many outputs one filter may produce.
const maxJQResults = 1000

// JQFilter evaluates jq expressions with a compile cache. Compiled code is
// reused across goroutines.
type JQFilter struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewJQFilter creates an empty filter cache.
func NewJQFilter() *JQFilter {
	return &JQFilter{cache: make(map[string]*gojq.Code)}
}

// Evaluate runs expression against data. One output is returned as is,
// several are collected into a slice, none yields nil.
func (f *JQFilter) Evaluate(ctx context.Context, expression string, data any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}
	code, err := f.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, data)
	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"jq evaluation failed for %q: %s", expression, err.Error()).WithCause(err)
		}
		results = append(results, val)
		if len(results) > maxJQResults {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "jq filter produced more than %d results", maxJQResults)
		}
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (f *JQFilter) getOrCompile(expression string) (*gojq.Code, error) {
	f.mu.RLock()
	if code, ok := f.cache[expression]; ok {
		f.mu.RUnlock()
		return code, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := f.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).WithCause(err)
	}
	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).WithCause(err)
	}

	f.cache[expression] = code
	return code, nil
}
