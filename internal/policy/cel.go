// Package policy evaluates per-item tool policies written in CEL.
package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rendis/mcvault/pkg/schema"
)

// MaxExpressionLength bounds a stored policy expression.
const MaxExpressionLength = 1024

// Input is what a policy expression can see about one resolution.
type Input struct {
	AgentID    string
	Handle     string
	Field      string
	Service    string
	ToolName   string
	SessionKey string
}

func (in Input) activation() map[string]any {
	return map[string]any{
		"agent":   in.AgentID,
		"handle":  in.Handle,
		"field":   in.Field,
		"service": in.Service,
		"tool":    in.ToolName,
		"session": in.SessionKey,
	}
}

// Engine compiles and evaluates item policies. Compiled programs are cached
// by expression text. Safe for concurrent use.
type Engine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEngine creates the policy environment. Every variable is a string:
// agent, handle, field, service, tool, session.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("agent", cel.StringType),
		cel.Variable("handle", cel.StringType),
		cel.Variable("field", cel.StringType),
		cel.Variable("service", cel.StringType),
		cel.Variable("tool", cel.StringType),
		cel.Variable("session", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &Engine{env: env, cache: make(map[string]cel.Program)}, nil
}

// Validate compiles expression and checks it yields a bool. An empty
// expression is valid and means "allow".
func (e *Engine) Validate(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return nil
	}
	_, err := e.getOrCompile(expression)
	return err
}

// Allow evaluates expression against in. An empty expression allows. A false
// result or any evaluation failure is FORBIDDEN.
func (e *Engine) Allow(expression string, in Input) error {
	if strings.TrimSpace(expression) == "" {
		return nil
	}
	prg, err := e.getOrCompile(expression)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeForbidden, "policy for %q is invalid", in.Handle).WithCause(err)
	}
	out, _, err := prg.Eval(in.activation())
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeForbidden, "policy for %q failed to evaluate", in.Handle).WithCause(err)
	}
	if allowed, ok := out.Value().(bool); !ok || !allowed {
		return schema.NewErrorf(schema.ErrCodeForbidden, "policy for %q denies tool %q", in.Handle, in.ToolName)
	}
	return nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *Engine) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	if len(expression) > MaxExpressionLength {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "policy exceeds %d characters", MaxExpressionLength)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"policy compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"policy %q must evaluate to bool, got %s", expression, ast.OutputType()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"policy program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}
