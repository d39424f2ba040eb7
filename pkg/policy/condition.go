package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// conditionEvaluator compiles and caches CEL condition programs.
// Conditions see the request context map plus the subject, e.g.
//
//	context["environment"] == "production" && user != "svc-batch"
//
// A condition that fails to compile or evaluate never grants: the
// policy is treated as not matched and the failure is reported so the
// engine can log it.
type conditionEvaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newConditionEvaluator() (*conditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("user", cel.StringType),
		cel.Variable("groups", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: build condition env: %w", err)
	}
	return &conditionEvaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// Matches evaluates expr against the request. Empty expressions match.
func (e *conditionEvaluator) Matches(expr, user string, groups []string, reqContext map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}

	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	if reqContext == nil {
		reqContext = map[string]any{}
	}
	if groups == nil {
		groups = []string{}
	}
	val, _, err := prg.Eval(map[string]any{
		"context": reqContext,
		"user":    user,
		"groups":  groups,
	})
	if err != nil {
		return false, fmt.Errorf("policy: evaluate condition %q: %w", expr, err)
	}
	matched, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: condition %q is not boolean", expr)
	}
	return matched, nil
}

func (e *conditionEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compile condition %q: %w", expr, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("policy: build condition program %q: %w", expr, err)
	}

	e.mu.Lock()
	e.programs[expr] = prg
	e.mu.Unlock()
	return prg, nil
}
