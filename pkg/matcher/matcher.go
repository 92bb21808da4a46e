package matcher

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"

	"github.com/haolipeng/audisp_filter/pkg/types"
)

// Engine is the narrow contract the filter core uses for matching. Expressions
// accumulate with OR semantics: an event matches when any registered
// expression matches it. Reset discards all registered expressions and any
// internal match state so a fresh rule set can be installed.
type Engine interface {
	AddExpression(expr string) error
	EvalEvent(ev *types.Event) (bool, error)
	Reset()
}

type compiledExpr struct {
	expr    string
	program cel.Program
}

// CELEngine implements Engine by lowering audit search expressions onto CEL
// programs evaluated over the event's merged field map. It also implements
// the loader's Validator so rule files are checked with the same compiler
// that will evaluate them.
type CELEngine struct {
	env      *cel.Env
	programs []compiledExpr
}

func NewCELEngine() (*CELEngine, error) {
	// One declared variable: the event's fields as a string map. The
	// normalizer rewrites every comparison into a lookup on it.
	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("fields", decls.NewMapType(decls.String, decls.String)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env failed: %v", err)
	}
	return &CELEngine{env: env}, nil
}

func (e *CELEngine) compile(expr string) (cel.Program, error) {
	lowered, err := lowerExpression(expr)
	if err != nil {
		return nil, err
	}

	ast, iss := e.env.Compile(lowered)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compile expression failed: %v", iss.Err())
	}

	checked, iss := e.env.Check(ast)
	if iss.Err() != nil {
		return nil, fmt.Errorf("check expression failed: %v", iss.Err())
	}

	program, err := e.env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("create program failed: %v", err)
	}

	return program, nil
}

// AddExpression compiles expr and registers it for evaluation.
func (e *CELEngine) AddExpression(expr string) error {
	program, err := e.compile(expr)
	if err != nil {
		return err
	}
	e.programs = append(e.programs, compiledExpr{expr: expr, program: program})
	return nil
}

// CheckExpression compiles expr without registering it. Used by the loader
// for per-line syntax validation.
func (e *CELEngine) CheckExpression(expr string) error {
	_, err := e.compile(expr)
	return err
}

// EvalEvent reports whether the event matches any registered expression.
func (e *CELEngine) EvalEvent(ev *types.Event) (bool, error) {
	vars := map[string]interface{}{
		"fields": ev.FieldMap(),
	}

	for _, c := range e.programs {
		out, _, err := c.program.Eval(vars)
		if err != nil {
			return false, fmt.Errorf("evaluate expression %q failed: %v", c.expr, err)
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return false, fmt.Errorf("expression %q result is not boolean: %v", c.expr, out.Value())
		}
		if matched {
			return true, nil
		}
	}

	return false, nil
}

// Reset drops every registered expression and the match state with it.
func (e *CELEngine) Reset() {
	e.programs = nil
}
