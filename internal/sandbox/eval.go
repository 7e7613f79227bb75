package sandbox

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// RunCode evaluates a caller-supplied expression against the variables in
// namespace and returns the resulting value. Malformed input surfaces as a
// sandbox Error, never the raw parser fault.
func (s *Sandbox) RunCode(snippet string, namespace map[string]any) (any, error) {
	if namespace == nil {
		namespace = map[string]any{}
	}

	program, err := expr.Compile(snippet, expr.Env(namespace))
	if err != nil {
		return nil, &Error{Op: "run code", Reason: fmt.Sprintf("compile: %v", err)}
	}

	out, err := expr.Run(program, namespace)
	if err != nil {
		return nil, &Error{Op: "run code", Reason: fmt.Sprintf("evaluate: %v", err)}
	}
	return out, nil
}
