// Package agents provides the built-in agent implementations. Both route
// their work through the sandbox, which is the only vetted path for
// running untrusted commands or expressions.
package agents

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/overseer/internal/runtime"
	"github.com/nidhogg/overseer/internal/sandbox"
)

var ErrUnknownAgentType = errors.New("unknown agent type")

// Factory builds an agent from request parameters.
type Factory func(params map[string]any) (runtime.Agent, error)

// Factories returns the built-in agent factories keyed by type name.
func Factories(sb *sandbox.Sandbox, logger *zap.Logger) map[string]Factory {
	return map[string]Factory{
		"command": func(params map[string]any) (runtime.Agent, error) {
			command, ok := params["command"].(string)
			if !ok || command == "" {
				return nil, errors.New("command agent requires a command parameter")
			}
			a := NewCommandAgent(sb, command, logger)
			if timeout, ok := params["timeout_seconds"].(float64); ok && timeout > 0 {
				a.Timeout = time.Duration(timeout * float64(time.Second))
			}
			return a, nil
		},
		"eval": func(params map[string]any) (runtime.Agent, error) {
			expression, ok := params["expression"].(string)
			if !ok || expression == "" {
				return nil, errors.New("eval agent requires an expression parameter")
			}
			namespace, _ := params["namespace"].(map[string]any)
			return NewEvalAgent(sb, expression, namespace, logger), nil
		},
	}
}

// Build resolves agentType against the factories and constructs the agent.
func Build(factories map[string]Factory, agentType string, params map[string]any) (runtime.Agent, error) {
	factory, ok := factories[agentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgentType, agentType)
	}
	return factory(params)
}

// CommandAgent runs one shell command inside the sandbox and reports its
// exit code and output as the result payload.
type CommandAgent struct {
	sandbox    *sandbox.Sandbox
	command    string
	logger     *zap.Logger
	terminated atomic.Bool

	Timeout time.Duration
}

func NewCommandAgent(sb *sandbox.Sandbox, command string, logger *zap.Logger) *CommandAgent {
	return &CommandAgent{
		sandbox: sb,
		command: command,
		logger:  logger,
		Timeout: 60 * time.Second,
	}
}

func (a *CommandAgent) Execute(ctx context.Context, workspace string) (map[string]any, error) {
	a.logger.Debug("running command agent",
		zap.String("workspace", workspace))

	res, err := a.sandbox.ExecuteCommand(ctx, a.command, a.Timeout)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":      "command",
		"exit_code": res.ExitCode,
		"stdout":    res.Stdout,
		"stderr":    res.Stderr,
		"workspace": workspace,
	}, nil
}

func (a *CommandAgent) Terminate(context.Context) error {
	a.terminated.Store(true)
	return nil
}

// Terminated reports whether Terminate was called.
func (a *CommandAgent) Terminated() bool { return a.terminated.Load() }

// EvalAgent evaluates one expression inside the sandbox against a fixed
// namespace.
type EvalAgent struct {
	sandbox    *sandbox.Sandbox
	expression string
	namespace  map[string]any
	logger     *zap.Logger
	terminated atomic.Bool
}

func NewEvalAgent(sb *sandbox.Sandbox, expression string, namespace map[string]any, logger *zap.Logger) *EvalAgent {
	return &EvalAgent{
		sandbox:    sb,
		expression: expression,
		namespace:  namespace,
		logger:     logger,
	}
}

func (a *EvalAgent) Execute(ctx context.Context, workspace string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, err := a.sandbox.RunCode(a.expression, a.namespace)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":      "eval",
		"value":     value,
		"workspace": workspace,
	}, nil
}

func (a *EvalAgent) Terminate(context.Context) error {
	a.terminated.Store(true)
	return nil
}

// Terminated reports whether Terminate was called.
func (a *EvalAgent) Terminated() bool { return a.terminated.Load() }
