// Package tools holds the tool registry and the slash-command dispatcher.
// Tools are either local (backed by the retrieval engine) or remote (HTTP
// endpoints carrying a bearer credential).
package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeNumber ParamType = "number"
	TypeArray  ParamType = "array"
)

// Parameter declares one argument of a tool.
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
}

// Handler executes a local tool. It returns the structured data and its
// Markdown rendering.
type Handler func(ctx context.Context, args map[string]any) (any, string, error)

// Descriptor is the immutable description of one tool. A descriptor has
// either a local Handler or a remote Endpoint, never both.
type Descriptor struct {
	Name        string      `json:"name"`
	Command     string      `json:"command"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters,omitempty"`
	Endpoint    string      `json:"endpoint,omitempty"`

	Handler Handler `json:"-"`
}

// Call is one parsed tool invocation.
type Call struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

// DispatchState tracks one dispatch through its lifecycle. Failed is
// terminal; a dispatch is never retried within a turn.
type DispatchState string

const (
	StateParsed    DispatchState = "PARSED"
	StateValidated DispatchState = "VALIDATED"
	StateExecuting DispatchState = "EXECUTING"
	StateSuccess   DispatchState = "SUCCESS"
	StateFailed    DispatchState = "FAILED"
)

// Result is the outcome of one dispatch.
type Result struct {
	Tool      string        `json:"tool"`
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     string        `json:"error,omitempty"`
	Formatted string        `json:"formatted,omitempty"`
	State     DispatchState `json:"-"`
	Duration  time.Duration `json:"-"`
}

// ValidationError lists every parameter problem found in one call.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

func missingParam(name string) string {
	return fmt.Sprintf("Missing required parameter: %s", name)
}
