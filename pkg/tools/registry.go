package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cjcelaya/mindgate/pkg/kberr"
)

// Registry holds the immutable tool descriptors and dispatches calls.
type Registry struct {
	descriptors map[string]Descriptor
	byCommand   map[string]Descriptor
	remote      *RemoteExecutor
}

// NewRegistry builds a registry over the given descriptors. remote may be
// nil when no remote tool endpoint is configured; dispatching a remote tool
// then fails with ConfigMissing.
func NewRegistry(remote *RemoteExecutor, descriptors ...Descriptor) *Registry {
	r := &Registry{
		descriptors: make(map[string]Descriptor, len(descriptors)),
		byCommand:   make(map[string]Descriptor, len(descriptors)),
		remote:      remote,
	}
	for _, d := range descriptors {
		r.descriptors[d.Name] = d
		if d.Command != "" {
			r.byCommand[d.Command] = d
		}
	}
	return r
}

// Get looks a descriptor up by tool name.
func (r *Registry) Get(name string) (Descriptor, error) {
	d, ok := r.descriptors[name]
	if !ok {
		return Descriptor{}, kberr.Newf(kberr.KindNotFound, "unknown tool %q", name)
	}
	return d, nil
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs one dispatch through PARSED, VALIDATED, EXECUTING and a
// terminal SUCCESS or FAILED. Execution failures land in the result, not in
// the error return; the error is reserved for unknown tools and invalid
// parameters.
func (r *Registry) Execute(ctx context.Context, call Call) (Result, error) {
	start := time.Now()

	desc, err := r.Get(call.Tool)
	if err != nil {
		return Result{Tool: call.Tool, Success: false, Error: err.Error(), State: StateFailed}, err
	}

	args, err := Validate(desc, call.Parameters)
	if err != nil {
		return Result{Tool: desc.Name, Success: false, Error: err.Error(), State: StateFailed}, err
	}
	slog.Debug("Tool dispatch validated", "tool", desc.Name)

	result := r.run(ctx, desc, args)
	result.Tool = desc.Name
	result.Duration = time.Since(start)
	if result.Success {
		result.State = StateSuccess
	} else {
		result.State = StateFailed
		slog.Warn("Tool dispatch failed", "tool", desc.Name, "error", result.Error)
	}
	return result, nil
}

func (r *Registry) run(ctx context.Context, desc Descriptor, args map[string]any) Result {
	if desc.Handler != nil {
		data, formatted, err := desc.Handler(ctx, args)
		if err != nil {
			return Result{Success: false, Error: shortError(err)}
		}
		return Result{Success: true, Data: data, Formatted: formatted}
	}

	if r.remote == nil {
		return Result{Success: false, Error: "remote tool endpoint is not configured"}
	}
	return r.remote.Execute(ctx, desc, args)
}

// Validate checks required parameters, coerces declared types, applies
// defaults, and drops undeclared arguments.
func Validate(desc Descriptor, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(desc.Parameters))
	var problems []string

	// Positional text parses as "input"; a tool whose text parameter is
	// named "query" (or the reverse) still receives it.
	args = aliasTextArg(desc, args)

	for _, p := range desc.Parameters {
		raw, ok := args[p.Name]
		if !ok {
			if p.Required {
				problems = append(problems, missingParam(p.Name))
			} else if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}

		coerced, err := coerce(p.Type, raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("Invalid value for parameter %s: %v", p.Name, err))
			continue
		}
		out[p.Name] = coerced
	}

	if len(problems) > 0 {
		return nil, kberr.Wrap(kberr.KindValidation, "invalid tool parameters", &ValidationError{Problems: problems})
	}
	return out, nil
}

func aliasTextArg(desc Descriptor, args map[string]any) map[string]any {
	declared := make(map[string]bool, len(desc.Parameters))
	for _, p := range desc.Parameters {
		declared[p.Name] = true
	}
	for from, to := range map[string]string{"input": "query", "query": "input"} {
		if _, has := args[from]; has && !declared[from] && declared[to] {
			if _, taken := args[to]; !taken {
				cloned := make(map[string]any, len(args))
				for k, v := range args {
					cloned[k] = v
				}
				cloned[to] = cloned[from]
				delete(cloned, from)
				return cloned
			}
		}
	}
	return args
}

func coerce(t ParamType, raw any) (any, error) {
	switch t {
	case TypeNumber:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("unsupported number value %T", raw)
		}

	case TypeArray:
		switch v := raw.(type) {
		case []string:
			return v, nil
		case []any:
			out := make([]string, len(v))
			for i, item := range v {
				out[i] = fmt.Sprintf("%v", item)
			}
			return out, nil
		case string:
			if strings.Contains(v, ",") {
				parts := strings.Split(v, ",")
				out := make([]string, 0, len(parts))
				for _, p := range parts {
					if p = strings.TrimSpace(p); p != "" {
						out = append(out, p)
					}
				}
				return out, nil
			}
			return strings.Fields(v), nil
		default:
			return nil, fmt.Errorf("unsupported array value %T", raw)
		}

	default:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", raw), nil
	}
}

// shortError keeps tool errors to one sentence for the user-visible result.
func shortError(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
