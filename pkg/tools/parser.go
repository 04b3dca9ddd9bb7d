package tools

import (
	"strings"

	"github.com/cjcelaya/mindgate/pkg/kberr"
)

// IsCommand reports whether the message invokes a slash command.
func IsCommand(message string) bool {
	return strings.HasPrefix(strings.TrimSpace(message), "/")
}

// ParseCommand parses a slash-prefixed string into a tool call. Token 0 is
// the command; --flag=value and --flag value pairs become named arguments;
// remaining positional tokens fold into "input", or "query" when a flag
// already set input.
func (r *Registry) ParseCommand(message string) (Call, error) {
	fields := strings.Fields(strings.TrimSpace(message))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Call{}, kberr.New(kberr.KindValidation, "not a command: missing leading slash")
	}

	desc, ok := r.byCommand[fields[0]]
	if !ok {
		return Call{}, kberr.Newf(kberr.KindNotFound, "unknown command %s", fields[0])
	}

	params := make(map[string]any)
	var positional []string

	args := fields[1:]
	for i := 0; i < len(args); i++ {
		tok := args[i]
		if !strings.HasPrefix(tok, "--") {
			positional = append(positional, tok)
			continue
		}

		name := strings.TrimPrefix(tok, "--")
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			params[name[:eq]] = name[eq+1:]
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			params[name] = args[i+1]
			i++
			continue
		}
		params[name] = "true"
	}

	if len(positional) > 0 {
		text := strings.Join(positional, " ")
		if _, taken := params["input"]; taken {
			params["query"] = text
		} else {
			params["input"] = text
		}
	}

	return Call{Tool: desc.Name, Parameters: params}, nil
}
