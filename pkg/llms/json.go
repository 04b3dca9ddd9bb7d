package llms

import (
	"encoding/json"

	"github.com/cjcelaya/mindgate/pkg/kberr"
)

// ExtractJSONObject unmarshals the first balanced JSON object found in a
// model response into target. Models wrap JSON in prose and code fences
// often enough that strict parsing of the whole response is a losing game.
func ExtractJSONObject(response string, target any) error {
	fragment, ok := balancedFragment(response, '{', '}')
	if !ok {
		return kberr.New(kberr.KindRemoteBadResponse, "no JSON object found in model response")
	}
	if err := json.Unmarshal([]byte(fragment), target); err != nil {
		return kberr.Wrap(kberr.KindRemoteBadResponse, "failed to parse JSON object from model response", err)
	}
	return nil
}

// ExtractJSONArray unmarshals the first balanced JSON array found in a
// model response into target.
func ExtractJSONArray(response string, target any) error {
	fragment, ok := balancedFragment(response, '[', ']')
	if !ok {
		return kberr.New(kberr.KindRemoteBadResponse, "no JSON array found in model response")
	}
	if err := json.Unmarshal([]byte(fragment), target); err != nil {
		return kberr.Wrap(kberr.KindRemoteBadResponse, "failed to parse JSON array from model response", err)
	}
	return nil
}

// balancedFragment finds the first balanced opener..closer span, skipping
// brackets inside string literals.
func balancedFragment(s string, opener, closer byte) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case opener:
			if start == -1 {
				start = i
			}
			depth++
		case closer:
			if depth > 0 {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}
