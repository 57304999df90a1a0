// SPDX-License-Identifier: Apache-2.0

package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/schema"
)

// BuiltinFixer is an in-process text repair. It returns the repaired payload or
// an error explaining why the payload could not be repaired.
type BuiltinFixer struct {
	Description string
	Schema      map[string]interface{}
	Defaults    map[string]interface{}
	Fix         func(payload []byte, params map[string]interface{}) ([]byte, error)
}

var builtinFixers = map[string]BuiltinFixer{
	"json-trailing-commas": {
		Description: "Remove trailing commas before closing brackets in JSON",
		Fix:         fixJSONTrailingCommas,
	},
	"trim-trailing-whitespace": {
		Description: "Strip trailing spaces and tabs from every line",
		Fix: func(payload []byte, _ map[string]interface{}) ([]byte, error) {
			return trimTrailingWhitespace(payload), nil
		},
	},
	"ensure-final-newline": {
		Description: "Terminate the file with a newline",
		Fix: func(payload []byte, _ map[string]interface{}) ([]byte, error) {
			if len(payload) == 0 || payload[len(payload)-1] == '\n' {
				return payload, nil
			}
			return append(bytes.Clone(payload), '\n'), nil
		},
	},
	"tabs-to-spaces": {
		Description: "Replace leading tabs with spaces",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"width": map[string]interface{}{
					"type":    "integer",
					"minimum": 1,
					"maximum": 16,
				},
			},
			"additionalProperties": false,
		},
		Defaults: map[string]interface{}{"width": 4},
		Fix:      tabsToSpaces,
	},
}

// BuiltinNames lists the available builtin fixers
func BuiltinNames() []string {
	names := make([]string, 0, len(builtinFixers))
	for name := range builtinFixers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuiltinDescription returns the description of a builtin fixer
func BuiltinDescription(name string) string {
	return builtinFixers[name].Description
}

// BuiltinStrategy runs one of the in-process fixers
type BuiltinStrategy struct {
	base
	fixer  BuiltinFixer
	params map[string]interface{}
}

// NewBuiltinStrategy creates a builtin strategy, validating its params
func NewBuiltinStrategy(config Config) (*BuiltinStrategy, error) {
	fixer, ok := builtinFixers[config.Builtin]
	if !ok {
		return nil, fmt.Errorf("unknown builtin %q (available: %v)", config.Builtin, BuiltinNames())
	}

	if fixer.Schema != nil {
		if err := schema.ValidateParams(fixer.Schema, config.Params); err != nil {
			return nil, err
		}
	} else if len(config.Params) > 0 {
		return nil, fmt.Errorf("builtin %q takes no params", config.Builtin)
	}

	categories, err := config.Categories()
	if err != nil {
		return nil, err
	}

	return &BuiltinStrategy{
		base:   base{config: config, categories: categories},
		fixer:  fixer,
		params: schema.MergeWithDefaults(config.Params, fixer.Defaults),
	}, nil
}

// Description returns the strategy description
func (s *BuiltinStrategy) Description() string {
	return s.describe(s.fixer.Description)
}

// Execute applies the fixer. Identical output means nothing was repaired.
func (s *BuiltinStrategy) Execute(ctx context.Context, target models.Target) (models.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return models.Outcome{}, err
	}

	repaired, err := s.fixer.Fix(target.Payload, s.params)
	if err != nil {
		return models.Failed(err.Error()), nil
	}
	if bytes.Equal(repaired, target.Payload) {
		return models.NoChange(), nil
	}
	return models.Fixed(repaired), nil
}

// fixJSONTrailingCommas drops commas that directly precede `}` or `]`, ignoring
// anything inside string literals, and requires the result to be valid JSON
func fixJSONTrailingCommas(payload []byte, _ map[string]interface{}) ([]byte, error) {
	out := make([]byte, 0, len(payload))
	inString, escaped := false, false
	pendingComma := -1

	for _, c := range payload {
		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
			pendingComma = -1
		case ',':
			pendingComma = len(out)
		case '}', ']':
			if pendingComma >= 0 {
				out = append(out[:pendingComma], out[pendingComma+1:]...)
				pendingComma = -1
			}
		case ' ', '\t', '\r', '\n':
		default:
			pendingComma = -1
		}
		out = append(out, c)
	}

	if !json.Valid(out) {
		return nil, fmt.Errorf("payload is not valid JSON after removing trailing commas")
	}
	return out, nil
}

func trimTrailingWhitespace(payload []byte) []byte {
	lines := bytes.SplitAfter(payload, []byte("\n"))
	var out bytes.Buffer
	out.Grow(len(payload))
	for _, line := range lines {
		body := bytes.TrimSuffix(line, []byte("\n"))
		crlf := bytes.HasSuffix(body, []byte("\r"))
		body = bytes.TrimRight(bytes.TrimSuffix(body, []byte("\r")), " \t")
		out.Write(body)
		if crlf {
			out.WriteByte('\r')
		}
		if bytes.HasSuffix(line, []byte("\n")) {
			out.WriteByte('\n')
		}
	}
	return out.Bytes()
}

func tabsToSpaces(payload []byte, params map[string]interface{}) ([]byte, error) {
	width, err := intParam(params, "width")
	if err != nil {
		return nil, err
	}
	indent := bytes.Repeat([]byte(" "), width)

	lines := bytes.SplitAfter(payload, []byte("\n"))
	var out bytes.Buffer
	out.Grow(len(payload))
	for _, line := range lines {
		i := 0
		for i < len(line) && (line[i] == '\t' || line[i] == ' ') {
			if line[i] == '\t' {
				out.Write(indent)
			} else {
				out.WriteByte(' ')
			}
			i++
		}
		out.Write(line[i:])
	}
	return out.Bytes(), nil
}

func intParam(params map[string]interface{}, name string) (int, error) {
	switch v := params[name].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("param %q must be an integer, got %T", name, params[name])
	}
}
