package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/lyzr/flowrunner/internal/logger"
)

// Context Manager: resolves every dynamic string the engine encounters.
// substitute/evaluateJSONPath/evaluateCondition/evaluateMapping are the
// public contract of §4.1. None of them ever panic; missing data resolves
// to the zero value (nil / untouched literal), not an error.

var placeholderRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)
var fullPlaceholderRe = regexp.MustCompile(`^\{\{\s*(.+?)\s*\}\}$`)

// Substitute replaces every {{name}} occurrence with the string form of
// ctx.variables[name], falling back to a handful of top-level context
// fields (instanceId, workflowId, projectFolder, currentNodeId). Structured
// values are rendered as indented JSON. An unresolved placeholder is left
// untouched in the output and logged at warn level.
func Substitute(template string, ec *ExecutionContext, log *logger.Logger) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if v, ok := ec.Variable(name); ok {
			return stringifyValue(v)
		}
		if v, ok := contextField(ec, name); ok {
			return stringifyValue(v)
		}
		if log != nil {
			log.Warn("unresolved template variable", "name", name)
		}
		return match
	})
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func contextField(ec *ExecutionContext, name string) (any, bool) {
	switch name {
	case "instanceId":
		return ec.InstanceID, true
	case "workflowId":
		return ec.WorkflowID, true
	case "projectFolder":
		return ec.ProjectFolder, true
	case "currentNodeId":
		return ec.CurrentNodeID(), true
	default:
		return nil, false
	}
}

// rootDocument builds the flat JSON object evaluateJSONPath and
// evaluateCondition run against: every context variable, with the fields of
// variables["parsed"] (when it is itself an object, per the agent
// executor's structured-output exposure in §4.7) spread in underneath
// anything the workflow author set explicitly. Reserved context fields
// (instanceId etc.) fill in last, only if nothing shadows them.
func rootDocument(ec *ExecutionContext) map[string]any {
	doc := make(map[string]any)
	if parsed, ok := ec.Variable("parsed"); ok {
		if pm, ok := parsed.(map[string]any); ok {
			for k, v := range pm {
				doc[k] = v
			}
		}
	}
	for k, v := range ec.Variables() {
		doc[k] = v
	}
	for _, name := range []string{"instanceId", "workflowId", "projectFolder", "currentNodeId"} {
		if _, exists := doc[name]; !exists {
			if v, ok := contextField(ec, name); ok {
				doc[name] = v
			}
		}
	}
	return doc
}

// jsonPathToGjson converts the spec's "$.a.b[0].c" dot/bracket syntax into
// gjson's dot-only path syntax ("a.b.0.c").
func jsonPathToGjson(expr string) string {
	p := strings.TrimSpace(expr)
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")
	p = strings.ReplaceAll(p, "[", ".")
	p = strings.ReplaceAll(p, "]", "")
	return p
}

// EvaluateJSONPath resolves a "$.a.b[0].c" expression against the context's
// variables (plus parsed/reserved fallbacks). Missing paths return nil —
// this function never errors or panics on absence.
func EvaluateJSONPath(expr string, ec *ExecutionContext) any {
	trimmed := strings.TrimSpace(expr)
	if !strings.HasPrefix(trimmed, "$") {
		return nil
	}
	if trimmed == "$" {
		return rootDocument(ec)
	}
	path := jsonPathToGjson(trimmed)
	if path == "" {
		return rootDocument(ec)
	}
	doc := rootDocument(ec)
	data, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return nil
	}
	return res.Value()
}

// EvaluateMapping implements the generic resolver used by contextConfig
// input/output mappings: {{name}} occupying the whole string is a raw
// variable lookup, a leading "$." is a JSONPath lookup, anything else
// passes through as a literal string.
func EvaluateMapping(source string, ec *ExecutionContext) any {
	trimmed := strings.TrimSpace(source)
	if m := fullPlaceholderRe.FindStringSubmatch(trimmed); m != nil {
		name := m[1]
		if v, ok := ec.Variable(name); ok {
			return v
		}
		if v, ok := contextField(ec, name); ok {
			return v
		}
		return nil
	}
	if strings.HasPrefix(trimmed, "$") {
		return EvaluateJSONPath(trimmed, ec)
	}
	return trimmed
}

// EvaluateCondition evaluates a boolean expression that may embed "$.path"
// JSONPath references (e.g. "$.score >= 70"). Each reference is substituted
// with its JSON-serialized resolved value before the resulting comparison
// expression is evaluated by a small hand-written parser — never a general
// host eval (§4.1 design note, §9 re-architecture).
func EvaluateCondition(expr string, ec *ExecutionContext) (bool, error) {
	literalized, err := substituteJSONPaths(expr, ec)
	if err != nil {
		return false, err
	}
	v, err := evalBooleanExpr(literalized)
	if err != nil {
		return false, NewError(ErrEval, fmt.Sprintf("condition %q: %v", expr, err))
	}
	b, ok := v.(bool)
	if !ok {
		return false, NewError(ErrEval, fmt.Sprintf("condition %q did not evaluate to a boolean, got %v", expr, v))
	}
	return b, nil
}

var jsonPathTokenRe = regexp.MustCompile(`\$(?:\.[A-Za-z_][A-Za-z0-9_]*|\[\d+\])+`)

func substituteJSONPaths(expr string, ec *ExecutionContext) (string, error) {
	var outerErr error
	result := jsonPathTokenRe.ReplaceAllStringFunc(expr, func(token string) string {
		v := EvaluateJSONPath(token, ec)
		lit, err := json.Marshal(v)
		if err != nil {
			outerErr = err
			return "null"
		}
		return string(lit)
	})
	return result, outerErr
}
