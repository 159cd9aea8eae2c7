package template

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Engine resolves {{ .key }} placeholders in request paths, headers and
// bodies against scenario properties. Templates are Go text/template with
// the sprig function library, so {{ .id | upper }} or {{ uuidv4 }} work too.
type Engine struct {
	// Pattern to match simple template variables like {{ .variableName }}
	variablePattern *regexp.Regexp
	funcs           template.FuncMap
}

// New creates a new template engine
func New() *Engine {
	return &Engine{
		variablePattern: regexp.MustCompile(`\{\{-?\s*\.([a-zA-Z_][a-zA-Z0-9_]*)`),
		funcs:           sprig.TxtFuncMap(),
	}
}

// IsTemplate reports whether s contains template actions.
func IsTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

// Render executes s as a template against data. Strings without actions are
// returned unchanged. Referencing a missing key is an error.
func (e *Engine) Render(s string, data map[string]interface{}) (string, error) {
	if !IsTemplate(s) {
		return s, nil
	}

	tmpl, err := template.New("value").Funcs(e.funcs).Option("missingkey=error").Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid template %q: %w", s, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		if missing := e.missingVariables(s, data); len(missing) > 0 {
			return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
		}
		return "", fmt.Errorf("failed to render template %q: %w", s, err)
	}
	return buf.String(), nil
}

// Replace replaces all template variables in a value with actual values from the context
func (e *Engine) Replace(value interface{}, context map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return e.Render(v, context)
	case map[string]interface{}:
		return e.replaceMapTemplates(v, context)
	case []interface{}:
		return e.replaceSliceTemplates(v, context)
	case map[string]string:
		out := make(map[string]string, len(v))
		for key, s := range v {
			r, err := e.Render(s, context)
			if err != nil {
				return nil, fmt.Errorf("error in key '%s': %w", key, err)
			}
			out[key] = r
		}
		return out, nil
	default:
		// Non-templatable types are returned as-is
		return value, nil
	}
}

// replaceMapTemplates recursively replaces templates in a map
func (e *Engine) replaceMapTemplates(m map[string]interface{}, context map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(m))

	for key, value := range m {
		replacedValue, err := e.Replace(value, context)
		if err != nil {
			return nil, fmt.Errorf("error in key '%s': %w", key, err)
		}
		result[key] = replacedValue
	}

	return result, nil
}

// replaceSliceTemplates recursively replaces templates in a slice
func (e *Engine) replaceSliceTemplates(s []interface{}, context map[string]interface{}) ([]interface{}, error) {
	result := make([]interface{}, len(s))

	for i, value := range s {
		replacedValue, err := e.Replace(value, context)
		if err != nil {
			return nil, fmt.Errorf("error at index %d: %w", i, err)
		}
		result[i] = replacedValue
	}

	return result, nil
}

// ExtractVariables returns the sorted names of the top level variables
// referenced by value.
func (e *Engine) ExtractVariables(value interface{}) []string {
	variables := make(map[string]bool)
	e.extractVariablesRecursive(value, variables)

	result := make([]string, 0, len(variables))
	for varName := range variables {
		result = append(result, varName)
	}
	sort.Strings(result)

	return result
}

func (e *Engine) extractVariablesRecursive(value interface{}, variables map[string]bool) {
	switch v := value.(type) {
	case string:
		for _, match := range e.variablePattern.FindAllStringSubmatch(v, -1) {
			if len(match) >= 2 {
				variables[match[1]] = true
			}
		}
	case map[string]interface{}:
		for _, val := range v {
			e.extractVariablesRecursive(val, variables)
		}
	case map[string]string:
		for _, val := range v {
			e.extractVariablesRecursive(val, variables)
		}
	case []interface{}:
		for _, val := range v {
			e.extractVariablesRecursive(val, variables)
		}
	}
}

func (e *Engine) missingVariables(s string, context map[string]interface{}) []string {
	var missing []string
	for _, name := range e.ExtractVariables(s) {
		if _, exists := context[name]; !exists {
			missing = append(missing, name)
		}
	}
	return missing
}
