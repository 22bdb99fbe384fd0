// Package template implements {{name}} placeholder substitution for message
// bodies, api call fields and header values.
package template

import (
	"fmt"
	"regexp"
	"strconv"
)

var placeholderRegex = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// Render replaces every {{name}} occurrence with the value stored under name.
// Unknown names are left verbatim so a broken flow is visible in the chat
// instead of silently blanked. Rendering is pure; note that it is not
// idempotent when a substituted value itself contains literal {{..}} markers,
// a second pass would substitute those too.
func Render(s string, variables map[string]any) string {
	if len(variables) == 0 || !placeholderRegex.MatchString(s) {
		return s
	}
	return placeholderRegex.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderRegex.FindStringSubmatch(match)[1]
		value, ok := variables[name]
		if !ok {
			return match
		}
		return FormatValue(value)
	})
}

// FormatValue renders a variable value the way it should read in a message.
// JSON numbers decode as float64, integral values must not print a trailing
// fraction.
func FormatValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
