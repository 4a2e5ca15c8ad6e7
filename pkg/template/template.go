// Package template renders {{dotted.path}} placeholders from an execution context.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dukex/followup/pkg/models"
	"github.com/spf13/cast"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)

// Render replaces every {{path}} token with the value found at path in data.
// Tokens that do not resolve are left verbatim so missing variables stay visible.
func Render(templateStr string, data map[string]any) string {
	return placeholder.ReplaceAllStringFunc(templateStr, func(token string) string {
		path := placeholder.FindStringSubmatch(token)[1]

		value, found := models.Lookup(data, path)
		if !found || value == nil {
			return token
		}

		return format(value)
	})
}

// Placeholders lists the paths referenced by templateStr in order of appearance.
func Placeholders(templateStr string) []string {
	matches := placeholder.FindAllStringSubmatch(templateStr, -1)

	paths := make([]string, 0, len(matches))
	for _, match := range matches {
		paths = append(paths, match[1])
	}

	return paths
}

// Unresolved lists the placeholder paths that data cannot satisfy.
func Unresolved(templateStr string, data map[string]any) []string {
	var missing []string

	for _, path := range Placeholders(templateStr) {
		value, found := models.Lookup(data, path)
		if !found || value == nil {
			missing = append(missing, path)
		}
	}

	return missing
}

// IsJSONDocument reports whether s is shaped like a JSON object or array.
func IsJSONDocument(s string) bool {
	s = strings.TrimSpace(s)

	return (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")) ||
		(strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"))
}

// RenderDocument renders a JSON document template. A placeholder inside a string literal is
// replaced by the JSON-escaped text of its value; elsewhere it is replaced by the value's JSON
// encoding. Unresolved tokens are left verbatim, as in Render.
func RenderDocument(templateStr string, data map[string]any) string {
	var (
		out      strings.Builder
		inString bool
		escaped  bool
		last     int
	)

	copyText := func(text string) {
		for i := range len(text) {
			switch {
			case escaped:
				escaped = false
			case inString && text[i] == '\\':
				escaped = true
			case text[i] == '"':
				inString = !inString
			}
		}

		out.WriteString(text)
	}

	for _, loc := range placeholder.FindAllStringSubmatchIndex(templateStr, -1) {
		copyText(templateStr[last:loc[0]])
		last = loc[1]

		value, found := models.Lookup(data, templateStr[loc[2]:loc[3]])
		if !found || value == nil {
			out.WriteString(templateStr[loc[0]:loc[1]])

			continue
		}

		if inString {
			encoded := encodeJSON(format(value))
			out.WriteString(encoded[1 : len(encoded)-1])

			continue
		}

		out.WriteString(encodeJSONValue(value))
	}

	copyText(templateStr[last:])

	return out.String()
}

func encodeJSONValue(value any) string {
	switch value.(type) {
	case time.Time, *time.Time:
		return encodeJSON(format(value))
	}

	return encodeJSON(value)
}

// encodeJSON encodes value without HTML escaping. Values that cannot be encoded fall back to
// their quoted text form, which always encodes.
func encodeJSON(value any) string {
	var buf bytes.Buffer

	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)

	err := encoder.Encode(value)
	if err != nil {
		return encodeJSON(format(value))
	}

	return strings.TrimSuffix(buf.String(), "\n")
}

// RenderJSON renders templateStr and, when the result looks like a JSON document, decodes it.
// Document templates are rendered with RenderDocument so values are escaped. Other results are
// returned as strings.
func RenderJSON(templateStr string, data map[string]any) (any, error) {
	if IsJSONDocument(templateStr) {
		result := RenderDocument(templateStr, data)

		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse rendered json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	return strings.TrimSpace(Render(templateStr, data)), nil
}

func format(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case *time.Time:
		return v.UTC().Format(time.RFC3339)
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(encoded)
	}

	s, err := cast.ToStringE(value)
	if err != nil {
		return fmt.Sprint(value)
	}

	return s
}
