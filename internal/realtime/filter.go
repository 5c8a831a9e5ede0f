package realtime

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var columnPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Filter narrows a subscription to rows whose column equals a value.
type Filter struct {
	Column string
	Value  string
}

// ParseFilter reads the "column=eq.value" form. An empty string means no
// filter.
func ParseFilter(raw string) (*Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	column, rest, ok := strings.Cut(raw, "=")
	if !ok {
		return nil, fmt.Errorf("filter %q must look like column=eq.value", raw)
	}
	column = strings.TrimSpace(column)
	if !columnPattern.MatchString(column) {
		return nil, fmt.Errorf("invalid filter column %q", column)
	}
	op, value, ok := strings.Cut(rest, ".")
	if !ok || op != "eq" {
		return nil, fmt.Errorf("unsupported filter operator in %q; only eq is supported", raw)
	}
	return &Filter{Column: column, Value: value}, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// Matches compares the column of a decoded record against the filter value.
// Missing columns never match.
func (f *Filter) Matches(record map[string]json.RawMessage) bool {
	if f == nil {
		return true
	}
	raw, ok := record[f.Column]
	if !ok {
		return false
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return false
	}
	return scalarString(value) == f.Value
}

func scalarString(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		encoded, _ := json.Marshal(v)
		return string(encoded)
	}
}
