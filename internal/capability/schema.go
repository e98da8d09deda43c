package capability

import (
	"fmt"
	"sort"
	"strings"

	"autotool/internal/apperr"
)

// Property describes a single parameter.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// Parameters is the parameter contract of a unit.
type Parameters struct {
	Required   []string            `json:"required,omitempty"`
	Properties map[string]Property `json:"properties,omitempty"`
}

// Schema is the structured self-description of a unit.
type Schema struct {
	Signature   string     `json:"signature"`
	Parameters  Parameters `json:"parameters"`
	Description string     `json:"description"`
}

// Equal reports whether two schemas describe the same contract.
func (s Schema) Equal(o Schema) bool {
	if s.Signature != o.Signature || s.Description != o.Description {
		return false
	}
	if !equalStrings(sortedCopy(s.Parameters.Required), sortedCopy(o.Parameters.Required)) {
		return false
	}
	if len(s.Parameters.Properties) != len(o.Parameters.Properties) {
		return false
	}
	for k, p := range s.Parameters.Properties {
		q, ok := o.Parameters.Properties[k]
		if !ok || p.Type != q.Type || p.Description != q.Description || fmt.Sprint(p.Default) != fmt.Sprint(q.Default) {
			return false
		}
	}
	return true
}

// ValidateParams checks that every required parameter is present.
func (s Schema) ValidateParams(name string, params map[string]any) error {
	var missing []string
	for _, r := range s.Parameters.Required {
		if _, ok := params[r]; !ok {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return apperr.Errorf(apperr.KindValidation, "capability."+name,
			"missing required parameter(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

// Clone deep-copies the schema.
func (s Schema) Clone() Schema {
	out := s
	out.Parameters.Required = append([]string(nil), s.Parameters.Required...)
	if s.Parameters.Properties != nil {
		out.Parameters.Properties = make(map[string]Property, len(s.Parameters.Properties))
		for k, v := range s.Parameters.Properties {
			out.Parameters.Properties[k] = v
		}
	}
	return out
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
