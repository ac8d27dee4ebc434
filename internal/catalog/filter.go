package catalog

import (
	"regexp"
	"strconv"
	"strings"
)

// Filter is a small JSON-DSL filter tree (spec §6 "Filters are expressed in
// a small JSON DSL with operators $AND, $OR, $REGEXP, $KVINJSON, and
// comparisons on named fields"). Leaf filters compare one dotted field path
// (e.g. "medium.family", "copy_status") against Value; composite filters
// combine children.
type Filter struct {
	And   []Filter `json:"$AND,omitempty"`
	Or    []Filter `json:"$OR,omitempty"`
	Field string   `json:"field,omitempty"`
	Op    string   `json:"op,omitempty"` // "=", "$REGEXP", "$KVINJSON"
	Value string   `json:"value,omitempty"`
}

// Match evaluates the filter against a row that has already been decoded to
// a generic map (via toMap).
func (f Filter) Match(row map[string]interface{}) bool {
	if len(f.And) > 0 {
		for _, c := range f.And {
			if !c.Match(row) {
				return false
			}
		}
		return true
	}
	if len(f.Or) > 0 {
		for _, c := range f.Or {
			if c.Match(row) {
				return true
			}
		}
		return false
	}
	if f.Field == "" {
		return true // empty filter matches everything
	}
	actual, ok := lookupPath(row, f.Field)
	if !ok {
		return false
	}
	switch f.Op {
	case "", "=":
		return fmt2str(actual) == f.Value
	case "$REGEXP":
		re, err := regexp.Compile(f.Value)
		if err != nil {
			return false
		}
		return re.MatchString(fmt2str(actual))
	case "$KVINJSON":
		// Value is "key=value"; actual must be a map containing that pair
		// (used for filtering on mod_attrs / user_md entries, spec §6).
		parts := strings.SplitN(f.Value, "=", 2)
		if len(parts) != 2 {
			return false
		}
		m, ok := asAttrMap(actual)
		if !ok {
			return false
		}
		v, present := m[parts[0]]
		return present && v == parts[1]
	default:
		return false
	}
}

func lookupPath(row map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = row
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func asAttrMap(v interface{}) (map[string]string, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		// the attrs.Map wire shape is {"keys":[...],"values":{...}}
		return nil, false
	}
	if values, ok := m["values"].(map[string]interface{}); ok {
		out := map[string]string{}
		for k, v := range values {
			out[k] = fmt2str(v)
		}
		return out, true
	}
	out := map[string]string{}
	for k, v := range m {
		out[k] = fmt2str(v)
	}
	return out, true
}

func fmt2str(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

func toMap(v interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// SortSpec orders List results by a field, with a reverse flag (spec §6
// "Ordering is by column with a reverse flag").
type SortSpec struct {
	Field   string
	Reverse bool
}
