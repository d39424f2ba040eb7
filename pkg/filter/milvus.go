package filter

import (
	"fmt"
	"strings"
)

// Milvus emits Milvus boolean filter expressions over a `metadata`
// JSON field. Documents without a policed key are readable: each key
// clause is OR-ed with `not exists`.
type Milvus struct{}

// NewMilvus returns the Milvus expression compiler.
func NewMilvus() *Milvus { return &Milvus{} }

func (*Milvus) Provider() string { return "milvus" }

func (m *Milvus) Compile(in Input) (string, error) {
	keys, byKey := groupRows(in.Rows)

	clauses := make([]string, 0, len(keys))
	for _, key := range keys {
		preds := make([]string, 0, len(byKey[key]))
		for _, row := range byKey[key] {
			preds = append(preds, fmt.Sprintf("(metadata['%s'] %s %s)", key, row.Operator, m.literal(row.Value)))
		}
		or := strings.Join(preds, " || ")
		if len(preds) > 1 {
			or = "(" + or + ")"
		}
		clauses = append(clauses, fmt.Sprintf(
			"(((exists metadata['%s']) && %s) || (not exists metadata['%s']))", key, or, key))
	}
	expr := strings.Join(clauses, " && ")

	enforcement := m.enforcement(in)
	switch {
	case expr == "" && enforcement == "":
		return "", nil
	case expr == "":
		return enforcement, nil
	case enforcement == "":
		return expr, nil
	default:
		return expr + " && " + enforcement, nil
	}
}

// literal quotes string values; numeric and boolean tokens pass
// through unquoted.
func (*Milvus) literal(v string) string {
	if isNumeric(v) || isBool(v) {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", `\'`) + "'"
}

func (m *Milvus) enforcement(in Input) string {
	var user, group string
	if in.UserEnforcement {
		user = fmt.Sprintf("array_contains(metadata['users'], '%s')", in.User)
	}
	if in.GroupEnforcement && len(in.Groups) > 0 {
		quoted := make([]string, len(in.Groups))
		for i, g := range in.Groups {
			quoted[i] = "'" + g + "'"
		}
		group = fmt.Sprintf("array_contains_any(metadata['groups'], [%s])", strings.Join(quoted, ", "))
	}
	switch {
	case user != "" && group != "":
		return "(" + user + " || " + group + ")"
	case user != "":
		return user
	case group != "":
		return group
	}
	return ""
}
