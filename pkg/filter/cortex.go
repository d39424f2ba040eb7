package filter

import (
	"fmt"
	"strings"
)

// Cortex emits Snowflake-Cortex-style SQL predicates. Unlike the
// default dialects it never quotes values: string, numeric and boolean
// tokens pass through unchanged, booleans upper-cased.
type Cortex struct{}

// NewCortex returns the Cortex expression compiler.
func NewCortex() *Cortex { return &Cortex{} }

func (*Cortex) Provider() string { return "cortex" }

func (c *Cortex) Compile(in Input) (string, error) {
	keys, byKey := groupRows(in.Rows)

	clauses := make([]string, 0, len(keys))
	for _, key := range keys {
		preds := make([]string, 0, len(byKey[key]))
		for _, row := range byKey[key] {
			preds = append(preds, fmt.Sprintf("(%s %s %s)", key, row.Operator, c.literal(row.Value)))
		}
		or := strings.Join(preds, " OR ")
		if len(preds) > 1 {
			or = "(" + or + ")"
		}
		clauses = append(clauses, fmt.Sprintf(
			"(((EXISTS(%s)) AND %s) OR (NOT EXISTS(%s)))", key, or, key))
	}
	expr := strings.Join(clauses, " AND ")

	enforcement := c.enforcement(in)
	switch {
	case expr == "" && enforcement == "":
		return "", nil
	case expr == "":
		return enforcement, nil
	case enforcement == "":
		return expr, nil
	default:
		return expr + " AND " + enforcement, nil
	}
}

// literal never quotes; booleans are upper-cased, everything else is
// passed through verbatim.
func (*Cortex) literal(v string) string {
	if isBool(v) {
		return strings.ToUpper(v)
	}
	return v
}

func (c *Cortex) enforcement(in Input) string {
	var user, group string
	if in.UserEnforcement {
		user = fmt.Sprintf("ARRAY_CONTAINS(%s::VARIANT, users)", in.User)
	}
	if in.GroupEnforcement && len(in.Groups) > 0 {
		group = fmt.Sprintf("ARRAYS_OVERLAP(groups, ARRAY_CONSTRUCT(%s))", strings.Join(in.Groups, ", "))
	}
	switch {
	case user != "" && group != "":
		return "(" + user + " OR " + group + ")"
	case user != "":
		return user
	case group != "":
		return group
	}
	return ""
}
