package filter

import (
	"encoding/json"
	"fmt"
)

// OpenSearch emits a structured bool query fragment (serialized JSON)
// rather than an expression string. encoding/json sorts map keys, so
// the output is deterministic for identical rows.
type OpenSearch struct{}

// NewOpenSearch returns the OpenSearch query compiler.
func NewOpenSearch() *OpenSearch { return &OpenSearch{} }

func (*OpenSearch) Provider() string { return "opensearch" }

type osQuery = map[string]any

func (o *OpenSearch) Compile(in Input) (string, error) {
	keys, byKey := groupRows(in.Rows)

	var filters []osQuery
	for _, key := range keys {
		field := "metadata." + key

		var should, mustNot []osQuery
		for _, row := range byKey[key] {
			term := osQuery{"term": osQuery{field: o.literal(row.Value)}}
			switch row.Operator {
			case "==":
				should = append(should, term)
			case "!=":
				mustNot = append(mustNot, term)
			default:
				return "", fmt.Errorf("filter: opensearch does not support operator %q", row.Operator)
			}
		}

		match := osQuery{}
		if len(should) > 0 {
			match["should"] = should
			match["minimum_should_match"] = 1
		}
		if len(mustNot) > 0 {
			match["must_not"] = mustNot
		}

		// (field exists AND predicates) OR field absent.
		filters = append(filters, osQuery{"bool": osQuery{
			"should": []osQuery{
				{"bool": osQuery{"must": []osQuery{
					{"exists": osQuery{"field": field}},
					{"bool": match},
				}}},
				{"bool": osQuery{"must_not": []osQuery{{"exists": osQuery{"field": field}}}}},
			},
			"minimum_should_match": 1,
		}})
	}

	if e := o.enforcement(in); e != nil {
		filters = append(filters, e)
	}
	if len(filters) == 0 {
		return "", nil
	}

	out, err := json.Marshal(osQuery{"bool": osQuery{"filter": filters}})
	if err != nil {
		return "", fmt.Errorf("filter: marshal opensearch query: %w", err)
	}
	return string(out), nil
}

// literal keeps numeric and boolean tokens typed; everything else
// stays a string term.
func (*OpenSearch) literal(v string) any {
	if isBool(v) {
		return v == "true"
	}
	if isNumeric(v) {
		return json.Number(v)
	}
	return v
}

func (o *OpenSearch) enforcement(in Input) osQuery {
	var grants []osQuery
	if in.UserEnforcement {
		grants = append(grants, osQuery{"term": osQuery{"metadata.users": in.User}})
	}
	if in.GroupEnforcement && len(in.Groups) > 0 {
		grants = append(grants, osQuery{"terms": osQuery{"metadata.groups": in.Groups}})
	}
	switch len(grants) {
	case 0:
		return nil
	case 1:
		return grants[0]
	default:
		return osQuery{"bool": osQuery{"should": grants, "minimum_should_match": 1}}
	}
}
