// Package filter compiles vector-store metadata policies into native
// boolean filter expressions, one strategy per provider.
//
// Output is a stable contract: given identical policy rows the
// expression is byte-identical across runs (keys sorted, rows sorted
// by policy id within a key), so downstream retrieval is reproducible.
package filter

import (
	"fmt"
	"sort"
	"strconv"
)

// Row is one metadata policy row that matched the requesting subject.
type Row struct {
	PolicyID int64
	Key      string
	Operator string // "==" or "!="
	Value    string
}

// Input is everything a compiler needs for one request.
type Input struct {
	Rows []Row

	User   string
	Groups []string

	// Enforcement flags add user/group row-filtering on top of the
	// metadata predicates. When both are set the two predicates are
	// OR-ed (a document readable by either grant is readable).
	UserEnforcement  bool
	GroupEnforcement bool
}

// Compiler turns policy rows into one provider-native expression.
// Implementations are pure and safe for concurrent use.
type Compiler interface {
	Provider() string
	Compile(in Input) (string, error)
}

// Registry maps provider names to compilers.
type Registry struct {
	compilers map[string]Compiler
}

// NewRegistry builds a registry with all built-in providers.
func NewRegistry() *Registry {
	r := &Registry{compilers: make(map[string]Compiler)}
	for _, c := range []Compiler{NewMilvus(), NewOpenSearch(), NewCortex()} {
		r.compilers[c.Provider()] = c
	}
	return r
}

// Get returns the compiler for a provider.
func (r *Registry) Get(provider string) (Compiler, error) {
	c, ok := r.compilers[provider]
	if !ok {
		return nil, fmt.Errorf("filter: unknown vector store provider %q", provider)
	}
	return c, nil
}

// groupRows partitions rows by metadata key, with keys sorted and rows
// within a key sorted by policy id. This ordering is the determinism
// contract every compiler relies on.
func groupRows(rows []Row) (keys []string, byKey map[string][]Row) {
	byKey = make(map[string][]Row)
	for _, row := range rows {
		byKey[row.Key] = append(byKey[row.Key], row)
	}
	keys = make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rs := byKey[k]
		sort.Slice(rs, func(i, j int) bool { return rs[i].PolicyID < rs[j].PolicyID })
	}
	return keys, byKey
}

// isNumeric reports whether s parses as a JSON-style number.
func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func isBool(s string) bool {
	return s == "true" || s == "false"
}
