package filter

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMilvus_TwoKeysExact(t *testing.T) {
	c := NewMilvus()
	out, err := c.Compile(Input{Rows: []Row{
		{PolicyID: 1, Key: "key1", Operator: "==", Value: "value1"},
		{PolicyID: 2, Key: "key2", Operator: "!=", Value: "value2"},
	}})
	require.NoError(t, err)

	want := "(((exists metadata['key1']) && (metadata['key1'] == 'value1')) || (not exists metadata['key1']))" +
		" && " +
		"(((exists metadata['key2']) && (metadata['key2'] != 'value2')) || (not exists metadata['key2']))"
	assert.Equal(t, want, out)
}

func TestMilvus_MultipleRowsSameKeyAreORed(t *testing.T) {
	c := NewMilvus()
	out, err := c.Compile(Input{Rows: []Row{
		{PolicyID: 2, Key: "dept", Operator: "==", Value: "sales"},
		{PolicyID: 1, Key: "dept", Operator: "==", Value: "eng"},
	}})
	require.NoError(t, err)

	// Rows sort by policy id, so eng (id 1) precedes sales (id 2).
	want := "(((exists metadata['dept']) && ((metadata['dept'] == 'eng') || (metadata['dept'] == 'sales'))) || (not exists metadata['dept']))"
	assert.Equal(t, want, out)
}

func TestMilvus_NumericAndBooleanUnquoted(t *testing.T) {
	c := NewMilvus()
	out, err := c.Compile(Input{Rows: []Row{
		{PolicyID: 1, Key: "level", Operator: "==", Value: "3"},
		{PolicyID: 2, Key: "public", Operator: "==", Value: "true"},
	}})
	require.NoError(t, err)
	assert.Contains(t, out, "(metadata['level'] == 3)")
	assert.Contains(t, out, "(metadata['public'] == true)")
}

func TestMilvus_Enforcement(t *testing.T) {
	c := NewMilvus()

	t.Run("user only", func(t *testing.T) {
		out, err := c.Compile(Input{User: "alice", UserEnforcement: true})
		require.NoError(t, err)
		assert.Equal(t, "array_contains(metadata['users'], 'alice')", out)
	})

	t.Run("both flags OR together", func(t *testing.T) {
		out, err := c.Compile(Input{
			Rows:             []Row{{PolicyID: 1, Key: "k", Operator: "==", Value: "v"}},
			User:             "alice",
			Groups:           []string{"eng", "sales"},
			UserEnforcement:  true,
			GroupEnforcement: true,
		})
		require.NoError(t, err)
		assert.Contains(t, out, " && (array_contains(metadata['users'], 'alice') || array_contains_any(metadata['groups'], ['eng', 'sales']))")
	})

	t.Run("no flags no rows is empty", func(t *testing.T) {
		out, err := c.Compile(Input{User: "alice", Groups: []string{"eng"}})
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestMilvus_Deterministic(t *testing.T) {
	c := NewMilvus()
	in := Input{Rows: []Row{
		{PolicyID: 9, Key: "b", Operator: "==", Value: "2"},
		{PolicyID: 3, Key: "a", Operator: "!=", Value: "1"},
		{PolicyID: 7, Key: "a", Operator: "==", Value: "0"},
	}}
	first, err := c.Compile(in)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := c.Compile(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	// Keys sort lexically: "a" clauses precede "b".
	assert.Less(t, strings.Index(first, "metadata['a']"), strings.Index(first, "metadata['b']"))
}

func TestCortex_NeverQuotes(t *testing.T) {
	c := NewCortex()
	out, err := c.Compile(Input{Rows: []Row{
		{PolicyID: 1, Key: "region", Operator: "==", Value: "emea"},
		{PolicyID: 2, Key: "count", Operator: "!=", Value: "42"},
		{PolicyID: 3, Key: "public", Operator: "==", Value: "true"},
	}})
	require.NoError(t, err)

	assert.Contains(t, out, "(region == emea)", "strings must not be quoted")
	assert.Contains(t, out, "(count != 42)", "numbers pass through unchanged")
	assert.Contains(t, out, "(public == TRUE)", "booleans are upper-cased")
	assert.NotContains(t, out, "'")
}

func TestCortex_Shape(t *testing.T) {
	c := NewCortex()
	out, err := c.Compile(Input{Rows: []Row{
		{PolicyID: 1, Key: "region", Operator: "==", Value: "emea"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "(((EXISTS(region)) AND (region == emea)) OR (NOT EXISTS(region)))", out)
}

func TestOpenSearch_StructuredOutput(t *testing.T) {
	c := NewOpenSearch()
	out, err := c.Compile(Input{Rows: []Row{
		{PolicyID: 1, Key: "dept", Operator: "==", Value: "eng"},
		{PolicyID: 2, Key: "dept", Operator: "!=", Value: "hr"},
	}})
	require.NoError(t, err)

	var q map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &q), "output must be valid JSON")
	require.Contains(t, q, "bool")

	// Deterministic: identical input, identical bytes.
	again, err := c.Compile(Input{Rows: []Row{
		{PolicyID: 1, Key: "dept", Operator: "==", Value: "eng"},
		{PolicyID: 2, Key: "dept", Operator: "!=", Value: "hr"},
	}})
	require.NoError(t, err)
	assert.Equal(t, out, again)

	assert.Contains(t, out, `"exists":{"field":"metadata.dept"}`)
	assert.Contains(t, out, `"term":{"metadata.dept":"eng"}`)
	assert.Contains(t, out, `"must_not":[{"term":{"metadata.dept":"hr"}}]`)
}

func TestOpenSearch_RejectsUnknownOperator(t *testing.T) {
	c := NewOpenSearch()
	_, err := c.Compile(Input{Rows: []Row{{PolicyID: 1, Key: "k", Operator: ">=", Value: "1"}}})
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	for _, p := range []string{"milvus", "opensearch", "cortex"} {
		c, err := r.Get(p)
		require.NoError(t, err)
		assert.Equal(t, p, c.Provider())
	}
	_, err := r.Get("pinecone")
	require.Error(t, err)
}
