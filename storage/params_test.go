package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeParams(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want ParameterBundle
	}{
		{"nil", nil, ParameterBundle{Kind: BundleEmpty}},
		{"positional", []any{"a", 1}, ParameterBundle{Kind: BundlePositional, Values: []any{"a", 1}}},
		{"named", map[string]any{"n": "x"}, ParameterBundle{Kind: BundleNamed, Named: map[string]any{"n": "x"}}},
		{"scalar", 42, ParameterBundle{Kind: BundlePositional, Values: []any{42}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := NormalizeParams(c.in)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestTranslatePositional(t *testing.T) {
	sql, vals := TranslatePositional("INSERT INTO t VALUES (?,?)", []any{"a", 1})
	assert.Equal(t, "INSERT INTO t VALUES ($1,$2)", sql)
	assert.Equal(t, []any{"a", 1}, vals)
}

func TestTranslateNamedFirstOccurrence(t *testing.T) {
	sql, vals, err := TranslateNamed("SELECT * FROM u WHERE name=@n AND role=@r", map[string]any{"n": "x", "r": "admin"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM u WHERE name=$1 AND role=$2", sql)
	assert.Equal(t, []any{"x", "admin"}, vals)
}

func TestTranslateNamedReuseAndUnresolved(t *testing.T) {
	sql, vals, err := TranslateNamed("WHERE a=@x OR b=@x", map[string]any{"x": 7})
	require.NoError(t, err)
	assert.Equal(t, "WHERE a=$1 OR b=$1", sql)
	assert.Equal(t, []any{7}, vals)

	_, _, err = TranslateNamed("WHERE a=@missing", map[string]any{})
	require.Error(t, err)
	var be *BindError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "@missing", be.Marker)
}

func TestSplitScriptRespectsQuotes(t *testing.T) {
	got := SplitScript(`CREATE TABLE t(k TEXT); INSERT INTO t VALUES ('a;b'); INSERT INTO t VALUES ('it''s; fine')`)
	require.Len(t, got, 3)
	assert.Equal(t, "CREATE TABLE t(k TEXT)", got[0])
	assert.Equal(t, "INSERT INTO t VALUES ('a;b')", got[1])
	assert.Equal(t, "INSERT INTO t VALUES ('it''s; fine')", got[2])
}
