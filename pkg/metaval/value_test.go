package metaval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesEquality(t *testing.T) {
	assert.True(t, Matches(String("PUBLIC"), true, String("PUBLIC")))
	assert.False(t, Matches(String("PUBLIC"), true, String("ADMINS")))
	assert.False(t, Matches(Null, false, String("PUBLIC")))
}

func TestMatchesMembership(t *testing.T) {
	expected := StringList("a", "b", "c")
	assert.True(t, Matches(String("b"), true, expected))
	assert.False(t, Matches(String("z"), true, expected))
}

func TestMatchesOperators(t *testing.T) {
	expected := Map(map[string]Value{
		"$gte": Number(10),
		"$lte": Number(20),
	})
	assert.True(t, Matches(Number(15), true, expected))
	assert.False(t, Matches(Number(5), true, expected))
	assert.False(t, Matches(Number(25), true, expected))

	ne := Map(map[string]Value{"$ne": String("x")})
	assert.True(t, Matches(String("y"), true, ne))
	assert.False(t, Matches(String("x"), true, ne))

	in := Map(map[string]Value{"$in": StringList("a", "b")})
	assert.True(t, Matches(String("a"), true, in))
	assert.False(t, Matches(String("z"), true, in))
}

func TestMetadataMergeDrop(t *testing.T) {
	m := Metadata{"a": String("1"), "b": String("2")}
	merged := m.Merge(Metadata{"b": String("20"), "c": String("3")})
	assert.Equal(t, "1", mustStr(merged["a"]))
	assert.Equal(t, "20", mustStr(merged["b"]))
	assert.Equal(t, "3", mustStr(merged["c"]))
	// original untouched
	assert.Equal(t, "2", mustStr(m["b"]))

	dropped := merged.Drop("a")
	_, ok := dropped["a"]
	assert.False(t, ok)
}

func mustStr(v Value) string {
	s, _ := v.AsString()
	return s
}
