package parts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeJoinsAdjacentText(t *testing.T) {
	got := Merge([]Part{Text("ab")}, []Part{Text("cd")})
	require.Equal(t, []Part{Text("abcd")}, got)
}

func TestMergeAppendsStructuredParts(t *testing.T) {
	src := FromTag("sources", json.RawMessage(`{"nodes":[]}`))
	got := Merge([]Part{Text("a")}, []Part{src})
	require.Equal(t, []Part{Text("a"), src}, got)
}

func TestMergeJoinsOnlyLastAndFirst(t *testing.T) {
	ev := Generic("X", json.RawMessage(`1`))
	got := Merge([]Part{Text("a"), ev, Text("b")}, []Part{Text("c"), ev, Text("d")})
	require.Equal(t, []Part{Text("a"), ev, Text("bc"), ev, Text("d")}, got)
}

func TestMergeEmptyIncomingKeepsIdentity(t *testing.T) {
	current := []Part{Text("a")}
	got := Merge(current, nil)
	require.Same(t, &current[0], &got[0])
}

func TestMergeEmptyCurrent(t *testing.T) {
	incoming := []Part{Text("a")}
	require.Equal(t, incoming, Merge(nil, incoming))
}

func TestMergeDoesNotAliasCurrent(t *testing.T) {
	current := make([]Part, 1, 4)
	current[0] = Generic("X", nil)
	a := Merge(current, []Part{Text("a")})
	b := Merge(current, []Part{Text("b")})
	require.Equal(t, "a", a[1].Text)
	require.Equal(t, "b", b[1].Text)
}

func TestKindAndTag(t *testing.T) {
	require.Equal(t, KindText, Text("x").Kind())
	require.Equal(t, KindSources, FromTag("sources", nil).Kind())
	require.Equal(t, KindSuggestedQuestions, FromTag("suggested_questions", nil).Kind())
	require.Equal(t, KindArtifact, FromTag("artifact", nil).Kind())
	require.Equal(t, KindEvent, FromTag("event", nil).Kind())
	require.Equal(t, KindGeneric, FromTag("chart", nil).Kind())

	tag, ok := FromTag("chart", nil).Tag()
	require.True(t, ok)
	require.Equal(t, "chart", tag)
	_, ok = Generic("X", nil).Tag()
	require.False(t, ok)
}
