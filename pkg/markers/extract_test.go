package markers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/handlerstream/pkg/parts"
)

func TestParseTextPlainMarkdown(t *testing.T) {
	require.Equal(t, []parts.Part{parts.Text("**bold**")}, ParseText("**bold"))
	require.Empty(t, ParseText("   "))
}

func TestParseTextExtractsKnownMarkers(t *testing.T) {
	got := ParseText(`Here you go <sources>{"nodes":[]}</sources> and <suggested_questions>["why?"]</suggested_questions> done`)
	require.Len(t, got, 5)
	require.Equal(t, parts.Text("Here you go"), got[0])
	require.Equal(t, parts.TypeSources, got[1].Type)
	require.JSONEq(t, `{"nodes":[]}`, string(got[1].Data))
	require.Equal(t, parts.Text("and"), got[2])
	require.Equal(t, parts.TypeSuggestedQuestions, got[3].Type)
	require.JSONEq(t, `["why?"]`, string(got[3].Data))
	require.Equal(t, parts.Text("done"), got[4])
}

func TestParseTextArtifactAndEvent(t *testing.T) {
	got := ParseText(`<artifact>{"type":"code"}</artifact><event>{"title":"step"}</event>`)
	require.Len(t, got, 2)
	require.Equal(t, parts.KindArtifact, got[0].Kind())
	require.Equal(t, parts.KindEvent, got[1].Kind())
}

func TestParseTextUnknownTagIsGeneric(t *testing.T) {
	got := ParseText(`<chart>{"x":1}</chart>`)
	require.Len(t, got, 1)
	require.Equal(t, parts.KindGeneric, got[0].Kind())
	tag, ok := got[0].Tag()
	require.True(t, ok)
	require.Equal(t, "chart", tag)
}

func TestParseTextDropsInvalidJSON(t *testing.T) {
	got := ParseText(`before <sources>{not json}</sources> after`)
	require.Equal(t, []parts.Part{parts.Text("before"), parts.Text("after")}, got)
}

func TestParseTextWithholdsUnclosedMarker(t *testing.T) {
	require.Empty(t, ParseText("<sources>"))
	require.Empty(t, ParseText(`<sources>{"nodes":[]}`))
	require.Equal(t, []parts.Part{parts.Text("Hi")}, ParseText(`Hi <sources>{"nodes"`))
}

func TestParseTextWithheldPrefixIsCompleted(t *testing.T) {
	require.Equal(t, []parts.Part{parts.Text("**Hi**")}, ParseText("**Hi <sources>{"))
}

func TestParseTextWithholdsPartialOpeningTag(t *testing.T) {
	require.Equal(t, []parts.Part{parts.Text("Hello")}, ParseText("Hello <sour"))
	require.Equal(t, []parts.Part{parts.Text("a < b")}, ParseText("a < b"))
}

func TestParseTextIgnoresMarkersInCode(t *testing.T) {
	require.Equal(t, []parts.Part{parts.Text("`<sources>`")}, ParseText("`<sources>`"))

	inline := "`<sources>{}</sources>`"
	require.Equal(t, []parts.Part{parts.Text(inline)}, ParseText(inline))

	fenced := "```\n<sources>{}</sources>\n```"
	require.Equal(t, []parts.Part{parts.Text(fenced)}, ParseText(fenced))
}

func TestParseTextMarkerAfterCodeMention(t *testing.T) {
	got := ParseText("use `<sources>` like <sources>[1]</sources>")
	require.Len(t, got, 2)
	require.Equal(t, parts.Text("use `<sources>` like"), got[0])
	require.Equal(t, parts.TypeSources, got[1].Type)
}

func TestParseTextFirstClosingTagWins(t *testing.T) {
	got := ParseText(`<event>1</event>2</event>`)
	require.Len(t, got, 2)
	require.JSONEq(t, `1`, string(got[0].Data))
	require.Equal(t, parts.Text("2</event>"), got[1])
}

func TestParseTextBacktickInPayloadStaysInPayload(t *testing.T) {
	got := ParseText("Hi <sources>{\"a\":\"`x\"}</sources> tail")
	require.Len(t, got, 3)
	require.Equal(t, parts.Text("Hi"), got[0])
	require.Equal(t, parts.TypeSources, got[1].Type)
	require.JSONEq(t, `{"a":"`+"`"+`x"}`, string(got[1].Data))
	require.Equal(t, parts.Text("tail"), got[2])

	got = ParseText("<event>{\"s\":\"```\"}</event> then <event>2</event> `ok`")
	require.Len(t, got, 4)
	require.Equal(t, parts.Text("then"), got[1])
	require.JSONEq(t, `2`, string(got[2].Data))
	require.Equal(t, parts.Text("`ok`"), got[3])
}
