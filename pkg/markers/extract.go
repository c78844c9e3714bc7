// Package markers turns a streamed text buffer into ordered message parts, extracting
// `<tag>{json}</tag>` markers outside of code and holding back markers that have not
// been closed yet.
package markers

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/handlerstream/pkg/markdown"
	"github.com/go-go-golems/handlerstream/pkg/parts"
)

// ParseText completes the markdown of text and splits it into parts. Markdown is
// shown as soon as it arrives; a marker is only emitted once its closing tag exists,
// and everything from an unclosed opening tag onwards is withheld. A marker payload is
// opaque: markdown and code detection start afresh after each closing tag.
func ParseText(text string) []parts.Part {
	var out []parts.Part
	rest := text
	for {
		completed := markdown.Complete(rest)
		code := FindCodeBlocks(completed)
		m, ok := nextMarker(completed, code)
		if !ok {
			return appendText(out, withholdPending(completed, code))
		}
		out = appendText(out, rest[:m.start])
		if p, ok := markerPart(m.name, rest[m.openEnd:m.closeStart]); ok {
			out = append(out, p)
		}
		rest = rest[m.closeEnd:]
	}
}

// tagPair holds the offsets of `<name>payload</name>` in a buffer.
type tagPair struct {
	name       string
	start      int
	openEnd    int
	closeStart int
	closeEnd   int
}

// nextMarker finds the first closed tag pair whose opening tag lies outside of code.
// Closers appended by completion never contain '<', so the offsets are valid in the
// uncompleted text as well. It gives up at the first opening tag without a closing tag.
func nextMarker(text string, code []Range) (tagPair, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '<' || insideAny(code, i) {
			continue
		}
		name, openEnd, ok := openingTagAt(text, i)
		if !ok {
			continue
		}
		closeTag := "</" + name + ">"
		rel := strings.Index(text[openEnd:], closeTag)
		if rel < 0 {
			// everything from here on waits for this tag to close
			return tagPair{}, false
		}
		closeStart := openEnd + rel
		return tagPair{
			name:       name,
			start:      i,
			openEnd:    openEnd,
			closeStart: closeStart,
			closeEnd:   closeStart + len(closeTag),
		}, true
	}
	return tagPair{}, false
}

// withholdPending returns the part of text that is safe to show: it stops at the first
// opening tag outside of code, or at a trailing `<name` still being typed. Closers added
// by markdown completion sit after the cut, so the kept prefix is completed again.
func withholdPending(text string, code []Range) string {
	for i := 0; i < len(text); i++ {
		if text[i] != '<' || insideAny(code, i) {
			continue
		}
		if _, _, ok := openingTagAt(text, i); ok || partialTagAtEnd(text, i) {
			return markdown.Complete(strings.TrimSpace(text[:i]))
		}
	}
	return text
}

func markerPart(name, content string) (parts.Part, bool) {
	payload := strings.TrimSpace(content)
	if !json.Valid([]byte(payload)) {
		log.Debug().
			Str("component", "markers").
			Str("tag", name).
			Int("payload_len", len(payload)).
			Msg("dropping marker with invalid JSON payload")
		return parts.Part{}, false
	}
	return parts.FromTag(name, json.RawMessage(payload)), true
}

func appendText(out []parts.Part, s string) []parts.Part {
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	return append(out, parts.Text(s))
}

// openingTagAt matches `<word>` at text[i] and returns the name and the offset after '>'.
func openingTagAt(text string, i int) (string, int, bool) {
	j := i + 1
	for j < len(text) && isWordByte(text[j]) {
		j++
	}
	if j == i+1 || j >= len(text) || text[j] != '>' {
		return "", 0, false
	}
	return text[i+1 : j], j + 1, true
}

// partialTagAtEnd reports whether text[i:] is a `<` or `<word` prefix that reaches the
// end of text.
func partialTagAtEnd(text string, i int) bool {
	for j := i + 1; j < len(text); j++ {
		if !isWordByte(text[j]) {
			return false
		}
	}
	return true
}

func isWordByte(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
