package markers

import "strings"

// Range is a half-open [Start, End) byte range of a text buffer.
type Range struct {
	Start int
	End   int
}

func (r Range) Overlaps(start, end int) bool {
	return start < r.End && r.Start < end
}

func (r Range) Contains(pos int) bool {
	return pos >= r.Start && pos < r.End
}

// FindCodeBlocks returns fenced code ranges, then the single-line inline code spans
// that lie outside of them. Ranges never nest. An unterminated fence runs to the end
// of text.
func FindCodeBlocks(text string) []Range {
	fenced := findFenced(text)
	return append(fenced, findInline(text, fenced)...)
}

func findFenced(text string) []Range {
	var out []Range
	inside := false
	openStart := 0
	lineStart := 0
	for lineStart <= len(text) {
		lineEnd := strings.IndexByte(text[lineStart:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += lineStart
		}
		if strings.HasPrefix(strings.TrimSpace(text[lineStart:lineEnd]), "```") {
			if !inside {
				inside = true
				openStart = lineStart
			} else {
				inside = false
				out = append(out, Range{Start: openStart, End: lineEnd})
			}
		}
		if lineEnd == len(text) {
			break
		}
		lineStart = lineEnd + 1
	}
	if inside {
		out = append(out, Range{Start: openStart, End: len(text)})
	}
	return out
}

func findInline(text string, fenced []Range) []Range {
	var out []Range
	i := 0
	for i < len(text) {
		if r, ok := rangeAt(fenced, i); ok {
			i = r.End
			continue
		}
		if text[i] != '`' {
			i++
			continue
		}
		j := i + 1
		for j < len(text) && text[j] != '`' && text[j] != '\n' {
			j++
		}
		if j >= len(text) || text[j] != '`' || overlapsAny(fenced, i, j+1) {
			i++
			continue
		}
		out = append(out, Range{Start: i, End: j + 1})
		i = j + 1
	}
	return out
}

func rangeAt(ranges []Range, pos int) (Range, bool) {
	for _, r := range ranges {
		if r.Contains(pos) {
			return r, true
		}
	}
	return Range{}, false
}

func overlapsAny(ranges []Range, start, end int) bool {
	for _, r := range ranges {
		if r.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func insideAny(ranges []Range, pos int) bool {
	_, ok := rangeAt(ranges, pos)
	return ok
}
