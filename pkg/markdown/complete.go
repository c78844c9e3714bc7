// Package markdown force-closes emphasis and code markers left open in a partially
// streamed markdown buffer so that it always renders.
package markdown

import "strings"

const (
	Fence      = "```"
	Bold       = "**"
	Italic     = "*"
	InlineCode = "`"
)

// Complete returns text with every unclosed marker closed, innermost first. The result
// has no open markers left, so Complete(Complete(s)) == Complete(s).
func Complete(text string) string {
	stack := scan(text)
	if len(stack) == 0 {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text) + 8)
	sb.WriteString(text)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == Fence {
			sb.WriteString("\n")
		}
		sb.WriteString(stack[i])
	}
	return sb.String()
}

// OpenMarkers returns the markers still open at the end of text, outermost first.
func OpenMarkers(text string) []string {
	stack := scan(text)
	if stack == nil {
		return []string{}
	}
	return stack
}

func scan(text string) []string {
	var stack []string
	top := func() string {
		if len(stack) == 0 {
			return ""
		}
		return stack[len(stack)-1]
	}
	pop := func() { stack = stack[:len(stack)-1] }
	push := func(marker string) { stack = append(stack, marker) }

	n := len(text)
	i := 0
	for i < n {
		t := top()
		// inside inline code a backtick always closes, even as part of a longer run
		if t != InlineCode && strings.HasPrefix(text[i:], Fence) {
			if t == Fence {
				pop()
			} else {
				push(Fence)
			}
			i += 3
			continue
		}
		switch {
		case t == Fence:
			i++
			continue
		case text[i] == '`':
			if t == InlineCode {
				pop()
			} else {
				push(InlineCode)
			}
			i++
			continue
		case t == InlineCode:
			i++
			continue
		}
		if text[i] != '*' {
			i++
			continue
		}

		// Adjacent stars form one run, consumed as ** pairs before any lone *.
		start := i
		for i < n && text[i] == '*' {
			i++
		}
		run := i - start
		atEnd := i == n
		canClose := atEnd || (start > 0 && !isSpace(text[start-1]))
		for run > 0 {
			if canClose {
				if top() == Bold && run >= 2 {
					pop()
					run -= 2
					continue
				}
				if top() == Italic {
					pop()
					run--
					continue
				}
			}
			// stars left over at the end of the buffer open nothing yet; closers appended
			// later join this run and close through it
			if atEnd {
				break
			}
			if run >= 2 {
				push(Bold)
				run -= 2
			} else {
				push(Italic)
				run--
			}
		}
	}
	return stack
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
