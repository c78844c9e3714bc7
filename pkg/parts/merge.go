package parts

// Merge appends incoming to current, joining the last part of current with the first
// part of incoming when both are text. An empty incoming returns current itself so
// callers can compare slices by identity.
func Merge(current, incoming []Part) []Part {
	if len(incoming) == 0 {
		return current
	}
	if len(current) == 0 {
		return incoming
	}

	last := current[len(current)-1]
	first := incoming[0]
	if last.IsText() && first.IsText() {
		out := make([]Part, 0, len(current)+len(incoming)-1)
		out = append(out, current[:len(current)-1]...)
		out = append(out, Text(last.Text+first.Text))
		return append(out, incoming[1:]...)
	}

	out := make([]Part, 0, len(current)+len(incoming))
	out = append(out, current...)
	return append(out, incoming...)
}
