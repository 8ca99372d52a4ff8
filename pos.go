package trunnel

import "fmt"

// Range identifies a half-open span of rune offsets within a schema's
// source text. It is attached to every AST node so that Checker and
// Annotator failures can point back at the offending source.
type Range struct {
	Start, End int
	Line       int
}

// NewRange builds a Range spanning [start, end) on the given source line.
func NewRange(start, end, line int) Range {
	return Range{Start: start, End: end, Line: line}
}

func (r Range) String() string {
	if r.Start == r.End {
		return fmt.Sprintf("line %d", r.Line)
	}
	return fmt.Sprintf("line %d (%d..%d)", r.Line, r.Start, r.End)
}
