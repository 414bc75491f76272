package parser

import (
	"bytes"

	"github.com/brunobiangulo/goobj/pool"
)

// chunkBoundary returns the byte offset where chunk k of n begins. The
// nominal offset k*ceil(len/n) is moved forward past the next '\n', so
// every chunk starts on the first byte of a line. Boundary 0 is always 0
// and boundary n is always len(doc). Boundaries never decrease in k.
func chunkBoundary(doc []byte, k, n int) int {
	if k <= 0 {
		return 0
	}
	if k >= n {
		return len(doc)
	}
	size := (len(doc) + n - 1) / n
	pos := k * size
	if pos >= len(doc) {
		return len(doc)
	}
	i := bytes.IndexByte(doc[pos:], '\n')
	if i < 0 {
		return len(doc)
	}
	return pos + i + 1
}

// chunkRange returns the line-aligned [start, end) range worker id of n
// classifies.
func chunkRange(doc []byte, id, n int) (start, end int) {
	return chunkBoundary(doc, id, n), chunkBoundary(doc, id+1, n)
}

// classifyRange splits doc[start:end] into lines and sorts their spans by
// category. start must be the first byte of a line.
func classifyRange(doc []byte, start, end int) ClassifiedSpans {
	var cs ClassifiedSpans
	// Rough per-line size guess to limit regrowth on large chunks.
	guess := (end - start) / 32
	for _, cat := range attributeCategories {
		cs.Lines[cat] = make([]LineSpan, 0, guess/2)
	}
	cs.Lines[IndexOrGroup] = make([]LineSpan, 0, guess/2)

	for pos := start; pos < end; {
		lineEnd, next := end, end
		if i := bytes.IndexByte(doc[pos:end], '\n'); i >= 0 {
			lineEnd = pos + i
			next = lineEnd + 1
		}
		if lineEnd > pos && doc[lineEnd-1] == '\r' {
			lineEnd--
		}

		span := LineSpan{Start: pos, End: lineEnd}
		switch cat, kind := classifyLine(span.Bytes(doc)); kind {
		case kindCategory:
			cs.Lines[cat] = append(cs.Lines[cat], span)
		case kindUnknown:
			cs.Unknown = append(cs.Unknown, span)
		}
		pos = next
	}
	return cs
}

// Partition runs phase 0: every pool worker classifies the lines of its own
// line-aligned chunk of doc. The result is indexed by worker id, which is
// also document order.
func Partition(p *pool.Pool, doc []byte) ([]ClassifiedSpans, error) {
	n := p.Size()
	return pool.Run(p, func(id int) (ClassifiedSpans, error) {
		start, end := chunkRange(doc, id, n)
		return classifyRange(doc, start, end), nil
	})
}
