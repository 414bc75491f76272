package parser

import (
	"bytes"
	"context"
	"slices"
	"time"
)

// ReferenceParser is the single-threaded parser. It walks the document
// line by line and produces one ungrouped stream; it exists to check the
// parallel parser and for documents too small to be worth splitting.
type ReferenceParser struct{}

func (ReferenceParser) SupportedFormats() []string { return []string{"obj"} }

// Parse returns a single group holding the whole stream.
func (ReferenceParser) Parse(ctx context.Context, data []byte) (*ParseResult, error) {
	start := time.Now()
	v, stats, err := reference(data)
	if err != nil {
		return nil, err
	}
	stats.Workers = 1
	stats.Groups = 1
	stats.Corners = v.Corners()
	stats.Assemble = time.Since(start)
	return &ParseResult{
		Groups: []Group{{VertexData: v}},
		Method: MethodReference,
		Stats:  stats,
	}, nil
}

// Reference parses doc sequentially into one stream. Group lines are
// accepted and ignored, so the result equals the parallel result
// flattened with Flatten.
func Reference(doc []byte) (VertexData, error) {
	v, _, err := reference(doc)
	return v, err
}

func reference(doc []byte) (VertexData, Stats, error) {
	var (
		out   VertexData
		stats Stats
		attrs AttributeBuffer
		faces []LineSpan
		seen  = make(map[string]bool)
	)

	// Attributes first: faces may reference any attribute in the document.
	for pos := 0; pos < len(doc); {
		end := len(doc)
		next := end
		if i := bytes.IndexByte(doc[pos:], '\n'); i >= 0 {
			end = pos + i
			next = end + 1
		}
		if end > pos && doc[end-1] == '\r' {
			end--
		}
		s := LineSpan{Start: pos, End: end}
		pos = next

		cat, kind := classifyLine(s.Bytes(doc))
		switch kind {
		case kindSkip:
			continue
		case kindUnknown:
			stats.UnknownLines++
			if kw := keyword(doc, s); !seen[kw] {
				seen[kw] = true
				stats.UnknownKeywords = append(stats.UnknownKeywords, kw)
			}
			continue
		}

		var err error
		switch cat {
		case Position:
			stats.Positions++
			attrs.Position, err = appendComponents(doc, s, attrs.Position, 3)
		case Texcoord:
			stats.Texcoords++
			attrs.Texcoord, err = appendComponents(doc, s, attrs.Texcoord, 2)
		case Normal:
			stats.Normals++
			attrs.Normal, err = appendComponents(doc, s, attrs.Normal, 3)
		case IndexOrGroup:
			stats.IndexLines++
			faces = append(faces, s)
		}
		if err != nil {
			return VertexData{}, stats, err
		}
	}

	slices.Sort(stats.UnknownKeywords)

	counts := [NumCategories]int{
		Position: attrs.Count(Position),
		Texcoord: attrs.Count(Texcoord),
		Normal:   attrs.Count(Normal),
	}
	var scratch []corner
	for _, s := range faces {
		kw, rest := nextField(s.Bytes(doc))
		if string(kw) != "f" {
			continue
		}
		var err error
		scratch, err = parseFace(s, rest, counts, scratch[:0])
		if err != nil {
			return VertexData{}, stats, err
		}
		emitFan(&out, scratch, &attrs)
	}
	return out, stats, nil
}

func appendComponents(doc []byte, s LineSpan, dst []float32, comps int) ([]float32, error) {
	n := len(dst)
	dst = append(dst, make([]float32, comps)...)
	if err := parseComponents(doc, s, dst[n:]); err != nil {
		return dst[:n], err
	}
	return dst, nil
}
