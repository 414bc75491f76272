package parser

import "github.com/brunobiangulo/goobj/pool"

// AttributeBuffer holds every attribute of the document, 0-based, in
// document order: 3 floats per position and normal, 2 per texcoord.
type AttributeBuffer struct {
	Position []float32
	Texcoord []float32
	Normal   []float32
}

func (a *AttributeBuffer) of(cat Category) []float32 {
	switch cat {
	case Position:
		return a.Position
	case Texcoord:
		return a.Texcoord
	case Normal:
		return a.Normal
	}
	return nil
}

// Count returns the number of entries of cat.
func (a *AttributeBuffer) Count(cat Category) int {
	if c := cat.Components(); c > 0 {
		return len(a.of(cat)) / c
	}
	return 0
}

// newAttributeBuffer allocates every buffer at its final size.
func newAttributeBuffer(totals [NumCategories]int) *AttributeBuffer {
	return &AttributeBuffer{
		Position: make([]float32, totals[Position]*Position.Components()),
		Texcoord: make([]float32, totals[Texcoord]*Texcoord.Components()),
		Normal:   make([]float32, totals[Normal]*Normal.Components()),
	}
}

// splitViews cuts buf into one view per bucket, view i holding exactly
// len(buckets[i])*comps floats at offset comps*sum(len(buckets[:i])). Each
// view's capacity equals its length, so no view can reach a neighbour.
func splitViews(buf []float32, buckets [][]LineSpan, comps int) [][]float32 {
	views := make([][]float32, len(buckets))
	off := 0
	for i, b := range buckets {
		n := len(b) * comps
		views[i] = buf[off : off+n : off+n]
		off += n
	}
	return views
}

// Materialize runs phase 1. Every worker parses the attribute lines of its
// buckets straight into its own views of one pre-sized AttributeBuffer.
func Materialize(p *pool.Pool, doc []byte, plan *Plan) (*AttributeBuffer, error) {
	attrs := newAttributeBuffer(plan.Totals)

	var views [NumCategories][][]float32
	for _, cat := range attributeCategories {
		views[cat] = splitViews(attrs.of(cat), plan.Buckets[cat], cat.Components())
	}

	_, err := pool.Run(p, func(id int) (struct{}, error) {
		for _, cat := range attributeCategories {
			if err := materializeBucket(doc, plan.Buckets[cat][id], cat.Components(), views[cat][id]); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

// materializeBucket writes comps floats per span into dst, in order.
func materializeBucket(doc []byte, spans []LineSpan, comps int, dst []float32) error {
	w := 0
	for _, s := range spans {
		if err := parseComponents(doc, s, dst[w:w+comps]); err != nil {
			return err
		}
		w += comps
	}
	return nil
}

// parseComponents parses the len(out) numbers following the keyword of an
// attribute line. Extra trailing fields are ignored.
func parseComponents(doc []byte, s LineSpan, out []float32) error {
	_, rest := nextField(s.Bytes(doc))
	for i := range out {
		var tok []byte
		tok, rest = nextField(rest)
		if tok == nil {
			return lineError(ErrMissingToken, s, nil)
		}
		f, ok := parseFloat(tok)
		if !ok {
			return lineError(ErrMalformedNumber, s, tok)
		}
		out[i] = f
	}
	return nil
}
