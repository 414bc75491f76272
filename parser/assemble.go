package parser

import (
	"bytes"

	"github.com/brunobiangulo/goobj/pool"
)

// corner is one resolved face corner. Indices are 0-based; -1 marks an
// absent texcoord or normal.
type corner struct {
	position int
	texcoord int
	normal   int
}

// fragment is one phase 2 worker's output. When continues is set, the
// first group carries on the last group of the previous worker.
type fragment struct {
	groups    []Group
	continues bool
}

// Assemble runs phase 2 over the index/group buckets and stitches the
// per-worker fragments into the final ordered groups.
func Assemble(p *pool.Pool, doc []byte, buckets [][]LineSpan, attrs *AttributeBuffer) ([]Group, error) {
	frags, err := pool.Run(p, func(id int) (fragment, error) {
		groups, err := assembleBucket(doc, buckets[id], attrs)
		if err != nil {
			return fragment{}, err
		}
		return fragment{groups: groups, continues: id > 0}, nil
	})
	if err != nil {
		return nil, err
	}
	return stitch(frags), nil
}

// assembleBucket expands the face and group lines of one bucket. The
// result always holds at least one group: the one open before the first
// `g` line of the bucket.
func assembleBucket(doc []byte, spans []LineSpan, attrs *AttributeBuffer) ([]Group, error) {
	groups := []Group{{}}
	counts := [NumCategories]int{
		Position: attrs.Count(Position),
		Texcoord: attrs.Count(Texcoord),
		Normal:   attrs.Count(Normal),
	}
	var scratch []corner

	for _, s := range spans {
		kw, rest := nextField(s.Bytes(doc))
		switch string(kw) {
		case "g":
			groups = append(groups, Group{Name: string(bytes.TrimSpace(rest))})
		case "f":
			var err error
			scratch, err = parseFace(s, rest, counts, scratch[:0])
			if err != nil {
				return nil, err
			}
			emitFan(&groups[len(groups)-1].VertexData, scratch, attrs)
		}
	}
	return groups, nil
}

// parseFace resolves every corner of a face line into dst.
func parseFace(s LineSpan, rest []byte, counts [NumCategories]int, dst []corner) ([]corner, error) {
	for {
		var tok []byte
		tok, rest = nextField(rest)
		if tok == nil {
			break
		}
		c, err := parseCorner(s, tok, counts)
		if err != nil {
			return dst, err
		}
		dst = append(dst, c)
	}
	if len(dst) < 3 {
		return dst, lineError(ErrMissingToken, s, nil)
	}
	return dst, nil
}

// parseCorner resolves a "p", "p/t", "p//n" or "p/t/n" token against the
// attribute counts, converting 1-based references to 0-based.
func parseCorner(s LineSpan, tok []byte, counts [NumCategories]int) (corner, error) {
	c := corner{position: -1, texcoord: -1, normal: -1}
	targets := [...]struct {
		dst *int
		cat Category
	}{
		{&c.position, Position},
		{&c.texcoord, Texcoord},
		{&c.normal, Normal},
	}

	part := tok
	for i, t := range targets {
		var field []byte
		if j := bytes.IndexByte(part, '/'); j >= 0 {
			field, part = part[:j], part[j+1:]
		} else {
			field, part = part, nil
		}

		if len(field) == 0 {
			// Only texcoord and normal may be left out.
			if i == 0 {
				return c, lineError(ErrMalformedNumber, s, tok)
			}
		} else {
			idx, ok := parseIndex(field)
			if !ok {
				return c, lineError(ErrMalformedNumber, s, tok)
			}
			if idx < 1 || idx > counts[t.cat] {
				return c, lineError(ErrIndexOutOfRange, s, tok)
			}
			*t.dst = idx - 1
		}
		if part == nil {
			break
		}
	}
	return c, nil
}

// emitFan triangulates the corners as a fan around the first one,
// (0,1,2), (0,2,3), ..., appending the resolved attributes to dst.
func emitFan(dst *VertexData, corners []corner, attrs *AttributeBuffer) {
	for k := 1; k+1 < len(corners); k++ {
		emitCorner(dst, corners[0], attrs)
		emitCorner(dst, corners[k], attrs)
		emitCorner(dst, corners[k+1], attrs)
	}
}

func emitCorner(dst *VertexData, c corner, attrs *AttributeBuffer) {
	p := c.position * 3
	dst.Position = append(dst.Position, attrs.Position[p:p+3]...)
	if c.texcoord >= 0 {
		t := c.texcoord * 2
		dst.Texcoord = append(dst.Texcoord, attrs.Texcoord[t:t+2]...)
	}
	if c.normal >= 0 {
		n := c.normal * 3
		dst.Normal = append(dst.Normal, attrs.Normal[n:n+3]...)
	}
}

// stitch concatenates fragments in worker id order. A continuing
// fragment's first group is appended onto the last group emitted so far;
// its remaining groups become new groups. The last group is kept even
// when empty.
func stitch(frags []fragment) []Group {
	var out []Group
	for _, f := range frags {
		groups := f.groups
		if f.continues && len(out) > 0 && len(groups) > 0 {
			out[len(out)-1].extend(groups[0].VertexData)
			groups = groups[1:]
		}
		out = append(out, groups...)
	}
	return out
}
