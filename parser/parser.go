package parser

import "context"

// Parse methods recorded on ParseResult.Method.
const (
	MethodParallel  = "parallel"
	MethodReference = "reference"
)

// VertexData is a flat, GPU-ready attribute stream. Every k-th triple of
// Position, pair of Texcoord and triple of Normal belong to the same face
// corner. Texcoord and Normal are empty when the source omits them.
type VertexData struct {
	Position []float32 `json:"position"`
	Texcoord []float32 `json:"texcoord"`
	Normal   []float32 `json:"normal"`
}

// Corners returns the number of expanded face corners.
func (v VertexData) Corners() int {
	return len(v.Position) / 3
}

// Triangles returns the number of triangles the corners form.
func (v VertexData) Triangles() int {
	return v.Corners() / 3
}

func (v *VertexData) extend(o VertexData) {
	v.Position = append(v.Position, o.Position...)
	v.Texcoord = append(v.Texcoord, o.Texcoord...)
	v.Normal = append(v.Normal, o.Normal...)
}

// Group is one drawable unit: the expanded corners of all faces between
// two `g` lines. The implicit first group and groups continued across a
// worker boundary have an empty Name unless a `g` line named them.
type Group struct {
	Name string `json:"name,omitempty"`
	VertexData
}

// Bounds returns the axis-aligned bounding box of the group's positions.
// ok is false for a group without corners.
func (g Group) Bounds() (lo, hi [3]float32, ok bool) {
	if len(g.Position) < 3 {
		return lo, hi, false
	}
	copy(lo[:], g.Position[:3])
	copy(hi[:], g.Position[:3])
	for i := 3; i+2 < len(g.Position); i += 3 {
		for c := 0; c < 3; c++ {
			v := g.Position[i+c]
			if v < lo[c] {
				lo[c] = v
			}
			if v > hi[c] {
				hi[c] = v
			}
		}
	}
	return lo, hi, true
}

// Flatten concatenates the groups, in order, into one stream.
func Flatten(groups []Group) VertexData {
	var out VertexData
	for _, g := range groups {
		out.extend(g.VertexData)
	}
	return out
}

// ParseResult is what a parser produces from one document.
type ParseResult struct {
	Groups []Group // Ordered as first seen in the document
	Method string  // MethodParallel or MethodReference
	Stats  Stats
}

// Parser turns the full contents of a geometry document into groups.
type Parser interface {
	Parse(ctx context.Context, data []byte) (*ParseResult, error)
	SupportedFormats() []string
}
