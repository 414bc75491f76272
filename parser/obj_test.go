package parser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"testing"
)

// randomDoc builds a valid document with interleaved attribute, face and
// group lines plus comments, blank lines and unknown keywords. It returns
// the document, its attribute lines in order, and the face lines of every
// group; groups[0] is the implicit group before the first `g` line.
func randomDoc(rng *rand.Rand, crlf bool) (doc string, attrs []string, groups [][]string) {
	np := 1 + rng.Intn(30)
	nt := rng.Intn(8)
	nn := rng.Intn(8)

	num := func() string {
		v := (rng.Float64() - 0.5) * 200
		switch rng.Intn(5) {
		case 0:
			return fmt.Sprintf("%d", int(v))
		case 1:
			return fmt.Sprintf("%e", v)
		default:
			return fmt.Sprintf("%.*f", rng.Intn(7), v)
		}
	}
	sep := func() string {
		return []string{" ", " ", "  ", "\t"}[rng.Intn(4)]
	}
	line := func(fields ...string) string {
		var b strings.Builder
		if rng.Intn(8) == 0 {
			b.WriteString(sep())
		}
		for i, f := range fields {
			if i > 0 {
				b.WriteString(sep())
			}
			b.WriteString(f)
		}
		return b.String()
	}

	// Attribute lines keep per-category order but are shuffled together.
	remaining := []int{np, nt, nn}
	for remaining[0]+remaining[1]+remaining[2] > 0 {
		cat := rng.Intn(3)
		if remaining[cat] == 0 {
			continue
		}
		remaining[cat]--
		switch cat {
		case 0:
			attrs = append(attrs, line("v", num(), num(), num()))
		case 1:
			attrs = append(attrs, line("vt", num(), num()))
		case 2:
			attrs = append(attrs, line("vn", num(), num(), num()))
		}
	}

	face := func() string {
		forms := []int{0}
		if nt > 0 {
			forms = append(forms, 1)
		}
		if nn > 0 {
			forms = append(forms, 2)
		}
		if nt > 0 && nn > 0 {
			forms = append(forms, 3)
		}
		form := forms[rng.Intn(len(forms))]
		fields := []string{"f"}
		for k := 3 + rng.Intn(4); k > 0; k-- {
			p := 1 + rng.Intn(np)
			switch form {
			case 0:
				fields = append(fields, fmt.Sprint(p))
			case 1:
				fields = append(fields, fmt.Sprintf("%d/%d", p, 1+rng.Intn(nt)))
			case 2:
				fields = append(fields, fmt.Sprintf("%d//%d", p, 1+rng.Intn(nn)))
			case 3:
				fields = append(fields, fmt.Sprintf("%d/%d/%d", p, 1+rng.Intn(nt), 1+rng.Intn(nn)))
			}
		}
		return line(fields...)
	}

	groups = [][]string{nil}
	var index []string
	for k := rng.Intn(60); k > 0; k-- {
		if rng.Intn(10) == 0 {
			index = append(index, line("g", fmt.Sprintf("part_%d", len(groups))))
			groups = append(groups, nil)
			continue
		}
		f := face()
		index = append(index, f)
		groups[len(groups)-1] = append(groups[len(groups)-1], f)
	}

	noise := []string{"# comment", "", "   ", "mtllib scene.mtl", "usemtl red", "s 1", "o thing"}
	var lines []string
	a, i := 0, 0
	for a < len(attrs) || i < len(index) {
		if rng.Intn(6) == 0 {
			lines = append(lines, noise[rng.Intn(len(noise))])
		}
		if i == len(index) || (a < len(attrs) && rng.Intn(2) == 0) {
			lines = append(lines, attrs[a])
			a++
		} else {
			lines = append(lines, index[i])
			i++
		}
	}

	eol := "\n"
	if crlf {
		eol = "\r\n"
	}
	doc = strings.Join(lines, eol)
	if rng.Intn(3) > 0 {
		doc += eol
	}
	return doc, attrs, groups
}

func parseParallel(t *testing.T, n int, doc string) *ParseResult {
	t.Helper()
	res, err := NewOBJParser(newTestPool(t, n)).Parse(context.Background(), []byte(doc))
	if err != nil {
		t.Fatalf("n=%d: Parse: %v", n, err)
	}
	return res
}

func equalVertexData(a, b VertexData) bool {
	return slices.Equal(a.Position, b.Position) &&
		slices.Equal(a.Texcoord, b.Texcoord) &&
		slices.Equal(a.Normal, b.Normal)
}

func TestParseSingleTriangle(t *testing.T) {
	doc := "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"
	for n := 1; n <= 4; n++ {
		res := parseParallel(t, n, doc)
		if len(res.Groups) != 1 {
			t.Fatalf("n=%d: got %d groups, want 1", n, len(res.Groups))
		}
		g := res.Groups[0]
		want := []float32{0, 0, 0, 1, 0, 0, 0, 1, 0}
		if !slices.Equal(g.Position, want) {
			t.Errorf("n=%d: positions = %v, want %v", n, g.Position, want)
		}
		if len(g.Texcoord) != 0 || len(g.Normal) != 0 {
			t.Errorf("n=%d: expected no texcoords or normals, got %d/%d", n, len(g.Texcoord), len(g.Normal))
		}
		if res.Method != MethodParallel {
			t.Errorf("method = %q, want %q", res.Method, MethodParallel)
		}
	}
}

func TestParsePentagonFan(t *testing.T) {
	doc := "v 0 0 0\nv 1 0 0\nv 2 1 0\nv 1 2 0\nv 0 1 0\nvn 0 0 1\nf 1//1 2//1 3//1 4//1 5//1\n"
	res := parseParallel(t, 3, doc)
	g := res.Groups[0]
	if g.Corners() != 9 || g.Triangles() != 3 {
		t.Fatalf("corners = %d, triangles = %d, want 9 and 3", g.Corners(), g.Triangles())
	}
	wantPos := []float32{
		0, 0, 0, 1, 0, 0, 2, 1, 0,
		0, 0, 0, 2, 1, 0, 1, 2, 0,
		0, 0, 0, 1, 2, 0, 0, 1, 0,
	}
	if !slices.Equal(g.Position, wantPos) {
		t.Errorf("positions = %v, want %v", g.Position, wantPos)
	}
	if len(g.Normal) != 27 {
		t.Errorf("normals = %d floats, want 27", len(g.Normal))
	}
}

func TestParseCornerForms(t *testing.T) {
	doc := "v 1 2 3\nv 4 5 6\nv 7 8 9\nvt 0.5 0.25\nvn 0 1 0\n" +
		"f 1/1 2/1 3/1\n" +
		"f 1/1/1 2/1/1 3/1/1\n"
	res := parseParallel(t, 2, doc)
	g := res.Groups[0]
	if g.Corners() != 6 {
		t.Fatalf("corners = %d, want 6", g.Corners())
	}
	if len(g.Texcoord) != 12 {
		t.Errorf("texcoords = %d floats, want 12", len(g.Texcoord))
	}
	if len(g.Normal) != 9 {
		t.Errorf("normals = %d floats, want 9", len(g.Normal))
	}
	if !slices.Equal(g.Texcoord[:2], []float32{0.5, 0.25}) {
		t.Errorf("first texcoord = %v", g.Texcoord[:2])
	}
}

func TestParseIndexOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		face  string
		token string
	}{
		{"past end", "f 1 2 4", "4"},
		{"zero", "f 0 1 2", "0"},
		{"negative", "f 1 2 -1", "-1"},
		{"missing texcoord", "f 1/1 2/1 3/1", "1/1"},
		{"missing normal", "f 1//2 2//2 3//2", "1//2"},
	}
	prefix := "v 0 0 0\nv 1 0 0\nv 0 1 0\n"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := prefix + tt.face + "\n"
			for n := 1; n <= 8; n++ {
				_, err := NewOBJParser(newTestPool(t, n)).Parse(context.Background(), []byte(doc))
				if !errors.Is(err, ErrIndexOutOfRange) {
					t.Fatalf("n=%d: err = %v, want %v", n, err, ErrIndexOutOfRange)
				}
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Fatalf("n=%d: err %T is not *ParseError", n, err)
				}
				if pe.Start != len(prefix) || pe.End != len(prefix)+len(tt.face) || pe.Token != tt.token {
					t.Errorf("n=%d: error at %d-%d token %q, want %d-%d token %q", n,
						pe.Start, pe.End, pe.Token, len(prefix), len(prefix)+len(tt.face), tt.token)
				}
			}
		})
	}
}

func TestParseMalformedFaces(t *testing.T) {
	tests := []struct {
		name string
		face string
		want error
	}{
		{"two corners", "f 1 2", ErrMissingToken},
		{"empty position", "f /1 2 3", ErrMalformedNumber},
		{"letters", "f 1 a 3", ErrMalformedNumber},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := "v 0 0 0\nv 1 0 0\nv 0 1 0\nvt 0 0\n" + tt.face + "\n"
			_, err := NewOBJParser(newTestPool(t, 2)).Parse(context.Background(), []byte(doc))
			if !errors.Is(err, tt.want) {
				t.Fatalf("parallel err = %v, want %v", err, tt.want)
			}
			if _, err := Reference([]byte(doc)); !errors.Is(err, tt.want) {
				t.Fatalf("reference err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseNamedGroups(t *testing.T) {
	doc := "v 0 0 0\nv 1 0 0\nv 0 1 0\nv 1 1 0\n" +
		"f 1 2 3\n" +
		"g left\nf 1 2 4\nf 2 3 4\n" +
		"g right arm\nf 4 3 2\n"
	for n := 1; n <= 8; n++ {
		res := parseParallel(t, n, doc)
		names := make([]string, len(res.Groups))
		corners := make([]int, len(res.Groups))
		for i, g := range res.Groups {
			names[i] = g.Name
			corners[i] = g.Corners()
		}
		if !slices.Equal(names, []string{"", "left", "right arm"}) {
			t.Errorf("n=%d: names = %q", n, names)
		}
		if !slices.Equal(corners, []int{3, 6, 3}) {
			t.Errorf("n=%d: corners = %v, want [3 6 3]", n, corners)
		}

		want, err := Reference([]byte(doc))
		if err != nil {
			t.Fatalf("Reference: %v", err)
		}
		if !equalVertexData(Flatten(res.Groups), want) {
			t.Errorf("n=%d: flattened result differs from reference", n)
		}
	}
}

func TestParseStitchesGroupAcrossWorkers(t *testing.T) {
	doc := "v 0 0 0\nv 1 0 0\nv 0 1 0\ng big\n" + strings.Repeat("f 1 2 3\n", 40)
	res := parseParallel(t, 4, doc)
	if len(res.Groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(res.Groups))
	}
	if c := res.Groups[0].Corners(); c != 0 {
		t.Errorf("implicit group has %d corners, want 0", c)
	}
	big := res.Groups[1]
	if big.Name != "big" || big.Corners() != 120 {
		t.Errorf("group %q has %d corners, want big with 120", big.Name, big.Corners())
	}
}

func TestParseEmptyDocument(t *testing.T) {
	for _, doc := range []string{"", "\n\n", "# only a comment\n"} {
		res := parseParallel(t, 3, doc)
		if len(res.Groups) != 1 || res.Groups[0].Corners() != 0 {
			t.Errorf("%q: got %d groups, want one empty group", doc, len(res.Groups))
		}
	}
}

func TestParseMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 40; i++ {
		doc, _, groups := randomDoc(rng, i%4 == 0)
		want, err := Reference([]byte(doc))
		if err != nil {
			t.Fatalf("doc %d: Reference: %v\n%s", i, err, doc)
		}
		for n := 1; n <= 8; n++ {
			res := parseParallel(t, n, doc)
			if len(res.Groups) != len(groups) {
				t.Fatalf("doc %d n=%d: got %d groups, want %d", i, n, len(res.Groups), len(groups))
			}
			if !equalVertexData(Flatten(res.Groups), want) {
				t.Fatalf("doc %d n=%d: flattened result differs from reference", i, n)
			}
		}
	}
}

func TestParsePreservesGroupOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 20; i++ {
		doc, attrs, groups := randomDoc(rng, false)
		res := parseParallel(t, 1+i%8, doc)

		// Each group must equal its own face lines parsed in isolation.
		header := strings.Join(attrs, "\n") + "\n"
		for gi, faces := range groups {
			want, err := Reference([]byte(header + strings.Join(faces, "\n")))
			if err != nil {
				t.Fatalf("doc %d group %d: Reference: %v", i, gi, err)
			}
			if !equalVertexData(res.Groups[gi].VertexData, want) {
				t.Fatalf("doc %d group %d: contents differ from its face lines", i, gi)
			}
		}
	}
}

func TestParseStats(t *testing.T) {
	doc := "mtllib a.mtl\no thing\nv 0 0 0\nv 1 0 0\nv 0 1 0\nvt 0 0\nvn 0 0 1\ns 1\nusemtl red\nusemtl blue\nf 1 2 3\ng rest\n"
	res := parseParallel(t, 3, doc)
	s := res.Stats
	if s.Workers != 3 || s.Positions != 3 || s.Texcoords != 1 || s.Normals != 1 || s.IndexLines != 2 {
		t.Errorf("stats = %+v", s)
	}
	if s.Groups != 2 || s.Corners != 3 {
		t.Errorf("groups = %d, corners = %d, want 2 and 3", s.Groups, s.Corners)
	}
	if s.UnknownLines != 5 {
		t.Errorf("unknown lines = %d, want 5", s.UnknownLines)
	}
	if want := []string{"mtllib", "o", "s", "usemtl"}; !slices.Equal(s.UnknownKeywords, want) {
		t.Errorf("unknown keywords = %v, want %v", s.UnknownKeywords, want)
	}

	ref, err := ReferenceParser{}.Parse(context.Background(), []byte(doc))
	if err != nil {
		t.Fatalf("reference Parse: %v", err)
	}
	if ref.Stats.UnknownLines != s.UnknownLines || !slices.Equal(ref.Stats.UnknownKeywords, s.UnknownKeywords) {
		t.Errorf("reference unknown = %d %v, want %d %v",
			ref.Stats.UnknownLines, ref.Stats.UnknownKeywords, s.UnknownLines, s.UnknownKeywords)
	}
}

func TestParseCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewOBJParser(newTestPool(t, 2)).Parse(ctx, []byte("v 0 0 0\nf 1 1 1\n"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want %v", err, context.Canceled)
	}
}

func TestReferenceParser(t *testing.T) {
	doc := "v 0 0 0\nv 1 0 0\nv 0 1 0\ng a\nf 1 2 3\ng b\nf 3 2 1\n"
	res, err := ReferenceParser{}.Parse(context.Background(), []byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Method != MethodReference || len(res.Groups) != 1 {
		t.Fatalf("method %q with %d groups, want reference with 1", res.Method, len(res.Groups))
	}
	if c := res.Groups[0].Corners(); c != 6 {
		t.Errorf("corners = %d, want 6", c)
	}
	if res.Stats.Positions != 3 || res.Stats.IndexLines != 4 {
		t.Errorf("stats = %+v", res.Stats)
	}
}

func TestGroupBounds(t *testing.T) {
	g := Group{VertexData: VertexData{Position: []float32{1, -2, 3, -4, 5, 0, 2, 2, 9}}}
	lo, hi, ok := g.Bounds()
	if !ok {
		t.Fatal("expected bounds")
	}
	if lo != [3]float32{-4, -2, 0} || hi != [3]float32{2, 5, 9} {
		t.Errorf("bounds = %v %v", lo, hi)
	}
	if _, _, ok := (Group{}).Bounds(); ok {
		t.Error("empty group reported bounds")
	}
}
