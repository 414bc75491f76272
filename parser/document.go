package parser

// Category is the kind of a classified line, decided by its first token.
type Category uint8

const (
	Position     Category = iota // "v"
	Texcoord                     // "vt"
	Normal                       // "vn"
	IndexOrGroup                 // "f" and "g"

	NumCategories = 4
)

// attributeCategories are the categories materialized into float buffers.
var attributeCategories = [...]Category{Position, Texcoord, Normal}

func (c Category) String() string {
	switch c {
	case Position:
		return "position"
	case Texcoord:
		return "texcoord"
	case Normal:
		return "normal"
	case IndexOrGroup:
		return "index"
	}
	return "unknown"
}

// Components is the number of floats one line of the category stores.
func (c Category) Components() int {
	switch c {
	case Position, Normal:
		return 3
	case Texcoord:
		return 2
	}
	return 0
}

// LineSpan is one logical line of the document as [Start, End) byte
// offsets, exclusive of the line terminator.
type LineSpan struct {
	Start int
	End   int
}

// Bytes returns the span's text within doc.
func (s LineSpan) Bytes(doc []byte) []byte {
	return doc[s.Start:s.End]
}

// ClassifiedSpans holds the lines of one chunk sorted into categories, each
// list in document order. Lines with an unrecognized keyword go to Unknown;
// blank and comment lines are dropped.
type ClassifiedSpans struct {
	Lines   [NumCategories][]LineSpan
	Unknown []LineSpan
}

// Len returns the number of lines classified into cat.
func (c *ClassifiedSpans) Len(cat Category) int {
	return len(c.Lines[cat])
}

// lineKind reports how a line is handled: its category, or skip for
// blank and comment lines, or unknown for any other keyword.
type lineKind uint8

const (
	kindCategory lineKind = iota
	kindSkip
	kindUnknown
)

// classifyLine inspects the leading token of line.
func classifyLine(line []byte) (Category, lineKind) {
	kw, _ := nextField(line)
	if len(kw) == 0 || kw[0] == '#' {
		return 0, kindSkip
	}
	switch string(kw) {
	case "v":
		return Position, kindCategory
	case "vt":
		return Texcoord, kindCategory
	case "vn":
		return Normal, kindCategory
	case "f", "g":
		return IndexOrGroup, kindCategory
	}
	return 0, kindUnknown
}

// keyword returns the leading token of the span's line.
func keyword(doc []byte, s LineSpan) string {
	kw, _ := nextField(s.Bytes(doc))
	return string(kw)
}
