package parser

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/brunobiangulo/goobj/pool"
)

// Stats describes one parse.
type Stats struct {
	Workers         int           `json:"workers"`
	Positions       int           `json:"positions"`
	Texcoords       int           `json:"texcoords"`
	Normals         int           `json:"normals"`
	IndexLines      int           `json:"index_lines"`
	UnknownLines    int           `json:"unknown_lines"`
	UnknownKeywords []string      `json:"unknown_keywords,omitempty"`
	Groups          int           `json:"groups"`
	Corners         int           `json:"corners"`
	Partition       time.Duration `json:"partition"`
	Materialize     time.Duration `json:"materialize"`
	Assemble        time.Duration `json:"assemble"`
}

// OBJParser is the parallel parser. It splits every document across the
// workers of a shared pool in three phases: partition, materialize and
// assemble.
type OBJParser struct {
	pool *pool.Pool
}

// NewOBJParser returns a parser that runs its phases on p. The caller
// keeps ownership of p and closes it after the last parse.
func NewOBJParser(p *pool.Pool) *OBJParser {
	return &OBJParser{pool: p}
}

func (p *OBJParser) SupportedFormats() []string { return []string{"obj"} }

// Parse converts data into ordered groups. A malformed line aborts the
// whole parse with a *ParseError; no partial result is returned.
func (p *OBJParser) Parse(ctx context.Context, data []byte) (*ParseResult, error) {
	stats := Stats{Workers: p.pool.Size()}

	start := time.Now()
	chunks, err := Partition(p.pool, data)
	if err != nil {
		return nil, err
	}
	plan := Rebalance(chunks, p.pool.Size())
	stats.Partition = time.Since(start)
	stats.Positions = plan.Totals[Position]
	stats.Texcoords = plan.Totals[Texcoord]
	stats.Normals = plan.Totals[Normal]
	stats.IndexLines = plan.Totals[IndexOrGroup]
	stats.UnknownLines, stats.UnknownKeywords = reportUnknown(ctx, data, chunks)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	attrs, err := Materialize(p.pool, data, plan)
	if err != nil {
		return nil, err
	}
	stats.Materialize = time.Since(start)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	groups, err := Assemble(p.pool, data, plan.Buckets[IndexOrGroup], attrs)
	if err != nil {
		return nil, err
	}
	stats.Assemble = time.Since(start)
	stats.Groups = len(groups)
	for _, g := range groups {
		stats.Corners += g.Corners()
	}

	slog.Debug("parser: parallel parse complete",
		"workers", stats.Workers, "groups", stats.Groups, "corners", stats.Corners,
		"partition", stats.Partition.Round(time.Microsecond),
		"materialize", stats.Materialize.Round(time.Microsecond),
		"assemble", stats.Assemble.Round(time.Microsecond))

	return &ParseResult{Groups: groups, Method: MethodParallel, Stats: stats}, nil
}

// reportUnknown logs every line whose keyword is not recognized and
// returns their count and the distinct keywords, sorted. Such lines are
// skipped, never fatal.
func reportUnknown(ctx context.Context, doc []byte, chunks []ClassifiedSpans) (int, []string) {
	debug := slog.Default().Enabled(ctx, slog.LevelDebug)
	seen := make(map[string]int)
	total := 0
	for i := range chunks {
		for _, s := range chunks[i].Unknown {
			kw := keyword(doc, s)
			seen[kw]++
			total++
			if debug {
				slog.Debug("parser: skipping unknown keyword", "keyword", kw, "start", s.Start, "end", s.End)
			}
		}
	}
	if total == 0 {
		return 0, nil
	}

	keywords := make([]string, 0, len(seen))
	for kw := range seen {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)
	slog.Info("parser: skipped lines with unknown keywords", "lines", total, "keywords", keywords)
	return total, keywords
}
