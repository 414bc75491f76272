// Command objbench times the parallel OBJ parser against the sequential
// reference parser and checks that both produce the same stream.
//
// Usage:
//
//	go run ./cmd/objbench --file ./models/sponza.obj --workers 1,2,4,8 --runs 5
//
// It exits with status 1 when any parallel result differs from the
// reference result.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/brunobiangulo/goobj/parser"
	"github.com/brunobiangulo/goobj/pool"
)

// stringSlice implements flag.Value for multi-value string flags.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ", ") }
func (s *stringSlice) Set(val string) error {
	*s = append(*s, val)
	return nil
}

func main() {
	var files stringSlice

	var (
		workersFlag = flag.String("workers", defaultWorkers(), "Comma-separated pool sizes to benchmark")
		runs        = flag.Int("runs", 3, "Parses per configuration; the fastest is reported")
		verbose     = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Var(&files, "file", "OBJ file to parse (can be repeated)")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	files = append(files, flag.Args()...)
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "objbench: at least one --file is required")
		flag.Usage()
		os.Exit(2)
	}
	sizes, err := parseSizes(*workersFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "objbench: %v\n", err)
		os.Exit(2)
	}
	if *runs < 1 {
		*runs = 1
	}

	ctx := context.Background()
	ok := true
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("reading file", "path", path, "error", err)
			os.Exit(1)
		}
		if !bench(ctx, path, data, sizes, *runs) {
			ok = false
		}
	}
	if !ok {
		os.Exit(1)
	}
}

func defaultWorkers() string {
	var sizes []string
	for n := 1; n <= runtime.NumCPU(); n *= 2 {
		sizes = append(sizes, strconv.Itoa(n))
	}
	return strings.Join(sizes, ",")
}

func parseSizes(s string) ([]int, error) {
	var sizes []int
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid worker count %q", f)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}

// bench prints one table for a file and reports whether every parallel
// configuration matched the reference stream.
func bench(ctx context.Context, path string, data []byte, sizes []int, runs int) bool {
	fmt.Printf("\n%s (%d bytes)\n", path, len(data))
	fmt.Println(header())

	want, refTime, err := timeParse(ctx, parser.ReferenceParser{}, data, runs)
	if err != nil {
		fmt.Printf("%-10s error: %v\n", parser.MethodReference, err)
		return false
	}
	printRow(want, refTime)
	ref := parser.Flatten(want.Groups)

	ok := true
	for _, n := range sizes {
		p := pool.New(n)
		res, elapsed, err := timeParse(ctx, parser.NewOBJParser(p), data, runs)
		p.Close()
		if err != nil {
			fmt.Printf("%-10s %8d error: %v\n", parser.MethodParallel, n, err)
			ok = false
			continue
		}
		printRow(res, elapsed)

		if !sameStream(ref, parser.Flatten(res.Groups)) {
			slog.Error("parallel result differs from reference", "path", path, "workers", n)
			ok = false
		}
	}
	if len(want.Stats.UnknownKeywords) > 0 {
		fmt.Printf("skipped %d lines: %s\n", want.Stats.UnknownLines, strings.Join(want.Stats.UnknownKeywords, " "))
	}
	return ok
}

// timeParse keeps the fastest of runs parses.
func timeParse(ctx context.Context, p parser.Parser, data []byte, runs int) (*parser.ParseResult, time.Duration, error) {
	var (
		best    *parser.ParseResult
		fastest time.Duration
	)
	for i := 0; i < runs; i++ {
		start := time.Now()
		res, err := p.Parse(ctx, data)
		elapsed := time.Since(start)
		if err != nil {
			return nil, 0, err
		}
		if best == nil || elapsed < fastest {
			best, fastest = res, elapsed
		}
	}
	return best, fastest, nil
}

const rowFormat = "%-10s %8v %10v %12v %12v %12v %12v %12v"

func header() string {
	return fmt.Sprintf(rowFormat,
		"method", "workers", "groups", "corners", "partition", "materialize", "assemble", "total")
}

func printRow(res *parser.ParseResult, total time.Duration) {
	fmt.Println(formatRow(res, total))
}

// formatRow renders one parse, phase timings rounded to microseconds.
func formatRow(res *parser.ParseResult, total time.Duration) string {
	s := res.Stats
	return fmt.Sprintf(rowFormat,
		res.Method, s.Workers, s.Groups, s.Corners,
		s.Partition.Round(time.Microsecond),
		s.Materialize.Round(time.Microsecond),
		s.Assemble.Round(time.Microsecond),
		total.Round(time.Microsecond))
}

func sameStream(a, b parser.VertexData) bool {
	return slices.Equal(a.Position, b.Position) &&
		slices.Equal(a.Texcoord, b.Texcoord) &&
		slices.Equal(a.Normal, b.Normal)
}
