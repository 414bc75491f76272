// Package goobj loads Wavefront OBJ meshes with a parallel parser and
// keeps the parsed groups in a SQLite cache.
package goobj

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/brunobiangulo/goobj/parser"
	"github.com/brunobiangulo/goobj/pool"
	"github.com/brunobiangulo/goobj/report"
	"github.com/brunobiangulo/goobj/store"
)

// Engine is the main entry point for loading and querying meshes.
type Engine interface {
	// Load parses a mesh file and stores its groups. Returns the mesh ID.
	// Skips parsing if the content hash is unchanged.
	Load(ctx context.Context, path string, opts ...LoadOption) (int64, error)

	// ParseBytes parses an in-memory document without storing it.
	ParseBytes(ctx context.Context, data []byte, opts ...LoadOption) (*parser.ParseResult, error)

	// Groups returns the stored groups of a mesh, without attribute data.
	Groups(ctx context.Context, meshID int64) ([]GroupInfo, error)

	// GroupData returns one stored group with its attribute streams.
	GroupData(ctx context.Context, groupID int64) (*parser.Group, error)

	// Update re-checks a mesh by hash. Reloads if changed.
	Update(ctx context.Context, path string) (bool, error)

	// UpdateAll checks all loaded meshes for changes.
	UpdateAll(ctx context.Context) ([]UpdateResult, error)

	// Delete removes a mesh and all associated data.
	Delete(ctx context.Context, meshID int64) error

	// ListMeshes returns all loaded meshes.
	ListMeshes(ctx context.Context) ([]Mesh, error)

	// SimilarGroups returns up to k groups whose bounding boxes are
	// nearest to the given group's, excluding the group itself.
	SimilarGroups(ctx context.Context, groupID int64, k int) ([]GroupMatch, error)

	// Report writes an XLSX summary of a mesh to w.
	Report(ctx context.Context, meshID int64, w io.Writer) error

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// Mesh represents a loaded mesh file.
type Mesh struct {
	ID          int64             `json:"id"`
	Path        string            `json:"path"`
	Filename    string            `json:"filename"`
	Format      string            `json:"format"`
	ContentHash string            `json:"content_hash"`
	ParseMethod string            `json:"parse_method"`
	Status      string            `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

// GroupInfo describes a stored group. Bounds is min xyz followed by max
// xyz, absent for empty groups or when the bounds index is disabled.
type GroupInfo struct {
	ID          int64     `json:"id"`
	Ordinal     int       `json:"ordinal"`
	Name        string    `json:"name"`
	Corners     int       `json:"corners"`
	Triangles   int       `json:"triangles"`
	HasTexcoord bool      `json:"has_texcoord"`
	HasNormal   bool      `json:"has_normal"`
	Bounds      []float32 `json:"bounds,omitempty"`
	RawBytes    int       `json:"raw_bytes"`
	StoredBytes int       `json:"stored_bytes"`
}

// GroupMatch is a group returned by SimilarGroups.
type GroupMatch struct {
	GroupID  int64   `json:"group_id"`
	MeshID   int64   `json:"mesh_id"`
	Path     string  `json:"path"`
	Name     string  `json:"name"`
	Corners  int     `json:"corners"`
	Distance float64 `json:"distance"`
}

// UpdateResult reports the outcome of a mesh update check.
type UpdateResult struct {
	MeshID  int64  `json:"mesh_id"`
	Path    string `json:"path"`
	Changed bool   `json:"changed"`
	Error   error  `json:"error,omitempty"`
}

// LoadOption configures loading behavior.
type LoadOption func(*loadOptions)

type loadOptions struct {
	forceReparse bool
	parseMethod  string
	format       string
	metadata     map[string]string
}

// WithForceReparse forces re-parsing even if the hash hasn't changed.
func WithForceReparse() LoadOption {
	return func(o *loadOptions) { o.forceReparse = true }
}

// WithParseMethod selects parser.MethodParallel (default) or
// parser.MethodReference.
func WithParseMethod(method string) LoadOption {
	return func(o *loadOptions) { o.parseMethod = method }
}

// WithFormat overrides the format taken from the file extension. ParseBytes
// defaults to "obj".
func WithFormat(format string) LoadOption {
	return func(o *loadOptions) { o.format = format }
}

// WithMetadata attaches custom metadata to the loaded mesh.
func WithMetadata(metadata map[string]string) LoadOption {
	return func(o *loadOptions) { o.metadata = metadata }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg     Config
	store   *store.Store
	pool    *pool.Pool
	parsers *parser.Registry
	closed  atomic.Bool
}

// New creates a new goobj engine with the given configuration.
func New(cfg Config) (Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Resolve database path from config (DBPath > DBName+StorageDir > default)
	dbPath := cfg.resolveDBPath()

	s, err := store.New(dbPath, cfg.CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	p := pool.New(cfg.workers())
	slog.Info("engine: ready", "db", dbPath, "workers", p.Size(),
		"compression", cfg.CompressionLevel, "bounds_index", !cfg.SkipBoundsIndex)

	return &engine{
		cfg:     cfg,
		store:   s,
		pool:    p,
		parsers: parser.NewRegistry(p),
	}, nil
}

// Load parses a mesh file and replaces its stored groups.
func (e *engine) Load(ctx context.Context, path string, opts ...LoadOption) (int64, error) {
	if e.closed.Load() {
		return 0, ErrStoreClosed
	}
	options := &loadOptions{}
	for _, o := range opts {
		o(options)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("resolving path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return 0, fmt.Errorf("reading mesh: %w", err)
	}
	hash := contentHash(data)

	// Check if mesh already exists with same hash
	if !options.forceReparse {
		existing, err := e.store.GetMeshByPath(ctx, absPath)
		if err == nil && existing.ContentHash == hash && existing.Status == store.StatusReady {
			slog.Debug("load: unchanged, using cache", "file", existing.Filename, "mesh_id", existing.ID)
			return existing.ID, nil
		}
	}

	format := options.format
	if format == "" {
		format = strings.ToLower(strings.TrimPrefix(filepath.Ext(absPath), "."))
	}
	p, err := e.parsers.GetMethod(format, options.parseMethod)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	// Serialize metadata if present
	var metadataJSON string
	if options.metadata != nil {
		b, err := json.Marshal(options.metadata)
		if err != nil {
			return 0, fmt.Errorf("encoding metadata: %w", err)
		}
		metadataJSON = string(b)
	}

	// Set status to processing
	filename := filepath.Base(absPath)
	meshID, err := e.store.UpsertMesh(ctx, store.Mesh{
		Path:        absPath,
		Filename:    filename,
		Format:      format,
		ContentHash: hash,
		ParseMethod: methodName(options.parseMethod),
		Status:      store.StatusProcessing,
		Metadata:    metadataJSON,
	})
	if err != nil {
		return 0, fmt.Errorf("upserting mesh: %w", err)
	}

	slog.Info("load: parsing mesh", "file", filename, "format", format,
		"mesh_id", meshID, "bytes", len(data))
	start := time.Now()

	parsed, err := p.Parse(ctx, data)
	if err != nil {
		e.failLoad(ctx, meshID, options.parseMethod, err)
		return 0, fmt.Errorf("%w: %s: %w", ErrParsingFailed, filename, err)
	}

	groups := make([]store.Group, len(parsed.Groups))
	for i, g := range parsed.Groups {
		groups[i] = store.Group{
			Name:     g.Name,
			Position: g.Position,
			Texcoord: g.Texcoord,
			Normal:   g.Normal,
		}
		if lo, hi, ok := g.Bounds(); ok && !e.cfg.SkipBoundsIndex {
			groups[i].Bounds = []float32{lo[0], lo[1], lo[2], hi[0], hi[1], hi[2]}
		}
	}
	if _, err := e.store.ReplaceGroups(ctx, meshID, groups); err != nil {
		e.markError(ctx, meshID)
		return 0, fmt.Errorf("storing groups: %w", err)
	}

	e.logParse(ctx, meshID, parsed, nil)
	if err := e.store.UpdateMeshStatus(ctx, meshID, store.StatusReady); err != nil {
		e.markError(ctx, meshID)
		return 0, fmt.Errorf("marking mesh %d ready: %w", meshID, err)
	}

	slog.Info("load: mesh ready",
		"file", filename, "mesh_id", meshID, "method", parsed.Method,
		"groups", parsed.Stats.Groups, "corners", parsed.Stats.Corners,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return meshID, nil
}

// failLoad marks a mesh as errored and records the failed run. The
// bookkeeping outlives ctx, which may be the cause of the failure.
func (e *engine) failLoad(ctx context.Context, meshID int64, method string, parseErr error) {
	slog.Warn("load: parsing failed", "mesh_id", meshID, "error", parseErr)
	ctx = context.WithoutCancel(ctx)
	e.markError(ctx, meshID)
	e.logParse(ctx, meshID, &parser.ParseResult{Method: methodName(method)}, parseErr)
}

// markError sets the error status, logging when that write fails too.
func (e *engine) markError(ctx context.Context, meshID int64) {
	if err := e.store.UpdateMeshStatus(context.WithoutCancel(ctx), meshID, store.StatusError); err != nil {
		slog.Warn("load: could not record error status", "mesh_id", meshID, "error", err)
	}
}

// logParse records a run in the parse log. Failures are logged, not
// returned: the parse itself already succeeded or failed on its own.
func (e *engine) logParse(ctx context.Context, meshID int64, res *parser.ParseResult, parseErr error) {
	st := res.Stats
	entry := store.ParseLog{
		MeshID:          meshID,
		Method:          res.Method,
		Workers:         st.Workers,
		Positions:       st.Positions,
		Texcoords:       st.Texcoords,
		Normals:         st.Normals,
		Groups:          st.Groups,
		Corners:         st.Corners,
		UnknownLines:    st.UnknownLines,
		UnknownKeywords: st.UnknownKeywords,
		Partition:       st.Partition,
		Materialize:     st.Materialize,
		Assemble:        st.Assemble,
	}
	if entry.Workers == 0 && res.Method == parser.MethodParallel {
		entry.Workers = e.pool.Size()
	}
	if parseErr != nil {
		entry.Error = parseErr.Error()
	}
	if err := e.store.LogParse(ctx, entry); err != nil {
		slog.Warn("parse log write failed", "mesh_id", meshID, "error", err)
	}
}

func methodName(method string) string {
	if method == "" {
		return parser.MethodParallel
	}
	return method
}

// ParseBytes parses data without touching the mesh cache. The run is
// still recorded in the parse log.
func (e *engine) ParseBytes(ctx context.Context, data []byte, opts ...LoadOption) (*parser.ParseResult, error) {
	if e.closed.Load() {
		return nil, ErrStoreClosed
	}
	options := &loadOptions{format: "obj"}
	for _, o := range opts {
		o(options)
	}

	p, err := e.parsers.GetMethod(options.format, options.parseMethod)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	parsed, err := p.Parse(ctx, data)
	if err != nil {
		e.logParse(ctx, 0, &parser.ParseResult{Method: methodName(options.parseMethod)}, err)
		return nil, fmt.Errorf("%w: %w", ErrParsingFailed, err)
	}
	e.logParse(ctx, 0, parsed, nil)
	return parsed, nil
}

// getMesh maps a missing row to ErrMeshNotFound.
func (e *engine) getMesh(ctx context.Context, meshID int64) (*store.Mesh, error) {
	m, err := e.store.GetMesh(ctx, meshID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrMeshNotFound, meshID)
	}
	return m, err
}

// Groups returns the groups of a mesh in document order.
func (e *engine) Groups(ctx context.Context, meshID int64) ([]GroupInfo, error) {
	if e.closed.Load() {
		return nil, ErrStoreClosed
	}
	if _, err := e.getMesh(ctx, meshID); err != nil {
		return nil, err
	}
	groups, err := e.store.GetGroupsByMesh(ctx, meshID, false)
	if err != nil {
		return nil, err
	}

	result := make([]GroupInfo, len(groups))
	for i, g := range groups {
		result[i] = GroupInfo{
			ID:          g.ID,
			Ordinal:     g.Ordinal,
			Name:        g.Name,
			Corners:     g.Corners,
			Triangles:   g.Corners / 3,
			HasTexcoord: g.HasTexcoord,
			HasNormal:   g.HasNormal,
			RawBytes:    g.RawBytes,
			StoredBytes: g.StoredBytes,
		}
		if g.Corners == 0 || e.cfg.SkipBoundsIndex {
			continue
		}
		b, err := e.store.GetGroupBounds(ctx, g.ID)
		switch {
		case err == nil:
			result[i].Bounds = b
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("reading bounds of group %d: %w", g.ID, err)
		}
	}
	return result, nil
}

// GroupData returns one group with its attribute streams.
func (e *engine) GroupData(ctx context.Context, groupID int64) (*parser.Group, error) {
	if e.closed.Load() {
		return nil, ErrStoreClosed
	}
	g, err := e.store.GetGroup(ctx, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: group %d", ErrMeshNotFound, groupID)
	}
	if err != nil {
		return nil, err
	}
	return &parser.Group{
		Name: g.Name,
		VertexData: parser.VertexData{
			Position: g.Position,
			Texcoord: g.Texcoord,
			Normal:   g.Normal,
		},
	}, nil
}

// Update checks if a mesh has changed and reloads if needed.
func (e *engine) Update(ctx context.Context, path string) (bool, error) {
	if e.closed.Load() {
		return false, ErrStoreClosed
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("resolving path: %w", err)
	}

	m, err := e.store.GetMeshByPath(ctx, absPath)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrMeshNotFound, absPath)
	}

	hash, err := fileHash(absPath)
	if err != nil {
		return false, fmt.Errorf("hashing file: %w", err)
	}
	if hash == m.ContentHash && m.Status == store.StatusReady {
		return false, nil
	}

	// Keep the method and metadata the mesh was loaded with.
	opts := []LoadOption{WithForceReparse(), WithParseMethod(m.ParseMethod), WithFormat(m.Format)}
	if m.Metadata != "" {
		var md map[string]string
		if err := json.Unmarshal([]byte(m.Metadata), &md); err == nil {
			opts = append(opts, WithMetadata(md))
		}
	}
	if _, err := e.Load(ctx, absPath, opts...); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateAll checks all meshes for changes.
func (e *engine) UpdateAll(ctx context.Context) ([]UpdateResult, error) {
	if e.closed.Load() {
		return nil, ErrStoreClosed
	}
	meshes, err := e.store.ListMeshes(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]UpdateResult, 0, len(meshes))
	for _, m := range meshes {
		changed, err := e.Update(ctx, m.Path)
		results = append(results, UpdateResult{
			MeshID:  m.ID,
			Path:    m.Path,
			Changed: changed,
			Error:   err,
		})
	}
	return results, nil
}

// Delete removes a mesh and all its associated data.
func (e *engine) Delete(ctx context.Context, meshID int64) error {
	if e.closed.Load() {
		return ErrStoreClosed
	}
	if _, err := e.getMesh(ctx, meshID); err != nil {
		return err
	}
	return e.store.DeleteMesh(ctx, meshID)
}

// ListMeshes returns all loaded meshes.
func (e *engine) ListMeshes(ctx context.Context) ([]Mesh, error) {
	if e.closed.Load() {
		return nil, ErrStoreClosed
	}
	meshes, err := e.store.ListMeshes(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Mesh, len(meshes))
	for i, m := range meshes {
		result[i] = Mesh{
			ID:          m.ID,
			Path:        m.Path,
			Filename:    m.Filename,
			Format:      m.Format,
			ContentHash: m.ContentHash,
			ParseMethod: m.ParseMethod,
			Status:      m.Status,
			CreatedAt:   m.CreatedAt,
			UpdatedAt:   m.UpdatedAt,
		}
		if m.Metadata != "" {
			_ = json.Unmarshal([]byte(m.Metadata), &result[i].Metadata)
		}
	}
	return result, nil
}

// SimilarGroups runs a nearest-bounds search seeded with the group's own
// bounds.
func (e *engine) SimilarGroups(ctx context.Context, groupID int64, k int) ([]GroupMatch, error) {
	if e.closed.Load() {
		return nil, ErrStoreClosed
	}
	if k <= 0 {
		k = 5
	}

	bounds, err := e.store.GetGroupBounds(ctx, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: group %d has no indexed bounds", ErrNoResults, groupID)
	}
	if err != nil {
		return nil, err
	}

	// One extra result, since the group finds itself.
	found, err := e.store.SearchBounds(ctx, bounds, k+1)
	if err != nil {
		return nil, fmt.Errorf("bounds search: %w", err)
	}

	matches := make([]GroupMatch, 0, k)
	for _, f := range found {
		if f.GroupID == groupID || len(matches) == k {
			continue
		}
		matches = append(matches, GroupMatch{
			GroupID:  f.GroupID,
			MeshID:   f.MeshID,
			Path:     f.Path,
			Name:     f.Name,
			Corners:  f.Corners,
			Distance: f.Distance,
		})
	}
	if len(matches) == 0 {
		return nil, ErrNoResults
	}
	return matches, nil
}

// Report writes the mesh summary, its groups and its parse history as
// an XLSX workbook.
func (e *engine) Report(ctx context.Context, meshID int64, w io.Writer) error {
	if e.closed.Load() {
		return ErrStoreClosed
	}
	m, err := e.getMesh(ctx, meshID)
	if err != nil {
		return err
	}
	groups, err := e.Groups(ctx, meshID)
	if err != nil {
		return err
	}
	history, err := e.store.ParseHistory(ctx, meshID)
	if err != nil {
		return fmt.Errorf("reading parse history: %w", err)
	}

	corners := 0
	for _, g := range groups {
		corners += g.Corners
	}
	r := &report.Report{
		Summary: []report.Field{
			{Key: "Path", Value: m.Path},
			{Key: "Format", Value: m.Format},
			{Key: "Content hash", Value: m.ContentHash},
			{Key: "Parse method", Value: m.ParseMethod},
			{Key: "Status", Value: m.Status},
			{Key: "Groups", Value: strconv.Itoa(len(groups))},
			{Key: "Corners", Value: strconv.Itoa(corners)},
			{Key: "Updated", Value: m.UpdatedAt},
		},
	}
	for _, g := range groups {
		row := report.GroupRow{
			Ordinal:     g.Ordinal,
			Name:        g.Name,
			Corners:     g.Corners,
			Texcoords:   g.HasTexcoord,
			Normals:     g.HasNormal,
			RawBytes:    g.RawBytes,
			StoredBytes: g.StoredBytes,
		}
		if len(g.Bounds) == 6 {
			row.HasBounds = true
			copy(row.Lo[:], g.Bounds[:3])
			copy(row.Hi[:], g.Bounds[3:])
		}
		r.Groups = append(r.Groups, row)
	}
	for _, h := range history {
		r.History = append(r.History, report.RunRow{
			Method:        h.Method,
			Workers:       h.Workers,
			Groups:        h.Groups,
			Corners:       h.Corners,
			UnknownLines:  h.UnknownLines,
			PartitionUS:   h.Partition.Microseconds(),
			MaterializeUS: h.Materialize.Microseconds(),
			AssembleUS:    h.Assemble.Microseconds(),
			Error:         h.Error,
			CreatedAt:     h.CreatedAt,
		})
	}
	return report.Write(w, r)
}

// Store returns the underlying store for diagnostic access.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close shuts down the worker pool and the store. Calling it again is a
// no-op.
func (e *engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.pool.Close()
	return e.store.Close()
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// fileHash computes the SHA-256 hash of a file's content.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
