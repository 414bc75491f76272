package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Mesh status values.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// Mesh represents a row in the meshes table.
type Mesh struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	Format      string `json:"format"`
	ContentHash string `json:"content_hash"`
	ParseMethod string `json:"parse_method"`
	Status      string `json:"status"`
	Metadata    string `json:"metadata,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Group represents a row in the mesh_groups table with its attribute
// streams decompressed. Ordinal is the group's position within the mesh.
// Bounds, when set on insert, is indexed in vec_group_bounds; it is not
// loaded back by the group queries.
type Group struct {
	ID          int64     `json:"id"`
	MeshID      int64     `json:"mesh_id"`
	Ordinal     int       `json:"ordinal"`
	Name        string    `json:"name"`
	Corners     int       `json:"corners"`
	HasTexcoord bool      `json:"has_texcoord"`
	HasNormal   bool      `json:"has_normal"`
	Position    []float32 `json:"position,omitempty"`
	Texcoord    []float32 `json:"texcoord,omitempty"`
	Normal      []float32 `json:"normal,omitempty"`
	Bounds      []float32 `json:"bounds,omitempty"`
	RawBytes    int       `json:"raw_bytes"`
	StoredBytes int       `json:"stored_bytes"`
}

// ParseLog represents a row in the parse_log table.
type ParseLog struct {
	MeshID          int64         `json:"mesh_id"`
	Method          string        `json:"method"`
	Workers         int           `json:"workers"`
	Positions       int           `json:"positions"`
	Texcoords       int           `json:"texcoords"`
	Normals         int           `json:"normals"`
	Groups          int           `json:"groups"`
	Corners         int           `json:"corners"`
	UnknownLines    int           `json:"unknown_lines"`
	UnknownKeywords []string      `json:"unknown_keywords,omitempty"`
	Partition       time.Duration `json:"partition"`
	Materialize     time.Duration `json:"materialize"`
	Assemble        time.Duration `json:"assemble"`
	Error           string        `json:"error,omitempty"`
	CreatedAt       string        `json:"created_at,omitempty"`
}

// BoundsMatch is a group found by a bounds search, nearest first.
type BoundsMatch struct {
	GroupID  int64   `json:"group_id"`
	MeshID   int64   `json:"mesh_id"`
	Name     string  `json:"name"`
	Corners  int     `json:"corners"`
	Path     string  `json:"path"`
	Distance float64 `json:"distance"`
}

// Store wraps the SQLite database for all goobj persistence.
type Store struct {
	db    *sql.DB
	codec *codec
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec bounds table. Group
// streams are compressed at the named zstd level; "" selects
// DefaultCompression.
func New(dbPath string, compression string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Create schema
	if _, err := db.Exec(schemaSQL()); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	c, err := newCodec(compression)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, codec: c}

	// Run pending migrations.
	if err := s.Migrate(context.Background()); err != nil {
		s.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.codec.close()
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Mesh operations ---

// UpsertMesh inserts or updates a mesh record. Returns the mesh ID.
func (s *Store) UpsertMesh(ctx context.Context, m Mesh) (int64, error) {
	// LastInsertId is stale after the UPDATE branch, so the id comes from
	// RETURNING in both cases.
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO meshes (path, filename, format, content_hash, parse_method, status, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			filename = excluded.filename,
			format = excluded.format,
			content_hash = excluded.content_hash,
			parse_method = excluded.parse_method,
			status = excluded.status,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`, m.Path, m.Filename, m.Format, m.ContentHash, m.ParseMethod, m.Status, nullString(m.Metadata)).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

const meshColumns = `id, path, filename, format, content_hash, parse_method, status, metadata, created_at, updated_at`

func scanMesh(row interface{ Scan(...any) error }) (*Mesh, error) {
	m := &Mesh{}
	var metadata sql.NullString
	if err := row.Scan(&m.ID, &m.Path, &m.Filename, &m.Format,
		&m.ContentHash, &m.ParseMethod, &m.Status,
		&metadata, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Metadata = metadata.String
	return m, nil
}

// GetMeshByPath retrieves a mesh by its file path.
func (s *Store) GetMeshByPath(ctx context.Context, path string) (*Mesh, error) {
	return scanMesh(s.db.QueryRowContext(ctx,
		"SELECT "+meshColumns+" FROM meshes WHERE path = ?", path))
}

// GetMesh retrieves a mesh by ID.
func (s *Store) GetMesh(ctx context.Context, id int64) (*Mesh, error) {
	return scanMesh(s.db.QueryRowContext(ctx,
		"SELECT "+meshColumns+" FROM meshes WHERE id = ?", id))
}

// ListMeshes returns all meshes, newest first.
func (s *Store) ListMeshes(ctx context.Context) ([]Mesh, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+meshColumns+" FROM meshes ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meshes []Mesh
	for rows.Next() {
		m, err := scanMesh(rows)
		if err != nil {
			return nil, err
		}
		meshes = append(meshes, *m)
	}
	return meshes, rows.Err()
}

// UpdateMeshStatus updates just the status field.
func (s *Store) UpdateMeshStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE meshes SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, id)
	return err
}

// DeleteMesh removes a mesh and cascades to its groups, bounds and parse log.
func (s *Store) DeleteMesh(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := deleteGroups(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM parse_log WHERE mesh_id = ?", id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM meshes WHERE id = ?", id)
		return err
	})
}

// DeleteMeshData removes all groups and bounds of a mesh but keeps the
// mesh record and its parse log.
func (s *Store) DeleteMeshData(ctx context.Context, meshID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return deleteGroups(ctx, tx, meshID)
	})
}

func deleteGroups(ctx context.Context, tx *sql.Tx, meshID int64) error {
	// vec0 tables have no foreign keys, so bounds go first.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM vec_group_bounds WHERE group_id IN (
			SELECT id FROM mesh_groups WHERE mesh_id = ?
		)`, meshID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, "DELETE FROM mesh_groups WHERE mesh_id = ?", meshID)
	return err
}

// --- Group operations ---

// InsertGroups compresses and inserts a batch of groups and returns their
// IDs. Ordinal is taken from each group's index in groups.
func (s *Store) InsertGroups(ctx context.Context, meshID int64, groups []Group) ([]int64, error) {
	var ids []int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		ids, err = s.insertGroups(ctx, tx, meshID, groups)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ReplaceGroups swaps all groups and bounds of a mesh for groups in a
// single transaction.
func (s *Store) ReplaceGroups(ctx context.Context, meshID int64, groups []Group) ([]int64, error) {
	var ids []int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := deleteGroups(ctx, tx, meshID); err != nil {
			return err
		}
		var err error
		ids, err = s.insertGroups(ctx, tx, meshID, groups)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) insertGroups(ctx context.Context, tx *sql.Tx, meshID int64, groups []Group) ([]int64, error) {
	ids := make([]int64, len(groups))

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO mesh_groups (mesh_id, ordinal, name, corners, has_texcoord, has_normal,
			position, texcoord, normal, raw_bytes, stored_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for i, g := range groups {
		pos := s.codec.encode(g.Position)
		tex := s.codec.encode(g.Texcoord)
		norm := s.codec.encode(g.Normal)
		raw := 4 * (len(g.Position) + len(g.Texcoord) + len(g.Normal))
		stored := len(pos) + len(tex) + len(norm)

		res, err := stmt.ExecContext(ctx,
			meshID, i, g.Name, len(g.Position)/3, len(g.Texcoord) > 0, len(g.Normal) > 0,
			pos, tex, norm, raw, stored)
		if err != nil {
			return nil, fmt.Errorf("inserting group %d: %w", i, err)
		}
		if ids[i], err = res.LastInsertId(); err != nil {
			return nil, err
		}

		if g.Bounds != nil {
			if err := insertBounds(ctx, tx, ids[i], g.Bounds); err != nil {
				return nil, fmt.Errorf("indexing group %d bounds: %w", i, err)
			}
		}
	}
	return ids, nil
}

// GetGroupsByMesh returns all groups of a mesh in order. Attribute
// streams are decompressed only when withData is set.
func (s *Store) GetGroupsByMesh(ctx context.Context, meshID int64, withData bool) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mesh_id, ordinal, name, corners, has_texcoord, has_normal,
			position, texcoord, normal, raw_bytes, stored_bytes
		FROM mesh_groups WHERE mesh_id = ? ORDER BY ordinal
	`, meshID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		g, err := s.scanGroup(rows, withData)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

// GetGroup retrieves one group with its attribute streams.
func (s *Store) GetGroup(ctx context.Context, id int64) (*Group, error) {
	return s.scanGroup(s.db.QueryRowContext(ctx, `
		SELECT id, mesh_id, ordinal, name, corners, has_texcoord, has_normal,
			position, texcoord, normal, raw_bytes, stored_bytes
		FROM mesh_groups WHERE id = ?
	`, id), true)
}

func (s *Store) scanGroup(row interface{ Scan(...any) error }, withData bool) (*Group, error) {
	g := &Group{}
	var pos, tex, norm []byte
	if err := row.Scan(&g.ID, &g.MeshID, &g.Ordinal, &g.Name, &g.Corners,
		&g.HasTexcoord, &g.HasNormal, &pos, &tex, &norm,
		&g.RawBytes, &g.StoredBytes); err != nil {
		return nil, err
	}
	if !withData {
		return g, nil
	}

	var err error
	if g.Position, err = s.codec.decode(pos); err != nil {
		return nil, fmt.Errorf("group %d position: %w", g.ID, err)
	}
	if g.Texcoord, err = s.codec.decode(tex); err != nil {
		return nil, fmt.Errorf("group %d texcoord: %w", g.ID, err)
	}
	if g.Normal, err = s.codec.decode(norm); err != nil {
		return nil, fmt.Errorf("group %d normal: %w", g.ID, err)
	}
	return g, nil
}

// --- Bounds operations ---

// InsertGroupBounds stores the bounding box of a group as min xyz
// followed by max xyz.
func (s *Store) InsertGroupBounds(ctx context.Context, groupID int64, lo, hi [3]float32) error {
	return insertBounds(ctx, s.db, groupID, []float32{lo[0], lo[1], lo[2], hi[0], hi[1], hi[2]})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertBounds(ctx context.Context, db execer, groupID int64, bounds []float32) error {
	if len(bounds) != boundsDim {
		return fmt.Errorf("bounds vector has %d values, want %d", len(bounds), boundsDim)
	}
	_, err := db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_group_bounds (group_id, bounds) VALUES (?, ?)",
		groupID, serializeFloat32(bounds))
	return err
}

// GetGroupBounds returns the stored bounds vector of a group.
func (s *Store) GetGroupBounds(ctx context.Context, groupID int64) ([]float32, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT bounds FROM vec_group_bounds WHERE group_id = ?", groupID).Scan(&raw)
	if err != nil {
		return nil, err
	}
	return deserializeFloat32(raw)
}

// SearchBounds performs a KNN search over group bounds, nearest first.
func (s *Store) SearchBounds(ctx context.Context, bounds []float32, k int) ([]BoundsMatch, error) {
	if len(bounds) != boundsDim {
		return nil, fmt.Errorf("bounds vector has %d values, want %d", len(bounds), boundsDim)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.group_id, v.distance, g.mesh_id, g.name, g.corners, m.path
		FROM vec_group_bounds v
		JOIN mesh_groups g ON g.id = v.group_id
		JOIN meshes m ON m.id = g.mesh_id
		WHERE v.bounds MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(bounds), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []BoundsMatch
	for rows.Next() {
		var r BoundsMatch
		if err := rows.Scan(&r.GroupID, &r.Distance, &r.MeshID, &r.Name, &r.Corners, &r.Path); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Parse log ---

// LogParse records one parse run.
func (s *Store) LogParse(ctx context.Context, l ParseLog) error {
	var keywords any
	if len(l.UnknownKeywords) > 0 {
		b, err := json.Marshal(l.UnknownKeywords)
		if err != nil {
			return err
		}
		keywords = string(b)
	}
	var meshID any
	if l.MeshID != 0 {
		meshID = l.MeshID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parse_log (mesh_id, method, workers, positions, texcoords, normals,
			groups_count, corners, unknown_lines, unknown_keywords,
			partition_us, materialize_us, assemble_us, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, meshID, l.Method, l.Workers, l.Positions, l.Texcoords, l.Normals,
		l.Groups, l.Corners, l.UnknownLines, keywords,
		l.Partition.Microseconds(), l.Materialize.Microseconds(), l.Assemble.Microseconds(),
		nullString(l.Error))
	return err
}

// ParseHistory returns the parse runs of a mesh, newest first.
func (s *Store) ParseHistory(ctx context.Context, meshID int64) ([]ParseLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mesh_id, method, workers, positions, texcoords, normals, groups_count,
			corners, unknown_lines, unknown_keywords, partition_us, materialize_us,
			assemble_us, error, created_at
		FROM parse_log WHERE mesh_id = ? ORDER BY id DESC
	`, meshID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []ParseLog
	for rows.Next() {
		var l ParseLog
		var keywords, errText sql.NullString
		var partUS, matUS, asmUS int64
		if err := rows.Scan(&l.MeshID, &l.Method, &l.Workers, &l.Positions, &l.Texcoords,
			&l.Normals, &l.Groups, &l.Corners, &l.UnknownLines, &keywords,
			&partUS, &matUS, &asmUS, &errText, &l.CreatedAt); err != nil {
			return nil, err
		}
		if keywords.Valid {
			if err := json.Unmarshal([]byte(keywords.String), &l.UnknownKeywords); err != nil {
				return nil, fmt.Errorf("decoding unknown keywords: %w", err)
			}
		}
		l.Partition = time.Duration(partUS) * time.Microsecond
		l.Materialize = time.Duration(matUS) * time.Microsecond
		l.Assemble = time.Duration(asmUS) * time.Microsecond
		l.Error = errText.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// DBStats holds database-level counts.
type DBStats struct {
	Meshes      int   `json:"meshes"`
	Groups      int   `json:"groups"`
	Bounds      int   `json:"bounds"`
	Corners     int   `json:"corners"`
	ParseRuns   int   `json:"parse_runs"`
	RawBytes    int64 `json:"raw_bytes"`
	StoredBytes int64 `json:"stored_bytes"`
}

// DBStats returns row counts and stream sizes.
func (s *Store) DBStats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  any
	}{
		{"SELECT COUNT(*) FROM meshes", &stats.Meshes},
		{"SELECT COUNT(*) FROM mesh_groups", &stats.Groups},
		{"SELECT COUNT(*) FROM vec_group_bounds", &stats.Bounds},
		{"SELECT COALESCE(SUM(corners), 0) FROM mesh_groups", &stats.Corners},
		{"SELECT COUNT(*) FROM parse_log", &stats.ParseRuns},
		{"SELECT COALESCE(SUM(raw_bytes), 0) FROM mesh_groups", &stats.RawBytes},
		{"SELECT COALESCE(SUM(stored_bytes), 0) FROM mesh_groups", &stats.StoredBytes},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
