package store

import "fmt"

// boundsDim is the width of a bounds vector: min xyz followed by max xyz.
const boundsDim = 6

// schemaSQL returns the DDL for all tables.
func schemaSQL() string {
	return fmt.Sprintf(`
-- Mesh registry with hash-based change detection
CREATE TABLE IF NOT EXISTS meshes (
    id INTEGER PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    filename TEXT NOT NULL,
    format TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    parse_method TEXT NOT NULL,
    status TEXT DEFAULT 'pending',
    metadata JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Parsed groups; attribute streams are zstd-compressed little-endian float32
CREATE TABLE IF NOT EXISTS mesh_groups (
    id INTEGER PRIMARY KEY,
    mesh_id INTEGER NOT NULL REFERENCES meshes(id) ON DELETE CASCADE,
    ordinal INTEGER NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    corners INTEGER NOT NULL,
    has_texcoord BOOLEAN NOT NULL DEFAULT 0,
    has_normal BOOLEAN NOT NULL DEFAULT 0,
    position BLOB,
    texcoord BLOB,
    normal BLOB,
    raw_bytes INTEGER NOT NULL DEFAULT 0,
    stored_bytes INTEGER NOT NULL DEFAULT 0,
    UNIQUE(mesh_id, ordinal)
);

-- Group bounding boxes via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_group_bounds USING vec0(
    group_id INTEGER PRIMARY KEY,
    bounds float[%d]
);

-- Parse audit log
CREATE TABLE IF NOT EXISTS parse_log (
    id INTEGER PRIMARY KEY,
    mesh_id INTEGER REFERENCES meshes(id) ON DELETE CASCADE,
    method TEXT NOT NULL,
    workers INTEGER,
    positions INTEGER DEFAULT 0,
    texcoords INTEGER DEFAULT 0,
    normals INTEGER DEFAULT 0,
    groups_count INTEGER DEFAULT 0,
    corners INTEGER DEFAULT 0,
    unknown_lines INTEGER DEFAULT 0,
    partition_us INTEGER DEFAULT 0,
    materialize_us INTEGER DEFAULT 0,
    assemble_us INTEGER DEFAULT 0,
    error TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_groups_mesh ON mesh_groups(mesh_id);
CREATE INDEX IF NOT EXISTS idx_groups_name ON mesh_groups(name);
CREATE INDEX IF NOT EXISTS idx_parse_log_mesh ON parse_log(mesh_id);
CREATE INDEX IF NOT EXISTS idx_meshes_hash ON meshes(content_hash);
`, boundsDim)
}
