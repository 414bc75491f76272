package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brunobiangulo/goobj"
	"github.com/brunobiangulo/goobj/parser"
)

// maxUpload bounds multipart uploads and raw parse bodies.
const maxUpload = 512 << 20

type handler struct {
	engine goobj.Engine
}

func newHandler(e goobj.Engine) *handler {
	return &handler{engine: e}
}

func (h *handler) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /load", h.handleLoad)
	mux.HandleFunc("POST /parse", h.handleParse)
	mux.HandleFunc("POST /update", h.handleUpdate)
	mux.HandleFunc("POST /update-all", h.handleUpdateAll)
	mux.HandleFunc("GET /meshes", h.handleListMeshes)
	mux.HandleFunc("GET /meshes/{id}/groups", h.handleGroups)
	mux.HandleFunc("GET /meshes/{id}/report", h.handleReport)
	mux.HandleFunc("DELETE /meshes/{id}", h.handleDeleteMesh)
	mux.HandleFunc("GET /groups/{id}", h.handleGroupData)
	mux.HandleFunc("GET /groups/{id}/similar", h.handleSimilar)
	mux.HandleFunc("GET /health", h.handleHealth)
}

// POST /load
// Accepts multipart file upload or JSON with file path.
func (h *handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	// Try multipart upload first
	if err := r.ParseMultipartForm(maxUpload); err == nil {
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()

			// Sanitise filename to prevent path traversal.
			safeName := filepath.Base(header.Filename)

			tmpDir, err := os.MkdirTemp("", "goobj-upload-")
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("creating temp dir", "error", err)
				return
			}
			defer os.RemoveAll(tmpDir)

			tmpPath := filepath.Join(tmpDir, safeName)
			dst, err := os.Create(tmpPath)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("creating temp file", "error", err)
				return
			}
			if _, err := io.Copy(dst, file); err != nil {
				dst.Close()
				writeError(w, http.StatusInternalServerError, "failed to save file")
				slog.Error("saving uploaded file", "error", err)
				return
			}
			dst.Close()

			meshID, err := h.engine.Load(ctx, tmpPath, loadOptions(r.FormValue("parse_method"), r.FormValue("force") != "")...)
			if err != nil {
				writeEngineError(w, "load failed", err)
				slog.Error("load error", "file", safeName, "error", err)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"mesh_id":  meshID,
				"filename": safeName,
			})
			return
		}
	}

	// Try JSON body with path
	var req struct {
		Path     string            `json:"path"`
		Options  map[string]string `json:"options,omitempty"`
		Metadata map[string]string `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path'")
		return
	}

	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	// Validate that path is a real file (prevents directory traversal probing).
	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	}

	_, force := req.Options["force"]
	opts := loadOptions(req.Options["parse_method"], force)
	if req.Metadata != nil {
		opts = append(opts, goobj.WithMetadata(req.Metadata))
	}

	meshID, err := h.engine.Load(ctx, absPath, opts...)
	if err != nil {
		writeEngineError(w, "load failed", err)
		slog.Error("load error", "path", absPath, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mesh_id": meshID,
		"path":    absPath,
	})
}

func loadOptions(method string, force bool) []goobj.LoadOption {
	var opts []goobj.LoadOption
	if force {
		opts = append(opts, goobj.WithForceReparse())
	}
	if method != "" {
		opts = append(opts, goobj.WithParseMethod(method))
	}
	return opts
}

// groupSummary is a parsed group without its attribute streams.
type groupSummary struct {
	Name      string `json:"name"`
	Corners   int    `json:"corners"`
	Triangles int    `json:"triangles"`
}

// POST /parse?method=
// Parses the raw request body without storing it.
func (h *handler) handleParse(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpload))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	var opts []goobj.LoadOption
	if method := r.URL.Query().Get("method"); method != "" {
		opts = append(opts, goobj.WithParseMethod(method))
	}
	res, err := h.engine.ParseBytes(ctx, data, opts...)
	if err != nil {
		writeEngineError(w, "parse failed", err)
		slog.Warn("parse error", "bytes", len(data), "error", err)
		return
	}

	groups := make([]groupSummary, len(res.Groups))
	for i, g := range res.Groups {
		groups[i] = groupSummary{Name: g.Name, Corners: g.Corners(), Triangles: g.Triangles()}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"method": res.Method,
		"stats":  res.Stats,
		"groups": groups,
	})
}

// POST /update
func (h *handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	changed, err := h.engine.Update(ctx, req.Path)
	if err != nil {
		writeEngineError(w, "update failed", err)
		slog.Error("update error", "path", req.Path, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"path":    req.Path,
		"changed": changed,
	})
}

// POST /update-all
func (h *handler) handleUpdateAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	results, err := h.engine.UpdateAll(ctx)
	if err != nil {
		writeEngineError(w, "update-all failed", err)
		slog.Error("update-all error", "error", err)
		return
	}

	// error values do not marshal; report their text.
	type result struct {
		MeshID  int64  `json:"mesh_id"`
		Path    string `json:"path"`
		Changed bool   `json:"changed"`
		Error   string `json:"error,omitempty"`
	}
	out := make([]result, len(results))
	for i, res := range results {
		out[i] = result{MeshID: res.MeshID, Path: res.Path, Changed: res.Changed}
		if res.Error != nil {
			out[i].Error = res.Error.Error()
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": out,
	})
}

// GET /meshes
func (h *handler) handleListMeshes(w http.ResponseWriter, r *http.Request) {
	meshes, err := h.engine.ListMeshes(r.Context())
	if err != nil {
		writeEngineError(w, "failed to list meshes", err)
		slog.Error("list meshes error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"meshes": meshes,
	})
}

// GET /meshes/{id}/groups
func (h *handler) handleGroups(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid mesh id")
	if !ok {
		return
	}

	groups, err := h.engine.Groups(r.Context(), id)
	if err != nil {
		writeEngineError(w, "failed to list groups", err)
		slog.Error("groups error", "mesh_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mesh_id": id,
		"groups":  groups,
	})
}

// GET /meshes/{id}/report
func (h *handler) handleReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid mesh id")
	if !ok {
		return
	}

	// Render fully before writing so errors can still set the status.
	var buf bytes.Buffer
	if err := h.engine.Report(r.Context(), id, &buf); err != nil {
		writeEngineError(w, "report failed", err)
		slog.Error("report error", "mesh_id", id, "error", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"mesh-%d.xlsx\"", id))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// DELETE /meshes/{id}
func (h *handler) handleDeleteMesh(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid mesh id")
	if !ok {
		return
	}

	if err := h.engine.Delete(r.Context(), id); err != nil {
		writeEngineError(w, "delete failed", err)
		slog.Error("delete error", "mesh_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /groups/{id}
func (h *handler) handleGroupData(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid group id")
	if !ok {
		return
	}

	g, err := h.engine.GroupData(r.Context(), id)
	if err != nil {
		writeEngineError(w, "failed to read group", err)
		slog.Error("group data error", "group_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"group_id": id,
		"group":    g,
	})
}

// GET /groups/{id}/similar?k=
func (h *handler) handleSimilar(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid group id")
	if !ok {
		return
	}

	k := 5
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = n
	}

	matches, err := h.engine.SimilarGroups(r.Context(), id, k)
	if err != nil {
		writeEngineError(w, "similarity search failed", err)
		slog.Warn("similar groups error", "group_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"group_id": id,
		"matches":  matches,
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func pathID(w http.ResponseWriter, r *http.Request, msg string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, msg)
		return 0, false
	}
	return id, true
}

// writeEngineError maps engine errors to a status. Client errors carry
// the error text, which for parse failures names the offending bytes.
func writeEngineError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, goobj.ErrMeshNotFound), errors.Is(err, goobj.ErrNoResults):
		status = http.StatusNotFound
	case errors.Is(err, goobj.ErrUnsupportedFormat):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, goobj.ErrParsingFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, goobj.ErrStoreClosed):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		writeError(w, status, msg)
		return
	}
	body := map[string]any{"error": fmt.Sprintf("%s: %v", msg, err)}
	var pe *parser.ParseError
	if errors.As(err, &pe) {
		body["start"] = pe.Start
		body["end"] = pe.End
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
