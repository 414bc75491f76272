//go:build cgo

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/goobj"
	"github.com/brunobiangulo/goobj/report"
)

const quad = `v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
g plate
f 1 2 3 4
`

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	cfg := goobj.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "server.db")
	cfg.Workers = 2
	e, err := goobj.New(cfg)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	mux := http.NewServeMux()
	newHandler(e).routes(mux)
	return mux
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v (body %q)", err, rec.Body.String())
	}
}

func loadPath(t *testing.T, h http.Handler, content string) int64 {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quad.obj")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	body := fmt.Sprintf(`{"path": %q}`, path)
	rec := do(t, h, httptest.NewRequest(http.MethodPost, "/load", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /load = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		MeshID int64 `json:"mesh_id"`
	}
	decode(t, rec, &resp)
	return resp.MeshID
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", rec.Code)
	}
}

func TestLoadByPathAndGroups(t *testing.T) {
	h := newTestServer(t)
	id := loadPath(t, h, quad)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/meshes/%d/groups", id), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET groups = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Groups []goobj.GroupInfo `json:"groups"`
	}
	decode(t, rec, &resp)
	if len(resp.Groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(resp.Groups))
	}
	plate := resp.Groups[1]
	if plate.Name != "plate" || plate.Triangles != 2 {
		t.Errorf("group = %+v, want plate with 2 triangles", plate)
	}

	rec = do(t, h, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/groups/%d", plate.ID), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET group = %d: %s", rec.Code, rec.Body.String())
	}
	var data struct {
		Group struct {
			Position []float32 `json:"position"`
		} `json:"group"`
	}
	decode(t, rec, &data)
	if len(data.Group.Position) != 18 {
		t.Errorf("got %d position floats, want 18", len(data.Group.Position))
	}
}

func TestLoadMultipart(t *testing.T) {
	h := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "../../quad.obj")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(quad))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/load", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := do(t, h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /load = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Filename string `json:"filename"`
	}
	decode(t, rec, &resp)
	if resp.Filename != "quad.obj" {
		t.Errorf("filename = %q, want quad.obj", resp.Filename)
	}
}

func TestLoadRejectsBadRequests(t *testing.T) {
	h := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"not json", "v 1 2 3"},
		{"empty path", `{"path": ""}`},
		{"missing file", `{"path": "/does/not/exist.obj"}`},
		{"directory", fmt.Sprintf(`{"path": %q}`, t.TempDir())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, httptest.NewRequest(http.MethodPost, "/load", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("POST /load = %d, want 400", rec.Code)
			}
		})
	}
}

func TestParse(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, httptest.NewRequest(http.MethodPost, "/parse", strings.NewReader(quad)))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /parse = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Method string         `json:"method"`
		Groups []groupSummary `json:"groups"`
	}
	decode(t, rec, &resp)
	if resp.Method != "parallel" {
		t.Errorf("method = %q, want parallel", resp.Method)
	}
	if len(resp.Groups) != 2 || resp.Groups[1].Corners != 6 {
		t.Errorf("groups = %+v", resp.Groups)
	}

	rec = do(t, h, httptest.NewRequest(http.MethodPost, "/parse?method=reference", strings.NewReader(quad)))
	decode(t, rec, &resp)
	if resp.Method != "reference" || len(resp.Groups) != 1 {
		t.Errorf("reference parse = %+v", resp)
	}
}

func TestParseErrorStatus(t *testing.T) {
	h := newTestServer(t)
	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{"out of range", "/parse", "v 0 0 0\nf 1 2 3\n", http.StatusUnprocessableEntity},
		{"malformed", "/parse", "v 0 0 zero\n", http.StatusUnprocessableEntity},
		{"unknown method", "/parse?method=gpu", quad, http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Errorf("POST %s = %d, want %d: %s", tt.target, rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	rec := do(t, h, httptest.NewRequest(http.MethodPost, "/parse", strings.NewReader("v 0 0 0\nf 1 2 3\n")))
	var resp struct {
		Start int `json:"start"`
		End   int `json:"end"`
	}
	decode(t, rec, &resp)
	if resp.Start != 8 || resp.End != 15 {
		t.Errorf("error span = [%d, %d), want [8, 15)", resp.Start, resp.End)
	}
}

func TestMeshNotFound(t *testing.T) {
	h := newTestServer(t)
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/meshes/99/groups", nil),
		httptest.NewRequest(http.MethodGet, "/meshes/99/report", nil),
		httptest.NewRequest(http.MethodDelete, "/meshes/99", nil),
		httptest.NewRequest(http.MethodGet, "/groups/99", nil),
	} {
		rec := do(t, h, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", req.Method, req.URL.Path, rec.Code)
		}
	}

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/meshes/abc/groups", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric id = %d, want 400", rec.Code)
	}
}

func TestListAndDelete(t *testing.T) {
	h := newTestServer(t)
	id := loadPath(t, h, quad)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/meshes", nil))
	var list struct {
		Meshes []goobj.Mesh `json:"meshes"`
	}
	decode(t, rec, &list)
	if len(list.Meshes) != 1 || list.Meshes[0].ID != id {
		t.Fatalf("meshes = %+v", list.Meshes)
	}

	rec = do(t, h, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/meshes/%d", id), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE = %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/meshes", nil))
	decode(t, rec, &list)
	if len(list.Meshes) != 0 {
		t.Errorf("meshes after delete = %+v", list.Meshes)
	}
}

func TestUpdateEndpoints(t *testing.T) {
	h := newTestServer(t)
	path := filepath.Join(t.TempDir(), "quad.obj")
	if err := os.WriteFile(path, []byte(quad), 0o644); err != nil {
		t.Fatal(err)
	}
	body := fmt.Sprintf(`{"path": %q}`, path)
	if rec := do(t, h, httptest.NewRequest(http.MethodPost, "/load", strings.NewReader(body))); rec.Code != http.StatusOK {
		t.Fatalf("POST /load = %d", rec.Code)
	}

	if err := os.WriteFile(path, []byte(quad+"f 1 2 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := do(t, h, httptest.NewRequest(http.MethodPost, "/update", strings.NewReader(body)))
	var upd struct {
		Changed bool `json:"changed"`
	}
	decode(t, rec, &upd)
	if !upd.Changed {
		t.Error("update after edit reported no change")
	}

	rec = do(t, h, httptest.NewRequest(http.MethodPost, "/update-all", nil))
	var all struct {
		Results []struct {
			Changed bool   `json:"changed"`
			Error   string `json:"error"`
		} `json:"results"`
	}
	decode(t, rec, &all)
	if len(all.Results) != 1 || all.Results[0].Changed || all.Results[0].Error != "" {
		t.Errorf("update-all = %+v, want one unchanged result", all.Results)
	}
}

func TestSimilar(t *testing.T) {
	h := newTestServer(t)
	id := loadPath(t, h, quad)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/meshes/%d/groups", id), nil))
	var resp struct {
		Groups []goobj.GroupInfo `json:"groups"`
	}
	decode(t, rec, &resp)

	// The implicit group is empty, so it has no bounds to search with.
	rec = do(t, h, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/groups/%d/similar", resp.Groups[0].ID), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("similar for empty group = %d, want 404", rec.Code)
	}

	rec = do(t, h, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/groups/%d/similar?k=0", resp.Groups[1].ID), nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("k=0 = %d, want 400", rec.Code)
	}
}

func TestReportDownload(t *testing.T) {
	h := newTestServer(t)
	id := loadPath(t, h, quad)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/meshes/%d/report", id), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET report = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("Content-Type = %q", ct)
	}
	r, err := report.Read(rec.Body)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	if len(r.Groups) != 2 || r.Groups[1].Name != "plate" {
		t.Errorf("report groups = %+v", r.Groups)
	}
}
