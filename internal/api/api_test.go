package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/FunnelCoach/internal/models"
	"github.com/BTreeMap/FunnelCoach/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	if err := st.EnsureUser("u1", ""); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	d := models.WeekData{
		UserID: "u1", WeekStart: "2026-08-17", Channel: "LinkedIn",
		FunnelType: models.FunnelActive,
		Counts:     models.StageCounts{Stages: [5]int{100, 40, 10, 2, 1}},
	}
	if _, _, err := st.AddWeekData(d); err != nil {
		t.Fatalf("AddWeekData failed: %v", err)
	}
	return NewServer("127.0.0.1:0", st), st
}

func doRequest(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("unexpected body: %q", rec.Body.String())
	}
}

func TestHistoryJSON(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "/history?user=u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var rows []models.WeekData
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(rows) != 1 || rows[0].Channel != "LinkedIn" {
		t.Errorf("unexpected rows: %+v", rows)
	}
}

func TestHistoryUnknownUser(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "/history?user=ghost")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHistoryMissingUserParam(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "/history")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestExportCSVDefault(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "/export?user=u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("unexpected content type: %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte{0xEF, 0xBB, 0xBF}) {
		t.Error("expected BOM prefix in CSV export")
	}
}

func TestExportXLSX(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "/export?user=u1&format=xlsx")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("unexpected content type: %q", ct)
	}
	// XLSX files are zip archives.
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Error("expected zip magic in XLSX export")
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "/export?user=u1&format=pdf")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestExportExplicitFunnel(t *testing.T) {
	s, st := newTestServer(t)
	d := models.WeekData{
		UserID: "u1", WeekStart: "2026-08-17", Channel: "Profile",
		FunnelType: models.FunnelPassive,
		Counts:     models.StageCounts{Stages: [5]int{30, 2, 0, 0, 0}},
	}
	if _, _, err := st.AddWeekData(d); err != nil {
		t.Fatalf("AddWeekData failed: %v", err)
	}

	rec := doRequest(t, s, "/export?user=u1&funnel=passive")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Views") {
		t.Error("expected passive headers in export")
	}

	rec = doRequest(t, s, "/export?user=u1&funnel=sideways")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid funnel, got %d", rec.Code)
	}
}
