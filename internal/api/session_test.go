package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/gazecal/internal/domain"
	"github.com/ashureev/gazecal/internal/session"
	"github.com/ashureev/gazecal/internal/store"
	"github.com/ashureev/gazecal/internal/tracker"
)

const testCatalog = `TrialID,Duration,Position
4,0.02,(0.25 0.75)
5,0.02,(0.5 0.5)
`

type apiFixture struct {
	router  http.Handler
	ctrl    *session.Controller
	repo    store.Repository
	catalog string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "calibration.csv")
	if err := os.WriteFile(catalogPath, []byte(testCatalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	repo, err := store.NewSQLite(filepath.Join(dir, "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctrl := session.NewController(session.Options{
		CatalogPath: catalogPath,
		OutputDir:   filepath.Join(dir, "out"),
	}, nil, tracker.NewStatic(domain.GazeSample{Counter: 1}), repo, nil)
	t.Cleanup(func() { ctrl.Close() })

	base := NewHandler(repo, ctrl)
	r := chi.NewRouter()
	NewHealthHandler(repo, nil).RegisterHealth(r)
	NewSessionHandler(base).RegisterRoutes(r)

	return &apiFixture{router: r, ctrl: ctrl, repo: repo, catalog: catalogPath}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
	return v
}

func TestBeginStartAndInspectSession(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/api/session", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	view := decode[SnapshotView](t, rr)
	if view.State != domain.StateAwaitingStart || view.TrialID == nil || *view.TrialID != 4 {
		t.Fatalf("unexpected begin snapshot: %+v", view)
	}
	if view.Target == nil || *view.Target != (domain.Position{X: 0.25, Y: 0.75}) || view.Duration != 0.02 {
		t.Fatalf("unexpected trial details: %+v", view)
	}

	rr = f.do(t, http.MethodPost, "/api/session", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second begin, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/api/session/start", "")
	started := decode[struct {
		Started bool         `json:"started"`
		Session SnapshotView `json:"session"`
	}](t, rr)
	if !started.Started || started.Session.State != domain.StateRunning {
		t.Fatalf("start not applied: %+v", started)
	}

	f.ctrl.Tick(10 * time.Millisecond)
	rr = f.do(t, http.MethodGet, "/api/session", "")
	view = decode[SnapshotView](t, rr)
	if view.Buffered != 1 || view.RemainingSeconds <= 0 || view.ElapsedSeconds <= 0 {
		t.Fatalf("unexpected running snapshot: %+v", view)
	}

	rr = f.do(t, http.MethodPost, "/api/session/abort", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 abort, got %d: %s", rr.Code, rr.Body.String())
	}
	if view = decode[SnapshotView](t, rr); view.State != domain.StateIdle {
		t.Fatalf("expected idle after abort, got %s", view.State)
	}

	rr = f.do(t, http.MethodPost, "/api/session/abort", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 aborting without a session, got %d", rr.Code)
	}
}

func TestBeginSessionErrors(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	bad := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(bad, []byte("TrialID,Duration,Position\n1,abc,(0.5 0.5)\n"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"catalog":`, http.StatusBadRequest},
		{"negative start", `{"start_index":-1}`, http.StatusBadRequest},
		{"past end", `{"start_index":2}`, http.StatusUnprocessableEntity},
		{"parse error", `{"catalog":"` + bad + `"}`, http.StatusUnprocessableEntity},
		{"missing file", `{"catalog":"` + filepath.Join(t.TempDir(), "nope.csv") + `"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		rr := f.do(t, http.MethodPost, "/api/session", tt.body)
		if rr.Code != tt.want {
			t.Errorf("%s: expected %d, got %d: %s", tt.name, tt.want, rr.Code, rr.Body.String())
		}
	}
	if f.ctrl.Snapshot().State != domain.StateIdle {
		t.Fatal("failed begins left a session behind")
	}
}

func TestSessionHistory(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	ctx := context.Background()

	snap, err := f.ctrl.BeginSession(ctx, session.BeginRequest{})
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		f.ctrl.StartSignal()
		f.ctrl.Tick(10 * time.Millisecond)
		f.ctrl.Tick(10 * time.Millisecond)
	}
	if f.ctrl.Snapshot().State != domain.StateFinished {
		t.Fatalf("expected finished, got %s", f.ctrl.Snapshot().State)
	}

	rr := f.do(t, http.MethodGet, "/api/sessions?limit=5", "")
	list := decode[struct {
		Sessions []domain.Session `json:"sessions"`
	}](t, rr)
	if len(list.Sessions) != 1 || list.Sessions[0].CompletedTrials != 2 || list.Sessions[0].Status != domain.SessionFinished {
		t.Fatalf("unexpected list: %+v", list)
	}

	rr = f.do(t, http.MethodGet, "/api/sessions/"+snap.SessionID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	hist := decode[struct {
		Trials []struct {
			TrialID int `json:"trial_id"`
			Records int `json:"records"`
		} `json:"trials"`
	}](t, rr)
	if len(hist.Trials) != 2 || hist.Trials[0].TrialID != 4 || hist.Trials[0].Records != 2 {
		t.Fatalf("unexpected history: %+v", hist)
	}

	if rr := f.do(t, http.MethodGet, "/api/sessions/missing", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/api/sessions?limit=0", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
}

type failingRepo struct {
	store.Repository
}

func (failingRepo) Ping(context.Context) error { return errors.New("db down") }

func TestHealth(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	r := chi.NewRouter()
	NewHealthHandler(failingRepo{f.repo}, func() map[string]interface{} {
		return map[string]interface{}{"pending": 0}
	}).RegisterHealth(r)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	body := decode[map[string]interface{}](t, rr)
	if body["status"] != "degraded" || body["tracker"] == nil {
		t.Fatalf("unexpected health body: %v", body)
	}
}
