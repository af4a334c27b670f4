package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/patternseek/centinela/internal/api"
	"github.com/patternseek/centinela/internal/config"
	"github.com/patternseek/centinela/internal/model"
	"github.com/patternseek/centinela/internal/store"
)

type noopNotifier struct{}

func (noopNotifier) NotifyEvent(ids []model.NotifierId, event model.MatchEvent) {}
func (noopNotifier) NotifyMessage(ids []model.NotifierId, text string)          {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{
		FileSets: map[string]config.FileSetConfig{
			"app": {
				FileGlobs:           []string{"x"},
				MonitorNotifierSets: map[string][]string{"errors": nil},
			},
		},
		Monitors: map[string]config.MonitorConfig{
			"errors": {Regex: "x"},
		},
	}
	st := store.New(cfg, noopNotifier{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	st.Start(ctx)
	t.Cleanup(func() {
		st.Shutdown()
		cancel()
	})
	return api.NewRouter(api.NewServer(st))
}

func TestAPI_ListFileSets(t *testing.T) {
	r := newTestRouter(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/fileset", nil)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var ids []string
	if err := json.Unmarshal(rec.Body.Bytes(), &ids); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ids) != 1 || ids[0] != "app" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestAPI_ListMonitors(t *testing.T) {
	r := newTestRouter(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/fileset/app/monitor", nil)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var ids []string
	if err := json.Unmarshal(rec.Body.Bytes(), &ids); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ids) != 1 || ids[0] != "errors" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestAPI_ListMonitors_UnknownFileSet(t *testing.T) {
	r := newTestRouter(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/fileset/missing/monitor", nil)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAPI_MonitorData(t *testing.T) {
	r := newTestRouter(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/fileset/app/monitor/errors", nil)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := out["counts"]; !ok {
		t.Errorf("response missing counts field: %s", rec.Body.String())
	}
}

func TestAPI_MonitorData_UnknownMonitor(t *testing.T) {
	r := newTestRouter(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/fileset/app/monitor/missing", nil)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAPI_Dump(t *testing.T) {
	r := newTestRouter(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/dump", nil)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := out["app"]; !ok {
		t.Errorf("dump missing app file-set: %s", rec.Body.String())
	}
}
