package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/postwire/postwire/internal/config"
	"github.com/postwire/postwire/internal/engine"
	"github.com/postwire/postwire/internal/logging"
	"github.com/postwire/postwire/internal/registry"
	"github.com/postwire/postwire/internal/server"
	"github.com/postwire/postwire/internal/storage/filestore"
)

func newTestAdmin(t *testing.T) (*Server, *server.Server) {
	t.Helper()

	dir := t.TempDir()
	store, err := filestore.New(filepath.Join(dir, "emails.json"), filepath.Join(dir, "inbox"))
	if err != nil {
		t.Fatalf("filestore.New() error = %v", err)
	}

	logger := logging.Default()
	reg := registry.New(store, store, logger)
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("registry.Load() error = %v", err)
	}
	eng := engine.New(reg, store, logger)
	core := server.New("127.0.0.1:0", reg, eng, logger)
	eng.SetNotifier(core)

	cfg := config.DefaultConfig()
	adm := NewServer(cfg, core, reg, logger)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		core.Stop(ctx)
	})
	return adm, core
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var parsed map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("response %q is not JSON: %v", rec.Body.String(), err)
		}
	}
	return rec, parsed
}

func TestHealthz(t *testing.T) {
	adm, _ := newTestAdmin(t)
	h := adm.Handler()

	rec, body := doJSON(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["listening"] != false {
		t.Errorf("listening = %v, want false before start", body["listening"])
	}
}

func TestServerStartStop(t *testing.T) {
	adm, core := newTestAdmin(t)
	h := adm.Handler()

	rec, body := doJSON(t, h, http.MethodPost, "/admin/server/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %v", rec.Code, body)
	}
	if !core.Running() {
		t.Error("core not running after start")
	}
	if addr, _ := body["addr"].(string); addr == "" {
		t.Error("start response missing bound addr")
	}

	rec, _ = doJSON(t, h, http.MethodPost, "/admin/server/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rec.Code)
	}
	if core.Running() {
		t.Error("core still running after stop")
	}

	// Stop is idempotent.
	rec, _ = doJSON(t, h, http.MethodPost, "/admin/server/stop", "")
	if rec.Code != http.StatusOK {
		t.Errorf("second stop status = %d, want 200", rec.Code)
	}
}

func TestStartRejectsGet(t *testing.T) {
	adm, _ := newTestAdmin(t)

	rec, _ := doJSON(t, adm.Handler(), http.MethodGet, "/admin/server/start", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestSessionsEmpty(t *testing.T) {
	adm, _ := newTestAdmin(t)

	rec, body := doJSON(t, adm.Handler(), http.MethodGet, "/admin/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	sessions, ok := body["sessions"].([]any)
	if !ok || len(sessions) != 0 {
		t.Errorf("sessions = %v, want empty list", body["sessions"])
	}
}

func TestDisconnectUnknownSession(t *testing.T) {
	adm, _ := newTestAdmin(t)

	rec, _ := doJSON(t, adm.Handler(), http.MethodPost, "/admin/sessions/disconnect", `{"id": 42}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestBroadcastValidation(t *testing.T) {
	adm, _ := newTestAdmin(t)
	h := adm.Handler()

	rec, _ := doJSON(t, h, http.MethodPost, "/admin/broadcast", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", rec.Code)
	}

	rec, body := doJSON(t, h, http.MethodPost, "/admin/broadcast", `{"message":"maintenance at noon"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if reached, _ := body["reached"].(float64); reached != 0 {
		t.Errorf("reached = %v, want 0 with no sessions", body["reached"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	adm, _ := newTestAdmin(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	adm.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "postwire_") {
		t.Error("metrics output missing postwire_ series")
	}
}
