package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/upwatch/upwatch/internal/auth"
	"github.com/upwatch/upwatch/internal/bindata"
	"github.com/upwatch/upwatch/internal/config"
	"github.com/upwatch/upwatch/internal/contact"
	"github.com/upwatch/upwatch/internal/database"
	"github.com/upwatch/upwatch/internal/eventbus"
	"github.com/upwatch/upwatch/internal/metadata"
	"github.com/upwatch/upwatch/internal/monitor"
	"github.com/upwatch/upwatch/internal/monitorgroup"
	"github.com/upwatch/upwatch/internal/notify"
	"github.com/upwatch/upwatch/internal/stats"
)

// newTestServer wires the full stack against a throwaway sqlite database and
// returns the server plus a valid admin token.
func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := stats.NewRegistry()

	cfg := &config.Config{
		Auth: config.AuthConfig{
			AdminUsername:  "admin",
			AdminPassword:  "test-password",
			JWTSecret:      "0123456789abcdef0123456789abcdef",
			JWTExpiryHours: 1,
		},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(t.TempDir(), "test.db"),
		},
	}

	db, err := database.Open(&cfg.Database, logger, st)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	tracer := eventbus.NewTracer(logger, st)
	notifier := notify.NewManager(&config.NotificationsConfig{}, logger, st)
	contacts := contact.NewStore(db)
	meta := metadata.NewStore(db)
	bin := bindata.NewStore(db)
	groups := monitorgroup.NewStore(db, meta)

	mgr := monitor.NewManager(db, notifier, contacts, meta, tracer, st, logger, 10, true)
	if err := mgr.Initialize(context.Background()); err != nil {
		t.Fatalf("initializing engine: %v", err)
	}
	t.Cleanup(mgr.Stop)

	authService, err := auth.NewService(&cfg.Auth)
	if err != nil {
		t.Fatalf("creating auth service: %v", err)
	}

	s := NewServer(cfg, logger, authService, mgr, contacts, groups, meta, bin, st, tracer)

	resp, err := authService.Login("admin", "test-password")
	if err != nil {
		t.Fatalf("logging in: %v", err)
	}
	return s, resp.Token
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestLoginFlow(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "admin", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", w.Code)
	}

	w = doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "admin", "password": "test-password"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	decodeBody(t, w, &resp)
	if resp.Token == "" {
		t.Error("login returned no token")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s, token := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/monitors", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/monitors", "garbage", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/monitors", token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", w.Code)
	}
}

func TestMonitorLifecycleOverAPI(t *testing.T) {
	s, token := newTestServer(t)

	// Find the bundled Ping definition.
	w := doJSON(t, s, http.MethodGet, "/api/v1/monitor-defs", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list defs: %d", w.Code)
	}
	var defs []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	decodeBody(t, w, &defs)
	var pingID int64
	for _, d := range defs {
		if d.Name == "Ping monitor" {
			pingID = d.ID
		}
	}
	if pingID == 0 {
		t.Fatal("bundled Ping monitor def not found")
	}

	w = doJSON(t, s, http.MethodPost, "/api/v1/monitors", token, map[string]any{
		"def_id": pingID,
		"args":   map[string]string{"hostname": "192.0.2.1"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create monitor: %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ID          int64  `json:"id"`
		State       string `json:"state"`
		Description string `json:"monitor_description"`
	}
	decodeBody(t, w, &created)
	if created.State != "UNKNOWN" {
		t.Errorf("new monitor state = %q", created.State)
	}
	if created.Description == "" {
		t.Error("monitor description empty")
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/monitors/99999", token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get missing monitor: %d, want 404", w.Code)
	}

	// Invalid args are rejected with 400.
	w = doJSON(t, s, http.MethodPost, "/api/v1/monitors", token, map[string]any{
		"def_id": pingID,
		"args":   map[string]string{"bogus": "x"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("create with bad args: %d, want 400", w.Code)
	}

	// A referenced def can not be deleted.
	w = doJSON(t, s, http.MethodDelete, "/api/v1/monitor-defs/"+itoa(pingID), token, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("delete referenced def: %d, want 409", w.Code)
	}

	w = doJSON(t, s, http.MethodDelete, "/api/v1/monitors/"+itoa(created.ID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete monitor: %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, s, http.MethodGet, "/api/v1/monitors/"+itoa(created.ID), token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get deleted monitor: %d, want 404", w.Code)
	}
}

func TestContactsOverAPI(t *testing.T) {
	s, token := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/contacts", token, map[string]any{
		"name":   "alice",
		"email":  "alice@example.com",
		"active": true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create contact: %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/contacts", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list contacts: %d", w.Code)
	}
	var contacts []struct {
		Name string `json:"name"`
	}
	decodeBody(t, w, &contacts)
	if len(contacts) != 1 || contacts[0].Name != "alice" {
		t.Errorf("contacts = %v", contacts)
	}
}

func TestMetadataOverAPI(t *testing.T) {
	s, token := newTestServer(t)

	w := doJSON(t, s, http.MethodPut, "/api/v1/metadata/active_monitor/1", token,
		map[string]string{"owner": "ops"})
	if w.Code != http.StatusOK {
		t.Fatalf("put metadata: %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/metadata/active_monitor/1", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get metadata: %d", w.Code)
	}
	var meta map[string]string
	decodeBody(t, w, &meta)
	if meta["owner"] != "ops" {
		t.Errorf("metadata = %v", meta)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s, token := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/stats", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: %d", w.Code)
	}
	var snap map[string]map[string]float64
	decodeBody(t, w, &snap)
	if _, ok := snap["ACT_MON"]; !ok {
		t.Errorf("stats snapshot missing ACT_MON section: %v", snap)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("upwatch_act_mon_num_monitors")) {
		t.Error("metrics output missing engine gauges")
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
