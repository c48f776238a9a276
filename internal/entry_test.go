package internal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

func testApp(t *testing.T, mutate func(*Config)) *App {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Store.Path = filepath.Join(dir, "treeapp_data.json")
	cfg.Index.Path = filepath.Join(dir, "treeapp_index.db")
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	a, err := Open(context.Background(),
		WithConfig(cfg),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func get(t *testing.T, h http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestOpen_RequiresConfig(t *testing.T) {
	if _, err := Open(context.Background()); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestOpen_DoesNotInitWorkspace(t *testing.T) {
	a := testApp(t, nil)
	if n := a.Store.CountNodes(); n != 0 {
		t.Errorf("nodes = %d, want 0", n)
	}
	if rec := get(t, a.Handler(), "/health/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready before init = %d, want 503", rec.Code)
	}
}

func TestHandler_HealthAndAPI(t *testing.T) {
	a := testApp(t, nil)
	res, err := a.Service.InitWorkspace(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	h := a.Handler()

	for _, path := range []string{"/health/live", "/health/ready"} {
		if rec := get(t, h, path); rec.Code != http.StatusOK {
			t.Errorf("%s = %d", path, rec.Code)
		}
	}

	rec := get(t, h, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats = %d: %s", rec.Code, rec.Body.String())
	}
	var stats map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats["root_id"] != res.RootID {
		t.Errorf("root_id = %v, want %s", stats["root_id"], res.RootID)
	}
}

func TestHandler_Metrics(t *testing.T) {
	a := testApp(t, nil)
	if _, err := a.Service.InitWorkspace(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec := get(t, a.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "treeapp_store_") {
		t.Error("store metrics missing from /metrics")
	}
}

func TestHandler_Auth(t *testing.T) {
	a := testApp(t, func(c *Config) {
		c.Auth.Mode = AuthModeToken
		c.Auth.Token = "secret"
	})
	h := a.Handler()

	if rec := get(t, h, "/api/stats"); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", rec.Code)
	}
	if rec := get(t, h, "/api/stats", "Authorization", "Bearer secret"); rec.Code != http.StatusOK {
		t.Errorf("with token = %d, want 200", rec.Code)
	}
	// Health checks stay open.
	if rec := get(t, h, "/health/live"); rec.Code != http.StatusOK {
		t.Errorf("live = %d", rec.Code)
	}
}

func TestOpen_ReopenKeepsTree(t *testing.T) {
	dir := t.TempDir()
	mutate := func(c *Config) {
		c.Store.Path = filepath.Join(dir, "data.json")
		c.Index.Path = filepath.Join(dir, "index.db")
	}

	first := testApp(t, mutate)
	res, err := first.Service.InitWorkspace(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	_ = first.Close()

	second := testApp(t, mutate)
	if second.Store.RootID() != res.RootID {
		t.Errorf("root after reopen = %q, want %q", second.Store.RootID(), res.RootID)
	}
}
