package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/energizer-project/matchmaker/internal/config"
	"github.com/energizer-project/matchmaker/internal/db"
	"github.com/energizer-project/matchmaker/internal/health"
	"github.com/energizer-project/matchmaker/internal/metrics"
	"github.com/energizer-project/matchmaker/internal/network"
	"github.com/energizer-project/matchmaker/internal/protocol"
)

type fakeStore struct {
	servers map[string]*db.ServerRecord
}

func (f *fakeStore) ListServers() ([]db.ServerRecord, error) {
	var out []db.ServerRecord
	for _, s := range f.servers {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeStore) GetServer(key string) (*db.ServerRecord, error) {
	return f.servers[key], nil
}

func (f *fakeStore) DeleteServer(key string) (bool, error) {
	if _, ok := f.servers[key]; !ok {
		return false, nil
	}
	delete(f.servers, key)
	return true, nil
}

func (f *fakeStore) CountServers() (int, error) {
	return len(f.servers), nil
}

type fakeRouter struct{}

func (fakeRouter) State() network.State { return network.StateRunning }

func (fakeRouter) HandlerNames() map[protocol.PacketType][]string {
	return map[protocol.PacketType][]string{
		protocol.PktArrangedConnectRequest: {"arranged_connect_request"},
		protocol.PktMatchmakerPing:         {"matchmaker_ping"},
	}
}

type fakeSweeper struct{ runs int }

func (f *fakeSweeper) RunCleanup(ctx context.Context) (int, error) {
	f.runs++
	return 3, nil
}

func (f *fakeSweeper) LastCleanup() (time.Time, int) {
	return time.Time{}, 0
}

type fakeHealth struct{ ok bool }

func (f fakeHealth) Healthy() bool { return f.ok }

func (f fakeHealth) Results() []health.CheckResult {
	return []health.CheckResult{{Name: "router", Healthy: f.ok, Message: "packet router running"}}
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, cfg config.APIConfig) (*Server, *fakeStore) {
	t.Helper()
	store := &fakeStore{servers: map[string]*db.ServerRecord{
		"203.0.113.5": {
			Addr:      "203.0.113.5",
			Updated:   time.Unix(1_700_000_000, 0),
			Addresses: []db.AddressRecord{{Addr: "192.168.1.10:28000=1"}},
		},
	}}

	reg := prometheus.NewRegistry()
	m := metrics.New(metrics.Config{Namespace: "test", Registry: reg})
	m.PacketReceived("MatchmakerPing")

	s := NewServer(cfg, Deps{
		Store:   store,
		Router:  fakeRouter{},
		Sweeper: &fakeSweeper{},
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Game:    config.DefaultConfig().Game,
		Version: "test",
	})
	return s, store
}

func do(s *Server, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:40000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad JSON %q: %v", w.Body.String(), err)
	}
	return body
}

func TestPublicEndpoints(t *testing.T) {
	s, _ := newTestServer(t, config.APIConfig{AdminToken: "secret"})

	w := do(s, http.MethodGet, "/api/public/ping", "")
	if w.Code != http.StatusOK {
		t.Fatalf("ping status = %d", w.Code)
	}
	if body := decode(t, w); body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("ping body = %v", body)
	}

	w = do(s, http.MethodGet, "/api/public/info", "")
	if w.Code != http.StatusOK {
		t.Fatalf("info status = %d", w.Code)
	}
	body := decode(t, w)
	if body["router_state"] != "running" || body["servers_tracked"] != float64(1) {
		t.Errorf("info body = %v", body)
	}
	game, _ := body["game"].(map[string]interface{})
	if game["version"] != float64(21) {
		t.Errorf("game = %v", game)
	}

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("security header missing: %q", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, config.APIConfig{AdminToken: "secret"})

	w := do(s, http.MethodGet, "/api/public/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status without reporter = %d", w.Code)
	}

	s.deps.Health = fakeHealth{ok: true}
	w = do(s, http.MethodGet, "/api/public/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("healthy status = %d", w.Code)
	}
	checks, _ := decode(t, w)["checks"].([]interface{})
	if len(checks) != 1 {
		t.Errorf("checks = %v", checks)
	}

	s.deps.Health = fakeHealth{ok: false}
	if w := do(s, http.MethodGet, "/api/public/health", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d", w.Code)
	}
}

func TestAdminTokenRequired(t *testing.T) {
	s, _ := newTestServer(t, config.APIConfig{AdminToken: "secret"})

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"right", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(s, http.MethodGet, "/api/servers", tt.token); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestServerRoutes(t *testing.T) {
	s, store := newTestServer(t, config.APIConfig{})

	w := do(s, http.MethodGet, "/api/servers", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	if body := decode(t, w); body["total"] != float64(1) {
		t.Errorf("list body = %v", body)
	}

	w = do(s, http.MethodGet, "/api/servers/203.0.113.5:28000", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if body := decode(t, w); body["addr"] != "203.0.113.5" {
		t.Errorf("get body = %v", body)
	}

	if w := do(s, http.MethodGet, "/api/servers/not-an-ip", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad ip status = %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/servers/198.51.100.1", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown status = %d", w.Code)
	}

	if w := do(s, http.MethodDelete, "/api/servers/203.0.113.5", ""); w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	if len(store.servers) != 0 {
		t.Error("server not deleted")
	}
	if w := do(s, http.MethodDelete, "/api/servers/203.0.113.5", ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", w.Code)
	}
}

func TestExpireRoute(t *testing.T) {
	s, _ := newTestServer(t, config.APIConfig{})

	w := do(s, http.MethodPost, "/api/servers/expire", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decode(t, w); body["removed"] != float64(3) {
		t.Errorf("body = %v", body)
	}
	if runs := s.deps.Sweeper.(*fakeSweeper).runs; runs != 1 {
		t.Errorf("sweeper ran %d times", runs)
	}
}

func TestHandlersRoute(t *testing.T) {
	s, _ := newTestServer(t, config.APIConfig{})

	w := do(s, http.MethodGet, "/api/handlers", "")
	body := decode(t, w)
	handlers, _ := body["handlers"].([]interface{})
	if len(handlers) != 2 {
		t.Fatalf("handlers = %v", body["handlers"])
	}
	first, _ := handlers[0].(map[string]interface{})
	if first["code"] != float64(44) {
		t.Errorf("first handler entry = %v, want code 44", first)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, config.APIConfig{})

	w := do(s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `test_packets_received_total{type="MatchmakerPing"} 1`) {
		t.Errorf("metrics output missing counter:\n%s", w.Body.String())
	}
}

func TestIPWhitelist(t *testing.T) {
	s, _ := newTestServer(t, config.APIConfig{IPWhitelist: []string{"10.0.0.0/8"}})

	if w := do(s, http.MethodGet, "/api/servers", ""); w.Code != http.StatusForbidden {
		t.Errorf("non-whitelisted status = %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/metrics", ""); w.Code != http.StatusForbidden {
		t.Errorf("metrics status = %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/public/ping", ""); w.Code != http.StatusOK {
		t.Errorf("public status = %d", w.Code)
	}

	s, _ = newTestServer(t, config.APIConfig{IPWhitelist: []string{"127.0.0.1"}})
	if w := do(s, http.MethodGet, "/api/servers", ""); w.Code != http.StatusOK {
		t.Errorf("whitelisted status = %d", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Unix(0, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst of two should be allowed")
	}
	if rl.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("other clients have their own bucket")
	}

	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Fatal("bucket should refill")
	}

	if !NewRateLimiter(0).Allow("a") {
		t.Fatal("zero rate disables limiting")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := map[string]string{
		"":              "",
		"Bearer abc":    "abc",
		"bearer abc":    "abc",
		"Basic abc":     "",
		"Bearer":        "",
		"Bearer  abc  ": "abc",
	}
	for header, want := range tests {
		if got := extractBearerToken(header); got != want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestReadRecentLogEntries(t *testing.T) {
	dir := t.TempDir()
	lines := []string{
		`{"level":"info","time":"2024-01-01T00:00:00Z","component":"router","message":"packet router running","port":5555}`,
		`not json`,
		`{"level":"debug","message":"ping"}`,
	}
	path := filepath.Join(dir, "matchmaker_2024-01-01.log")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	entries, err := readRecentLogEntries(dir, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Message != "not json" || entries[1].Message != "ping" {
		t.Errorf("entries = %+v", entries)
	}

	entries, _ = readRecentLogEntries(dir, 10)
	if entries[0].Component != "router" || entries[0].Fields["port"] != float64(5555) {
		t.Errorf("first entry = %+v", entries[0])
	}
}
