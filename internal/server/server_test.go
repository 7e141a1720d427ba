package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/woozymasta/seeker/internal/config"
	"github.com/woozymasta/seeker/internal/entity"
	"github.com/woozymasta/seeker/internal/ingest"
	"github.com/woozymasta/seeker/internal/storage"
)

const testToken = "secret"

type testEnv struct {
	srv      *httptest.Server
	repo     *storage.Repository
	pipeline *ingest.Pipeline
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	repo, err := storage.New(storage.DriverSQLite, filepath.Join(t.TempDir(), "seeker.db"))
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	cfg := &config.Config{}
	cfg.Server.AuthToken = testToken
	cfg.Server.MaxBodySize = 1 << 16
	cfg.Server.ListLimit = 100
	cfg.RateLimit.HardLimitCount = 1000
	cfg.RateLimit.HardLimitWin = time.Minute
	if mutate != nil {
		mutate(cfg)
	}

	pipeline := ingest.New(repo, nil, ingest.Options{QueueSize: 2, StoreTimeout: 5 * time.Second})

	s := New(repo, pipeline, cfg)
	t.Cleanup(s.Close)

	srv := httptest.NewServer(s.Run())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, repo: repo, pipeline: pipeline}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
	}

	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return v
}

func observation(address, name string) ingest.Observation {
	return ingest.Observation{
		Address:  address,
		Port:     25565,
		Response: json.RawMessage(fmt.Sprintf(`{"version":{"name":%q,"protocol":763},"description":"hi","players":{"max":20,"online":1}}`, name)),
	}
}

func (e *testEnv) seed(t *testing.T, observations ...ingest.Observation) {
	t.Helper()

	for _, o := range observations {
		if _, err := e.pipeline.Process(context.Background(), o); err != nil {
			t.Fatalf("Process() error = %v", err)
		}
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/api/stats", "/api/servers", "/api/server?address=a&port=1"} {
		resp, err := http.Get(env.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want 401", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(env.srv.URL + "/api/version")
	if err != nil {
		t.Fatalf("GET /api/version error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /api/version status = %d, want 200", resp.StatusCode)
	}
}

func TestPostObservation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		body   any
		status int
		want   string
	}{
		{"queued", observation("1.2.3.4", "Paper 1.20.1"), http.StatusAccepted, "queued"},
		{"bad json", `{"address":`, http.StatusBadRequest, ""},
		{"bad port", ingest.Observation{Address: "1.2.3.4", Port: 0, Response: json.RawMessage(`{}`)}, http.StatusBadRequest, ""},
		{"second queued", observation("1.2.3.5", "Paper 1.20.1"), http.StatusAccepted, "queued"},
		{"queue full", observation("1.2.3.6", "Paper 1.20.1"), http.StatusServiceUnavailable, "rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/observation", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.want != "" {
				if got := decode[statusResponse](t, resp); got.Status != tt.want {
					t.Errorf("status body = %+v, want %s", got, tt.want)
				}
			}
		})
	}
}

func TestPostObservation_Sync(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/observation?sync=true", observation("5.6.7.8", "Purpur 1.21"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	got := decode[entity.APIServer](t, resp)
	if got.Address != "5.6.7.8" || got.Type != "PURPUR" || got.TimesSeen != 1 || got.MOTD != "hi" {
		t.Errorf("server = %+v", got)
	}

	malformed := ingest.Observation{Address: "5.6.7.8", Port: 25565, Response: json.RawMessage(`{"players":{"max":1}}`)}
	resp = env.do(t, http.MethodPost, "/api/observation?sync=true", malformed)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("malformed status = %d, want 422", resp.StatusCode)
	}
}

func TestGetServer(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, observation("9.9.9.9", "Paper 1.20.1"), observation("9.9.9.9", "Paper 1.20.2"))

	resp := env.do(t, http.MethodGet, "/api/server?address=9.9.9.9&port=25565", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decode[entity.APIServer](t, resp)
	if got.TimesSeen != 2 || got.Version == nil || *got.Version != "Paper 1.20.2" {
		t.Errorf("server = %+v", got)
	}

	if resp := env.do(t, http.MethodGet, "/api/server?address=9.9.9.9&port=1", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing server status = %d, want 404", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/api/server?address=9.9.9.9&port=x", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad port status = %d, want 400", resp.StatusCode)
	}
}

func TestListServers(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t,
		observation("10.0.0.1", "Paper 1.19.4"),
		observation("10.0.0.2", "Paper 1.20.1"),
		observation("10.0.0.3", "1.20.4"),
		observation("10.0.0.4", "Velocity 3.3.0"),
	)

	tests := []struct {
		name  string
		query string
		count int
	}{
		{"all", "", 4},
		{"limit", "?limit=2", 2},
		{"type", "?type=paper", 2},
		{"release", "?release=" + "%3E%3D1.20%2C%3C1.21", 2},
		{"type and release", "?type=PAPER&release=%3E%3D1.20", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, "/api/servers"+tt.query, nil)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}
			if got := decode[[]entity.APIServer](t, resp); len(got) != tt.count {
				t.Errorf("got %d servers, want %d", len(got), tt.count)
			}
		})
	}

	for _, q := range []string{"?limit=0", "?type=MYSTERY", "?release=%3E%3Dbanana"} {
		if resp := env.do(t, http.MethodGet, "/api/servers"+q, nil); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET /api/servers%s status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, observation("10.0.0.1", "Paper 1.20.1"))

	resp := env.do(t, http.MethodGet, "/api/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	got := decode[statsResponse](t, resp)
	if got.Storage == nil || got.Storage.Servers != 1 || got.Storage.ByType["PAPER"] != 1 {
		t.Errorf("stats = %+v", got.Storage)
	}
	if got.Ingest.Stored != 1 {
		t.Errorf("ingest = %+v", got.Ingest)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.RateLimit.HardLimitCount = 2
		c.RateLimit.HardLimitWin = time.Hour
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, env.do(t, http.MethodGet, "/api/stats", nil).StatusCode)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [200 200 429]", codes)
	}
}

func TestRateLimit_SharedAcrossRoutes(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.RateLimit.HardLimitCount = 1
		c.RateLimit.HardLimitWin = time.Hour
	})

	paths := []string{"/api/stats", "/api/servers", "/api/server?address=203.0.113.1&port=25565"}
	codes := make([]int, 0, len(paths))
	for _, path := range paths {
		codes = append(codes, env.do(t, http.MethodGet, path, nil).StatusCode)
	}

	want := []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("status codes = %v, want %v", codes, want)
			break
		}
	}

	if got := env.do(t, http.MethodGet, "/api/version", nil).StatusCode; got != http.StatusOK {
		t.Errorf("GET /api/version = %d, want 200 outside of the limit", got)
	}
}

func TestObservationStream(t *testing.T) {
	env := newTestEnv(t, nil)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/observation/ws"
	header := http.Header{"Authorization": []string{"Bearer " + testToken}}

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()

	messages := []struct {
		payload any
		want    string
	}{
		{observation("10.1.0.1", "Paper 1.20.1"), "queued"},
		{ingest.Observation{Address: "", Port: 1, Response: json.RawMessage(`{}`)}, "rejected"},
		{"not json", "rejected"},
	}

	for _, m := range messages {
		var err error
		if s, ok := m.payload.(string); ok {
			err = conn.WriteMessage(websocket.TextMessage, []byte(s))
		} else {
			err = conn.WriteJSON(m.payload)
		}
		if err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		var ack statusResponse
		if err := conn.ReadJSON(&ack); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if ack.Status != m.want {
			t.Errorf("ack = %+v, want %s", ack, m.want)
		}
	}

	if env.pipeline.QueueLen() != 1 {
		t.Errorf("QueueLen() = %d, want 1", env.pipeline.QueueLen())
	}
}

func TestObservationStream_Unauthorized(t *testing.T) {
	env := newTestEnv(t, nil)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/observation/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Expected dial to fail without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestGetRealIP(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{"remote addr", "10.0.0.1:1234", nil, false, "10.0.0.1"},
		{"ignores xff", "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "1.1.1.1"}, false, "10.0.0.1"},
		{"xff", "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, true, "1.1.1.1"},
		{"cloudflare first", "10.0.0.1:1234", map[string]string{"CF-Connecting-IP": "3.3.3.3", "X-Forwarded-For": "1.1.1.1"}, true, "3.3.3.3"},
		{"no port", "10.0.0.1", nil, false, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := GetRealIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("GetRealIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
