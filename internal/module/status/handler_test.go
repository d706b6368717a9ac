package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"aqmap-bk/internal/pkg/broadcast"
	"aqmap-bk/internal/pkg/client/dockerd"
	"aqmap-bk/internal/pkg/fleet"
	"aqmap-bk/internal/pkg/sysinfo"
	"aqmap-bk/internal/pkg/token"
)

type fakeBackend struct {
	workloads []dockerd.Workload
}

func (f *fakeBackend) List(ctx context.Context, all bool) ([]dockerd.Workload, error) {
	return f.workloads, nil
}

func (f *fakeBackend) Start(ctx context.Context, spec dockerd.StartSpec) (dockerd.Workload, error) {
	return dockerd.Workload{}, errors.New("not supported in tests")
}

func (f *fakeBackend) Stop(ctx context.Context, name string, timeout time.Duration) error {
	return nil
}

func (f *fakeBackend) Remove(ctx context.Context, name string, force bool) error {
	return nil
}

func (f *fakeBackend) Stats(ctx context.Context, name string) (dockerd.RawCounters, error) {
	return dockerd.RawCounters{}, errors.New("no stats in tests")
}

func (f *fakeBackend) Logs(ctx context.Context, name string, tail int) (string, error) {
	return "", errors.New("no logs in tests")
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testPassword = "dive-deeper"

func newTestEngine(t *testing.T) (*gin.Engine, *token.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	backend := &fakeBackend{workloads: []dockerd.Workload{
		{Name: "aquatic-trial-1", Status: "exited", Created: time.Now()},
	}}
	agg := fleet.NewAggregator(backend, "aquatic-trial", t.TempDir(), discard())
	sampler := sysinfo.NewSampler(nil, discard())
	hub := broadcast.NewHub(discard())
	tm := token.NewManager("test-secret", time.Hour)
	rt := NewRouter(agg, sampler, hub, tm, AuthRequired(tm), "operator", string(hash), time.Second, discard())
	engine := gin.New()
	rt.Register(engine)
	return engine, tm
}

func TestHealthNoAuth(t *testing.T) {
	engine, _ := newTestEngine(t)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	if !strings.Contains(w.Body.String(), "online") {
		t.Fatalf("expected online status, got %s", w.Body)
	}
}

func login(t *testing.T, engine *gin.Engine, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(gin.H{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestLoginWrongPassword(t *testing.T) {
	engine, _ := newTestEngine(t)
	if w := login(t, engine, "operator", "guessing"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := login(t, engine, "intruder", testPassword); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong username, got %d", w.Code)
	}
}

func TestLoginIssuesUsableToken(t *testing.T) {
	engine, _ := newTestEngine(t)
	w := login(t, engine, "operator", testPassword)
	if w.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", w.Code, w.Body)
	}
	var out struct {
		Results struct {
			AccessToken string `json:"access_token"`
		} `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Results.AccessToken == "" {
		t.Fatalf("no token in response: %s", w.Body)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer "+out.Results.AccessToken)
	got := httptest.NewRecorder()
	engine.ServeHTTP(got, req)
	if got.Code != http.StatusOK {
		t.Fatalf("authorized request rejected: %d %s", got.Code, got.Body)
	}
}

func TestAuthRequiredRejectsMissingAndBadTokens(t *testing.T) {
	engine, _ := newTestEngine(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", w.Code)
	}
}

func TestAuthRequiredAcceptsQueryToken(t *testing.T) {
	engine, tm := newTestEngine(t)
	tok, err := tm.Generate("operator")
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/containers?token="+tok, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
}

func TestStatusDocumentShape(t *testing.T) {
	engine, tm := newTestEngine(t)
	tok, err := tm.Generate("operator")
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status?token="+tok, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	var out struct {
		Results map[string]json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"containers", "system", "timestamp"} {
		if _, ok := out.Results[key]; !ok {
			t.Fatalf("status document missing %q: %s", key, w.Body)
		}
	}
}

func TestWebSocketGreetsWithSnapshot(t *testing.T) {
	engine, tm := newTestEngine(t)
	tok, err := tm.Generate("operator")
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var doc map[string]json.RawMessage
	if err := conn.ReadJSON(&doc); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if _, ok := doc["containers"]; !ok {
		t.Fatalf("greeting missing containers: %v", doc)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	engine, _ := newTestEngine(t)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatalf("expected handshake rejection")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %v", resp)
	}
}
