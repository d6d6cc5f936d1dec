package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsulehq/runtime/internal/infrastructure/config"
)

// newTestServer stands up the full wiring behind an httptest listener.
// The catalog base URL has to point back at the listener so manifest
// loads go through the real HTTP path, so the router is bound late.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	seeds := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(seeds, "index.html"),
		[]byte("<h1>capsule</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(seeds, "capsule.yaml"), []byte(`
artifact:
  id: art_itest
  type: markup
  runtime_version: "1.0.0"
  version: 1
assets:
  document: index.html
`), 0o644))

	var srv *Server
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.Router().ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.RateLimit.Enabled = false
	cfg.Artifacts.SeedsDir = seeds
	cfg.Artifacts.BaseURL = ts.URL

	var err error
	srv, err = NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

type sessionSnapshot struct {
	Status   string          `json:"status"`
	Manifest json.RawMessage `json:"manifest"`
}

// fetchSnapshot is polling-safe: it reports failure instead of ending
// the test from inside an Eventually tick.
func fetchSnapshot(base, id string) (sessionSnapshot, bool) {
	var snap sessionSnapshot
	r, err := http.Get(base + "/sessions/" + id)
	if err != nil {
		return snap, false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		return snap, false
	}
	return snap, true
}

func TestSessionLifecycleEndToEnd(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/sessions", map[string]any{
		"artifact_id": "art_itest",
		"surface":     "feed",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.ID)

	// The manifest round-trips through the server's own artifact
	// endpoints before the session can leave loading.
	require.Eventually(t, func() bool {
		snap, ok := fetchSnapshot(ts.URL, created.ID)
		return ok && snap.Status == "loading" && len(snap.Manifest) > 0
	}, 5*time.Second, 20*time.Millisecond)

	// Seeded assets carry no external origin, so the bundle attaches
	// from an opaque browsing context.
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sessions/" + created.ID + "/bridge"
	conn, wsResp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"null"}})
	require.NoError(t, err)
	if wsResp != nil {
		wsResp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"ready","payload":{"bootTime":40}}`)))
	require.Eventually(t, func() bool {
		snap, ok := fetchSnapshot(ts.URL, created.ID)
		return ok && snap.Status == "ready"
	}, 5*time.Second, 20*time.Millisecond)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/"+created.ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	r, err := http.Get(ts.URL + "/admission/feed")
	require.NoError(t, err)
	var stats struct {
		Active int `json:"active"`
	}
	decodeBody(t, r, &stats)
	assert.Equal(t, 0, stats.Active)
}

func TestServedArtifactAssets(t *testing.T) {
	_, ts := newTestServer(t)

	r, err := http.Get(ts.URL + "/artifacts/art_itest/manifest")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, r.StatusCode)
	var wire struct {
		ArtifactID string `json:"artifactId"`
		Type       string `json:"type"`
	}
	decodeBody(t, r, &wire)
	assert.Equal(t, "art_itest", wire.ArtifactID)
	assert.Equal(t, "markup", wire.Type)

	r, err = http.Get(ts.URL + "/artifacts/art_itest/assets/index.html")
	require.NoError(t, err)
	defer r.Body.Close()
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Contains(t, r.Header.Get("Content-Type"), "text/html")
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	r, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	var health struct {
		Status string `json:"status"`
	}
	decodeBody(t, r, &health)
	assert.Equal(t, "healthy", health.Status)

	r, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer r.Body.Close()
	require.Equal(t, http.StatusOK, r.StatusCode)
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "runtime_http_requests_total")
}
