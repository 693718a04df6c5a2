package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelterrain.dev/internal/observerproto"
	"voxelterrain.dev/internal/sim/terrain"
	"voxelterrain.dev/internal/sim/terrain/chunk"
	"voxelterrain.dev/internal/sim/terrain/gen"
	"voxelterrain.dev/internal/sim/terrain/sched"
	"voxelterrain.dev/internal/sim/terrain/voxel"
)

type fakeSource struct{}

func (fakeSource) RunID() string { return "run-test" }

func (fakeSource) Config() terrain.Config {
	return terrain.Config{Gen: gen.DefaultParams(voxel.DefaultDims), Seed: 5, Radius: 3}
}

func (fakeSource) Status() terrain.Status {
	return terrain.Status{
		RunID:     "run-test",
		Viewer:    chunk.Key{CX: 2, CZ: -1},
		Radius:    3,
		Live:      25,
		Cached:    30,
		Generated: 5,
		Updated:   20,
		LastBurst: &sched.BurstStats{ID: "b1", Viewer: chunk.Key{CX: 2, CZ: -1}, Enqueued: 5, Ran: 5, Done: true, Duration: 40 * time.Millisecond},
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := NewServer(fakeSource{}, 50*time.Millisecond, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/ws", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestBootstrap(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/bootstrap")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var boot observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if boot.RunID != "run-test" || boot.TerrainParams.ChunkSize != [3]int{16, 256, 16} || boot.TerrainParams.Seed != 5 {
		t.Fatalf("bootstrap %+v", boot)
	}
	if boot.TerrainParams.MeshMode != "greedy" || len(boot.Palette) != len(voxel.Palette) {
		t.Fatalf("bootstrap %+v", boot)
	}
	if boot.Palette[0].Name != "BEDROCK" {
		t.Fatalf("palette not sorted by code: %+v", boot.Palette)
	}

	post, err := http.Post(srv.URL+"/v1/bootstrap", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST status %d", post.StatusCode)
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWS_StreamsStatus(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv)
	if err := conn.WriteJSON(observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	schema, err := jsonschema.Compile(filepath.Join("..", "..", "..", "schemas", "status.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	for i := 0; i < 2; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		var doc any
		if err := json.Unmarshal(b, &doc); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := schema.Validate(doc); err != nil {
			t.Fatalf("status %s: %v", b, err)
		}
		var st observerproto.StatusMsg
		_ = json.Unmarshal(b, &st)
		if st.Type != "STATUS" || st.Viewer != [2]int{2, -1} || st.Live != 25 || st.LastBurst == nil || st.LastBurst.DurationMs != 40 {
			t.Fatalf("status %+v", st)
		}
	}
}

func TestWS_RejectsMissingSubscribe(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv)
	if err := conn.WriteJSON(map[string]string{"type": "HELLO"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v want policy violation close", err)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:1234": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}

func TestClampInterval(t *testing.T) {
	if clampInterval(time.Millisecond) != 50*time.Millisecond || clampInterval(time.Hour) != time.Minute {
		t.Fatalf("clampInterval bounds wrong")
	}
}
