package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelterrain.dev/internal/observerproto"
	"voxelterrain.dev/internal/sim/terrain"
	"voxelterrain.dev/internal/sim/terrain/voxel"
)

// Source is the part of the terrain the observer reads.
type Source interface {
	RunID() string
	Config() terrain.Config
	Status() terrain.Status
}

type Server struct {
	src         Source
	log         *log.Logger
	statusEvery time.Duration

	upgrader websocket.Upgrader
	sessions atomic.Int64
}

func NewServer(src Source, statusEvery time.Duration, logger *log.Logger) *Server {
	return &Server{
		src:         src,
		log:         logger,
		statusEvery: clampInterval(statusEvery),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only, see isLoopbackRemote
		},
	}
}

// Sessions is the number of connected observers.
func (s *Server) Sessions() int { return int(s.sessions.Load()) }

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.bootstrap())
	}
}

func (s *Server) bootstrap() observerproto.BootstrapResponse {
	cfg := s.src.Config()
	d := cfg.Gen.Dims
	resp := observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		RunID:           s.src.RunID(),
		TerrainParams: observerproto.TerrainParams{
			ChunkSize:     [3]int{d.X, d.Y, d.Z},
			Seed:          cfg.Seed,
			Radius:        cfg.Radius,
			BaseHeight:    cfg.Gen.BaseHeight,
			Amplitude:     cfg.Gen.Amplitude,
			Scale:         cfg.Gen.Scale,
			BedrockLayers: cfg.Gen.BedrockLayers,
			CavesEnabled:  cfg.Gen.Caves.Enabled,
			MeshMode:      cfg.MeshMode.String(),
		},
	}
	for t, c := range voxel.Palette {
		resp.Palette = append(resp.Palette, observerproto.PaletteEntry{Code: uint8(t), Name: t.String(), RGBA: [4]float32(c)})
	}
	sort.Slice(resp.Palette, func(i, j int) bool { return resp.Palette[i].Code < resp.Palette[j].Code })
	return resp
}

func (s *Server) status() observerproto.StatusMsg {
	st := s.src.Status()
	msg := observerproto.StatusMsg{
		Type:            observerproto.TypeStatus,
		ProtocolVersion: observerproto.Version,
		RunID:           st.RunID,
		AtUnixMs:        time.Now().UnixMilli(),
		Viewer:          [2]int{st.Viewer.CX, st.Viewer.CZ},
		Radius:          st.Radius,
		Live:            st.Live,
		Cached:          st.Cached,
		NotGenerated:    st.NotGenerated,
		Generated:       st.Generated,
		Updated:         st.Updated,
		Pending:         st.Pending,
		Workers:         st.Workers,
	}
	if b := st.LastBurst; b != nil {
		msg.LastBurst = &observerproto.BurstSummary{
			ID:         b.ID,
			Viewer:     [2]int{b.Viewer.CX, b.Viewer.CZ},
			Enqueued:   b.Enqueued,
			Ran:        b.Ran,
			Failed:     b.Failed,
			Done:       b.Done,
			DurationMs: b.Duration.Milliseconds(),
		}
	}
	return msg
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		if s.log != nil {
			s.log.Printf("observer connected from %s", r.RemoteAddr)
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		every := make(chan time.Duration, 1)
		every <- s.interval(sub)

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			writeErr <- s.writeLoop(ctx, conn, every)
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, ok := parseSubscribe(msg)
			if !ok {
				continue
			}
			select {
			case every <- s.interval(sub):
			default:
				// Writer has not picked up the previous update yet; the client may resend.
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// writeLoop sends a STATUS immediately and then on every tick.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, every <-chan time.Duration) error {
	ticker := time.NewTicker(<-every)
	defer ticker.Stop()
	send := func() error {
		b, err := json.Marshal(s.status())
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, b)
	}
	if err := send(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-every:
			ticker.Reset(d)
		case <-ticker.C:
			if err := send(); err != nil {
				return err
			}
		}
	}
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	return sub, true
}

func (s *Server) interval(sub observerproto.SubscribeMsg) time.Duration {
	if sub.StatusEveryMs <= 0 {
		return s.statusEvery
	}
	return clampInterval(time.Duration(sub.StatusEveryMs) * time.Millisecond)
}

func clampInterval(d time.Duration) time.Duration {
	if d < 50*time.Millisecond {
		return 50 * time.Millisecond
	}
	if d > time.Minute {
		return time.Minute
	}
	return d
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
