// Command watch subscribes to a terrain server's observer stream and prints
// one line per STATUS message.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"voxelterrain.dev/internal/observerproto"
)

func main() {
	var (
		wsURL = flag.String("url", "ws://localhost:8080/v1/ws", "observer ws url")
		every = flag.Int("every_ms", 1000, "requested status interval in ms")
		count = flag.Int("n", 0, "exit after this many STATUS messages (0 = run until interrupted)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmicroseconds)

	if boot, err := fetchBootstrap(*wsURL); err != nil {
		logger.Printf("bootstrap: %v", err)
	} else {
		p := boot.TerrainParams
		logger.Printf("run=%s seed=%d chunk=%v radius=%d mesh=%s palette=%d",
			boot.RunID, p.Seed, p.ChunkSize, p.Radius, p.MeshMode, len(boot.Palette))
	}

	conn, _, err := websocket.DefaultDialer.Dial(*wsURL, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		StatusEveryMs:   *every,
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	seen := 0
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Printf("read: %v", err)
			}
			return
		}
		var st observerproto.StatusMsg
		if err := json.Unmarshal(msg, &st); err != nil || st.Type != observerproto.TypeStatus {
			continue
		}
		logger.Print(formatStatus(st))
		seen++
		if *count > 0 && seen >= *count {
			return
		}
	}
}

// bootstrapURL maps ws[s]://host/v1/ws to http[s]://host/v1/bootstrap.
func bootstrapURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws") + "/bootstrap"
	u.RawQuery = ""
	return u.String(), nil
}

func fetchBootstrap(wsURL string) (observerproto.BootstrapResponse, error) {
	var out observerproto.BootstrapResponse
	u, err := bootstrapURL(wsURL)
	if err != nil {
		return out, err
	}
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return out, fmt.Errorf("%s: %s", u, resp.Status)
	}
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out, err
}

func formatStatus(st observerproto.StatusMsg) string {
	var b strings.Builder
	fmt.Fprintf(&b, "viewer=[%d, %d] r=%d live=%d cached=%d ng=%d gen=%d upd=%d pending=%d workers=%d",
		st.Viewer[0], st.Viewer[1], st.Radius, st.Live, st.Cached,
		st.NotGenerated, st.Generated, st.Updated, st.Pending, st.Workers)
	if lb := st.LastBurst; lb != nil {
		state := "running"
		if lb.Done {
			state = fmt.Sprintf("%dms", lb.DurationMs)
		}
		fmt.Fprintf(&b, " burst=%s ran=%d/%d failed=%d %s", shortID(lb.ID), lb.Ran, lb.Enqueued, lb.Failed, state)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
