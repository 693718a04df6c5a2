package main

import (
	"strings"
	"testing"

	"voxelterrain.dev/internal/observerproto"
)

func TestBootstrapURL(t *testing.T) {
	cases := map[string]string{
		"ws://localhost:8080/v1/ws":     "http://localhost:8080/v1/bootstrap",
		"wss://example.test/v1/ws?x=1":  "https://example.test/v1/bootstrap",
		"ws://127.0.0.1:9/prefix/v1/ws": "http://127.0.0.1:9/prefix/v1/bootstrap",
	}
	for in, want := range cases {
		got, err := bootstrapURL(in)
		if err != nil || got != want {
			t.Fatalf("bootstrapURL(%q)=%q err=%v want %q", in, got, err, want)
		}
	}
	if _, err := bootstrapURL("http://localhost/v1/ws"); err == nil {
		t.Fatalf("http scheme accepted")
	}
}

func TestFormatStatus(t *testing.T) {
	st := observerproto.StatusMsg{Viewer: [2]int{3, -1}, Radius: 2, Live: 13, Updated: 13}
	line := formatStatus(st)
	if !strings.Contains(line, "viewer=[3, -1]") || !strings.Contains(line, "upd=13") || strings.Contains(line, "burst=") {
		t.Fatalf("line=%q", line)
	}

	st.LastBurst = &observerproto.BurstSummary{ID: "0123456789abcdef", Enqueued: 4, Ran: 4, Done: true, DurationMs: 17}
	line = formatStatus(st)
	if !strings.Contains(line, "burst=01234567 ran=4/4 failed=0 17ms") {
		t.Fatalf("line=%q", line)
	}
}
