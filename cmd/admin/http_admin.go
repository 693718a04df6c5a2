package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

func adminURL(base, path string, q url.Values) string {
	u := strings.TrimRight(strings.TrimSpace(base), "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func doAdmin(method, u string, timeout time.Duration) {
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(2)
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func statusCmd(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	doAdmin(http.MethodGet, adminURL(*baseURL, "/admin/v1/status", nil), 5*time.Second)
}

func pickCmd(args []string) {
	fs := flag.NewFlagSet("pick", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	origin := fs.String("origin", "", "ray origin x,y,z (required)")
	dir := fs.String("dir", "0,-1,0", "ray direction x,y,z")
	_ = fs.Parse(args)

	o, err := parseVec3(*origin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -origin:", err)
		os.Exit(2)
	}
	d, err := parseVec3(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -dir:", err)
		os.Exit(2)
	}
	q := url.Values{}
	for i, name := range []string{"ox", "oy", "oz"} {
		q.Set(name, strconv.FormatFloat(o[i], 'g', -1, 64))
	}
	for i, name := range []string{"dx", "dy", "dz"} {
		q.Set(name, strconv.FormatFloat(d[i], 'g', -1, 64))
	}
	doAdmin(http.MethodGet, adminURL(*baseURL, "/admin/v1/pick", q), 5*time.Second)
}

func regenerateCmd(args []string) {
	fs := flag.NewFlagSet("regenerate", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	cx := fs.Int("cx", 0, "chunk x")
	cz := fs.Int("cz", 0, "chunk z")
	_ = fs.Parse(args)

	q := url.Values{}
	q.Set("cx", strconv.Itoa(*cx))
	q.Set("cz", strconv.Itoa(*cz))
	doAdmin(http.MethodPost, adminURL(*baseURL, "/admin/v1/regenerate", q), 5*time.Second)
}

func saveCmd(args []string) {
	fs := flag.NewFlagSet("save", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	doAdmin(http.MethodPost, adminURL(*baseURL, "/admin/v1/save", nil), 30*time.Second)
}

func parseVec3(s string) ([3]float64, error) {
	var v [3]float64
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return v, err
		}
		v[i] = f
	}
	return v, nil
}
