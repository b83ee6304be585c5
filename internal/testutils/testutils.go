// Package testutils provides a fake tile service and deterministic tile
// images for tests.
package testutils

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// TileColor returns the deterministic fill color for a tile.
func TileColor(x, y, z int) color.RGBA {
	return color.RGBA{
		R: uint8((x * 37) % 256),
		G: uint8((y * 57) % 256),
		B: uint8((z * 11) % 256),
		A: 255,
	}
}

// JPEGTile encodes a solid-color square tile as JPEG bytes.
func JPEGTile(t *testing.T, tileSize int, c color.Color) []byte {
	t.Helper()
	im := image.NewRGBA(image.Rect(0, 0, tileSize, tileSize))
	r, g, b, a := c.RGBA()
	for y := 0; y < tileSize; y++ {
		for x := 0; x < tileSize; x++ {
			im.SetRGBA(x, y, color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, im, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode tile: %v", err)
	}
	return buf.Bytes()
}

// TileServer is a fake tile service speaking the style tiles URL scheme.
// Individual tiles can be rigged to fail with a given status code.
type TileServer struct {
	*httptest.Server

	// Token, when non-empty, is the only accepted access token;
	// anything else gets a 401.
	Token string

	tileSize int

	mu       sync.Mutex
	requests map[string]int
	failures map[string]failure
	bodies   map[string][]byte
}

type failure struct {
	status int
	times  int // negative means always
}

// NewTileServer starts a fake tile service producing tileSize JPEG tiles.
// The server is shut down automatically when the test finishes.
func NewTileServer(t *testing.T, tileSize int) *TileServer {
	t.Helper()

	s := &TileServer{
		tileSize: tileSize,
		requests: make(map[string]int),
		failures: make(map[string]failure),
		bodies:   make(map[string][]byte),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handle(t, w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

// FailTile rigs a tile to respond with the given status. A negative
// times makes the failure permanent; otherwise the tile recovers after
// that many failed responses.
func (s *TileServer) FailTile(x, y, z, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key(x, y, z)] = failure{status: status, times: times}
}

// ServeRaw rigs a tile to respond 200 with the given bytes instead of
// the generated JPEG, e.g. corrupt data or a wrong-sized image.
func (s *TileServer) ServeRaw(x, y, z int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[key(x, y, z)] = body
}

// Requests returns how many requests were made for a tile.
func (s *TileServer) Requests(x, y, z int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[key(x, y, z)]
}

// TotalRequests returns the number of tile requests served so far.
func (s *TileServer) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.requests {
		total += n
	}
	return total
}

func key(x, y, z int) string {
	return fmt.Sprintf("%d/%d/%d", z, x, y)
}

func (s *TileServer) handle(t *testing.T, w http.ResponseWriter, r *http.Request) {
	// Path: /styles/v1/mapbox/{style}/tiles/{size}/{z}/{x}/{y}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) != 9 || parts[0] != "styles" || parts[4] != "tiles" {
		http.NotFound(w, r)
		return
	}
	z, _ := strconv.Atoi(parts[6])
	x, _ := strconv.Atoi(parts[7])
	y, _ := strconv.Atoi(parts[8])

	s.mu.Lock()
	k := key(x, y, z)
	s.requests[k]++
	f, failing := s.failures[k]
	if failing && f.times == 0 {
		failing = false
	}
	if failing && f.times > 0 {
		f.times--
		s.failures[k] = f
	}
	body, rigged := s.bodies[k]
	s.mu.Unlock()

	if s.Token != "" && r.URL.Query().Get("access_token") != s.Token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if failing {
		w.WriteHeader(f.status)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	if rigged {
		w.Write(body)
		return
	}
	w.Write(JPEGTile(t, s.tileSize, TileColor(x, y, z)))
}
