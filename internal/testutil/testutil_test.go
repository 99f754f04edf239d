package testutil

import (
	"encoding/binary"
	"net/http"
	"testing"
)

func TestNewTestRequest(t *testing.T) {
	req := NewTestRequest(http.MethodGet, "/api/status")
	if req.Method != http.MethodGet {
		t.Errorf("method = %s, want GET", req.Method)
	}
	if req.URL.Path != "/api/status" {
		t.Errorf("path = %s, want /api/status", req.URL.Path)
	}
}

func TestFrameBytes(t *testing.T) {
	distances := [8]uint16{50, 2000, 0, 1900, 1800, 1700, 1600, 1500}
	b := FrameBytes(0x01020304, 3, 50, distances)

	if len(b) != 23 {
		t.Fatalf("frame length = %d, want 23", len(b))
	}
	if got := binary.LittleEndian.Uint32(b[0:4]); got != 0x01020304 {
		t.Errorf("timestamp = %#x, want 0x01020304", got)
	}
	if b[4] != 3 {
		t.Errorf("min direction = %d, want 3", b[4])
	}
	if got := binary.LittleEndian.Uint16(b[5:7]); got != 50 {
		t.Errorf("min distance = %d, want 50", got)
	}
	for i, want := range distances {
		if got := binary.LittleEndian.Uint16(b[7+2*i : 9+2*i]); got != want {
			t.Errorf("distance[%d] = %d, want %d", i, got, want)
		}
	}
}

func TestValidFrameBytes(t *testing.T) {
	b := ValidFrameBytes(1000, 850)
	if len(b) != 23 {
		t.Fatalf("frame length = %d, want 23", len(b))
	}
	for i := 0; i < 8; i++ {
		if got := binary.LittleEndian.Uint16(b[7+2*i : 9+2*i]); got != 850 {
			t.Errorf("distance[%d] = %d, want 850", i, got)
		}
	}
}
