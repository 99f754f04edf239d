// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// FrameBytes builds one 23-byte rig telemetry frame: little-endian u32
// timestamp, u8 minimum-direction index, u16 minimum distance, then eight
// u16 per-channel distances. Kept here so codec tests do not depend on the
// encoder under test.
func FrameBytes(timestamp uint32, minDirection uint8, minDistance uint16, distances [8]uint16) []byte {
	b := make([]byte, 23)
	binary.LittleEndian.PutUint32(b[0:4], timestamp)
	b[4] = minDirection
	binary.LittleEndian.PutUint16(b[5:7], minDistance)
	for i, d := range distances {
		binary.LittleEndian.PutUint16(b[7+2*i:9+2*i], d)
	}
	return b
}

// ValidFrameBytes builds a frame that passes framing-layer validation, with
// every channel at the given distance.
func ValidFrameBytes(timestamp uint32, distance uint16) []byte {
	var distances [8]uint16
	for i := range distances {
		distances[i] = distance
	}
	return FrameBytes(timestamp, 0, distance, distances)
}
