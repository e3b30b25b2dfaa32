package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"harmonia/internal/storage"
)

func uploadTestObject(t *testing.T, ms *MusicServer, key, content string) {
	t.Helper()
	if err := ms.store.Upload(storage.BucketSongs, key, strings.NewReader(content)); err != nil {
		t.Fatalf("Failed to upload object: %v", err)
	}
}

func objectRequest(key, rangeHeader string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/storage/songs/"+key, nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	return req
}

func TestStorageObjectFullBody(t *testing.T) {
	ms := newTestServer(t, false)
	uploadTestObject(t, ms, "full.mp3", "abcdefghij")

	rec := httptest.NewRecorder()
	ms.handleStorageObject(rec, objectRequest("full.mp3", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "abcdefghij" {
		t.Errorf("Body = %q, want full object", rec.Body.String())
	}
}

func TestStorageObjectRangeRequests(t *testing.T) {
	ms := newTestServer(t, false)
	content := "0123456789abcdefghij"
	uploadTestObject(t, ms, "ranged.mp3", content)

	tests := []struct {
		name         string
		rangeHeader  string
		wantBody     string
		contentRange string
	}{
		{"explicit range", "bytes=0-4", "01234", "bytes 0-4/20"},
		{"open ended", "bytes=15-", "fghij", "bytes 15-19/20"},
		{"suffix range", "bytes=-5", "fghij", "bytes 15-19/20"},
		{"suffix longer than object", "bytes=-100", content, "bytes 0-19/20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ms.handleStorageObject(rec, objectRequest("ranged.mp3", tt.rangeHeader))

			if rec.Code != http.StatusPartialContent {
				t.Fatalf("Expected status 206, got %d", rec.Code)
			}
			if got := rec.Header().Get("Content-Range"); got != tt.contentRange {
				t.Errorf("Content-Range = %q, want %q", got, tt.contentRange)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("Body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if got := rec.Header().Get("Content-Length"); got != fmt.Sprint(len(tt.wantBody)) {
				t.Errorf("Content-Length = %q, want %d", got, len(tt.wantBody))
			}
		})
	}
}

func TestStorageObjectUnsatisfiableRange(t *testing.T) {
	ms := newTestServer(t, false)
	uploadTestObject(t, ms, "short.mp3", "abcde")

	for _, rangeHeader := range []string{"bytes=10-20", "bytes=-", "bytes=-0", "bytes=4-2"} {
		t.Run(rangeHeader, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ms.handleStorageObject(rec, objectRequest("short.mp3", rangeHeader))

			if rec.Code != http.StatusRequestedRangeNotSatisfiable {
				t.Fatalf("Expected status 416, got %d", rec.Code)
			}
			if got := rec.Header().Get("Content-Range"); got != "bytes */5" {
				t.Errorf("Content-Range = %q, want bytes */5", got)
			}
		})
	}
}
