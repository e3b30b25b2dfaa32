package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"harmonia/internal/storage"
)

// handleStorageObject serves GET /storage/{bucket}/{key}: audio objects with
// Range support for seeking, images with caching headers.
func (ms *MusicServer) handleStorageObject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	pathParts := strings.Split(r.URL.Path, "/")
	if len(pathParts) < 4 || pathParts[3] == "" {
		ms.respondWithError(w, r, http.StatusBadRequest, "Invalid object path", nil)
		return
	}
	bucket, key := pathParts[2], pathParts[3]

	if bucket != storage.BucketSongs && bucket != storage.BucketImages {
		ms.respondWithError(w, r, http.StatusNotFound, "Unknown bucket", nil)
		return
	}

	file, err := ms.store.Open(bucket, key)
	if err != nil {
		ms.respondWithError(w, r, http.StatusNotFound, "Object not found", err)
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error reading object info", err)
		return
	}
	fileSize := stat.Size()

	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("ETag", fmt.Sprintf(`"%d-%d"`, stat.ModTime().Unix(), fileSize))
	if match := r.Header.Get("If-None-Match"); match != "" && match == w.Header().Get("ETag") {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if bucket == storage.BucketSongs {
		w.Header().Set("Content-Type", ms.extractor.GetContentType(key))
		w.Header().Set("Accept-Ranges", "bytes")

		if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
			ms.handleRangeRequest(w, file, fileSize, rangeHeader)
			return
		}
	}

	w.Header().Set("Content-Length", strconv.FormatInt(fileSize, 10))
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, file); err != nil {
		ms.logger.WithError(err).Debug("Object stream interrupted")
	}
}

// handleRangeRequest implements simple single-range byte serving for seeking.
func (ms *MusicServer) handleRangeRequest(w http.ResponseWriter, file *os.File, fileSize int64, rangeHeader string) {
	// Parse range header (e.g., "bytes=0-1023")
	ranges := strings.TrimPrefix(rangeHeader, "bytes=")
	rangeParts := strings.Split(ranges, "-")

	var start, end int64
	if rangeParts[0] == "" {
		// Suffix form "bytes=-N" asks for the final N bytes.
		var suffix int64
		var err error
		if len(rangeParts) > 1 {
			suffix, err = strconv.ParseInt(rangeParts[1], 10, 64)
		}
		if err != nil || suffix <= 0 {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", fileSize))
			http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		start = fileSize - suffix
		if start < 0 {
			start = 0
		}
		end = fileSize - 1
	} else {
		var err error
		start, err = strconv.ParseInt(rangeParts[0], 10, 64)
		if err != nil {
			start = 0
		}
		if len(rangeParts) > 1 && rangeParts[1] != "" {
			end, err = strconv.ParseInt(rangeParts[1], 10, 64)
			if err != nil {
				end = fileSize - 1
			}
		} else {
			end = fileSize - 1
		}
	}

	// Validate range
	if start < 0 || end >= fileSize || start > end {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", fileSize))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	// Set partial content headers
	contentLength := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, fileSize))
	w.Header().Set("Content-Length", strconv.FormatInt(contentLength, 10))
	w.WriteHeader(http.StatusPartialContent)

	// Seek to start position and copy the requested range
	file.Seek(start, io.SeekStart)
	io.CopyN(w, file, contentLength)
}
