package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// respondWithValidationError sends a structured validation error response
func (ms *MusicServer) respondWithValidationError(w http.ResponseWriter, r *http.Request, errors []ValidationError) {
	ms.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"errors": errors,
	}).Warn("Validation failed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	result := ValidationResult{
		Valid:  false,
		Errors: errors,
	}

	ms.respondJSON(w, result)
}

// validateSongID validates and parses a song ID from the URL path
func (ms *MusicServer) validateSongID(pathParts []string, minParts int) (string, *ValidationError) {
	if len(pathParts) < minParts {
		return "", &ValidationError{
			Field:   "song_id",
			Message: "Song ID is required",
			Code:    "MISSING_SONG_ID",
		}
	}

	songID := pathParts[minParts-1]
	if songID == "" {
		return "", &ValidationError{
			Field:   "song_id",
			Message: "Song ID cannot be empty",
			Code:    "EMPTY_SONG_ID",
		}
	}

	if _, err := uuid.Parse(songID); err != nil {
		return "", &ValidationError{
			Field:   "song_id",
			Message: "Song ID must be a valid UUID",
			Code:    "INVALID_SONG_ID_FORMAT",
		}
	}

	return songID, nil
}

// validateSearchQuery validates search query parameters
func (ms *MusicServer) validateSearchQuery(query string) *ValidationError {
	if len(query) > 1000 {
		return &ValidationError{
			Field:   "search",
			Message: "Search query too long (max 1000 characters)",
			Code:    "SEARCH_QUERY_TOO_LONG",
		}
	}

	// Check for potentially dangerous characters
	if strings.Contains(query, "\x00") {
		return &ValidationError{
			Field:   "search",
			Message: "Search query contains invalid characters",
			Code:    "INVALID_SEARCH_CHARACTERS",
		}
	}

	return nil
}

// validateUploadFields checks the required multipart fields of a song upload.
// Missing fields are reported together so the client can surface them all.
func validateUploadFields(title, author string, hasSong bool) []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(title) == "" {
		errors = append(errors, ValidationError{
			Field:   "title",
			Message: "Song title is required",
			Code:    "MISSING_TITLE",
		})
	}
	if strings.TrimSpace(author) == "" {
		errors = append(errors, ValidationError{
			Field:   "author",
			Message: "Song author is required",
			Code:    "MISSING_AUTHOR",
		})
	}
	if !hasSong {
		errors = append(errors, ValidationError{
			Field:   "song",
			Message: "Audio file is required",
			Code:    "MISSING_SONG_FILE",
		})
	}

	return errors
}

// validateUploadName rejects names that would break storage keys or display.
func validateUploadName(field, value string) *ValidationError {
	if len(value) > 255 {
		return &ValidationError{
			Field:   field,
			Message: field + " too long (max 255 characters)",
			Code:    "FIELD_TOO_LONG",
		}
	}
	if strings.ContainsAny(value, "\x00\n\r") {
		return &ValidationError{
			Field:   field,
			Message: field + " contains invalid characters",
			Code:    "INVALID_FIELD_CHARACTERS",
		}
	}
	return nil
}

// sanitizeInput sanitizes user input to prevent injection attacks
func sanitizeInput(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Trim whitespace
	input = strings.TrimSpace(input)

	return input
}
