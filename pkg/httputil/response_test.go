package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := WriteJSON(rec, http.StatusOK, map[string]string{"user": "alice"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["user"] != "alice" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestWriteErrorMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorMessage(rec, http.StatusUnauthorized, "authentication failed")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["error"] != "authentication failed" {
		t.Errorf("unexpected error message: %q", body["error"])
	}
}

func TestWriteInternalError_DoesNotLeakDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteInternalError(rec, errors.New("pq: connection refused at 10.1.2.3"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.1.2.3") {
		t.Error("internal error detail leaked to client")
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Errorf("expected generic message, got %s", rec.Body.String())
	}
}

func TestStatusHelpers(t *testing.T) {
	tests := []struct {
		name  string
		write func(w http.ResponseWriter)
		want  int
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "no") }, http.StatusBadRequest},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "no") }, http.StatusUnauthorized},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "no") }, http.StatusForbidden},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "no") }, http.StatusNotFound},
		{"too many requests", func(w http.ResponseWriter) { WriteTooManyRequests(w, "no") }, http.StatusTooManyRequests},
		{"no content", func(w http.ResponseWriter) { WriteNoContent(w) }, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestWriteSuccessMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := WriteSuccessMessage(rec, "logged out", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body SuccessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Status != "success" || body.Message != "logged out" {
		t.Errorf("unexpected body: %+v", body)
	}
}
