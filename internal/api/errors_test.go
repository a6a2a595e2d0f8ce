package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/doc-extract/backend/internal/review"
	"github.com/doc-extract/backend/internal/session"
	"github.com/doc-extract/backend/internal/storage"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"run not found", fmt.Errorf("%w: r1", session.ErrRunNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"session not found", storage.ErrSessionNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"review file", review.ErrFileNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"document", fmt.Errorf("%w: d1", session.ErrDocumentNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"not finished", session.ErrRunNotFinished, http.StatusConflict, "CONFLICT"},
		{"exists", session.ErrSessionExists, http.StatusConflict, "CONFLICT"},
		{"invalid edits", &review.ValidationError{FileID: "a", Fields: []string{"total"}}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"reason required", review.ErrRejectionReasonRequired, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"no data", review.ErrNoExtractedData, http.StatusUnprocessableEntity, "APPROVAL_PRECONDITION"},
		{"no files", session.ErrNoFiles, http.StatusBadRequest, "BAD_REQUEST"},
		{"record range", review.ErrRecordOutOfRange, http.StatusBadRequest, "BAD_REQUEST"},
		{"snapshot", fmt.Errorf("%w: eof", storage.ErrInvalidSnapshot), http.StatusBadRequest, "BAD_REQUEST"},
		{"api error passes through", NewConflictError("busy"), http.StatusConflict, "CONFLICT"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "run", "r1")
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantCode, got.Code)
		})
	}
}

func TestErrorHandler(t *testing.T) {
	e := echo.New()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"api error", NewNotFoundError("run", "r1"), http.StatusNotFound, `"code":"NOT_FOUND"`},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed, `"code":"HTTP_ERROR"`},
		{"domain error", session.ErrRunNotFinished, http.StatusConflict, `"code":"CONFLICT"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			ErrorHandler(tt.err, c)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}
