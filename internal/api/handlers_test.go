package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/doc-extract/backend/internal/models"
	"github.com/doc-extract/backend/internal/session"
	"github.com/doc-extract/backend/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("github.com/hashicorp/golang-lru/v2/expirable.NewLRU[...].func1"))
}

const (
	initFrame     = `{"type":"init","model_fields":["vendor","total"],"model_key":"invoice","model_name":"Invoice","total_files":3}`
	resultA       = `{"type":"result","filename":"a.pdf","status":"success","structured_data":{"vendor":"Zeta","total":12},"progress":{"current":1,"total":3,"successful":1,"failed":0}}`
	resultB       = `{"type":"result","filename":"b.pdf","status":"success","structured_data":{"vendor":"alpha","total":3},"progress":{"current":2,"total":3,"successful":2,"failed":0}}`
	resultC       = `{"type":"result","filename":"c.pdf","status":"error","error":"timeout","error_type":"timeout","progress":{"current":3,"total":3,"successful":2,"failed":1}}`
	completeFrame = `{"type":"complete","model_used":"invoice","total_files":3,"successful":2,"failed":1}`
)

type testEnv struct {
	e     *echo.Echo
	store *testutil.MockStorage
	ext   *testutil.MockExtractor
	runs  *session.Manager
}

func newTestEnv(t *testing.T, body string) *testEnv {
	t.Helper()
	return newTestEnvWith(t, testutil.NewMockExtractor(body))
}

func newTestEnvWith(t *testing.T, ext *testutil.MockExtractor) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := testutil.NewMockStorage()
	store.AddFile("doc-a", "a.pdf", []byte("%PDF a"))
	store.AddFile("doc-b", "b.pdf", []byte("%PDF b"))
	store.AddFile("doc-c", "c.pdf", []byte("%PDF c"))

	runs := session.NewManager(session.Config{ModelKey: "invoice"}, session.Deps{
		Extractor: ext,
		Documents: store,
		Logger:    logger,
	})
	t.Cleanup(runs.Close)

	// websocket handlers outlive the test after hijacking, so the HTTP side
	// must not log through t
	httpLogger := zap.NewNop()
	e := echo.New()
	SetupMiddleware(e, MiddlewareConfig{RequestLogging: true, BodyLimit: "1M"}, httpLogger)
	RegisterRoutes(e, NewHandlers(&Dependencies{Store: store, Runs: runs, Version: "test", Logger: httpLogger}))
	return &testEnv{e: e, store: store, ext: ext, runs: runs}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

// startRun starts a run over all three documents and waits until it is final.
func (env *testEnv) startRun(t *testing.T) string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/runs", map[string]any{"fileIds": []string{"doc-a", "doc-b", "doc-c"}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var info models.RunInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.runs.Wait(ctx, info.ID))
	return info.ID
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, testutil.SSE())

	rec := env.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, testutil.SSE(initFrame, resultA, completeFrame))
	env.startRun(t)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docextract_stream_events_total")
}

func TestFiles(t *testing.T) {
	env := newTestEnv(t, testutil.SSE())

	t.Run("upload", func(t *testing.T) {
		body := new(bytes.Buffer)
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "invoice.pdf")
		require.NoError(t, err)
		_, _ = part.Write([]byte("%PDF-1.7"))
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
		req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
		rec := httptest.NewRecorder()
		env.e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var info models.FileInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
		assert.Equal(t, "invoice.pdf", info.Name)
		assert.Equal(t, int64(8), info.Size)
		assert.Equal(t, 4, env.store.GetFileCount())
	})

	t.Run("upload without file", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/files/upload", map[string]string{"name": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "BAD_REQUEST", decodeError(t, rec).Code)
	})

	t.Run("recent with limit", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/files/recent?limit=2", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var files []models.FileInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
		assert.Len(t, files, 2)
	})

	t.Run("recent with bad limit", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/files/recent?limit=zero", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
	})

	t.Run("get and delete", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/files/doc-a", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"name":"a.pdf"`)

		rec = env.do(t, http.MethodDelete, "/api/files/doc-a", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do(t, http.MethodGet, "/api/files/doc-a", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec = env.do(t, http.MethodDelete, "/api/files/doc-a", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStartRun_Validation(t *testing.T) {
	env := newTestEnv(t, testutil.SSE())

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
		wantCode   string
	}{
		{"no files", map[string]any{}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"empty list", map[string]any{"fileIds": []string{}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown file", map[string]any{"fileId": "nope"}, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/runs", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
	assert.Empty(t, env.ext.Requests())
}

func TestRunLifecycle(t *testing.T) {
	env := newTestEnv(t, testutil.SSE(initFrame, resultA, resultB, resultC, completeFrame))
	id := env.startRun(t)

	reqs := env.ext.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "invoice", reqs[0].ModelKey)
	assert.Len(t, reqs[0].Documents, 3)

	rec := env.do(t, http.MethodGet, "/api/runs/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info models.RunInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, models.RunComplete, info.Status)
	assert.Equal(t, 3, info.ResultCount)

	rec = env.do(t, http.MethodPost, "/api/runs/"+id+"/keepalive", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/runs/"+id+"/schema", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/runs/"+id, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRunView_Sorting(t *testing.T) {
	env := newTestEnv(t, testutil.SSE(initFrame, resultA, resultB, completeFrame))
	id := env.startRun(t)

	filenames := func(rec *httptest.ResponseRecorder) []string {
		t.Helper()
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var view session.View
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		var out []string
		for _, row := range view.Rows {
			out = append(out, row.Filename)
		}
		return out
	}

	assert.Equal(t, []string{"a.pdf", "b.pdf"}, filenames(env.do(t, http.MethodGet, "/api/runs/"+id+"/view", nil)))
	assert.Equal(t, []string{"b.pdf", "a.pdf"}, filenames(env.do(t, http.MethodGet, "/api/runs/"+id+"/view?sort=total&direction=asc", nil)))
	// collation orders "alpha" before "Zeta"
	assert.Equal(t, []string{"b.pdf", "a.pdf"}, filenames(env.do(t, http.MethodGet, "/api/runs/"+id+"/view?sort=vendor&direction=asc", nil)))
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, filenames(env.do(t, http.MethodGet, "/api/runs/"+id+"/view?sort=vendor&direction=desc", nil)))

	// first click sorts ascending, second descending
	assert.Equal(t, []string{"b.pdf", "a.pdf"}, filenames(env.do(t, http.MethodPost, "/api/runs/"+id+"/sort", map[string]string{"column": "total"})))
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, filenames(env.do(t, http.MethodPost, "/api/runs/"+id+"/sort", map[string]string{"column": "total"})))

	rec := env.do(t, http.MethodPost, "/api/runs/"+id+"/sort", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunNotFound(t *testing.T) {
	env := newTestEnv(t, testutil.SSE())

	for _, path := range []string{"/status", "/view", "/schema"} {
		rec := env.do(t, http.MethodGet, "/api/runs/missing"+path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)
	}
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/runs/missing/keepalive", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/runs/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/reviews/missing", nil).Code)
}

func TestRunProgressStream(t *testing.T) {
	env := newTestEnv(t, testutil.SSE(initFrame, resultA, completeFrame))
	id := env.startRun(t)

	rec := env.do(t, http.MethodGet, "/api/runs/"+id+"/progress", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.Len(t, events, 1)
	require.True(t, strings.HasPrefix(events[0], "data: "))
	var info models.RunInfo
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(events[0], "data: ")), &info))
	assert.Equal(t, models.RunComplete, info.Status)

	rec = env.do(t, http.MethodGet, "/api/runs/missing/progress", nil)
	assert.Contains(t, rec.Body.String(), `"error":"run not found"`)
}

func TestReviewFlow(t *testing.T) {
	env := newTestEnv(t, testutil.SSE(initFrame, resultA, resultB, resultC, completeFrame))
	id := env.startRun(t)
	base := "/api/reviews/" + id + "/files/"

	rec := env.do(t, http.MethodGet, "/api/reviews/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sess models.ReviewSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	require.Len(t, sess.Files, 3)

	t.Run("invalid edit blocks approval", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, base+"a.pdf/fields", map[string]any{
			"edits": []map[string]any{{"field_name": "total", "edited_value": "twelve"}},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"validation_status":"invalid"`)

		rec = env.do(t, http.MethodPost, base+"a.pdf/approve", map[string]string{"approved_by": "kim"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		apiErr := decodeError(t, rec)
		assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
		assert.Equal(t, map[string]any{"fields": []any{"total"}}, apiErr.Details)
	})

	t.Run("valid edit then approve", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, base+"a.pdf/fields", map[string]any{
			"edits": []map[string]any{{"field_name": "total", "edited_value": 12.5}},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = env.do(t, http.MethodPost, base+"a.pdf/approve", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var f models.FileReviewStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &f))
		assert.Equal(t, models.ReviewApproved, f.Status)
		assert.Equal(t, "unknown", f.Approval.ApprovedBy)
	})

	t.Run("failed file cannot be approved", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, base+"c.pdf/approve", map[string]string{})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "APPROVAL_PRECONDITION", decodeError(t, rec).Code)
	})

	t.Run("reject needs a reason", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, base+"c.pdf/reject", map[string]string{"rejection_reason": "  "})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)

		rec = env.do(t, http.MethodPost, base+"c.pdf/reject", map[string]string{"rejection_reason": "unreadable", "rejected_by": "ana"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"rejected"`)
	})

	t.Run("reopen", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, base+"c.pdf/reopen", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"in_review"`)
	})

	t.Run("edit validation errors", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, base+"a.pdf/fields", map[string]any{"edits": []any{}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = env.do(t, http.MethodPut, base+"a.pdf/fields", map[string]any{
			"edits": []map[string]any{{"field_name": "", "edited_value": 1}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = env.do(t, http.MethodPut, base+"nope.pdf/fields", map[string]any{
			"edits": []map[string]any{{"field_name": "total", "edited_value": 1}},
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/reviews", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var list []models.ReviewSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list, 1)
		assert.Equal(t, id, list[0].SessionID)
		assert.Equal(t, 1, list[0].Counts[models.ReviewApproved])
	})
}

func TestReviewExportImport(t *testing.T) {
	env := newTestEnv(t, testutil.SSE(initFrame, resultA, completeFrame))
	id := env.startRun(t)

	rec := env.do(t, http.MethodGet, "/api/reviews/"+id+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, msgpackContentType, rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), id)
	snapshot := rec.Body.Bytes()

	importSnapshot := func(env *testEnv, data []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/reviews/import", bytes.NewReader(data))
		req.Header.Set(echo.HeaderContentType, msgpackContentType)
		rec := httptest.NewRecorder()
		env.e.ServeHTTP(rec, req)
		return rec
	}

	// same server already knows the session
	rec = importSnapshot(env, snapshot)
	assert.Equal(t, http.StatusConflict, rec.Code)

	other := newTestEnv(t, testutil.SSE())
	rec = importSnapshot(other, snapshot)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), id)

	rec = other.do(t, http.MethodGet, "/api/runs/"+id+"/view", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = importSnapshot(other, []byte("not msgpack"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReview_RunStillStreaming(t *testing.T) {
	env := newTestEnvWith(t, testutil.NewBlockingExtractor())

	info, err := env.runs.StartRun([]string{"doc-a"}, "", "")
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/reviews/"+info.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", decodeError(t, rec).Code)

	rec = env.do(t, http.MethodDelete, "/api/runs/"+info.ID, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.runs.Wait(ctx, info.ID))
	status, err := env.runs.Status(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCancelled, status.Status)
}
