package stream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func document(name, body string) Document {
	return Document{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

func TestClient_Extract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "invoice", r.FormValue("model_key"))
		assert.Equal(t, "m1", r.FormValue("ai_model"))
		require.Len(t, r.MultipartForm.File["files"], 2)
		assert.Equal(t, "a.pdf", r.MultipartForm.File["files"][0].Filename)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"type":"init","model_fields":["title"],"total_files":2}`+"\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, zaptest.NewLogger(t))
	s, err := client.Extract(context.Background(), ExtractRequest{
		Documents: []Document{document("a.pdf", "%PDF"), document("b.pdf", "%PDF")},
		ModelKey:  "invoice",
		AIModel:   "m1",
	})
	require.NoError(t, err)
	defer s.Close()

	ev, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ev.Init.TotalFiles)

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestClient_ExtractNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil)
	_, err := client.Extract(context.Background(), ExtractRequest{
		Documents: []Document{document("a.pdf", "x")},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusBadGateway, terr.StatusCode)
	assert.Equal(t, "model not found", terr.Body)
}

func TestClient_ExtractUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(url, time.Second, nil).Extract(context.Background(), ExtractRequest{})
	assert.ErrorIs(t, err, ErrTransport)
}
