package testutil

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/doc-extract/backend/internal/stream"
)

// SSE renders JSON payloads as an extraction event stream ending in [DONE].
func SSE(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString("data: ")
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

// MockExtractor replays a fixed event stream for every request.
type MockExtractor struct {
	mu       sync.Mutex
	body     string
	block    bool
	err      error
	requests []stream.ExtractRequest
}

// NewMockExtractor replays body as the response of each extraction.
func NewMockExtractor(body string) *MockExtractor {
	return &MockExtractor{body: body}
}

// NewBlockingExtractor returns streams that deliver nothing until they are
// closed, so runs stay streaming until cancelled.
func NewBlockingExtractor() *MockExtractor {
	return &MockExtractor{block: true}
}

// NewFailingExtractor fails every extraction with err.
func NewFailingExtractor(err error) *MockExtractor {
	return &MockExtractor{err: err}
}

func (m *MockExtractor) Extract(_ context.Context, req stream.ExtractRequest) (*stream.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if m.block {
		pr, _ := io.Pipe()
		return stream.NewStream(pr, nil), nil
	}
	return stream.NewStream(io.NopCloser(strings.NewReader(m.body)), nil), nil
}

// Requests returns the extraction requests received so far.
func (m *MockExtractor) Requests() []stream.ExtractRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]stream.ExtractRequest(nil), m.requests...)
}
