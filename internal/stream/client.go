package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Document is one file sent for extraction.
type Document struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// ExtractRequest describes one extraction run.
type ExtractRequest struct {
	Documents []Document
	ModelKey  string
	AIModel   string
}

// Client posts documents to the extraction backend and opens its event stream.
type Client struct {
	url  string
	http *http.Client
	log  *zap.Logger
}

// NewClient creates a client for the given endpoint. A zero timeout leaves the
// stream unbounded.
func NewClient(url string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
		log:  logger,
	}
}

// Stream is an open extraction response.
type Stream struct {
	*Decoder
	body io.Closer
}

// NewStream decodes events from body and closes body on Close.
func NewStream(body io.ReadCloser, logger *zap.Logger) *Stream {
	return &Stream{Decoder: NewDecoder(body, logger), body: body}
}

// Close releases the underlying response body.
func (s *Stream) Close() error {
	if s.body == nil {
		return nil
	}
	return s.body.Close()
}

// Extract sends the documents and returns the decoded event stream. The
// caller must close the stream.
func (c *Client) Extract(ctx context.Context, req ExtractRequest) (*Stream, error) {
	body, contentType, err := encodeMultipart(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("building extraction request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	requestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		transportFailures.Inc()
		return nil, &TransportError{Op: "request", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		transportFailures.Inc()
		return nil, &TransportError{
			Op:         "request",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(excerpt)),
		}
	}

	c.log.Debug("extraction stream opened",
		zap.Int("documents", len(req.Documents)),
		zap.String("model_key", req.ModelKey))
	return NewStream(resp.Body, c.log), nil
}

func encodeMultipart(req ExtractRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, doc := range req.Documents {
		if err := writeDocument(w, doc); err != nil {
			return nil, "", err
		}
	}
	if req.ModelKey != "" {
		if err := w.WriteField("model_key", req.ModelKey); err != nil {
			return nil, "", err
		}
	}
	if req.AIModel != "" {
		if err := w.WriteField("ai_model", req.AIModel); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func writeDocument(w *multipart.Writer, doc Document) error {
	src, err := doc.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", doc.Name, err)
	}
	defer src.Close()

	part, err := w.CreateFormFile("files", doc.Name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("reading %s: %w", doc.Name, err)
	}
	return nil
}
