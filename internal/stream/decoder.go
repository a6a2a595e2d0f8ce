// Package stream decodes the extraction backend's SSE event stream and
// provides the HTTP transport that produces it.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"

	"go.uber.org/zap"

	"github.com/doc-extract/backend/internal/models"
)

const (
	readChunkSize = 4096
	doneSentinel  = "[DONE]"
)

var dataPrefix = []byte("data:")

// Decoder yields protocol events lazily, in arrival order. It is finite and
// not restartable: once it returns an error every later call returns the same
// error.
type Decoder struct {
	r       io.Reader
	framer  LineFramer
	buf     []byte
	pending [][]byte
	eof     bool
	err     error
	dropped int
	log     *zap.Logger
}

// NewDecoder reads frames from r. A nil logger discards drop reports.
func NewDecoder(r io.Reader, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{
		r:   r,
		buf: make([]byte, readChunkSize),
		log: logger,
	}
}

// Next returns the next event. The stream ends with io.EOF at the [DONE]
// sentinel or end of input, with a *TransportError when a read fails, and
// with ctx.Err() when the context is cancelled.
func (d *Decoder) Next(ctx context.Context) (models.ProtocolEvent, error) {
	for {
		if d.err != nil {
			return models.ProtocolEvent{}, d.err
		}
		if err := ctx.Err(); err != nil {
			d.err = err
			continue
		}

		for len(d.pending) > 0 {
			line := d.pending[0]
			d.pending = d.pending[1:]

			ev, ok, done := d.decodeLine(line)
			if done {
				d.finish(io.EOF)
				return models.ProtocolEvent{}, io.EOF
			}
			if ok {
				eventsDecoded.WithLabelValues(string(ev.Type)).Inc()
				return ev, nil
			}
		}

		if d.eof {
			d.finish(io.EOF)
			continue
		}

		n, err := d.r.Read(d.buf)
		if n > 0 {
			d.pending = append(d.pending, d.framer.Push(d.buf[:n])...)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if tail, ok := d.framer.Flush(); ok {
				d.pending = append(d.pending, tail)
			}
			d.eof = true
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			d.err = ctxErr
			continue
		}
		transportFailures.Inc()
		d.log.Warn("extraction stream read failed", zap.Error(err))
		d.err = &TransportError{Op: "read", Err: err}
	}
}

// Events is the range-over-func form of Next. A clean end stops the
// iteration silently; any other terminal error is yielded once.
func (d *Decoder) Events(ctx context.Context) iter.Seq2[models.ProtocolEvent, error] {
	return func(yield func(models.ProtocolEvent, error) bool) {
		for {
			ev, err := d.Next(ctx)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(models.ProtocolEvent{}, err)
				}
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Dropped returns how many frames were discarded as undecodable.
func (d *Decoder) Dropped() int {
	return d.dropped
}

func (d *Decoder) finish(err error) {
	d.err = err
	d.pending = nil
}

// decodeLine handles one SSE line. ok reports an event; done reports the end
// sentinel.
func (d *Decoder) decodeLine(line []byte) (ev models.ProtocolEvent, ok, done bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == ':' {
		return ev, false, false
	}
	if string(line) == doneSentinel {
		return ev, false, true
	}
	if !bytes.HasPrefix(line, dataPrefix) {
		// event:, id:, retry: and unknown fields carry nothing for this protocol.
		return ev, false, false
	}

	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return ev, false, false
	}
	if string(payload) == doneSentinel {
		return ev, false, true
	}

	if err := json.Unmarshal(payload, &ev); err != nil {
		reason := dropMalformed
		if errors.Is(err, models.ErrUnknownEventType) {
			reason = dropUnknownType
		}
		d.dropped++
		framesDropped.WithLabelValues(reason).Inc()
		d.log.Warn("dropping undecodable frame",
			zap.String("reason", reason),
			zap.ByteString("frame", truncate(payload, 256)),
			zap.Error(err))
		return models.ProtocolEvent{}, false, false
	}
	return ev, true, false
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
