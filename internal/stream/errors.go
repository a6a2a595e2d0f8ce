package stream

import (
	"errors"
	"fmt"
)

// ErrTransport marks a stream that ended because the transport failed rather
// than because the backend finished.
var ErrTransport = errors.New("transport failure")

// TransportError describes a failed request or an aborted read.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("extraction %s: status %d: %s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("extraction %s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("extraction %s: %v", e.Op, e.Err)
	default:
		return "extraction " + e.Op + ": " + ErrTransport.Error()
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes every TransportError match ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }
