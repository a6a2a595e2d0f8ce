package stream

import "bytes"

// LineFramer turns arbitrary network chunks into complete lines. A line split
// across chunks is held until its terminator arrives.
type LineFramer struct {
	buf []byte
}

// Push appends a chunk and returns every line completed by it, without the
// "\n" or "\r\n" terminator. Returned slices do not alias the chunk.
func (f *LineFramer) Push(chunk []byte) [][]byte {
	f.buf = append(f.buf, chunk...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(f.buf[:i], []byte{'\r'})
		lines = append(lines, append([]byte(nil), line...))
		f.buf = f.buf[i+1:]
	}

	// Compact so a long-lived framer does not pin consumed chunks.
	if len(f.buf) == 0 {
		f.buf = nil
	} else if cap(f.buf) > 4*len(f.buf) && cap(f.buf) > 64*1024 {
		f.buf = append([]byte(nil), f.buf...)
	}
	return lines
}

// Flush returns the trailing unterminated line, if any, and resets the framer.
func (f *LineFramer) Flush() ([]byte, bool) {
	if len(f.buf) == 0 {
		return nil, false
	}
	line := bytes.TrimSuffix(f.buf, []byte{'\r'})
	f.buf = nil
	return line, true
}

// Buffered returns the number of bytes held for an incomplete line.
func (f *LineFramer) Buffered() int {
	return len(f.buf)
}
