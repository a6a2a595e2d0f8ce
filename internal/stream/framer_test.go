package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineFramer_Push(t *testing.T) {
	tests := []struct {
		name     string
		chunks   []string
		expected []string
		tail     string
	}{
		{
			name:     "single complete line",
			chunks:   []string{"data: {}\n"},
			expected: []string{"data: {}"},
		},
		{
			name:     "line split mid-token",
			chunks:   []string{"data: {\"ty", "pe\":\"init\"}\n"},
			expected: []string{`data: {"type":"init"}`},
		},
		{
			name:     "crlf terminators",
			chunks:   []string{"a\r\nb\r", "\n"},
			expected: []string{"a", "b"},
		},
		{
			name:     "several lines in one chunk",
			chunks:   []string{"a\n\nb\nc"},
			expected: []string{"a", "", "b"},
			tail:     "c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f LineFramer
			var got []string
			for _, chunk := range tt.chunks {
				for _, line := range f.Push([]byte(chunk)) {
					got = append(got, string(line))
				}
			}
			assert.Equal(t, tt.expected, got)

			tail, ok := f.Flush()
			assert.Equal(t, tt.tail != "", ok)
			assert.Equal(t, tt.tail, string(tail))
			assert.Zero(t, f.Buffered())
		})
	}
}

func TestLineFramer_LinesDoNotAliasInput(t *testing.T) {
	var f LineFramer
	chunk := []byte("abc\n")
	lines := f.Push(chunk)
	chunk[0] = 'z'

	assert.Equal(t, "abc", string(lines[0]))
}
