package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtocolEvent_Unmarshal(t *testing.T) {
	t.Run("result with embedded progress", func(t *testing.T) {
		frame := `{"type":"result","filename":"a.pdf","status":"success","structured_data":{"vendor":"Acme","total":12},"processing_time":1.5,"progress":{"current":1,"total":3,"successful":1,"failed":0}}`

		var ev ProtocolEvent
		require.NoError(t, json.Unmarshal([]byte(frame), &ev))

		assert.Equal(t, EventResult, ev.Type)
		require.NotNil(t, ev.Result)
		assert.Equal(t, "a.pdf", ev.Result.Filename)
		assert.Equal(t, []string{"vendor", "total"}, ev.Result.StructuredData.Record().Keys())
		require.NotNil(t, ev.Result.Progress)
		assert.Equal(t, 1, ev.Result.Progress.Current)
		assert.Nil(t, ev.Init)
	})

	t.Run("conversion summary keeps warnings", func(t *testing.T) {
		frame := `{"type":"conversion_summary","password_required":["locked.pdf"],"skipped":2}`

		var ev ProtocolEvent
		require.NoError(t, json.Unmarshal([]byte(frame), &ev))

		require.NotNil(t, ev.Conversion)
		assert.Equal(t, []string{"locked.pdf"}, ev.Conversion.PasswordRequired)
		assert.Equal(t, []string{"skipped"}, ev.Conversion.Warnings.Keys())
	})

	t.Run("unknown type", func(t *testing.T) {
		var ev ProtocolEvent
		err := json.Unmarshal([]byte(`{"type":"heartbeat"}`), &ev)
		assert.ErrorIs(t, err, ErrUnknownEventType)
	})

	t.Run("payload type mismatch", func(t *testing.T) {
		var ev ProtocolEvent
		err := json.Unmarshal([]byte(`{"type":"progress","current":"one"}`), &ev)
		assert.Error(t, err)
	})
}

func TestProtocolEvent_MarshalTypeFirst(t *testing.T) {
	ev := ProtocolEvent{Type: EventComplete, Complete: &CompleteEvent{ModelUsed: "invoice", TotalFiles: 2, Successful: 2}}

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"complete","model_used":"invoice","ai_model_used":"","total_files":2,"successful":2,"failed":0}`, string(data))

	var back ProtocolEvent
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ev, back)
}

func TestInitEvent_Equal(t *testing.T) {
	a := &InitEvent{ModelFields: []string{"x", "y"}, ModelKey: "m", TotalFiles: 2}
	b := &InitEvent{ModelFields: []string{"x", "y"}, ModelKey: "m", TotalFiles: 2}
	c := &InitEvent{ModelFields: []string{"y", "x"}, ModelKey: "m", TotalFiles: 2}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
}
