package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_WritesJSONLines(t *testing.T) {
	var buffer bytes.Buffer
	emitter := NewEmitter(&buffer)

	emitter.Record(Event{Operation: "configure", Outcome: "success"})
	emitter.Record(Event{Operation: "build", Outcome: "failure"})

	lines := bytes.Split(bytes.TrimSpace(buffer.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first Event
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "configure", first.Operation)
	assert.Equal(t, "success", first.Outcome)
}

func TestMeasure_RecordsOutcome(t *testing.T) {
	recorder := &Recorder{}

	err := Measure(recorder, "configure", map[string]any{"generator": "Ninja"}, func() error {
		return nil
	})
	require.NoError(t, err)

	failure := errors.New("exit code 1")
	err = Measure(recorder, "build", nil, func() error {
		return failure
	})
	assert.ErrorIs(t, err, failure)

	events := recorder.Events()
	require.Len(t, events, 2)

	assert.Equal(t, "success", events[0].Outcome)
	assert.Equal(t, "Ninja", events[0].Metadata["generator"])
	assert.Equal(t, "failure", events[1].Outcome)
	assert.GreaterOrEqual(t, int64(events[1].Duration), int64(0))
}

func TestNullSink(t *testing.T) {
	// only needs to not panic
	NullSink{}.Record(Event{Operation: "configure"})
}
