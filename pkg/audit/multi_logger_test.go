package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	entries []Entry
	logErr  error
	closed  bool
}

func (r *recordingLogger) Log(_ context.Context, entry Entry) error {
	r.entries = append(r.entries, entry)
	return r.logErr
}

func (r *recordingLogger) Close() error {
	r.closed = true
	return nil
}

func TestMultiLogger_FansOut(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	m := NewMultiLogger(a, b)

	require.NoError(t, m.Log(context.Background(), Entry{Action: ActionLogin, Outcome: OutcomeSuccess}))
	assert.Len(t, a.entries, 1)
	assert.Len(t, b.entries, 1)
}

func TestMultiLogger_ContinuesPastFailure(t *testing.T) {
	a := &recordingLogger{logErr: errors.New("sink down")}
	b := &recordingLogger{}
	m := NewMultiLogger(a, b)

	err := m.Log(context.Background(), Entry{Action: ActionLogin})
	assert.Error(t, err)
	assert.Len(t, b.entries, 1, "later sinks still receive the entry")
}

func TestMultiLogger_Close(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	m := NewMultiLogger(a, b)

	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
