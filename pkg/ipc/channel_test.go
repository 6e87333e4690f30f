package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/fold-orchestrator/pkg/models"
)

func rawFrame(payload string) []byte {
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	return frame
}

func TestSendReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	s := NewSender(&buf)

	items := []models.JobRequest{
		{TaskID: "1ubq", Submitter: "alice", Priority: 2, Config: map[string]interface{}{"ff": "amber14"}},
		{TaskID: "2abc", Submitter: "bob"},
	}
	require.NoError(t, s.Send(items))
	require.NoError(t, s.Send(nil))

	batch, err := ReadBatch(&buf)
	require.NoError(t, err)
	assert.Equal(t, Version, batch.Version)
	require.Len(t, batch.Items, 2)
	assert.Equal(t, "1ubq", batch.Items[0].TaskID)
	assert.Equal(t, "amber14", batch.Items[0].Config["ff"])

	batch, err = ReadBatch(&buf)
	require.NoError(t, err)
	assert.Empty(t, batch.Items)

	_, err = ReadBatch(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeFailsLoudly(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		target  error
	}{
		{"Version mismatch", `{"version":2,"sent_at":"2026-01-01T00:00:00Z","items":[]}`, ErrVersionMismatch},
		{"Unknown field", `{"version":1,"sent_at":"2026-01-01T00:00:00Z","items":[],"priority":3}`, nil},
		{"Unknown item field", `{"version":1,"sent_at":"2026-01-01T00:00:00Z","items":[{"task_id":"x","pdb":"y"}]}`, nil},
		{"Not json", `pickle`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadBatch(bytes.NewReader(rawFrame(tt.payload)))
			require.Error(t, err)

			var decodeErr *DecodeError
			assert.True(t, errors.As(err, &decodeErr))
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestFrameTooLarge(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
	_, err := ReadBatch(bytes.NewReader(header[:]))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReceiverPoll(t *testing.T) {
	r, w := io.Pipe()
	rc := NewReceiver(r, 4)

	_, ok := rc.Poll()
	assert.False(t, ok, "poll must not block when nothing is pending")

	s := NewSender(w)
	go func() {
		s.Send([]models.JobRequest{{TaskID: "1ubq", Submitter: "alice"}})
		w.Write(rawFrame(`{"version":9,"sent_at":"2026-01-01T00:00:00Z","items":[]}`))
		s.Send([]models.JobRequest{{TaskID: "2abc", Submitter: "bob"}})
		w.Close()
	}()

	var results []Result
	deadline := time.After(5 * time.Second)
	for len(results) < 4 {
		res, ok := rc.Poll()
		if ok {
			results = append(results, res)
			continue
		}
		select {
		case <-deadline:
			t.Fatalf("timed out with %d results", len(results))
		case <-time.After(5 * time.Millisecond):
		}
	}

	require.NoError(t, results[0].Err)
	assert.Equal(t, "1ubq", results[0].Batch.Items[0].TaskID)
	assert.ErrorIs(t, results[1].Err, ErrVersionMismatch)
	require.NoError(t, results[2].Err)
	assert.Equal(t, "2abc", results[2].Batch.Items[0].TaskID)
	assert.ErrorIs(t, results[3].Err, ErrClosed)
}
