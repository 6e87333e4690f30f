// Package ipc carries batches of job requests from the intake process to
// the scheduler over a byte stream. Each frame is a 4-byte big-endian
// length followed by a JSON encoded Batch.
package ipc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/psantana5/fold-orchestrator/pkg/models"
)

// Version is the batch schema version. Both processes must agree on it.
const Version = 1

// MaxFrameSize bounds a single frame
const MaxFrameSize = 16 << 20

var (
	ErrVersionMismatch = errors.New("ipc: batch version mismatch")
	ErrFrameTooLarge   = errors.New("ipc: frame too large")
	ErrClosed          = errors.New("ipc: channel closed")
)

// Batch is one message on the channel
type Batch struct {
	Version int                 `json:"version"`
	SentAt  time.Time           `json:"sent_at"`
	Items   []models.JobRequest `json:"items"`
}

// Sender writes batches to a stream. It is safe for concurrent use.
type Sender struct {
	w  io.Writer
	mu sync.Mutex
}

// NewSender creates a sender writing to w
func NewSender(w io.Writer) *Sender {
	return &Sender{w: w}
}

// Send writes one batch frame
func (s *Sender) Send(items []models.JobRequest) error {
	payload, err := json.Marshal(Batch{Version: Version, SentAt: time.Now().UTC(), Items: items})
	if err != nil {
		return fmt.Errorf("ipc: encode batch: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("ipc: write frame: %w", err)
	}
	return nil
}

// ReadBatch reads and decodes one frame. Unknown fields and a foreign
// schema version are errors.
func ReadBatch(r io.Reader) (*Batch, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("ipc: read frame: %w", err)
	}
	return DecodeBatch(payload)
}

// DecodeError reports a well-framed payload that could not be accepted.
// The stream itself is still usable.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "ipc: decode batch: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeBatch decodes a frame payload
func DecodeBatch(payload []byte) (*Batch, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()

	var batch Batch
	if err := dec.Decode(&batch); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if batch.Version != Version {
		return nil, &DecodeError{Err: fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, batch.Version, Version)}
	}
	return &batch, nil
}

// Result is one received batch or a decode error
type Result struct {
	Batch *Batch
	Err   error
}

// Receiver reads frames in a background goroutine so the scheduler can
// poll without blocking
type Receiver struct {
	results chan Result
	done    chan struct{}
}

// NewReceiver starts reading from r. Reading stops at EOF or on a broken
// stream; decode errors of a single frame are reported and reading continues.
func NewReceiver(r io.Reader, buffer int) *Receiver {
	if buffer <= 0 {
		buffer = 64
	}
	rc := &Receiver{
		results: make(chan Result, buffer),
		done:    make(chan struct{}),
	}
	go rc.readLoop(r)
	return rc
}

func (rc *Receiver) readLoop(r io.Reader) {
	defer close(rc.done)
	for {
		batch, err := ReadBatch(r)
		if err != nil {
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				rc.results <- Result{Err: err}
				continue
			}
			if !errors.Is(err, io.EOF) {
				rc.results <- Result{Err: err}
			}
			return
		}
		rc.results <- Result{Batch: batch}
	}
}

// Poll returns the next received result without blocking. ok is false when
// nothing is pending. ErrClosed is returned once the stream has ended and
// every result has been drained.
func (rc *Receiver) Poll() (Result, bool) {
	select {
	case res := <-rc.results:
		return res, true
	default:
	}

	select {
	case <-rc.done:
		select {
		case res := <-rc.results:
			return res, true
		default:
			return Result{Err: ErrClosed}, true
		}
	default:
		return Result{}, false
	}
}

// Done is closed when the underlying stream has ended
func (rc *Receiver) Done() <-chan struct{} {
	return rc.done
}
