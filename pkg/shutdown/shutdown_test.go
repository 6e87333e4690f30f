package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/fold-orchestrator/pkg/logging"
)

func TestShutdownOrder(t *testing.T) {
	m := New(time.Second, logging.NewLogger(logging.ERROR, false))

	var order []string
	for _, name := range []string{"store", "server", "loops"} {
		name := name
		m.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	m.Register("broken", func(ctx context.Context) error { return errors.New("boom") })

	assert.Equal(t, 1, m.Shutdown())
	assert.Equal(t, []string{"loops", "server", "store"}, order)
}

func TestWaitOnContextCause(t *testing.T) {
	m := New(time.Second, logging.NewLogger(logging.ERROR, false))

	ctx, cancel := context.WithCancelCause(context.Background())
	restart := errors.New("no jobs created in 12h")
	cancel(restart)

	err := m.Wait(ctx)
	assert.ErrorIs(t, err, restart)

	select {
	case <-m.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestWaitFor(t *testing.T) {
	done := make(chan struct{})
	fn := WaitFor(done, "loops")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, fn(ctx))

	close(done)
	assert.NoError(t, fn(context.Background()))
}

type closer struct{ err error }

func (c closer) Close() error { return c.err }

func TestCloseResource(t *testing.T) {
	assert.NoError(t, CloseResource(closer{}, "store")(context.Background()))
	assert.Error(t, CloseResource(closer{err: errors.New("busy")}, "store")(context.Background()))
}
