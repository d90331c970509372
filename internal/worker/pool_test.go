package worker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/andresmejia3/obscura/internal/apperr"
	"github.com/andresmejia3/obscura/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall_StalledStdinTimesOut(t *testing.T) {
	// Nobody reads stdinR, so writes block once the pipe buffer is full
	stdinR, stdinW, err := os.Pipe()
	require.NoError(t, err)
	defer stdinR.Close()
	dataR, dataW, err := os.Pipe()
	require.NoError(t, err)
	defer dataW.Close()

	w := &PythonWorker{ID: 1, Stdin: stdinW, DataPipe: dataR, ReadTimeout: 100 * time.Millisecond}
	defer w.Close()

	done := make(chan error, 1)
	go func() {
		_, err := w.Call(OpEmbedFaces, nil, make([]byte, 4<<20))
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrProtocol)
	case <-time.After(5 * time.Second):
		t.Fatal("Call blocked on a worker that stopped reading stdin")
	}
}

func newTestPool(cfg Config, workers ...*PythonWorker) *Pool {
	p := &Pool{
		cfg:     cfg,
		logger:  logger.Discard(),
		ctx:     context.Background(),
		idle:    make(chan *PythonWorker, len(workers)+1),
		workers: make(map[int]*PythonWorker),
		drained: make(chan struct{}),
	}
	for _, w := range workers {
		p.workers[w.ID] = w
		p.idle <- w
	}
	return p
}

func TestPool_FailsFastWhenRespawnFails(t *testing.T) {
	crashed, _ := newMockWorker(nil)
	p := newTestPool(Config{Python: "obscura-no-such-python", Script: "worker.py"}, crashed)

	_, err := p.Call(context.Background(), OpNER, nil, []byte("text"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ModelFailure))
	assert.Equal(t, 0, p.Size())

	// With no context deadline, a second call must still return instead of waiting forever
	done := make(chan error, 1)
	go func() {
		_, err := p.Call(context.Background(), OpNER, nil, []byte("text"))
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNoWorkers)
		assert.True(t, apperr.Is(err, apperr.ModelFailure))
	case <-time.After(5 * time.Second):
		t.Fatal("Call waited on an empty pool")
	}
}

func TestPool_ClosedPoolRejectsCalls(t *testing.T) {
	w, _ := newMockWorker(okReply(`{}`, nil))
	p := newTestPool(Config{}, w)
	p.Close()

	_, err := p.Call(context.Background(), OpNER, nil, nil)
	assert.ErrorIs(t, err, ErrNoWorkers)
}
