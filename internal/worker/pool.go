package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/andresmejia3/obscura/internal/apperr"
)

// Caller performs one model operation. Pool implements it; tests substitute fakes.
type Caller interface {
	Call(ctx context.Context, op string, args any, body []byte) (*Response, error)
}

// Pool owns a fixed set of model workers shared by every request.
type Pool struct {
	cfg    Config
	logger *slog.Logger
	// ctx outlives requests; workers are bound to it, not to the caller's context.
	ctx     context.Context
	idle    chan *PythonWorker
	mu      sync.Mutex
	workers map[int]*PythonWorker
	closed  bool
	// drained is closed once no live worker remains.
	drained   chan struct{}
	drainOnce sync.Once
}

// ErrNoWorkers is returned when every model worker has died or the pool is closed.
var ErrNoWorkers = errors.New("no live model workers")

// NewPool starts size workers and waits until all of them have launched.
func NewPool(ctx context.Context, size int, cfg Config, logger *slog.Logger) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		cfg:     cfg,
		logger:  logger.With("component", "worker_pool"),
		ctx:     ctx,
		idle:    make(chan *PythonWorker, size),
		workers: make(map[int]*PythonWorker, size),
		drained: make(chan struct{}),
	}

	type started struct {
		w   *PythonWorker
		err error
	}
	readyChan := make(chan started, size)
	for i := 0; i < size; i++ {
		go func(id int) {
			w, err := NewPythonWorker(ctx, id, cfg)
			readyChan <- started{w, err}
		}(i)
	}

	var firstErr error
	for i := 0; i < size; i++ {
		s := <-readyChan
		if s.err != nil {
			if firstErr == nil {
				firstErr = s.err
			}
			continue
		}
		p.workers[s.w.ID] = s.w
		p.idle <- s.w
	}
	if firstErr != nil {
		p.Close()
		return nil, apperr.New(apperr.ModelFailure, "start model workers", firstErr)
	}
	p.logger.Info("model workers ready", "count", size, "script", cfg.Script)
	return p, nil
}

// Call borrows an idle worker for one operation. A worker that breaks the protocol is
// replaced and its captured stderr is attached to the returned error.
func (p *Pool) Call(ctx context.Context, op string, args any, body []byte) (*Response, error) {
	select {
	case <-p.drained:
		return nil, apperr.New(apperr.ModelFailure, op, ErrNoWorkers)
	default:
	}

	var w *PythonWorker
	select {
	case w = <-p.idle:
	case <-p.drained:
		return nil, apperr.New(apperr.ModelFailure, op, ErrNoWorkers)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	resp, err := w.Call(op, args, body)
	if err == nil {
		p.idle <- w
		return resp, nil
	}

	if !errors.Is(err, ErrProtocol) {
		// Worker reported an error for this request but is still healthy.
		p.idle <- w
		return nil, apperr.New(apperr.ModelFailure, op, err)
	}

	logs := w.Cmd.Logs()
	p.logger.Error("model worker crashed", "worker", w.ID, "op", op, "error", err, "stderr", logs)
	p.replace(w)
	if logs != "" {
		err = fmt.Errorf("%w\n%s", err, logs)
	}
	return nil, apperr.New(apperr.ModelFailure, op, err)
}

func (p *Pool) replace(old *PythonWorker) {
	old.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.workers, old.ID)
	if p.closed {
		return
	}
	w, err := NewPythonWorker(p.ctx, old.ID, p.cfg)
	if err != nil {
		p.logger.Error("failed to respawn model worker", "worker", old.ID, "error", err, "live", len(p.workers))
		if len(p.workers) == 0 {
			p.drain()
		}
		return
	}
	p.workers[w.ID] = w
	p.idle <- w
}

// Size returns the number of live workers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Close stops every worker.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, w := range p.workers {
		w.Close()
		delete(p.workers, id)
	}
	p.drain()
}

func (p *Pool) drain() {
	p.drainOnce.Do(func() { close(p.drained) })
}
