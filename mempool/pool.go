package mempool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type poolOptions struct {
	Log *zap.SugaredLogger
}

func newPoolOptions() *poolOptions {
	return &poolOptions{
		Log: zap.NewNop().Sugar(),
	}
}

// PoolOption configures the worker pool.
type PoolOption func(*poolOptions)

// WithLog sets the logger for the pool and its workers.
func WithLog(log *zap.SugaredLogger) PoolOption {
	return func(o *poolOptions) {
		o.Log = log
	}
}

// Pool evaluates the configured algorithm over a pair of equally sized
// buffers, one worker per portion.
type Pool struct {
	cfg *Config
	log *zap.SugaredLogger
}

// NewPool validates the configuration and builds a pool. Configuration
// errors are fatal and reported here, before any worker exists.
func NewPool(cfg *Config, options ...PoolOption) (*Pool, error) {
	opts := newPoolOptions()
	for _, o := range options {
		o(opts)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Pool{cfg: cfg, log: opts.Log}, nil
}

// Run partitions input and output into per-worker portions, spawns one
// worker per portion, joins them all and reports their collected errors.
// The input buffer is never written; the output buffer is exclusively
// owned by its worker apart from the mailbox cells of the exchange.
func (p *Pool) Run(ctx context.Context, input, output []byte) error {
	cfg := p.cfg

	if cfg.Threads.Count == 0 {
		p.log.Infof("nothing can be done: thread count is zero")
		return nil
	}

	size := cfg.BufferSize()
	if uint64(len(input)) != size || uint64(len(output)) != size {
		return fmt.Errorf("%w: buffers are %d and %d bytes, configuration wants %d",
			ErrConfigInvalid, len(input), len(output), size)
	}

	portionSize := int(cfg.Threads.PortionSize)
	workers := make([]*worker, cfg.Threads.Count)
	for i := range workers {
		lo, hi := i*portionSize, (i+1)*portionSize

		w, err := newWorker(i, cfg, input[lo:hi], output[lo:hi], p.log)
		if err != nil {
			return err
		}
		workers[i] = w
	}

	var monitorStop chan struct{}
	var monitorDone chan struct{}
	if cfg.Algorithm == AlgorithmSort {
		monitor := p.wireExchange(workers)
		monitorStop = make(chan struct{})
		monitorDone = make(chan struct{})
		go func() {
			defer close(monitorDone)
			monitor.run(monitorStop)
		}()
	}

	p.log.Debugw("spawning workers", "count", len(workers))

	var wg sync.WaitGroup
	wg.Add(len(workers))
	for _, w := range workers {
		go func(w *worker) {
			defer wg.Done()
			w.run(ctx)
		}(w)
	}
	wg.Wait()

	if monitorStop != nil {
		close(monitorStop)
		<-monitorDone
	}

	var errs []error
	for _, w := range workers {
		if w.err != nil {
			errs = append(errs, fmt.Errorf("worker %d: %w", w.id, w.err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	p.log.Debugw("operation has been executed", "algorithm", cfg.Algorithm)
	return nil
}

// wireExchange builds the mailbox pairs of every edge and pins the outer
// boundaries closed. Workers hold non-owning references to their peers;
// the pool's worker slice outlives every goroutine (join before drop).
func (p *Pool) wireExchange(workers []*worker) *exchangeMonitor {
	recordSize := p.cfg.Layout().RecordSize()

	for i, w := range workers {
		w.left = newMailbox(recordSize, mailboxQuicksortInProgress)
		w.right = newMailbox(recordSize, mailboxQuicksortInProgress)

		if i == 0 {
			w.left.state = mailboxNoFreeSpace
		}
		if i == len(workers)-1 {
			w.right.state = mailboxNoFreeSpace
		}
	}

	for i, w := range workers {
		if i > 0 {
			w.leftPeer = workers[i-1]
		}
		if i < len(workers)-1 {
			w.rightPeer = workers[i+1]
		}
	}

	monitor := &exchangeMonitor{workers: workers}
	for _, w := range workers {
		w.monitor = monitor
	}

	return monitor
}
