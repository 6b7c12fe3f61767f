package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"vaultwars/internal/poller"
)

// Manager owns the background goroutines: the chain event poller and the
// effect executor. The poller dispatches events into the executor, which
// runs them through the reducer and performs the resulting I/O.
type Manager struct {
	poller   *poller.Poller
	executor *Executor
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a worker manager.
func NewManager(p *poller.Poller, executor *Executor, logger *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		poller:   p,
		executor: executor,
		logger:   logger.Named("worker"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts all worker goroutines
func (m *Manager) Start() {
	m.logger.Info("Starting worker manager")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.poller.Run(m.ctx)
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.executor.Run(m.ctx)
	}()

	m.logger.Info("Worker manager started")
}

// Shutdown gracefully stops all workers
func (m *Manager) Shutdown(timeout time.Duration) error {
	m.logger.Info("Shutting down worker manager")

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Workers stopped gracefully")
	case <-time.After(timeout):
		m.logger.Warn("Worker shutdown timed out")
	}

	m.logger.Info("Worker manager shutdown complete")
	return nil
}
