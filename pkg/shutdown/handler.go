package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Handler manages graceful shutdown
type Handler struct {
	logger *zap.Logger

	mu          sync.Mutex
	shutdownFns []namedFn
	timeout     time.Duration
	signals     []os.Signal

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
	errs   int
}

type namedFn struct {
	name string
	fn   func(context.Context) error
}

// NewHandler creates a new shutdown handler
func NewHandler(logger *zap.Logger, timeout time.Duration) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		logger:  logger,
		timeout: timeout,
		signals: []os.Signal{
			os.Interrupt,    // Ctrl+C
			syscall.SIGTERM, // Kubernetes pod termination
			syscall.SIGQUIT, // Quit
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Context is cancelled as soon as shutdown begins
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Register registers a cleanup function. Cleanups run in reverse order of registration.
func (h *Handler) Register(name string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdownFns = append(h.shutdownFns, namedFn{name: name, fn: fn})
}

// Start begins listening for shutdown signals. A signal cancels Context;
// cleanups run when Shutdown is called, or after the timeout if it never is.
func (h *Handler) Start() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, h.signals...)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			h.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			h.cancel()
		case <-h.done:
			return
		}

		// give the owner of Context a chance to call Shutdown itself
		timer := time.NewTimer(h.timeout)
		defer timer.Stop()
		select {
		case <-h.done:
		case <-timer.C:
			h.Shutdown()
		}
	}()
}

// Wait blocks until shutdown is complete
func (h *Handler) Wait() {
	<-h.done
}

// Shutdown cancels the handler context and runs every cleanup once.
// It returns the number of cleanups that failed.
func (h *Handler) Shutdown() int {
	h.once.Do(func() {
		h.logger.Info("Starting graceful shutdown")
		h.cancel()
		h.errs = h.executeShutdown()
		close(h.done)
	})
	<-h.done
	return h.errs
}

// executeShutdown runs all cleanup functions
func (h *Handler) executeShutdown() int {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	start := time.Now()
	failed := 0

	// Copy functions to avoid holding lock
	h.mu.Lock()
	fns := make([]namedFn, len(h.shutdownFns))
	copy(fns, h.shutdownFns)
	h.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			h.logger.Warn("Shutdown timeout exceeded, some cleanup may be incomplete",
				zap.Int("skipped", i+1))
			failed += i + 1
			break
		}

		cleanupStart := time.Now()
		if err := fns[i].fn(ctx); err != nil {
			failed++
			h.logger.Warn("Failed to clean up",
				zap.String("component", fns[i].name),
				zap.Error(err),
				zap.Duration("took", time.Since(cleanupStart)))
			continue
		}
		h.logger.Debug("Cleaned up",
			zap.String("component", fns[i].name),
			zap.Duration("took", time.Since(cleanupStart)))
	}

	if failed > 0 {
		h.logger.Warn("Shutdown completed with errors",
			zap.Int("errors", failed),
			zap.Duration("took", time.Since(start)))
	} else {
		h.logger.Info("Graceful shutdown completed", zap.Duration("took", time.Since(start)))
	}
	return failed
}
