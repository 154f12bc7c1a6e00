// Package lifecycle provides graceful shutdown orchestration
package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownPhase orders the shutdown sequence. Inbound traffic stops first,
// then in-flight work drains, then coordination state is released, and
// connections close last so every earlier phase can still use them.
type ShutdownPhase int

const (
	// PhaseHTTP stops accepting requests and drains in-flight ones
	PhaseHTTP ShutdownPhase = iota
	// PhaseQueue stops consumers and publishers
	PhaseQueue
	// PhaseWorkers stops dispatchers, schedulers, and sweep loops
	PhaseWorkers
	// PhaseLeader releases leader leases so standbys take over promptly
	PhaseLeader
	// PhaseDatabase closes database and cache connections
	PhaseDatabase
	// PhaseFinal runs any remaining cleanup
	PhaseFinal
)

var phaseOrder = []ShutdownPhase{
	PhaseHTTP, PhaseQueue, PhaseWorkers, PhaseLeader, PhaseDatabase, PhaseFinal,
}

func (p ShutdownPhase) String() string {
	switch p {
	case PhaseHTTP:
		return "http"
	case PhaseQueue:
		return "queue"
	case PhaseWorkers:
		return "workers"
	case PhaseLeader:
		return "leader"
	case PhaseDatabase:
		return "database"
	default:
		return "final"
	}
}

// ShutdownHook is a named cleanup step with a per-hook timeout.
type ShutdownHook struct {
	Name     string
	Phase    ShutdownPhase
	Timeout  time.Duration
	Shutdown func(ctx context.Context) error
}

// Manager collects shutdown hooks and runs them phase by phase. Hooks within
// the same phase run in parallel.
type Manager struct {
	mu           sync.Mutex
	hooks        []ShutdownHook
	totalTimeout time.Duration
	done         chan struct{}
	once         sync.Once
}

// NewManager creates a manager with a 30s overall shutdown budget.
func NewManager() *Manager {
	return &Manager{
		totalTimeout: 30 * time.Second,
		done:         make(chan struct{}),
	}
}

// SetShutdownTimeout overrides the overall shutdown budget.
func (m *Manager) SetShutdownTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalTimeout = timeout
}

// RegisterHook adds a shutdown hook. A zero timeout defaults to 10s.
func (m *Manager) RegisterHook(hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hook.Timeout == 0 {
		hook.Timeout = 10 * time.Second
	}
	m.hooks = append(m.hooks, hook)
}

// RegisterHTTPShutdown registers a hook in the HTTP drain phase.
func (m *Manager) RegisterHTTPShutdown(name string, shutdown func(ctx context.Context) error) {
	m.RegisterHook(ShutdownHook{Name: name, Phase: PhaseHTTP, Timeout: 15 * time.Second, Shutdown: shutdown})
}

// RegisterQueueShutdown registers a hook in the queue drain phase.
func (m *Manager) RegisterQueueShutdown(name string, shutdown func(ctx context.Context) error) {
	m.RegisterHook(ShutdownHook{Name: name, Phase: PhaseQueue, Timeout: 30 * time.Second, Shutdown: shutdown})
}

// RegisterWorkerShutdown registers a hook in the background-worker phase.
func (m *Manager) RegisterWorkerShutdown(name string, shutdown func(ctx context.Context) error) {
	m.RegisterHook(ShutdownHook{Name: name, Phase: PhaseWorkers, Timeout: 30 * time.Second, Shutdown: shutdown})
}

// RegisterLeaderShutdown registers a hook in the lease-release phase.
func (m *Manager) RegisterLeaderShutdown(name string, shutdown func(ctx context.Context) error) {
	m.RegisterHook(ShutdownHook{Name: name, Phase: PhaseLeader, Timeout: 5 * time.Second, Shutdown: shutdown})
}

// RegisterDatabaseShutdown registers a hook in the connection-close phase.
func (m *Manager) RegisterDatabaseShutdown(name string, shutdown func(ctx context.Context) error) {
	m.RegisterHook(ShutdownHook{Name: name, Phase: PhaseDatabase, Timeout: 10 * time.Second, Shutdown: shutdown})
}

// WaitForSignal blocks until SIGINT/SIGTERM arrives or Shutdown is called.
func (m *Manager) WaitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Shutdown signal received", "signal", sig.String())
	case <-m.done:
		slog.Info("Shutdown triggered programmatically")
	}
}

// Shutdown unblocks WaitForSignal. Safe to call more than once.
func (m *Manager) Shutdown() {
	m.once.Do(func() { close(m.done) })
}

// Execute runs all registered hooks in phase order.
func (m *Manager) Execute() error {
	m.mu.Lock()
	hooks := make([]ShutdownHook, len(m.hooks))
	copy(hooks, m.hooks)
	timeout := m.totalTimeout
	m.mu.Unlock()

	slog.Info("Starting graceful shutdown", "hooks", len(hooks), "timeout", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	byPhase := make(map[ShutdownPhase][]ShutdownHook)
	for _, hook := range hooks {
		byPhase[hook.Phase] = append(byPhase[hook.Phase], hook)
	}

	for _, phase := range phaseOrder {
		batch := byPhase[phase]
		if len(batch) == 0 {
			continue
		}

		slog.Info("Shutdown phase", "phase", phase.String(), "hooks", len(batch))

		var wg sync.WaitGroup
		for _, hook := range batch {
			wg.Add(1)
			go func(h ShutdownHook) {
				defer wg.Done()
				m.runHook(ctx, h)
			}(hook)
		}
		wg.Wait()

		if ctx.Err() != nil {
			slog.Warn("Shutdown budget exhausted, forcing exit")
			return ctx.Err()
		}
	}

	slog.Info("Graceful shutdown completed")
	return nil
}

// runHook runs one hook under its own timeout. A hook that overruns is
// abandoned, not killed; its goroutine exits with the process.
func (m *Manager) runHook(parentCtx context.Context, hook ShutdownHook) {
	ctx, cancel := context.WithTimeout(parentCtx, hook.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- hook.Shutdown(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Shutdown hook failed", "error", err, "hook", hook.Name)
		} else {
			slog.Debug("Shutdown hook completed", "hook", hook.Name)
		}
	case <-ctx.Done():
		slog.Warn("Shutdown hook timed out", "hook", hook.Name)
	}
}

// Run waits for a shutdown trigger, then executes the hooks.
func (m *Manager) Run() error {
	m.WaitForSignal()
	return m.Execute()
}
