package tor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/tornago"
)

// defaultStartupTimeout allows for directory download and circuit building.
const defaultStartupTimeout = 3 * time.Minute

// EmbeddedTor runs a private tor daemon through tornago so torcheck can
// measure the Tor path on hosts without a system Tor service. Both of its
// listeners bind to OS-assigned loopback ports.
//
// Design decision: We wait for bootstrap to finish inside Start instead of
// handing out a client right away. A refresh issued during bootstrap would
// fail as a communication error and report the overlay address as absent,
// which is indistinguishable from Tor being down.
//
// Note: bootstrapping takes 1-3 minutes on a cold start while tor
// downloads directory information and builds its first circuits.
type EmbeddedTor struct {
	mu sync.Mutex

	process     *tornago.TorProcess
	socksAddr   string
	controlAddr string

	startupTimeout time.Duration
	logger         *slog.Logger
}

// EmbeddedTorOption configures an EmbeddedTor instance.
type EmbeddedTorOption func(*EmbeddedTor)

// WithStartupTimeout sets the maximum time to wait for Tor to bootstrap.
func WithStartupTimeout(timeout time.Duration) EmbeddedTorOption {
	return func(e *EmbeddedTor) {
		if timeout > 0 {
			e.startupTimeout = timeout
		}
	}
}

// WithEmbeddedLogger sets the logger used for lifecycle messages.
func WithEmbeddedLogger(logger *slog.Logger) EmbeddedTorOption {
	return func(e *EmbeddedTor) {
		e.logger = logger
	}
}

// NewEmbeddedTor creates a stopped embedded daemon.
func NewEmbeddedTor(opts ...EmbeddedTorOption) *EmbeddedTor {
	e := &EmbeddedTor{
		startupTimeout: defaultStartupTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Start launches the daemon and blocks until it has bootstrapped, the
// startup timeout passes, or ctx is done. A daemon that finishes starting
// after ctx is done is stopped again.
func (e *EmbeddedTor) Start(ctx context.Context) error {
	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(e.startupTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	type startResult struct {
		process *tornago.TorProcess
		err     error
	}
	resultCh := make(chan startResult, 1)

	e.logger.Info("starting embedded Tor daemon", "startup_timeout", e.startupTimeout)
	go func() {
		process, err := tornago.StartTorDaemon(launchCfg)
		resultCh <- startResult{process, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if result := <-resultCh; result.err == nil {
				_ = result.process.Stop() //nolint:errcheck // startup was abandoned
			}
		}()
		return ctx.Err()
	case result := <-resultCh:
		if result.err != nil {
			return fmt.Errorf("failed to start embedded Tor daemon: %w", result.err)
		}

		e.mu.Lock()
		e.process = result.process
		e.socksAddr = result.process.SocksAddr()
		e.controlAddr = result.process.ControlAddr()
		e.mu.Unlock()

		e.logger.Info("embedded Tor daemon ready", "socks", e.socksAddr)
		return nil
	}
}

// Stop shuts the daemon down. It is safe on a stopped instance.
func (e *EmbeddedTor) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.process == nil {
		return nil
	}
	err := e.process.Stop()
	e.process = nil
	e.socksAddr = ""
	e.controlAddr = ""
	return err
}

// SocksAddr returns the SOCKS5 listener, or "" when not running.
func (e *EmbeddedTor) SocksAddr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.socksAddr
}

// ControlAddr returns the control port, or "" when not running.
func (e *EmbeddedTor) ControlAddr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.controlAddr
}

// IsRunning reports whether the daemon has been started and not stopped.
func (e *EmbeddedTor) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.process != nil
}

// NewClient returns a Client for the running daemon's SOCKS listener.
func (e *EmbeddedTor) NewClient(timeout time.Duration) (*Client, error) {
	addr := e.SocksAddr()
	if addr == "" {
		return nil, ErrEmbeddedNotRunning
	}
	return NewClient(addr, timeout)
}
