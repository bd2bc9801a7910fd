package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/objecthub/errors"
	"github.com/vinayprograms/objecthub/logging"
)

// Phases used by the hub.
const (
	PhaseListeners   = 10
	PhaseConnections = 20
	PhaseMirror      = 30
	PhaseTelemetry   = 40
)

// Common errors.
var (
	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New(errors.ErrCodeTimeout, "shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more handlers failed during shutdown.
	ErrHandlerFailed = errors.New(errors.ErrCodeInternal, "one or more shutdown handlers failed")
)

// Handler is implemented by components that need graceful shutdown.
// The context is cancelled when the shutdown timeout is reached.
type Handler interface {
	OnShutdown(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) error

// OnShutdown implements Handler.
func (f HandlerFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// HandlerResult contains the result of a single handler's shutdown.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Config configures the shutdown coordinator.
type Config struct {
	// Timeout bounds the whole shutdown. Default: 10s
	Timeout time.Duration

	// Signals trigger shutdown. Default: SIGINT and SIGTERM
	Signals []os.Signal
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

type registration struct {
	name    string
	handler Handler
	phase   int
}

// Coordinator runs registered handlers phase by phase, once.
type Coordinator struct {
	config Config
	log    *logging.Logger

	mu       sync.Mutex
	handlers []registration
	results  []HandlerResult

	once    sync.Once
	done    chan struct{}
	err     error
	signals chan os.Signal
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(cfg Config, log *logging.Logger) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = DefaultConfig().Signals
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Coordinator{
		config:  cfg,
		log:     log,
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
	}
}

// Register adds a handler to the given phase.
func (c *Coordinator) Register(name string, phase int, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, handler: handler, phase: phase})
}

// RegisterFunc adds a function to the given phase.
func (c *Coordinator) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) {
	c.Register(name, phase, HandlerFunc(fn))
}

// HandleSignals starts shutdown when one of the configured signals arrives.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signals, c.config.Signals...)

	go func() {
		select {
		case sig := <-c.signals:
			c.log.Info("shutting down", map[string]interface{}{"signal": sig.String()})
			c.ShutdownWithTimeout(c.config.Timeout)
		case <-c.done:
		}
		signal.Stop(c.signals)
	}()
}

// Trigger starts shutdown as if a signal had arrived.
func (c *Coordinator) Trigger() {
	select {
	case c.signals <- syscall.SIGTERM:
	default:
	}
}

// ShutdownWithTimeout runs Shutdown bounded by timeout, or the configured
// timeout when zero.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// Shutdown runs every handler once. Later calls wait for the first to finish
// and return its error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.err = c.run(ctx)
		close(c.done)
	})
	<-c.done
	return c.err
}

// Done is closed when shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown error once Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Results returns each handler's outcome in execution order.
func (c *Coordinator) Results() []HandlerResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]HandlerResult, len(c.results))
	copy(out, c.results)
	return out
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	start := time.Now()
	var failed bool
	for _, group := range groupByPhase(handlers) {
		if ctx.Err() != nil {
			c.log.Error("shutdown timed out", map[string]interface{}{
				"phase":    group[0].phase,
				"duration": time.Since(start).String(),
			})
			return ErrTimeout
		}

		for _, hr := range c.runPhase(ctx, group) {
			if hr.Err != nil {
				failed = true
			}
		}
	}

	c.log.Info("shutdown complete", map[string]interface{}{
		"duration": time.Since(start).String(),
	})
	if failed {
		return ErrHandlerFailed
	}
	return nil
}

func (c *Coordinator) runPhase(ctx context.Context, group []registration) []HandlerResult {
	results := make([]HandlerResult, len(group))
	var wg sync.WaitGroup

	for i, reg := range group {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()

			start := time.Now()
			err := r.handler.OnShutdown(ctx)
			results[idx] = HandlerResult{
				Name:     r.name,
				Phase:    r.phase,
				Duration: time.Since(start),
				Err:      err,
			}

			fields := map[string]interface{}{
				"handler":  r.name,
				"phase":    r.phase,
				"duration": results[idx].Duration.String(),
			}
			if err != nil {
				fields["error"] = err.Error()
				c.log.Warn("shutdown handler failed", fields)
				return
			}
			c.log.Debug("shutdown handler done", fields)
		}(i, reg)
	}
	wg.Wait()

	c.mu.Lock()
	c.results = append(c.results, results...)
	c.mu.Unlock()
	return results
}

// groupByPhase splits sorted handlers into runs of equal phase.
func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for i := 0; i < len(handlers); {
		j := i
		for j < len(handlers) && handlers[j].phase == handlers[i].phase {
			j++
		}
		groups = append(groups, handlers[i:j])
		i = j
	}
	return groups
}
