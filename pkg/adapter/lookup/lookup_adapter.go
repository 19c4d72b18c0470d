package lookup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/ttableserver/internal/logger"
	protocol "github.com/marmos91/ttableserver/internal/protocol/lookup"
	"github.com/marmos91/ttableserver/internal/ratelimiter"
	"github.com/marmos91/ttableserver/pkg/adapter"
	"github.com/marmos91/ttableserver/pkg/metrics"
	"github.com/marmos91/ttableserver/pkg/ttable"
)

// Direction selects which of the two table directions a server instance
// answers for, and therefore which port it binds.
type Direction string

const (
	DirectionS2T Direction = "s2t"
	DirectionT2S Direction = "t2s"
)

const (
	DefaultS2TPort = 4949
	DefaultT2SPort = 4950
	DefaultWorkers = 6

	// batchLogInterval is the number of batches between per-connection
	// timing logs.
	batchLogInterval = 1000

	// Backoff bounds after a failed Accept (EMFILE and the like).
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

var _ adapter.Adapter = (*LookupAdapter)(nil)

// LookupAdapter serves batched probability lookups over TCP.
//
// Architecture:
// A single goroutine runs the accept loop. Before each Accept it takes a
// slot from a semaphore of size Workers, so at most Workers connections are
// served at once and further clients wait in the listen backlog. Each
// connection runs on its own goroutine (see LookupConnection) and returns
// its slot when it closes.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. Every active connection force-closed; in-flight batches are dropped
//  4. Serve returns once all connection goroutines have exited
//
// There is no drain phase: clients are expected to retry against the next
// server instance.
type LookupAdapter struct {
	config  Config
	model   *ttable.Model
	metrics metrics.LookupMetrics

	// limiter throttles Accept; nil when AcceptRate is 0
	limiter *ratelimiter.RateLimiter

	mu       sync.Mutex
	listener net.Listener

	ready        chan struct{}
	readyOnce    sync.Once
	done         chan struct{}
	started      atomic.Bool
	shutdownOnce sync.Once
	shutdown     chan struct{}

	connSemaphore chan struct{}
	activeConns   sync.WaitGroup
	connCount     atomic.Int32

	// activeConnections maps connection id to net.Conn for forced closure
	activeConnections sync.Map

	batches atomic.Int64
	keys    atomic.Int64
	hits    atomic.Int64
}

// Config holds the query front end settings.
//
// Default values (applied by New if zero):
//   - Direction: s2t
//   - Workers: 6
//   - MaxBatch: 1,048,576
//
// Ports are not defaulted here: 0 binds an ephemeral port.
type Config struct {
	// Direction is "s2t" or "t2s" and picks the listening port.
	Direction Direction `mapstructure:"direction" validate:"omitempty,oneof=s2t t2s"`

	// S2TPort is the port used for the source-to-target direction.
	S2TPort int `mapstructure:"s2t_port" validate:"min=0,max=65535"`

	// T2SPort is the port used for the target-to-source direction.
	T2SPort int `mapstructure:"t2s_port" validate:"min=0,max=65535"`

	// Workers is the maximum number of connections served concurrently.
	Workers int `mapstructure:"workers" validate:"min=0"`

	// MaxBatch is the largest accepted request count. Larger requests are
	// a protocol error and close the connection.
	MaxBatch int `mapstructure:"max_batch" validate:"min=0"`

	// AcceptRate limits new connections per second. 0 means unlimited.
	AcceptRate float64 `mapstructure:"accept_rate" validate:"min=0"`

	// AcceptBurst is the number of connections accepted back to back before
	// AcceptRate applies.
	AcceptBurst int `mapstructure:"accept_burst" validate:"min=0"`

	// MetricsLogInterval is the interval between server-wide counter logs.
	// 0 disables periodic logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`
}

func (c *Config) applyDefaults() {
	if c.Direction == "" {
		c.Direction = DirectionS2T
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = protocol.DefaultMaxBatch
	}
}

func (c *Config) validate() error {
	if c.Direction != DirectionS2T && c.Direction != DirectionT2S {
		return fmt.Errorf("invalid direction %q: must be s2t or t2s", c.Direction)
	}
	if c.S2TPort < 0 || c.S2TPort > 65535 {
		return fmt.Errorf("invalid s2t port %d: must be 0-65535", c.S2TPort)
	}
	if c.T2SPort < 0 || c.T2SPort > 65535 {
		return fmt.Errorf("invalid t2s port %d: must be 0-65535", c.T2SPort)
	}
	if c.AcceptRate < 0 {
		return fmt.Errorf("invalid accept rate %v: must be >= 0", c.AcceptRate)
	}
	return nil
}

// PortFor returns the port configured for direction.
func (c Config) PortFor(direction Direction) int {
	if direction == DirectionT2S {
		return c.T2SPort
	}
	return c.S2TPort
}

// New creates a LookupAdapter. Zero values in config are replaced with
// defaults; an invalid config is returned as an error. A nil m records
// nothing.
func New(config Config, m metrics.LookupMetrics) (*LookupAdapter, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.NewNoopLookupMetrics()
	}

	return &LookupAdapter{
		config:        config,
		metrics:       m,
		limiter:       ratelimiter.New(config.AcceptRate, config.AcceptBurst),
		ready:         make(chan struct{}),
		done:          make(chan struct{}),
		shutdown:      make(chan struct{}),
		connSemaphore: make(chan struct{}, config.Workers),
	}, nil
}

// SetModel injects the model to serve.
func (s *LookupAdapter) SetModel(model *ttable.Model) {
	s.model = model
}

// Serve binds the direction's port and accepts connections until ctx is
// cancelled or Stop is called. It returns nil after shutdown and only
// returns an error when the listener cannot be created.
func (s *LookupAdapter) Serve(ctx context.Context) error {
	if s.model == nil {
		return errors.New("lookup adapter: no model set")
	}
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("lookup adapter: Serve called twice")
	}
	defer close(s.done)

	port := s.Port()
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to create lookup listener on port %d: %w", port, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	select {
	case <-s.shutdown:
		// Stop won the race with Listen
		_ = listener.Close()
		return nil
	default:
	}

	s.readyOnce.Do(func() { close(s.ready) })
	logger.Info("Lookup server (%s) listening on %s", s.config.Direction, listener.Addr())
	logger.Debug("Lookup config: workers=%d max_batch=%d accept_rate=%v accept_burst=%d",
		s.config.Workers, s.config.MaxBatch, s.config.AcceptRate, s.config.AcceptBurst)

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()

	go func() {
		select {
		case <-loopCtx.Done():
			if ctx.Err() != nil {
				logger.Info("Lookup server shutdown signal received: %v", ctx.Err())
			}
		case <-s.shutdown:
		}
		s.initiateShutdown()
		cancelLoop()
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(loopCtx)
	}

	var acceptDelay time.Duration
	for {
		select {
		case s.connSemaphore <- struct{}{}:
		case <-s.shutdown:
			return s.waitConnections()
		}

		if err := s.limiter.Wait(loopCtx); err != nil {
			<-s.connSemaphore
			return s.waitConnections()
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			<-s.connSemaphore

			select {
			case <-s.shutdown:
				return s.waitConnections()
			default:
			}

			acceptDelay = nextAcceptDelay(acceptDelay)
			logger.Debug("Error accepting lookup connection: %v; retrying in %v", err, acceptDelay)
			select {
			case <-time.After(acceptDelay):
			case <-s.shutdown:
				return s.waitConnections()
			case <-loopCtx.Done():
				return s.waitConnections()
			}
			continue
		}
		acceptDelay = 0

		s.activeConns.Add(1)
		currentConns := s.connCount.Add(1)

		id := uuid.NewString()
		s.activeConnections.Store(id, tcpConn)

		// A connection accepted while shutdown runs may have missed
		// forceCloseConnections.
		select {
		case <-s.shutdown:
			_ = tcpConn.Close()
		default:
		}

		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(currentConns)
		logger.Debug("Lookup connection %s accepted from %s (active: %d)",
			id, tcpConn.RemoteAddr(), currentConns)

		conn := NewLookupConnection(s, id, tcpConn)
		go func() {
			defer func() {
				s.activeConnections.Delete(id)
				remaining := s.connCount.Add(-1)
				<-s.connSemaphore

				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(remaining)
				logger.Debug("Lookup connection %s closed (active: %d)", id, remaining)
				s.activeConns.Done()
			}()

			conn.Serve(loopCtx)
		}()
	}
}

// initiateShutdown stops the accept loop and force-closes every active
// connection. Safe to call multiple times.
func (s *LookupAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Lookup shutdown initiated")
		close(s.shutdown)

		s.mu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing lookup listener: %v", err)
			}
		}
		s.mu.Unlock()

		s.forceCloseConnections()
	})
}

// forceCloseConnections closes the TCP socket of every tracked connection.
// Blocked reads and writes fail immediately and the handlers exit.
func (s *LookupAdapter) forceCloseConnections() {
	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		id := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection %s: %v", id, err)
		} else {
			closedCount++
			s.metrics.RecordConnectionForceClosed()
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed %d lookup connection(s)", closedCount)
	}
}

func (s *LookupAdapter) waitConnections() error {
	s.activeConns.Wait()
	logger.Info("Lookup server stopped: %d batches, %d keys served", s.batches.Load(), s.keys.Load())
	return nil
}

// Stop closes the listener and all connections, then waits for Serve to
// return or ctx to be done. Safe to call multiple times and before Serve.
func (s *LookupAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if !s.started.Load() {
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		logger.Warn("Lookup shutdown: %d connection(s) still active: %v", s.connCount.Load(), ctx.Err())
		return ctx.Err()
	}
}

func (s *LookupAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("Lookup metrics: active_connections=%d batches=%d keys=%d hits=%d",
				s.connCount.Load(), s.batches.Load(), s.keys.Load(), s.hits.Load())
		}
	}
}

// recordBatch updates server-wide counters.
func (s *LookupAdapter) recordBatch(keys, hits int, duration time.Duration) {
	s.batches.Add(1)
	s.keys.Add(int64(keys))
	s.hits.Add(int64(hits))
	s.metrics.RecordBatch(keys, hits, duration)
}

// Ready is closed once the listener is bound.
func (s *LookupAdapter) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or nil before the listener exists.
func (s *LookupAdapter) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// GetActiveConnections returns the number of connections being served.
func (s *LookupAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Port returns the configured port for the adapter's direction.
func (s *LookupAdapter) Port() int {
	return s.config.PortFor(s.config.Direction)
}

// Protocol returns "TTABLE".
func (s *LookupAdapter) Protocol() string {
	return "TTABLE"
}

// nextAcceptDelay doubles the previous delay within
// [minAcceptDelay, maxAcceptDelay].
func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	if next := prev * 2; next < maxAcceptDelay {
		return next
	}
	return maxAcceptDelay
}
