package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/ttableserver/internal/logger"
	"github.com/marmos91/ttableserver/pkg/adapter"
	"github.com/marmos91/ttableserver/pkg/loader"
	"github.com/marmos91/ttableserver/pkg/ttable"
)

// DefaultLifetime is how long a server instance stays up.
const DefaultLifetime = 24 * time.Hour

const stopTimeout = 30 * time.Second

// ModelLoader builds the model served by the adapters.
type ModelLoader interface {
	LoadAll(ctx context.Context, tasks []loader.Task) (*ttable.Model, error)
}

// TTableServer runs the load-then-serve lifecycle.
//
// Run loads every table, hands the finished model to the registered
// adapters, serves for a fixed lifetime and then stops the adapters. The
// model is never modified once loading has finished, so adapters read it
// without locks.
//
// Thread safety:
// AddAdapter must be called before Run. Ready, Addr and Model are safe for
// concurrent use.
type TTableServer struct {
	loader   ModelLoader
	tasks    []loader.Task
	lifetime time.Duration

	adapters []adapter.Adapter

	mu     sync.RWMutex
	model  *ttable.Model
	ran    bool
	ready  chan struct{}
	loaded chan struct{}
}

// New creates a server that loads tasks with ld. lifetime 0 means serve
// until the Run context is cancelled.
func New(ld ModelLoader, tasks []loader.Task, lifetime time.Duration) *TTableServer {
	if ld == nil {
		panic("model loader cannot be nil")
	}
	return &TTableServer{
		loader:   ld,
		tasks:    tasks,
		lifetime: lifetime,
		adapters: make([]adapter.Adapter, 0, 1),
		ready:    make(chan struct{}),
		loaded:   make(chan struct{}),
	}
}

// AddAdapter registers a front end. Protocols and ports must be unique.
func (s *TTableServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ran {
		return errors.New("cannot add adapter after Run() has been called")
	}

	for _, existing := range s.adapters {
		if existing.Protocol() == a.Protocol() {
			return fmt.Errorf("adapter for protocol %s already registered", a.Protocol())
		}
		if a.Port() != 0 && existing.Port() == a.Port() {
			return fmt.Errorf("port %d already in use by %s adapter", a.Port(), existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)
	logger.Debug("Registered %s adapter on port %d", a.Protocol(), a.Port())
	return nil
}

// Run loads the model and serves it until the lifetime expires or ctx is
// cancelled. Both are normal terminations and return nil.
//
// Returns:
//   - *loader.LoadError or loader.ErrLoadTimeout if the model cannot be built
//   - ctx.Err() if ctx is cancelled while loading
//   - an error if an adapter fails to start
func (s *TTableServer) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return errors.New("Run() has already been called on this server instance")
	}
	s.ran = true
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	if len(adapters) == 0 {
		return errors.New("no adapters registered; call AddAdapter() before Run()")
	}

	start := time.Now()
	model, err := s.loader.LoadAll(ctx, s.tasks)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
	close(s.loaded)

	for _, st := range model.Stats() {
		logger.Info("Provenance %d: %d source words, %d entries", st.Provenance, st.Sources, st.Entries)
	}
	logger.Info("Model loaded in %v", time.Since(start).Round(time.Millisecond))

	runCtx := ctx
	if s.lifetime > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.lifetime)
		defer cancel()
		logger.Info("Serving for %v (until %s)", s.lifetime, time.Now().Add(s.lifetime).Format(time.RFC3339))
	}

	return s.serve(runCtx, adapters, model)
}

func (s *TTableServer) serve(ctx context.Context, adapters []adapter.Adapter, model *ttable.Model) error {
	errChan := make(chan adapterError, len(adapters))

	var wg sync.WaitGroup
	for _, a := range adapters {
		a := a
		a.SetModel(model)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Serve(ctx); err != nil && ctx.Err() == nil {
				errChan <- adapterError{protocol: a.Protocol(), err: err}
				return
			}
			logger.Debug("%s adapter stopped", a.Protocol())
		}()
	}

	go s.awaitReady(ctx, adapters)

	var runErr error
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Info("Server lifetime of %v reached, shutting down", s.lifetime)
		} else {
			logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		}
	case ae := <-errChan:
		logger.Error("Adapter %s failed: %v - shutting down", ae.protocol, ae.err)
		runErr = fmt.Errorf("%s adapter error: %w", ae.protocol, ae.err)
	}

	s.stopAllAdapters(adapters)
	wg.Wait()

	logger.Info("Server stopped")
	return runErr
}

type adapterError struct {
	protocol string
	err      error
}

func (s *TTableServer) awaitReady(ctx context.Context, adapters []adapter.Adapter) {
	for _, a := range adapters {
		select {
		case <-a.Ready():
		case <-ctx.Done():
			return
		}
	}
	logger.Info("Server ready")
	close(s.ready)
}

// stopAllAdapters stops adapters in reverse registration order.
func (s *TTableServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", a.Protocol(), err)
		}
	}
}

// Ready is closed when the model is loaded and every adapter is listening.
func (s *TTableServer) Ready() <-chan struct{} {
	return s.ready
}

// Loaded is closed when the model has been built.
func (s *TTableServer) Loaded() <-chan struct{} {
	return s.loaded
}

// Model returns the served model, or nil while loading.
func (s *TTableServer) Model() *ttable.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Addr returns the address of the first adapter, or nil before Ready.
func (s *TTableServer) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.adapters) == 0 {
		return nil
	}
	return s.adapters[0].Addr()
}

// Adapters returns the registered adapters.
func (s *TTableServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
