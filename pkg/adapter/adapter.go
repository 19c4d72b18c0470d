package adapter

import (
	"context"
	"net"

	"github.com/marmos91/ttableserver/pkg/ttable"
)

// Adapter is a network front end that answers queries against a loaded
// model. The server owns the lifecycle: SetModel, then Serve, then Stop.
//
// Thread safety:
// Implementations must be safe for concurrent use. SetModel is called once
// before Serve; Stop may be called concurrently with Serve.
type Adapter interface {
	// SetModel injects the immutable model to serve. Called exactly once,
	// before Serve.
	SetModel(model *ttable.Model)

	// Serve binds the listener and accepts connections until ctx is
	// cancelled or Stop is called.
	//
	// Returns nil after a requested shutdown, or an error if the listener
	// cannot be created.
	Serve(ctx context.Context) error

	// Stop closes the listener and every active connection immediately.
	// Safe to call multiple times and before Serve.
	Stop(ctx context.Context) error

	// Ready is closed once the listener is bound.
	Ready() <-chan struct{}

	// Addr returns the bound listener address, or nil before Ready.
	Addr() net.Addr

	// Protocol returns the protocol name used in logs.
	Protocol() string

	// Port returns the configured port.
	Port() int
}
