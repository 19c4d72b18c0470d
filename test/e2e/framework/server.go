package framework

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/marmos91/ttableserver/internal/logger"
	protocol "github.com/marmos91/ttableserver/internal/protocol/lookup"
	"github.com/marmos91/ttableserver/pkg/adapter/lookup"
	"github.com/marmos91/ttableserver/pkg/loader"
	"github.com/marmos91/ttableserver/pkg/server"
)

// Compression selects the table file format, by extension.
type Compression string

const (
	CompressionGzip Compression = ".gz"
	CompressionZstd Compression = ".zst"
	CompressionLZ4  Compression = ".lz4"
)

// TestServerConfig holds configuration for the test server.
type TestServerConfig struct {
	Direction   lookup.Direction
	Compression Compression

	// Tables maps a genre ("ALL" included) to the text of its table.
	// Genres lists provenances 1..n; a genre without a table fails the load.
	Tables map[string]string
	Genres []string

	Workers        int
	MaxBatch       int
	LogLevel       string
	StartupTimeout time.Duration
}

// TestServer runs a TTableServer on an ephemeral port with tables written
// to a temp directory.
type TestServer struct {
	t       testing.TB
	config  TestServerConfig
	server  *server.TTableServer
	adapter *lookup.LookupAdapter
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	runErr  error
	started bool
	mu      sync.Mutex
}

// NewTestServer creates a test server. Start must be called before use.
func NewTestServer(t testing.TB, config TestServerConfig) *TestServer {
	t.Helper()

	if config.Direction == "" {
		config.Direction = lookup.DirectionS2T
	}
	if config.Compression == "" {
		config.Compression = CompressionGzip
	}
	if config.LogLevel == "" {
		config.LogLevel = "ERROR" // Keep tests quiet by default
	}
	if config.StartupTimeout == 0 {
		config.StartupTimeout = 10 * time.Second
	}

	return &TestServer{t: t, config: config}
}

// Start writes the tables, loads them and waits until the adapter accepts
// connections.
func (ts *TestServer) Start() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.started {
		return fmt.Errorf("server already started")
	}
	ts.t.Helper()

	logger.SetLevel(ts.config.LogLevel)

	dir := ts.t.TempDir()
	genres := append([]string{loader.AllGenre}, ts.config.Genres...)
	for _, genre := range genres {
		content, ok := ts.config.Tables[genre]
		if !ok {
			continue
		}
		path := filepath.Join(dir, genre+string(ts.config.Compression))
		if err := writeTable(path, ts.config.Compression, content); err != nil {
			return err
		}
	}

	tasks := loader.BuildTasks(filepath.Join(dir, loader.GenrePlaceholder+string(ts.config.Compression)), "", ts.config.Genres)

	// Ports stay 0 so the adapter binds an ephemeral port
	a, err := lookup.New(lookup.Config{
		Direction: ts.config.Direction,
		Workers:   ts.config.Workers,
		MaxBatch:  ts.config.MaxBatch,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to create adapter: %w", err)
	}

	srv := server.New(loader.New(loader.Config{}, nil, nil), tasks, 0)
	if err := srv.AddAdapter(a); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	ts.server, ts.adapter, ts.cancel = srv, a, cancel

	runDone := make(chan struct{})
	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()
		defer close(runDone)
		ts.runErr = srv.Run(ctx)
	}()

	select {
	case <-srv.Ready():
	case <-runDone:
		cancel()
		return fmt.Errorf("server failed to start: %w", ts.runErr)
	case <-time.After(ts.config.StartupTimeout):
		cancel()
		ts.wg.Wait()
		return fmt.Errorf("timeout waiting for server to start")
	}

	ts.started = true
	ts.t.Logf("Server started on %s", ts.Addr())
	return nil
}

// Stop cancels the server and waits for it to exit. Returns the error Run
// returned.
func (ts *TestServer) Stop() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.started {
		return nil
	}
	ts.t.Helper()

	ts.cancel()

	done := make(chan struct{})
	go func() {
		ts.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		return fmt.Errorf("server did not stop within 10s")
	}

	ts.started = false
	return ts.runErr
}

// Addr returns the dialable address of the lookup port.
func (ts *TestServer) Addr() string {
	port := ts.adapter.Addr().(*net.TCPAddr).Port
	return fmt.Sprintf("127.0.0.1:%d", port)
}

// Adapter returns the lookup adapter.
func (ts *TestServer) Adapter() *lookup.LookupAdapter {
	return ts.adapter
}

// Dial opens a client connection that is closed when the test ends.
func (ts *TestServer) Dial() (*protocol.Client, net.Conn) {
	ts.t.Helper()

	conn, err := net.DialTimeout("tcp", ts.Addr(), 5*time.Second)
	if err != nil {
		ts.t.Fatalf("Failed to connect: %v", err)
	}
	ts.t.Cleanup(func() { _ = conn.Close() })
	return protocol.NewClient(conn), conn
}

func writeTable(path string, c Compression, content string) error {
	var buf bytes.Buffer
	var w io.WriteCloser

	switch c {
	case CompressionGzip:
		w = gzip.NewWriter(&buf)
	case CompressionZstd:
		enc, err := zstd.NewWriter(&buf)
		if err != nil {
			return err
		}
		w = enc
	case CompressionLZ4:
		w = lz4.NewWriter(&buf)
	default:
		return fmt.Errorf("unknown compression %q", c)
	}

	if _, err := io.WriteString(w, content); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
