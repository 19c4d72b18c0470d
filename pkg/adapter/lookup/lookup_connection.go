package lookup

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/marmos91/ttableserver/internal/logger"
	protocol "github.com/marmos91/ttableserver/internal/protocol/lookup"
	"github.com/marmos91/ttableserver/pkg/ttable"
)

const readBufferSize = 64 * 1024

// LookupConnection handles the request loop of one client.
//
// States: wait for a count, read that many keys, write that many values,
// repeat. EOF while waiting for a count is a normal close. The buffers are
// reused across batches, so steady-state batches do not allocate.
type LookupConnection struct {
	server *LookupAdapter
	id     string
	conn   net.Conn
	reader *bufio.Reader

	keys   []protocol.Key
	values []float64
	out    bytes.Buffer

	// timing window, reset after every log line
	batches  int64
	keyCount int64
	busy     time.Duration
}

// NewLookupConnection wraps an accepted connection.
func NewLookupConnection(server *LookupAdapter, id string, conn net.Conn) *LookupConnection {
	return &LookupConnection{
		server: server,
		id:     id,
		conn:   conn,
		reader: bufio.NewReaderSize(conn, readBufferSize),
	}
}

// Serve answers batches until the client disconnects, a protocol error
// occurs, or the server shuts down. The connection is always closed on
// return. Panics are recovered so that one client cannot take down the
// server.
func (c *LookupConnection) Serve(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in lookup connection %s from %s: %v", c.id, c.conn.RemoteAddr(), r)
		}
		_ = c.conn.Close()
	}()

	clientAddr := c.conn.RemoteAddr().String()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.server.shutdown:
			return
		default:
		}

		if err := c.handleRequest(); err != nil {
			c.logClose(clientAddr, err)
			return
		}
	}
}

// handleRequest processes one batch.
func (c *LookupConnection) handleRequest() error {
	n, err := protocol.ReadCount(c.reader, c.server.config.MaxBatch)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	start := time.Now()

	c.keys, err = protocol.ReadKeys(c.reader, c.keys, n)
	if err != nil {
		return err
	}

	hits := c.resolve(c.keys)

	c.out.Reset()
	if err := protocol.WriteValues(&c.out, c.values); err != nil {
		return err
	}
	if _, err := c.conn.Write(c.out.Bytes()); err != nil {
		return err
	}

	duration := time.Since(start)
	c.server.recordBatch(n, hits, duration)
	c.trackTiming(n, duration)
	return nil
}

// resolve fills c.values with one probability per key, in order, and
// returns the number of hits.
func (c *LookupConnection) resolve(keys []protocol.Key) int {
	if cap(c.values) < len(keys) {
		c.values = make([]float64, len(keys))
	}
	c.values = c.values[:len(keys)]

	model := c.server.model
	hits := 0
	for i, k := range keys {
		v, ok := model.Lookup(ttable.Provenance(k.Provenance), k.Source, k.Target)
		if ok {
			hits++
		} else {
			v = ttable.Sentinel
		}
		c.values[i] = v
	}
	return hits
}

// trackTiming adds one batch to the current window. Every batchLogInterval
// batches it logs the average time per key over the window, starts a new
// window and returns that average.
func (c *LookupConnection) trackTiming(keys int, d time.Duration) (time.Duration, bool) {
	c.batches++
	c.keyCount += int64(keys)
	c.busy += d

	if c.batches%batchLogInterval != 0 {
		return 0, false
	}

	var perKey time.Duration
	if c.keyCount > 0 {
		perKey = c.busy / time.Duration(c.keyCount)
	}
	logger.Info("Lookup connection %s: %d batches, %d keys in last %d, %s per key",
		c.id, c.batches, c.keyCount, batchLogInterval, perKey)

	c.keyCount = 0
	c.busy = 0
	return perKey, true
}

func (c *LookupConnection) logClose(clientAddr string, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("Lookup connection %s from %s closed by client", c.id, clientAddr)
	case errors.Is(err, protocol.ErrNegativeCount):
		c.server.metrics.RecordProtocolError("negative_count")
		logger.Warn("Lookup connection %s from %s: %v; closing", c.id, clientAddr, err)
	case errors.Is(err, protocol.ErrBatchTooLarge):
		c.server.metrics.RecordProtocolError("batch_too_large")
		logger.Warn("Lookup connection %s from %s: %v; closing", c.id, clientAddr, err)
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.server.metrics.RecordProtocolError("truncated")
		logger.Debug("Lookup connection %s from %s disconnected mid-batch: %v", c.id, clientAddr, err)
	case errors.Is(err, net.ErrClosed):
		logger.Debug("Lookup connection %s from %s closed by server", c.id, clientAddr)
	default:
		logger.Debug("Error serving lookup connection %s from %s: %v", c.id, clientAddr, err)
	}
}
