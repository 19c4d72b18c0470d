package cli

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	protocol "github.com/marmos91/ttableserver/internal/protocol/lookup"
	"github.com/marmos91/ttableserver/pkg/adapter/lookup"
	"github.com/marmos91/ttableserver/pkg/ttable"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	Addr    string
	Timeout time.Duration
}

// NewQueryCommand creates the query command, a small client for the
// lookup protocol.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query [PROVENANCE SOURCE TARGET]...",
		Short: "Send one lookup batch to a running server",
		Long: `Send one batch of (provenance, source, target) keys to a running server and
print one probability per key. Keys are taken from the arguments in groups of
three, or from stdin one key per line when no arguments are given.

Missing entries are printed as "-".`,
		Example: `  ttableserver query --addr 127.0.0.1:4949 0 17 42 1 17 42
  printf '0 17 42\n0 18 3\n' | ttableserver query`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.Addr, "addr", "a", net.JoinHostPort("127.0.0.1", strconv.Itoa(lookup.DefaultS2TPort)), "server address")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "dial and round trip timeout")

	return cmd
}

func runQuery(cmd *cobra.Command, opts *QueryOptions, args []string) error {
	var (
		keys []protocol.Key
		err  error
	)
	if len(args) > 0 {
		keys, err = keysFromArgs(args)
	} else {
		keys, err = keysFromReader(cmd.InOrStdin())
	}
	if err != nil {
		return WrapExitError(ExitConfigError, "invalid keys", err)
	}

	conn, err := net.DialTimeout("tcp", opts.Addr, opts.Timeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", opts.Addr, err)
	}
	defer func() { _ = conn.Close() }()

	if opts.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(opts.Timeout))
	}

	values, err := protocol.NewClient(conn).Lookup(keys)
	if err != nil {
		return fmt.Errorf("lookup: %w", err)
	}

	out := bufio.NewWriter(cmd.OutOrStdout())
	for i, v := range values {
		k := keys[i]
		if v == ttable.Sentinel {
			_, _ = fmt.Fprintf(out, "%d\t%d\t%d\t-\n", k.Provenance, k.Source, k.Target)
			continue
		}
		_, _ = fmt.Fprintf(out, "%d\t%d\t%d\t%g\n", k.Provenance, k.Source, k.Target, v)
	}
	return out.Flush()
}

func keysFromArgs(args []string) ([]protocol.Key, error) {
	if len(args)%3 != 0 {
		return nil, fmt.Errorf("expected a multiple of 3 arguments, got %d", len(args))
	}
	keys := make([]protocol.Key, 0, len(args)/3)
	for i := 0; i < len(args); i += 3 {
		k, err := parseKey(args[i : i+3])
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func keysFromReader(r io.Reader) ([]protocol.Key, error) {
	var keys []protocol.Key
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected 3 fields, got %d", line, len(fields))
		}
		k, err := parseKey(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		keys = append(keys, k)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func parseKey(fields []string) (protocol.Key, error) {
	var vals [3]int32
	for i, f := range fields {
		n, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return protocol.Key{}, fmt.Errorf("invalid key field %q: %w", f, err)
		}
		vals[i] = int32(n)
	}
	return protocol.Key{Provenance: vals[0], Source: vals[1], Target: vals[2]}, nil
}
