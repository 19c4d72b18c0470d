package loader

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Opener opens the raw (still compressed) bytes of a table.
type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// FileOpener opens tables from the local filesystem. A "file://" prefix is
// accepted and stripped.
type FileOpener struct{}

func (FileOpener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(strings.TrimPrefix(location, "file://"))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// MultiOpener routes a location to an Opener by URL scheme. Locations
// without a scheme (plain paths) go to the fallback.
type MultiOpener struct {
	fallback Opener
	schemes  map[string]Opener
}

// NewMultiOpener creates a MultiOpener that sends plain paths and file://
// URLs to fallback.
func NewMultiOpener(fallback Opener) *MultiOpener {
	return &MultiOpener{
		fallback: fallback,
		schemes:  map[string]Opener{"file": fallback},
	}
}

// Register routes scheme (without "://") to o.
func (m *MultiOpener) Register(scheme string, o Opener) {
	m.schemes[strings.ToLower(scheme)] = o
}

func (m *MultiOpener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	scheme := Scheme(location)
	if scheme == "" {
		return m.fallback.Open(ctx, location)
	}
	o, ok := m.schemes[scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported table location scheme %q", scheme)
	}
	return o.Open(ctx, location)
}

// Scheme returns the lower-cased URL scheme of location, or "" for a plain
// path.
func Scheme(location string) string {
	i := strings.Index(location, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(location[:i])
}
