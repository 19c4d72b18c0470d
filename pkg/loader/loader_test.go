package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/ttableserver/pkg/metrics"
	"github.com/marmos91/ttableserver/pkg/ttable"
)

// compress encodes content with the codec matching name's extension.
func compress(t *testing.T, name, content string) []byte {
	t.Helper()

	var buf bytes.Buffer
	var w io.WriteCloser
	switch CompressionFor(name) {
	case CompressionZstd:
		zw, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		w = zw
	case CompressionLZ4:
		w = lz4.NewWriter(&buf)
	default:
		w = gzip.NewWriter(&buf)
	}
	_, err := io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func writeTable(t *testing.T, dir, name, content string) string {
	t.Helper()

	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, compress(t, name, content), 0o644))
	return p
}

const sampleTable = "5 7 0.25\n" +
	"5 8 0.5\n" +
	"NULL 9 0.125\n" +
	"not a line\n" +
	"\n" +
	`3\4\0.001` + "\n" +
	"5 7 0.75\n" +
	"6 6 1.0"

func TestLoad(t *testing.T) {
	for _, name := range []string{"t.gz", "t.zst", "t.lz4"} {
		t.Run(name, func(t *testing.T) {
			p := writeTable(t, t.TempDir(), name, sampleTable)

			l := New(Config{}, nil, nil)
			table, stats, err := l.Load(context.Background(), Task{Provenance: 0, Genre: AllGenre, Path: p})
			require.NoError(t, err)

			// last write wins for the duplicate 5->7
			prob, ok := table.Lookup(5, 7)
			require.True(t, ok)
			assert.Equal(t, 0.75, prob)

			prob, ok = table.Lookup(0, 9)
			require.True(t, ok)
			assert.Equal(t, 0.125, prob)

			prob, ok = table.Lookup(6, 6)
			require.True(t, ok, "final line without newline must be read")
			assert.Equal(t, 1.0, prob)

			_, ok = table.Lookup(3, 4)
			assert.True(t, ok)

			assert.Equal(t, 5, table.Len())
			assert.EqualValues(t, 8, stats.Lines)
			assert.EqualValues(t, 5, stats.Entries)
			assert.EqualValues(t, 1, stats.Malformed)
			assert.EqualValues(t, 0, stats.Filtered)
		})
	}
}

func TestLoadMinProbability(t *testing.T) {
	p := writeTable(t, t.TempDir(), "t.gz", "1 1 0.05\n1 2 0.1\n1 3 0.2\n")

	l := New(Config{MinProbability: 0.1}, nil, nil)
	table, stats, err := l.Load(context.Background(), Task{Genre: AllGenre, Path: p})
	require.NoError(t, err)

	_, ok := table.Lookup(1, 1)
	assert.False(t, ok, "below threshold is dropped")
	_, ok = table.Lookup(1, 2)
	assert.True(t, ok, "equal to threshold is kept")
	_, ok = table.Lookup(1, 3)
	assert.True(t, ok)
	assert.EqualValues(t, 1, stats.Filtered)
}

func TestLoadErrors(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		l := New(Config{}, nil, nil)
		_, _, err := l.Load(context.Background(), Task{Provenance: 2, Genre: "nw", Path: "/does/not/exist.gz"})
		require.Error(t, err)

		var le *LoadError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, ttable.Provenance(2), le.Provenance)
		assert.Equal(t, "nw", le.Genre)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("NotGzip", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "plain.gz")
		require.NoError(t, os.WriteFile(p, []byte("1 2 0.5\n"), 0o644))

		_, _, err := New(Config{}, nil, nil).Load(context.Background(), Task{Genre: AllGenre, Path: p})
		var le *LoadError
		assert.ErrorAs(t, err, &le)
	})

	t.Run("TruncatedStream", func(t *testing.T) {
		var sb strings.Builder
		for i := 0; i < 5000; i++ {
			fmt.Fprintf(&sb, "%d %d 0.%d\n", i, i+1, i%9+1)
		}
		data := compress(t, "t.gz", sb.String())
		p := filepath.Join(t.TempDir(), "t.gz")
		require.NoError(t, os.WriteFile(p, data[:len(data)/2], 0o644))

		_, _, err := New(Config{}, nil, nil).Load(context.Background(), Task{Genre: AllGenre, Path: p})
		var le *LoadError
		assert.ErrorAs(t, err, &le)
	})
}

func TestLoadRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewLoaderMetricsWith(reg)
	p := writeTable(t, t.TempDir(), "t.gz", sampleTable)

	_, _, err := New(Config{}, nil, m).Load(context.Background(), Task{Genre: AllGenre, Path: p})
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "ttable_table_loads_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := ParseS3URL("s3://lex/tables/ALL/en2zh.gz")
	require.NoError(t, err)
	assert.Equal(t, "lex", bucket)
	assert.Equal(t, "tables/ALL/en2zh.gz", key)

	for _, bad := range []string{"/local/path.gz", "s3://bucket", "s3:///key", "http://x/y"} {
		_, _, err := ParseS3URL(bad)
		assert.Error(t, err, bad)
	}
}

func TestMultiOpener(t *testing.T) {
	dir := t.TempDir()
	local := writeTable(t, dir, "ALL/en2zh.gz", "1 1 0.5\n")

	fake := &fakeS3{objects: map[string][]byte{
		"lex/nw/en2zh.zst": compress(t, "x.zst", "2 2 0.25\n"),
	}}

	opener := NewMultiOpener(FileOpener{})
	opener.Register("s3", NewS3Opener(fake))
	l := New(Config{}, opener, nil)

	table, _, err := l.Load(context.Background(), Task{Genre: AllGenre, Path: local})
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())

	table, _, err = l.Load(context.Background(), Task{Provenance: 1, Genre: "nw", Path: "s3://lex/nw/en2zh.zst"})
	require.NoError(t, err)
	prob, ok := table.Lookup(2, 2)
	require.True(t, ok)
	assert.Equal(t, 0.25, prob)

	_, _, err = l.Load(context.Background(), Task{Genre: "x", Path: "s3://lex/missing.gz"})
	assert.Error(t, err)

	_, _, err = l.Load(context.Background(), Task{Genre: "x", Path: "gs://lex/x.gz"})
	assert.ErrorContains(t, err, "unsupported")
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, "ALL/en2zh.gz", "1 1 0.5\n1 2 0.25\n")
	writeTable(t, dir, "cc/en2zh.gz", "1 1 0.9\n")
	writeTable(t, dir, "nw/en2zh.gz", "7 7 0.1\n")

	genres, err := ParseProvenances("cc,nw")
	require.NoError(t, err)
	tasks := BuildTasks(filepath.Join(dir, "$GENRE", "$DIRECTION.gz"), "en2zh", genres)

	model, err := New(Config{Concurrency: 2}, nil, nil).LoadAll(context.Background(), tasks)
	require.NoError(t, err)

	assert.Equal(t, 0.5, model.Probability(ttable.ProvenanceAll, 1, 1))
	assert.Equal(t, 0.9, model.Probability(1, 1, 1))
	assert.Equal(t, 0.1, model.Probability(2, 7, 7))
	assert.Equal(t, ttable.Sentinel, model.Probability(2, 1, 1))
	assert.Equal(t, ttable.Sentinel, model.Probability(3, 1, 1))
	assert.Equal(t, 4, model.Entries())
}

func TestLoadAllIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, "ALL/en2zh.gz", "5 7 0.25\n5 NULL 0.10\n1 1 0.5\n")
	writeTable(t, dir, "cc/en2zh.gz", "5 7 0.9\n2 NULL 0.3\n")

	tasks := BuildTasks(filepath.Join(dir, "$GENRE", "$DIRECTION.gz"), "en2zh", []string{"cc"})
	l := New(Config{MinProbability: 0.20}, nil, nil)

	first, err := l.LoadAll(context.Background(), tasks)
	require.NoError(t, err)
	second, err := l.LoadAll(context.Background(), tasks)
	require.NoError(t, err)

	assert.Equal(t, first.Stats(), second.Stats())

	keys := []struct {
		prov           ttable.Provenance
		source, target int32
	}{
		{ttable.ProvenanceAll, 5, 7},
		{ttable.ProvenanceAll, 5, 0},
		{ttable.ProvenanceAll, 1, 1},
		{1, 5, 7},
		{1, 2, 0},
		{1, 1, 1},
		{2, 5, 7},
	}
	for _, k := range keys {
		assert.Equal(t, first.Probability(k.prov, k.source, k.target), second.Probability(k.prov, k.source, k.target),
			"(%d, %d, %d)", k.prov, k.source, k.target)
	}

	// 5 NULL 0.10 falls below the threshold and is dropped.
	assert.Equal(t, 0.25, second.Probability(ttable.ProvenanceAll, 5, 7))
	assert.Equal(t, ttable.Sentinel, second.Probability(ttable.ProvenanceAll, 5, 0))
	assert.Equal(t, 0.3, second.Probability(1, 2, 0))
}

func TestLoadAllFailsOnMissingTable(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, "ALL/en2zh.gz", "1 1 0.5\n")

	tasks := BuildTasks(filepath.Join(dir, "$GENRE", "$DIRECTION.gz"), "en2zh", []string{"cc"})
	_, err := New(Config{}, nil, nil).LoadAll(context.Background(), tasks)
	require.Error(t, err)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "cc", le.Genre)
}

func TestLoadAllNoTasks(t *testing.T) {
	_, err := New(Config{}, nil, nil).LoadAll(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoTasks)
}

func TestLoadAllCancelled(t *testing.T) {
	p := writeTable(t, t.TempDir(), "t.gz", "1 1 0.5\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Config{}, nil, nil).LoadAll(ctx, []Task{{Genre: AllGenre, Path: p}})
	assert.ErrorIs(t, err, context.Canceled)
}

// blockingOpener serves files normally, except for locations containing
// "slow", which block until the context is done.
type blockingOpener struct{}

func (blockingOpener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if strings.Contains(location, "slow") {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return FileOpener{}.Open(ctx, location)
}

func TestLoadAllTimeout(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, "ALL/en2zh.gz", "1 1 0.5\n")
	tasks := BuildTasks(filepath.Join(dir, "$GENRE", "$DIRECTION.gz"), "en2zh", []string{"slow"})

	t.Run("Fail", func(t *testing.T) {
		l := New(Config{Timeout: 200 * time.Millisecond}, blockingOpener{}, nil)
		_, err := l.LoadAll(context.Background(), tasks)
		assert.ErrorIs(t, err, ErrLoadTimeout)
	})

	t.Run("Partial", func(t *testing.T) {
		l := New(Config{Timeout: 200 * time.Millisecond, OnTimeout: TimeoutPartial}, blockingOpener{}, nil)
		model, err := l.LoadAll(context.Background(), tasks)
		require.NoError(t, err)

		assert.True(t, model.Has(ttable.ProvenanceAll))
		assert.False(t, model.Has(1))
		assert.Equal(t, 0.5, model.Probability(ttable.ProvenanceAll, 1, 1))
		assert.Equal(t, ttable.Sentinel, model.Probability(1, 1, 1))
	})
}

func TestConfigDefaults(t *testing.T) {
	cfg := New(Config{}, nil, nil).Config()
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, TimeoutFail, cfg.OnTimeout)
}
