package jls_test

import (
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetperch/jls/internal/observabilitytest"
	"github.com/jetperch/jls/pkg/jls"
)

func newThreadedWriter(t *testing.T, fs afero.Fs, opts ...jls.Option) *jls.ThreadedWriter {
	t.Helper()

	opts = append([]jls.Option{
		jls.WithFileSystem(fs),
		jls.WithLogger(observabilitytest.NewTestLogger(t)),
	}, opts...)
	w, err := jls.OpenThreadedWriter("test.jls", opts...)
	require.NoError(t, err)
	require.NoError(t, w.SourceDef(jls.SourceDef{SourceID: 1, Name: "dev"}))
	require.NoError(t, w.SignalDef(testSignal()))
	return w
}

func Test_Threaded_WriteFlushClose_ReadBack(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := newThreadedWriter(t, fs,
		jls.WithRegisterer(prometheus.NewRegistry()))

	// 100 posts of 93 samples each, a flush barrier every 10 posts.
	xs := triangle(9300, 1000)
	for i := 0; i < 100; i++ {
		require.NoError(t, w.WriteFSR(testSignalID, int64(i*93),
			f32le(xs[i*93:(i+1)*93]), 93))
		if (i+1)%10 == 0 {
			require.NoError(t, w.Flush())
		}
	}
	require.NoError(t, w.Close())

	r := newTestReader(t, fs)
	defer r.Close()

	total, err := r.TotalSamples(testSignalID)
	require.NoError(t, err)
	assert.EqualValues(t, len(xs), total)

	raw, err := r.ReadFSR(testSignalID, 0, int64(len(xs)))
	require.NoError(t, err)
	assert.Equal(t, f32le(xs), raw)
}

func Test_Threaded_MessageOrdering(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := newThreadedWriter(t, fs, jls.WithQueueCapacity(4))

	// A tiny ring forces the producer through the backpressure path.
	xs := triangle(2000, 100)
	for i := 0; i < 20; i++ {
		require.NoError(t, w.WriteFSR(testSignalID, int64(i*100),
			f32le(xs[i*100:(i+1)*100]), 100))
	}
	require.NoError(t, w.Close())

	r := newTestReader(t, fs)
	defer r.Close()

	raw, err := r.ReadFSR(testSignalID, 0, 2000)
	require.NoError(t, err)
	assert.Equal(t, f32le(xs), raw)
}

func Test_Threaded_PostAfterClose(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := newThreadedWriter(t, fs)

	require.NoError(t, w.Close())

	err := w.WriteFSR(testSignalID, 0, f32le(triangle(100, 10)), 100)
	assert.ErrorIs(t, err, jls.ErrClosed)

	assert.ErrorIs(t, w.Close(), jls.ErrClosed)
}

func Test_Threaded_ProcessLock(t *testing.T) {
	// The advisory lock needs the real filesystem.
	dir := t.TempDir()
	path := filepath.Join(dir, "locked.jls")

	w, err := jls.OpenThreadedWriter(path,
		jls.WithLogger(observabilitytest.NewTestLogger(t)))
	require.NoError(t, err)

	_, err = jls.OpenThreadedWriter(path,
		jls.WithLogger(observabilitytest.NewTestLogger(t)))
	assert.ErrorIs(t, err, jls.ErrLocked)

	require.NoError(t, w.Close())
}
