package jls

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/jetperch/jls/internal/observability"
)

// Defaults for the threaded writer's budgets.
const (
	DefaultQueueCapacity = 1024
	DefaultFlushTimeout  = 5 * time.Second
	DefaultCloseTimeout  = 30 * time.Second
	DefaultLockTimeout   = time.Second
)

type options struct {
	fs         afero.Fs
	logger     *observability.CoreLogger
	registerer prometheus.Registerer

	queueCapacity int
	flushTimeout  time.Duration
	closeTimeout  time.Duration
	lockTimeout   time.Duration
}

// Option configures a Writer, Reader, or ThreadedWriter.
type Option func(*options)

func applyOptions(opts []Option) options {
	o := options{
		fs:            afero.NewOsFs(),
		logger:        observability.NewNoOpLogger(),
		queueCapacity: DefaultQueueCapacity,
		flushTimeout:  DefaultFlushTimeout,
		closeTimeout:  DefaultCloseTimeout,
		lockTimeout:   DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithFileSystem selects the filesystem used for all file I/O. Defaults
// to the operating system filesystem. The process-wide file lock is only
// acquired on the operating system filesystem.
func WithFileSystem(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithLogger attaches a logger. Defaults to a no-op logger.
func WithLogger(logger *observability.CoreLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers the threaded writer's metrics with the given
// Prometheus registerer. Metrics are disabled by default.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithQueueCapacity sets the threaded writer's message ring capacity.
func WithQueueCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueCapacity = n
		}
	}
}

// WithFlushTimeout bounds how long a threaded Flush blocks on the worker.
func WithFlushTimeout(d time.Duration) Option {
	return func(o *options) { o.flushTimeout = d }
}

// WithCloseTimeout bounds how long a threaded Close blocks on the worker.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) { o.closeTimeout = d }
}
