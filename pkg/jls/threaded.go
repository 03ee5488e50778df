package jls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"

	"github.com/jetperch/jls/internal/observability"
	"github.com/jetperch/jls/internal/waiting"
)

// msgKind enumerates the operations that cross the queue boundary.
type msgKind int

const (
	msgSourceDef msgKind = iota
	msgSignalDef
	msgFSR
	msgOmit
	msgUTC
	msgAnnotation
	msgUserData
	msgFlush
	msgClose
)

type message struct {
	kind msgKind

	sourceDef SourceDef
	signalDef SignalDef

	signalID    uint16
	sampleID    int64
	samples     []byte
	sampleCount int64
	omit        bool
	utc         int64
	annotation  Annotation
	userData    UserData

	// done receives the operation result for barrier messages (flush,
	// close).
	done chan error
}

// ThreadedWriter decouples the caller from file I/O with a bounded
// message ring drained by a worker goroutine that owns the core Writer.
//
// Exactly one caller goroutine may use a ThreadedWriter. Messages are
// applied in FIFO order: for writes W1 then W2 posted by the caller, W1
// is fully applied to disk before W2 begins.
type ThreadedWriter struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	ring  []message
	head  int
	count int

	closing bool // a close message was posted
	closed  bool // the worker has exited

	workerDone chan struct{}

	logger  *observability.CoreLogger
	metrics *writerMetrics
	lock    *flock.Flock

	flushTimeout waiting.Delay
	closeTimeout waiting.Delay
}

// OpenThreadedWriter creates a JLS file with a dedicated writer
// goroutine.
//
// A process-wide advisory lock on path + ".lock" is held for the file's
// lifetime, enforcing single-writer across processes. The lock applies
// only on the operating system filesystem.
func OpenThreadedWriter(path string, opts ...Option) (*ThreadedWriter, error) {
	o := applyOptions(opts)

	var lock *flock.Flock
	if _, ok := o.fs.(*afero.OsFs); ok {
		lock = flock.New(path + ".lock")
		ctx, cancel := context.WithTimeout(context.Background(), o.lockTimeout)
		locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("jls: error acquiring file lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
	}

	w, err := OpenWriter(path, opts...)
	if err != nil {
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, err
	}

	tw := &ThreadedWriter{
		ring:         make([]message, o.queueCapacity),
		workerDone:   make(chan struct{}),
		logger:       o.logger,
		metrics:      newWriterMetrics(o.registerer),
		lock:         lock,
		flushTimeout: waiting.NewDelay(o.flushTimeout),
		closeTimeout: waiting.NewDelay(o.closeTimeout),
	}
	tw.notFull = sync.NewCond(&tw.mu)
	tw.notEmpty = sync.NewCond(&tw.mu)

	go tw.worker(w)
	return tw, nil
}

// post enqueues a message, blocking while the ring is full.
func (tw *ThreadedWriter) post(m message) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	for tw.count == len(tw.ring) && !tw.closing {
		tw.notFull.Wait()
	}
	if tw.closing {
		return ErrClosed
	}

	tw.ring[(tw.head+tw.count)%len(tw.ring)] = m
	tw.count++
	tw.metrics.message()
	tw.metrics.depth(tw.count)
	tw.notEmpty.Signal()
	return nil
}

// worker drains the ring, applying each message to the core writer it
// owns. It exits after applying a close message; any messages posted
// before close are processed first.
func (tw *ThreadedWriter) worker(w *Writer) {
	defer close(tw.workerDone)

	for {
		tw.mu.Lock()
		for tw.count == 0 {
			tw.notEmpty.Wait()
		}
		m := tw.ring[tw.head]
		tw.ring[tw.head] = message{} // release the samples buffer
		tw.head = (tw.head + 1) % len(tw.ring)
		tw.count--
		tw.metrics.depth(tw.count)
		tw.notFull.Signal()
		tw.mu.Unlock()

		if tw.apply(w, &m) {
			return
		}
	}
}

// apply runs one message against the core writer. Returns true when the
// worker should exit.
func (tw *ThreadedWriter) apply(w *Writer, m *message) bool {
	var err error
	switch m.kind {
	case msgSourceDef:
		err = w.SourceDef(m.sourceDef)
	case msgSignalDef:
		err = w.SignalDef(m.signalDef)
	case msgFSR:
		err = w.WriteFSR(m.signalID, m.sampleID, m.samples, m.sampleCount)
		if err == nil {
			tw.metrics.addSamples(m.sampleCount)
		}
	case msgOmit:
		err = w.SetOmitData(m.signalID, m.omit)
	case msgUTC:
		err = w.UTC(m.signalID, m.sampleID, m.utc)
	case msgAnnotation:
		err = w.Annotation(m.signalID, m.annotation)
	case msgUserData:
		err = w.UserData(m.userData)
	case msgFlush:
		err = w.Flush()
		if err == nil {
			tw.metrics.flush()
		}
		m.done <- err
		return false
	case msgClose:
		err = w.Close()
		m.done <- err
		return true
	}

	if err != nil {
		// The core writer is fail-closed; surface the error once here
		// and again to the caller at the next barrier.
		tw.logger.CaptureError(
			fmt.Errorf("jls: async write failed: %w", err))
	}
	return false
}

// SourceDef posts a source definition.
func (tw *ThreadedWriter) SourceDef(def SourceDef) error {
	return tw.post(message{kind: msgSourceDef, sourceDef: def})
}

// SignalDef posts a signal definition.
func (tw *ThreadedWriter) SignalDef(def SignalDef) error {
	return tw.post(message{kind: msgSignalDef, signalDef: def})
}

// WriteFSR posts samples for a fixed sample-rate signal. The samples
// buffer is copied; the caller may reuse it immediately.
func (tw *ThreadedWriter) WriteFSR(
	signalID uint16,
	sampleID int64,
	samples []byte,
	sampleCount int64,
) error {
	return tw.post(message{
		kind:        msgFSR,
		signalID:    signalID,
		sampleID:    sampleID,
		samples:     append([]byte(nil), samples...),
		sampleCount: sampleCount,
	})
}

// SetOmitData posts an omit mode change.
func (tw *ThreadedWriter) SetOmitData(signalID uint16, omit bool) error {
	return tw.post(message{kind: msgOmit, signalID: signalID, omit: omit})
}

// UTC posts a (sample_id, utc) breakpoint.
func (tw *ThreadedWriter) UTC(signalID uint16, sampleID int64, utc int64) error {
	return tw.post(message{
		kind: msgUTC, signalID: signalID, sampleID: sampleID, utc: utc,
	})
}

// Annotation posts an annotation. The data buffer is copied.
func (tw *ThreadedWriter) Annotation(signalID uint16, a Annotation) error {
	a.Data = append([]byte(nil), a.Data...)
	return tw.post(message{kind: msgAnnotation, signalID: signalID, annotation: a})
}

// UserData posts a user data record. The data buffer is copied.
func (tw *ThreadedWriter) UserData(u UserData) error {
	u.Data = append([]byte(nil), u.Data...)
	return tw.post(message{kind: msgUserData, userData: u})
}

// Flush posts a barrier and blocks until the worker has applied every
// prior message and synced the file, or the flush timeout elapses.
func (tw *ThreadedWriter) Flush() error {
	done := make(chan error, 1)
	if err := tw.post(message{kind: msgFlush, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-tw.flushTimeout.Wait():
		return fmt.Errorf("%w: flush", ErrTimedOut)
	}
}

// Close drains the queue, finalizes the file, stops the worker, and
// releases the process lock. Messages posted before Close are processed;
// posting after Close fails.
func (tw *ThreadedWriter) Close() error {
	done := make(chan error, 1)

	tw.mu.Lock()
	if tw.closing {
		tw.mu.Unlock()
		return ErrClosed
	}
	tw.mu.Unlock()

	if err := tw.post(message{kind: msgClose, done: done}); err != nil {
		return err
	}

	tw.mu.Lock()
	tw.closing = true
	tw.notFull.Broadcast()
	tw.mu.Unlock()

	var err error
	select {
	case err = <-done:
		<-tw.workerDone
		tw.mu.Lock()
		tw.closed = true
		tw.mu.Unlock()
	case <-tw.closeTimeout.Wait():
		// The worker is wedged; the file keeps its last consistent
		// state and the repair path handles the next open.
		err = fmt.Errorf("%w: close", ErrTimedOut)
	}

	if tw.lock != nil {
		if unlockErr := tw.lock.Unlock(); unlockErr != nil && err == nil {
			err = fmt.Errorf("jls: error releasing file lock: %w", unlockErr)
		}
	}
	return err
}
