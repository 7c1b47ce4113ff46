// File storage abstraction: one handle, one lock guard, one transform
// pipeline.
//
// All reads go through ReadAt so concurrent readers sharing the handle do
// not interfere with each other's offsets. Every read and write passes the
// transform pipeline — Encode stages in registration order on the way out,
// Decode stages in reverse order on the way in — so callers above this
// layer only ever see logical (unmasked) bytes.
package tabfile

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// fileOptions configures openStorage.
type fileOptions struct {
	noLock       bool
	lockTimeout  time.Duration // zero means DefaultLockTimeout
	transformers []Transformer
}

// File owns the underlying handle and its lock guard. The logical length
// is tracked in memory as max(length, offset+written) so appends land past
// any out-of-order WriteAt.
type File struct {
	handle   *os.File
	guard    *lockGuard // nil when locking is disabled
	path     string
	pipeline []Transformer

	mu     sync.Mutex
	length int64
	closed bool
}

// openStorage acquires the lock (unless disabled), opens or creates the
// file, and records its pre-open size. Any failure after lock acquisition
// releases the lock before propagating — no leaked sentinels.
func openStorage(path string, opts fileOptions) (*File, error) {
	timeout := opts.lockTimeout
	if timeout == 0 {
		timeout = DefaultLockTimeout
	}

	var guard *lockGuard
	if !opts.noLock {
		var err error
		guard, err = acquireLock(path, timeout)
		if err != nil {
			return nil, err
		}
	}

	handle, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		if guard != nil {
			guard.release()
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrUnknown, path, err)
	}

	info, err := handle.Stat()
	if err != nil {
		handle.Close()
		if guard != nil {
			guard.release()
		}
		return nil, fmt.Errorf("%w: stat %s: %w", ErrUnknown, path, err)
	}

	return &File{
		handle:   handle,
		guard:    guard,
		path:     path,
		pipeline: opts.transformers,
		length:   info.Size(),
	}, nil
}

// Size returns the logical byte length of the file.
func (f *File) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.length
}

// ReadAt reads exactly n logical bytes at off, undoing the transform
// pipeline in reverse registration order.
func (f *File) ReadAt(n int, off int64) ([]byte, error) {
	if f.isClosed() {
		return nil, ErrClosed
	}
	buf := make([]byte, n)
	if _, err := f.handle.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("%w: read %d bytes at %d: %w", ErrUnknown, n, off, err)
	}
	var err error
	for i := len(f.pipeline) - 1; i >= 0; i-- {
		if buf, err = f.pipeline[i].Decode(buf, off); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// WriteAt writes p at off through the pipeline's Encode stages in
// registration order, then extends the logical length if the write ran
// past it.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if f.isClosed() {
		return 0, ErrClosed
	}
	var err error
	for _, t := range f.pipeline {
		if p, err = t.Encode(p, off); err != nil {
			return 0, err
		}
	}
	n, err := f.handle.WriteAt(p, off)
	if err != nil {
		return n, fmt.Errorf("%w: write %d bytes at %d: %w", ErrUnknown, len(p), off, err)
	}

	f.mu.Lock()
	if end := off + int64(n); end > f.length {
		f.length = end
	}
	f.mu.Unlock()
	return n, nil
}

// Append writes p at the current logical end of file and returns the
// offset it landed at.
func (f *File) Append(p []byte) (int64, int, error) {
	off := f.Size()
	n, err := f.WriteAt(p, off)
	return off, n, err
}

// Truncate shrinks (or extends) the file to n logical bytes.
func (f *File) Truncate(n int64) error {
	if f.isClosed() {
		return ErrClosed
	}
	if err := f.handle.Truncate(n); err != nil {
		return fmt.Errorf("%w: truncate to %d: %w", ErrUnknown, n, err)
	}
	f.mu.Lock()
	f.length = n
	f.mu.Unlock()
	return nil
}

// Sync flushes written bytes to stable storage.
func (f *File) Sync() error {
	if f.isClosed() {
		return ErrClosed
	}
	if err := f.handle.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %w", ErrUnknown, err)
	}
	return nil
}

// Close closes the handle and removes the lock file. Idempotent.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	err := f.handle.Close()
	if f.guard != nil {
		if rerr := f.guard.release(); err == nil {
			err = rerr
		}
	}
	if err != nil {
		return fmt.Errorf("%w: close: %w", ErrUnknown, err)
	}
	return nil
}

func (f *File) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
