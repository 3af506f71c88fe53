// Package buffer provides the in-memory write-through file used by handlers
// whose stores cannot be written as a stream.
package buffer

import (
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/uri"
)

// WriteBackFunc persists the final content of a TempFile to its reference.
type WriteBackFunc func(ref uri.Reference, data []byte) error

// TempFile is a seekable byte buffer bound to a reference. Close hands the
// buffer to the write-back callback exactly once; a TempFile without a
// callback is read-only and Close does nothing.
type TempFile struct {
	mu        sync.Mutex
	ref       uri.Reference
	data      []byte
	pos       int64
	writeBack WriteBackFunc
	closed    bool
}

// NewTempFile returns a TempFile holding initial, positioned at offset zero.
// The slice is copied.
func NewTempFile(ref uri.Reference, initial []byte, writeBack WriteBackFunc) *TempFile {
	t := &TempFile{
		ref:       ref,
		data:      append([]byte(nil), initial...),
		writeBack: writeBack,
	}
	if writeBack != nil {
		runtime.SetFinalizer(t, (*TempFile).finalize)
	}
	return t
}

// NewReader returns a read-only TempFile over data. The slice is not copied.
func NewReader(ref uri.Reference, data []byte) *TempFile {
	return &TempFile{ref: ref, data: data}
}

// Reference returns the destination of the write-back.
func (t *TempFile) Reference() uri.Reference {
	return t.ref
}

func (t *TempFile) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, os.ErrClosed
	}
	if t.pos >= int64(len(t.data)) {
		return 0, io.EOF
	}
	n := copy(p, t.data[t.pos:])
	t.pos += int64(n)
	return n, nil
}

func (t *TempFile) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, os.ErrClosed
	}
	if t.writeBack == nil {
		return 0, errors.ReadOnly(t.ref, "write").WithComponent("tempfile")
	}
	end := t.pos + int64(len(p))
	if end > int64(len(t.data)) {
		if end > int64(cap(t.data)) {
			grown := make([]byte, end, 2*end)
			copy(grown, t.data)
			t.data = grown
		} else {
			t.data = t.data[:end]
		}
	}
	copy(t.data[t.pos:], p)
	t.pos = end
	return len(p), nil
}

// WriteString is Write for strings.
func (t *TempFile) WriteString(s string) (int, error) {
	return t.Write([]byte(s))
}

func (t *TempFile) Seek(offset int64, whence int) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, os.ErrClosed
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = t.pos + offset
	case io.SeekEnd:
		abs = int64(len(t.data)) + offset
	default:
		return 0, errors.NewError(errors.ErrCodeBackend, "invalid whence")
	}
	if abs < 0 {
		return 0, errors.NewError(errors.ErrCodeBackend, "negative position")
	}
	t.pos = abs
	return abs, nil
}

// Len returns the buffer size.
func (t *TempFile) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.data)
}

// Bytes returns a copy of the buffer.
func (t *TempFile) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.data...)
}

// Close runs the write-back. If it fails the error is returned and the
// buffer is kept, so a later Close resubmits it.
func (t *TempFile) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	if t.writeBack != nil {
		if err := t.writeBack(t.ref, t.data); err != nil {
			return err
		}
	}
	t.closed = true
	runtime.SetFinalizer(t, nil)
	return nil
}

func (t *TempFile) finalize() {
	if t.closed {
		return
	}
	log.Warn().Str("reference", t.ref.String()).Msg("temp file collected without Close, writing back")
	if err := t.Close(); err != nil {
		log.Error().Err(err).Str("reference", t.ref.String()).Msg("write-back of collected temp file failed")
	}
}
