package buffer

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/uri"
)

var target = uri.MustParse("mem:/a/b.txt")

func TestTempFileReadWriteSeek(t *testing.T) {
	var got []byte
	f := NewTempFile(target, []byte("hello"), func(ref uri.Reference, data []byte) error {
		got = append([]byte(nil), data...)
		return nil
	})

	pos, err := f.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(5), pos)

	_, err = f.WriteString(" world")
	require.NoError(t, err)

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	all, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(all))

	// overwrite in the middle
	_, err = f.Seek(-5, io.SeekEnd)
	require.NoError(t, err)
	_, err = f.Write([]byte("WORLD"))
	require.NoError(t, err)

	tell, err := f.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(11), tell)

	require.NoError(t, f.Close())
	assert.Equal(t, "hello WORLD", string(got))
}

func TestTempFileWriteBeyondEnd(t *testing.T) {
	f := NewTempFile(target, nil, func(uri.Reference, []byte) error { return nil })
	_, err := f.Seek(3, io.SeekStart)
	require.NoError(t, err)
	_, err = f.Write([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 'x'}, f.Bytes())
}

func TestTempFileCloseOnce(t *testing.T) {
	var calls int32
	f := NewTempFile(target, nil, func(uri.Reference, []byte) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err := f.Read(make([]byte, 1))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestTempFileWriteBackFailureKeepsBuffer(t *testing.T) {
	fail := true
	var saved []byte
	f := NewTempFile(target, nil, func(_ uri.Reference, data []byte) error {
		if fail {
			return fmt.Errorf("store offline")
		}
		saved = append([]byte(nil), data...)
		return nil
	})
	_, err := f.WriteString("payload")
	require.NoError(t, err)

	err = f.Close()
	require.Error(t, err)
	assert.Equal(t, "payload", string(f.Bytes()))

	fail = false
	require.NoError(t, f.Close())
	assert.Equal(t, "payload", string(saved))
}

func TestTempFileReadOnly(t *testing.T) {
	f := NewReader(target, []byte("abc"))

	_, err := f.Write([]byte("x"))
	assert.True(t, errors.Is(err, errors.ErrReadOnly))

	buf := make([]byte, 2)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(buf[:n]))

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}

func TestTempFileZeroBytes(t *testing.T) {
	var called bool
	f := NewTempFile(target, nil, func(_ uri.Reference, data []byte) error {
		called = true
		assert.Empty(t, data)
		return nil
	})
	assert.Equal(t, 0, f.Len())
	require.NoError(t, f.Close())
	assert.True(t, called)
}

func TestTempFileSeekErrors(t *testing.T) {
	f := NewReader(target, []byte("abc"))
	_, err := f.Seek(-1, io.SeekStart)
	assert.Error(t, err)
	_, err = f.Seek(0, 42)
	assert.Error(t, err)
}

func TestTempFileWrittenBackWhenCollected(t *testing.T) {
	var calls int32
	func() {
		f := NewTempFile(target, nil, func(uri.Reference, []byte) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
		_, _ = f.WriteString("dropped")
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return atomic.LoadInt32(&calls) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
