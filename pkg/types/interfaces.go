package types

import (
	"context"
	"io"
	"time"

	"github.com/peppy/vfs/pkg/uri"
)

// File is the handle returned by Open and MakeFile. Seek(0, io.SeekCurrent) reports the position.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

// Handler implements the file system operations of one or more schemes.
// Every method receives the complete reference, scheme included.
type Handler interface {
	// Queries
	Exists(ctx context.Context, ref uri.Reference) (bool, error)
	IsFile(ctx context.Context, ref uri.Reference) (bool, error)
	IsFolder(ctx context.Context, ref uri.Reference) (bool, error)
	CanRead(ctx context.Context, ref uri.Reference) (bool, error)
	CanWrite(ctx context.Context, ref uri.Reference) (bool, error)

	// Metadata
	GetSize(ctx context.Context, ref uri.Reference) (int64, error)
	GetMtime(ctx context.Context, ref uri.Reference) (time.Time, error)
	GetAtime(ctx context.Context, ref uri.Reference) (time.Time, error)
	GetCtime(ctx context.Context, ref uri.Reference) (time.Time, error)
	GetMimetype(ctx context.Context, ref uri.Reference) (string, error)

	// Mutation
	MakeFile(ctx context.Context, ref uri.Reference) (File, error)
	MakeFolder(ctx context.Context, ref uri.Reference) error
	Remove(ctx context.Context, ref uri.Reference) error
	Move(ctx context.Context, src, dst uri.Reference) error

	// Content
	Open(ctx context.Context, ref uri.Reference, mode Mode) (File, error)
	GetNames(ctx context.Context, ref uri.Reference) ([]string, error)
}

// Copier is implemented by handlers that can copy server side within their scheme.
// ok is false when the pair cannot be copied natively and the caller should stream.
type Copier interface {
	Copy(ctx context.Context, src, dst uri.Reference) (ok bool, err error)
}

// Locker is implemented by handlers that support advisory write locks.
type Locker interface {
	Lock(ctx context.Context, ref uri.Reference) (token string, err error)
	Unlock(ctx context.Context, ref uri.Reference, token string) error
}

// MetricsCollector receives operation and cache events.
type MetricsCollector interface {
	RecordOperation(scheme, operation string, duration time.Duration, err error)
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
	RecordAuthPrompt(scheme string)
}
