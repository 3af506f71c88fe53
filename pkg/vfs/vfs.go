package vfs

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/peppy/vfs/internal/auth"
	"github.com/peppy/vfs/internal/storage/local"
	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/types"
	"github.com/peppy/vfs/pkg/uri"
)

// FileScheme is always registered and serves references without a scheme.
const FileScheme = "file"

// VFS dispatches operations to the handler registered for a reference's
// scheme. It is safe for concurrent use.
type VFS struct {
	mu       sync.RWMutex
	handlers map[string]types.Handler

	broker  *auth.Broker
	metrics types.MetricsCollector
	logger  zerolog.Logger
}

// New creates a dispatcher with only the file scheme registered. broker may
// be nil, in which case every authentication prompt is cancelled.
func New(broker *auth.Broker, logger zerolog.Logger) *VFS {
	if broker == nil {
		broker = auth.NewBroker(nil, 0)
	}
	v := &VFS{
		handlers: make(map[string]types.Handler),
		broker:   broker,
		logger:   logger.With().Str("component", "vfs").Logger(),
	}
	v.handlers[FileScheme] = local.New(logger)
	return v
}

// Broker returns the authentication broker shared by the network handlers.
func (v *VFS) Broker() *auth.Broker {
	return v.broker
}

// SetMetrics records every dispatched operation in m and forwards m to the
// broker and to registered handlers that keep caches.
func (v *VFS) SetMetrics(m types.MetricsCollector) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.metrics = m
	v.broker.SetMetrics(m)
	for _, h := range v.handlers {
		setMetrics(h, m)
	}
}

type metricsSetter interface {
	SetMetrics(types.MetricsCollector)
}

func setMetrics(h types.Handler, m types.MetricsCollector) {
	if s, ok := h.(metricsSetter); ok && m != nil {
		s.SetMetrics(m)
	}
}

func normalizeScheme(scheme string) string {
	scheme = strings.ToLower(scheme)
	if scheme == "" {
		return FileScheme
	}
	return scheme
}

// Register installs h for scheme, replacing any previous handler.
func (v *VFS) Register(scheme string, h types.Handler) {
	scheme = normalizeScheme(scheme)
	v.mu.Lock()
	defer v.mu.Unlock()
	v.handlers[scheme] = h
	setMetrics(h, v.metrics)
	v.logger.Debug().Str("scheme", scheme).Msg("registered handler")
}

// Deregister removes the handler for scheme. The file scheme cannot be removed.
func (v *VFS) Deregister(scheme string) error {
	scheme = normalizeScheme(scheme)
	if scheme == FileScheme {
		return errors.NewError(errors.ErrCodeReadOnly, "the file scheme cannot be deregistered").
			WithComponent("vfs").WithOperation("deregister")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.handlers[scheme]; !ok {
		return errors.UnknownScheme(scheme).WithComponent("vfs").WithOperation("deregister")
	}
	delete(v.handlers, scheme)
	return nil
}

// Handler returns the handler for scheme; "" means file.
func (v *VFS) Handler(scheme string) (types.Handler, error) {
	scheme = normalizeScheme(scheme)
	v.mu.RLock()
	defer v.mu.RUnlock()
	h, ok := v.handlers[scheme]
	if !ok {
		return nil, errors.UnknownScheme(scheme).WithComponent("vfs")
	}
	return h, nil
}

// Schemes lists the registered schemes.
func (v *VFS) Schemes() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.handlers))
	for s := range v.handlers {
		out = append(out, s)
	}
	return out
}

// Close releases handlers holding connections. Handlers stay registered.
func (v *VFS) Close() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	seen := make(map[types.Handler]bool)
	var first error
	for _, h := range v.handlers {
		if seen[h] {
			continue
		}
		seen[h] = true
		if c, ok := h.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func (v *VFS) record(scheme, op string, start time.Time, err error) {
	v.mu.RLock()
	m := v.metrics
	v.mu.RUnlock()
	if m != nil {
		m.RecordOperation(scheme, op, time.Since(start), err)
	}
}

// dispatch resolves the handler for ref and runs fn against it, recording
// the outcome.
func dispatch[T any](ctx context.Context, v *VFS, op string, ref uri.Reference, fn func(types.Handler) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	scheme := normalizeScheme(ref.Scheme)
	h, err := v.Handler(scheme)
	if err != nil {
		return zero, err
	}
	start := time.Now()
	out, err := fn(h)
	v.record(scheme, op, start, err)
	if err != nil {
		v.logger.Debug().Err(err).Str("operation", op).Str("reference", ref.String()).Msg("operation failed")
	}
	return out, err
}

func (v *VFS) Exists(ctx context.Context, ref uri.Reference) (bool, error) {
	return dispatch(ctx, v, "exists", ref, func(h types.Handler) (bool, error) {
		return h.Exists(ctx, ref)
	})
}

func (v *VFS) IsFile(ctx context.Context, ref uri.Reference) (bool, error) {
	return dispatch(ctx, v, "is_file", ref, func(h types.Handler) (bool, error) {
		return h.IsFile(ctx, ref)
	})
}

func (v *VFS) IsFolder(ctx context.Context, ref uri.Reference) (bool, error) {
	return dispatch(ctx, v, "is_folder", ref, func(h types.Handler) (bool, error) {
		return h.IsFolder(ctx, ref)
	})
}

func (v *VFS) CanRead(ctx context.Context, ref uri.Reference) (bool, error) {
	return dispatch(ctx, v, "can_read", ref, func(h types.Handler) (bool, error) {
		return h.CanRead(ctx, ref)
	})
}

func (v *VFS) CanWrite(ctx context.Context, ref uri.Reference) (bool, error) {
	return dispatch(ctx, v, "can_write", ref, func(h types.Handler) (bool, error) {
		return h.CanWrite(ctx, ref)
	})
}

func (v *VFS) GetSize(ctx context.Context, ref uri.Reference) (int64, error) {
	return dispatch(ctx, v, "get_size", ref, func(h types.Handler) (int64, error) {
		return h.GetSize(ctx, ref)
	})
}

func (v *VFS) GetMtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	return dispatch(ctx, v, "get_mtime", ref, func(h types.Handler) (time.Time, error) {
		return h.GetMtime(ctx, ref)
	})
}

func (v *VFS) GetAtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	return dispatch(ctx, v, "get_atime", ref, func(h types.Handler) (time.Time, error) {
		return h.GetAtime(ctx, ref)
	})
}

func (v *VFS) GetCtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	return dispatch(ctx, v, "get_ctime", ref, func(h types.Handler) (time.Time, error) {
		return h.GetCtime(ctx, ref)
	})
}

func (v *VFS) GetMimetype(ctx context.Context, ref uri.Reference) (string, error) {
	return dispatch(ctx, v, "get_mimetype", ref, func(h types.Handler) (string, error) {
		return h.GetMimetype(ctx, ref)
	})
}

// MakeFile creates an empty file and returns it open for writing. The
// caller must Close it.
func (v *VFS) MakeFile(ctx context.Context, ref uri.Reference) (types.File, error) {
	return dispatch(ctx, v, "make_file", ref, func(h types.Handler) (types.File, error) {
		return h.MakeFile(ctx, ref)
	})
}

func (v *VFS) MakeFolder(ctx context.Context, ref uri.Reference) error {
	_, err := dispatch(ctx, v, "make_folder", ref, func(h types.Handler) (struct{}, error) {
		return struct{}{}, h.MakeFolder(ctx, ref)
	})
	return err
}

// Remove deletes a file, or a folder with everything below it.
func (v *VFS) Remove(ctx context.Context, ref uri.Reference) error {
	_, err := dispatch(ctx, v, "remove", ref, func(h types.Handler) (struct{}, error) {
		return struct{}{}, h.Remove(ctx, ref)
	})
	return err
}

// Open returns a handle positioned according to mode. The caller must Close it.
func (v *VFS) Open(ctx context.Context, ref uri.Reference, mode types.Mode) (types.File, error) {
	return dispatch(ctx, v, "open", ref, func(h types.Handler) (types.File, error) {
		return h.Open(ctx, ref, mode)
	})
}

func (v *VFS) GetNames(ctx context.Context, ref uri.Reference) ([]string, error) {
	return dispatch(ctx, v, "get_names", ref, func(h types.Handler) ([]string, error) {
		return h.GetNames(ctx, ref)
	})
}
