// Package archive serves read-only views into tar and zip archives on the
// local disk. A reference such as tar:/srv/a.tar.gz/docs/readme names the
// member docs/readme of the archive /srv/a.tar.gz; the archive format is
// detected from the file header.
package archive

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/peppy/vfs/internal/buffer"
	"github.com/peppy/vfs/internal/cache"
	"github.com/peppy/vfs/internal/storage"
	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/types"
	"github.com/peppy/vfs/pkg/uri"
)

const component = "tar"

// Config controls the archive index cache.
type Config struct {
	MaxEntries int
}

// Handler implements types.Handler for archive members.
type Handler struct {
	storage.ReadOnly

	indexes *cache.Cache[*index]
	group   singleflight.Group
	logger  zerolog.Logger
}

// New creates an archive handler.
func New(cfg Config, logger zerolog.Logger) *Handler {
	return &Handler{
		ReadOnly: storage.ReadOnly{Component: component},
		indexes: cache.NewLRU[*index](cache.CacheConfig{
			Name:       "archive_index",
			MaxEntries: cfg.MaxEntries,
		}, nil),
		logger: logger.With().Str("component", component).Logger(),
	}
}

// SetMetrics reports index cache hits and misses to m.
func (h *Handler) SetMetrics(m types.MetricsCollector) {
	h.indexes.SetRecorder(m)
}

// split walks the path from the left until a prefix names a regular file on
// the local disk. That file is the archive and the rest is the member path.
func split(ref uri.Reference) (archivePath, inner string, ok bool) {
	segs := ref.Path.Segments()
	prefix := ref.Path.Drive()
	if ref.Path.IsAbsolute() {
		prefix += "/"
	}
	for i, seg := range segs {
		prefix = path.Join(prefix, seg)
		fi, err := os.Stat(filepath.FromSlash(prefix))
		if err != nil {
			return "", "", false
		}
		if fi.Mode().IsRegular() {
			return filepath.FromSlash(prefix), strings.Join(segs[i+1:], "/"), true
		}
	}
	return "", "", false
}

// resolve returns the index of the archive holding ref and the member path.
// A missing archive is NOT_FOUND.
func (h *Handler) resolve(ref uri.Reference) (*index, string, error) {
	p, inner, ok := split(ref)
	if !ok {
		return nil, "", errors.NotFound(ref).WithComponent(component)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, "", errors.NotFound(ref).WithComponent(component).WithCause(err)
	}

	if x, ok := h.indexes.Get(abs); ok && x.fresh(fi) {
		return x, cleanName(inner), nil
	}

	v, err, _ := h.group.Do(abs, func() (any, error) {
		x, err := buildIndex(abs, fi)
		if err != nil {
			return nil, err
		}
		h.indexes.Put(abs, x)
		h.logger.Debug().Str("archive", abs).Int("members", len(x.members)).Msg("indexed archive")
		return x, nil
	})
	if err != nil {
		return nil, "", errors.NewError(errors.ErrCodeBackend, "cannot read archive").
			WithReference(ref).WithComponent(component).WithOperation("index").WithCause(err)
	}
	return v.(*index), cleanName(inner), nil
}

// find is resolve plus member lookup; a missing member is NOT_FOUND.
func (h *Handler) find(ref uri.Reference) (*member, error) {
	x, inner, err := h.resolve(ref)
	if err != nil {
		return nil, err
	}
	m := x.lookup(inner)
	if m == nil {
		return nil, errors.NotFound(ref).WithComponent(component)
	}
	return m, nil
}

// maybeStat is find for predicates: a missing member is nil without error.
func (h *Handler) maybeStat(ref uri.Reference) (*member, error) {
	m, err := h.find(ref)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

func (h *Handler) Exists(ctx context.Context, ref uri.Reference) (bool, error) {
	m, err := h.maybeStat(ref)
	return m != nil, err
}

func (h *Handler) IsFile(ctx context.Context, ref uri.Reference) (bool, error) {
	m, err := h.maybeStat(ref)
	return m != nil && !m.dir, err
}

func (h *Handler) IsFolder(ctx context.Context, ref uri.Reference) (bool, error) {
	m, err := h.maybeStat(ref)
	return m != nil && m.dir, err
}

func (h *Handler) CanRead(ctx context.Context, ref uri.Reference) (bool, error) {
	return h.Exists(ctx, ref)
}

func (h *Handler) GetSize(ctx context.Context, ref uri.Reference) (int64, error) {
	m, err := h.find(ref)
	if err != nil {
		return 0, err
	}
	return m.size, nil
}

func (h *Handler) GetMtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	m, err := h.find(ref)
	if err != nil {
		return time.Time{}, err
	}
	return m.mtime, nil
}

// GetAtime returns the member mtime; archives keep no access time.
func (h *Handler) GetAtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	return h.GetMtime(ctx, ref)
}

func (h *Handler) GetCtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	return h.GetMtime(ctx, ref)
}

func (h *Handler) GetMimetype(ctx context.Context, ref uri.Reference) (string, error) {
	m, err := h.find(ref)
	if err != nil {
		return "", err
	}
	return storage.MimeType(ref.Path.Name(), m.dir), nil
}

// Open extracts the member into memory. Only ModeRead is accepted.
func (h *Handler) Open(ctx context.Context, ref uri.Reference, mode types.Mode) (types.File, error) {
	if err := h.CheckReadMode(ref, mode); err != nil {
		return nil, err
	}
	p, _, _ := split(ref)
	x, inner, err := h.resolve(ref)
	if err != nil {
		return nil, err
	}
	m := x.lookup(inner)
	switch {
	case m == nil:
		return nil, errors.NotFound(ref).WithComponent(component).WithOperation("open")
	case m.dir:
		return nil, errors.IsDirectory(ref).WithComponent(component).WithOperation("open")
	}

	data, err := extract(p, m.name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.NotFound(ref).WithComponent(component).WithOperation("open")
		}
		return nil, errors.NewError(errors.ErrCodeBackend, "cannot extract member").
			WithReference(ref).WithComponent(component).WithOperation("open").WithCause(err)
	}
	return buffer.NewReader(ref, data), nil
}

// GetNames lists the members one level below a folder, each name once.
func (h *Handler) GetNames(ctx context.Context, ref uri.Reference) ([]string, error) {
	x, inner, err := h.resolve(ref)
	if err != nil {
		return nil, err
	}
	m := x.lookup(inner)
	if m == nil {
		return nil, errors.NotFound(ref).WithComponent(component).WithOperation("get_names")
	}
	if !m.dir {
		return nil, errors.NotDirectory(ref).WithComponent(component).WithOperation("get_names")
	}
	return append([]string{}, x.children[inner]...), nil
}
