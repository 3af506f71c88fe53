// Package local serves the file scheme from the host filesystem.
package local

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/peppy/vfs/internal/storage"
	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/types"
	"github.com/peppy/vfs/pkg/uri"
)

const component = "file"

// Handler implements types.Handler over os calls.
type Handler struct {
	logger zerolog.Logger
}

// New creates a local file handler.
func New(logger zerolog.Logger) *Handler {
	return &Handler{logger: logger.With().Str("component", component).Logger()}
}

// Path converts a reference to a host path.
func Path(ref uri.Reference) string {
	p := ref.Path.String()
	if p == "" {
		return "."
	}
	return filepath.FromSlash(p)
}

// wrap maps an os error to the VFS taxonomy.
func wrap(ref uri.Reference, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *errors.VFSError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		e = errors.NotFound(ref)
	case errors.Is(err, fs.ErrExist):
		e = errors.Exists(ref)
	case errors.Is(err, syscall.ENOTDIR):
		e = errors.NotDirectory(ref)
	case errors.Is(err, syscall.EISDIR):
		e = errors.IsDirectory(ref)
	default:
		e = errors.NewError(errors.ErrCodeBackend, err.Error()).WithReference(ref)
	}
	return e.WithComponent(component).WithOperation(op).WithCause(err)
}

func (h *Handler) stat(ref uri.Reference, op string) (fs.FileInfo, error) {
	fi, err := os.Stat(Path(ref))
	if err != nil {
		return nil, wrap(ref, op, err)
	}
	return fi, nil
}

// query runs a stat based predicate, treating a missing target as false.
func (h *Handler) query(ref uri.Reference, op string, pred func(fs.FileInfo) bool) (bool, error) {
	fi, err := os.Stat(Path(ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return false, nil
		}
		return false, wrap(ref, op, err)
	}
	return pred(fi), nil
}

func (h *Handler) Exists(ctx context.Context, ref uri.Reference) (bool, error) {
	return h.query(ref, "exists", func(fs.FileInfo) bool { return true })
}

func (h *Handler) IsFile(ctx context.Context, ref uri.Reference) (bool, error) {
	return h.query(ref, "is_file", func(fi fs.FileInfo) bool { return fi.Mode().IsRegular() })
}

func (h *Handler) IsFolder(ctx context.Context, ref uri.Reference) (bool, error) {
	return h.query(ref, "is_folder", func(fi fs.FileInfo) bool { return fi.IsDir() })
}

func (h *Handler) CanRead(ctx context.Context, ref uri.Reference) (bool, error) {
	return h.query(ref, "can_read", func(fi fs.FileInfo) bool { return canAccess(Path(ref), fi, false) })
}

func (h *Handler) CanWrite(ctx context.Context, ref uri.Reference) (bool, error) {
	return h.query(ref, "can_write", func(fi fs.FileInfo) bool { return canAccess(Path(ref), fi, true) })
}

func (h *Handler) GetSize(ctx context.Context, ref uri.Reference) (int64, error) {
	fi, err := h.stat(ref, "get_size")
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (h *Handler) GetMtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	fi, err := h.stat(ref, "get_mtime")
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

func (h *Handler) GetAtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	fi, err := h.stat(ref, "get_atime")
	if err != nil {
		return time.Time{}, err
	}
	return accessTime(Path(ref), fi), nil
}

func (h *Handler) GetCtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	fi, err := h.stat(ref, "get_ctime")
	if err != nil {
		return time.Time{}, err
	}
	return changeTime(Path(ref), fi), nil
}

func (h *Handler) GetMimetype(ctx context.Context, ref uri.Reference) (string, error) {
	fi, err := h.stat(ref, "get_mimetype")
	if err != nil {
		return "", err
	}
	return storage.MimeType(fi.Name(), fi.IsDir()), nil
}

// MakeFile creates missing parent folders, then creates ref exclusively.
func (h *Handler) MakeFile(ctx context.Context, ref uri.Reference) (types.File, error) {
	p := Path(ref)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, wrap(ref, "make_file", err)
	}
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, wrap(ref, "make_file", err)
	}
	return f, nil
}

// MakeFolder creates ref and its missing parents. An existing folder is not an error.
func (h *Handler) MakeFolder(ctx context.Context, ref uri.Reference) error {
	p := Path(ref)
	if fi, err := os.Stat(p); err == nil {
		if fi.IsDir() {
			return nil
		}
		return errors.Exists(ref).WithComponent(component).WithOperation("make_folder")
	}
	return wrap(ref, "make_folder", os.MkdirAll(p, 0o755))
}

// Remove deletes ref, descending into folders.
func (h *Handler) Remove(ctx context.Context, ref uri.Reference) error {
	p := Path(ref)
	if _, err := os.Lstat(p); err != nil {
		return wrap(ref, "remove", err)
	}
	return wrap(ref, "remove", os.RemoveAll(p))
}

// Move renames src to dst. An existing folder at dst receives src under its
// own name. Renames across devices fall back to copy and remove.
func (h *Handler) Move(ctx context.Context, src, dst uri.Reference) error {
	from := Path(src)
	if _, err := os.Lstat(from); err != nil {
		return wrap(src, "move", err)
	}

	to := Path(dst)
	if fi, err := os.Stat(to); err == nil {
		if !fi.IsDir() {
			return errors.NotDirectory(dst).WithComponent(component).WithOperation("move")
		}
		to = filepath.Join(to, filepath.Base(from))
	}

	err := os.Rename(from, to)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return wrap(src, "move", err)
	}

	h.logger.Debug().Str("src", from).Str("dst", to).Msg("rename crosses devices, copying")
	if err := copyTree(from, to); err != nil {
		_ = os.RemoveAll(to)
		return wrap(dst, "move", err)
	}
	return wrap(src, "move", os.RemoveAll(from))
}

func copyTree(from, to string) error {
	return filepath.WalkDir(from, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(from, p)
		if err != nil {
			return err
		}
		target := filepath.Join(to, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Open returns the os file directly. Folders cannot be opened.
func (h *Handler) Open(ctx context.Context, ref uri.Reference, mode types.Mode) (types.File, error) {
	p := Path(ref)
	if fi, err := os.Stat(p); err == nil && fi.IsDir() {
		return nil, errors.IsDirectory(ref).WithComponent(component).WithOperation("open")
	}

	var flag int
	switch mode {
	case types.ModeRead:
		flag = os.O_RDONLY
	case types.ModeWrite:
		flag = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	case types.ModeReadWrite:
		flag = os.O_RDWR
	case types.ModeAppend:
		flag = os.O_RDWR | os.O_CREATE | os.O_APPEND
	}

	f, err := os.OpenFile(p, flag, 0o644)
	if err != nil {
		return nil, wrap(ref, "open", err)
	}
	if mode == types.ModeAppend {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return nil, wrap(ref, "open", err)
		}
	}
	return f, nil
}

// GetNames lists the folder sorted by name.
func (h *Handler) GetNames(ctx context.Context, ref uri.Reference) ([]string, error) {
	entries, err := os.ReadDir(Path(ref))
	if err != nil {
		return nil, wrap(ref, "get_names", err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}
