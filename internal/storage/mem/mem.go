// Package mem serves the mem scheme from an in-process tree of folders and files.
package mem

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/peppy/vfs/internal/buffer"
	"github.com/peppy/vfs/internal/storage"
	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/types"
	"github.com/peppy/vfs/pkg/uri"
)

const component = "mem"

type memFile struct {
	data  []byte
	mtime time.Time
}

type memDir struct {
	children map[string]any // *memDir or *memFile
	mtime    time.Time
}

func newDir(now time.Time) *memDir {
	return &memDir{children: make(map[string]any), mtime: now}
}

// Handler implements types.Handler over a tree rooted at one memDir.
// All access goes through mu; open files hold their own buffers.
type Handler struct {
	mu     sync.Mutex
	root   *memDir
	now    func() time.Time
	logger zerolog.Logger
}

// New creates an empty in-memory file system.
func New(logger zerolog.Logger) *Handler {
	return &Handler{
		root:   newDir(time.Now()),
		now:    time.Now,
		logger: logger.With().Str("component", component).Logger(),
	}
}

// lookup is the result of walking a reference: the folder that holds the
// final name, the node under it (nil when absent) and the name itself.
// For the root, parent is nil and item is the root.
type lookup struct {
	parent *memDir
	item   any
	name   string
}

// find walks ref. A missing intermediate folder leaves parent nil; an
// intermediate file fails with NOT_A_DIRECTORY.
func (h *Handler) find(ref uri.Reference) (lookup, error) {
	segs := ref.Path.Segments()
	if len(segs) == 0 {
		return lookup{item: h.root}, nil
	}
	dir := h.root
	for i, seg := range segs[:len(segs)-1] {
		next, ok := dir.children[seg]
		if !ok {
			return lookup{name: segs[len(segs)-1]}, nil
		}
		sub, ok := next.(*memDir)
		if !ok {
			return lookup{}, errors.NotDirectory(ref.WithPath(uri.Root().Join(segs[:i+1]...))).WithComponent(component)
		}
		dir = sub
	}
	name := segs[len(segs)-1]
	return lookup{parent: dir, item: dir.children[name], name: name}, nil
}

// mkdirs creates every missing folder leading to ref and returns the parent of ref.
func (h *Handler) mkdirs(ref uri.Reference) (*memDir, string, error) {
	segs := ref.Path.Segments()
	if len(segs) == 0 {
		return nil, "", errors.Exists(ref).WithComponent(component)
	}
	dir := h.root
	for i, seg := range segs[:len(segs)-1] {
		switch next := dir.children[seg].(type) {
		case nil:
			sub := newDir(h.now())
			dir.children[seg] = sub
			dir.mtime = sub.mtime
			dir = sub
		case *memDir:
			dir = next
		default:
			return nil, "", errors.NotDirectory(ref.WithPath(uri.Root().Join(segs[:i+1]...))).WithComponent(component)
		}
	}
	return dir, segs[len(segs)-1], nil
}

func (h *Handler) get(ref uri.Reference, op string) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, err := h.find(ref)
	if err != nil {
		return nil, err
	}
	if l.item == nil {
		return nil, errors.NotFound(ref).WithComponent(component).WithOperation(op)
	}
	return l.item, nil
}

// maybeStat is get for queries: anything unreachable is reported as absent.
func (h *Handler) maybeStat(ref uri.Reference) any {
	item, err := h.get(ref, "")
	if err != nil {
		return nil
	}
	return item
}

func (h *Handler) Exists(ctx context.Context, ref uri.Reference) (bool, error) {
	return h.maybeStat(ref) != nil, nil
}

func (h *Handler) IsFile(ctx context.Context, ref uri.Reference) (bool, error) {
	_, ok := h.maybeStat(ref).(*memFile)
	return ok, nil
}

func (h *Handler) IsFolder(ctx context.Context, ref uri.Reference) (bool, error) {
	_, ok := h.maybeStat(ref).(*memDir)
	return ok, nil
}

func (h *Handler) CanRead(ctx context.Context, ref uri.Reference) (bool, error) {
	return h.Exists(ctx, ref)
}

func (h *Handler) CanWrite(ctx context.Context, ref uri.Reference) (bool, error) {
	return h.Exists(ctx, ref)
}

// GetSize reports the payload length of a file and zero for a folder.
func (h *Handler) GetSize(ctx context.Context, ref uri.Reference) (int64, error) {
	item, err := h.get(ref, "get_size")
	if err != nil {
		return 0, err
	}
	if f, ok := item.(*memFile); ok {
		return int64(len(f.data)), nil
	}
	return 0, nil
}

func (h *Handler) GetMtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	item, err := h.get(ref, "get_mtime")
	if err != nil {
		return time.Time{}, err
	}
	switch n := item.(type) {
	case *memFile:
		return n.mtime, nil
	case *memDir:
		return n.mtime, nil
	}
	return time.Time{}, nil
}

// GetAtime is the modification time; the tree keeps no access times.
func (h *Handler) GetAtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	return h.GetMtime(ctx, ref)
}

func (h *Handler) GetCtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	return h.GetMtime(ctx, ref)
}

func (h *Handler) GetMimetype(ctx context.Context, ref uri.Reference) (string, error) {
	item, err := h.get(ref, "get_mimetype")
	if err != nil {
		return "", err
	}
	_, isDir := item.(*memDir)
	return storage.MimeType(ref.Path.Name(), isDir), nil
}

// MakeFile creates an empty file, and any missing folders above it, and
// returns a buffer that replaces the file's content when closed.
func (h *Handler) MakeFile(ctx context.Context, ref uri.Reference) (types.File, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	parent, name, err := h.mkdirs(ref)
	if err != nil {
		return nil, err
	}
	if _, ok := parent.children[name]; ok {
		return nil, errors.Exists(ref).WithComponent(component).WithOperation("make_file")
	}
	parent.children[name] = &memFile{mtime: h.now()}
	return buffer.NewTempFile(ref, nil, h.writeBack(parent, name)), nil
}

// writeBack stores the closed buffer under name in parent. The folder is
// captured at open time, so a handle outliving a removed folder writes into
// the detached folder.
func (h *Handler) writeBack(parent *memDir, name string) buffer.WriteBackFunc {
	return func(ref uri.Reference, data []byte) error {
		h.mu.Lock()
		defer h.mu.Unlock()

		if _, isDir := parent.children[name].(*memDir); isDir {
			return errors.IsDirectory(ref).WithComponent(component).WithOperation("close")
		}
		now := h.now()
		parent.children[name] = &memFile{data: append([]byte(nil), data...), mtime: now}
		parent.mtime = now
		h.logger.Debug().Str("reference", ref.String()).Int("bytes", len(data)).Msg("write-back")
		return nil
	}
}

// MakeFolder creates ref and its missing parents. An existing folder is not an error.
func (h *Handler) MakeFolder(ctx context.Context, ref uri.Reference) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ref.Path.Len() == 0 {
		return nil
	}
	parent, name, err := h.mkdirs(ref)
	if err != nil {
		return err
	}
	switch parent.children[name].(type) {
	case *memDir:
		return nil
	case *memFile:
		return errors.Exists(ref).WithComponent(component).WithOperation("make_folder")
	}
	parent.children[name] = newDir(h.now())
	parent.mtime = h.now()
	return nil
}

// Remove unlinks ref from its folder, dropping the subtree with it.
func (h *Handler) Remove(ctx context.Context, ref uri.Reference) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, err := h.find(ref)
	if err != nil {
		return err
	}
	if l.item == nil {
		return errors.NotFound(ref).WithComponent(component).WithOperation("remove")
	}
	if l.parent == nil {
		h.root = newDir(h.now())
		return nil
	}
	delete(l.parent.children, l.name)
	l.parent.mtime = h.now()
	return nil
}

// Move relinks src. An existing folder at dst receives src under its own name.
func (h *Handler) Move(ctx context.Context, src, dst uri.Reference) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	from, err := h.find(src)
	if err != nil {
		return err
	}
	if from.item == nil {
		return errors.NotFound(src).WithComponent(component).WithOperation("move")
	}
	if from.parent == nil {
		return errors.NewError(errors.ErrCodeBackend, "cannot move the root").WithReference(src).WithComponent(component)
	}

	to, err := h.find(dst)
	if err != nil {
		return err
	}
	switch n := to.item.(type) {
	case *memFile:
		return errors.NotDirectory(dst).WithComponent(component).WithOperation("move")
	case *memDir:
		dst = dst.Resolve2(from.name)
		to = lookup{parent: n, item: n.children[from.name], name: from.name}
		if to.item != nil {
			return errors.Exists(dst).WithComponent(component).WithOperation("move")
		}
	}
	if dst.Path.HasPrefix(src.Path) {
		return errors.NewError(errors.ErrCodeBackend, "cannot move a folder into itself").WithReference(dst).WithComponent(component)
	}
	if to.parent == nil {
		parent, name, err := h.mkdirs(dst)
		if err != nil {
			return err
		}
		to = lookup{parent: parent, name: name}
	}

	delete(from.parent.children, from.name)
	to.parent.children[to.name] = from.item
	now := h.now()
	from.parent.mtime, to.parent.mtime = now, now
	return nil
}

// Open returns a private copy of the file content. Writable modes write the
// buffer back on Close; ModeWrite and ModeAppend create a missing file.
func (h *Handler) Open(ctx context.Context, ref uri.Reference, mode types.Mode) (types.File, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, err := h.find(ref)
	if err != nil {
		return nil, err
	}
	if _, isDir := l.item.(*memDir); isDir {
		return nil, errors.IsDirectory(ref).WithComponent(component).WithOperation("open")
	}

	var data []byte
	if f, ok := l.item.(*memFile); ok {
		data = append([]byte(nil), f.data...)
	} else if mode == types.ModeRead || mode == types.ModeReadWrite {
		return nil, errors.NotFound(ref).WithComponent(component).WithOperation("open")
	}

	switch mode {
	case types.ModeRead:
		return buffer.NewReader(ref, data), nil
	case types.ModeWrite:
		data = nil
	}

	parent, name := l.parent, l.name
	if parent == nil {
		if parent, name, err = h.mkdirs(ref); err != nil {
			return nil, err
		}
	}
	t := buffer.NewTempFile(ref, data, h.writeBack(parent, name))
	if mode == types.ModeAppend {
		if _, err := t.Seek(0, io.SeekEnd); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// GetNames lists the folder sorted by name.
func (h *Handler) GetNames(ctx context.Context, ref uri.Reference) ([]string, error) {
	item, err := h.get(ref, "get_names")
	if err != nil {
		return nil, err
	}
	dir, ok := item.(*memDir)
	if !ok {
		return nil, errors.NotDirectory(ref).WithComponent(component).WithOperation("get_names")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(dir.children))
	for name := range dir.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
