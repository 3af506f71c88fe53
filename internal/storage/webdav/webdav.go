// Package webdav serves the webdav and webdavs schemes.
//
// Metadata comes from depth 1 PROPFIND requests whose results are cached for
// a short time under a canonical key (see cacheKey). Every mutation purges
// the entries it may have invalidated: the target, everything below it and
// the folder holding it. Writes are buffered and sent with a single PUT when
// the file is closed.
package webdav

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/peppy/vfs/internal/auth"
	"github.com/peppy/vfs/internal/buffer"
	"github.com/peppy/vfs/internal/cache"
	"github.com/peppy/vfs/internal/storage"
	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/retry"
	"github.com/peppy/vfs/pkg/types"
	"github.com/peppy/vfs/pkg/uri"
)

const component = "webdav"

const lockTimeout = "Infinite, Second-4100000000"

// Config represents WebDAV handler settings
type Config struct {
	Timeout            time.Duration
	UserAgent          string
	MetadataTTL        time.Duration
	MetadataMaxEntries int
	RedirectMaxEntries int
	Retry              retry.Config
	// Client overrides the default client. Its CheckRedirect is replaced so
	// that 301s reach the handler.
	Client *http.Client
}

// Handler implements types.Handler, types.Copier and types.Locker over WebDAV.
type Handler struct {
	client    *http.Client
	userAgent string
	broker    *auth.Broker
	retryer   *retry.Retryer

	metadata  *cache.Cache[*listing]
	redirects *cache.Cache[uri.Reference]
	group     singleflight.Group

	mu     sync.Mutex
	tokens map[string]string // cache key -> lock token held by this handler

	logger zerolog.Logger
}

// New creates a WebDAV handler that prompts through broker.
func New(cfg Config, broker *auth.Broker, logger zerolog.Logger) *Handler {
	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = 10 * time.Second
	}
	if cfg.RedirectMaxEntries <= 0 {
		cfg.RedirectMaxEntries = 200
	}
	if broker == nil {
		broker = auth.NewBroker(nil, 0)
	}

	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.Client != nil {
		c := *cfg.Client
		client = &c
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Handler{
		client:    client,
		userAgent: cfg.UserAgent,
		broker:    broker,
		retryer:   retry.New(cfg.Retry),
		metadata: cache.NewTTL[*listing](cache.CacheConfig{
			Name:       "webdav_metadata",
			MaxEntries: cfg.MetadataMaxEntries,
			TTL:        cfg.MetadataTTL,
		}, nil),
		redirects: cache.NewLRU[uri.Reference](cache.CacheConfig{
			Name:       "webdav_redirects",
			MaxEntries: cfg.RedirectMaxEntries,
		}, nil),
		tokens: make(map[string]string),
		logger: logger.With().Str("component", component).Logger(),
	}
}

// SetMetrics reports cache hits and misses to m.
func (h *Handler) SetMetrics(m types.MetricsCollector) {
	h.metadata.SetRecorder(m)
	h.redirects.SetRecorder(m)
}

// propfind returns the listing of ref, from the cache when fresh. Only
// successful multistatus replies are cached; concurrent misses on one key
// share a single request.
func (h *Handler) propfind(ctx context.Context, ref uri.Reference) (*listing, error) {
	key := cacheKey(h.redirected(ref))
	if l, ok := h.metadata.Get(key); ok {
		return l, nil
	}

	v, err, _ := h.group.Do(key, func() (any, error) {
		var l *listing
		err := h.retryer.Do(ctx, func(ctx context.Context) error {
			header := http.Header{
				"Depth":        {"1"},
				"Content-Type": {`text/xml; charset="utf-8"`},
			}
			rep, err := h.roundTrip(ctx, "PROPFIND", ref, []byte(propfindBody), header)
			if err != nil {
				return err
			}
			switch rep.status {
			case http.StatusMultiStatus:
			case http.StatusMethodNotAllowed, http.StatusConflict:
				// Servers answer this way for a path below a plain file.
				return errors.NotFound(rep.ref).WithComponent(component).WithOperation("propfind")
			default:
				return statusError(rep.ref, "propfind", rep.status)
			}
			if l, err = parseMultistatus(rep.body, rep.ref.Path.String()); err != nil {
				return errors.NewError(errors.ErrCodeBackend, "malformed multistatus").
					WithReference(rep.ref).WithComponent(component).WithOperation("propfind").WithCause(err)
			}
			h.metadata.Put(cacheKey(rep.ref), l)
			h.logger.Debug().Str("key", cacheKey(rep.ref)).Int("children", len(l.children)).Msg("cached propfind")
			return nil
		})
		return l, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*listing), nil
}

// stat returns the properties of ref itself.
func (h *Handler) stat(ctx context.Context, ref uri.Reference) (*resource, error) {
	l, err := h.propfind(ctx, ref)
	if err != nil {
		return nil, err
	}
	if l.self == nil {
		return nil, errors.NotFound(ref).WithComponent(component)
	}
	return l.self, nil
}

// maybeStat is stat for predicates: a missing resource is nil without error.
func (h *Handler) maybeStat(ctx context.Context, ref uri.Reference) (*resource, error) {
	res, err := h.stat(ctx, ref)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	return res, err
}

// purge drops every cached entry a mutation at refs may have invalidated:
// each reference, everything below it, its redirect and its parent folder.
func (h *Handler) purge(refs ...uri.Reference) {
	for _, ref := range refs {
		for _, r := range []uri.Reference{ref, h.redirected(ref)} {
			key := cacheKey(r)
			n := h.metadata.RemoveTree(key)
			h.redirects.RemoveTree(key)
			parent := cacheKey(uri.Dirname(r))
			if h.metadata.Remove(parent) {
				n++
			}
			h.logger.Debug().Str("key", key).Int("entries", n).Msg("purged")
		}
	}
}

func (h *Handler) Exists(ctx context.Context, ref uri.Reference) (bool, error) {
	res, err := h.maybeStat(ctx, ref)
	return res != nil, err
}

func (h *Handler) IsFile(ctx context.Context, ref uri.Reference) (bool, error) {
	res, err := h.maybeStat(ctx, ref)
	return res != nil && !res.isFolder(), err
}

// IsFolder is true for a DAV collection or a resource typed httpd/unix-directory.
func (h *Handler) IsFolder(ctx context.Context, ref uri.Reference) (bool, error) {
	res, err := h.maybeStat(ctx, ref)
	return res != nil && res.isFolder(), err
}

func (h *Handler) CanRead(ctx context.Context, ref uri.Reference) (bool, error) {
	return h.Exists(ctx, ref)
}

// CanWrite is true for an existing resource with no active lock.
func (h *Handler) CanWrite(ctx context.Context, ref uri.Reference) (bool, error) {
	res, err := h.maybeStat(ctx, ref)
	return res != nil && !res.locked, err
}

func (h *Handler) GetSize(ctx context.Context, ref uri.Reference) (int64, error) {
	res, err := h.stat(ctx, ref)
	if err != nil {
		return 0, err
	}
	return res.size, nil
}

// GetMtime reports getlastmodified, or the Unix epoch when the server has none.
func (h *Handler) GetMtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	res, err := h.stat(ctx, ref)
	if err != nil {
		return time.Time{}, err
	}
	if res.mtime.IsZero() {
		return time.Unix(0, 0).UTC(), nil
	}
	return res.mtime, nil
}

func (h *Handler) GetAtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	return h.GetMtime(ctx, ref)
}

// GetCtime reports creationdate, falling back to the modification time.
func (h *Handler) GetCtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	res, err := h.stat(ctx, ref)
	if err != nil {
		return time.Time{}, err
	}
	if res.ctime.IsZero() {
		return h.GetMtime(ctx, ref)
	}
	return res.ctime, nil
}

func (h *Handler) GetMimetype(ctx context.Context, ref uri.Reference) (string, error) {
	res, err := h.stat(ctx, ref)
	if err != nil {
		return "", err
	}
	switch {
	case res.contentType != "":
		return res.contentType, nil
	case res.isFolder():
		return storage.FolderMimeType, nil
	}
	return storage.DefaultMimeType, nil
}

// MakeFile creates the missing parent folders, refuses an existing target,
// and stores an empty resource right away so the file is visible before the
// returned buffer is closed.
func (h *Handler) MakeFile(ctx context.Context, ref uri.Reference) (types.File, error) {
	parent := uri.Dirname(ref)
	ok, err := h.Exists(ctx, parent)
	if err != nil {
		return nil, err
	}
	if ok {
		exists, err := h.Exists(ctx, ref)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, errors.Exists(ref).WithComponent(component).WithOperation("make_file")
		}
		isFolder, err := h.IsFolder(ctx, parent)
		if err != nil {
			return nil, err
		}
		if !isFolder {
			return nil, errors.NotDirectory(parent).WithComponent(component).WithOperation("make_file")
		}
	} else if err := h.MakeFolder(ctx, parent); err != nil {
		return nil, err
	}

	if err := h.put(ctx, ref, nil); err != nil {
		return nil, err
	}
	return buffer.NewTempFile(ref, nil, h.writeBack(ctx)), nil
}

func (h *Handler) writeBack(ctx context.Context) buffer.WriteBackFunc {
	ctx = context.WithoutCancel(ctx)
	return func(ref uri.Reference, data []byte) error {
		return h.put(ctx, ref, data)
	}
}

// put uploads data to ref, presenting the lock token when this handler holds one.
func (h *Handler) put(ctx context.Context, ref uri.Reference, data []byte) error {
	header := http.Header{}
	if token := h.token(ref); token != "" {
		header.Set("If", "(<"+token+">)")
	}
	rep, err := h.roundTrip(ctx, http.MethodPut, ref, data, header)
	if err != nil {
		return err
	}
	h.purge(ref)
	return statusError(rep.ref, "put", rep.status)
}

// MakeFolder issues MKCOL, creating missing parents first. An existing
// folder is a no-op; an existing file fails with EXISTS.
func (h *Handler) MakeFolder(ctx context.Context, ref uri.Reference) error {
	res, err := h.maybeStat(ctx, ref)
	if err != nil {
		return err
	}
	if res != nil {
		if res.isFolder() {
			return nil
		}
		return errors.Exists(ref).WithComponent(component).WithOperation("make_folder")
	}

	if !ref.Path.IsRoot() {
		parent := uri.Dirname(ref)
		pres, err := h.maybeStat(ctx, parent)
		if err != nil {
			return err
		}
		switch {
		case pres == nil:
			if err := h.MakeFolder(ctx, parent); err != nil {
				return err
			}
		case !pres.isFolder():
			return errors.NotDirectory(parent).WithComponent(component).WithOperation("make_folder")
		}
	}

	rep, err := h.roundTrip(ctx, "MKCOL", ref, nil, nil)
	if err != nil {
		return err
	}
	h.purge(ref)
	return statusError(rep.ref, "mkcol", rep.status)
}

// Remove issues DELETE and purges the whole cached subtree.
func (h *Handler) Remove(ctx context.Context, ref uri.Reference) error {
	ok, err := h.Exists(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound(ref).WithComponent(component).WithOperation("remove")
	}

	header := http.Header{}
	if token := h.token(ref); token != "" {
		header.Set("If", "(<"+token+">)")
	}
	rep, err := h.roundTrip(ctx, http.MethodDelete, ref, nil, header)
	if err != nil {
		return err
	}
	h.purge(ref)
	return statusError(rep.ref, "delete", rep.status)
}

// destination resolves the target of a MOVE or COPY: an existing folder
// receives src under its own name, an existing file is refused.
func (h *Handler) destination(ctx context.Context, src, dst uri.Reference, op string) (uri.Reference, error) {
	res, err := h.maybeStat(ctx, dst)
	if err != nil {
		return dst, err
	}
	if res == nil {
		return dst, nil
	}
	if !res.isFolder() {
		return dst, errors.NotDirectory(dst).WithComponent(component).WithOperation(op)
	}
	return dst.Resolve2(src.Path.Name()), nil
}

func (h *Handler) transfer(ctx context.Context, method string, src, dst uri.Reference, overwrite bool) error {
	ok, err := h.Exists(ctx, src)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound(src).WithComponent(component).WithOperation(method)
	}
	dst, err = h.destination(ctx, src, dst, method)
	if err != nil {
		return err
	}

	flag := "F"
	if overwrite {
		flag = "T"
	}
	header := http.Header{
		"Destination": {httpURL(h.redirected(dst))},
		"Depth":       {"infinity"},
		"Overwrite":   {flag},
	}
	rep, err := h.roundTrip(ctx, method, src, nil, header)
	if err != nil {
		return err
	}
	if method == "MOVE" {
		h.purge(src, dst)
	} else {
		h.purge(dst)
	}
	return statusError(rep.ref, method, rep.status)
}

// Move issues MOVE with an absolute Destination.
func (h *Handler) Move(ctx context.Context, src, dst uri.Reference) error {
	return h.transfer(ctx, "MOVE", src, dst, false)
}

// Copy issues a server side COPY when both references live on the same
// server, and reports false otherwise so that the caller streams.
func (h *Handler) Copy(ctx context.Context, src, dst uri.Reference) (bool, error) {
	a, b := uri.Canonical(src), uri.Canonical(dst)
	if httpScheme(a.Scheme) != httpScheme(b.Scheme) || a.Authority.HostPort() != b.Authority.HostPort() {
		return false, nil
	}
	return true, h.transfer(ctx, "COPY", src, dst, true)
}

// Open fetches the resource with GET. ModeWrite starts from an empty buffer
// without fetching. Writable modes PUT the buffer back on Close.
func (h *Handler) Open(ctx context.Context, ref uri.Reference, mode types.Mode) (types.File, error) {
	if mode == types.ModeWrite {
		return buffer.NewTempFile(ref, nil, h.writeBack(ctx)), nil
	}

	data, err := h.get(ctx, ref)
	if err != nil {
		if mode == types.ModeAppend && errors.Is(err, errors.ErrNotFound) {
			return buffer.NewTempFile(ref, nil, h.writeBack(ctx)), nil
		}
		return nil, err
	}

	switch mode {
	case types.ModeRead:
		return buffer.NewReader(ref, data), nil
	case types.ModeAppend:
		t := buffer.NewTempFile(ref, data, h.writeBack(ctx))
		if _, err := t.Seek(0, io.SeekEnd); err != nil {
			return nil, err
		}
		return t, nil
	default:
		return buffer.NewTempFile(ref, data, h.writeBack(ctx)), nil
	}
}

func (h *Handler) get(ctx context.Context, ref uri.Reference) ([]byte, error) {
	var data []byte
	err := h.retryer.Do(ctx, func(ctx context.Context) error {
		rep, err := h.roundTrip(ctx, http.MethodGet, ref, nil, nil)
		if err != nil {
			return err
		}
		if err := statusError(rep.ref, "get", rep.status); err != nil {
			return err
		}
		data = rep.body
		return nil
	})
	return data, err
}

// GetNames lists a folder. References without an absolute path list
// nothing rather than contacting a server that may not exist.
func (h *Handler) GetNames(ctx context.Context, ref uri.Reference) ([]string, error) {
	if ref.Path.IsEmpty() && ref.HasAuthority() {
		ref = ref.WithPath(uri.Root())
	}
	if !ref.Path.IsAbsolute() {
		return []string{}, nil
	}
	l, err := h.propfind(ctx, ref)
	if err != nil {
		return nil, err
	}
	if l.self == nil || !l.self.isFolder() {
		return nil, errors.NotDirectory(ref).WithComponent(component).WithOperation("get_names")
	}
	return l.names(), nil
}

func (h *Handler) token(ref uri.Reference) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokens[cacheKey(ref)]
}

// Lock takes an exclusive write lock. The token is remembered and sent with
// later writes to ref through this handler.
func (h *Handler) Lock(ctx context.Context, ref uri.Reference) (string, error) {
	header := http.Header{
		"Content-Type": {`text/xml; charset="utf-8"`},
		"Timeout":      {lockTimeout},
		"Depth":        {"0"},
	}
	rep, err := h.roundTrip(ctx, "LOCK", ref, []byte(lockBody), header)
	if err != nil {
		return "", err
	}
	h.purge(ref)
	if err := statusError(rep.ref, "lock", rep.status); err != nil {
		return "", err
	}

	token := lockToken(rep.header, rep.body)
	if token == "" {
		return "", errors.NewError(errors.ErrCodeBackend, "LOCK reply carries no token").
			WithReference(ref).WithComponent(component).WithOperation("lock")
	}
	h.mu.Lock()
	h.tokens[cacheKey(ref)] = token
	h.mu.Unlock()
	return token, nil
}

// Unlock releases a lock taken by Lock.
func (h *Handler) Unlock(ctx context.Context, ref uri.Reference, token string) error {
	header := http.Header{"Lock-Token": {"<" + token + ">"}}
	rep, err := h.roundTrip(ctx, "UNLOCK", ref, nil, header)
	if err != nil {
		return err
	}
	h.purge(ref)
	if err := statusError(rep.ref, "unlock", rep.status); err != nil {
		return err
	}
	h.mu.Lock()
	delete(h.tokens, cacheKey(ref))
	h.mu.Unlock()
	return nil
}
