// Package sftpfs serves the sftp scheme over pooled SSH sessions.
package sftpfs

import (
	"context"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"

	"github.com/peppy/vfs/internal/auth"
	"github.com/peppy/vfs/internal/buffer"
	"github.com/peppy/vfs/internal/cache"
	"github.com/peppy/vfs/internal/storage"
	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/types"
	"github.com/peppy/vfs/pkg/uri"
)

const component = "sftp"

// Config controls session pooling and the default dialer.
type Config struct {
	DefaultPort   string
	ConnectionTTL time.Duration
	ConnectionMax int
	Timeout       time.Duration
	HostKeys      HostKeyConfig

	// Dial replaces the SSH dialer, mainly for tests.
	Dial DialFunc
}

// Handler implements types.Handler for sftp references.
type Handler struct {
	dial        DialFunc
	broker      *auth.Broker
	defaultPort string
	sessions    *cache.Cache[*conn]

	// connecting serializes session setup so that one prompt serves
	// concurrent callers for the same host.
	connecting sync.Mutex
	logger     zerolog.Logger
}

// New creates an SFTP handler. Sessions idle past cfg.ConnectionTTL leave
// the pool and close once no open handle uses them.
func New(cfg Config, broker *auth.Broker, logger zerolog.Logger) *Handler {
	if cfg.DefaultPort == "" {
		cfg.DefaultPort = "22"
	}
	if cfg.ConnectionTTL <= 0 {
		cfg.ConnectionTTL = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Dial == nil {
		cfg.Dial = SSHDialer(cfg.HostKeys, cfg.Timeout)
	}
	if broker == nil {
		broker = auth.NewBroker(nil, 0)
	}

	h := &Handler{
		dial:        cfg.Dial,
		broker:      broker,
		defaultPort: cfg.DefaultPort,
		logger:      logger.With().Str("component", component).Logger(),
	}
	h.sessions = cache.NewTTL[*conn](cache.CacheConfig{
		Name:       "sftp_connections",
		MaxEntries: cfg.ConnectionMax,
		TTL:        cfg.ConnectionTTL,
	}, func(_ string, c *conn) {
		c.retire()
	})
	return h
}

// SetMetrics reports connection cache hits and misses to m.
func (h *Handler) SetMetrics(m types.MetricsCollector) {
	h.sessions.SetRecorder(m)
}

// Close empties the pool. Sessions behind open handles close with the last handle.
func (h *Handler) Close() error {
	h.sessions.Purge()
	return nil
}

func (h *Handler) endpoint(ref uri.Reference) (host, port string) {
	port = ref.Authority.Port
	if port == "" {
		port = h.defaultPort
	}
	return ref.Authority.Host, port
}

// remotePath is the server side path of ref, without a trailing slash.
func remotePath(ref uri.Reference) string {
	return path.Clean(ref.Path.String())
}

func sessionKey(host, port string) string {
	return "sftp://" + net.JoinHostPort(host, port) + "/"
}

// session returns a pooled session for the server of ref, connecting and
// authenticating when none is cached. The caller must release it. Each use
// restarts the idle timer. References without a host or an absolute path
// are refused before any network traffic, so that a user still typing an
// address is not prompted.
func (h *Handler) session(ctx context.Context, ref uri.Reference) (*conn, error) {
	host, port := h.endpoint(ref)
	if host == "" {
		return nil, errors.IncompleteReference(ref, "host").WithComponent(component)
	}
	if !ref.Path.IsAbsolute() {
		return nil, errors.IncompleteReference(ref, "absolute path").WithComponent(component)
	}

	key := sessionKey(host, port)
	if c := h.pooled(key); c != nil {
		return c, nil
	}

	h.connecting.Lock()
	defer h.connecting.Unlock()
	if c := h.pooled(key); c != nil {
		return c, nil
	}
	s, err := h.connect(ctx, ref, host, port)
	if err != nil {
		return nil, err
	}
	c := newConn(key, s, h.logger)
	c.acquire()
	// An expired entry still occupies the key; removing it retires its session.
	h.sessions.Remove(key)
	h.sessions.Put(key, c)
	return c, nil
}

// pooled acquires the cached conn for key and renews its entry.
func (h *Handler) pooled(key string) *conn {
	c, ok := h.sessions.Get(key)
	if !ok || !c.acquire() {
		return nil
	}
	h.sessions.Put(key, c)
	return c
}

// connect tries the userinfo password, then cached credentials, then asks
// the broker, until the server accepts or the user cancels.
func (h *Handler) connect(ctx context.Context, ref uri.Reference, host, port string) (Session, error) {
	addr := net.JoinHostPort(host, port)
	user := ref.Authority.Username()
	pass, _ := ref.Authority.Password()

	for {
		if pass == "" {
			creds, ok := h.broker.Lookup(host, port)
			if !ok {
				var err error
				if creds, err = h.broker.Prompt(host, component, "", user); err != nil {
					return nil, err
				}
				if creds.Username == "" {
					return nil, errors.AuthCancelled(host).WithComponent(component)
				}
			}
			user, pass = creds.Username, creds.Password
		}

		creds := auth.Credentials{Username: user, Password: pass}
		s, err := h.dial(ctx, addr, creds)
		if err == nil {
			h.broker.Store(host, port, creds)
			h.logger.Debug().Str("addr", addr).Str("user", user).Msg("session opened")
			return s, nil
		}
		if !errors.Is(err, errors.ErrAuthFailed) {
			return nil, errors.Network(ref, err).WithComponent(component).WithOperation("connect")
		}

		h.logger.Info().Str("addr", addr).Str("user", user).Msg("authentication rejected")
		h.broker.Forget(host, port)
		pass = ""
	}
}

// wrap maps an sftp client error to the VFS taxonomy. A lost connection
// also drops the pooled session.
func (h *Handler) wrap(ref uri.Reference, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *errors.VFSError
	switch {
	case errors.As(err, &e):
		return err
	case errors.Is(err, fs.ErrNotExist):
		e = errors.NotFound(ref)
	case errors.Is(err, fs.ErrExist):
		e = errors.Exists(ref)
	case errors.Is(err, fs.ErrPermission):
		e = errors.ReadOnly(ref, op)
	case errors.Is(err, sftp.ErrSSHFxConnectionLost), errors.Is(err, io.ErrUnexpectedEOF):
		h.sessions.Remove(sessionKey(h.endpoint(ref)))
		e = errors.Network(ref, err)
	default:
		e = errors.NewError(errors.ErrCodeBackend, err.Error()).WithReference(ref)
	}
	return e.WithComponent(component).WithOperation(op).WithCause(err)
}

func (h *Handler) stat(ctx context.Context, ref uri.Reference) (os.FileInfo, error) {
	c, err := h.session(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer c.release()
	fi, err := c.Stat(remotePath(ref))
	if err != nil {
		return nil, h.wrap(ref, "stat", err)
	}
	return fi, nil
}

// maybeStat is stat for predicates: a missing path is nil without error.
func (h *Handler) maybeStat(ctx context.Context, ref uri.Reference) (os.FileInfo, error) {
	fi, err := h.stat(ctx, ref)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	return fi, err
}

func (h *Handler) Exists(ctx context.Context, ref uri.Reference) (bool, error) {
	fi, err := h.maybeStat(ctx, ref)
	return fi != nil, err
}

func (h *Handler) IsFile(ctx context.Context, ref uri.Reference) (bool, error) {
	fi, err := h.maybeStat(ctx, ref)
	return fi != nil && fi.Mode().IsRegular(), err
}

func (h *Handler) IsFolder(ctx context.Context, ref uri.Reference) (bool, error) {
	fi, err := h.maybeStat(ctx, ref)
	return fi != nil && fi.IsDir(), err
}

// CanRead decodes the owner read bit.
func (h *Handler) CanRead(ctx context.Context, ref uri.Reference) (bool, error) {
	fi, err := h.maybeStat(ctx, ref)
	return fi != nil && fi.Mode().Perm()&0o400 != 0, err
}

// CanWrite decodes the owner write bit.
func (h *Handler) CanWrite(ctx context.Context, ref uri.Reference) (bool, error) {
	fi, err := h.maybeStat(ctx, ref)
	return fi != nil && fi.Mode().Perm()&0o200 != 0, err
}

func (h *Handler) GetSize(ctx context.Context, ref uri.Reference) (int64, error) {
	fi, err := h.stat(ctx, ref)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (h *Handler) GetMtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	fi, err := h.stat(ctx, ref)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

func (h *Handler) GetAtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	fi, err := h.stat(ctx, ref)
	if err != nil {
		return time.Time{}, err
	}
	if st, ok := fi.Sys().(*sftp.FileStat); ok && st.Atime != 0 {
		return time.Unix(int64(st.Atime), 0), nil
	}
	return fi.ModTime(), nil
}

// GetCtime returns the modification time; SFTP version 3 has no ctime.
func (h *Handler) GetCtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	return h.GetMtime(ctx, ref)
}

func (h *Handler) GetMimetype(ctx context.Context, ref uri.Reference) (string, error) {
	fi, err := h.stat(ctx, ref)
	if err != nil {
		return "", err
	}
	return storage.MimeType(ref.Path.Name(), fi.IsDir()), nil
}

// MakeFile creates missing parents and the empty file right away, then
// returns a buffer that replaces the content on Close.
func (h *Handler) MakeFile(ctx context.Context, ref uri.Reference) (types.File, error) {
	parent := uri.Dirname(ref)
	pfi, err := h.maybeStat(ctx, parent)
	if err != nil {
		return nil, err
	}
	switch {
	case pfi == nil:
		if err := h.makeFolders(ctx, parent); err != nil {
			return nil, err
		}
	case !pfi.IsDir():
		return nil, errors.NotDirectory(parent).WithComponent(component).WithOperation("make_file")
	default:
		ok, err := h.Exists(ctx, ref)
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, errors.Exists(ref).WithComponent(component).WithOperation("make_file")
		}
	}

	c, err := h.session(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer c.release()
	f, err := c.OpenFile(remotePath(ref), os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	if err != nil {
		return nil, h.wrap(ref, "make_file", err)
	}
	if err := f.Close(); err != nil {
		return nil, h.wrap(ref, "make_file", err)
	}
	return buffer.NewTempFile(ref, nil, h.writeBack(ctx)), nil
}

func (h *Handler) writeBack(ctx context.Context) buffer.WriteBackFunc {
	ctx = context.WithoutCancel(ctx)
	return func(ref uri.Reference, data []byte) error {
		c, err := h.session(ctx, ref)
		if err != nil {
			return err
		}
		defer c.release()
		f, err := c.OpenFile(remotePath(ref), os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			return h.wrap(ref, "write", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return h.wrap(ref, "write", err)
		}
		return h.wrap(ref, "write", f.Close())
	}
}

// MakeFolder creates ref inside an existing folder. An existing folder is
// a no-op; an existing file is not a directory.
func (h *Handler) MakeFolder(ctx context.Context, ref uri.Reference) error {
	fi, err := h.maybeStat(ctx, ref)
	if err != nil {
		return err
	}
	if fi != nil {
		if fi.IsDir() {
			return nil
		}
		return errors.NotDirectory(ref).WithComponent(component).WithOperation("make_folder")
	}

	if !ref.Path.IsRoot() {
		parent := uri.Dirname(ref)
		pfi, err := h.maybeStat(ctx, parent)
		if err != nil {
			return err
		}
		switch {
		case pfi == nil:
			return errors.NotFound(parent).WithComponent(component).WithOperation("make_folder")
		case !pfi.IsDir():
			return errors.NotDirectory(parent).WithComponent(component).WithOperation("make_folder")
		}
	}
	return h.mkdir(ctx, ref)
}

// makeFolders creates ref and its missing ancestors, top down.
func (h *Handler) makeFolders(ctx context.Context, ref uri.Reference) error {
	fi, err := h.maybeStat(ctx, ref)
	if err != nil {
		return err
	}
	if fi != nil {
		if fi.IsDir() {
			return nil
		}
		return errors.NotDirectory(ref).WithComponent(component).WithOperation("make_folder")
	}
	if !ref.Path.IsRoot() {
		if err := h.makeFolders(ctx, uri.Dirname(ref)); err != nil {
			return err
		}
	}
	return h.mkdir(ctx, ref)
}

func (h *Handler) mkdir(ctx context.Context, ref uri.Reference) error {
	c, err := h.session(ctx, ref)
	if err != nil {
		return err
	}
	defer c.release()
	return h.wrap(ref, "make_folder", c.Mkdir(remotePath(ref)))
}

// Remove deletes a file, or a folder with its content depth first.
// Symbolic links are removed, never followed.
func (h *Handler) Remove(ctx context.Context, ref uri.Reference) error {
	c, err := h.session(ctx, ref)
	if err != nil {
		return err
	}
	defer c.release()
	p := remotePath(ref)
	fi, err := c.Lstat(p)
	if err != nil {
		return h.wrap(ref, "remove", err)
	}
	if !fi.IsDir() {
		return h.wrap(ref, "remove", c.Remove(p))
	}
	return h.wrap(ref, "remove", removeTree(c, p))
}

func removeTree(s Session, dir string) error {
	entries, err := s.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		p := path.Join(dir, e.Name())
		if e.IsDir() {
			err = removeTree(s, p)
		} else {
			err = s.Remove(p)
		}
		if err != nil {
			return err
		}
	}
	return s.RemoveDirectory(dir)
}

// Open returns the remote handle for reading, in-place editing and
// appending. ModeWrite buffers locally and replaces the file on Close.
func (h *Handler) Open(ctx context.Context, ref uri.Reference, mode types.Mode) (types.File, error) {
	fi, err := h.maybeStat(ctx, ref)
	if err != nil {
		return nil, err
	}
	if fi != nil && fi.IsDir() {
		return nil, errors.IsDirectory(ref).WithComponent(component).WithOperation("open")
	}
	if fi == nil && (mode == types.ModeRead || mode == types.ModeReadWrite) {
		return nil, errors.NotFound(ref).WithComponent(component).WithOperation("open")
	}
	if mode == types.ModeWrite {
		return buffer.NewTempFile(ref, nil, h.writeBack(ctx)), nil
	}

	flags := os.O_RDONLY
	switch mode {
	case types.ModeReadWrite:
		flags = os.O_RDWR
	case types.ModeAppend:
		flags = os.O_RDWR | os.O_CREATE | os.O_APPEND
	}

	c, err := h.session(ctx, ref)
	if err != nil {
		return nil, err
	}
	f, err := c.OpenFile(remotePath(ref), flags)
	if err != nil {
		c.release()
		return nil, h.wrap(ref, "open", err)
	}
	if mode == types.ModeAppend {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			c.release()
			return nil, h.wrap(ref, "open", err)
		}
	}
	return &remoteFile{File: f, conn: c}, nil
}

// Move renames on the server. An existing folder receives src under its
// own name; an existing file is refused.
func (h *Handler) Move(ctx context.Context, src, dst uri.Reference) error {
	ok, err := h.Exists(ctx, src)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound(src).WithComponent(component).WithOperation("move")
	}
	dfi, err := h.maybeStat(ctx, dst)
	if err != nil {
		return err
	}
	if dfi != nil {
		if !dfi.IsDir() {
			return errors.NotDirectory(dst).WithComponent(component).WithOperation("move")
		}
		dst = dst.Resolve2(src.Path.Name())
	}

	c, err := h.session(ctx, src)
	if err != nil {
		return err
	}
	defer c.release()
	return h.wrap(src, "move", c.Rename(remotePath(src), remotePath(dst)))
}

func (h *Handler) GetNames(ctx context.Context, ref uri.Reference) ([]string, error) {
	fi, err := h.stat(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.NotDirectory(ref).WithComponent(component).WithOperation("get_names")
	}
	c, err := h.session(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer c.release()
	entries, err := c.ReadDir(remotePath(ref))
	if err != nil {
		return nil, h.wrap(ref, "get_names", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
