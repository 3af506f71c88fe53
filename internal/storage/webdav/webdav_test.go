package webdav

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/webdav"

	"github.com/peppy/vfs/internal/auth"
	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/retry"
	"github.com/peppy/vfs/pkg/types"
	"github.com/peppy/vfs/pkg/uri"
)

var ctx = context.Background()

type server struct {
	*httptest.Server
	fs webdav.FileSystem

	mu     sync.Mutex
	counts map[string]int
}

func requestKey(method, path string) string {
	path = strings.TrimRight(path, "/")
	if path == "" {
		path = "/"
	}
	return method + " " + path
}

// newServer starts a WebDAV server on an in-memory file system. wrap, when
// set, decorates the DAV handler.
func newServer(t *testing.T, wrap func(http.Handler) http.Handler) *server {
	t.Helper()
	s := &server{fs: webdav.NewMemFS(), counts: map[string]int{}}
	var h http.Handler = &webdav.Handler{FileSystem: s.fs, LockSystem: webdav.NewMemLS()}
	if wrap != nil {
		h = wrap(h)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.counts[requestKey(r.Method, r.URL.Path)]++
		s.mu.Unlock()
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *server) count(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[requestKey(method, path)]
}

func (s *server) ref(path string) uri.Reference {
	return uri.MustParse("webdav://" + s.Listener.Addr().String() + path)
}

func (s *server) mkdir(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, s.fs.Mkdir(ctx, path, 0o755))
}

func (s *server) put(t *testing.T, path, content string) {
	t.Helper()
	f, err := s.fs.OpenFile(ctx, path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func newHandler(broker *auth.Broker) *Handler {
	return New(Config{
		Timeout: 5 * time.Second,
		Retry:   retry.Config{MaxAttempts: 1},
	}, broker, zerolog.Nop())
}

func writeFile(t *testing.T, f types.File, content string) {
	t.Helper()
	_, err := io.WriteString(f, content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func readFile(t *testing.T, h *Handler, ref uri.Reference) string {
	t.Helper()
	f, err := h.Open(ctx, ref, types.ModeRead)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(data)
}

func TestCacheKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"webdav://user:pw@Host:80/d/", "http://host/d"},
		{"webdav://host/d", "http://host/d"},
		{"webdavs://host:443/a/b/", "https://host/a/b"},
		{"webdav://host:8080/", "http://host:8080/"},
		{"webdav://host", "http://host/"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, cacheKey(uri.MustParse(tt.in)))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	s := newServer(t, nil)
	h := newHandler(nil)
	file := s.ref("/a/b/new.txt")

	f, err := h.MakeFile(ctx, file)
	require.NoError(t, err, "parents are created")
	ok, err := h.Exists(ctx, file)
	require.NoError(t, err)
	assert.True(t, ok, "visible before close")
	writeFile(t, f, "hello")

	assert.Equal(t, "hello", readFile(t, h, file))

	size, err := h.GetSize(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	isFile, err := h.IsFile(ctx, file)
	require.NoError(t, err)
	assert.True(t, isFile)

	isFolder, err := h.IsFolder(ctx, s.ref("/a/b"))
	require.NoError(t, err)
	assert.True(t, isFolder)

	mt, err := h.GetMimetype(ctx, s.ref("/a/b/"))
	require.NoError(t, err)
	assert.Equal(t, "httpd/unix-directory", mt)

	names, err := h.GetNames(ctx, s.ref("/a/b/"))
	require.NoError(t, err)
	assert.Equal(t, []string{"new.txt"}, names)

	_, err = h.MakeFile(ctx, file)
	assert.True(t, errors.Is(err, errors.ErrExists))

	require.NoError(t, h.Remove(ctx, s.ref("/a")))
	ok, err = h.Exists(ctx, file)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, errors.Is(h.Remove(ctx, s.ref("/a")), errors.ErrNotFound))
}

func TestPutInvalidatesFolderListing(t *testing.T) {
	s := newServer(t, nil)
	s.mkdir(t, "/d")
	h := newHandler(nil)

	names, err := h.GetNames(ctx, s.ref("/d/"))
	require.NoError(t, err)
	assert.Empty(t, names)

	f, err := h.MakeFile(ctx, s.ref("/d/new"))
	require.NoError(t, err)
	writeFile(t, f, "x")

	names, err = h.GetNames(ctx, s.ref("/d/"))
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, names)
	assert.Equal(t, 2, s.count("PROPFIND", "/d"))
}

func TestMetadataCache(t *testing.T) {
	s := newServer(t, nil)
	s.mkdir(t, "/d")

	t.Run("repeated queries share one propfind", func(t *testing.T) {
		h := newHandler(nil)
		for i := 0; i < 3; i++ {
			ok, err := h.IsFolder(ctx, s.ref("/d/"))
			require.NoError(t, err)
			assert.True(t, ok)
		}
		_, err := h.Exists(ctx, s.ref("/d"))
		require.NoError(t, err)
		assert.Equal(t, 1, s.count("PROPFIND", "/d"))
	})

	t.Run("entries expire", func(t *testing.T) {
		before := s.count("PROPFIND", "/d")
		h := New(Config{MetadataTTL: 30 * time.Millisecond, Retry: retry.Config{MaxAttempts: 1}}, nil, zerolog.Nop())
		_, err := h.Exists(ctx, s.ref("/d"))
		require.NoError(t, err)
		time.Sleep(80 * time.Millisecond)
		_, err = h.Exists(ctx, s.ref("/d"))
		require.NoError(t, err)
		assert.Equal(t, before+2, s.count("PROPFIND", "/d"))
	})

	t.Run("missing resources are not cached", func(t *testing.T) {
		h := newHandler(nil)
		for i := 0; i < 2; i++ {
			ok, err := h.Exists(ctx, s.ref("/absent"))
			require.NoError(t, err)
			assert.False(t, ok)
		}
		assert.Equal(t, 2, s.count("PROPFIND", "/absent"))
		assert.Zero(t, h.metadata.Len())
	})
}

func keysWithPrefix(h *Handler, prefix string) []string {
	var out []string
	for _, k := range h.metadata.Keys() {
		if k == prefix || strings.HasPrefix(k, prefix+"/") {
			out = append(out, k)
		}
	}
	return out
}

func TestRemovePurgesSubtree(t *testing.T) {
	s := newServer(t, nil)
	s.mkdir(t, "/t")
	s.mkdir(t, "/t/u")
	s.put(t, "/t/u/v.txt", "v")
	h := newHandler(nil)

	for _, p := range []string{"/", "/t/", "/t/u/", "/t/u/v.txt"} {
		ok, err := h.Exists(ctx, s.ref(p))
		require.NoError(t, err)
		require.True(t, ok, p)
	}
	root := cacheKey(s.ref("/t"))
	require.Len(t, keysWithPrefix(h, root), 3)

	require.NoError(t, h.Remove(ctx, s.ref("/t/")))
	assert.Empty(t, keysWithPrefix(h, root))
	assert.False(t, h.metadata.Contains(cacheKey(s.ref("/"))), "parent listing is purged")
}

func TestMakeFolder(t *testing.T) {
	s := newServer(t, nil)
	s.put(t, "/file", "f")
	h := newHandler(nil)

	require.NoError(t, h.MakeFolder(ctx, s.ref("/p/q/")))
	require.NoError(t, h.MakeFolder(ctx, s.ref("/p/q/")), "existing folder is a no-op")

	ok, err := h.IsFolder(ctx, s.ref("/p/q"))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, errors.Is(h.MakeFolder(ctx, s.ref("/file")), errors.ErrExists))
	assert.True(t, errors.Is(h.MakeFolder(ctx, s.ref("/file/sub")), errors.ErrNotDirectory))
}

func TestPathBelowFile(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"server default", 0},
		{"method not allowed", http.StatusMethodNotAllowed},
		{"conflict", http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var wrap func(http.Handler) http.Handler
			if tt.status != 0 {
				wrap = func(next http.Handler) http.Handler {
					return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
						if r.Method == "PROPFIND" && strings.HasPrefix(r.URL.Path, "/file/") {
							w.WriteHeader(tt.status)
							return
						}
						next.ServeHTTP(w, r)
					})
				}
			}
			s := newServer(t, wrap)
			s.put(t, "/file", "f")
			h := newHandler(nil)

			ok, err := h.Exists(ctx, s.ref("/file/sub"))
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = h.IsFolder(ctx, s.ref("/file/sub"))
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = h.GetSize(ctx, s.ref("/file/sub"))
			assert.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)

			assert.True(t, errors.Is(h.MakeFolder(ctx, s.ref("/file/sub")), errors.ErrNotDirectory))
			_, err = h.MakeFile(ctx, s.ref("/file/new.txt"))
			assert.True(t, errors.Is(err, errors.ErrNotDirectory), "got %v", err)
		})
	}
}

func TestMove(t *testing.T) {
	s := newServer(t, nil)
	s.mkdir(t, "/m")
	s.mkdir(t, "/into")
	s.put(t, "/m/a.txt", "A")
	s.put(t, "/blocker", "")
	h := newHandler(nil)

	require.NoError(t, h.Move(ctx, s.ref("/m/a.txt"), s.ref("/m/b.txt")))
	ok, err := h.Exists(ctx, s.ref("/m/a.txt"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "A", readFile(t, h, s.ref("/m/b.txt")))

	require.NoError(t, h.Move(ctx, s.ref("/m/b.txt"), s.ref("/into/")))
	assert.Equal(t, "A", readFile(t, h, s.ref("/into/b.txt")))

	names, err := h.GetNames(ctx, s.ref("/m/"))
	require.NoError(t, err)
	assert.Empty(t, names, "source folder listing was purged")

	err = h.Move(ctx, s.ref("/into/b.txt"), s.ref("/blocker"))
	assert.True(t, errors.Is(err, errors.ErrNotDirectory))

	err = h.Move(ctx, s.ref("/nothing"), s.ref("/x"))
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestCopy(t *testing.T) {
	s := newServer(t, nil)
	s.put(t, "/src.txt", "copied")
	h := newHandler(nil)

	ok, err := h.Copy(ctx, s.ref("/src.txt"), s.ref("/dst.txt"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "copied", readFile(t, h, s.ref("/dst.txt")))
	assert.Equal(t, "copied", readFile(t, h, s.ref("/src.txt")))

	ok, err = h.Copy(ctx, s.ref("/src.txt"), uri.MustParse("webdav://elsewhere.invalid/x"))
	require.NoError(t, err)
	assert.False(t, ok, "different servers stream instead")
}

func TestOpenModes(t *testing.T) {
	tests := []struct {
		name  string
		mode  types.Mode
		write string
		want  string
	}{
		{"write truncates", types.ModeWrite, "xy", "xy"},
		{"read_write keeps content", types.ModeReadWrite, "XY", "XYllo"},
		{"append extends", types.ModeAppend, "!", "hello!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t, nil)
			s.put(t, "/f.txt", "hello")
			h := newHandler(nil)

			f, err := h.Open(ctx, s.ref("/f.txt"), tt.mode)
			require.NoError(t, err)
			writeFile(t, f, tt.write)
			assert.Equal(t, tt.want, readFile(t, h, s.ref("/f.txt")))
		})
	}
}

func TestOpenMissing(t *testing.T) {
	s := newServer(t, nil)
	h := newHandler(nil)

	_, err := h.Open(ctx, s.ref("/missing"), types.ModeRead)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	f, err := h.Open(ctx, s.ref("/created"), types.ModeAppend)
	require.NoError(t, err)
	writeFile(t, f, "new")
	assert.Equal(t, "new", readFile(t, h, s.ref("/created")))
}

func basicAuth(user, pass string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || u != user || p != pass {
				w.Header().Set("WWW-Authenticate", `Basic realm="dav"`)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func TestAuthentication(t *testing.T) {
	s := newServer(t, basicAuth("alice", "secret"))
	s.mkdir(t, "/private")

	var prompts atomic.Int32
	var gotRealm, gotSuggested string
	broker := auth.NewBroker(func(host, scheme, realm, suggested string) (auth.Credentials, bool) {
		prompts.Add(1)
		gotRealm, gotSuggested = realm, suggested
		return auth.Credentials{Username: "alice", Password: "secret"}, true
	}, 8)
	h := newHandler(broker)

	ok, err := h.Exists(ctx, s.ref("/private"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), prompts.Load())
	assert.Equal(t, "dav", gotRealm)
	assert.Empty(t, gotSuggested)

	ok, err = h.Exists(ctx, s.ref("/"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), prompts.Load(), "accepted credentials are reused")

	host, port := hostPort(s.ref("/"))
	creds, cached := broker.Lookup(host, port)
	require.True(t, cached)
	assert.Equal(t, "alice", creds.Username)
}

func TestAuthenticationUserinfo(t *testing.T) {
	s := newServer(t, basicAuth("alice", "secret"))
	broker := auth.NewBroker(func(string, string, string, string) (auth.Credentials, bool) {
		t.Fatal("no prompt expected")
		return auth.Credentials{}, false
	}, 8)
	h := newHandler(broker)

	ref := uri.MustParse("webdav://alice:secret@" + s.Listener.Addr().String() + "/")
	ok, err := h.Exists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthenticationFailures(t *testing.T) {
	s := newServer(t, basicAuth("alice", "secret"))

	tests := []struct {
		name     string
		callback auth.Callback
		want     *errors.VFSError
		prompts  int32
	}{
		{
			name: "rejected credentials",
			callback: func(string, string, string, string) (auth.Credentials, bool) {
				return auth.Credentials{Username: "alice", Password: "wrong"}, true
			},
			want:    errors.ErrAuthFailed,
			prompts: 1,
		},
		{
			name: "cancelled",
			callback: func(string, string, string, string) (auth.Credentials, bool) {
				return auth.Credentials{}, false
			},
			want:    errors.ErrAuthCancelled,
			prompts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var prompts atomic.Int32
			broker := auth.NewBroker(func(host, scheme, realm, suggested string) (auth.Credentials, bool) {
				prompts.Add(1)
				return tt.callback(host, scheme, realm, suggested)
			}, 8)
			h := newHandler(broker)

			_, err := h.Exists(ctx, s.ref("/"))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), err.Error())
			assert.Equal(t, tt.prompts, prompts.Load())

			host, port := hostPort(s.ref("/"))
			_, cached := broker.Lookup(host, port)
			assert.False(t, cached, "failed credentials are not cached")
		})
	}
}

func redirecting(withLocation bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/old") {
				next.ServeHTTP(w, r)
				return
			}
			target := "/d" + strings.TrimPrefix(r.URL.Path, "/old")
			if withLocation {
				w.Header().Set("Location", target)
				w.WriteHeader(http.StatusMovedPermanently)
				return
			}
			w.WriteHeader(http.StatusMovedPermanently)
			fmt.Fprintf(w, `<html><body><a href="%s">moved</a></body></html>`, target)
		})
	}
}

func TestRedirect(t *testing.T) {
	for _, withLocation := range []bool{true, false} {
		t.Run(fmt.Sprintf("location header %v", withLocation), func(t *testing.T) {
			s := newServer(t, redirecting(withLocation))
			s.mkdir(t, "/d")
			s.put(t, "/d/inside", "i")
			h := newHandler(nil)

			names, err := h.GetNames(ctx, s.ref("/old/"))
			require.NoError(t, err)
			assert.Equal(t, []string{"inside"}, names)

			ok, err := h.IsFolder(ctx, s.ref("/old/"))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 1, s.count("PROPFIND", "/old"), "redirect is remembered")

			assert.Equal(t, "i", readFile(t, h, s.ref("/old/inside")))
		})
	}
}

func TestLocking(t *testing.T) {
	s := newServer(t, nil)
	s.put(t, "/l.txt", "before")
	owner := newHandler(nil)
	other := newHandler(nil)
	ref := s.ref("/l.txt")

	token, err := owner.Lock(ctx, ref)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	f, err := other.Open(ctx, ref, types.ModeWrite)
	require.NoError(t, err)
	_, err = io.WriteString(f, "intruder")
	require.NoError(t, err)
	err = f.Close()
	var vfsErr *errors.VFSError
	require.True(t, errors.As(err, &vfsErr), "write to a locked resource fails")
	assert.Equal(t, http.StatusLocked, vfsErr.Status)

	f, err = owner.Open(ctx, ref, types.ModeWrite)
	require.NoError(t, err)
	writeFile(t, f, "owner")
	assert.Equal(t, "owner", readFile(t, other, ref))

	require.NoError(t, owner.Unlock(ctx, ref, token))
	f, err = other.Open(ctx, ref, types.ModeWrite)
	require.NoError(t, err)
	writeFile(t, f, "after")
	assert.Equal(t, "after", readFile(t, owner, ref))
}

const lockedMultistatus = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>%s</D:href>
    <D:propstat>
      <D:prop>
        <D:getcontentlength>4</D:getcontentlength>
        <D:getcontenttype>text/plain</D:getcontenttype>
        <D:getlastmodified>Fri, 01 Mar 2024 12:00:00 GMT</D:getlastmodified>
        <D:resourcetype/>
        %s
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`

const activeLockXML = `<D:lockdiscovery><D:activelock>
  <D:locktype><D:write/></D:locktype><D:lockscope><D:exclusive/></D:lockscope>
  <D:locktoken><D:href>opaquelocktoken:abc</D:href></D:locktoken>
</D:activelock></D:lockdiscovery>`

func TestCanWriteHonorsLockDiscovery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lock := ""
		if r.URL.Path == "/locked.txt" {
			lock = activeLockXML
		}
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprintf(w, lockedMultistatus, r.URL.Path, lock)
	}))
	defer srv.Close()
	h := newHandler(nil)
	base := "webdav://" + srv.Listener.Addr().String()

	tests := []struct {
		path string
		want bool
	}{
		{"/locked.txt", false},
		{"/free.txt", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			ok, err := h.CanWrite(ctx, uri.MustParse(base+tt.path))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}

	mtime, err := h.GetMtime(ctx, uri.MustParse(base+"/free.txt"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), mtime.UTC())

	mt, err := h.GetMimetype(ctx, uri.MustParse(base+"/free.txt"))
	require.NoError(t, err)
	assert.Equal(t, "text/plain", mt)
}

func TestBackendErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	h := newHandler(nil)

	_, err := h.Exists(ctx, uri.MustParse("webdav://"+srv.Listener.Addr().String()+"/x"))
	var vfsErr *errors.VFSError
	require.True(t, errors.As(err, &vfsErr))
	assert.Equal(t, errors.ErrCodeBackend, vfsErr.Code)
	assert.Equal(t, http.StatusForbidden, vfsErr.Status)
	assert.Equal(t, "Forbidden", vfsErr.Reason)
	assert.Zero(t, h.metadata.Len())
}
