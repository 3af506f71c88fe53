package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mholt/archiver/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/types"
	"github.com/peppy/vfs/pkg/uri"
)

var (
	ctx   = context.Background()
	stamp = time.Unix(1700000000, 0)
)

type entry struct {
	name string
	body string
	dir  bool
}

// producerQuirks stores the same folder the three ways tar producers have
// written it over the years.
var producerQuirks = []entry{
	{name: "dir1", dir: true},
	{name: "dir1/", dir: true},
	{name: "dir1//", dir: true},
	{name: "dir1/inside.txt", body: "inside"},
	{name: "./top.html", body: "<p>top</p>"},
	{name: "implicit/deep/x.txt", body: "x"},
}

func writeTar(t *testing.T, w io.Writer, entries []entry) {
	t.Helper()
	tw := tar.NewWriter(w)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, ModTime: stamp, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if e.dir {
			hdr.Typeflag, hdr.Mode, hdr.Size = tar.TypeDir, 0o755, 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !e.dir {
			_, err := io.WriteString(tw, e.body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
}

func makeTar(t *testing.T, dir, name string, entries []entry) string {
	t.Helper()
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	require.NoError(t, err)
	defer f.Close()
	writeTar(t, f, entries)
	return p
}

// compressedTar returns a builder for tarballs compressed with c.
func compressedTar(c archiver.Compressor) func(*testing.T, string, string, []entry) string {
	return func(t *testing.T, dir, name string, entries []entry) string {
		t.Helper()
		var raw bytes.Buffer
		writeTar(t, &raw, entries)

		p := filepath.Join(dir, name)
		f, err := os.Create(p)
		require.NoError(t, err)
		defer f.Close()
		require.NoError(t, c.Compress(&raw, f))
		return p
	}
}

var makeTarGz = compressedTar(archiver.NewGz())

func makeZip(t *testing.T, dir, name string, entries []entry) string {
	t.Helper()
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	require.NoError(t, err)
	defer f.Close()
	zw := zip.NewWriter(f)
	for _, e := range entries {
		if e.dir {
			continue
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Modified: stamp, Method: zip.Deflate})
		require.NoError(t, err)
		_, err = io.WriteString(w, e.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return p
}

func ref(scheme, p string) uri.Reference {
	return uri.MustParse(scheme + ":" + filepath.ToSlash(p))
}

func TestCleanName(t *testing.T) {
	tests := map[string]string{
		"dir1":    "dir1",
		"dir1/":   "dir1",
		"dir1//":  "dir1",
		"./a/b":   "a/b",
		"/abs/x":  "abs/x",
		"a//b///": "a/b",
		".":       "",
		"":        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanName(in), in)
	}
}

func TestListingToleratesProducers(t *testing.T) {
	dir := t.TempDir()
	builders := map[string]func(*testing.T, string, string, []entry) string{
		"a.tar":     makeTar,
		"a.tar.gz":  makeTarGz,
		"a.tar.bz2": compressedTar(archiver.NewBz2()),
		"a.tar.xz":  compressedTar(archiver.NewXz()),
		"a.tar.zst": compressedTar(archiver.NewZstd()),
		"a.tar.lz4": compressedTar(archiver.NewLz4()),
		"a.zip":     makeZip,
		// The format is found from content, not from the name.
		"renamed.bin": compressedTar(archiver.NewBz2()),
	}

	for name, build := range builders {
		t.Run(name, func(t *testing.T) {
			p := build(t, dir, name, producerQuirks)
			h := New(Config{}, zerolog.Nop())

			names, err := h.GetNames(ctx, ref("tar", p+"/"))
			require.NoError(t, err)
			assert.Equal(t, []string{"dir1", "implicit", "top.html"}, names)

			for _, folder := range []string{"/dir1", "/dir1/", "/implicit/deep"} {
				ok, err := h.IsFolder(ctx, ref("tar", p+folder))
				require.NoError(t, err)
				assert.True(t, ok, folder)
			}

			names, err = h.GetNames(ctx, ref("tar", p+"/dir1"))
			require.NoError(t, err)
			assert.Equal(t, []string{"inside.txt"}, names)

			names, err = h.GetNames(ctx, ref("tar", p+"/implicit"))
			require.NoError(t, err)
			assert.Equal(t, []string{"deep"}, names)

			ok, err := h.IsFile(ctx, ref("tar", p+"/implicit/deep/x.txt"))
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestMemberMetadata(t *testing.T) {
	p := makeTar(t, t.TempDir(), "a.tar", producerQuirks)
	h := New(Config{}, zerolog.Nop())
	top := ref("tar", p+"/top.html")

	size, err := h.GetSize(ctx, top)
	require.NoError(t, err)
	assert.Equal(t, int64(len("<p>top</p>")), size)

	mtime, err := h.GetMtime(ctx, top)
	require.NoError(t, err)
	assert.True(t, stamp.Equal(mtime))

	mt, err := h.GetMimetype(ctx, top)
	require.NoError(t, err)
	assert.Equal(t, "text/html", mt)

	mt, err = h.GetMimetype(ctx, ref("tar", p+"/dir1"))
	require.NoError(t, err)
	assert.Equal(t, "httpd/unix-directory", mt)

	ok, err := h.Exists(ctx, ref("tar", p))
	require.NoError(t, err)
	assert.True(t, ok, "the archive itself is the root folder")

	for _, missing := range []string{p + "/nope", filepath.Join(filepath.Dir(p), "absent.tar") + "/x"} {
		ok, err = h.Exists(ctx, ref("tar", missing))
		require.NoError(t, err)
		assert.False(t, ok, missing)
	}

	_, err = h.GetSize(ctx, ref("tar", p+"/nope"))
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = h.GetNames(ctx, top)
	assert.True(t, errors.Is(err, errors.ErrNotDirectory))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	archives := []string{
		makeTarGz(t, dir, "a.tgz", producerQuirks),
		compressedTar(archiver.NewBz2())(t, dir, "a.tbz2", producerQuirks),
		makeZip(t, dir, "a.zip", producerQuirks),
	}
	for _, p := range archives {
		t.Run(filepath.Base(p), func(t *testing.T) {
			h := New(Config{}, zerolog.Nop())

			f, err := h.Open(ctx, ref("zip", p+"/dir1/inside.txt"), types.ModeRead)
			require.NoError(t, err)
			data, err := io.ReadAll(f)
			require.NoError(t, err)
			require.NoError(t, f.Close())
			assert.Equal(t, "inside", string(data))

			_, err = h.Open(ctx, ref("tar", p+"/dir1"), types.ModeRead)
			assert.True(t, errors.Is(err, errors.ErrIsDirectory))

			_, err = h.Open(ctx, ref("tar", p+"/missing"), types.ModeRead)
			assert.True(t, errors.Is(err, errors.ErrNotFound))
		})
	}
}

func TestReadOnly(t *testing.T) {
	p := makeTar(t, t.TempDir(), "a.tar", producerQuirks)
	h := New(Config{}, zerolog.Nop())
	member := ref("tar", p+"/top.html")

	_, err := h.Open(ctx, member, types.ModeWrite)
	assert.True(t, errors.Is(err, errors.ErrReadOnly))
	_, err = h.MakeFile(ctx, ref("tar", p+"/new"))
	assert.True(t, errors.Is(err, errors.ErrReadOnly))
	assert.True(t, errors.Is(h.MakeFolder(ctx, ref("tar", p+"/new")), errors.ErrReadOnly))
	assert.True(t, errors.Is(h.Remove(ctx, member), errors.ErrReadOnly))
	assert.True(t, errors.Is(h.Move(ctx, member, ref("tar", p+"/moved")), errors.ErrReadOnly))

	ok, err := h.CanWrite(ctx, member)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndexCache(t *testing.T) {
	dir := t.TempDir()
	p := makeTar(t, dir, "a.tar", producerQuirks)
	h := New(Config{MaxEntries: 4}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := h.Exists(ctx, ref("tar", p+"/top.html"))
		require.NoError(t, err)
	}
	stats := h.indexes.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, 1, h.indexes.Len())

	// Rewriting the archive invalidates its index.
	makeTar(t, dir, "a.tar", append(producerQuirks, entry{name: "late.txt", body: "late"}))
	later := stamp.Add(time.Hour)
	require.NoError(t, os.Chtimes(p, later, later))

	ok, err := h.Exists(ctx, ref("tar", p+"/late.txt"))
	require.NoError(t, err)
	assert.True(t, ok)
}
