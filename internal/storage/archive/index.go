package archive

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/mholt/archiver/v3"
	"github.com/nwaples/rardecode"
)

// member is one entry of an archive. Folders that only appear as the
// prefix of other members are implicit.
type member struct {
	name     string
	size     int64
	mtime    time.Time
	dir      bool
	implicit bool
}

// index is the member table of one archive, valid while the archive file
// keeps the recorded size and modification time.
type index struct {
	size     int64
	modTime  time.Time
	members  map[string]*member
	children map[string][]string
}

func (x *index) fresh(fi os.FileInfo) bool {
	return x.size == fi.Size() && x.modTime.Equal(fi.ModTime())
}

// lookup finds a member by its inner path. The empty path is the archive root.
func (x *index) lookup(inner string) *member {
	if inner == "" {
		return &member{dir: true, mtime: x.modTime}
	}
	return x.members[inner]
}

// cleanName strips the decorations different producers put on member
// names: "./" prefixes, leading slashes and one or more trailing slashes.
func cleanName(name string) string {
	name = path.Clean("/" + name)
	return strings.TrimPrefix(name, "/")
}

// compressedTars recognizes compressed tarballs by the magic number of the
// compression stream; archiver.ByHeader only knows plain containers.
var compressedTars = []struct {
	magic  []byte
	walker func() archiver.Walker
}{
	{[]byte{0x1f, 0x8b}, func() archiver.Walker { return archiver.NewTarGz() }},
	{[]byte("BZh"), func() archiver.Walker { return archiver.NewTarBz2() }},
	{[]byte{0xfd, '7', 'z', 'X', 'Z', 0x00}, func() archiver.Walker { return archiver.NewTarXz() }},
	{[]byte{0x28, 0xb5, 0x2f, 0xfd}, func() archiver.Walker { return archiver.NewTarZstd() }},
	{[]byte{0x04, 0x22, 0x4d, 0x18}, func() archiver.Walker { return archiver.NewTarLz4() }},
}

// walker opens the archive at p with the format found in its header.
func walker(p string) (archiver.Walker, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, 6)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	for _, c := range compressedTars {
		if bytes.HasPrefix(head[:n], c.magic) {
			return c.walker(), nil
		}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	u, err := archiver.ByHeader(f)
	if err != nil {
		return nil, err
	}
	w, ok := u.(archiver.Walker)
	if !ok {
		return nil, fmt.Errorf("%T archives cannot be listed", u)
	}
	return w, nil
}

// memberName returns the full stored name; FileInfo.Name is only the base.
func memberName(f archiver.File) string {
	switch h := f.Header.(type) {
	case *tar.Header:
		return h.Name
	case zip.FileHeader:
		return h.Name
	case *zip.FileHeader:
		return h.Name
	case *rardecode.FileHeader:
		return h.Name
	}
	return f.Name()
}

// buildIndex walks every member header of the archive at p.
func buildIndex(p string, fi os.FileInfo) (*index, error) {
	w, err := walker(p)
	if err != nil {
		return nil, err
	}

	x := &index{
		size:     fi.Size(),
		modTime:  fi.ModTime(),
		members:  make(map[string]*member),
		children: make(map[string][]string),
	}
	err = w.Walk(p, func(f archiver.File) error {
		name := cleanName(memberName(f))
		if name == "" {
			return nil
		}
		x.add(&member{
			name:  name,
			size:  f.Size(),
			mtime: f.ModTime(),
			dir:   f.IsDir(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, names := range x.children {
		sort.Strings(names)
	}
	return x, nil
}

// add records m and every folder above it. A member listed more than once,
// as tar producers do for "dir", "dir/" and "dir//", is kept once.
func (x *index) add(m *member) {
	if prev, ok := x.members[m.name]; ok {
		if prev.implicit {
			x.members[m.name] = m
		}
		return
	}
	x.members[m.name] = m

	parent := path.Dir(m.name)
	if parent == "." {
		parent = ""
	}
	x.children[parent] = append(x.children[parent], path.Base(m.name))
	if parent != "" {
		if _, ok := x.members[parent]; !ok {
			x.add(&member{name: parent, dir: true, implicit: true, mtime: m.mtime})
		}
	}
}

// extract reads the content of the member stored under inner.
func extract(p, inner string) ([]byte, error) {
	w, err := walker(p)
	if err != nil {
		return nil, err
	}
	var data []byte
	found := false
	err = w.Walk(p, func(f archiver.File) error {
		if f.IsDir() || cleanName(memberName(f)) != inner {
			return nil
		}
		var err error
		if data, err = io.ReadAll(f); err != nil {
			return err
		}
		found = true
		return archiver.ErrStopWalk
	})
	if err != nil && err != archiver.ErrStopWalk {
		return nil, err
	}
	if !found {
		return nil, os.ErrNotExist
	}
	return data, nil
}
