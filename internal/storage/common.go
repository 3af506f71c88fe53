// Package storage holds the helpers shared by the scheme handlers in its
// subpackages.
package storage

import (
	"context"
	"mime"
	"path"
	"strings"

	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/types"
	"github.com/peppy/vfs/pkg/uri"
)

// FolderMimeType is reported for folders by every handler.
const FolderMimeType = "httpd/unix-directory"

// DefaultMimeType is reported for files with no known extension.
const DefaultMimeType = "application/octet-stream"

// MimeType guesses the type of name from its extension.
func MimeType(name string, isFolder bool) string {
	if isFolder {
		return FolderMimeType
	}
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return DefaultMimeType
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return DefaultMimeType
	}
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}

// ReadOnly implements the mutating half of types.Handler by refusing it.
// Read-only handlers embed it.
type ReadOnly struct {
	Component string
}

func (r ReadOnly) refuse(ref uri.Reference, op string) error {
	return errors.ReadOnly(ref, op).WithComponent(r.Component)
}

func (r ReadOnly) CanWrite(ctx context.Context, ref uri.Reference) (bool, error) {
	return false, nil
}

func (r ReadOnly) MakeFile(ctx context.Context, ref uri.Reference) (types.File, error) {
	return nil, r.refuse(ref, "make_file")
}

func (r ReadOnly) MakeFolder(ctx context.Context, ref uri.Reference) error {
	return r.refuse(ref, "make_folder")
}

func (r ReadOnly) Remove(ctx context.Context, ref uri.Reference) error {
	return r.refuse(ref, "remove")
}

func (r ReadOnly) Move(ctx context.Context, src, dst uri.Reference) error {
	return r.refuse(src, "move")
}

// CheckReadMode rejects any writable mode on a read-only handler.
func (r ReadOnly) CheckReadMode(ref uri.Reference, mode types.Mode) error {
	if mode.Writable() {
		return r.refuse(ref, "open")
	}
	return nil
}

// BaseName returns the last unescaped segment of a path string, ignoring a trailing slash.
func BaseName(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
