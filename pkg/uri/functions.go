package uri

import (
	"strings"
)

var defaultPorts = map[string]string{
	"http":    "80",
	"https":   "443",
	"webdav":  "80",
	"webdavs": "443",
	"sftp":    "22",
	"ssh":     "22",
	"ftp":     "21",
}

// DefaultPort returns the well known port of scheme, or "" when there is none.
func DefaultPort(scheme string) string {
	return defaultPorts[strings.ToLower(scheme)]
}

// Normalize lowercases the scheme and re-applies path normalization. It is idempotent.
func Normalize(ref Reference) Reference {
	ref.Scheme = strings.ToLower(ref.Scheme)
	p := ref.Path
	raw := p.Segments()
	trailing := p.trailing
	ref.Path = newPath(p.drive, p.rooted, raw, trailing)
	return ref
}

// Canonical is Normalize plus a lowercased host and no default port.
func Canonical(ref Reference) Reference {
	ref = Normalize(ref)
	ref.Authority.Host = strings.ToLower(ref.Authority.Host)
	if ref.Authority.Port != "" && ref.Authority.Port == DefaultPort(ref.Scheme) {
		ref.Authority.Port = ""
	}
	return ref
}

// Dirname returns a reference to the folder containing ref, with a trailing slash.
func Dirname(ref Reference) Reference {
	return ref.WithPath(ref.Path.Parent())
}

// Filename returns the last path segment of ref.
func Filename(ref Reference) string {
	return ref.Path.Name()
}

// WithNewExtension replaces the extension of the last segment with ext.
// The leading dot of ext is optional; a name without extension gains one.
func WithNewExtension(ref Reference, ext string) Reference {
	name := ref.Path.Name()
	if name == "" {
		return ref
	}
	ext = strings.TrimPrefix(ext, ".")
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	if ext != "" {
		name += "." + ext
	}
	out := ref
	segs := ref.Path.Segments()
	segs[len(segs)-1] = name
	out.Path = Path{drive: ref.Path.drive, rooted: ref.Path.rooted, segments: segs, trailing: ref.Path.trailing}
	return out
}
