package uri

import (
	"strings"
)

// Path is a normalized hierarchical path. The zero value is the empty relative path.
//
// Paths are immutable values: every operation returns a new Path and never
// modifies the segment slice of its receiver.
type Path struct {
	drive    string // "c:" on drive-letter paths
	segments []string
	rooted   bool // leading slash
	trailing bool // trailing slash, the path names a folder
}

// ParsePath builds a Path from an unescaped slash separated string and normalizes it.
// A leading drive letter ("c:/x", "C:\x", "c:x") is kept as a drive and lowercased.
func ParsePath(s string) Path {
	var drive string
	if isDrive(s) {
		drive = strings.ToLower(s[:1]) + ":"
		s = strings.ReplaceAll(s[2:], `\`, "/")
	}
	rooted := strings.HasPrefix(s, "/")
	s = strings.TrimPrefix(s, "/")
	if s == "" {
		return newPath(drive, rooted, nil, false)
	}
	raw := strings.Split(s, "/")
	return newPath(drive, rooted, raw, isDirMarker(raw[len(raw)-1]))
}

// Root returns the absolute root path "/".
func Root() Path {
	return Path{rooted: true}
}

func isDrive(s string) bool {
	if len(s) < 2 || s[1] != ':' {
		return false
	}
	c := s[0]
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}

func isDirMarker(seg string) bool {
	return seg == "" || seg == "." || seg == ".."
}

// newPath applies the normalization rules: empty and "." segments vanish, ".."
// cancels its predecessor, and ".." escaping an absolute root is dropped.
func newPath(drive string, rooted bool, raw []string, trailing bool) Path {
	absolute := rooted || drive != ""
	segs := make([]string, 0, len(raw))
	for _, s := range raw {
		switch s {
		case "", ".":
		case "..":
			if n := len(segs); n > 0 && segs[n-1] != ".." {
				segs = segs[:n-1]
			} else if !absolute {
				segs = append(segs, "..")
			}
		default:
			segs = append(segs, s)
		}
	}
	if len(raw) > 0 && isDirMarker(raw[len(raw)-1]) {
		trailing = true
	}
	if len(segs) == 0 && absolute {
		trailing = false
	}
	return Path{drive: drive, segments: segs, rooted: rooted, trailing: trailing}
}

// IsAbsolute reports whether the path starts at a root or a drive.
func (p Path) IsAbsolute() bool {
	return p.rooted || p.drive != ""
}

// IsEmpty reports whether p is the empty relative path "".
func (p Path) IsEmpty() bool {
	return p.drive == "" && !p.rooted && !p.trailing && len(p.segments) == 0
}

// IsRoot reports whether p is "/" or a bare drive root.
func (p Path) IsRoot() bool {
	return p.IsAbsolute() && len(p.segments) == 0
}

func (p Path) HasTrailingSlash() bool { return p.trailing }

func (p Path) Drive() string { return p.drive }

func (p Path) Len() int { return len(p.segments) }

// Segments returns a copy of the path segments.
func (p Path) Segments() []string {
	return append([]string(nil), p.segments...)
}

// Name returns the final segment, or "" for a root or empty path.
func (p Path) Name() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the containing folder, always with a trailing slash.
func (p Path) Parent() Path {
	if len(p.segments) == 0 {
		return p
	}
	n := len(p.segments) - 1
	return Path{
		drive:    p.drive,
		rooted:   p.rooted,
		segments: p.segments[:n:n],
		trailing: n > 0,
	}
}

// WithTrailingSlash returns p with the trailing slash flag set to on.
func (p Path) WithTrailingSlash(on bool) Path {
	if len(p.segments) == 0 && p.IsAbsolute() {
		return p
	}
	p.trailing = on
	return p
}

// Equal reports whether both paths have the same drive, segments and flags.
func (p Path) Equal(o Path) bool {
	if p.drive != o.drive || p.rooted != o.rooted || p.trailing != o.trailing {
		return false
	}
	if len(p.segments) != len(o.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != o.segments[i] {
			return false
		}
	}
	return true
}

// dir is the segment list of the folder p lives in: p itself when it ends
// in a slash, p without its last segment otherwise.
func (p Path) dir() []string {
	if p.trailing || len(p.segments) == 0 {
		return p.segments
	}
	return p.segments[:len(p.segments)-1]
}

func (p Path) join(base []string, r Path) Path {
	raw := make([]string, 0, len(base)+len(r.segments))
	raw = append(raw, base...)
	raw = append(raw, r.segments...)
	trailing := r.trailing
	if len(r.segments) == 0 {
		trailing = true
	}
	return newPath(p.drive, p.rooted, raw, trailing)
}

// Resolve resolves r against p the way a browser resolves a relative link:
// the final segment of p is replaced unless p ends in a slash.
func (p Path) Resolve(r Path) Path {
	if r.IsAbsolute() {
		return r
	}
	if r.IsEmpty() {
		return p
	}
	return p.join(p.dir(), r)
}

// Resolve2 appends r to p as if p were a folder, whatever its trailing slash.
func (p Path) Resolve2(r Path) Path {
	if r.IsAbsolute() {
		return r
	}
	if r.IsEmpty() {
		return p
	}
	return p.join(p.segments, r)
}

// Join is Resolve2 over unescaped names.
func (p Path) Join(names ...string) Path {
	return p.Resolve2(ParsePath(strings.Join(names, "/")))
}

// PathTo returns the relative path that resolves against p to target.
// Paths on different roots have no relative form and target is returned.
func (p Path) PathTo(target Path) Path {
	if p.drive != target.drive || p.IsAbsolute() != target.IsAbsolute() {
		return target
	}
	dir := p.dir()
	i := 0
	for i < len(dir) && i < len(target.segments) && dir[i] == target.segments[i] {
		i++
	}
	raw := make([]string, 0, len(dir)-i+len(target.segments)-i)
	for range dir[i:] {
		raw = append(raw, "..")
	}
	raw = append(raw, target.segments[i:]...)
	if len(raw) == 0 {
		return Path{trailing: true}
	}
	trailing := target.trailing || raw[len(raw)-1] == ".."
	return Path{segments: raw, trailing: trailing}
}

// PathToRoot returns "../" repeated once per folder level below the root,
// e.g. "/a/b" gives "../" and "/a" gives "".
func (p Path) PathToRoot() string {
	n := len(p.segments) - 1
	if n <= 0 {
		return ""
	}
	return strings.Repeat("../", n)
}

// Prefix returns the longest common leading path of p and o.
func (p Path) Prefix(o Path) Path {
	i := 0
	for i < len(p.segments) && i < len(o.segments) && p.segments[i] == o.segments[i] {
		i++
	}
	return Path{drive: p.drive, rooted: p.rooted, segments: p.segments[:i:i]}
}

// HasPrefix reports whether every segment of prefix leads p.
func (p Path) HasPrefix(prefix Path) bool {
	if p.drive != prefix.drive || p.rooted != prefix.rooted || len(prefix.segments) > len(p.segments) {
		return false
	}
	for i, s := range prefix.segments {
		if p.segments[i] != s {
			return false
		}
	}
	return true
}

// String returns the unescaped form, suitable for host filesystem calls.
func (p Path) String() string {
	return p.format(func(s string) string { return s })
}

// Escaped returns the form used inside a URI reference.
func (p Path) Escaped() string {
	return p.format(escapeSegment)
}

func (p Path) format(esc func(string) string) string {
	var b strings.Builder
	b.WriteString(p.drive)
	if p.rooted {
		b.WriteByte('/')
	}
	for i, s := range p.segments {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(esc(s))
	}
	if p.trailing {
		if len(p.segments) > 0 {
			b.WriteByte('/')
		} else if !p.IsAbsolute() {
			b.WriteString("./")
		}
	}
	return b.String()
}

const hexDigits = "0123456789ABCDEF"

func shouldEscape(c byte) bool {
	return c == '%' || c == '#' || c == '?' || c == '/' || c == ' ' || c < 0x20 || c == 0x7f
}

func escapeSegment(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if shouldEscape(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}
	buf := make([]byte, 0, len(s)+2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if shouldEscape(c) {
			buf = append(buf, '%', hexDigits[c>>4], hexDigits[c&15])
		} else {
			buf = append(buf, c)
		}
	}
	return string(buf)
}
