package uri

import (
	"net/url"
	"strings"

	"github.com/peppy/vfs/pkg/errors"
)

// Authority is the userinfo@host:port part of a reference.
type Authority struct {
	Userinfo string
	Host     string
	Port     string
}

// IsZero reports whether no authority component is set.
func (a Authority) IsZero() bool {
	return a.Userinfo == "" && a.Host == "" && a.Port == ""
}

// Username returns the user part of the userinfo.
func (a Authority) Username() string {
	user, _, _ := strings.Cut(a.Userinfo, ":")
	return user
}

// Password returns the password part of the userinfo and whether one was given.
func (a Authority) Password() (string, bool) {
	_, pass, ok := strings.Cut(a.Userinfo, ":")
	return pass, ok
}

// HostPort returns host:port, bracketing IPv6 hosts.
func (a Authority) HostPort() string {
	host := a.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if a.Port == "" {
		return host
	}
	return host + ":" + a.Port
}

func (a Authority) String() string {
	if a.Userinfo == "" {
		return a.HostPort()
	}
	return a.Userinfo + "@" + a.HostPort()
}

// Reference is a parsed URI reference. A blank Scheme denotes a relative reference.
type Reference struct {
	Scheme    string
	Authority Authority
	Path      Path
	Query     string
	Fragment  string

	// netloc records that "//" was present so that file:///x formats back unchanged.
	netloc bool
}

// Parse decomposes s into a Reference. The scheme does not need a registered handler.
//
// A single letter scheme is a Windows drive: "c:/x" and "C:\x" become file
// references with path "c:/x". Percent escapes in the path are decoded.
func Parse(s string) (Reference, error) {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c < 0x20 || c == 0x7f {
			return Reference{}, errors.Parse(s, "control character in reference")
		}
	}

	var ref Reference
	rest := s
	if scheme, after, ok := splitScheme(s); ok {
		if len(scheme) == 1 {
			return parseDrive(s), nil
		}
		ref.Scheme = strings.ToLower(scheme)
		rest = after
	}

	if i := strings.IndexByte(rest, '#'); i >= 0 {
		ref.Fragment = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		ref.Query = rest[i+1:]
		rest = rest[:i]
	}

	if strings.HasPrefix(rest, "//") {
		ref.netloc = true
		rest = rest[2:]
		end := strings.IndexByte(rest, '/')
		if end < 0 {
			end = len(rest)
		}
		auth, err := parseAuthority(rest[:end])
		if err != nil {
			return Reference{}, errors.Parse(s, err.Error())
		}
		ref.Authority = auth
		rest = rest[end:]
	}

	// file:///c:/x carries the drive after the authority slash.
	if (ref.Scheme == "file" || ref.Scheme == "") && len(rest) > 2 && rest[0] == '/' && isDrive(rest[1:]) {
		rest = rest[1:]
	}

	ref.Path = parseEscapedPath(rest)
	return ref, nil
}

// MustParse is like Parse but panics on error. It is meant for constants and tests.
func MustParse(s string) Reference {
	ref, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return ref
}

func splitScheme(s string) (scheme, rest string, ok bool) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9' || c == '+' || c == '-' || c == '.':
			if i == 0 {
				return "", s, false
			}
		case c == ':':
			if i == 0 {
				return "", s, false
			}
			return s[:i], s[i+1:], true
		default:
			return "", s, false
		}
	}
	return "", s, false
}

// parseDrive handles bare Windows paths. Only a numeric fragment, used as a
// line number, is split off; any other '#' belongs to the file name.
func parseDrive(s string) Reference {
	ref := Reference{Scheme: "file", netloc: true}
	if i := strings.LastIndexByte(s, '#'); i >= 0 && isDigits(s[i+1:]) {
		ref.Fragment = s[i+1:]
		s = s[:i]
	}
	ref.Path = ParsePath(s)
	return ref
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

type authorityError string

func (e authorityError) Error() string { return string(e) }

func parseAuthority(s string) (Authority, error) {
	var a Authority
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		a.Userinfo = unescape(s[:i])
		s = s[i+1:]
	}
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return a, authorityError("unterminated IPv6 host")
		}
		a.Host = s[1:end]
		s = s[end+1:]
		if s != "" && s[0] != ':' {
			return a, authorityError("garbage after IPv6 host")
		}
		if s != "" {
			a.Port = s[1:]
		}
	} else if i := strings.LastIndexByte(s, ':'); i >= 0 {
		a.Host, a.Port = s[:i], s[i+1:]
	} else {
		a.Host = s
	}
	if a.Port != "" && !isDigits(a.Port) {
		return a, authorityError("invalid port " + a.Port)
	}
	return a, nil
}

func unescape(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	u, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return u
}

func parseEscapedPath(s string) Path {
	if !strings.Contains(s, "%") {
		return ParsePath(s)
	}
	var drive string
	if isDrive(s) {
		drive, s = strings.ToLower(s[:2]), s[2:]
	}
	rooted := strings.HasPrefix(s, "/")
	raw := strings.Split(strings.TrimPrefix(s, "/"), "/")
	trailing := isDirMarker(raw[len(raw)-1])
	for i, seg := range raw {
		if !isDirMarker(seg) {
			raw[i] = unescape(seg)
		}
	}
	return newPath(drive, rooted, raw, trailing)
}

// IsRelative reports whether the reference has no scheme.
func (r Reference) IsRelative() bool {
	return r.Scheme == ""
}

// IsComplete reports whether the reference has both a scheme and an absolute path.
func (r Reference) IsComplete() bool {
	return r.Scheme != "" && r.Path.IsAbsolute()
}

// HasAuthority reports whether "//" was present or an authority is set.
func (r Reference) HasAuthority() bool {
	return r.netloc || !r.Authority.IsZero()
}

// Equal compares all five components.
func (r Reference) Equal(o Reference) bool {
	return r.Scheme == o.Scheme &&
		r.Authority == o.Authority &&
		r.Path.Equal(o.Path) &&
		r.Query == o.Query &&
		r.Fragment == o.Fragment
}

// String formats the reference. Path segments are escaped; query and fragment are emitted as stored.
func (r Reference) String() string {
	var b strings.Builder
	if r.Scheme != "" {
		b.WriteString(r.Scheme)
		b.WriteByte(':')
	}
	if r.HasAuthority() {
		b.WriteString("//")
		b.WriteString(r.Authority.String())
		// A drive right after "//" would read back as a host.
		if (!r.Path.rooted && !r.Path.IsEmpty()) || (r.Authority.IsZero() && r.Path.drive != "") {
			b.WriteByte('/')
		}
	}
	b.WriteString(r.Path.Escaped())
	if r.Query != "" {
		b.WriteByte('?')
		b.WriteString(r.Query)
	}
	if r.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(r.Fragment)
	}
	return b.String()
}

// WithPath returns a copy of r pointing at p, without query or fragment.
func (r Reference) WithPath(p Path) Reference {
	r.Path = p
	r.Query = ""
	r.Fragment = ""
	if r.Authority.IsZero() && !r.netloc && r.Scheme == "file" && p.Drive() != "" {
		r.netloc = true
	}
	return r
}

// WithoutUserinfo drops the userinfo from the authority.
func (r Reference) WithoutUserinfo() Reference {
	r.Authority.Userinfo = ""
	return r
}

// Resolve resolves ref against r following RFC 3986 section 5.2.
func (r Reference) Resolve(ref Reference) Reference {
	if ref.Scheme != "" {
		return Normalize(ref)
	}
	out := Reference{Scheme: r.Scheme, Fragment: ref.Fragment}
	if ref.HasAuthority() {
		out.Authority = ref.Authority
		out.netloc = true
		out.Path = ref.Path
		out.Query = ref.Query
		return out
	}
	out.Authority = r.Authority
	out.netloc = r.netloc
	base := r.Path
	if r.HasAuthority() && base.IsEmpty() {
		base = Root()
	}
	if ref.Path.IsEmpty() {
		out.Path = r.Path
		out.Query = r.Query
		if ref.Query != "" {
			out.Query = ref.Query
		}
		return out
	}
	out.Path = base.Resolve(ref.Path)
	out.Query = ref.Query
	return out
}

// Resolve2 appends the unescaped relative path x to r as if r were a folder.
func (r Reference) Resolve2(x string) Reference {
	base := r.Path
	if r.HasAuthority() && base.IsEmpty() {
		base = Root()
	}
	return r.WithPath(base.Resolve2(ParsePath(x)))
}

// URL converts r to a net/url URL with the same scheme.
func (r Reference) URL() *url.URL {
	u := &url.URL{
		Scheme:   r.Scheme,
		Host:     r.Authority.HostPort(),
		Path:     r.Path.String(),
		RawQuery: r.Query,
		Fragment: r.Fragment,
	}
	if r.Authority.Userinfo != "" {
		if pass, ok := r.Authority.Password(); ok {
			u.User = url.UserPassword(r.Authority.Username(), pass)
		} else {
			u.User = url.User(r.Authority.Username())
		}
	}
	if u.Path == "" && u.Host != "" {
		u.Path = "/"
	}
	return u
}
