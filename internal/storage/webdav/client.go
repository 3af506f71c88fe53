package webdav

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"regexp"

	"github.com/peppy/vfs/internal/auth"
	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/uri"
)

const maxRedirects = 5

var (
	realmPattern = regexp.MustCompile(`[ \t]*([^ \t]+)[ \t]+realm="([^"]*)"`)
	hrefPattern  = regexp.MustCompile(`<a +href="([^"]+)">`)
)

// reply is a fully read HTTP response together with the reference that
// answered it once redirects were followed.
type reply struct {
	status int
	header http.Header
	body   []byte
	ref    uri.Reference
}

// httpScheme maps webdav to http and webdavs to https.
func httpScheme(scheme string) string {
	if scheme == "webdavs" {
		return "https"
	}
	return "http"
}

func davScheme(scheme string) string {
	switch scheme {
	case "https":
		return "webdavs"
	case "http":
		return "webdav"
	}
	return scheme
}

// httpURL is the wire form of ref: http scheme, no userinfo, no fragment.
func httpURL(ref uri.Reference) string {
	u := ref.URL()
	u.Scheme = httpScheme(ref.Scheme)
	u.User = nil
	u.Fragment = ""
	return u.String()
}

// cacheKey is the canonical string used by the metadata and redirect caches:
// http scheme, no userinfo, no default port, no trailing slash except on the root.
func cacheKey(ref uri.Reference) string {
	r := uri.Canonical(ref.WithoutUserinfo())
	r = r.WithPath(r.Path.WithTrailingSlash(false))
	if r.Path.IsEmpty() {
		r = r.WithPath(uri.Root())
	}
	r.Scheme = httpScheme(r.Scheme)
	return r.String()
}

func hostPort(ref uri.Reference) (string, string) {
	port := ref.Authority.Port
	if port == "" {
		port = uri.DefaultPort(ref.Scheme)
	}
	return ref.Authority.Host, port
}

func parseRealm(header http.Header) (scheme, realm string, ok bool) {
	for _, v := range header.Values("WWW-Authenticate") {
		if m := realmPattern.FindStringSubmatch(v); m != nil {
			return m[1], m[2], true
		}
	}
	return "", "", false
}

// redirectTarget reads the new location of a 301 from the Location header,
// falling back to the link in the body.
func redirectTarget(from uri.Reference, header http.Header, body []byte) (uri.Reference, bool) {
	loc := header.Get("Location")
	if loc == "" {
		m := hrefPattern.FindSubmatch(body)
		if m == nil {
			return uri.Reference{}, false
		}
		loc = string(m[1])
	}
	ref, err := uri.Parse(loc)
	if err != nil {
		return uri.Reference{}, false
	}
	ref.Scheme = davScheme(ref.Scheme)
	next := from.Resolve(ref)
	next.Authority.Userinfo = from.Authority.Userinfo
	return next, true
}

// redirected returns where ref was last redirected to, or ref itself.
func (h *Handler) redirected(ref uri.Reference) uri.Reference {
	if next, ok := h.redirects.Get(cacheKey(ref)); ok {
		return next
	}
	return ref
}

// credentials returns the userinfo of ref, else whatever the broker cached for its host.
func (h *Handler) credentials(ref uri.Reference) (creds auth.Credentials, fromCache, ok bool) {
	if ref.Authority.Userinfo != "" {
		pass, _ := ref.Authority.Password()
		return auth.Credentials{Username: ref.Authority.Username(), Password: pass}, false, true
	}
	host, port := hostPort(ref)
	creds, ok = h.broker.Lookup(host, port)
	return creds, ok, ok
}

// roundTrip sends one request, following 301 redirects and answering a 401
// with a single prompt through the broker. Credentials are cached only once
// the server stops answering 401. Status codes are left to the caller.
func (h *Handler) roundTrip(ctx context.Context, method string, ref uri.Reference, body []byte, header http.Header) (*reply, error) {
	target := h.redirected(ref)
	creds, fromCache, haveCreds := h.credentials(target)
	prompted := false

	for hops := 0; ; {
		req, err := http.NewRequestWithContext(ctx, method, httpURL(target), bytes.NewReader(body))
		if err != nil {
			return nil, errors.Parse(target.String(), err.Error())
		}
		for k, v := range header {
			req.Header[k] = v
		}
		if h.userAgent != "" {
			req.Header.Set("User-Agent", h.userAgent)
		}
		if haveCreds {
			req.SetBasicAuth(creds.Username, creds.Password)
		}

		resp, err := h.client.Do(req)
		if err != nil {
			return nil, errors.Network(target, err).WithComponent(component).WithOperation(method)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, errors.Network(target, err).WithComponent(component).WithOperation(method)
		}

		host, port := hostPort(target)
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			if prompted {
				return nil, errors.AuthFailed(host).WithReference(target).WithComponent(component).WithOperation(method)
			}
			scheme, realm, ok := parseRealm(resp.Header)
			if !ok {
				return nil, errors.AuthFailed(host).WithReference(target).WithComponent(component).WithOperation(method)
			}
			if fromCache {
				h.broker.Forget(host, port)
			}
			suggested := target.Authority.Username()
			if suggested == "" {
				suggested = creds.Username
			}
			h.logger.Info().Str("host", host).Str("scheme", scheme).Str("realm", realm).Msg("server requires authentication")
			if creds, err = h.broker.Prompt(host, target.Scheme, realm, suggested); err != nil {
				return nil, err
			}
			haveCreds, prompted, fromCache = true, true, false
			continue

		case http.StatusMovedPermanently:
			next, ok := redirectTarget(target, resp.Header, data)
			if ok && hops < maxRedirects {
				hops++
				h.logger.Debug().Str("from", target.String()).Str("to", next.String()).Msg("redirected")
				h.redirects.Put(cacheKey(ref), next)
				target = next
				continue
			}
		}

		if haveCreds {
			h.broker.Store(host, port, creds)
		}
		return &reply{status: resp.StatusCode, header: resp.Header, body: data, ref: target}, nil
	}
}

// statusError maps an unsuccessful status to the error taxonomy.
func statusError(ref uri.Reference, op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound || status == http.StatusGone:
		return errors.NotFound(ref).WithComponent(component).WithOperation(op)
	default:
		return errors.Backend(ref, status, http.StatusText(status)).WithComponent(component).WithOperation(op)
	}
}
