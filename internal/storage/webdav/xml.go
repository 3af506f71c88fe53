package webdav

import (
	"encoding/xml"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/peppy/vfs/internal/storage"
)

const propfindBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:"><D:allprop/></D:propfind>`

const lockBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner><D:href>peppy-vfs</D:href></D:owner>
</D:lockinfo>`

type multistatus struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href      string     `xml:"DAV: href"`
	Propstats []propstat `xml:"DAV: propstat"`
}

type propstat struct {
	Prop   prop   `xml:"DAV: prop"`
	Status string `xml:"DAV: status"`
}

type prop struct {
	ContentType   string         `xml:"DAV: getcontenttype"`
	ContentLength string         `xml:"DAV: getcontentlength"`
	LastModified  string         `xml:"DAV: getlastmodified"`
	CreationDate  string         `xml:"DAV: creationdate"`
	ResourceType  resourceType   `xml:"DAV: resourcetype"`
	LockDiscovery *lockDiscovery `xml:"DAV: lockdiscovery"`
}

type resourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

type lockDiscovery struct {
	ActiveLocks []activeLock `xml:"DAV: activelock"`
}

type activeLock struct {
	Token string `xml:"DAV: locktoken>href"`
}

// lockResponse is the body of a successful LOCK.
type lockResponse struct {
	XMLName       xml.Name      `xml:"DAV: prop"`
	LockDiscovery lockDiscovery `xml:"DAV: lockdiscovery"`
}

// resource is the decoded property set of one PROPFIND response.
type resource struct {
	path        string // unescaped, as reported by the server
	contentType string
	size        int64
	mtime       time.Time
	ctime       time.Time
	collection  bool
	locked      bool
}

func (r *resource) isFolder() bool {
	return r.collection || r.contentType == storage.FolderMimeType
}

// listing is a cached PROPFIND result: the requested resource and its
// immediate children.
type listing struct {
	self     *resource
	children []resource
}

// names returns the last path segment of every child.
func (l *listing) names() []string {
	names := make([]string, 0, len(l.children))
	for _, c := range l.children {
		if name := storage.BaseName(c.path); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func okStatus(status string) bool {
	if status == "" {
		return true
	}
	fields := strings.Fields(status)
	return len(fields) >= 2 && strings.HasPrefix(fields[1], "2")
}

func hrefPath(href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return u.Path
}

func (r davResponse) resource() resource {
	res := resource{path: hrefPath(r.Href)}
	for _, ps := range r.Propstats {
		if !okStatus(ps.Status) {
			continue
		}
		p := ps.Prop
		if p.ContentType != "" {
			res.contentType = p.ContentType
		}
		if n, err := strconv.ParseInt(strings.TrimSpace(p.ContentLength), 10, 64); err == nil {
			res.size = n
		}
		if t, err := http.ParseTime(strings.TrimSpace(p.LastModified)); err == nil {
			res.mtime = t
		}
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(p.CreationDate)); err == nil {
			res.ctime = t
		}
		if p.ResourceType.Collection != nil {
			res.collection = true
		}
		if p.LockDiscovery != nil && len(p.LockDiscovery.ActiveLocks) > 0 {
			res.locked = true
		}
	}
	return res
}

// parseMultistatus decodes a depth 1 PROPFIND body and picks out the
// resource at path. Servers that report the resource under a different
// href get their first response taken as the resource itself.
func parseMultistatus(body []byte, path string) (*listing, error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, err
	}

	want := strings.TrimRight(path, "/")
	l := &listing{}
	selfIdx := -1
	resources := make([]resource, len(ms.Responses))
	for i, r := range ms.Responses {
		resources[i] = r.resource()
		if selfIdx < 0 && strings.TrimRight(resources[i].path, "/") == want {
			selfIdx = i
		}
	}
	if selfIdx < 0 && len(resources) > 0 {
		selfIdx = 0
	}
	for i := range resources {
		if i == selfIdx {
			l.self = &resources[i]
			continue
		}
		l.children = append(l.children, resources[i])
	}
	return l, nil
}

// lockToken extracts the token from a LOCK reply, preferring the header.
func lockToken(header http.Header, body []byte) string {
	if t := strings.Trim(strings.TrimSpace(header.Get("Lock-Token")), "<>"); t != "" {
		return t
	}
	var lr lockResponse
	if err := xml.Unmarshal(body, &lr); err != nil {
		return ""
	}
	for _, al := range lr.LockDiscovery.ActiveLocks {
		if t := strings.TrimSpace(al.Token); t != "" {
			return t
		}
	}
	return ""
}
