// Package httpfs serves http and https references read-only: HEAD for
// metadata, GET for content.
package httpfs

import (
	"context"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/peppy/vfs/internal/buffer"
	"github.com/peppy/vfs/internal/storage"
	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/retry"
	"github.com/peppy/vfs/pkg/types"
	"github.com/peppy/vfs/pkg/uri"
)

const component = "http"

// Config represents HTTP handler settings
type Config struct {
	Timeout   time.Duration
	UserAgent string
	Retry     retry.Config
	// Client overrides the default client, mostly for tests.
	Client *http.Client
}

// Handler implements types.Handler for http and https. Mutations fail with READ_ONLY.
type Handler struct {
	storage.ReadOnly

	client    *http.Client
	retryer   *retry.Retryer
	userAgent string
	logger    zerolog.Logger
}

// New creates an HTTP handler.
func New(cfg Config, logger zerolog.Logger) *Handler {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Handler{
		ReadOnly:  storage.ReadOnly{Component: component},
		client:    client,
		retryer:   retry.New(cfg.Retry),
		userAgent: cfg.UserAgent,
		logger:    logger.With().Str("component", component).Logger(),
	}
}

// metadata is what a HEAD reports about a resource.
type metadata struct {
	size        int64
	mtime       time.Time
	contentType string
}

// do issues an idempotent request with retries and returns the successful response.
// The caller closes the body.
func (h *Handler) do(ctx context.Context, method string, ref uri.Reference) (*http.Response, error) {
	var resp *http.Response
	err := h.retryer.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, ref.URL().String(), nil)
		if err != nil {
			return errors.Parse(ref.String(), err.Error())
		}
		if h.userAgent != "" {
			req.Header.Set("User-Agent", h.userAgent)
		}

		r, err := h.client.Do(req)
		if err != nil {
			return errors.Network(ref, err).WithComponent(component).WithOperation(method)
		}
		if err := checkStatus(ref, method, r); err != nil {
			r.Body.Close()
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}

func checkStatus(ref uri.Reference, method string, r *http.Response) error {
	switch {
	case r.StatusCode >= 200 && r.StatusCode < 300:
		return nil
	case r.StatusCode == http.StatusNotFound || r.StatusCode == http.StatusGone:
		return errors.NotFound(ref).WithComponent(component).WithOperation(method)
	default:
		return errors.Backend(ref, r.StatusCode, http.StatusText(r.StatusCode)).WithComponent(component).WithOperation(method)
	}
}

func (h *Handler) head(ctx context.Context, ref uri.Reference) (metadata, error) {
	resp, err := h.do(ctx, http.MethodHead, ref)
	if err != nil {
		return metadata{}, err
	}
	resp.Body.Close()

	md := metadata{size: resp.ContentLength, mtime: time.Unix(0, 0).UTC()}
	if md.size < 0 {
		md.size = 0
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			md.mtime = t
		}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			md.contentType = mt
		}
	}
	return md, nil
}

func (h *Handler) Exists(ctx context.Context, ref uri.Reference) (bool, error) {
	_, err := h.head(ctx, ref)
	if errors.Is(err, errors.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// IsFile is Exists: every HTTP resource is a file.
func (h *Handler) IsFile(ctx context.Context, ref uri.Reference) (bool, error) {
	return h.Exists(ctx, ref)
}

func (h *Handler) IsFolder(ctx context.Context, ref uri.Reference) (bool, error) {
	return false, nil
}

func (h *Handler) CanRead(ctx context.Context, ref uri.Reference) (bool, error) {
	return h.Exists(ctx, ref)
}

func (h *Handler) GetSize(ctx context.Context, ref uri.Reference) (int64, error) {
	md, err := h.head(ctx, ref)
	return md.size, err
}

// GetMtime parses Last-Modified; a resource without one reports the Unix epoch.
func (h *Handler) GetMtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	md, err := h.head(ctx, ref)
	return md.mtime, err
}

func (h *Handler) GetAtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	return h.GetMtime(ctx, ref)
}

func (h *Handler) GetCtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	return h.GetMtime(ctx, ref)
}

// GetMimetype reports Content-Type without parameters, guessing from the name when absent.
func (h *Handler) GetMimetype(ctx context.Context, ref uri.Reference) (string, error) {
	md, err := h.head(ctx, ref)
	if err != nil {
		return "", err
	}
	if md.contentType != "" {
		return md.contentType, nil
	}
	return storage.MimeType(ref.Path.Name(), false), nil
}

// Open reads the whole body into a read-only buffer.
func (h *Handler) Open(ctx context.Context, ref uri.Reference, mode types.Mode) (types.File, error) {
	if err := h.CheckReadMode(ref, mode); err != nil {
		return nil, err
	}
	resp, err := h.do(ctx, http.MethodGet, ref)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Network(ref, err).WithComponent(component).WithOperation("open")
	}
	h.logger.Debug().Str("reference", ref.String()).Int("bytes", len(data)).Msg("fetched")
	return buffer.NewReader(ref, data), nil
}

// GetNames fails: plain HTTP has no folders.
func (h *Handler) GetNames(ctx context.Context, ref uri.Reference) ([]string, error) {
	return nil, errors.NotDirectory(ref).WithComponent(component).WithOperation("get_names")
}
