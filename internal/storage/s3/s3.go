package s3

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/peppy/vfs/internal/buffer"
	"github.com/peppy/vfs/internal/storage"
	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/types"
	"github.com/peppy/vfs/pkg/uri"
)

const component = "s3"

// Handler implements types.Handler and types.Copier over an S3 API.
type Handler struct {
	api    ObjectAPI
	logger zerolog.Logger
}

// New creates a handler for the given client.
func New(api ObjectAPI, logger zerolog.Logger) *Handler {
	return &Handler{
		api:    api,
		logger: logger.With().Str("component", component).Logger(),
	}
}

// object describes a key or a folder prefix.
type object struct {
	size        int64
	mtime       time.Time
	contentType string
	folder      bool
}

// location splits a reference into bucket and key. The key has no leading
// or trailing slash; the bucket root has the empty key.
func location(ref uri.Reference) (bucket, key string, err error) {
	bucket = ref.Authority.Host
	if bucket == "" {
		return "", "", errors.IncompleteReference(ref, "bucket").WithComponent(component)
	}
	return bucket, strings.Trim(ref.Path.String(), "/"), nil
}

func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

func (h *Handler) translateError(ref uri.Reference, op string, err error) error {
	var e *errors.VFSError
	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NotFound](err),
		isErrorType[*s3types.NoSuchBucket](err):
		e = errors.NotFound(ref)
	default:
		e = errors.NewError(errors.ErrCodeBackend, op+" failed").WithReference(ref)
	}
	return e.WithComponent(component).WithOperation(op).WithCause(err)
}

// stat heads the key and falls back to a one-key listing to detect a
// folder. A missing path is nil without error.
func (h *Handler) stat(ctx context.Context, ref uri.Reference) (*object, error) {
	bucket, key, err := location(ref)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return &object{folder: true}, nil
	}

	out, err := h.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err == nil {
		return &object{
			size:        aws.ToInt64(out.ContentLength),
			mtime:       aws.ToTime(out.LastModified),
			contentType: aws.ToString(out.ContentType),
		}, nil
	}
	if terr := h.translateError(ref, "head", err); !errors.Is(terr, errors.ErrNotFound) {
		return nil, terr
	}

	list, err := h.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		if terr := h.translateError(ref, "list", err); !errors.Is(terr, errors.ErrNotFound) {
			return nil, terr
		}
		return nil, nil
	}
	if len(list.Contents) == 0 && len(list.CommonPrefixes) == 0 {
		return nil, nil
	}
	obj := &object{folder: true}
	if len(list.Contents) > 0 {
		obj.mtime = aws.ToTime(list.Contents[0].LastModified)
	}
	return obj, nil
}

func (h *Handler) mustStat(ctx context.Context, ref uri.Reference, op string) (*object, error) {
	obj, err := h.stat(ctx, ref)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.NotFound(ref).WithComponent(component).WithOperation(op)
	}
	return obj, nil
}

func (h *Handler) Exists(ctx context.Context, ref uri.Reference) (bool, error) {
	obj, err := h.stat(ctx, ref)
	return obj != nil, err
}

func (h *Handler) IsFile(ctx context.Context, ref uri.Reference) (bool, error) {
	obj, err := h.stat(ctx, ref)
	return obj != nil && !obj.folder, err
}

func (h *Handler) IsFolder(ctx context.Context, ref uri.Reference) (bool, error) {
	obj, err := h.stat(ctx, ref)
	return obj != nil && obj.folder, err
}

func (h *Handler) CanRead(ctx context.Context, ref uri.Reference) (bool, error) {
	return h.Exists(ctx, ref)
}

func (h *Handler) CanWrite(ctx context.Context, ref uri.Reference) (bool, error) {
	return h.Exists(ctx, ref)
}

func (h *Handler) GetSize(ctx context.Context, ref uri.Reference) (int64, error) {
	obj, err := h.mustStat(ctx, ref, "get_size")
	if err != nil {
		return 0, err
	}
	return obj.size, nil
}

func (h *Handler) GetMtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	obj, err := h.mustStat(ctx, ref, "get_mtime")
	if err != nil {
		return time.Time{}, err
	}
	if obj.mtime.IsZero() {
		return time.Unix(0, 0), nil
	}
	return obj.mtime, nil
}

// GetAtime returns the modification time; S3 tracks nothing else.
func (h *Handler) GetAtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	return h.GetMtime(ctx, ref)
}

func (h *Handler) GetCtime(ctx context.Context, ref uri.Reference) (time.Time, error) {
	return h.GetMtime(ctx, ref)
}

// GetMimetype prefers the stored Content-Type over the extension.
func (h *Handler) GetMimetype(ctx context.Context, ref uri.Reference) (string, error) {
	obj, err := h.mustStat(ctx, ref, "get_mimetype")
	if err != nil {
		return "", err
	}
	if !obj.folder && obj.contentType != "" {
		if mt, _, err := mime.ParseMediaType(obj.contentType); err == nil {
			return mt, nil
		}
	}
	return storage.MimeType(ref.Path.Name(), obj.folder), nil
}

// checkParent refuses to create below an existing object.
func (h *Handler) checkParent(ctx context.Context, ref uri.Reference, op string) error {
	if ref.Path.Len() <= 1 {
		return nil
	}
	parent := uri.Dirname(ref)
	obj, err := h.stat(ctx, parent)
	if err != nil {
		return err
	}
	if obj != nil && !obj.folder {
		return errors.NotDirectory(parent).WithComponent(component).WithOperation(op)
	}
	return nil
}

func (h *Handler) put(ctx context.Context, ref uri.Reference, key string, data []byte) error {
	bucket, _, err := location(ref)
	if err != nil {
		return err
	}
	_, err = h.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(storage.MimeType(ref.Path.Name(), false)),
	})
	if err != nil {
		return h.translateError(ref, "put", err)
	}
	h.logger.Debug().Str("bucket", bucket).Str("key", key).Int("bytes", len(data)).Msg("uploaded")
	return nil
}

func (h *Handler) writeBack(ctx context.Context) buffer.WriteBackFunc {
	ctx = context.WithoutCancel(ctx)
	return func(ref uri.Reference, data []byte) error {
		_, key, err := location(ref)
		if err != nil {
			return err
		}
		return h.put(ctx, ref, key, data)
	}
}

// MakeFile stores an empty object and returns a buffer uploaded on Close.
func (h *Handler) MakeFile(ctx context.Context, ref uri.Reference) (types.File, error) {
	_, key, err := location(ref)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, errors.IsDirectory(ref).WithComponent(component).WithOperation("make_file")
	}
	obj, err := h.stat(ctx, ref)
	if err != nil {
		return nil, err
	}
	if obj != nil {
		return nil, errors.Exists(ref).WithComponent(component).WithOperation("make_file")
	}
	if err := h.checkParent(ctx, ref, "make_file"); err != nil {
		return nil, err
	}
	if err := h.put(ctx, ref, key, nil); err != nil {
		return nil, err
	}
	return buffer.NewTempFile(ref, nil, h.writeBack(ctx)), nil
}

// MakeFolder writes the "key/" marker. Missing parents need no markers of
// their own since every prefix of a key is a folder.
func (h *Handler) MakeFolder(ctx context.Context, ref uri.Reference) error {
	_, key, err := location(ref)
	if err != nil {
		return err
	}
	obj, err := h.stat(ctx, ref)
	if err != nil {
		return err
	}
	if obj != nil {
		if obj.folder {
			return nil
		}
		return errors.Exists(ref).WithComponent(component).WithOperation("make_folder")
	}
	if err := h.checkParent(ctx, ref, "make_folder"); err != nil {
		return err
	}
	return h.put(ctx, ref, key+"/", nil)
}

// keys lists every key at or below prefix, following continuation tokens.
func (h *Handler) keys(ctx context.Context, ref uri.Reference, bucket, prefix string) ([]string, error) {
	var out []string
	p := s3.NewListObjectsV2Paginator(h.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, h.translateError(ref, "list", err)
		}
		for _, o := range page.Contents {
			out = append(out, aws.ToString(o.Key))
		}
	}
	return out, nil
}

func (h *Handler) delete(ctx context.Context, ref uri.Reference, bucket, key string) error {
	_, err := h.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return h.translateError(ref, "delete", err)
	}
	return nil
}

// Remove deletes an object, or every key below a folder and its marker.
func (h *Handler) Remove(ctx context.Context, ref uri.Reference) error {
	obj, err := h.mustStat(ctx, ref, "remove")
	if err != nil {
		return err
	}
	bucket, key, _ := location(ref)
	if !obj.folder {
		return h.delete(ctx, ref, bucket, key)
	}

	prefix := ""
	if key != "" {
		prefix = key + "/"
	}
	keys, err := h.keys(ctx, ref, bucket, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := h.delete(ctx, ref, bucket, k); err != nil {
			return err
		}
	}
	h.logger.Debug().Str("bucket", bucket).Str("prefix", prefix).Int("keys", len(keys)).Msg("removed folder")
	return nil
}

func copySource(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segs, "/")
}

func (h *Handler) copyKey(ctx context.Context, ref uri.Reference, srcBucket, srcKey, dstBucket, dstKey string) error {
	_, err := h.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(srcBucket, srcKey)),
	})
	if err != nil {
		return h.translateError(ref, "copy", err)
	}
	return nil
}

// destination resolves where src lands: an existing folder receives src
// under its own name, an existing object is refused.
func (h *Handler) destination(ctx context.Context, src, dst uri.Reference, op string) (uri.Reference, error) {
	obj, err := h.stat(ctx, dst)
	if err != nil {
		return dst, err
	}
	if obj == nil {
		return dst, nil
	}
	if !obj.folder {
		return dst, errors.NotDirectory(dst).WithComponent(component).WithOperation(op)
	}
	return dst.Resolve2(src.Path.Name()), nil
}

// Move copies on the server and deletes the source. Folders move key by key.
func (h *Handler) Move(ctx context.Context, src, dst uri.Reference) error {
	obj, err := h.mustStat(ctx, src, "move")
	if err != nil {
		return err
	}
	if dst, err = h.destination(ctx, src, dst, "move"); err != nil {
		return err
	}
	srcBucket, srcKey, _ := location(src)
	dstBucket, dstKey, err := location(dst)
	if err != nil {
		return err
	}

	if !obj.folder {
		if err := h.copyKey(ctx, src, srcBucket, srcKey, dstBucket, dstKey); err != nil {
			return err
		}
		return h.delete(ctx, src, srcBucket, srcKey)
	}

	if srcKey == "" {
		return errors.NewError(errors.ErrCodeBackend, "cannot move a bucket root").
			WithReference(src).WithComponent(component).WithOperation("move")
	}
	keys, err := h.keys(ctx, src, srcBucket, srcKey+"/")
	if err != nil {
		return err
	}
	for _, k := range keys {
		target := strings.TrimPrefix(dstKey+"/"+strings.TrimPrefix(k, srcKey+"/"), "/")
		if err := h.copyKey(ctx, src, srcBucket, k, dstBucket, target); err != nil {
			return err
		}
		if err := h.delete(ctx, src, srcBucket, k); err != nil {
			return err
		}
	}
	return nil
}

// Copy copies a single object on the server. Folders and other schemes
// report false so that the caller streams.
func (h *Handler) Copy(ctx context.Context, src, dst uri.Reference) (bool, error) {
	if src.Scheme != dst.Scheme {
		return false, nil
	}
	obj, err := h.mustStat(ctx, src, "copy")
	if err != nil {
		return false, err
	}
	if obj.folder {
		return false, nil
	}
	if dst, err = h.destination(ctx, src, dst, "copy"); err != nil {
		return false, err
	}
	srcBucket, srcKey, _ := location(src)
	dstBucket, dstKey, err := location(dst)
	if err != nil {
		return false, err
	}
	return true, h.copyKey(ctx, src, srcBucket, srcKey, dstBucket, dstKey)
}

func (h *Handler) get(ctx context.Context, ref uri.Reference) ([]byte, error) {
	bucket, key, err := location(ref)
	if err != nil {
		return nil, err
	}
	out, err := h.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, h.translateError(ref, "get", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Network(ref, err).WithComponent(component).WithOperation("get")
	}
	return data, nil
}

// Open downloads the object into memory. Writable modes upload the buffer
// on Close; ModeWrite and ModeAppend create missing objects.
func (h *Handler) Open(ctx context.Context, ref uri.Reference, mode types.Mode) (types.File, error) {
	obj, err := h.stat(ctx, ref)
	if err != nil {
		return nil, err
	}
	if obj != nil && obj.folder {
		return nil, errors.IsDirectory(ref).WithComponent(component).WithOperation("open")
	}
	if obj == nil && (mode == types.ModeRead || mode == types.ModeReadWrite) {
		return nil, errors.NotFound(ref).WithComponent(component).WithOperation("open")
	}
	if mode == types.ModeWrite || obj == nil {
		return buffer.NewTempFile(ref, nil, h.writeBack(ctx)), nil
	}

	data, err := h.get(ctx, ref)
	if err != nil {
		return nil, err
	}
	switch mode {
	case types.ModeRead:
		return buffer.NewReader(ref, data), nil
	case types.ModeAppend:
		t := buffer.NewTempFile(ref, data, h.writeBack(ctx))
		if _, err := t.Seek(0, io.SeekEnd); err != nil {
			return nil, err
		}
		return t, nil
	default:
		return buffer.NewTempFile(ref, data, h.writeBack(ctx)), nil
	}
}

// GetNames lists one level below a folder using the "/" delimiter.
func (h *Handler) GetNames(ctx context.Context, ref uri.Reference) ([]string, error) {
	obj, err := h.mustStat(ctx, ref, "get_names")
	if err != nil {
		return nil, err
	}
	if !obj.folder {
		return nil, errors.NotDirectory(ref).WithComponent(component).WithOperation("get_names")
	}
	bucket, key, _ := location(ref)
	prefix := ""
	if key != "" {
		prefix = key + "/"
	}

	seen := make(map[string]bool)
	p := s3.NewListObjectsV2Paginator(h.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, h.translateError(ref, "list", err)
		}
		for _, cp := range page.CommonPrefixes {
			seen[strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")] = true
		}
		for _, o := range page.Contents {
			seen[strings.TrimPrefix(aws.ToString(o.Key), prefix)] = true
		}
	}
	delete(seen, "")

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
