package vfs

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/types"
	"github.com/peppy/vfs/pkg/uri"
)

// SkipFolder can be returned by a TraverseFunc to skip the folder it was
// called with. Returned for a file it is ignored.
var SkipFolder = stderrors.New("skip this folder")

// TraverseFunc is called for every reference visited by Traverse.
type TraverseFunc func(ref uri.Reference, isFolder bool) error

// target applies the folder rule shared by copy and move: an existing
// folder at dst receives src under its own name.
func (v *VFS) target(ctx context.Context, src, dst uri.Reference) (uri.Reference, error) {
	folder, err := v.IsFolder(ctx, dst)
	if err != nil {
		return dst, err
	}
	if folder {
		return dst.Resolve2(src.Path.Name()), nil
	}
	return dst, nil
}

// Copy copies src to dst across schemes. Folders are copied recursively;
// timestamps are not preserved. When both ends share a handler that copies
// natively, the handler does the work.
func (v *VFS) Copy(ctx context.Context, src, dst uri.Reference) error {
	start := time.Now()
	err := v.copy(ctx, src, dst)
	v.record(normalizeScheme(src.Scheme), "copy", start, err)
	return err
}

func (v *VFS) copy(ctx context.Context, src, dst uri.Reference) error {
	srcH, err := v.Handler(src.Scheme)
	if err != nil {
		return err
	}
	dstH, err := v.Handler(dst.Scheme)
	if err != nil {
		return err
	}
	if ok, err := srcH.Exists(ctx, src); err != nil {
		return err
	} else if !ok {
		return errors.NotFound(src).WithComponent("vfs").WithOperation("copy")
	}
	if dst, err = v.target(ctx, src, dst); err != nil {
		return err
	}

	if c, ok := srcH.(types.Copier); ok && srcH == dstH {
		done, err := c.Copy(ctx, src, dst)
		if err != nil || done {
			return err
		}
	}
	return v.copyTree(ctx, srcH, dstH, src, dst)
}

func (v *VFS) copyTree(ctx context.Context, srcH, dstH types.Handler, src, dst uri.Reference) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	folder, err := srcH.IsFolder(ctx, src)
	if err != nil {
		return err
	}
	if !folder {
		return v.copyFile(ctx, srcH, dstH, src, dst)
	}

	if err := dstH.MakeFolder(ctx, dst); err != nil {
		return err
	}
	names, err := srcH.GetNames(ctx, src)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := v.copyTree(ctx, srcH, dstH, src.Resolve2(name), dst.Resolve2(name)); err != nil {
			return err
		}
	}
	return nil
}

// copyFile streams src into a new file at dst. A failed copy removes the
// partial destination; if that fails too, both errors are reported.
func (v *VFS) copyFile(ctx context.Context, srcH, dstH types.Handler, src, dst uri.Reference) error {
	r, err := srcH.Open(ctx, src, types.ModeRead)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := dstH.MakeFile(ctx, dst)
	if err != nil {
		return err
	}
	n, err := io.Copy(w, r)
	if err != nil {
		w.Close()
	} else {
		err = w.Close()
	}
	if err == nil {
		v.logger.Debug().Str("from", src.String()).Str("to", dst.String()).Int64("bytes", n).Msg("copied")
		return nil
	}

	if rmErr := dstH.Remove(context.WithoutCancel(ctx), dst); rmErr != nil && !errors.Is(rmErr, errors.ErrNotFound) {
		v.logger.Warn().Err(rmErr).Str("reference", dst.String()).Msg("partial copy left behind")
		return fmt.Errorf("%w (partial copy at %s not removed: %v)", err, dst, rmErr)
	}
	return err
}

// Move renames within a scheme through the handler. Across schemes it
// copies then removes the source, so it is not atomic.
func (v *VFS) Move(ctx context.Context, src, dst uri.Reference) error {
	start := time.Now()
	err := v.move(ctx, src, dst)
	v.record(normalizeScheme(src.Scheme), "move", start, err)
	return err
}

func (v *VFS) move(ctx context.Context, src, dst uri.Reference) error {
	if normalizeScheme(src.Scheme) == normalizeScheme(dst.Scheme) {
		h, err := v.Handler(src.Scheme)
		if err != nil {
			return err
		}
		return h.Move(ctx, src, dst)
	}
	if err := v.copy(ctx, src, dst); err != nil {
		return err
	}
	return v.Remove(ctx, src)
}

// Traverse calls fn for ref and then for every reference below it, depth
// first, parents before children. Names within a folder come in the
// handler's order.
func (v *VFS) Traverse(ctx context.Context, ref uri.Reference, fn TraverseFunc) error {
	h, err := v.Handler(ref.Scheme)
	if err != nil {
		return err
	}
	if ok, err := h.Exists(ctx, ref); err != nil {
		return err
	} else if !ok {
		return errors.NotFound(ref).WithComponent("vfs").WithOperation("traverse")
	}
	err = v.traverse(ctx, h, ref, fn)
	if err == SkipFolder {
		return nil
	}
	return err
}

func (v *VFS) traverse(ctx context.Context, h types.Handler, ref uri.Reference, fn TraverseFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	folder, err := h.IsFolder(ctx, ref)
	if err != nil {
		return err
	}
	if err := fn(ref, folder); err != nil {
		if err == SkipFolder && !folder {
			return nil
		}
		return err
	}
	if !folder {
		return nil
	}

	names, err := h.GetNames(ctx, ref)
	if err != nil {
		return err
	}
	for _, name := range names {
		err := v.traverse(ctx, h, ref.Resolve2(name), fn)
		if err != nil && err != SkipFolder {
			return err
		}
	}
	return nil
}
