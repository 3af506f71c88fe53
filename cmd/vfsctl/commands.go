package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/peppy/vfs/pkg/types"
	"github.com/peppy/vfs/pkg/uri"
	"github.com/peppy/vfs/pkg/utils"
	"github.com/peppy/vfs/pkg/vfs"
)

type command struct {
	args int // exact argument count, or -1 for one or more
	run  func(ctx context.Context, v *vfs.VFS, in io.Reader, out io.Writer, refs []uri.Reference) error
}

var commands = map[string]command{
	"cat":   {-1, cat},
	"ls":    {1, ls},
	"stat":  {1, stat},
	"cp":    {2, cp},
	"mv":    {2, mv},
	"rm":    {-1, rm},
	"mkdir": {-1, mkdir},
	"put":   {1, put},
	"tree":  {1, tree},
}

func run(ctx context.Context, v *vfs.VFS, in io.Reader, out io.Writer, args []string) error {
	name, args := args[0], args[1:]
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	if (cmd.args < 0 && len(args) == 0) || (cmd.args >= 0 && len(args) != cmd.args) {
		return fmt.Errorf("%s: wrong number of arguments", name)
	}

	refs := make([]uri.Reference, len(args))
	for i, a := range args {
		ref, err := uri.Parse(a)
		if err != nil {
			return err
		}
		refs[i] = ref
	}
	return cmd.run(ctx, v, in, out, refs)
}

func cat(ctx context.Context, v *vfs.VFS, _ io.Reader, out io.Writer, refs []uri.Reference) error {
	for _, ref := range refs {
		f, err := v.Open(ctx, ref, types.ModeRead)
		if err != nil {
			return err
		}
		_, err = io.Copy(out, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func ls(ctx context.Context, v *vfs.VFS, _ io.Reader, out io.Writer, refs []uri.Reference) error {
	names, err := v.GetNames(ctx, refs[0])
	if err != nil {
		return err
	}
	for _, name := range names {
		folder, err := v.IsFolder(ctx, refs[0].Resolve2(name))
		if err != nil {
			return err
		}
		if folder {
			name += "/"
		}
		fmt.Fprintln(out, name)
	}
	return nil
}

func stat(ctx context.Context, v *vfs.VFS, _ io.Reader, out io.Writer, refs []uri.Reference) error {
	ref := refs[0]
	folder, err := v.IsFolder(ctx, ref)
	if err != nil {
		return err
	}
	mimetype, err := v.GetMimetype(ctx, ref)
	if err != nil {
		return err
	}
	mtime, err := v.GetMtime(ctx, ref)
	if err != nil {
		return err
	}
	writable, err := v.CanWrite(ctx, ref)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "reference\t%s\n", ref)
	if folder {
		fmt.Fprintf(w, "type\tfolder\n")
	} else {
		size, err := v.GetSize(ctx, ref)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "type\tfile\n")
		fmt.Fprintf(w, "size\t%d (%s)\n", size, utils.FormatBytes(size))
	}
	fmt.Fprintf(w, "mimetype\t%s\n", mimetype)
	fmt.Fprintf(w, "modified\t%s\n", mtime.Format(time.RFC3339))
	fmt.Fprintf(w, "writable\t%t\n", writable)
	return w.Flush()
}

func cp(ctx context.Context, v *vfs.VFS, _ io.Reader, _ io.Writer, refs []uri.Reference) error {
	return v.Copy(ctx, refs[0], refs[1])
}

func mv(ctx context.Context, v *vfs.VFS, _ io.Reader, _ io.Writer, refs []uri.Reference) error {
	return v.Move(ctx, refs[0], refs[1])
}

func rm(ctx context.Context, v *vfs.VFS, _ io.Reader, _ io.Writer, refs []uri.Reference) error {
	for _, ref := range refs {
		if err := v.Remove(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

func mkdir(ctx context.Context, v *vfs.VFS, _ io.Reader, _ io.Writer, refs []uri.Reference) error {
	for _, ref := range refs {
		if err := v.MakeFolder(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

func put(ctx context.Context, v *vfs.VFS, in io.Reader, _ io.Writer, refs []uri.Reference) error {
	f, err := v.Open(ctx, refs[0], types.ModeWrite)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, in); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func tree(ctx context.Context, v *vfs.VFS, _ io.Reader, out io.Writer, refs []uri.Reference) error {
	root := refs[0].Path.Len()
	return v.Traverse(ctx, refs[0], func(ref uri.Reference, folder bool) error {
		depth := ref.Path.Len() - root
		name := ref.Path.Name()
		if depth == 0 {
			name = ref.String()
		}
		if folder && depth > 0 {
			name += "/"
		}
		fmt.Fprintf(out, "%s%s\n", strings.Repeat("  ", depth), name)
		return nil
	})
}
