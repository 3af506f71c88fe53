/*
Package vfs is the entry point of the virtual file system.

A VFS maps URI schemes to handlers and forwards every operation to the
handler of the reference it is given. References without a scheme are
local paths.

	v, err := vfs.NewDefault(ctx, vfs.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer v.Close()

	f, err := v.Open(ctx, uri.MustParse("webdav://dav.example.com/notes.txt"), types.ModeRead)

Copy and Move work across schemes by streaming through the source and
destination handlers. Within one scheme they use the handler's own move,
or its native copy when it implements types.Copier.

The package level functions take reference strings and run on Default,
a dispatcher built lazily from the default configuration.
*/
package vfs
