//go:build !linux

package local

import (
	"io/fs"
	"time"
)

// Without a portable atime and ctime, both report the modification time.
func accessTime(_ string, fi fs.FileInfo) time.Time { return fi.ModTime() }

func changeTime(_ string, fi fs.FileInfo) time.Time { return fi.ModTime() }

func canAccess(_ string, fi fs.FileInfo, write bool) bool {
	if write {
		return fi.Mode().Perm()&0o200 != 0
	}
	return fi.Mode().Perm()&0o400 != 0
}
