package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/types"
	"github.com/peppy/vfs/pkg/uri"
)

func TestMimeType(t *testing.T) {
	tests := []struct {
		name     string
		isFolder bool
		want     string
	}{
		{"index.html", false, "text/html"},
		{"README", false, DefaultMimeType},
		{"photo.PNG", false, "image/png"},
		{"thing.unknownext", false, DefaultMimeType},
		{"dir", true, FolderMimeType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MimeType(tt.name, tt.isFolder))
		})
	}
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	ro := ReadOnly{Component: "http"}
	ref := uri.MustParse("http://example.com/x")

	ok, err := ro.CanWrite(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ro.MakeFile(ctx, ref)
	assert.True(t, errors.Is(err, errors.ErrReadOnly))
	assert.True(t, errors.Is(ro.MakeFolder(ctx, ref), errors.ErrReadOnly))
	assert.True(t, errors.Is(ro.Remove(ctx, ref), errors.ErrReadOnly))
	assert.True(t, errors.Is(ro.Move(ctx, ref, ref), errors.ErrReadOnly))

	assert.NoError(t, ro.CheckReadMode(ref, types.ModeRead))
	assert.True(t, errors.Is(ro.CheckReadMode(ref, types.ModeAppend), errors.ErrReadOnly))
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "c", BaseName("/a/b/c"))
	assert.Equal(t, "b", BaseName("/a/b/"))
	assert.Equal(t, "x", BaseName("x"))
	assert.Equal(t, "", BaseName("/"))
}
