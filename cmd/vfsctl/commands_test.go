package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peppy/vfs/internal/storage/mem"
	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/vfs"
)

func newTestVFS() *vfs.VFS {
	v := vfs.New(nil, zerolog.Nop())
	v.Register("mem", mem.New(zerolog.Nop()))
	return v
}

func runCmd(t *testing.T, v *vfs.VFS, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), v, strings.NewReader(stdin), &out, args)
	return out.String(), err
}

func TestCommands(t *testing.T) {
	v := newTestVFS()

	steps := []struct {
		args  []string
		stdin string
		want  string
	}{
		{args: []string{"mkdir", "mem:/docs/sub"}},
		{args: []string{"put", "mem:/docs/a.txt"}, stdin: "alpha"},
		{args: []string{"put", "mem:/docs/sub/b.txt"}, stdin: "beta"},
		{args: []string{"cat", "mem:/docs/a.txt", "mem:/docs/sub/b.txt"}, want: "alphabeta"},
		{args: []string{"ls", "mem:/docs"}, want: "a.txt\nsub/\n"},
		{args: []string{"tree", "mem:/docs"}, want: "mem:/docs\n  a.txt\n  sub/\n    b.txt\n"},
		{args: []string{"cp", "mem:/docs/a.txt", "mem:/docs/sub"}},
		{args: []string{"ls", "mem:/docs/sub"}, want: "a.txt\nb.txt\n"},
		{args: []string{"mv", "mem:/docs/sub", "mem:/moved"}},
		{args: []string{"rm", "mem:/docs"}},
		{args: []string{"ls", "mem:/moved"}, want: "a.txt\nb.txt\n"},
	}
	for _, s := range steps {
		out, err := runCmd(t, v, s.stdin, s.args...)
		require.NoError(t, err, strings.Join(s.args, " "))
		assert.Equal(t, s.want, out, strings.Join(s.args, " "))
	}
}

func TestStat(t *testing.T) {
	v := newTestVFS()
	_, err := runCmd(t, v, "hello", "put", "mem:/f.txt")
	require.NoError(t, err)

	out, err := runCmd(t, v, "", "stat", "mem:/f.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "type       file")
	assert.Contains(t, out, "size       5 (5 B)")
	assert.Contains(t, out, "mimetype   text/plain")

	out, err = runCmd(t, v, "", "stat", "mem:/")
	require.NoError(t, err)
	assert.Contains(t, out, "type       folder")
}

func TestCommandErrors(t *testing.T) {
	v := newTestVFS()

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"frobnicate"}, "unknown command"},
		{[]string{"cp", "mem:/a"}, "wrong number of arguments"},
		{[]string{"cat"}, "wrong number of arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			_, err := runCmd(t, v, "", tt.args...)
			assert.ErrorContains(t, err, tt.want)
		})
	}

	_, err := runCmd(t, v, "", "cat", "mem:/missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
