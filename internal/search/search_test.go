package search

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindPrefersLibExtensionOverBareName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo"), []byte("bare"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.lib"), []byte("lib"), 0o644))

	s := New([]string{dir})
	got, err := s.Find("foo")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "foo.lib"), got)
}

func TestFindFallsBackToUnixArNaming(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "libfoo.a"), []byte("ar"), 0o644))

	s := New([]string{dir})
	got, err := s.Find("foo")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "libfoo.a"), got)
}

func TestFindSearchesDirectoriesInOrder(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(second, "foo.lib"), []byte("second"), 0o644))

	s := New([]string{first, second})
	got, err := s.Find("foo")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(second, "foo.lib"), got)
}

func TestFindReturnsErrorWhenNotFound(t *testing.T) {
	s := New([]string{t.TempDir()})
	_, err := s.Find("nope")
	assert.Error(t, err)
}
