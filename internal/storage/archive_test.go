package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArchive(t *testing.T) (*localArchive, string) {
	t.Helper()
	dir := t.TempDir()
	a, err := NewLocalArchive(dir)
	require.NoError(t, err)
	return a.(*localArchive), dir
}

func TestNewLocalArchive_CreatesAreas(t *testing.T) {
	_, dir := newTestArchive(t)

	for _, area := range []string{IncomingDir, ProcessedDir} {
		info, err := os.Stat(filepath.Join(dir, area))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestValidatePath_PathTraversal(t *testing.T) {
	a, _ := newTestArchive(t)

	tests := []struct {
		name string
		path string
	}{
		{"simple traversal", "../etc/passwd"},
		{"double traversal", "../../etc/passwd"},
		{"nested traversal", "incoming/../../../etc/passwd"},
		{"windows style", "..\\..\\windows\\system32"},
		{"absolute", "/etc/passwd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.validatePath(tt.path)
			assert.ErrorIs(t, err, ErrPathTraversal)
		})
	}
}

func TestValidatePath_Containment(t *testing.T) {
	a, dir := newTestArchive(t)

	result, err := a.validatePath("incoming/ab/ab123456.eml")

	require.NoError(t, err)
	absBase, _ := filepath.Abs(dir)
	assert.True(t, strings.HasPrefix(result, absBase))
}

func TestStoreAndGet(t *testing.T) {
	// Arrange
	a, dir := newTestArchive(t)
	raw := []byte("From: a@b.example\r\n\r\nbody")

	// Act
	path, err := a.Store(raw)

	// Assert
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, "incoming/"))
	assert.True(t, strings.HasSuffix(path, ".eml"))
	_, err = os.Stat(filepath.Join(dir, path))
	require.NoError(t, err)

	rc, err := a.Get(path)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestStore_UniqueNames(t *testing.T) {
	a, _ := newTestArchive(t)

	p1, err := a.Store([]byte("x"))
	require.NoError(t, err)
	p2, err := a.Store([]byte("x"))
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
}

func TestStore_TooLarge(t *testing.T) {
	assert.ErrorIs(t, ValidateSize(MaxArtifactSize+1), ErrFileTooLarge)
	assert.NoError(t, ValidateSize(MaxArtifactSize))
}

func TestMarkProcessed_MovesArtifact(t *testing.T) {
	a, dir := newTestArchive(t)
	path, err := a.Store([]byte("raw"))
	require.NoError(t, err)

	moved, err := a.MarkProcessed(path)

	require.NoError(t, err)
	assert.Equal(t, "processed/"+strings.TrimPrefix(path, "incoming/"), moved)
	_, err = os.Stat(filepath.Join(dir, path))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, moved))
	assert.NoError(t, err)
}

func TestMarkProcessed_Idempotent(t *testing.T) {
	a, _ := newTestArchive(t)
	path, err := a.Store([]byte("raw"))
	require.NoError(t, err)
	moved, err := a.MarkProcessed(path)
	require.NoError(t, err)

	again, err := a.MarkProcessed(moved)

	require.NoError(t, err)
	assert.Equal(t, moved, again)
}

func TestMarkProcessed_Errors(t *testing.T) {
	a, _ := newTestArchive(t)

	_, err := a.MarkProcessed("elsewhere/file.eml")
	assert.ErrorIs(t, err, ErrNotIncoming)

	_, err = a.MarkProcessed("incoming/ab/missing.eml")
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = a.MarkProcessed("incoming/../../etc/passwd")
	assert.Error(t, err)
}

func TestGet_Errors(t *testing.T) {
	a, _ := newTestArchive(t)

	_, err := a.Get("../../../etc/passwd")
	assert.ErrorIs(t, err, ErrPathTraversal)

	_, err = a.Get("incoming/nonexistent.eml")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestDelete(t *testing.T) {
	a, dir := newTestArchive(t)
	path, err := a.Store([]byte("raw"))
	require.NoError(t, err)

	require.NoError(t, a.Delete(path))
	_, err = os.Stat(filepath.Join(dir, path))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, a.Delete(path), "deleting a missing file is not an error")
	assert.ErrorIs(t, a.Delete("../../../etc/passwd"), ErrPathTraversal)
}
