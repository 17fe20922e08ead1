package repoanalyze

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePath_RejectsEmpty(t *testing.T) {
	err := ValidatePath("   ")
	require.Error(t, err)
}

func TestValidatePath_RejectsNonexistent(t *testing.T) {
	err := ValidatePath(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}

func TestValidatePath_RejectsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	err := ValidatePath(file)
	require.ErrorContains(t, err, "directory")
}

func TestValidatePath_RejectsEmptyDirectory(t *testing.T) {
	err := ValidatePath(t.TempDir())
	require.ErrorContains(t, err, "empty")
}

func TestValidatePath_AcceptsPopulatedDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))

	require.NoError(t, ValidatePath(dir))
}

func TestValidatePath_RejectsForbiddenRoot(t *testing.T) {
	err := ValidatePath("/etc")
	require.ErrorContains(t, err, "forbidden")
}
