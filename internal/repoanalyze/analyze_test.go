package repoanalyze

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestAnalyzeDetectsLanguagesAndPackageManager(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "main.go"), "package main\n")
	writeFile(t, filepath.Join(repo, "go.mod"), "module demo\n\ngo 1.26\n")
	writeFile(t, filepath.Join(repo, "README.md"), "# demo\n")

	sandboxRoot := t.TempDir()
	got, err := Analyze(repo, sandboxRoot, DefaultOptions())
	require.NoError(t, err)

	require.Equal(t, 1, got.Stack.Languages["Go"])
	require.Contains(t, got.Stack.PackageManagers, "go modules")
	require.Equal(t, 3, got.Structure.TotalFiles)
	require.Contains(t, got.Summary, "Go")
}

func TestAnalyzeSkipsIgnoredDirectories(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "node_modules", "lib.js"), "// vendored\n")
	writeFile(t, filepath.Join(repo, "src", "index.js"), "console.log(1)\n")

	sandboxRoot := t.TempDir()
	got, err := Analyze(repo, sandboxRoot, DefaultOptions())
	require.NoError(t, err)

	require.Equal(t, 1, got.Structure.TotalFiles)
	for _, files := range got.Structure.FilesByType {
		for _, f := range files {
			require.False(t, strings.Contains(f.Path, "node_modules"))
		}
	}
}

func TestAnalyzeDetectsTechDebtForLongFiles(t *testing.T) {
	repo := t.TempDir()
	var b strings.Builder
	for i := 0; i < 600; i++ {
		b.WriteString("line\n")
	}
	writeFile(t, filepath.Join(repo, "big.go"), b.String())

	sandboxRoot := t.TempDir()
	got, err := Analyze(repo, sandboxRoot, DefaultOptions())
	require.NoError(t, err)

	require.NotEmpty(t, got.TechDebt)
	require.Contains(t, got.TechDebt[0], "big.go")
}

func TestAnalyzeRejectsUnsafePath(t *testing.T) {
	sandboxRoot := t.TempDir()
	_, err := Analyze("/etc", sandboxRoot, DefaultOptions())
	require.Error(t, err)
}

func TestAnalyzeLeavesOriginalRepoUntouched(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "a.txt"), "hello")

	sandboxRoot := t.TempDir()
	_, err := Analyze(repo, sandboxRoot, DefaultOptions())
	require.NoError(t, err)

	entries, err := os.ReadDir(sandboxRoot)
	require.NoError(t, err)
	require.Len(t, entries, 0, "sandbox must be cleaned up after analysis")

	content, err := os.ReadFile(filepath.Join(repo, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))
}
