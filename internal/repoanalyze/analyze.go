package repoanalyze

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Analysis is the result of analyzing a repository, grounded on
// original_source/worker/services/repo_analyzer_service.py's RepoAnalysis.
type Analysis struct {
	RepoPath   string    `json:"repo_path"`
	Structure  Structure `json:"structure"`
	Stack      Stack     `json:"stack"`
	Summary    string    `json:"summary"`
	TechDebt   []string  `json:"tech_debt"`
	AnalyzedAt time.Time `json:"analyzed_at"`
	FileCount  int       `json:"file_count"`
	TotalSize  int64     `json:"total_size"`
}

// FileEntry describes one file discovered during the structure scan.
type FileEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Structure is a read-only survey of the repository's layout.
type Structure struct {
	Root             string                 `json:"root"`
	Directories      []string               `json:"directories"`
	FilesByExtension map[string]int         `json:"files_by_extension"`
	FilesByType      map[string][]FileEntry `json:"files_by_type"`
	TotalFiles       int                    `json:"total_files"`
}

// Stack is the detected technology stack.
type Stack struct {
	Languages       map[string]int `json:"languages"`
	Frameworks      []string       `json:"frameworks"`
	Tools           []string       `json:"tools"`
	PackageManagers []string       `json:"package_managers"`
}

// Options bounds the cost of an analysis run.
type Options struct {
	MaxDepth int
	MaxFiles int
}

// DefaultOptions mirrors the original service's defaults.
func DefaultOptions() Options { return Options{MaxDepth: 10, MaxFiles: 1000} }

const (
	maxRepoSize     = 500_000_000 // 500 MB
	maxSandboxFile  = 50_000_000  // 50 MB per file
	maxSandboxFiles = 10_000
	maxSandboxDepth = 20
)

var ignoredDirs = map[string]bool{
	".git": true, "node_modules": true, ".venv": true, "venv": true,
	"__pycache__": true, ".pytest_cache": true, ".mypy_cache": true,
	"dist": true, "build": true, ".next": true, "target": true,
	".idea": true, ".vscode": true,
}

var codeExtensions = map[string]bool{
	".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".java": true, ".cpp": true, ".c": true, ".h": true, ".cs": true,
	".go": true, ".rs": true, ".rb": true, ".php": true, ".swift": true,
	".kt": true, ".scala": true, ".html": true, ".css": true, ".scss": true,
	".sass": true, ".less": true, ".vue": true, ".svelte": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true, ".xml": true,
	".ini": true, ".conf": true, ".md": true, ".txt": true, ".rst": true,
	".sh": true, ".bash": true, ".zsh": true, ".fish": true, ".ps1": true,
	".bat": true, ".cmd": true, ".sql": true, ".r": true, ".m": true,
	".lua": true, ".pl": true, ".pm": true,
}

var languageExtensions = map[string]string{
	".py": "Python", ".js": "JavaScript", ".jsx": "JavaScript",
	".ts": "TypeScript", ".tsx": "TypeScript", ".java": "Java",
	".cpp": "C++", ".c": "C++", ".h": "C++", ".rs": "Rust", ".go": "Go",
	".rb": "Ruby", ".php": "PHP", ".swift": "Swift", ".kt": "Kotlin",
}

var packageManagerFiles = map[string]string{
	"package.json": "npm", "requirements.txt": "pip", "Pipfile": "pipenv",
	"poetry.lock": "poetry", "Cargo.toml": "cargo", "pom.xml": "maven",
	"build.gradle": "gradle", "Gemfile": "bundler",
	"composer.json": "composer", "go.mod": "go modules",
}

var frameworkPatterns = map[string][]string{
	"react": {"package.json"}, "vue": {"package.json"},
	"angular": {"angular.json"}, "nextjs": {"next.config.js", "next.config.ts"},
	"django": {"manage.py"}, "flask": {"app.py"}, "express": {"package.json"},
	"spring": {"pom.xml", "build.gradle"}, "rails": {"Gemfile"},
	"laravel": {"artisan"}, "tauri": {"tauri.conf.json"}, "electron": {"package.json"},
}

var toolFiles = map[string]string{
	".github": "GitHub Actions", "Dockerfile": "Docker",
	"docker-compose.yml": "Docker Compose", ".gitlab-ci.yml": "GitLab CI",
	"Jenkinsfile": "Jenkins", "Makefile": "Make",
}

// Analyze validates repoPath, copies it into a throwaway sandbox directory
// under sandboxRoot (so the analysis never touches the original tree), and
// runs structure/stack/tech-debt detection against the copy.
func Analyze(repoPath, sandboxRoot string, opts Options) (Analysis, error) {
	if err := ValidatePath(repoPath); err != nil {
		return Analysis{}, fmt.Errorf("path rejected: %w", err)
	}
	repoPath = filepath.Clean(repoPath)

	size, err := dirSize(repoPath)
	if err != nil {
		return Analysis{}, fmt.Errorf("measuring repository size: %w", err)
	}
	if size > maxRepoSize {
		return Analysis{}, fmt.Errorf("repository too large (%.1f MB, max %.0f MB)",
			float64(size)/1_000_000, float64(maxRepoSize)/1_000_000)
	}

	if err := os.MkdirAll(sandboxRoot, 0o700); err != nil {
		return Analysis{}, fmt.Errorf("prepare sandbox root: %w", err)
	}
	sandbox, err := os.MkdirTemp(sandboxRoot, "repo_analyzer_")
	if err != nil {
		return Analysis{}, fmt.Errorf("create sandbox: %w", err)
	}
	defer os.RemoveAll(sandbox)

	if err := copyToSandbox(repoPath, sandbox); err != nil {
		return Analysis{}, fmt.Errorf("populate sandbox: %w", err)
	}

	structure := analyzeStructure(sandbox, opts)
	stack := detectStack(sandbox)
	summary := generateSummary(structure, stack)
	techDebt := detectTechDebt(sandbox, opts.MaxFiles)
	fileCount, _ := countFiles(sandbox)
	totalSize, _ := dirSize(sandbox)

	return Analysis{
		RepoPath:   repoPath,
		Structure:  structure,
		Stack:      stack,
		Summary:    summary,
		TechDebt:   techDebt,
		AnalyzedAt: time.Now(),
		FileCount:  fileCount,
		TotalSize:  totalSize,
	}, nil
}

func shouldIgnore(relPath string) bool {
	for _, part := range strings.Split(relPath, string(filepath.Separator)) {
		if ignoredDirs[part] {
			return true
		}
	}
	return false
}

// copyToSandbox mirrors source into dest, skipping ignored directories,
// symlinks, and oversized files; it tolerates per-file errors rather than
// aborting the whole copy, matching the original's best-effort behavior.
func copyToSandbox(source, dest string) error {
	copied := 0
	return filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries rather than aborting
		}
		rel, relErr := filepath.Rel(source, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if shouldIgnore(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.Count(rel, string(filepath.Separator)) > maxSandboxDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if copied >= maxSandboxFiles {
			return filepath.SkipAll
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o700)
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxSandboxFile {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
			return nil
		}
		if copyFile(path, target) == nil {
			copied++
		}
		return nil
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// analyzeStructure walks the sandboxed tree recording directories and
// per-extension/per-type file listings, bounded by opts.
func analyzeStructure(root string, opts Options) Structure {
	structure := Structure{
		Root:             root,
		Directories:      []string{},
		FilesByExtension: map[string]int{},
		FilesByType:      map[string][]FileEntry{},
	}
	fileCount := 0

	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator))
		if fileCount >= opts.MaxFiles {
			return filepath.SkipAll
		}
		if strings.HasPrefix(d.Name(), ".") && d.Name() != ".gitignore" && d.Name() != ".env.example" {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			if depth > opts.MaxDepth {
				return filepath.SkipDir
			}
			structure.Directories = append(structure.Directories, rel)
			return nil
		}
		if depth > opts.MaxDepth {
			return nil
		}

		fileCount++
		ext := strings.ToLower(filepath.Ext(path))
		structure.FilesByExtension[ext]++
		fileType := classifyFileType(ext)
		info, infoErr := d.Info()
		var size int64
		if infoErr == nil {
			size = info.Size()
		}
		structure.FilesByType[fileType] = append(structure.FilesByType[fileType], FileEntry{Path: rel, Size: size})
		return nil
	})

	structure.TotalFiles = fileCount
	return structure
}

func classifyFileType(ext string) string {
	switch ext {
	case ".py":
		return "python"
	case ".js", ".jsx", ".ts", ".tsx":
		return "javascript"
	case ".java":
		return "java"
	case ".cpp", ".c", ".h":
		return "cpp"
	case ".rs":
		return "rust"
	case ".go":
		return "go"
	case ".html", ".css", ".scss", ".sass":
		return "web"
	case ".json", ".yaml", ".yml", ".toml":
		return "config"
	case ".md", ".txt":
		return "documentation"
	case ".sh", ".bash", ".ps1", ".bat":
		return "script"
	default:
		return "other"
	}
}

// detectStack inspects the sandboxed tree for language distribution,
// package managers, frameworks, and CI/build tooling.
func detectStack(root string) Stack {
	stack := Stack{
		Languages:       map[string]int{},
		Frameworks:      []string{},
		Tools:           []string{},
		PackageManagers: []string{},
	}

	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if lang, ok := languageExtensions[ext]; ok {
			stack.Languages[lang]++
		}
		return nil
	})

	for file, manager := range packageManagerFiles {
		if exists(filepath.Join(root, file)) {
			stack.PackageManagers = append(stack.PackageManagers, manager)
		}
	}
	for framework, patterns := range frameworkPatterns {
		for _, pattern := range patterns {
			if exists(filepath.Join(root, pattern)) {
				stack.Frameworks = append(stack.Frameworks, framework)
				break
			}
		}
	}
	for file, tool := range toolFiles {
		if exists(filepath.Join(root, file)) {
			stack.Tools = append(stack.Tools, tool)
		}
	}

	sort.Strings(stack.Frameworks)
	sort.Strings(stack.Tools)
	sort.Strings(stack.PackageManagers)
	return stack
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// generateSummary renders a human-readable architectural overview.
func generateSummary(structure Structure, stack Stack) string {
	var b strings.Builder
	b.WriteString("=== ARCHITECTURE SUMMARY ===\n\n")

	if len(stack.Languages) > 0 {
		b.WriteString("Detected languages:\n")
		langs := make([]string, 0, len(stack.Languages))
		for lang := range stack.Languages {
			langs = append(langs, lang)
		}
		sort.Slice(langs, func(i, j int) bool { return stack.Languages[langs[i]] > stack.Languages[langs[j]] })
		for _, lang := range langs {
			fmt.Fprintf(&b, "  - %s: %d files\n", lang, stack.Languages[lang])
		}
		b.WriteString("\n")
	}
	if len(stack.Frameworks) > 0 {
		fmt.Fprintf(&b, "Frameworks: %s\n\n", strings.Join(stack.Frameworks, ", "))
	}
	if len(stack.PackageManagers) > 0 {
		fmt.Fprintf(&b, "Package managers: %s\n\n", strings.Join(stack.PackageManagers, ", "))
	}
	if len(stack.Tools) > 0 {
		fmt.Fprintf(&b, "Tools: %s\n\n", strings.Join(stack.Tools, ", "))
	}

	fmt.Fprintf(&b, "Total files: %d\n", structure.TotalFiles)
	fmt.Fprintf(&b, "Total directories: %d\n", len(structure.Directories))

	if len(structure.FilesByType) > 0 {
		b.WriteString("\nFiles by type:\n")
		types := make([]string, 0, len(structure.FilesByType))
		for t := range structure.FilesByType {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool {
			return len(structure.FilesByType[types[i]]) > len(structure.FilesByType[types[j]])
		})
		for _, t := range types {
			fmt.Fprintf(&b, "  - %s: %d files\n", t, len(structure.FilesByType[t]))
		}
	}

	return b.String()
}

// detectTechDebt flags files that are unusually long or unusually large,
// the same two heuristics the original service applies.
func detectTechDebt(root string, maxFiles int) []string {
	var debt []string
	fileCount := 0

	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || fileCount >= maxFiles {
			if fileCount >= maxFiles {
				return filepath.SkipAll
			}
			return nil
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !codeExtensions[ext] {
			return nil
		}
		fileCount++

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}

		if lines, err := countLines(path); err == nil && lines > 500 {
			debt = append(debt, fmt.Sprintf("Very long file (%d lines): %s", lines, rel))
		}
		if info, err := d.Info(); err == nil && info.Size() > 1_000_000 {
			debt = append(debt, fmt.Sprintf("Large file (%.1f MB): %s", float64(info.Size())/1_000_000, rel))
		}
		return nil
	})

	return debt
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	lines := 0
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' {
				lines++
			}
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
	}
}

func countFiles(root string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Type()&fs.ModeSymlink == 0 {
			count++
		}
		return nil
	})
	return count, err
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total, err
}
