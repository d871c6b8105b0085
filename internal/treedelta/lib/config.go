// Package lib contains the core, reusable services for the treedelta application.
package lib

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/denormal/go-gitignore"
)

// --- Constants ---

// RepoDirName is the name of the directory holding repository data and
// working copy state.
const RepoDirName = ".treedelta"

// RevsDirName is the name of the subdirectory for revision records.
const RevsDirName = "revs"

// PacksDirName is the name of the subdirectory for packed object files.
const PacksDirName = "packs"

// IgnoreFilename is the name of the file containing user-defined ignore patterns.
const IgnoreFilename = ".treedeltaignore"

// SettingsFilename is the name of the yaml settings file inside RepoDirName.
const SettingsFilename = "config.yml"

// WorkingCopyFilename is the name of the yaml working copy state inside RepoDirName.
const WorkingCopyFilename = "wc.yml"

// HashAlgorithm names the hash used to address stored objects.
const HashAlgorithm = "sha256"

// --- Package-level Variables ---

// defaultIgnorePatterns are always ignored.
var defaultIgnorePatterns = []string{
	".git",
	".git/**",
	RepoDirName,
	RepoDirName + "/**",
	IgnoreFilename,
}

var (
	// ignoreCache maps a canonical directory to its compiled matcher.
	ignoreCache = make(map[string]gitignore.GitIgnore)
	cacheMutex  = &sync.Mutex{}
)

// --- Path Helper Functions ---

// GetRepoDir returns the path of the .treedelta directory for a given base directory.
func GetRepoDir(baseDir string) string {
	return filepath.Join(baseDir, RepoDirName)
}

// GetRevsDir returns the path of the revision records directory.
func GetRevsDir(baseDir string) string {
	return filepath.Join(GetRepoDir(baseDir), RevsDirName)
}

// GetPacksDir returns the path of the packs subdirectory.
func GetPacksDir(baseDir string) string {
	return filepath.Join(GetRepoDir(baseDir), PacksDirName)
}

// GetIndexPath returns the path of the index.json file.
func GetIndexPath(baseDir string) string {
	return filepath.Join(GetRepoDir(baseDir), "index.json")
}

// GetSettingsPath returns the path of the yaml settings file.
func GetSettingsPath(baseDir string) string {
	return filepath.Join(GetRepoDir(baseDir), SettingsFilename)
}

// GetWorkingCopyPath returns the path of the working copy state file.
func GetWorkingCopyPath(baseDir string) string {
	return filepath.Join(GetRepoDir(baseDir), WorkingCopyFilename)
}

// RepoPaths holds the structured paths for the .treedelta directory.
type RepoPaths struct {
	RepoDir  string
	RevsDir  string
	PacksDir string
}

// EnsureRepoDirs creates the repository directories if they are missing.
// It is idempotent.
func EnsureRepoDirs(baseDir string) (RepoPaths, error) {
	paths := RepoPaths{
		RepoDir:  GetRepoDir(baseDir),
		RevsDir:  GetRevsDir(baseDir),
		PacksDir: GetPacksDir(baseDir),
	}

	if err := os.MkdirAll(paths.RevsDir, 0755); err != nil {
		return RepoPaths{}, err
	}
	if err := os.MkdirAll(paths.PacksDir, 0755); err != nil {
		return RepoPaths{}, err
	}

	return paths, nil
}

// IsPathIgnored checks if a given path relative to the baseDir should be ignored.
// Compiled rules are cached per base directory.
func IsPathIgnored(baseDir, path string) bool {
	// The gitignore matcher is not safe for concurrent use, so every lookup is
	// serialized.
	cacheMutex.Lock()
	defer cacheMutex.Unlock()

	canonicalBaseDir, err := filepath.EvalSymlinks(baseDir)
	if err != nil {
		canonicalBaseDir = baseDir
	}

	matcher, found := ignoreCache[canonicalBaseDir]
	if !found {
		matcher = loadIgnoreMatcher(canonicalBaseDir)
		ignoreCache[canonicalBaseDir] = matcher
	}

	canonicalPathToCheck, err := filepath.EvalSymlinks(path)
	if err != nil {
		canonicalPathToCheck = path
	}

	relativePath, err := filepath.Rel(canonicalBaseDir, canonicalPathToCheck)
	if err != nil {
		return false
	}
	slashedPath := filepath.ToSlash(relativePath)

	match := matcher.Match(slashedPath)
	if match == nil {
		match = matcher.Match(canonicalPathToCheck)
	}
	if match == nil {
		return false
	}
	return match.Ignore()
}

// loadIgnoreMatcher compiles the default patterns plus the .treedeltaignore file.
func loadIgnoreMatcher(baseDir string) gitignore.GitIgnore {
	// 1. Start with the default patterns.
	rawPatterns := make([]string, len(defaultIgnorePatterns))
	copy(rawPatterns, defaultIgnorePatterns)

	// 2. Read patterns from the ignore file, if it exists.
	if content, err := os.ReadFile(filepath.Join(baseDir, IgnoreFilename)); err == nil {
		rawPatterns = append(rawPatterns, strings.Split(string(content), "\n")...)
	}

	// 3. Drop comments and blanks, normalize separators and directory patterns.
	var finalPatterns []string
	for _, p := range rawPatterns {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		trimmed = strings.ReplaceAll(trimmed, "\\", "/")
		if strings.HasSuffix(trimmed, "/") && !strings.HasSuffix(trimmed, "**/") {
			trimmed = trimmed + "**"
		}
		finalPatterns = append(finalPatterns, trimmed)
	}

	// 4. Compile, continuing past bad patterns.
	matcher := gitignore.New(
		strings.NewReader(strings.Join(finalPatterns, "\n")),
		baseDir,
		func(err gitignore.Error) bool { return false },
	)
	if matcher == nil {
		return gitignore.New(strings.NewReader(""), "", nil)
	}
	return matcher
}

// ResetIgnoreState clears the ignore cache. Tests that rewrite ignore files
// call it between cases.
func ResetIgnoreState() {
	cacheMutex.Lock()
	defer cacheMutex.Unlock()
	ignoreCache = make(map[string]gitignore.GitIgnore)
}
