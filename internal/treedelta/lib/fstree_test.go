package lib

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// setupFSTree builds a small directory tree and returns an FSTree over it.
func setupFSTree(t *testing.T) (*FSTree, string) {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	ResetIgnoreState()

	files := map[string]string{
		"a.txt":           "hello",
		"empty.txt":       "",
		"src/main.go":     "package main\n",
		"debug.log":       "noise",
		".treedelta/x":    "internal",
		IgnoreFilename:    "*.log\n",
		"src/lib/util.go": "package lib\n",
	}
	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}

	tree, err := NewFSTree(dir)
	require.NoError(t, err)
	return tree, dir
}

func entryNames(entries []types.Entry) []string {
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

func TestFSTreeList(t *testing.T) {
	tree, _ := setupFSTree(t)

	root, err := tree.List("")
	require.NoError(t, err)
	src, err := tree.List("src")
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "empty.txt", "src"}, entryNames(root))
	assert.Equal(t, types.KindDir, root[2].Kind)
	assert.Equal(t, []string{"lib", "main.go"}, entryNames(src))
}

func TestFSTreeStat(t *testing.T) {
	tree, _ := setupFSTree(t)

	testCases := []struct {
		path string
		want types.NodeKind
	}{
		{"", types.KindDir},
		{"a.txt", types.KindFile},
		{"src/lib", types.KindDir},
		{"missing", types.KindNone},
		{"debug.log", types.KindNone},
		{".treedelta", types.KindNone},
	}
	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			kind, err := tree.Stat(tc.path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, kind)
		})
	}
}

func TestFSTreeContents(t *testing.T) {
	tree, _ := setupFSTree(t)

	content, err := tree.Contents("src/main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(content))

	empty, err := tree.Contents("empty.txt")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = tree.Contents("src")
	assert.Error(t, err)
}

func TestFSTreeProps(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no executable bit or symlinks on windows")
	}
	tree, dir := setupFSTree(t)
	require.NoError(t, os.Chmod(filepath.Join(dir, "a.txt"), 0755))
	require.NoError(t, os.Symlink("a.txt", filepath.Join(dir, "link")))

	execProps, err := tree.Props("a.txt")
	require.NoError(t, err)
	linkProps, err := tree.Props("link")
	require.NoError(t, err)
	linkText, err := tree.Contents("link")
	require.NoError(t, err)
	plainProps, err := tree.Props("empty.txt")
	require.NoError(t, err)

	assert.Equal(t, []byte("*"), execProps[types.PropExecutable])
	assert.Equal(t, []byte("*"), linkProps[types.PropSpecial])
	assert.Equal(t, "link a.txt", string(linkText))
	assert.Empty(t, plainProps)
}

func TestNewFSTreeRejectsFiles(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	_, err := NewFSTree(file)

	assert.Error(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0644))

	require.NoError(t, WriteFileAtomic(dst, []byte("new"), 0600))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must not be left behind")
	if runtime.GOOS != "windows" {
		info, err := os.Stat(dst)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}
