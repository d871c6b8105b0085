package wc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/delta"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/editor"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/lib"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

func newSession(t *testing.T, dir string, state *State, lookup types.TreeLookup) (*editor.Session, *Receiver) {
	t.Helper()
	lib.ResetIgnoreState()
	r, err := NewReceiver(dir, state, lookup)
	require.NoError(t, err)
	return editor.NewSession(r), r
}

// sendFile streams content as the new text of an open file and closes it.
func sendFile(t *testing.T, s *editor.Session, file editor.Handle, base, content []byte) {
	t.Helper()
	handler, err := s.ApplyTextDelta(file, delta.Sum(base))
	require.NoError(t, err)
	sum, err := delta.SendDelta(base, content, handler)
	require.NoError(t, err)
	require.NoError(t, s.CloseFile(file, sum))
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
	require.NoError(t, err)
	return string(content)
}

// checkedOut returns a working copy at r1 holding a.txt and d/b.txt.
func checkedOut(t *testing.T) (string, *State) {
	t.Helper()
	dir := t.TempDir()
	s, r := newSession(t, dir, NewState("/repo"), nil)
	require.NoError(t, s.SetTargetRevision(1))
	root, err := s.OpenRoot(0)
	require.NoError(t, err)
	a, err := s.AddFile(root, "a.txt", nil)
	require.NoError(t, err)
	sendFile(t, s, a, nil, []byte("alpha"))
	d, err := s.AddDirectory(root, "d", nil)
	require.NoError(t, err)
	b, err := s.AddFile(d, "d/b.txt", nil)
	require.NoError(t, err)
	sendFile(t, s, b, nil, []byte("bravo"))
	require.NoError(t, s.CloseDirectory(d))
	require.NoError(t, s.CloseDirectory(root))
	require.NoError(t, s.CloseEdit())
	return dir, r.State()
}

func TestReceiverCheckout(t *testing.T) {
	dir, state := checkedOut(t)

	assert.Equal(t, "alpha", readFile(t, dir, "a.txt"))
	assert.Equal(t, "bravo", readFile(t, dir, "d/b.txt"))
	assert.Equal(t, types.Revision(1), state.Revision)
	assert.Equal(t, []string{"", "a.txt", "d", "d/b.txt"}, state.Paths())
	for _, p := range state.Paths() {
		assert.Equal(t, types.Revision(1), state.Entries[p].Revision, p)
	}
	assert.Equal(t, delta.Sum([]byte("alpha")).String(), state.Entries["a.txt"].Checksum)

	saved, err := LoadState(dir)
	require.NoError(t, err)
	assert.Equal(t, state, saved)
}

func TestReceiverUpdate(t *testing.T) {
	// Arrange
	dir, state := checkedOut(t)
	s, r := newSession(t, dir, state, nil)

	// Act
	require.NoError(t, s.SetTargetRevision(2))
	root, err := s.OpenRoot(1)
	require.NoError(t, err)
	require.NoError(t, s.DeleteEntry(root, "d", 1))
	a, err := s.OpenFile(root, "a.txt", 1)
	require.NoError(t, err)
	require.NoError(t, s.ChangeFileProp(a, types.PropExecutable, []byte("*")))
	sendFile(t, s, a, []byte("alpha"), []byte("alpha beta"))
	link, err := s.AddFile(root, "link", nil)
	require.NoError(t, err)
	require.NoError(t, s.ChangeFileProp(link, types.PropSpecial, []byte("*")))
	sendFile(t, s, link, nil, []byte("link a.txt"))
	require.NoError(t, s.ChangeDirProp(root, "svn:ignore", []byte("*.o")))
	require.NoError(t, s.CloseDirectory(root))
	require.NoError(t, s.CloseEdit())

	// Assert
	assert.Equal(t, "alpha beta", readFile(t, dir, "a.txt"))
	info, err := os.Stat(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0100)
	assert.NoDirExists(t, filepath.Join(dir, "d"))
	target, err := os.Readlink(filepath.Join(dir, "link"))
	require.NoError(t, err)
	assert.Equal(t, "a.txt", target)

	updated := r.State()
	assert.Equal(t, types.Revision(2), updated.Revision)
	assert.Equal(t, []string{"", "a.txt", "link"}, updated.Paths())
	assert.Equal(t, "*.o", updated.Entries[""].Props["svn:ignore"])
	assert.Equal(t, types.Revision(2), updated.Entries["a.txt"].Revision)
}

func TestReceiverAbortLeavesWorkingCopyAlone(t *testing.T) {
	// Arrange
	dir, state := checkedOut(t)
	s, r := newSession(t, dir, state, nil)

	// Act
	require.NoError(t, s.SetTargetRevision(2))
	root, err := s.OpenRoot(1)
	require.NoError(t, err)
	require.NoError(t, s.DeleteEntry(root, "a.txt", 1))
	f, err := s.AddFile(root, "new.txt", nil)
	require.NoError(t, err)
	sendFile(t, s, f, nil, []byte("new"))
	require.NoError(t, s.Abort())

	// Assert
	assert.Equal(t, "alpha", readFile(t, dir, "a.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "new.txt"))
	assert.Same(t, state, r.State())
	saved, err := LoadState(dir)
	require.NoError(t, err)
	assert.Equal(t, types.Revision(1), saved.Revision)
}

func TestReceiverFailedPreparationLeavesWorkingCopyAlone(t *testing.T) {
	// Arrange
	dir, state := checkedOut(t)
	repoDir := lib.GetRepoDir(dir)
	require.NoError(t, os.RemoveAll(repoDir))
	require.NoError(t, os.WriteFile(repoDir, []byte("in the way"), 0644))
	s, _ := newSession(t, dir, state, nil)

	// Act
	root, err := s.OpenRoot(1)
	require.NoError(t, err)
	require.NoError(t, s.DeleteEntry(root, "d", 1))
	a, err := s.OpenFile(root, "a.txt", 1)
	require.NoError(t, err)
	sendFile(t, s, a, []byte("alpha"), []byte("changed"))
	require.NoError(t, s.CloseDirectory(root))
	err = s.CloseEdit()

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, editor.ErrReceiverFailure)
	assert.Equal(t, "alpha", readFile(t, dir, "a.txt"))
	assert.Equal(t, "bravo", readFile(t, dir, "d/b.txt"))
}

func TestReceiverCloseEditCleansUp(t *testing.T) {
	dir, _ := checkedOut(t)

	entries, err := os.ReadDir(lib.GetRepoDir(dir))

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, lib.WorkingCopyFilename, entries[0].Name())
}

func TestReceiverConflicts(t *testing.T) {
	tests := []struct {
		name string
		edit func(t *testing.T, s *editor.Session, root editor.Handle) error
	}{
		{
			name: "delete of a newer entry",
			edit: func(t *testing.T, s *editor.Session, root editor.Handle) error {
				return s.DeleteEntry(root, "a.txt", 0)
			},
		},
		{
			name: "add over an unversioned file",
			edit: func(t *testing.T, s *editor.Session, root editor.Handle) error {
				_, err := s.AddFile(root, "stray", nil)
				return err
			},
		},
		{
			name: "add over a versioned file",
			edit: func(t *testing.T, s *editor.Session, root editor.Handle) error {
				_, err := s.AddFile(root, "a.txt", nil)
				return err
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, state := checkedOut(t)
			require.NoError(t, os.WriteFile(filepath.Join(dir, "stray"), []byte("?"), 0644))
			s, _ := newSession(t, dir, state, nil)
			root, err := s.OpenRoot(1)
			require.NoError(t, err)

			err = tt.edit(t, s, root)

			assert.ErrorIs(t, err, ErrOutOfDate)
			assert.Equal(t, editor.StateAborted, s.State())
			assert.Equal(t, "alpha", readFile(t, dir, "a.txt"))
		})
	}
}

func TestReceiverLocalModification(t *testing.T) {
	dir, state := checkedOut(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("mine"), 0644))
	s, _ := newSession(t, dir, state, nil)
	root, err := s.OpenRoot(1)
	require.NoError(t, err)

	_, err = s.OpenFile(root, "a.txt", 1)

	assert.ErrorIs(t, err, ErrOutOfDate)
	assert.Equal(t, "mine", readFile(t, dir, "a.txt"))
}

func TestReceiverPropertyOnlyChangeChecksTheText(t *testing.T) {
	dir, state := checkedOut(t)
	s, _ := newSession(t, dir, state, nil)
	root, err := s.OpenRoot(1)
	require.NoError(t, err)
	a, err := s.OpenFile(root, "a.txt", 1)
	require.NoError(t, err)
	require.NoError(t, s.ChangeFileProp(a, types.PropExecutable, []byte("*")))

	err = s.CloseFile(a, delta.Sum([]byte("not alpha")))

	assert.ErrorIs(t, err, delta.ErrChecksumMismatch)
	assert.Equal(t, editor.StateAborted, s.State())
}

func TestReceiverRestoresMissingNode(t *testing.T) {
	dir, state := checkedOut(t)
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "d")))
	s, r := newSession(t, dir, state, nil)

	root, err := s.OpenRoot(1)
	require.NoError(t, err)
	d, err := s.AddDirectory(root, "d", nil)
	require.NoError(t, err)
	require.NoError(t, s.CloseDirectory(d))
	require.NoError(t, s.CloseDirectory(root))
	require.NoError(t, s.CloseEdit())

	assert.DirExists(t, filepath.Join(dir, "d"))
	assert.NotContains(t, r.State().Entries, "d/b.txt")
}

func TestReceiverCopies(t *testing.T) {
	// Arrange
	source := t.TempDir()
	writeTree(t, source, map[string]string{"lib/x.go": "package x", "lib/y.go": "package y", "README": "read me"})
	sourceTree, err := lib.NewFSTree(source)
	require.NoError(t, err)
	lookup := func(rev types.Revision) (types.TreeSource, error) {
		assert.Equal(t, types.Revision(7), rev)
		return sourceTree, nil
	}
	dir, state := checkedOut(t)
	s, r := newSession(t, dir, state, lookup)

	// Act
	root, err := s.OpenRoot(1)
	require.NoError(t, err)
	readme, err := s.AddFile(root, "README.copy", &types.CopyFrom{Path: "README", Revision: 7})
	require.NoError(t, err)
	require.NoError(t, s.CloseFile(readme, delta.Sum([]byte("read me"))))
	vendor, err := s.AddDirectory(root, "vendor", &types.CopyFrom{Path: "lib", Revision: 7})
	require.NoError(t, err)
	x, err := s.OpenFile(vendor, "vendor/x.go", 7)
	require.NoError(t, err)
	sendFile(t, s, x, []byte("package x"), []byte("package x // patched"))
	require.NoError(t, s.CloseDirectory(vendor))
	require.NoError(t, s.CloseDirectory(root))
	require.NoError(t, s.CloseEdit())

	// Assert
	assert.Equal(t, "read me", readFile(t, dir, "README.copy"))
	assert.Equal(t, "package x // patched", readFile(t, dir, "vendor/x.go"))
	assert.Equal(t, "package y", readFile(t, dir, "vendor/y.go"))
	assert.Contains(t, r.State().Entries, "vendor/y.go")
	assert.Equal(t, delta.Sum([]byte("package x // patched")).String(), r.State().Entries["vendor/x.go"].Checksum)
}
