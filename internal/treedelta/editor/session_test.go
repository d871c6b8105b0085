package editor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/delta"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// recorder logs every call it receives and applies text deltas against an
// empty base. failOn makes the named call return errBoom.
type recorder struct {
	calls    []string
	contents map[string][]byte
	failOn   string
	aborts   int
}

var errBoom = errors.New("boom")

func newRecorder() *recorder {
	return &recorder{contents: make(map[string][]byte)}
}

func (r *recorder) record(call string) error {
	r.calls = append(r.calls, call)
	if r.failOn != "" && r.failOn == call {
		return errBoom
	}
	return nil
}

func (r *recorder) SetTargetRevision(rev types.Revision) error {
	return r.record(fmt.Sprintf("set_target_revision %d", rev))
}

func (r *recorder) OpenRoot(types.Revision) (Baton, error) {
	return "", r.record("open_root")
}

func (r *recorder) DeleteEntry(p string, _ types.Revision, _ Baton) error {
	return r.record("delete_entry " + p)
}

func (r *recorder) AddDirectory(p string, _ Baton, _ *types.CopyFrom) (Baton, error) {
	return p, r.record("add_directory " + p)
}

func (r *recorder) OpenDirectory(p string, _ Baton, _ types.Revision) (Baton, error) {
	return p, r.record("open_directory " + p)
}

func (r *recorder) ChangeDirProp(dir Baton, name string, _ []byte) error {
	return r.record(fmt.Sprintf("change_dir_prop %s %s", dir, name))
}

func (r *recorder) CloseDirectory(dir Baton) error {
	return r.record(fmt.Sprintf("close_directory %s", dir))
}

func (r *recorder) AbsentDirectory(p string, _ Baton) error {
	return r.record("absent_directory " + p)
}

func (r *recorder) AddFile(p string, _ Baton, _ *types.CopyFrom) (Baton, error) {
	return p, r.record("add_file " + p)
}

func (r *recorder) OpenFile(p string, _ Baton, _ types.Revision) (Baton, error) {
	return p, r.record("open_file " + p)
}

func (r *recorder) ApplyTextDelta(file Baton, _ delta.Checksum) (delta.WindowHandler, error) {
	p := file.(string)
	if err := r.record("apply_textdelta " + p); err != nil {
		return nil, err
	}
	applier := delta.NewApplier(nil)
	return func(w *delta.Window) error {
		if err := applier.HandleWindow(w); err != nil {
			return err
		}
		if w == nil {
			r.contents[p] = applier.Result()
		}
		return nil
	}, nil
}

func (r *recorder) ChangeFileProp(file Baton, name string, _ []byte) error {
	return r.record(fmt.Sprintf("change_file_prop %s %s", file, name))
}

func (r *recorder) CloseFile(file Baton, checksum delta.Checksum) error {
	p := file.(string)
	if err := r.record("close_file " + p); err != nil {
		return err
	}
	if content, ok := r.contents[p]; ok {
		return delta.Verify(checksum, delta.Sum(content))
	}
	return nil
}

func (r *recorder) AbsentFile(p string, _ Baton) error {
	return r.record("absent_file " + p)
}

func (r *recorder) CloseEdit() error {
	return r.record("close_edit")
}

func (r *recorder) AbortEdit() error {
	r.aborts++
	return r.record("abort_edit")
}

// openSrcFile drives a session up to an open file "src/a.txt".
func openSrcFile(t *testing.T, s *Session) (root, dir, file Handle) {
	t.Helper()
	root, err := s.OpenRoot(0)
	require.NoError(t, err)
	dir, err = s.AddDirectory(root, "src", nil)
	require.NoError(t, err)
	file, err = s.AddFile(dir, "src/a.txt", nil)
	require.NoError(t, err)
	return root, dir, file
}

func TestSessionAddFileEdit(t *testing.T) {
	// Arrange
	rec := newRecorder()
	s := NewSession(rec)

	// Act
	require.NoError(t, s.SetTargetRevision(1))
	root, dir, file := openSrcFile(t, s)
	handler, err := s.ApplyTextDelta(file, nil)
	require.NoError(t, err)
	checksum, err := delta.Send([]byte("hello"), handler)
	require.NoError(t, err)
	require.NoError(t, s.CloseFile(file, checksum))
	require.NoError(t, s.CloseDirectory(dir))
	require.NoError(t, s.CloseDirectory(root))
	require.NoError(t, s.CloseEdit())

	// Assert
	assert.Equal(t, []string{
		"set_target_revision 1",
		"open_root",
		"add_directory src",
		"add_file src/a.txt",
		"apply_textdelta src/a.txt",
		"close_file src/a.txt",
		"close_directory src",
		"close_directory ",
		"close_edit",
	}, rec.calls)
	assert.Equal(t, []byte("hello"), rec.contents["src/a.txt"])
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", checksum.String())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, types.Revision(1), s.TargetRevision())
	assert.Zero(t, s.OpenHandles())
	assert.NotEmpty(t, s.ID())
}

func TestSessionProtocolViolations(t *testing.T) {
	testCases := []struct {
		name string
		act  func(t *testing.T, s *Session) error
	}{
		{
			name: "close directory with open file",
			act: func(t *testing.T, s *Session) error {
				_, dir, _ := openSrcFile(t, s)
				return s.CloseDirectory(dir)
			},
		},
		{
			name: "open root twice",
			act: func(t *testing.T, s *Session) error {
				_, err := s.OpenRoot(0)
				require.NoError(t, err)
				_, err = s.OpenRoot(0)
				return err
			},
		},
		{
			name: "target revision after open root",
			act: func(t *testing.T, s *Session) error {
				_, err := s.OpenRoot(0)
				require.NoError(t, err)
				return s.SetTargetRevision(2)
			},
		},
		{
			name: "close edit before open root",
			act: func(t *testing.T, s *Session) error {
				return s.CloseEdit()
			},
		},
		{
			name: "close edit with open root",
			act: func(t *testing.T, s *Session) error {
				_, err := s.OpenRoot(0)
				require.NoError(t, err)
				return s.CloseEdit()
			},
		},
		{
			name: "path that is not a child",
			act: func(t *testing.T, s *Session) error {
				root, err := s.OpenRoot(0)
				require.NoError(t, err)
				_, err = s.AddFile(root, "src/a.txt", nil)
				return err
			},
		},
		{
			name: "path escaping the root",
			act: func(t *testing.T, s *Session) error {
				root, err := s.OpenRoot(0)
				require.NoError(t, err)
				_, err = s.AddFile(root, "../a.txt", nil)
				return err
			},
		},
		{
			name: "open the same path twice",
			act: func(t *testing.T, s *Session) error {
				root, err := s.OpenRoot(0)
				require.NoError(t, err)
				_, err = s.AddDirectory(root, "src", nil)
				require.NoError(t, err)
				_, err = s.OpenDirectory(root, "src", 0)
				return err
			},
		},
		{
			name: "file handle used as directory",
			act: func(t *testing.T, s *Session) error {
				_, _, file := openSrcFile(t, s)
				_, err := s.AddFile(file, "src/a.txt/b", nil)
				return err
			},
		},
		{
			name: "directory handle used as file",
			act: func(t *testing.T, s *Session) error {
				_, dir, _ := openSrcFile(t, s)
				return s.ChangeFileProp(dir, "svn:executable", []byte("*"))
			},
		},
		{
			name: "apply text delta twice",
			act: func(t *testing.T, s *Session) error {
				_, _, file := openSrcFile(t, s)
				handler, err := s.ApplyTextDelta(file, nil)
				require.NoError(t, err)
				require.NoError(t, handler(nil))
				_, err = s.ApplyTextDelta(file, nil)
				return err
			},
		},
		{
			name: "close file while delta streams",
			act: func(t *testing.T, s *Session) error {
				_, _, file := openSrcFile(t, s)
				_, err := s.ApplyTextDelta(file, nil)
				require.NoError(t, err)
				return s.CloseFile(file, nil)
			},
		},
		{
			name: "delete an open entry",
			act: func(t *testing.T, s *Session) error {
				root, _, _ := openSrcFile(t, s)
				return s.DeleteEntry(root, "src", 0)
			},
		},
		{
			name: "copy source without revision",
			act: func(t *testing.T, s *Session) error {
				root, err := s.OpenRoot(0)
				require.NoError(t, err)
				_, err = s.AddFile(root, "b.txt", &types.CopyFrom{Path: "a.txt", Revision: types.InvalidRevision})
				return err
			},
		},
		{
			name: "stale handle",
			act: func(t *testing.T, s *Session) error {
				_, _, file := openSrcFile(t, s)
				require.NoError(t, s.CloseFile(file, nil))
				return s.ChangeFileProp(file, "x", []byte("y"))
			},
		},
		{
			name: "zero handle",
			act: func(t *testing.T, s *Session) error {
				_, err := s.OpenRoot(0)
				require.NoError(t, err)
				return s.CloseDirectory(Handle{})
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			rec := newRecorder()
			s := NewSession(rec)

			// Act
			err := tc.act(t, s)

			// Assert
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrProtocolViolation)
			assert.Equal(t, StateAborted, s.State())
			assert.Equal(t, 1, rec.aborts, "receiver must see exactly one abort_edit")
			assert.Zero(t, s.OpenHandles())
		})
	}
}

func TestSessionAbort(t *testing.T) {
	t.Run("every later call fails with session aborted", func(t *testing.T) {
		rec := newRecorder()
		s := NewSession(rec)
		root, dir, file := openSrcFile(t, s)

		require.NoError(t, s.Abort())

		assert.ErrorIs(t, s.CloseFile(file, nil), ErrSessionAborted)
		assert.ErrorIs(t, s.CloseDirectory(dir), ErrSessionAborted)
		assert.ErrorIs(t, s.CloseDirectory(root), ErrSessionAborted)
		assert.ErrorIs(t, s.CloseEdit(), ErrSessionAborted)
		assert.ErrorIs(t, s.Abort(), ErrSessionAborted)
		assert.Equal(t, 1, rec.aborts)
		assert.Zero(t, s.OpenHandles())
	})

	t.Run("abort before open root", func(t *testing.T) {
		rec := newRecorder()
		s := NewSession(rec)

		require.NoError(t, s.Abort())
		_, err := s.OpenRoot(0)
		assert.ErrorIs(t, err, ErrSessionAborted)
	})

	t.Run("abort during a delta stream", func(t *testing.T) {
		rec := newRecorder()
		s := NewSession(rec)
		_, _, file := openSrcFile(t, s)
		handler, err := s.ApplyTextDelta(file, nil)
		require.NoError(t, err)

		require.NoError(t, s.Abort())

		assert.ErrorIs(t, handler(nil), ErrSessionAborted)
	})

	t.Run("calls after close edit fail with session closed", func(t *testing.T) {
		rec := newRecorder()
		s := NewSession(rec)
		root, err := s.OpenRoot(0)
		require.NoError(t, err)
		require.NoError(t, s.CloseDirectory(root))
		require.NoError(t, s.CloseEdit())

		assert.ErrorIs(t, s.CloseEdit(), ErrSessionClosed)
		assert.ErrorIs(t, s.Abort(), ErrSessionClosed)
		_, err = s.AddFile(root, "a", nil)
		assert.ErrorIs(t, err, ErrSessionClosed)
		assert.Zero(t, rec.aborts)
	})
}

func TestSessionReceiverFailure(t *testing.T) {
	// Arrange
	rec := newRecorder()
	rec.failOn = "add_file src/a.txt"
	s := NewSession(rec)
	root, err := s.OpenRoot(0)
	require.NoError(t, err)
	dir, err := s.AddDirectory(root, "src", nil)
	require.NoError(t, err)

	// Act
	_, err = s.AddFile(dir, "src/a.txt", nil)

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReceiverFailure)
	assert.ErrorIs(t, err, errBoom)
	var rerr *ReceiverError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "add_file", rerr.Op)
	assert.Equal(t, "src/a.txt", rerr.Path)
	assert.Equal(t, StateAborted, s.State())
	assert.Equal(t, 1, rec.aborts)
	assert.ErrorIs(t, s.CloseDirectory(dir), ErrSessionAborted)
}

func TestSessionChecksumMismatch(t *testing.T) {
	// Arrange
	rec := newRecorder()
	s := NewSession(rec)
	_, _, file := openSrcFile(t, s)
	handler, err := s.ApplyTextDelta(file, nil)
	require.NoError(t, err)
	_, err = delta.Send([]byte("hello"), handler)
	require.NoError(t, err)

	// Act
	err = s.CloseFile(file, delta.Sum([]byte("goodbye")))

	// Assert
	assert.ErrorIs(t, err, delta.ErrChecksumMismatch)
	assert.ErrorIs(t, err, ErrReceiverFailure)
	assert.Equal(t, StateAborted, s.State())
}

func TestSessionIndependentSessions(t *testing.T) {
	a := NewSession(NopReceiver{})
	b := NewSession(NopReceiver{})

	rootA, err := a.OpenRoot(0)
	require.NoError(t, err)
	_, err = b.OpenRoot(0)
	require.NoError(t, err)

	require.NoError(t, b.Abort())

	// a is unaffected by b aborting.
	_, err = a.AddFile(rootA, "x", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestSessionReusesPaths(t *testing.T) {
	s := NewSession(NopReceiver{})
	root, err := s.OpenRoot(0)
	require.NoError(t, err)

	first, err := s.AddFile(root, "/a.txt/", nil)
	require.NoError(t, err)
	require.NoError(t, s.CloseFile(first, nil))

	// The slot is reused under a new generation, so the old handle stays dead.
	second, err := s.OpenFile(root, "a.txt", 0)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	require.NoError(t, s.CloseFile(second, nil))
	require.NoError(t, s.DeleteEntry(root, "a.txt", 0))
	require.NoError(t, s.AbsentFile(root, "b.txt"))
	require.NoError(t, s.AbsentDirectory(root, "c"))
	require.NoError(t, s.ChangeDirProp(root, "svn:ignore", nil))
	require.NoError(t, s.CloseDirectory(root))
	require.NoError(t, s.CloseEdit())
}
