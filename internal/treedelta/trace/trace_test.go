package trace

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yml "gopkg.in/yaml.v3"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/delta"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/editor"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

func sendText(t *testing.T, sess *editor.Session, file editor.Handle, base, content []byte) {
	t.Helper()
	handler, err := sess.ApplyTextDelta(file, delta.Sum(base))
	require.NoError(t, err)
	var windows []*delta.Window
	sum, err := delta.SendDelta(base, content, delta.Tee(delta.Collect(&windows), handler))
	require.NoError(t, err)
	assert.Equal(t, delta.Sum(content), sum)
	assert.NotEmpty(t, windows)
}

func recordEdit(t *testing.T) *Receiver {
	t.Helper()
	rec := NewReceiver(func(p string) ([]byte, error) { return []byte("old " + p), nil })
	sess := editor.NewSession(rec)

	require.NoError(t, sess.SetTargetRevision(7))
	root, err := sess.OpenRoot(6)
	require.NoError(t, err)
	require.NoError(t, sess.DeleteEntry(root, "gone", 6))
	dir, err := sess.AddDirectory(root, "docs", nil)
	require.NoError(t, err)
	added, err := sess.AddFile(dir, "docs/new.md", nil)
	require.NoError(t, err)
	sendText(t, sess, added, nil, []byte("# title\n"))
	require.NoError(t, sess.ChangeFileProp(added, "svn:mime-type", []byte("text/markdown")))
	require.NoError(t, sess.CloseFile(added, delta.Sum([]byte("# title\n"))))
	copied, err := sess.AddFile(dir, "docs/copy.md", &types.CopyFrom{Path: "README", Revision: 6})
	require.NoError(t, err)
	require.NoError(t, sess.CloseFile(copied, delta.Checksum{}))
	require.NoError(t, sess.CloseDirectory(dir))
	opened, err := sess.OpenFile(root, "main.go", 6)
	require.NoError(t, err)
	sendText(t, sess, opened, []byte("old main.go"), []byte("new main.go"))
	require.NoError(t, sess.CloseFile(opened, delta.Sum([]byte("new main.go"))))
	require.NoError(t, sess.AbsentFile(root, "locked"))
	require.NoError(t, sess.ChangeDirProp(root, "svn:ignore", nil))
	require.NoError(t, sess.CloseDirectory(root))
	require.NoError(t, sess.CloseEdit())
	return rec
}

func TestReceiverRecordsEdit(t *testing.T) {
	rec := recordEdit(t)

	assert.Equal(t, []string{
		"set_target_revision",
		"open_root",
		"delete_entry gone",
		"add_directory docs",
		"add_file docs/new.md",
		"apply_textdelta docs/new.md",
		"change_file_prop docs/new.md",
		"close_file docs/new.md",
		"add_file docs/copy.md",
		"close_file docs/copy.md",
		"close_directory docs",
		"open_file main.go",
		"apply_textdelta main.go",
		"close_file main.go",
		"absent_file locked",
		"change_dir_prop",
		"close_directory",
		"close_edit",
	}, rec.Ops())
	assert.Equal(t, "# title\n", string(rec.Files()["docs/new.md"]))
	assert.Equal(t, "new main.go", string(rec.Files()["main.go"]))
	assert.NotContains(t, rec.Files(), "docs/copy.md")
	assert.Equal(t, []string{"gone"}, rec.Deleted())
	assert.Equal(t, []string{"docs", "docs/copy.md", "docs/new.md", "gone", "main.go"}, rec.Changed())
}

func TestReceiverSummary(t *testing.T) {
	rec := recordEdit(t)

	assert.Equal(t, "D gone\nA docs\nA docs/new.md\nC docs/copy.md\nM main.go\n! locked\n", rec.Summary())
}

func TestReceiverWriteYAML(t *testing.T) {
	rec := recordEdit(t)

	var buf bytes.Buffer
	require.NoError(t, rec.WriteYAML(&buf))

	var events []Event
	require.NoError(t, yml.Unmarshal(buf.Bytes(), &events))
	require.Len(t, events, len(rec.Events))
	assert.Equal(t, "set_target_revision", events[0].Op)
	require.NotNil(t, events[0].Revision)
	assert.Equal(t, types.Revision(7), *events[0].Revision)
	assert.Equal(t, "text/markdown", events[6].Value)
	assert.True(t, events[15].Deleted)
	assert.Contains(t, buf.String(), "copy-from:")
}

func TestReceiverRejectsBadBase(t *testing.T) {
	rec := NewReceiver(func(string) ([]byte, error) { return []byte("actual"), nil })
	sess := editor.NewSession(rec)
	root, err := sess.OpenRoot(1)
	require.NoError(t, err)
	file, err := sess.OpenFile(root, "f", 1)
	require.NoError(t, err)

	_, err = sess.ApplyTextDelta(file, delta.Sum([]byte("expected")))

	assert.ErrorIs(t, err, delta.ErrChecksumMismatch)
	assert.Equal(t, editor.StateAborted, sess.State())
	assert.Equal(t, "abort_edit", rec.Ops()[len(rec.Ops())-1])
}
