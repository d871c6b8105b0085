package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// failingReport fails every set_path and counts aborts.
type failingReport struct {
	*ReportBuilder
	aborts int
}

func (f *failingReport) SetPath(string, types.Revision, Depth, bool, string) error {
	return errBoom
}

func (f *failingReport) AbortReport() error {
	f.aborts++
	return nil
}

func TestReporterBuildsReport(t *testing.T) {
	// Arrange
	builder := NewReportBuilder()
	r := NewReporter(builder)

	// Act
	require.NoError(t, r.SetPath("", 5, DepthInfinity, false, ""))
	require.NoError(t, r.SetPath("/src/", 3, DepthFiles, true, "lock-1"))
	require.NoError(t, r.DeletePath("old.txt"))
	require.NoError(t, r.LinkPath("vendor", "file:///other", 2, DepthEmpty, false, ""))
	require.NoError(t, r.Finish())
	report, err := builder.Report()

	// Assert
	require.NoError(t, err)
	root, ok := report.Root()
	require.True(t, ok)
	assert.Equal(t, types.Revision(5), root.Revision)

	src, ok := report.Lookup("src")
	require.True(t, ok)
	assert.Equal(t, ReportSet, src.Kind)
	assert.Equal(t, DepthFiles, src.Depth)
	assert.True(t, src.StartEmpty)
	assert.Equal(t, "lock-1", src.LockToken)

	old, ok := report.Lookup("old.txt")
	require.True(t, ok)
	assert.Equal(t, ReportDelete, old.Kind)

	vendor, ok := report.Lookup("vendor")
	require.True(t, ok)
	assert.Equal(t, ReportLink, vendor.Kind)
	assert.Equal(t, "file:///other", vendor.URL)

	var paths []string
	for _, e := range report.Entries() {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"", "old.txt", "src", "vendor"}, paths)
}

func TestReporterLifecycle(t *testing.T) {
	t.Run("calls after finish fail with session closed", func(t *testing.T) {
		r := NewReporter(NewReportBuilder())
		require.NoError(t, r.SetPath("", 0, DepthInfinity, false, ""))
		require.NoError(t, r.Finish())

		err := r.SetPath("x", 0, DepthInfinity, false, "")
		assert.ErrorIs(t, err, ErrSessionClosed)
		assert.NotErrorIs(t, err, ErrSessionAborted)
		assert.ErrorIs(t, r.Finish(), ErrSessionClosed)
	})

	t.Run("calls after abort fail with session closed and aborted", func(t *testing.T) {
		builder := NewReportBuilder()
		r := NewReporter(builder)
		require.NoError(t, r.SetPath("", 0, DepthInfinity, false, ""))
		require.NoError(t, r.Abort())

		err := r.DeletePath("x")
		assert.ErrorIs(t, err, ErrSessionClosed)
		assert.ErrorIs(t, err, ErrSessionAborted)
		_, err = builder.Report()
		assert.Error(t, err)
	})

	t.Run("a report of a subtree finishes without a root", func(t *testing.T) {
		builder := NewReportBuilder()
		r := NewReporter(builder)

		require.NoError(t, r.SetPath("trunk", 10, DepthInfinity, false, ""))
		require.NoError(t, r.DeletePath("trunk/old.txt"))
		require.NoError(t, r.Finish())

		report, err := builder.Report()
		require.NoError(t, err)
		_, ok := report.Root()
		assert.False(t, ok)
		trunk, ok := report.Lookup("trunk")
		require.True(t, ok)
		assert.Equal(t, types.Revision(10), trunk.Revision)
		old, ok := report.Lookup("trunk/old.txt")
		require.True(t, ok)
		assert.Equal(t, ReportDelete, old.Kind)
	})

	t.Run("receiver failure aborts the report", func(t *testing.T) {
		recv := &failingReport{ReportBuilder: NewReportBuilder()}
		r := NewReporter(recv)

		err := r.SetPath("", 0, DepthInfinity, false, "")

		assert.ErrorIs(t, err, ErrReceiverFailure)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, recv.aborts)
		assert.ErrorIs(t, r.DeletePath("x"), ErrSessionAborted)
	})
}

func TestDepthString(t *testing.T) {
	assert.Equal(t, "infinity", Depth(0).String())
	assert.Equal(t, "immediates", DepthImmediates.String())
}
