package drive

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/editor"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// UpdateServer answers a report with an edit: once the report is finished it
// drives the difference between the reported tree and the target revision
// into its session.
type UpdateServer struct {
	builder *editor.ReportBuilder
	session *editor.Session
	lookup  types.TreeLookup
	target  types.Revision
	opts    Options
}

var _ editor.ReportReceiver = (*UpdateServer)(nil)

// NewUpdateServer returns a server editing session towards target. opts
// BaseRevision and TargetRevision are taken from the report and target.
func NewUpdateServer(session *editor.Session, lookup types.TreeLookup, target types.Revision, opts Options) *UpdateServer {
	return &UpdateServer{
		builder: editor.NewReportBuilder(),
		session: session,
		lookup:  lookup,
		target:  target,
		opts:    opts,
	}
}

func (u *UpdateServer) SetPath(path string, rev types.Revision, depth editor.Depth, startEmpty bool, lockToken string) error {
	return u.builder.SetPath(path, rev, depth, startEmpty, lockToken)
}

func (u *UpdateServer) DeletePath(path string) error {
	return u.builder.DeletePath(path)
}

func (u *UpdateServer) LinkPath(path, url string, rev types.Revision, depth editor.Depth, startEmpty bool, lockToken string) error {
	return u.builder.LinkPath(path, url, rev, depth, startEmpty, lockToken)
}

// FinishReport drives the edit. Its failure has already aborted the session.
func (u *UpdateServer) FinishReport() error {
	if err := u.builder.FinishReport(); err != nil {
		u.abortSession()
		return err
	}
	report, err := u.builder.Report()
	if err != nil {
		u.abortSession()
		return err
	}

	// 1. The reported state is the base, the target revision the goal.
	base, err := NewReportedTree(report, u.lookup)
	if err != nil {
		u.abortSession()
		return err
	}
	target, err := u.lookup(u.target)
	if err != nil {
		u.abortSession()
		return fmt.Errorf("failed to load target %s: %w", u.target, err)
	}

	// 2. Drive.
	root, _ := report.Root()
	opts := u.opts
	opts.BaseRevision = root.Revision
	opts.TargetRevision = u.target
	glog.V(1).Infof("update: %s -> %s over %d reported paths", root.Revision, u.target, len(report.Entries()))
	return DriveTrees(u.session, base, target, opts)
}

// AbortReport drops the report and aborts the session.
func (u *UpdateServer) AbortReport() error {
	if err := u.builder.AbortReport(); err != nil {
		return err
	}
	u.abortSession()
	return nil
}

func (u *UpdateServer) abortSession() {
	if state := u.session.State(); state == editor.StateUnopened || state == editor.StateRootOpen {
		if err := u.session.Abort(); err != nil {
			glog.Warningf("update: abort: %v", err)
		}
	}
}
