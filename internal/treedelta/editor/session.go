package editor

import (
	"fmt"
	"path"
	"strings"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/delta"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// State is the lifecycle state of an edit session.
type State int

const (
	StateUnopened State = iota
	StateRootOpen
	StateClosed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateRootOpen:
		return "root-open"
	case StateClosed:
		return "closed"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session is one tree edit. It is driven from a single goroutine: the driver
// calls its methods in nesting order and the session forwards each call to
// the receiver chosen at construction.
//
// Any receiver error or protocol violation aborts the session: every handle is
// invalidated and the receiver's AbortEdit is called once.
type Session struct {
	id        ulid.ULID
	receiver  TreeReceiver
	state     State
	targetRev types.Revision
	targetSet bool

	root       Handle
	rootClosed bool

	nodes       arena
	openPaths   map[string]Handle
	activeDelta Handle
}

// NewSession starts an edit that dispatches to receiver.
func NewSession(receiver TreeReceiver) *Session {
	return &Session{
		id:        ulid.Make(),
		receiver:  receiver,
		targetRev: types.InvalidRevision,
		openPaths: make(map[string]Handle),
	}
}

// ID returns the unique id of this edit.
func (s *Session) ID() string {
	return s.id.String()
}

func (s *Session) State() State {
	return s.state
}

// TargetRevision returns the revision set by SetTargetRevision, or
// InvalidRevision.
func (s *Session) TargetRevision() types.Revision {
	return s.targetRev
}

// OpenHandles returns the number of handles currently open.
func (s *Session) OpenHandles() int {
	return s.nodes.live()
}

// checkLive fails for sessions in a terminal state.
func (s *Session) checkLive() error {
	switch s.state {
	case StateClosed:
		return fmt.Errorf("edit %s: %w", s.id, ErrSessionClosed)
	case StateAborted:
		return fmt.Errorf("edit %s: %w", s.id, ErrSessionAborted)
	}
	return nil
}

// begin is the prelude of every editor call other than the window handler
// and Abort.
func (s *Session) begin(op string) error {
	if err := s.checkLive(); err != nil {
		return err
	}
	if !s.activeDelta.IsZero() {
		n, _ := s.nodes.lookup(s.activeDelta)
		return s.violation("%s while the text delta for %q is still streaming", op, n.path)
	}
	return nil
}

// violation aborts the session for a driver bug and returns the error.
func (s *Session) violation(format string, args ...any) error {
	err := fmt.Errorf("edit %s: %w: %s", s.id, ErrProtocolViolation, fmt.Sprintf(format, args...))
	glog.Errorf("%v", err)
	s.fail(err)
	return err
}

// receiverFailed aborts the session after a receiver error.
func (s *Session) receiverFailed(op, p string, err error) error {
	rerr := &ReceiverError{Op: op, Path: p, Err: err}
	glog.Warningf("edit %s: %v", s.id, rerr)
	s.fail(rerr)
	return rerr
}

func (s *Session) fail(cause error) {
	if s.state == StateClosed || s.state == StateAborted {
		return
	}
	s.state = StateAborted
	s.nodes.releaseAll()
	s.openPaths = make(map[string]Handle)
	s.activeDelta = Handle{}
	if err := s.receiver.AbortEdit(); err != nil {
		glog.Warningf("edit %s: abort after %v: %v", s.id, cause, err)
	}
}

func (s *Session) lookupKind(h Handle, kind types.NodeKind, op string) (*node, error) {
	n, ok := s.nodes.lookup(h)
	if !ok {
		return nil, s.violation("%s: handle %s is not open", op, h)
	}
	if n.kind != kind {
		return nil, s.violation("%s: handle %s (%q) is a %s, want a %s", op, h, n.path, n.kind, kind)
	}
	return n, nil
}

// childPath normalizes p and checks that it names a direct child of dir.
func (s *Session) childPath(dir *node, p, op string) (string, error) {
	trimmed := strings.Trim(p, "/")
	cleaned := path.Clean(trimmed)
	if trimmed == "" || cleaned != trimmed || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", s.violation("%s: invalid path %q", op, p)
	}

	parent := path.Dir(cleaned)
	if parent == "." {
		parent = ""
	}
	if parent != dir.path {
		return "", s.violation("%s: %q is not a child of %q", op, cleaned, dir.path)
	}
	return cleaned, nil
}

func (s *Session) trace(op, p string) {
	if glog.V(2) {
		glog.Infof("edit %s: %s %q", s.id, op, p)
	}
}

// SetTargetRevision declares the revision the edit produces. It may be called
// at most once, before OpenRoot.
func (s *Session) SetTargetRevision(rev types.Revision) error {
	const op = "set_target_revision"
	if err := s.begin(op); err != nil {
		return err
	}
	if s.state != StateUnopened {
		return s.violation("%s after open_root", op)
	}
	if s.targetSet {
		return s.violation("%s called twice", op)
	}

	s.trace(op, rev.String())
	if err := s.receiver.SetTargetRevision(rev); err != nil {
		return s.receiverFailed(op, "", err)
	}
	s.targetRev = rev
	s.targetSet = true
	return nil
}

// OpenRoot opens the root directory of the edit. It may be called once.
func (s *Session) OpenRoot(baseRev types.Revision) (Handle, error) {
	const op = "open_root"
	if err := s.begin(op); err != nil {
		return Handle{}, err
	}
	if s.state != StateUnopened {
		return Handle{}, s.violation("%s called twice", op)
	}

	s.trace(op, "")
	baton, err := s.receiver.OpenRoot(baseRev)
	if err != nil {
		return Handle{}, s.receiverFailed(op, "", err)
	}

	s.root = s.nodes.alloc(node{kind: types.KindDir, path: "", baton: baton})
	s.openPaths[""] = s.root
	s.state = StateRootOpen
	return s.root, nil
}

// CloseEdit completes the edit. The root and all its descendants must be
// closed.
func (s *Session) CloseEdit() error {
	const op = "close_edit"
	if err := s.begin(op); err != nil {
		return err
	}
	if s.state == StateUnopened {
		return s.violation("%s before open_root", op)
	}
	if !s.rootClosed || s.nodes.live() > 0 {
		return s.violation("%s with %d handles still open", op, s.nodes.live())
	}

	s.trace(op, "")
	if err := s.receiver.CloseEdit(); err != nil {
		return s.receiverFailed(op, "", err)
	}
	s.state = StateClosed
	glog.V(1).Infof("edit %s: closed", s.id)
	return nil
}

// Abort cancels the edit from any non-terminal state. Every handle becomes
// invalid and later calls fail with ErrSessionAborted.
func (s *Session) Abort() error {
	if err := s.checkLive(); err != nil {
		return err
	}

	s.trace("abort_edit", "")
	s.state = StateAborted
	s.nodes.releaseAll()
	s.openPaths = make(map[string]Handle)
	s.activeDelta = Handle{}
	if err := s.receiver.AbortEdit(); err != nil {
		return &ReceiverError{Op: "abort_edit", Err: err}
	}
	glog.V(1).Infof("edit %s: aborted", s.id)
	return nil
}

// DeleteEntry removes the child p of dir. rev is the revision the driver
// expects the entry to be at; receivers may report a conflict when it is not.
func (s *Session) DeleteEntry(dir Handle, p string, rev types.Revision) error {
	const op = "delete_entry"
	if err := s.begin(op); err != nil {
		return err
	}
	n, err := s.lookupKind(dir, types.KindDir, op)
	if err != nil {
		return err
	}
	child, err := s.childPath(n, p, op)
	if err != nil {
		return err
	}
	if _, open := s.openPaths[child]; open {
		return s.violation("%s: %q is open", op, child)
	}

	s.trace(op, child)
	if err := s.receiver.DeleteEntry(child, rev, n.baton); err != nil {
		return s.receiverFailed(op, child, err)
	}
	return nil
}

// AddDirectory adds the child directory p of dir, empty or as a copy of
// copyFrom.
func (s *Session) AddDirectory(dir Handle, p string, copyFrom *types.CopyFrom) (Handle, error) {
	return s.openChild("add_directory", dir, p, types.KindDir, copyFrom, func(parent Baton, child string) (Baton, error) {
		return s.receiver.AddDirectory(child, parent, copyFrom)
	})
}

// OpenDirectory opens the existing child directory p of dir at baseRev.
func (s *Session) OpenDirectory(dir Handle, p string, baseRev types.Revision) (Handle, error) {
	return s.openChild("open_directory", dir, p, types.KindDir, nil, func(parent Baton, child string) (Baton, error) {
		return s.receiver.OpenDirectory(child, parent, baseRev)
	})
}

// AddFile adds the child file p of dir, empty or as a copy of copyFrom.
func (s *Session) AddFile(dir Handle, p string, copyFrom *types.CopyFrom) (Handle, error) {
	return s.openChild("add_file", dir, p, types.KindFile, copyFrom, func(parent Baton, child string) (Baton, error) {
		return s.receiver.AddFile(child, parent, copyFrom)
	})
}

// OpenFile opens the existing child file p of dir at baseRev.
func (s *Session) OpenFile(dir Handle, p string, baseRev types.Revision) (Handle, error) {
	return s.openChild("open_file", dir, p, types.KindFile, nil, func(parent Baton, child string) (Baton, error) {
		return s.receiver.OpenFile(child, parent, baseRev)
	})
}

func (s *Session) openChild(op string, dir Handle, p string, kind types.NodeKind, copyFrom *types.CopyFrom,
	dispatch func(parent Baton, child string) (Baton, error)) (Handle, error) {
	if err := s.begin(op); err != nil {
		return Handle{}, err
	}
	n, err := s.lookupKind(dir, types.KindDir, op)
	if err != nil {
		return Handle{}, err
	}
	child, err := s.childPath(n, p, op)
	if err != nil {
		return Handle{}, err
	}
	if _, open := s.openPaths[child]; open {
		return Handle{}, s.violation("%s: %q is already open", op, child)
	}
	if copyFrom != nil && (copyFrom.Path == "" || !copyFrom.Revision.IsValid()) {
		return Handle{}, s.violation("%s: %q copy source needs a path and a revision", op, child)
	}

	s.trace(op, child)
	baton, err := dispatch(n.baton, child)
	if err != nil {
		return Handle{}, s.receiverFailed(op, child, err)
	}

	n.children++
	h := s.nodes.alloc(node{kind: kind, parent: dir, path: child, baton: baton})
	s.openPaths[child] = h
	return h, nil
}

// ChangeDirProp sets (or with a nil value deletes) a property of dir.
func (s *Session) ChangeDirProp(dir Handle, name string, value []byte) error {
	const op = "change_dir_prop"
	if err := s.begin(op); err != nil {
		return err
	}
	n, err := s.lookupKind(dir, types.KindDir, op)
	if err != nil {
		return err
	}
	if name == "" {
		return s.violation("%s: empty property name on %q", op, n.path)
	}

	s.trace(op, n.path)
	if err := s.receiver.ChangeDirProp(n.baton, name, value); err != nil {
		return s.receiverFailed(op, n.path, err)
	}
	return nil
}

// CloseDirectory closes dir. Every child handle it produced must already be
// closed.
func (s *Session) CloseDirectory(dir Handle) error {
	const op = "close_directory"
	if err := s.begin(op); err != nil {
		return err
	}
	n, err := s.lookupKind(dir, types.KindDir, op)
	if err != nil {
		return err
	}
	if n.children > 0 {
		return s.violation("%s: %q still has %d open children", op, n.path, n.children)
	}

	s.trace(op, n.path)
	if err := s.receiver.CloseDirectory(n.baton); err != nil {
		return s.receiverFailed(op, n.path, err)
	}
	if dir == s.root {
		s.rootClosed = true
	}
	s.closeNode(dir, n)
	return nil
}

// AbsentDirectory records that the child directory p exists but the driver
// could not describe it.
func (s *Session) AbsentDirectory(dir Handle, p string) error {
	return s.absent("absent_directory", dir, p, s.receiver.AbsentDirectory)
}

// AbsentFile records that the child file p exists but the driver could not
// describe it.
func (s *Session) AbsentFile(dir Handle, p string) error {
	return s.absent("absent_file", dir, p, s.receiver.AbsentFile)
}

func (s *Session) absent(op string, dir Handle, p string, dispatch func(string, Baton) error) error {
	if err := s.begin(op); err != nil {
		return err
	}
	n, err := s.lookupKind(dir, types.KindDir, op)
	if err != nil {
		return err
	}
	child, err := s.childPath(n, p, op)
	if err != nil {
		return err
	}
	if _, open := s.openPaths[child]; open {
		return s.violation("%s: %q is open", op, child)
	}

	s.trace(op, child)
	if err := dispatch(child, n.baton); err != nil {
		return s.receiverFailed(op, child, err)
	}
	return nil
}

// ApplyTextDelta starts the text delta stream of file. The returned handler
// takes the windows in order and must be given a nil window before any other
// editor call is made.
func (s *Session) ApplyTextDelta(file Handle, baseChecksum delta.Checksum) (delta.WindowHandler, error) {
	const op = "apply_textdelta"
	if err := s.begin(op); err != nil {
		return nil, err
	}
	n, err := s.lookupKind(file, types.KindFile, op)
	if err != nil {
		return nil, err
	}
	if n.delta != deltaNone {
		return nil, s.violation("%s called twice for %q", op, n.path)
	}

	s.trace(op, n.path)
	handler, err := s.receiver.ApplyTextDelta(n.baton, baseChecksum)
	if err != nil {
		return nil, s.receiverFailed(op, n.path, err)
	}
	n.delta = deltaActive
	s.activeDelta = file

	filePath := n.path
	return func(w *Window) error {
		if err := s.checkLive(); err != nil {
			return err
		}
		if s.activeDelta != file {
			return s.violation("text delta window for %q after its stream ended", filePath)
		}
		if handler != nil {
			if err := handler(w); err != nil {
				return s.receiverFailed(op, filePath, err)
			}
		}
		if w == nil {
			if fn, ok := s.nodes.lookup(file); ok {
				fn.delta = deltaDone
			}
			s.activeDelta = Handle{}
		}
		return nil
	}, nil
}

// Window is re-exported so drivers only need this package to stream deltas.
type Window = delta.Window

// ChangeFileProp sets (or with a nil value deletes) a property of file.
func (s *Session) ChangeFileProp(file Handle, name string, value []byte) error {
	const op = "change_file_prop"
	if err := s.begin(op); err != nil {
		return err
	}
	n, err := s.lookupKind(file, types.KindFile, op)
	if err != nil {
		return err
	}
	if name == "" {
		return s.violation("%s: empty property name on %q", op, n.path)
	}

	s.trace(op, n.path)
	if err := s.receiver.ChangeFileProp(n.baton, name, value); err != nil {
		return s.receiverFailed(op, n.path, err)
	}
	return nil
}

// CloseFile closes file. checksum, when given, is the checksum of the file's
// full text after the edit.
func (s *Session) CloseFile(file Handle, checksum delta.Checksum) error {
	const op = "close_file"
	if err := s.begin(op); err != nil {
		return err
	}
	n, err := s.lookupKind(file, types.KindFile, op)
	if err != nil {
		return err
	}

	s.trace(op, n.path)
	if err := s.receiver.CloseFile(n.baton, checksum); err != nil {
		return s.receiverFailed(op, n.path, err)
	}
	s.closeNode(file, n)
	return nil
}

// closeNode retires a handle and releases its slot in the parent.
func (s *Session) closeNode(h Handle, n *node) {
	parent := n.parent
	delete(s.openPaths, n.path)
	s.nodes.release(h)
	if p, ok := s.nodes.lookup(parent); ok {
		p.children--
	}
}
