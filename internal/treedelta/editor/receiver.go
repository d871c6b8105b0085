// Package editor implements the tree-delta editor protocol: an edit session
// that enforces the legal order of editor calls and dispatches them to a
// TreeReceiver, and the reporter protocol a client uses to describe the state
// it already has.
package editor

import (
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/delta"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// Baton is the receiver's own state for one open directory or file. The
// session hands it back on every call that concerns that node.
type Baton any

// TreeReceiver applies editor calls to some target representation. The
// session guarantees well-formed ordering; a receiver only has to do the work.
//
// Every receiver must document what happens to work already applied when
// AbortEdit is called after a failure.
type TreeReceiver interface {
	SetTargetRevision(rev types.Revision) error
	OpenRoot(baseRev types.Revision) (Baton, error)

	DeleteEntry(path string, rev types.Revision, parent Baton) error
	AddDirectory(path string, parent Baton, copyFrom *types.CopyFrom) (Baton, error)
	OpenDirectory(path string, parent Baton, baseRev types.Revision) (Baton, error)
	ChangeDirProp(dir Baton, name string, value []byte) error
	CloseDirectory(dir Baton) error
	AbsentDirectory(path string, parent Baton) error

	AddFile(path string, parent Baton, copyFrom *types.CopyFrom) (Baton, error)
	OpenFile(path string, parent Baton, baseRev types.Revision) (Baton, error)
	// ApplyTextDelta may return a nil handler to ignore the windows.
	ApplyTextDelta(file Baton, baseChecksum delta.Checksum) (delta.WindowHandler, error)
	ChangeFileProp(file Baton, name string, value []byte) error
	CloseFile(file Baton, checksum delta.Checksum) error
	AbsentFile(path string, parent Baton) error

	CloseEdit() error
	AbortEdit() error
}

// NopReceiver accepts every call and discards it. Embed it to implement only
// the calls a receiver cares about.
type NopReceiver struct{}

func (NopReceiver) SetTargetRevision(types.Revision) error          { return nil }
func (NopReceiver) OpenRoot(types.Revision) (Baton, error)          { return nil, nil }
func (NopReceiver) DeleteEntry(string, types.Revision, Baton) error { return nil }
func (NopReceiver) AddDirectory(string, Baton, *types.CopyFrom) (Baton, error) {
	return nil, nil
}
func (NopReceiver) OpenDirectory(string, Baton, types.Revision) (Baton, error) {
	return nil, nil
}
func (NopReceiver) ChangeDirProp(Baton, string, []byte) error { return nil }
func (NopReceiver) CloseDirectory(Baton) error                { return nil }
func (NopReceiver) AbsentDirectory(string, Baton) error       { return nil }
func (NopReceiver) AddFile(string, Baton, *types.CopyFrom) (Baton, error) {
	return nil, nil
}
func (NopReceiver) OpenFile(string, Baton, types.Revision) (Baton, error) { return nil, nil }
func (NopReceiver) ApplyTextDelta(Baton, delta.Checksum) (delta.WindowHandler, error) {
	return nil, nil
}
func (NopReceiver) ChangeFileProp(Baton, string, []byte) error { return nil }
func (NopReceiver) CloseFile(Baton, delta.Checksum) error      { return nil }
func (NopReceiver) AbsentFile(string, Baton) error             { return nil }
func (NopReceiver) CloseEdit() error                           { return nil }
func (NopReceiver) AbortEdit() error                           { return nil }
