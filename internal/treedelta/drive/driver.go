// Package drive produces edits: it compares a base tree with a target tree
// and describes the difference to an edit session, and it serves reports by
// driving the difference between the reported state and a revision.
package drive

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/golang/glog"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/delta"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/editor"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// ChangeKind classifies a change reported to Options.Notify.
type ChangeKind byte

const (
	ChangeAdd    ChangeKind = 'A'
	ChangeCopy   ChangeKind = 'C'
	ChangeModify ChangeKind = 'M'
	ChangeDelete ChangeKind = 'D'
	ChangeAbsent ChangeKind = '!'
)

// Options control DriveTrees.
type Options struct {
	// BaseRevision is passed to open_root and used for nodes whose base tree
	// carries no revision of its own.
	BaseRevision types.Revision
	// TargetRevision is announced with set_target_revision when valid.
	TargetRevision types.Revision
	// DetectCopies sends added files whose text equals a base file as copies
	// of that file.
	DetectCopies bool
	// Sender splits texts into windows. Nil means delta.DefaultSender.
	Sender *delta.Sender
	// Notify, when set, is told about every change sent.
	Notify func(kind ChangeKind, path string)
}

// driver holds the state of one DriveTrees call.
type driver struct {
	sess   *editor.Session
	base   types.TreeSource
	target types.TreeSource
	opts   Options

	copies map[string]types.CopyFrom
}

// DriveTrees describes how to turn base into target as one edit of sess:
// deletions first, then files, then directories, every level in name order.
// Unchanged files are not opened. On failure the session is aborted and the
// error returned.
func DriveTrees(sess *editor.Session, base, target types.TreeSource, opts Options) error {
	if opts.Sender == nil {
		opts.Sender = delta.DefaultSender
	}
	d := &driver{sess: sess, base: base, target: target, opts: opts}

	if err := d.run(); err != nil {
		if state := sess.State(); state == editor.StateUnopened || state == editor.StateRootOpen {
			if aerr := sess.Abort(); aerr != nil {
				glog.Warningf("drive: abort after %v: %v", err, aerr)
			}
		}
		return fmt.Errorf("drive edit %s: %w", sess.ID(), err)
	}
	return nil
}

func (d *driver) run() error {
	// 1. Announce the target and open the root.
	if d.opts.TargetRevision.IsValid() {
		if err := d.sess.SetTargetRevision(d.opts.TargetRevision); err != nil {
			return err
		}
	}
	root, err := d.sess.OpenRoot(d.opts.BaseRevision)
	if err != nil {
		return err
	}

	// 2. Root properties, then the whole tree.
	baseKind, err := d.base.Stat("")
	if err != nil {
		return err
	}
	if err := d.sendDirProps(root, "", baseKind == types.KindDir); err != nil {
		return err
	}
	if err := d.processDir(root, "", baseKind == types.KindDir); err != nil {
		return err
	}

	// 3. Close everything.
	if err := d.sess.CloseDirectory(root); err != nil {
		return err
	}
	return d.sess.CloseEdit()
}

func join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// baseRevision returns the revision the base tree holds p at.
func (d *driver) baseRevision(p string) types.Revision {
	if rs, ok := d.base.(types.RevisionSource); ok {
		if rev := rs.Revision(p); rev.IsValid() {
			return rev
		}
	}
	return d.opts.BaseRevision
}

func (d *driver) notify(kind ChangeKind, p string) {
	if glog.V(1) {
		glog.Infof("drive: %c %s", kind, p)
	}
	if d.opts.Notify != nil {
		d.opts.Notify(kind, p)
	}
}

// processDir sends the changes inside the directory p. inBase is false for
// directories the edit adds, whose base is empty.
func (d *driver) processDir(dir editor.Handle, p string, inBase bool) error {
	baseEntries := map[string]types.Entry{}
	if inBase {
		entries, err := d.base.List(p)
		if err != nil {
			return fmt.Errorf("failed to list base %q: %w", p, err)
		}
		for _, e := range entries {
			if !e.Absent {
				baseEntries[e.Name] = e
			}
		}
	}
	targetEntries, err := d.target.List(p)
	if err != nil {
		return fmt.Errorf("failed to list %q: %w", p, err)
	}
	targetByName := make(map[string]types.Entry, len(targetEntries))
	for _, e := range targetEntries {
		targetByName[e.Name] = e
	}

	// 1. Delete what is gone or changed kind. Absent target entries are left
	// alone: their state is unknown.
	var deleted []string
	for name, be := range baseEntries {
		te, ok := targetByName[name]
		if !ok || (!te.Absent && te.Kind != be.Kind) {
			deleted = append(deleted, name)
		}
	}
	sort.Strings(deleted)
	for _, name := range deleted {
		child := join(p, name)
		if err := d.sess.DeleteEntry(dir, child, d.baseRevision(child)); err != nil {
			return err
		}
		delete(baseEntries, name)
		d.notify(ChangeDelete, child)
	}

	// 2. Files.
	for _, te := range targetEntries {
		if te.Kind != types.KindFile {
			continue
		}
		child := join(p, te.Name)
		if te.Absent {
			if err := d.sess.AbsentFile(dir, child); err != nil {
				return err
			}
			d.notify(ChangeAbsent, child)
			continue
		}
		var err error
		if _, ok := baseEntries[te.Name]; ok {
			err = d.modifyFile(dir, child)
		} else {
			err = d.addFile(dir, child)
		}
		if err != nil {
			return err
		}
	}

	// 3. Directories.
	for _, te := range targetEntries {
		if te.Kind != types.KindDir {
			continue
		}
		child := join(p, te.Name)
		if te.Absent {
			if err := d.sess.AbsentDirectory(dir, child); err != nil {
				return err
			}
			d.notify(ChangeAbsent, child)
			continue
		}

		_, existed := baseEntries[te.Name]
		var h editor.Handle
		var err error
		if existed {
			h, err = d.sess.OpenDirectory(dir, child, d.baseRevision(child))
		} else {
			h, err = d.sess.AddDirectory(dir, child, nil)
			if err == nil {
				d.notify(ChangeAdd, child)
			}
		}
		if err != nil {
			return err
		}
		if err := d.sendDirProps(h, child, existed); err != nil {
			return err
		}
		if err := d.processDir(h, child, existed); err != nil {
			return err
		}
		if err := d.sess.CloseDirectory(h); err != nil {
			return err
		}
	}
	return nil
}

func (d *driver) sendDirProps(dir editor.Handle, p string, inBase bool) error {
	var baseProps types.Props
	if inBase {
		var err error
		if baseProps, err = d.base.Props(p); err != nil {
			return err
		}
	}
	targetProps, err := d.target.Props(p)
	if err != nil {
		return err
	}
	for _, c := range diffProps(baseProps, targetProps) {
		if err := d.sess.ChangeDirProp(dir, c.name, c.value); err != nil {
			return err
		}
	}
	return nil
}

type propChange struct {
	name  string
	value []byte
}

// diffProps lists the changes turning from into to, ordered by name. A nil
// value deletes the property.
func diffProps(from, to types.Props) []propChange {
	var changes []propChange
	for name, value := range to {
		if old, ok := from[name]; !ok || !bytes.Equal(old, value) {
			changes = append(changes, propChange{name: name, value: value})
		}
	}
	for name := range from {
		if _, ok := to[name]; !ok {
			changes = append(changes, propChange{name: name})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].name < changes[j].name })
	return changes
}

// addFile adds p, as a copy when a base file has the same text.
func (d *driver) addFile(dir editor.Handle, p string) error {
	content, err := d.target.Contents(p)
	if err != nil {
		return err
	}
	props, err := d.target.Props(p)
	if err != nil {
		return err
	}
	checksum := delta.Sum(content)

	if d.opts.DetectCopies {
		src, ok, err := d.findCopy(checksum)
		if err != nil {
			return err
		}
		if ok {
			return d.copyFile(dir, p, src, props, checksum)
		}
	}

	file, err := d.sess.AddFile(dir, p, nil)
	if err != nil {
		return err
	}
	d.notify(ChangeAdd, p)
	for _, c := range diffProps(nil, props) {
		if err := d.sess.ChangeFileProp(file, c.name, c.value); err != nil {
			return err
		}
	}
	handler, err := d.sess.ApplyTextDelta(file, nil)
	if err != nil {
		return err
	}
	sent, err := d.opts.Sender.Send(content, handler)
	if err != nil {
		return err
	}
	return d.sess.CloseFile(file, sent)
}

func (d *driver) copyFile(dir editor.Handle, p string, src types.CopyFrom, props types.Props, checksum delta.Checksum) error {
	srcProps, err := d.base.Props(src.Path)
	if err != nil {
		return err
	}
	file, err := d.sess.AddFile(dir, p, &src)
	if err != nil {
		return err
	}
	d.notify(ChangeCopy, p)
	for _, c := range diffProps(srcProps, props) {
		if err := d.sess.ChangeFileProp(file, c.name, c.value); err != nil {
			return err
		}
	}
	return d.sess.CloseFile(file, checksum)
}

// findCopy looks for a base file with the given text.
func (d *driver) findCopy(checksum delta.Checksum) (types.CopyFrom, bool, error) {
	if d.copies == nil {
		d.copies = make(map[string]types.CopyFrom)
		if err := d.indexBase(""); err != nil {
			return types.CopyFrom{}, false, fmt.Errorf("failed to index copy sources: %w", err)
		}
	}
	src, ok := d.copies[checksum.String()]
	return src, ok, nil
}

func (d *driver) indexBase(p string) error {
	kind, err := d.base.Stat(p)
	if err != nil || kind != types.KindDir {
		return err
	}
	entries, err := d.base.List(p)
	if err != nil {
		return err
	}
	for _, e := range entries {
		child := join(p, e.Name)
		switch {
		case e.Absent:
		case e.Kind == types.KindDir:
			if err := d.indexBase(child); err != nil {
				return err
			}
		case e.Kind == types.KindFile:
			content, err := d.base.Contents(child)
			if err != nil {
				return err
			}
			key := delta.Sum(content).String()
			if _, seen := d.copies[key]; !seen {
				d.copies[key] = types.CopyFrom{Path: child, Revision: d.baseRevision(child)}
			}
		}
	}
	return nil
}

// modifyFile opens p when its text or properties differ from the base.
func (d *driver) modifyFile(dir editor.Handle, p string) error {
	baseContent, err := d.base.Contents(p)
	if err != nil {
		return err
	}
	content, err := d.target.Contents(p)
	if err != nil {
		return err
	}
	baseProps, err := d.base.Props(p)
	if err != nil {
		return err
	}
	props, err := d.target.Props(p)
	if err != nil {
		return err
	}

	changes := diffProps(baseProps, props)
	textChanged := !bytes.Equal(baseContent, content)
	if !textChanged && len(changes) == 0 {
		return nil
	}

	file, err := d.sess.OpenFile(dir, p, d.baseRevision(p))
	if err != nil {
		return err
	}
	d.notify(ChangeModify, p)
	for _, c := range changes {
		if err := d.sess.ChangeFileProp(file, c.name, c.value); err != nil {
			return err
		}
	}

	checksum := delta.Sum(content)
	if textChanged {
		handler, err := d.sess.ApplyTextDelta(file, delta.Sum(baseContent))
		if err != nil {
			return err
		}
		if checksum, err = d.opts.Sender.SendDelta(baseContent, content, handler); err != nil {
			return err
		}
	}
	return d.sess.CloseFile(file, checksum)
}
