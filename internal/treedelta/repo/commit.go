package repo

import (
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/golang/glog"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/delta"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/editor"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/lib"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// CommitOptions describe the revision a CommitReceiver creates.
type CommitOptions struct {
	Message string
	Author  string
	// EditID identifies the edit session in the revision record.
	EditID string
}

// dirState is a directory of the revision being built. Its base entries are
// loaded from the store when the directory is first opened.
type dirState struct {
	path    string
	hash    string
	entries map[string]*entryState
	props   types.Props
	dirty   bool
}

type entryState struct {
	types.TreeEntry
	dir    *dirState
	file   *fileState
	copied bool
}

type fileState struct {
	path   string
	entry  *entryState
	base   []byte
	props  types.Props
	text   *delta.Applier
	dirty  bool
	result []byte
}

// CommitReceiver turns an edit into a new revision of a Repository. It is
// all-or-nothing: nothing becomes visible until CloseEdit, and AbortEdit
// discards every object written so far.
//
// Deleting or opening a file changed after the revision the driver based the
// edit on fails with ErrOutOfDate, as does adding a path that already exists.
type CommitReceiver struct {
	repo *Repository
	opts CommitOptions

	base      *RevisionTree
	next      types.Revision
	root      *dirState
	changed   bool
	committed *types.RevisionRecord
}

var _ editor.TreeReceiver = (*CommitReceiver)(nil)

// NewCommitReceiver returns a receiver committing to repo on top of HEAD.
func NewCommitReceiver(repo *Repository, opts CommitOptions) *CommitReceiver {
	return &CommitReceiver{repo: repo, opts: opts}
}

// SetEditID names the session driving the receiver. Call it before the edit
// closes.
func (c *CommitReceiver) SetEditID(id string) {
	c.opts.EditID = id
}

// Committed returns the record of the revision created by CloseEdit. It is
// false when the edit changed nothing or did not complete.
func (c *CommitReceiver) Committed() (types.RevisionRecord, bool) {
	if c.committed == nil {
		return types.RevisionRecord{}, false
	}
	return *c.committed, true
}

func (c *CommitReceiver) SetTargetRevision(rev types.Revision) error {
	next, err := lib.GetNextRevisionID(c.repo.baseDir)
	if err != nil {
		return err
	}
	if rev != next {
		return fmt.Errorf("cannot commit revision %s, the next revision is %s", rev, next)
	}
	return nil
}

func (c *CommitReceiver) OpenRoot(baseRev types.Revision) (editor.Baton, error) {
	// 1. The edit always lands on top of HEAD.
	head, err := c.repo.Tree(types.InvalidRevision)
	if err != nil {
		return nil, err
	}
	if baseRev.IsValid() && baseRev > head.Number() {
		return nil, fmt.Errorf("base revision %s is beyond head %s", baseRev, head.Number())
	}
	c.base = head
	c.next = head.Number() + 1

	// 2. Load the root directory lazily like any other.
	root, err := c.loadDir("", head.rootHash)
	if err != nil {
		return nil, err
	}
	c.root = root
	return root, nil
}

func (c *CommitReceiver) loadDir(p, hash string) (*dirState, error) {
	tree, err := c.repo.readTree(hash)
	if err != nil {
		return nil, err
	}
	d := &dirState{
		path:    p,
		hash:    hash,
		entries: make(map[string]*entryState, len(tree.Entries)),
		props:   tree.Props.Clone(),
	}
	for _, e := range tree.Entries {
		d.entries[e.Name] = &entryState{TreeEntry: e}
	}
	return d, nil
}

func (c *CommitReceiver) markChanged(d *dirState) {
	d.dirty = true
	c.changed = true
}

func checkOutOfDate(p string, entry *entryState, rev types.Revision) error {
	if rev.IsValid() && entry.Revision > rev {
		return fmt.Errorf("%q changed in %s, edit is based on %s: %w", p, entry.Revision, rev, ErrOutOfDate)
	}
	return nil
}

func (c *CommitReceiver) DeleteEntry(p string, rev types.Revision, parent editor.Baton) error {
	d := parent.(*dirState)
	name := path.Base(p)
	entry, ok := d.entries[name]
	if !ok {
		return fmt.Errorf("delete %q: %w", p, ErrOutOfDate)
	}
	if err := checkOutOfDate(p, entry, rev); err != nil {
		return err
	}
	delete(d.entries, name)
	c.markChanged(d)
	return nil
}

func (c *CommitReceiver) addEntry(p string, d *dirState) error {
	if _, exists := d.entries[path.Base(p)]; exists {
		return fmt.Errorf("add %q: already exists: %w", p, ErrOutOfDate)
	}
	return nil
}

// copySource finds the node a copy-from names.
func (c *CommitReceiver) copySource(copyFrom *types.CopyFrom, want string) (*types.TreeEntry, error) {
	src, err := c.repo.Tree(copyFrom.Revision)
	if err != nil {
		return nil, err
	}
	entry, err := src.lookup(copyFrom.Path)
	if err != nil {
		return nil, err
	}
	if entry.Type != want {
		return nil, fmt.Errorf("copy source %s@%s is not a %s", copyFrom.Path, copyFrom.Revision, want)
	}
	return entry, nil
}

func (c *CommitReceiver) AddDirectory(p string, parent editor.Baton, copyFrom *types.CopyFrom) (editor.Baton, error) {
	d := parent.(*dirState)
	if err := c.addEntry(p, d); err != nil {
		return nil, err
	}

	hash := ""
	if copyFrom != nil {
		src, err := c.copySource(copyFrom, treeType)
		if err != nil {
			return nil, err
		}
		hash = src.Hash
	}
	child, err := c.loadDir(p, hash)
	if err != nil {
		return nil, err
	}
	child.dirty = true

	d.entries[path.Base(p)] = &entryState{
		TreeEntry: types.TreeEntry{Name: path.Base(p), Type: treeType},
		dir:       child,
		copied:    copyFrom != nil,
	}
	c.markChanged(d)
	return child, nil
}

func (c *CommitReceiver) OpenDirectory(p string, parent editor.Baton, _ types.Revision) (editor.Baton, error) {
	d := parent.(*dirState)
	entry, ok := d.entries[path.Base(p)]
	if !ok || entry.Type != treeType {
		return nil, fmt.Errorf("open %q: %w", p, ErrNotFound)
	}
	child, err := c.loadDir(p, entry.Hash)
	if err != nil {
		return nil, err
	}
	entry.dir = child
	return child, nil
}

func (c *CommitReceiver) ChangeDirProp(dir editor.Baton, name string, value []byte) error {
	d := dir.(*dirState)
	d.props = setProp(d.props, name, value)
	c.markChanged(d)
	return nil
}

func setProp(props types.Props, name string, value []byte) types.Props {
	if value == nil {
		delete(props, name)
		return props
	}
	if props == nil {
		props = types.Props{}
	}
	props[name] = append([]byte(nil), value...)
	return props
}

func (c *CommitReceiver) CloseDirectory(editor.Baton) error {
	return nil
}

// AbsentDirectory keeps the repository's version of the directory.
func (c *CommitReceiver) AbsentDirectory(p string, _ editor.Baton) error {
	glog.Warningf("commit: %q could not be read and keeps its committed version", p)
	return nil
}

func (c *CommitReceiver) AddFile(p string, parent editor.Baton, copyFrom *types.CopyFrom) (editor.Baton, error) {
	d := parent.(*dirState)
	if err := c.addEntry(p, d); err != nil {
		return nil, err
	}

	entry := &entryState{
		TreeEntry: types.TreeEntry{Name: path.Base(p), Type: blobType},
		copied:    copyFrom != nil,
	}
	f := &fileState{path: p, entry: entry, base: []byte{}, dirty: true}
	if copyFrom != nil {
		src, err := c.copySource(copyFrom, blobType)
		if err != nil {
			return nil, err
		}
		content, err := c.repo.readFile(src.Hash)
		if err != nil {
			return nil, err
		}
		f.base = content
		f.props = src.Props.Clone()
	}

	entry.file = f
	d.entries[entry.Name] = entry
	c.markChanged(d)
	return f, nil
}

func (c *CommitReceiver) OpenFile(p string, parent editor.Baton, baseRev types.Revision) (editor.Baton, error) {
	d := parent.(*dirState)
	entry, ok := d.entries[path.Base(p)]
	if !ok || entry.Type != blobType {
		return nil, fmt.Errorf("open %q: %w", p, ErrNotFound)
	}
	if err := checkOutOfDate(p, entry, baseRev); err != nil {
		return nil, err
	}

	f := &fileState{path: p, entry: entry, props: entry.Props.Clone()}
	entry.file = f
	return f, nil
}

func (c *CommitReceiver) ApplyTextDelta(file editor.Baton, baseChecksum delta.Checksum) (delta.WindowHandler, error) {
	f := file.(*fileState)
	if f.base == nil {
		content, err := c.repo.readFile(f.entry.Hash)
		if err != nil {
			return nil, err
		}
		f.base = content
	}
	if err := delta.Verify(baseChecksum, delta.Sum(f.base)); err != nil {
		return nil, fmt.Errorf("base of %q: %w", f.path, err)
	}

	f.text = delta.NewApplier(f.base)
	return func(w *delta.Window) error {
		if err := f.text.HandleWindow(w); err != nil {
			return fmt.Errorf("%q: %w", f.path, err)
		}
		if w == nil {
			f.result = f.text.Result()
			f.dirty = true
		}
		return nil
	}, nil
}

func (c *CommitReceiver) ChangeFileProp(file editor.Baton, name string, value []byte) error {
	f := file.(*fileState)
	f.props = setProp(f.props, name, value)
	f.dirty = true
	return nil
}

func (c *CommitReceiver) CloseFile(file editor.Baton, checksum delta.Checksum) error {
	f := file.(*fileState)
	if f.result == nil && f.entry.Hash == "" {
		// An added file without a text delta keeps its (possibly copied) base.
		f.result = f.base
	}
	content := f.result
	if content == nil && !checksum.IsZero() {
		// Only properties changed; the text is the stored blob.
		stored, err := c.repo.readFile(f.entry.Hash)
		if err != nil {
			return err
		}
		content = stored
	}
	if content != nil {
		if err := delta.Verify(checksum, delta.Sum(content)); err != nil {
			return fmt.Errorf("%q: %w", f.path, err)
		}
	}
	if f.dirty {
		c.changed = true
	}
	return nil
}

// AbsentFile keeps the repository's version of the file.
func (c *CommitReceiver) AbsentFile(p string, _ editor.Baton) error {
	glog.Warningf("commit: %q could not be read and keeps its committed version", p)
	return nil
}

// CloseEdit writes the new trees and the revision record.
func (c *CommitReceiver) CloseEdit() error {
	if !c.changed {
		glog.Infof("commit: nothing changed on top of %s", c.base.Number())
		return nil
	}

	// 1. Write files and trees bottom-up.
	rootHash, _, err := c.writeDir(c.root)
	if err != nil {
		c.repo.store.Discard()
		return err
	}

	// 2. Make the objects durable before the record points at them.
	if _, err := c.repo.store.Commit(); err != nil {
		return fmt.Errorf("failed to commit objects: %w", err)
	}

	// 3. Publish the revision.
	record := types.RevisionRecord{
		ID:           c.next,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		RootTreeHash: rootHash,
		Message:      c.opts.Message,
		Author:       c.opts.Author,
		EditID:       c.opts.EditID,
		BaseRevision: c.base.Number(),
	}
	if err := lib.WriteRevision(c.repo.baseDir, record); err != nil {
		return fmt.Errorf("failed to write revision record: %w", err)
	}
	c.committed = &record
	glog.Infof("commit: created %s (root tree %s)", record.ID, rootHash)
	return nil
}

// writeDir stores d and everything changed below it. It returns the tree hash
// and whether it differs from the base.
func (c *CommitReceiver) writeDir(d *dirState) (string, bool, error) {
	names := make([]string, 0, len(d.entries))
	for name := range d.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	changed := d.dirty
	tree := types.Tree{Entries: make([]types.TreeEntry, 0, len(names)), Props: d.props}
	for _, name := range names {
		e := d.entries[name]
		switch {
		case e.dir != nil:
			hash, childChanged, err := c.writeDir(e.dir)
			if err != nil {
				return "", false, err
			}
			if childChanged || e.copied {
				e.Hash = hash
				e.Revision = c.next
				changed = true
			}
		case e.file != nil && e.file.dirty:
			if e.file.result != nil {
				hash, err := c.repo.writeFile(e.file.result)
				if err != nil {
					return "", false, fmt.Errorf("failed to store %q: %w", e.file.path, err)
				}
				e.Hash = hash
			}
			e.Props = e.file.props
			e.Revision = c.next
			changed = true
		}
		tree.Entries = append(tree.Entries, e.TreeEntry)
	}

	if !changed {
		return d.hash, false, nil
	}
	hash, err := c.repo.store.WriteJSON(tree)
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// AbortEdit discards every pending object. The repository is unchanged.
func (c *CommitReceiver) AbortEdit() error {
	c.repo.store.Discard()
	c.root = nil
	c.changed = false
	return nil
}
