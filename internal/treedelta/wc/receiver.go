package wc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/delta"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/editor"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/lib"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// ErrOutOfDate is returned when an edit would overwrite local work: a path
// that is newer than the edit expects, locally modified, or obstructed by an
// unversioned node.
var ErrOutOfDate = errors.New("working copy out of date")

type dirBaton struct {
	path string
}

type fileBaton struct {
	path    string
	base    []byte
	props   types.Props
	content []byte
	applier *delta.Applier
}

// staged is a node the edit writes when it closes.
type staged struct {
	kind    types.NodeKind
	content []byte
	props   types.Props
}

// Receiver applies an edit to a working copy. Nothing touches the directory
// until CloseEdit, which writes the staged changes and the new state; an
// aborted edit leaves the working copy as it was.
type Receiver struct {
	dir    string
	disk   *lib.FSTree
	state  *State
	lookup types.TreeLookup

	target  types.Revision
	next    *State
	deletes []string
	nodes   map[string]*staged
}

var _ editor.TreeReceiver = (*Receiver)(nil)

// NewReceiver returns a receiver editing the working copy in dir, currently
// described by state. lookup resolves copy sources.
func NewReceiver(dir string, state *State, lookup types.TreeLookup) (*Receiver, error) {
	disk, err := lib.NewFSTree(dir)
	if err != nil {
		return nil, err
	}
	return &Receiver{
		dir:    disk.Root(),
		disk:   disk,
		state:  state,
		lookup: lookup,
		target: types.InvalidRevision,
	}, nil
}

// State returns the state of the working copy, updated once an edit closes.
func (r *Receiver) State() *State {
	return r.state
}

func (r *Receiver) SetTargetRevision(rev types.Revision) error {
	r.target = rev
	return nil
}

func (r *Receiver) OpenRoot(types.Revision) (editor.Baton, error) {
	r.next = r.state.Clone()
	r.deletes = nil
	r.nodes = make(map[string]*staged)
	return &dirBaton{path: ""}, nil
}

func (r *Receiver) deleted(p string) bool {
	for _, d := range r.deletes {
		if isUnder(p, d) {
			return true
		}
	}
	return false
}

func (r *Receiver) dropStaged(p string) {
	for q := range r.nodes {
		if isUnder(q, p) {
			delete(r.nodes, q)
		}
	}
}

func (r *Receiver) DeleteEntry(p string, rev types.Revision, _ editor.Baton) error {
	if entry, ok := r.next.Entries[p]; ok && rev.IsValid() && entry.Revision > rev {
		return fmt.Errorf("%w: %q is at %s, edit expects %s", ErrOutOfDate, p, entry.Revision, rev)
	}
	r.dropStaged(p)
	r.next.Remove(p)
	r.deletes = append(r.deletes, p)
	return nil
}

// checkObstruction fails when p cannot be added. A versioned node missing
// from disk is forgotten so the edit can restore it.
func (r *Receiver) checkObstruction(p string) error {
	if r.deleted(p) {
		return nil
	}
	_, err := os.Lstat(osPath(r.dir, p))
	switch {
	case err == nil:
		if _, ok := r.next.Entries[p]; ok {
			return fmt.Errorf("%w: %q is already versioned", ErrOutOfDate, p)
		}
		return fmt.Errorf("%w: %q is obstructed by an unversioned node", ErrOutOfDate, p)
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}
	r.next.Remove(p)
	return nil
}

func (r *Receiver) stage(p string, node *staged) {
	r.nodes[p] = node
	entry := newEntry(node.kind, r.next.Revision, node.props)
	if node.kind == types.KindFile {
		entry.Checksum = delta.Sum(node.content).String()
	}
	r.next.Entries[p] = entry
}

// stageCopy stages the subtree at src in tree under p.
func (r *Receiver) stageCopy(tree types.TreeSource, src, p string) error {
	kind, err := tree.Stat(src)
	if err != nil {
		return err
	}
	props, err := tree.Props(src)
	if err != nil {
		return err
	}
	switch kind {
	case types.KindFile:
		content, err := tree.Contents(src)
		if err != nil {
			return err
		}
		r.stage(p, &staged{kind: types.KindFile, content: content, props: props})
	case types.KindDir:
		r.stage(p, &staged{kind: types.KindDir, props: props})
		children, err := tree.List(src)
		if err != nil {
			return err
		}
		for _, child := range children {
			if child.Absent {
				continue
			}
			if err := r.stageCopy(tree, join(src, child.Name), join(p, child.Name)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("copy source %q: %w", src, fs.ErrNotExist)
	}
	return nil
}

func (r *Receiver) copySource(copyFrom *types.CopyFrom) (types.TreeSource, error) {
	if r.lookup == nil {
		return nil, fmt.Errorf("cannot copy from %s@%s without a repository", copyFrom.Path, copyFrom.Revision)
	}
	return r.lookup(copyFrom.Revision)
}

func (r *Receiver) AddDirectory(p string, _ editor.Baton, copyFrom *types.CopyFrom) (editor.Baton, error) {
	if err := r.checkObstruction(p); err != nil {
		return nil, err
	}
	if copyFrom == nil {
		r.stage(p, &staged{kind: types.KindDir})
		return &dirBaton{path: p}, nil
	}
	tree, err := r.copySource(copyFrom)
	if err != nil {
		return nil, err
	}
	if err := r.stageCopy(tree, copyFrom.Path, p); err != nil {
		return nil, err
	}
	return &dirBaton{path: p}, nil
}

func (r *Receiver) OpenDirectory(p string, _ editor.Baton, _ types.Revision) (editor.Baton, error) {
	entry, ok := r.next.Entries[p]
	if !ok || entry.NodeKind() != types.KindDir {
		return nil, fmt.Errorf("%q is not a versioned directory", p)
	}
	return &dirBaton{path: p}, nil
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

func (r *Receiver) ChangeDirProp(dir editor.Baton, name string, value []byte) error {
	p := dir.(*dirBaton).path
	entry := r.next.Entries[p]
	props := setProp(entry.NodeProps(), name, value)
	r.next.Entries[p] = newEntry(types.KindDir, entry.Revision, props)
	if node, ok := r.nodes[p]; ok {
		node.props = props
	}
	return nil
}

func (r *Receiver) CloseDirectory(editor.Baton) error {
	return nil
}

func (r *Receiver) AbsentDirectory(p string, _ editor.Baton) error {
	glog.Warningf("wc: %q is absent from the edit; leaving it alone", p)
	return nil
}

func (r *Receiver) AddFile(p string, _ editor.Baton, copyFrom *types.CopyFrom) (editor.Baton, error) {
	if err := r.checkObstruction(p); err != nil {
		return nil, err
	}
	f := &fileBaton{path: p, base: []byte{}}
	if copyFrom != nil {
		tree, err := r.copySource(copyFrom)
		if err != nil {
			return nil, err
		}
		if f.base, err = tree.Contents(copyFrom.Path); err != nil {
			return nil, err
		}
		if f.props, err = tree.Props(copyFrom.Path); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (r *Receiver) OpenFile(p string, _ editor.Baton, _ types.Revision) (editor.Baton, error) {
	entry, ok := r.next.Entries[p]
	if !ok || entry.NodeKind() != types.KindFile {
		return nil, fmt.Errorf("%q is not a versioned file", p)
	}
	f := &fileBaton{path: p, props: entry.NodeProps()}

	// A file inside a copy staged by this edit has not reached the disk.
	if node, ok := r.nodes[p]; ok {
		f.base = node.content
		return f, nil
	}
	base, err := r.disk.Contents(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", p, err)
	}
	if entry.Checksum != "" && delta.Sum(base).String() != entry.Checksum {
		return nil, fmt.Errorf("%w: %q has local modifications", ErrOutOfDate, p)
	}
	f.base = base
	return f, nil
}

func (r *Receiver) ApplyTextDelta(file editor.Baton, baseChecksum delta.Checksum) (delta.WindowHandler, error) {
	f := file.(*fileBaton)
	if err := delta.Verify(baseChecksum, delta.Sum(f.base)); err != nil {
		return nil, fmt.Errorf("base of %q: %w", f.path, err)
	}
	f.applier = delta.NewApplier(f.base)
	return func(w *delta.Window) error {
		if err := f.applier.HandleWindow(w); err != nil {
			return err
		}
		if w == nil {
			f.content = f.applier.Result()
		}
		return nil
	}, nil
}

func (r *Receiver) ChangeFileProp(file editor.Baton, name string, value []byte) error {
	f := file.(*fileBaton)
	f.props = setProp(f.props, name, value)
	return nil
}

func (r *Receiver) CloseFile(file editor.Baton, checksum delta.Checksum) error {
	f := file.(*fileBaton)
	content := f.content
	if content == nil {
		content = f.base
	}
	if err := delta.Verify(checksum, delta.Sum(content)); err != nil {
		return fmt.Errorf("%q: %w", f.path, err)
	}
	r.stage(f.path, &staged{kind: types.KindFile, content: content, props: f.props})
	return nil
}

func (r *Receiver) AbsentFile(p string, _ editor.Baton) error {
	glog.Warningf("wc: %q is absent from the edit; leaving it alone", p)
	return nil
}

// CloseEdit writes every staged file into a scratch directory first. Only
// when all of them are written does it delete, create directories and move
// the files into place, then save the new state. A failure while preparing
// leaves the working copy as it was; a failure while moving files into
// place can leave the edit partly applied under the old state.
func (r *Receiver) CloseEdit() error {
	// 1. Prepare every file off to the side.
	scratch, err := r.scratchDir()
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	paths := make([]string, 0, len(r.nodes))
	for p := range r.nodes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var dirs []string
	var files []writeJob
	for _, p := range paths {
		node := r.nodes[p]
		if node.kind == types.KindDir {
			dirs = append(dirs, p)
			continue
		}
		files = append(files, writeJob{
			path:    osPath(r.dir, p),
			temp:    filepath.Join(scratch, fmt.Sprintf("%d", len(files))),
			content: node.content,
			props:   node.props,
		})
	}
	if err := writeFiles(files); err != nil {
		return err
	}

	// 2. Remove deleted nodes.
	for _, p := range r.deletes {
		if err := os.RemoveAll(osPath(r.dir, p)); err != nil {
			return fmt.Errorf("failed to delete %q: %w", p, err)
		}
	}

	// 3. Create directories, parents first.
	for _, p := range dirs {
		if err := os.MkdirAll(osPath(r.dir, p), 0755); err != nil {
			return fmt.Errorf("failed to create %q: %w", p, err)
		}
	}

	// 4. Move the prepared files into place.
	for _, job := range files {
		if err := os.Rename(job.temp, job.path); err != nil {
			return fmt.Errorf("failed to place file %s: %w", job.path, err)
		}
	}

	// 5. Record the new state.
	if r.target.IsValid() {
		r.next.Revision = r.target
		for _, entry := range r.next.Entries {
			entry.Revision = r.target
		}
	}
	if err := r.next.Save(r.dir); err != nil {
		return fmt.Errorf("failed to save working copy state: %w", err)
	}
	glog.Infof("wc: %s updated to %s (%d deleted, %d written)", r.dir, r.next.Revision, len(r.deletes), len(paths))
	r.state = r.next
	r.reset()
	return nil
}

// scratchDir creates a directory for prepared files inside the working
// copy's .treedelta directory, on the same filesystem as their destination.
func (r *Receiver) scratchDir() (string, error) {
	repoDir := lib.GetRepoDir(r.dir)
	if err := os.MkdirAll(repoDir, 0755); err != nil {
		return "", fmt.Errorf("failed to prepare edit: %w", err)
	}
	scratch, err := os.MkdirTemp(repoDir, "edit-")
	if err != nil {
		return "", fmt.Errorf("failed to prepare edit: %w", err)
	}
	return scratch, nil
}

// AbortEdit drops everything staged.
func (r *Receiver) AbortEdit() error {
	glog.V(1).Infof("wc: edit of %s aborted, %d staged nodes dropped", r.dir, len(r.nodes))
	r.reset()
	return nil
}

func (r *Receiver) reset() {
	r.next = nil
	r.deletes = nil
	r.nodes = nil
}

// writeJob holds what a worker needs to prepare one file.
type writeJob struct {
	path    string
	temp    string
	content []byte
	props   types.Props
}

// writeFileWorker prepares the files it reads from jobs.
func writeFileWorker(wg *sync.WaitGroup, jobs <-chan writeJob, errs chan<- error) {
	defer wg.Done()
	for job := range jobs {
		if err := writeNode(job); err != nil {
			errs <- fmt.Errorf("failed to write file %s: %w", job.path, err)
		}
	}
}

// writeNode writes a job's node at its temporary path: a symlink for a
// special node holding a link, otherwise a file with the mode its
// properties ask for.
func writeNode(job writeJob) error {
	if _, special := job.props[types.PropSpecial]; special && strings.HasPrefix(string(job.content), lib.SymlinkPrefix) {
		target := strings.TrimPrefix(string(job.content), lib.SymlinkPrefix)
		return os.Symlink(filepath.FromSlash(target), job.temp)
	}
	mode := os.FileMode(0644)
	if _, exec := job.props[types.PropExecutable]; exec {
		mode = 0755
	}
	f, err := os.OpenFile(job.temp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(job.content); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// The umask may have narrowed the mode.
	return os.Chmod(job.temp, mode)
}

func writeFiles(files []writeJob) error {
	jobs := make(chan writeJob, len(files))
	errs := make(chan error, len(files))
	var wg sync.WaitGroup
	numWorkers := runtime.NumCPU()

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go writeFileWorker(&wg, jobs, errs)
	}
	for _, job := range files {
		jobs <- job
	}
	close(jobs)

	wg.Wait()
	close(errs)

	for writeErr := range errs {
		if writeErr != nil {
			// Return the first error we encounter.
			return writeErr
		}
	}
	return nil
}
