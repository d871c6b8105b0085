package wc

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/golang/glog"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/editor"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/lib"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// Reporter receives the description of a working copy.
type Reporter interface {
	SetPath(p string, rev types.Revision, depth editor.Depth, startEmpty bool, lockToken string) error
	DeletePath(p string) error
	Finish() error
	Abort() error
}

// Crawl reports the working copy in dir: the root at the state's revision,
// every path whose revision differs from its parent's, and every versioned
// path missing from disk. It finishes the report.
func Crawl(dir string, state *State, reporter Reporter) error {
	return report(state, reporter, func(p string) (bool, error) {
		_, err := os.Lstat(osPath(dir, p))
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, err
	})
}

// ReportBase reports the revisions recorded in state without looking at the
// disk, describing the tree the working copy was last updated to.
func ReportBase(state *State, reporter Reporter) error {
	return report(state, reporter, func(string) (bool, error) { return false, nil })
}

func report(state *State, reporter Reporter, missing func(p string) (bool, error)) error {
	if err := reporter.SetPath("", state.Revision, editor.DepthInfinity, false, ""); err != nil {
		return err
	}

	revs := map[string]types.Revision{"": state.Revision}
	for _, p := range state.Paths() {
		if p == "" {
			continue
		}
		parentRev, ok := revs[parentOf(p)]
		if !ok {
			// Below a path reported missing.
			continue
		}
		gone, err := missing(p)
		if err != nil {
			if aerr := reporter.Abort(); aerr != nil {
				glog.Warningf("wc: abort report: %v", aerr)
			}
			return err
		}
		if gone {
			if err := reporter.DeletePath(p); err != nil {
				return err
			}
			continue
		}
		entry := state.Entries[p]
		revs[p] = entry.Revision
		if entry.Revision != parentRev {
			if err := reporter.SetPath(p, entry.Revision, editor.DepthInfinity, false, ""); err != nil {
				return err
			}
		}
	}
	return reporter.Finish()
}

func parentOf(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

// WorkingTree is the working copy as a commit sends it: nodes and text come
// from disk, properties from the state, except the executable and special
// flags which the disk decides.
type WorkingTree struct {
	*lib.FSTree
	state *State
}

var _ types.TreeSource = (*WorkingTree)(nil)

// NewWorkingTree returns the working tree of the working copy in dir.
func NewWorkingTree(dir string, state *State) (*WorkingTree, error) {
	disk, err := lib.NewFSTree(dir)
	if err != nil {
		return nil, err
	}
	return &WorkingTree{FSTree: disk, state: state}, nil
}

func (t *WorkingTree) Props(p string) (types.Props, error) {
	disk, err := t.FSTree.Props(p)
	if err != nil {
		return nil, err
	}
	props := types.Props{}
	if entry, ok := t.state.Entries[p]; ok {
		kind, err := t.Stat(p)
		if err != nil {
			return nil, err
		}
		if entry.NodeKind() == kind {
			props = entry.NodeProps()
			if props == nil {
				props = types.Props{}
			}
		}
	}
	delete(props, types.PropExecutable)
	delete(props, types.PropSpecial)
	for name, value := range disk {
		props[name] = value
	}
	return props, nil
}

func propsEqual(a, b types.Props) bool {
	if len(a) != len(b) {
		return false
	}
	for name, value := range a {
		other, ok := b[name]
		if !ok || !bytes.Equal(value, other) {
			return false
		}
	}
	return true
}

// Committed records a commit of rev made from this working copy. changed
// paths, with their subtrees, are now at rev as found in tree; deleted paths
// are gone; directories whose properties differ from tree move to rev.
func (s *State) Committed(tree types.TreeSource, rev types.Revision, changed, deleted []string) error {
	for _, p := range deleted {
		s.Remove(p)
	}
	for _, p := range changed {
		if err := s.Record(tree, p, rev); err != nil {
			return err
		}
	}
	for p, entry := range s.Entries {
		if entry.NodeKind() != types.KindDir {
			continue
		}
		props, err := tree.Props(p)
		if err != nil {
			return err
		}
		if !propsEqual(props, entry.NodeProps()) {
			s.Entries[p] = newEntry(types.KindDir, rev, props)
		}
	}
	return nil
}
