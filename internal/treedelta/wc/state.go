// Package wc manages working copies: checked-out directories together with
// the state file recording which revision of each path they hold.
package wc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	yml "gopkg.in/yaml.v3"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/delta"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/lib"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// ErrNotWorkingCopy is returned when a directory has no state file.
var ErrNotWorkingCopy = errors.New("not a working copy")

// Entry is the recorded state of one versioned path.
type Entry struct {
	Kind     string            `yaml:"kind"`
	Revision types.Revision    `yaml:"revision"`
	Checksum string            `yaml:"checksum,omitempty"`
	Props    map[string]string `yaml:"props,omitempty"`
}

// NodeKind returns the kind of the recorded node.
func (e *Entry) NodeKind() types.NodeKind {
	switch e.Kind {
	case types.KindDir.String():
		return types.KindDir
	case types.KindFile.String():
		return types.KindFile
	}
	return types.KindNone
}

// NodeProps returns the recorded properties.
func (e *Entry) NodeProps() types.Props {
	if len(e.Props) == 0 {
		return nil
	}
	props := make(types.Props, len(e.Props))
	for name, value := range e.Props {
		props[name] = []byte(value)
	}
	return props
}

func newEntry(kind types.NodeKind, rev types.Revision, props types.Props) *Entry {
	e := &Entry{Kind: kind.String(), Revision: rev}
	if len(props) > 0 {
		e.Props = make(map[string]string, len(props))
		for name, value := range props {
			e.Props[name] = string(value)
		}
	}
	return e
}

// State is the content of .treedelta/wc.yml. The root path "" is always
// present once the working copy has been checked out.
type State struct {
	// Repository is the absolute directory holding the repository.
	Repository string `yaml:"repository"`

	// Revision is the revision the root was last updated to.
	Revision types.Revision `yaml:"revision"`

	Entries map[string]*Entry `yaml:"entries"`
}

// NewState returns the state of an empty working copy of repository.
func NewState(repository string) *State {
	return &State{
		Repository: repository,
		Revision:   0,
		Entries:    map[string]*Entry{"": newEntry(types.KindDir, 0, nil)},
	}
}

// LoadState reads the state of the working copy in dir.
func LoadState(dir string) (*State, error) {
	content, err := os.ReadFile(lib.GetWorkingCopyPath(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotWorkingCopy)
		}
		return nil, err
	}
	var state State
	if err := yml.Unmarshal(content, &state); err != nil {
		return nil, fmt.Errorf("%s: %w", lib.GetWorkingCopyPath(dir), err)
	}
	if state.Entries == nil {
		state.Entries = make(map[string]*Entry)
	}
	if _, ok := state.Entries[""]; !ok {
		state.Entries[""] = newEntry(types.KindDir, state.Revision, nil)
	}
	return &state, nil
}

// Save writes the state into the working copy in dir.
func (s *State) Save(dir string) error {
	content, err := yml.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(lib.GetRepoDir(dir), 0755); err != nil {
		return err
	}
	return lib.WriteFileAtomic(lib.GetWorkingCopyPath(dir), content, 0644)
}

// Paths returns every recorded path, parents before children.
func (s *State) Paths() []string {
	paths := make([]string, 0, len(s.Entries))
	for p := range s.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func isUnder(p, dir string) bool {
	return dir == "" || p == dir || strings.HasPrefix(p, dir+"/")
}

// Remove forgets p and everything below it.
func (s *State) Remove(p string) {
	for q := range s.Entries {
		if isUnder(q, p) && q != "" {
			delete(s.Entries, q)
		}
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	out := &State{Repository: s.Repository, Revision: s.Revision, Entries: make(map[string]*Entry, len(s.Entries))}
	for p, e := range s.Entries {
		c := *e
		if e.Props != nil {
			c.Props = make(map[string]string, len(e.Props))
			for name, value := range e.Props {
				c.Props[name] = value
			}
		}
		out.Entries[p] = &c
	}
	return out
}

// Record stores p and, for directories, its whole subtree as found in tree,
// all at revision rev.
func (s *State) Record(tree types.TreeSource, p string, rev types.Revision) error {
	kind, err := tree.Stat(p)
	if err != nil {
		return err
	}
	props, err := tree.Props(p)
	if err != nil {
		return err
	}
	entry := newEntry(kind, rev, props)

	switch kind {
	case types.KindFile:
		content, err := tree.Contents(p)
		if err != nil {
			return err
		}
		entry.Checksum = delta.Sum(content).String()
		s.Entries[p] = entry
	case types.KindDir:
		s.Entries[p] = entry
		children, err := tree.List(p)
		if err != nil {
			return err
		}
		for _, child := range children {
			if child.Absent {
				continue
			}
			if err := s.Record(tree, join(p, child.Name), rev); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%q: %w", p, os.ErrNotExist)
	}
	return nil
}

func join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func osPath(dir, p string) string {
	return filepath.Join(dir, filepath.FromSlash(p))
}
