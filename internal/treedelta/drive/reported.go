package drive

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/editor"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// ReportedTree is the tree a client described in a report: every path is
// served from the revision of its nearest reported ancestor, minus deleted
// paths and whatever start-empty and depth exclude.
type ReportedTree struct {
	report *editor.Report
	lookup types.TreeLookup
	trees  map[types.Revision]types.TreeSource
}

// NewReportedTree returns the base tree described by report. lookup provides
// the tree of each reported revision.
func NewReportedTree(report *editor.Report, lookup types.TreeLookup) (*ReportedTree, error) {
	root, ok := report.Root()
	if !ok || root.Kind == editor.ReportDelete {
		return nil, fmt.Errorf("report has no root")
	}
	return &ReportedTree{
		report: report,
		lookup: lookup,
		trees:  make(map[types.Revision]types.TreeSource),
	}, nil
}

func (t *ReportedTree) tree(rev types.Revision) (types.TreeSource, error) {
	if tree, ok := t.trees[rev]; ok {
		return tree, nil
	}
	tree, err := t.lookup(rev)
	if err != nil {
		return nil, err
	}
	t.trees[rev] = tree
	return tree, nil
}

// linkRoot maps a link URL to a path in the repository. "^/" and a leading
// slash are accepted.
func linkRoot(url string) string {
	url = strings.TrimPrefix(url, "^")
	url = strings.Trim(url, "/")
	if url == "" {
		return ""
	}
	return path.Clean(url)
}

// resolved says where a reported path comes from.
type resolved struct {
	fact    editor.ReportEntry
	source  types.TreeSource
	srcPath string
	visible bool
}

// resolve finds the nearest reported fact for p and applies it.
func (t *ReportedTree) resolve(p string) (resolved, error) {
	var fact editor.ReportEntry
	var suffix []string
	cur := p
	for {
		if f, ok := t.report.Lookup(cur); ok {
			fact = f
			break
		}
		// The root is always reported, so this terminates.
		suffix = append([]string{path.Base(cur)}, suffix...)
		if i := strings.LastIndex(cur, "/"); i >= 0 {
			cur = cur[:i]
		} else {
			cur = ""
		}
	}

	if fact.Kind == editor.ReportDelete {
		return resolved{fact: fact}, nil
	}

	srcRoot := fact.Path
	if fact.Kind == editor.ReportLink {
		srcRoot = linkRoot(fact.URL)
	}
	srcPath := srcRoot
	if len(suffix) > 0 {
		srcPath = strings.TrimPrefix(srcRoot+"/"+strings.Join(suffix, "/"), "/")
	}
	source, err := t.tree(fact.Revision)
	if err != nil {
		return resolved{}, err
	}
	r := resolved{fact: fact, source: source, srcPath: srcPath, visible: true}

	// Below the reported path, start-empty and depth hide entries.
	if depthBelow := len(suffix); depthBelow > 0 {
		switch {
		case fact.StartEmpty, fact.Depth == editor.DepthEmpty:
			r.visible = false
		case fact.Depth == editor.DepthFiles:
			if depthBelow > 1 {
				r.visible = false
			} else {
				kind, err := source.Stat(srcPath)
				if err != nil {
					return resolved{}, err
				}
				r.visible = kind == types.KindFile
			}
		case fact.Depth == editor.DepthImmediates:
			r.visible = depthBelow == 1
		}
	}
	return r, nil
}

func (t *ReportedTree) Stat(p string) (types.NodeKind, error) {
	r, err := t.resolve(p)
	if err != nil || !r.visible {
		return types.KindNone, err
	}
	return r.source.Stat(r.srcPath)
}

// List returns the visible children of dir, including children reported
// explicitly below a start-empty or depth-limited directory.
func (t *ReportedTree) List(dir string) ([]types.Entry, error) {
	r, err := t.resolve(dir)
	if err != nil {
		return nil, err
	}
	if !r.visible {
		return nil, fmt.Errorf("%q: %w", dir, fs.ErrNotExist)
	}

	names := map[string]bool{}
	entries, err := r.source.List(r.srcPath)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		names[e.Name] = true
	}
	for _, fact := range t.report.Entries() {
		if fact.Path != "" && path.Dir(fact.Path) == dirOrDot(dir) {
			names[path.Base(fact.Path)] = true
		}
	}

	var out []types.Entry
	for name := range names {
		kind, err := t.Stat(join(dir, name))
		if err != nil {
			return nil, err
		}
		if kind != types.KindNone {
			out = append(out, types.Entry{Name: name, Kind: kind})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func dirOrDot(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}

func (t *ReportedTree) Props(p string) (types.Props, error) {
	r, err := t.resolve(p)
	if err != nil {
		return nil, err
	}
	if !r.visible {
		return nil, fmt.Errorf("%q: %w", p, fs.ErrNotExist)
	}
	return r.source.Props(r.srcPath)
}

func (t *ReportedTree) Contents(p string) ([]byte, error) {
	r, err := t.resolve(p)
	if err != nil {
		return nil, err
	}
	if !r.visible {
		return nil, fmt.Errorf("%q: %w", p, fs.ErrNotExist)
	}
	return r.source.Contents(r.srcPath)
}

// Revision returns the revision the client reported p at.
func (t *ReportedTree) Revision(p string) types.Revision {
	r, err := t.resolve(p)
	if err != nil || !r.visible {
		return types.InvalidRevision
	}
	return r.fact.Revision
}
