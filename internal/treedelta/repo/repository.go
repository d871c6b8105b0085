// Package repo stores versioned trees: every revision is an immutable tree of
// content addressed objects, and edits become new revisions through a
// CommitReceiver.
package repo

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/delta"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/lib"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

var (
	// ErrNotFound is returned for paths missing from a revision.
	ErrNotFound = errors.New("path not found")

	// ErrOutOfDate marks an edit based on a revision older than the
	// repository's version of a node.
	ErrOutOfDate = errors.New("out of date")
)

const (
	blobType = "blob"
	treeType = "tree"
)

// Repository is a repository rooted at a directory holding .treedelta.
type Repository struct {
	baseDir string
	store   *lib.ObjectStore

	mu    sync.Mutex
	trees map[string]*types.Tree
}

// Open opens the repository in baseDir, creating its directories if needed.
func Open(baseDir string) (*Repository, error) {
	if _, err := lib.EnsureRepoDirs(baseDir); err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	return &Repository{
		baseDir: baseDir,
		store:   lib.NewObjectStore(baseDir),
		trees:   make(map[string]*types.Tree),
	}, nil
}

// Dir returns the directory the repository lives in.
func (r *Repository) Dir() string {
	return r.baseDir
}

// Head returns the youngest revision, 0 when nothing was committed yet.
func (r *Repository) Head() (types.Revision, error) {
	return lib.GetHeadRevision(r.baseDir)
}

// Resolve maps InvalidRevision to HEAD and rejects revisions beyond it.
func (r *Repository) Resolve(rev types.Revision) (types.Revision, error) {
	head, err := r.Head()
	if err != nil {
		return types.InvalidRevision, err
	}
	if !rev.IsValid() {
		return head, nil
	}
	if rev > head {
		return types.InvalidRevision, fmt.Errorf("revision %s: %w (head is %s)", rev, lib.ErrRevisionNotFound, head)
	}
	return rev, nil
}

// Tree returns the tree of rev. InvalidRevision means HEAD, and revision 0 is
// the empty tree.
func (r *Repository) Tree(rev types.Revision) (*RevisionTree, error) {
	rev, err := r.Resolve(rev)
	if err != nil {
		return nil, err
	}
	if rev == 0 {
		return &RevisionTree{repo: r, rev: 0}, nil
	}

	record, err := lib.FindRevision(r.baseDir, rev.String())
	if err != nil {
		return nil, err
	}
	return &RevisionTree{repo: r, rev: rev, rootHash: record.RootTreeHash}, nil
}

// TreeSourceAt adapts Tree to the lookup drivers use to resolve copy sources
// and reported revisions.
func (r *Repository) TreeSourceAt(rev types.Revision) (types.TreeSource, error) {
	return r.Tree(rev)
}

func (r *Repository) readTree(hash string) (*types.Tree, error) {
	if hash == "" {
		return &types.Tree{}, nil
	}

	r.mu.Lock()
	tree, ok := r.trees[hash]
	r.mu.Unlock()
	if ok {
		return tree, nil
	}

	tree = &types.Tree{}
	if err := r.store.ReadObjectAsJSON(hash, tree); err != nil {
		return nil, fmt.Errorf("failed to read tree %s: %w", hash, err)
	}
	r.mu.Lock()
	r.trees[hash] = tree
	r.mu.Unlock()
	return tree, nil
}

// readFile reassembles the content of a file manifest and verifies it.
func (r *Repository) readFile(hash string) ([]byte, error) {
	var manifest types.FileManifest
	if err := r.store.ReadObjectAsJSON(hash, &manifest); err != nil {
		return nil, fmt.Errorf("failed to read file manifest %s: %w", hash, err)
	}

	content := make([]byte, 0, manifest.TotalSize)
	for _, chunkRef := range manifest.Chunks {
		data, err := r.store.ReadObjectAsBuffer(chunkRef.Hash)
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk %s: %w", chunkRef.Hash, err)
		}
		content = append(content, data...)
	}

	expected, err := delta.ParseChecksum(manifest.Checksum)
	if err != nil {
		return nil, err
	}
	if err := delta.Verify(expected, delta.Sum(content)); err != nil {
		return nil, fmt.Errorf("file %s: %w", hash, err)
	}
	return content, nil
}

// writeFile chunks content into the store and returns the manifest hash.
func (r *Repository) writeFile(content []byte) (string, error) {
	chunks, err := delta.ChunkBytes(content)
	if err != nil {
		return "", err
	}

	manifest := types.FileManifest{
		Chunks:    make([]types.ChunkRef, 0, len(chunks)),
		TotalSize: int64(len(content)),
		Checksum:  delta.Sum(content).String(),
	}
	for _, chunk := range chunks {
		hash, err := r.store.WriteObject(chunk.Data)
		if err != nil {
			return "", err
		}
		manifest.Chunks = append(manifest.Chunks, types.ChunkRef{Hash: hash, Size: chunk.Size})
	}
	return r.store.WriteJSON(manifest)
}

// RevisionTree is the read-only tree of one revision. It implements
// types.TreeSource and types.RevisionSource.
type RevisionTree struct {
	repo     *Repository
	rev      types.Revision
	rootHash string
}

// Revision returns the revision the node at p was last changed in. Missing
// paths report InvalidRevision.
func (t *RevisionTree) Revision(p string) types.Revision {
	if p == "" {
		return t.rev
	}
	entry, err := t.lookup(p)
	if err != nil {
		return types.InvalidRevision
	}
	return entry.Revision
}

// Number returns the revision this tree belongs to.
func (t *RevisionTree) Number() types.Revision {
	return t.rev
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(path.Clean(p), "/")
}

// lookup walks from the root to the entry for p.
func (t *RevisionTree) lookup(p string) (*types.TreeEntry, error) {
	parts := splitPath(p)
	if len(parts) == 0 {
		return &types.TreeEntry{Hash: t.rootHash, Type: treeType, Revision: t.rev}, nil
	}

	hash := t.rootHash
	var entry *types.TreeEntry
	for i, name := range parts {
		tree, err := t.repo.readTree(hash)
		if err != nil {
			return nil, err
		}
		entry = findEntry(tree, name)
		if entry == nil || (i < len(parts)-1 && entry.Type != treeType) {
			return nil, fmt.Errorf("%s@%s: %w", p, t.rev, ErrNotFound)
		}
		hash = entry.Hash
	}
	return entry, nil
}

func findEntry(tree *types.Tree, name string) *types.TreeEntry {
	i := sort.Search(len(tree.Entries), func(i int) bool { return tree.Entries[i].Name >= name })
	if i < len(tree.Entries) && tree.Entries[i].Name == name {
		return &tree.Entries[i]
	}
	return nil
}

func (t *RevisionTree) Stat(p string) (types.NodeKind, error) {
	entry, err := t.lookup(p)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.KindNone, nil
		}
		return types.KindNone, err
	}
	if entry.Type == treeType {
		return types.KindDir, nil
	}
	return types.KindFile, nil
}

func (t *RevisionTree) List(dir string) ([]types.Entry, error) {
	entry, err := t.lookup(dir)
	if err != nil {
		return nil, err
	}
	if entry.Type != treeType {
		return nil, fmt.Errorf("%s@%s is not a directory", dir, t.rev)
	}
	tree, err := t.repo.readTree(entry.Hash)
	if err != nil {
		return nil, err
	}

	entries := make([]types.Entry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		kind := types.KindFile
		if e.Type == treeType {
			kind = types.KindDir
		}
		entries = append(entries, types.Entry{Name: e.Name, Kind: kind})
	}
	return entries, nil
}

func (t *RevisionTree) Props(p string) (types.Props, error) {
	entry, err := t.lookup(p)
	if err != nil {
		return nil, err
	}
	if entry.Type != treeType {
		return entry.Props.Clone(), nil
	}
	tree, err := t.repo.readTree(entry.Hash)
	if err != nil {
		return nil, err
	}
	return tree.Props.Clone(), nil
}

func (t *RevisionTree) Contents(p string) ([]byte, error) {
	entry, err := t.lookup(p)
	if err != nil {
		return nil, err
	}
	if entry.Type != blobType {
		return nil, fmt.Errorf("%s@%s is a directory", p, t.rev)
	}
	return t.repo.readFile(entry.Hash)
}
