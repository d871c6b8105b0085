package types

import "strconv"

// `json:"..."` tags are used for the store records, `yaml:"..."` for anything
// a user may read.

// Revision identifies one committed state of a versioned tree.
type Revision int64

// InvalidRevision means "unspecified" wherever a revision is optional.
const InvalidRevision Revision = -1

// IsValid reports whether r names an actual revision.
func (r Revision) IsValid() bool {
	return r >= 0
}

func (r Revision) String() string {
	if !r.IsValid() {
		return "HEAD"
	}
	return "r" + strconv.FormatInt(int64(r), 10)
}

type NodeKind int

const (
	KindNone NodeKind = iota
	KindFile
	KindDir
)

func (k NodeKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	}
	return "none"
}

// Props holds named, opaque property values. A nil value in a change
// request deletes the property.
type Props map[string][]byte

// Properties with a meaning for the filesystem.
const (
	PropExecutable      = "svn:executable"
	PropExecutableValue = "*"
	PropSpecial         = "svn:special"
	PropSpecialValue    = "*"
)

// Clone returns a copy of the property map that shares no value slices.
func (p Props) Clone() Props {
	if p == nil {
		return nil
	}
	out := make(Props, len(p))
	for name, value := range p {
		out[name] = append([]byte(nil), value...)
	}
	return out
}

// CopyFrom names the source of a copied node.
type CopyFrom struct {
	Path     string   `json:"path" yaml:"path"`
	Revision Revision `json:"revision" yaml:"revision"`
}

// Entry is one child of a directory in a TreeSource listing.
type Entry struct {
	Name string
	Kind NodeKind
	// Absent marks a child the source knows exists but could not read.
	Absent bool
}

// TreeSource is a read-only view of a hierarchical tree. Paths are
// slash-separated and relative to the tree root, "" being the root itself.
type TreeSource interface {
	// Stat returns KindNone for paths that do not exist.
	Stat(path string) (NodeKind, error)
	// List returns the children of a directory sorted by name.
	List(dir string) ([]Entry, error)
	Props(path string) (Props, error)
	Contents(path string) ([]byte, error)
}

// RevisionSource is implemented by tree sources whose nodes carry the
// revision they were last changed in.
type RevisionSource interface {
	Revision(path string) Revision
}

// TreeLookup returns the tree of a revision; InvalidRevision means the
// youngest one.
type TreeLookup func(rev Revision) (TreeSource, error)

// --- Store records ---

type ChunkRef struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Chunk represents a piece of a file's data. The Data field is not serialized.
type Chunk struct {
	Hash   string `json:"hash"`
	Offset int64  `json:"-"`
	Size   int64  `json:"size"`
	Data   []byte `json:"-"`
}

type FileManifest struct {
	Chunks    []ChunkRef `json:"chunks"`
	TotalSize int64      `json:"totalSize"`
	Checksum  string     `json:"checksum"`
}

type TreeEntry struct {
	Name     string   `json:"name"`
	Hash     string   `json:"hash"`
	Type     string   `json:"type"` // "blob" or "tree"
	Props    Props    `json:"props,omitempty"`
	Revision Revision `json:"revision"`
}

type Tree struct {
	Entries []TreeEntry `json:"entries"`
	Props   Props       `json:"props,omitempty"`
}

// RevisionRecord describes one committed revision.
type RevisionRecord struct {
	ID           Revision `json:"id"`
	Timestamp    string   `json:"timestamp"`
	RootTreeHash string   `json:"rootTreeHash"`
	Message      string   `json:"message,omitempty"`
	Author       string   `json:"author,omitempty"`
	EditID       string   `json:"editId"`
	BaseRevision Revision `json:"baseRevision"`
}

type PackIndexEntry struct {
	PackHash string `json:"packHash"`
	Offset   int64  `json:"offset"`
	Length   int64  `json:"length"`
}

type PackIndex map[string]PackIndexEntry
