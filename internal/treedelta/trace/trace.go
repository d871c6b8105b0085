// Package trace provides a receiver that records the editor calls of an edit
// in order, for inspection and for yaml reports.
package trace

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	yml "gopkg.in/yaml.v3"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/delta"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/editor"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// Event is one recorded editor call.
type Event struct {
	Op       string          `yaml:"op"`
	Path     string          `yaml:"path,omitempty"`
	Revision *types.Revision `yaml:"revision,omitempty"`
	CopyFrom *types.CopyFrom `yaml:"copy-from,omitempty"`
	Prop     string          `yaml:"prop,omitempty"`
	Value    string          `yaml:"value,omitempty"`
	Deleted  bool            `yaml:"deleted,omitempty"`
	Checksum string          `yaml:"checksum,omitempty"`
	Windows  int             `yaml:"windows,omitempty"`
	Size     int             `yaml:"size,omitempty"`
}

// String renders e as "op path".
func (e Event) String() string {
	if e.Path == "" {
		return e.Op
	}
	return e.Op + " " + e.Path
}

// BaseLookup returns the base text of a path an edit opens.
type BaseLookup func(path string) ([]byte, error)

type fileBaton struct {
	path    string
	base    []byte
	hasBase bool
	applier *delta.Applier
	windows int
}

// Receiver records every call it receives. It rebuilds the text of added
// files, and of opened files when it was given a BaseLookup.
type Receiver struct {
	Events []Event

	base    BaseLookup
	files   map[string][]byte
	deleted []string
}

var _ editor.TreeReceiver = (*Receiver)(nil)

// NewReceiver returns a trace receiver. base may be nil.
func NewReceiver(base BaseLookup) *Receiver {
	return &Receiver{base: base, files: make(map[string][]byte)}
}

func revisionPtr(rev types.Revision) *types.Revision {
	if !rev.IsValid() {
		return nil
	}
	return &rev
}

func (r *Receiver) add(e Event) {
	r.Events = append(r.Events, e)
}

// Ops returns every event as "op path", in call order.
func (r *Receiver) Ops() []string {
	ops := make([]string, len(r.Events))
	for i, e := range r.Events {
		ops[i] = e.String()
	}
	return ops
}

// Files returns the texts rebuilt for added and opened files.
func (r *Receiver) Files() map[string][]byte {
	return r.files
}

// Deleted returns the deleted paths in call order.
func (r *Receiver) Deleted() []string {
	return r.deleted
}

// Changed returns the paths of every added, opened or deleted node, sorted.
func (r *Receiver) Changed() []string {
	seen := map[string]bool{}
	for _, e := range r.Events {
		switch e.Op {
		case "add_directory", "add_file", "open_file", "delete_entry":
			seen[e.Path] = true
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *Receiver) SetTargetRevision(rev types.Revision) error {
	r.add(Event{Op: "set_target_revision", Revision: revisionPtr(rev)})
	return nil
}

func (r *Receiver) OpenRoot(baseRev types.Revision) (editor.Baton, error) {
	r.add(Event{Op: "open_root", Revision: revisionPtr(baseRev)})
	return "", nil
}

func (r *Receiver) DeleteEntry(p string, rev types.Revision, _ editor.Baton) error {
	r.add(Event{Op: "delete_entry", Path: p, Revision: revisionPtr(rev)})
	r.deleted = append(r.deleted, p)
	return nil
}

func (r *Receiver) AddDirectory(p string, _ editor.Baton, copyFrom *types.CopyFrom) (editor.Baton, error) {
	r.add(Event{Op: "add_directory", Path: p, CopyFrom: copyFrom})
	return p, nil
}

func (r *Receiver) OpenDirectory(p string, _ editor.Baton, baseRev types.Revision) (editor.Baton, error) {
	r.add(Event{Op: "open_directory", Path: p, Revision: revisionPtr(baseRev)})
	return p, nil
}

func propEvent(op, p, name string, value []byte) Event {
	e := Event{Op: op, Path: p, Prop: name, Deleted: value == nil}
	if value != nil {
		if utf8.Valid(value) {
			e.Value = string(value)
		} else {
			e.Value = fmt.Sprintf("%x", value)
		}
	}
	return e
}

func (r *Receiver) ChangeDirProp(dir editor.Baton, name string, value []byte) error {
	r.add(propEvent("change_dir_prop", dir.(string), name, value))
	return nil
}

func (r *Receiver) CloseDirectory(dir editor.Baton) error {
	r.add(Event{Op: "close_directory", Path: dir.(string)})
	return nil
}

func (r *Receiver) AbsentDirectory(p string, _ editor.Baton) error {
	r.add(Event{Op: "absent_directory", Path: p})
	return nil
}

func (r *Receiver) AddFile(p string, _ editor.Baton, copyFrom *types.CopyFrom) (editor.Baton, error) {
	r.add(Event{Op: "add_file", Path: p, CopyFrom: copyFrom})
	f := &fileBaton{path: p}
	if copyFrom == nil {
		f.base, f.hasBase = []byte{}, true
	}
	return f, nil
}

func (r *Receiver) OpenFile(p string, _ editor.Baton, baseRev types.Revision) (editor.Baton, error) {
	r.add(Event{Op: "open_file", Path: p, Revision: revisionPtr(baseRev)})
	f := &fileBaton{path: p}
	if r.base != nil {
		base, err := r.base(p)
		if err != nil {
			return nil, err
		}
		f.base, f.hasBase = base, true
	}
	return f, nil
}

func (r *Receiver) ApplyTextDelta(file editor.Baton, baseChecksum delta.Checksum) (delta.WindowHandler, error) {
	f := file.(*fileBaton)
	r.add(Event{Op: "apply_textdelta", Path: f.path, Checksum: baseChecksum.String()})
	if f.hasBase {
		if err := delta.Verify(baseChecksum, delta.Sum(f.base)); err != nil {
			return nil, fmt.Errorf("base of %q: %w", f.path, err)
		}
		f.applier = delta.NewApplier(f.base)
	}
	return func(w *delta.Window) error {
		if w != nil {
			f.windows++
		}
		if f.applier == nil {
			return nil
		}
		if err := f.applier.HandleWindow(w); err != nil {
			return fmt.Errorf("%q: %w", f.path, err)
		}
		if w == nil {
			r.files[f.path] = f.applier.Result()
		}
		return nil
	}, nil
}

func (r *Receiver) ChangeFileProp(file editor.Baton, name string, value []byte) error {
	r.add(propEvent("change_file_prop", file.(*fileBaton).path, name, value))
	return nil
}

func (r *Receiver) CloseFile(file editor.Baton, checksum delta.Checksum) error {
	f := file.(*fileBaton)
	e := Event{Op: "close_file", Path: f.path, Checksum: checksum.String(), Windows: f.windows}
	if content, ok := r.files[f.path]; ok {
		e.Size = len(content)
		if err := delta.Verify(checksum, delta.Sum(content)); err != nil {
			return fmt.Errorf("%q: %w", f.path, err)
		}
	}
	r.add(e)
	return nil
}

func (r *Receiver) AbsentFile(p string, _ editor.Baton) error {
	r.add(Event{Op: "absent_file", Path: p})
	return nil
}

func (r *Receiver) CloseEdit() error {
	r.add(Event{Op: "close_edit"})
	return nil
}

func (r *Receiver) AbortEdit() error {
	r.add(Event{Op: "abort_edit"})
	return nil
}

// WriteYAML writes the recorded events as a yaml list.
func (r *Receiver) WriteYAML(w io.Writer) error {
	enc := yml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r.Events); err != nil {
		return err
	}
	return enc.Close()
}

// Summary renders one "op path" line per node change, like a status listing.
func (r *Receiver) Summary() string {
	var b strings.Builder
	for _, e := range r.Events {
		var code string
		switch e.Op {
		case "add_directory", "add_file":
			code = "A"
			if e.CopyFrom != nil {
				code = "C"
			}
		case "open_file":
			code = "M"
		case "delete_entry":
			code = "D"
		case "absent_directory", "absent_file":
			code = "!"
		default:
			continue
		}
		fmt.Fprintf(&b, "%s %s\n", code, e.Path)
	}
	return b.String()
}
