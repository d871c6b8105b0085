package editor

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/golang/glog"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// Depth limits how much of a reported subtree the client claims to have.
type Depth int

const (
	// DepthInfinity is the default: the whole subtree.
	DepthInfinity Depth = iota
	DepthEmpty
	DepthFiles
	DepthImmediates
)

func (d Depth) String() string {
	switch d {
	case DepthInfinity:
		return "infinity"
	case DepthEmpty:
		return "empty"
	case DepthFiles:
		return "files"
	case DepthImmediates:
		return "immediates"
	}
	return fmt.Sprintf("depth(%d)", int(d))
}

// ReportReceiver is the server side of a report.
type ReportReceiver interface {
	SetPath(path string, rev types.Revision, depth Depth, startEmpty bool, lockToken string) error
	DeletePath(path string) error
	LinkPath(path, url string, rev types.Revision, depth Depth, startEmpty bool, lockToken string) error
	FinishReport() error
	AbortReport() error
}

type reportState int

const (
	reportOpen reportState = iota
	reportFinished
	reportAborted
)

// Reporter is the client side of a report: it forwards facts about the
// client's current tree to a ReportReceiver until Finish or Abort.
type Reporter struct {
	receiver ReportReceiver
	state    reportState
}

// NewReporter starts a report against receiver.
func NewReporter(receiver ReportReceiver) *Reporter {
	return &Reporter{receiver: receiver}
}

func (r *Reporter) check() error {
	switch r.state {
	case reportFinished:
		return fmt.Errorf("report: %w", ErrSessionClosed)
	case reportAborted:
		return fmt.Errorf("report: %w: %w", ErrSessionClosed, ErrSessionAborted)
	}
	return nil
}

func (r *Reporter) failed(op, p string, err error) error {
	rerr := &ReceiverError{Op: op, Path: p, Err: err}
	glog.Warningf("report: %v", rerr)
	r.state = reportAborted
	if aerr := r.receiver.AbortReport(); aerr != nil {
		glog.Warningf("report: abort after %s: %v", op, aerr)
	}
	return rerr
}

// SetPath states that path is present at rev. The root is reported with "".
func (r *Reporter) SetPath(p string, rev types.Revision, depth Depth, startEmpty bool, lockToken string) error {
	if err := r.check(); err != nil {
		return err
	}
	p = cleanReportPath(p)
	glog.V(2).Infof("report: set_path %q %s depth=%s start_empty=%t", p, rev, depth, startEmpty)
	if err := r.receiver.SetPath(p, rev, depth, startEmpty, lockToken); err != nil {
		return r.failed("set_path", p, err)
	}
	return nil
}

// DeletePath states that path is missing from the client's tree.
func (r *Reporter) DeletePath(p string) error {
	if err := r.check(); err != nil {
		return err
	}
	p = cleanReportPath(p)
	glog.V(2).Infof("report: delete_path %q", p)
	if err := r.receiver.DeletePath(p); err != nil {
		return r.failed("delete_path", p, err)
	}
	return nil
}

// LinkPath states that path holds url at rev instead of its usual content.
func (r *Reporter) LinkPath(p, url string, rev types.Revision, depth Depth, startEmpty bool, lockToken string) error {
	if err := r.check(); err != nil {
		return err
	}
	p = cleanReportPath(p)
	glog.V(2).Infof("report: link_path %q -> %s@%s", p, url, rev)
	if err := r.receiver.LinkPath(p, url, rev, depth, startEmpty, lockToken); err != nil {
		return r.failed("link_path", p, err)
	}
	return nil
}

// Finish ends the report successfully. Later calls fail with
// ErrSessionClosed.
func (r *Reporter) Finish() error {
	if err := r.check(); err != nil {
		return err
	}
	glog.V(2).Infof("report: finish")
	if err := r.receiver.FinishReport(); err != nil {
		return r.failed("finish_report", "", err)
	}
	r.state = reportFinished
	return nil
}

// Abort cancels the report.
func (r *Reporter) Abort() error {
	if err := r.check(); err != nil {
		return err
	}
	glog.V(2).Infof("report: abort")
	r.state = reportAborted
	if err := r.receiver.AbortReport(); err != nil {
		return &ReceiverError{Op: "abort_report", Err: err}
	}
	return nil
}

func cleanReportPath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

type ReportKind int

const (
	ReportSet ReportKind = iota
	ReportDelete
	ReportLink
)

func (k ReportKind) String() string {
	switch k {
	case ReportSet:
		return "set"
	case ReportDelete:
		return "delete"
	case ReportLink:
		return "link"
	}
	return "unknown"
}

// ReportEntry is one fact of a report.
type ReportEntry struct {
	Kind       ReportKind
	Path       string
	URL        string
	Revision   types.Revision
	Depth      Depth
	StartEmpty bool
	LockToken  string
}

// Report is the finished list of facts, one per path. A later fact about a
// path replaces an earlier one.
type Report struct {
	entries map[string]ReportEntry
}

// Lookup returns the fact reported for exactly p.
func (r *Report) Lookup(p string) (ReportEntry, bool) {
	e, ok := r.entries[p]
	return e, ok
}

// Root returns the fact for the report root. A report that only describes
// a subtree has none.
func (r *Report) Root() (ReportEntry, bool) {
	return r.Lookup("")
}

// Entries returns every fact ordered by path, so parents precede children.
func (r *Report) Entries() []ReportEntry {
	out := make([]ReportEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// ReportBuilder is a ReportReceiver that accumulates the reported facts.
type ReportBuilder struct {
	entries  map[string]ReportEntry
	finished bool
	aborted  bool
}

func NewReportBuilder() *ReportBuilder {
	return &ReportBuilder{entries: make(map[string]ReportEntry)}
}

func (b *ReportBuilder) SetPath(p string, rev types.Revision, depth Depth, startEmpty bool, lockToken string) error {
	if !rev.IsValid() {
		return fmt.Errorf("set_path %q: revision %s is not valid", p, rev)
	}
	b.entries[p] = ReportEntry{Kind: ReportSet, Path: p, Revision: rev, Depth: depth, StartEmpty: startEmpty, LockToken: lockToken}
	return nil
}

func (b *ReportBuilder) DeletePath(p string) error {
	if p == "" {
		return fmt.Errorf("delete_path: cannot delete the report root")
	}
	b.entries[p] = ReportEntry{Kind: ReportDelete, Path: p, Revision: types.InvalidRevision}
	return nil
}

func (b *ReportBuilder) LinkPath(p, url string, rev types.Revision, depth Depth, startEmpty bool, lockToken string) error {
	if url == "" {
		return fmt.Errorf("link_path %q: empty url", p)
	}
	b.entries[p] = ReportEntry{Kind: ReportLink, Path: p, URL: url, Revision: rev, Depth: depth, StartEmpty: startEmpty, LockToken: lockToken}
	return nil
}

func (b *ReportBuilder) FinishReport() error {
	b.finished = true
	return nil
}

func (b *ReportBuilder) AbortReport() error {
	b.aborted = true
	b.entries = make(map[string]ReportEntry)
	return nil
}

// Report returns the accumulated facts. It is only available after
// FinishReport succeeded.
func (b *ReportBuilder) Report() (*Report, error) {
	if !b.finished {
		return nil, fmt.Errorf("report is not finished")
	}
	entries := make(map[string]ReportEntry, len(b.entries))
	for p, e := range b.entries {
		entries[p] = e
	}
	return &Report{entries: entries}, nil
}
