package lib

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

var metaMutex = &sync.Mutex{}

func getMetaDir(baseDir string) string {
	return filepath.Join(GetRepoDir(baseDir), "meta")
}

func getCounterPath(baseDir string) string {
	return filepath.Join(getMetaDir(baseDir), "counter")
}

func getRevisionPath(baseDir string, id types.Revision) string {
	return filepath.Join(GetRevsDir(baseDir), strconv.FormatInt(int64(id), 10)+".json")
}

// getNextRevisionID is the non-locking implementation of GetNextRevisionID.
func getNextRevisionID(baseDir string) (types.Revision, error) {
	content, err := os.ReadFile(getCounterPath(baseDir))
	if err != nil {
		if os.IsNotExist(err) {
			// Revision 0 is the implicit empty tree; the first commit is 1.
			return 1, nil
		}
		return 0, err
	}

	trimmedContent := strings.TrimSpace(string(content))
	if trimmedContent == "" {
		return 1, nil
	}

	id, err := strconv.ParseInt(trimmedContent, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt counter file: %w", err)
	}
	return types.Revision(id), nil
}

// GetNextRevisionID returns the id the next commit will get.
func GetNextRevisionID(baseDir string) (types.Revision, error) {
	metaMutex.Lock()
	defer metaMutex.Unlock()
	return getNextRevisionID(baseDir)
}

// GetHeadRevision returns the youngest committed revision, 0 for a repository
// without commits.
func GetHeadRevision(baseDir string) (types.Revision, error) {
	next, err := GetNextRevisionID(baseDir)
	if err != nil {
		return types.InvalidRevision, err
	}
	return next - 1, nil
}

// WriteRevision persists record and advances the counter past its id. The
// record must carry the id returned by GetNextRevisionID.
func WriteRevision(baseDir string, record types.RevisionRecord) error {
	metaMutex.Lock()
	defer metaMutex.Unlock()

	// 1. The id must be the next one, or a concurrent commit got there first.
	next, err := getNextRevisionID(baseDir)
	if err != nil {
		return err
	}
	if record.ID != next {
		return fmt.Errorf("revision %s: next revision is %s", record.ID, next)
	}

	// 2. Write the record.
	content, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(GetRevsDir(baseDir), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(getRevisionPath(baseDir, record.ID), content, 0644); err != nil {
		return err
	}

	// 3. Advance the counter.
	if err := os.MkdirAll(getMetaDir(baseDir), 0755); err != nil {
		return err
	}
	return os.WriteFile(getCounterPath(baseDir), []byte(strconv.FormatInt(int64(next+1), 10)), 0644)
}

// GetRevisions reads every revision record of the repository, oldest first.
func GetRevisions(baseDir string) ([]types.RevisionRecord, error) {
	revsDir := GetRevsDir(baseDir)

	dirEntries, err := os.ReadDir(revsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.RevisionRecord{}, nil
		}
		return nil, err
	}

	var records []types.RevisionRecord
	for _, entry := range dirEntries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		content, err := os.ReadFile(filepath.Join(revsDir, entry.Name()))
		if err != nil {
			glog.Warningf("skipping revision file %s: %v", entry.Name(), err)
			continue
		}
		var record types.RevisionRecord
		if err := json.Unmarshal(content, &record); err != nil {
			glog.Warningf("skipping revision file %s: %v", entry.Name(), err)
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// ParseRevision parses a numeric id, an "rN" id or "HEAD" (InvalidRevision).
func ParseRevision(identifier string) (types.Revision, error) {
	if strings.EqualFold(identifier, "HEAD") {
		return types.InvalidRevision, nil
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(identifier, "r"), 10, 64)
	if err != nil || id < 0 {
		return types.InvalidRevision, fmt.Errorf("invalid revision %q", identifier)
	}
	return types.Revision(id), nil
}

// FindRevision looks up a revision by identifier (see ParseRevision). HEAD
// resolves to the youngest revision.
func FindRevision(baseDir, identifier string) (*types.RevisionRecord, error) {
	id, err := ParseRevision(identifier)
	if err != nil {
		return nil, err
	}

	records, err := GetRevisions(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read revisions: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%q: %w: repository has no revisions", identifier, ErrRevisionNotFound)
	}

	if !id.IsValid() {
		return &records[len(records)-1], nil
	}
	for i := range records {
		if records[i].ID == id {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("%q: %w", identifier, ErrRevisionNotFound)
}
