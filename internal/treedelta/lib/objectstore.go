package lib

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// ObjectStore is a content addressed store of immutable objects. New objects
// are buffered in memory until Commit writes them to one packfile; Discard
// drops them instead.
type ObjectStore struct {
	baseDir string

	mu          sync.Mutex
	index       types.PackIndex
	indexLoaded bool
	pending     map[string][]byte
}

// NewObjectStore opens the store of the repository in baseDir.
func NewObjectStore(baseDir string) *ObjectStore {
	return &ObjectStore{
		baseDir: baseDir,
		pending: make(map[string][]byte),
	}
}

// loadIndex reads index.json into memory. Callers hold s.mu.
func (s *ObjectStore) loadIndex() error {
	if s.indexLoaded {
		return nil
	}

	content, err := os.ReadFile(GetIndexPath(s.baseDir))
	if err != nil {
		if os.IsNotExist(err) {
			s.index = make(types.PackIndex)
			s.indexLoaded = true
			return nil
		}
		return err
	}

	index := make(types.PackIndex)
	if err := json.Unmarshal(content, &index); err != nil {
		return fmt.Errorf("corrupt object index: %w", err)
	}
	s.index = index
	s.indexLoaded = true
	return nil
}

// WriteObject adds an object to the pending buffer and returns its hash.
// Objects already stored or pending are not duplicated.
func (s *ObjectStore) WriteObject(data []byte) (string, error) {
	hash := ObjectID(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadIndex(); err != nil {
		return "", err
	}
	if _, exists := s.index[hash]; exists {
		return hash, nil
	}
	if _, exists := s.pending[hash]; exists {
		return hash, nil
	}

	s.pending[hash] = append([]byte(nil), data...)
	return hash, nil
}

// WriteJSON marshals v and stores it as an object.
func (s *ObjectStore) WriteJSON(v any) (string, error) {
	content, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return s.WriteObject(content)
}

// HasObject reports whether hash is stored or pending.
func (s *ObjectStore) HasObject(hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pending[hash]; exists {
		return true, nil
	}
	if err := s.loadIndex(); err != nil {
		return false, err
	}
	_, exists := s.index[hash]
	return exists, nil
}

// PendingObjectCount returns the number of objects waiting for Commit.
func (s *ObjectStore) PendingObjectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Commit writes all pending objects to a new packfile and updates the index.
// It returns the size of the packfile written, zero when nothing was pending.
func (s *ObjectStore) Commit() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return 0, nil
	}
	if err := s.loadIndex(); err != nil {
		return 0, err
	}

	// 1. Concatenate the pending objects in hash order so packs are deterministic.
	hashes := make([]string, 0, len(s.pending))
	for hash := range s.pending {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)

	var packBuffer []byte
	var currentOffset int64
	newEntries := make(map[string]types.PackIndexEntry, len(hashes))
	for _, hash := range hashes {
		data := s.pending[hash]
		packBuffer = append(packBuffer, data...)
		newEntries[hash] = types.PackIndexEntry{Offset: currentOffset, Length: int64(len(data))}
		currentOffset += int64(len(data))
	}

	// 2. Write the packfile under its own hash.
	packHash := ObjectID(packBuffer)
	packsDir := GetPacksDir(s.baseDir)
	if err := os.MkdirAll(packsDir, 0755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(filepath.Join(packsDir, packHash), packBuffer, 0644); err != nil {
		return 0, err
	}

	// 3. Point the index at the new pack and persist it.
	for hash, entry := range newEntries {
		entry.PackHash = packHash
		s.index[hash] = entry
	}
	indexJSON, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(GetIndexPath(s.baseDir), indexJSON, 0644); err != nil {
		return 0, err
	}

	// 4. The objects are durable now.
	glog.V(1).Infof("object store: packed %d objects into %s", len(hashes), packHash[:12])
	s.pending = make(map[string][]byte)
	return int64(len(packBuffer)), nil
}

// Discard drops every pending object.
func (s *ObjectStore) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > 0 {
		glog.V(1).Infof("object store: discarded %d pending objects", len(s.pending))
	}
	s.pending = make(map[string][]byte)
}

// ReadObjectAsBuffer retrieves an object by its hash, from the pending buffer
// or from its packfile.
func (s *ObjectStore) ReadObjectAsBuffer(hash string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data, exists := s.pending[hash]; exists {
		return data, nil
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}

	entry, exists := s.index[hash]
	if !exists {
		return nil, fmt.Errorf("object %s: %w", hash, ErrObjectNotFound)
	}

	file, err := os.Open(filepath.Join(GetPacksDir(s.baseDir), entry.PackHash))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	buffer := make([]byte, entry.Length)
	if _, err := file.ReadAt(buffer, entry.Offset); err != nil {
		return nil, fmt.Errorf("object %s in pack %s: %w", hash, entry.PackHash, err)
	}
	return buffer, nil
}

// ReadObjectAsJSON retrieves an object and unmarshals it into target.
func (s *ObjectStore) ReadObjectAsJSON(hash string, target any) error {
	buffer, err := s.ReadObjectAsBuffer(hash)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(buffer, target); err != nil {
		return fmt.Errorf("object %s: %w", hash, err)
	}
	return nil
}

// ObjectID is the hex SHA-256 address of a stored object or pack.
func ObjectID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
