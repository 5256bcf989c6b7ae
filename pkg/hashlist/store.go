package hashlist

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"
	"os"
)

// Store maps remote paths to the digest of the content uploaded there.
// Serialization follows insertion order so output is stable within a run.
type Store struct {
	records map[string]Record
	order   []string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]Record),
	}
}

// Load parses a persisted hashlist. Empty input yields an empty store.
func Load(data []byte) (*Store, error) {
	s := New()

	offset := 0
	for offset < len(data) {
		r, n, err := decodeRecord(data[offset:])
		if err != nil {
			return nil, fmt.Errorf("record at offset %d: %w", offset, err)
		}
		if _, exists := s.records[r.RemotePath]; exists {
			return nil, fmt.Errorf("record at offset %d: %w: duplicate path %q",
				offset, ErrCorruptFormat, r.RemotePath)
		}
		s.put(r)
		offset += n
	}

	return s, nil
}

// Serialize returns the wire form of every record.
func (s *Store) Serialize() []byte {
	size := 0
	for _, path := range s.order {
		size += s.records[path].Size()
	}

	out := make([]byte, 0, size)
	for _, path := range s.order {
		out = s.records[path].AppendBinary(out)
	}
	return out
}

// Update inserts or replaces the digest tracked for remotePath.
func (s *Store) Update(remotePath string, hash []byte) error {
	r, err := NewRecord(remotePath, hash)
	if err != nil {
		return err
	}
	s.put(r)
	return nil
}

// Remove stops tracking remotePath. It reports whether the path was tracked.
func (s *Store) Remove(remotePath string) bool {
	if _, ok := s.records[remotePath]; !ok {
		return false
	}
	delete(s.records, remotePath)
	for i, p := range s.order {
		if p == remotePath {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of the digest tracked for remotePath.
func (s *Store) Get(remotePath string) ([]byte, bool) {
	r, ok := s.records[remotePath]
	if !ok {
		return nil, false
	}
	hash := make([]byte, HashSize)
	copy(hash, r.Hash[:])
	return hash, true
}

// Keys returns the tracked remote paths in serialization order.
func (s *Store) Keys() []string {
	keys := make([]string, len(s.order))
	copy(keys, s.order)
	return keys
}

// Len returns the number of tracked paths.
func (s *Store) Len() int {
	return len(s.records)
}

func (s *Store) put(r Record) {
	if _, exists := s.records[r.RemotePath]; !exists {
		s.order = append(s.order, r.RemotePath)
	}
	s.records[r.RemotePath] = r
}

// HashFile returns the SHA-256 digest of a local file.
func HashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hashing %s: %w", path, err)
	}
	return h.Sum(nil), nil
}

// Equal compares two digests in time independent of where they differ.
// Digests of different lengths are never equal.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
