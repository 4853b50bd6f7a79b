// Package memory is a storage backend based on in-memory maps, being
// ephemeral. Mirrors the layout of github.com/go-git/go-git/v5's
// storage/memory.Storage: one map per logical store, guarded by a mutex.
package memory

import (
	"strings"
	"sync"

	"github.com/nojaja/gitvfs/index"
	"github.com/nojaja/gitvfs/storage"
)

// Storage is an in-memory storage.Backend. The use of this backend should be
// limited to controlled environments or tests, since its footprint grows
// unbounded with the number of tracked blobs.
type Storage struct {
	mu sync.Mutex

	blobs map[storage.Segment]map[string][]byte
	idx   *index.Index
}

// NewStorage returns a new, empty in-memory Storage.
func NewStorage() *Storage {
	return &Storage{
		blobs: map[storage.Segment]map[string][]byte{
			storage.Workspace:   {},
			storage.Base:        {},
			storage.ConflictSeg: {},
		},
	}
}

func (s *Storage) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx == nil {
		s.idx = index.New()
	}
	return nil
}

func (s *Storage) ReadBlob(path string, segment storage.Segment) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if segment != "" {
		if b, ok := s.blobs[segment][path]; ok {
			return b, nil
		}
		return nil, storage.ErrNotFound
	}

	if b, ok := s.blobs[storage.Workspace][path]; ok {
		return b, nil
	}
	if b, ok := s.blobs[storage.Base][path]; ok {
		return b, nil
	}
	return nil, storage.ErrNotFound
}

func (s *Storage) WriteBlob(path string, content []byte, segment storage.Segment, info index.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[segment][path] = content
	return s.mergeInfoLocked(path, info)
}

func (s *Storage) DeleteBlob(path string, segment storage.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if segment != "" {
		delete(s.blobs[segment], path)
		return nil
	}
	for _, m := range s.blobs {
		delete(m, path)
	}
	return nil
}

func (s *Storage) ListFiles(prefix string, segment storage.Segment, recursive bool) ([]storage.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	var out []storage.File

	source := s.blobs
	consider := func(path string) {
		if seen[path] || !hasPrefixComponents(path, prefix) {
			return
		}
		if !recursive {
			rest := path
			if prefix != "" {
				rest = strings.TrimPrefix(path, prefix+"/")
			}
			if strings.Contains(rest, "/") {
				return
			}
		}
		seen[path] = true
		e, _ := s.idx.Get(path)
		out = append(out, storage.File{Path: path, Info: e})
	}

	if segment != "" {
		for path := range source[segment] {
			consider(path)
		}
	} else {
		for _, m := range source {
			for path := range m {
				consider(path)
			}
		}
	}
	return out, nil
}

func (s *Storage) ReadIndex() (*index.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx == nil {
		s.idx = index.New()
	}
	return s.idx, nil
}

func (s *Storage) WriteIndex(idx *index.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx = idx
	return nil
}

func (s *Storage) mergeInfoLocked(path string, patch index.Entry) error {
	if s.idx == nil {
		s.idx = index.New()
	}
	e, ok := s.idx.Get(path)
	if !ok {
		e = &index.Entry{Path: path}
		s.idx.Put(e)
	}
	patch.Path = path
	return e.Merge(patch)
}

func hasPrefixComponents(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// CanUse reports whether this backend can be used in the current process.
// The in-memory backend has no external dependency, so it is always usable.
func CanUse() bool { return true }

// AvailableRoots returns the set of known root names. The in-memory backend
// has no durable notion of roots across process restarts.
func AvailableRoots() ([]string, error) { return nil, nil }

// Delete is a no-op for the in-memory backend beyond dropping the instance.
func Delete(string) error { return nil }
