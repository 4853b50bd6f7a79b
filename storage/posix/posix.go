// Package posix is a storage.Backend over a real filesystem, using
// github.com/go-git/go-billy/v5 the same way github.com/go-git/go-git/v5's
// storage/filesystem package does for its dotgit layout. Segments become
// top-level subdirectories of the root:
//
//	<root>/workspace/<path>
//	<root>/base/<path>
//	<root>/conflict/<path>
//	<root>/info/<path>.json   (per-path index entry, for enumeration)
//	<root>/index.json         (aggregate index)
package posix

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/nojaja/gitvfs/index"
	"github.com/nojaja/gitvfs/storage"
)

const indexFileName = "index.json"

// Storage is a filesystem-backed storage.Backend rooted at a directory on
// disk, suitable for server-side or CLI use.
type Storage struct {
	mu sync.Mutex

	root billy.Filesystem

	watcher  *fsnotify.Watcher
	dirtyDir bool // set by the watcher on any change directly under root; not read anywhere
}

// Options configures an optional posix Storage.
type Options struct {
	// Watch enables an fsnotify watcher on the root directory itself (not
	// its subdirectories) that sets an internal flag whenever an entry
	// directly under the root is written, created, removed or renamed,
	// including by this Storage's own index.json writes. Nothing reads the
	// flag: there is no listing cache, and ListFiles always reads the
	// directories from disk.
	Watch bool
}

// NewStorage opens a posix backend rooted at dir, creating it if absent.
func NewStorage(dir string, opts Options) (*Storage, error) {
	root := osfs.New(dir)
	s := &Storage{root: root}

	if opts.Watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		if err := w.Add(dir); err == nil {
			s.watcher = w
			go s.watchLoop()
		} else {
			_ = w.Close()
		}
	}
	return s, nil
}

func (s *Storage) watchLoop() {
	for event := range s.watcher.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
			s.mu.Lock()
			s.dirtyDir = true
			s.mu.Unlock()
			slog.Debug("gitvfs/posix: external change detected", "path", event.Name)
		}
	}
}

// Close releases the fsnotify watcher, if one was started.
func (s *Storage) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Storage) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range []storage.Segment{storage.Workspace, storage.Base, storage.ConflictSeg, storage.Info} {
		if err := s.root.MkdirAll(string(seg), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) segPath(segment storage.Segment, p string) string {
	return s.root.Join(string(segment), p)
}

func (s *Storage) ReadBlob(p string, segment storage.Segment) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if segment != "" {
		return s.readFileLocked(s.segPath(segment, p))
	}
	if b, err := s.readFileLocked(s.segPath(storage.Workspace, p)); err == nil {
		return b, nil
	}
	return s.readFileLocked(s.segPath(storage.Base, p))
}

func (s *Storage) readFileLocked(fullPath string) ([]byte, error) {
	f, err := s.root.Open(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Storage) WriteBlob(p string, content []byte, segment storage.Segment, info index.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	full := s.segPath(segment, p)
	if dir := path.Dir(full); dir != "." {
		if err := s.root.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := s.root.Create(full)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return s.mergeInfoLocked(p, info)
}

func (s *Storage) DeleteBlob(p string, segment storage.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	segs := []storage.Segment{segment}
	if segment == "" {
		segs = []storage.Segment{storage.Workspace, storage.Base, storage.ConflictSeg}
	}
	for _, seg := range segs {
		if err := s.root.Remove(s.segPath(seg, p)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *Storage) ListFiles(prefix string, segment storage.Segment, recursive bool) ([]storage.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := string(storage.Info)
	if segment != "" {
		root = string(segment)
	}

	var out []storage.File
	var walk func(dir, relPrefix string) error
	walk = func(dir, rel string) error {
		entries, err := s.root.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		for _, e := range entries {
			childRel := path.Join(rel, e.Name())
			if e.IsDir() {
				onPrefixPath := prefix != "" && (childRel == prefix || strings.HasPrefix(prefix, childRel+"/"))
				if recursive || onPrefixPath {
					if err := walk(s.root.Join(dir, e.Name()), childRel); err != nil {
						return err
					}
				}
				continue
			}
			logicalPath := childRel
			if segment == storage.Info || segment == "" {
				logicalPath = strings.TrimSuffix(childRel, ".json")
			}
			if prefix != "" && logicalPath != prefix && !strings.HasPrefix(logicalPath, prefix+"/") {
				continue
			}
			info, _ := s.readInfoLocked(logicalPath)
			out = append(out, storage.File{Path: logicalPath, Info: info})
		}
		return nil
	}
	if err := walk(root, ""); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Storage) readInfoLocked(p string) (*index.Entry, error) {
	b, err := s.readFileLocked(s.root.Join(string(storage.Info), p+".json"))
	if err != nil {
		return nil, err
	}
	var e index.Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Storage) mergeInfoLocked(p string, patch index.Entry) error {
	existing, err := s.readInfoLocked(p)
	if err != nil {
		existing = &index.Entry{Path: p}
	}
	patch.Path = p
	if err := existing.Merge(patch); err != nil {
		return err
	}
	data, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	full := s.root.Join(string(storage.Info), p+".json")
	if dir := path.Dir(full); dir != "." {
		if err := s.root.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := s.root.Create(full)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

func (s *Storage) ReadIndex() (*index.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.readFileLocked(indexFileName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return index.New(), nil
		}
		return nil, err
	}
	idx := index.New()
	if err := json.Unmarshal(b, idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (s *Storage) WriteIndex(idx *index.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	f, err := s.root.Create(indexFileName)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

// CanUse reports whether a real filesystem is available in this process
// (always true outside of constrained sandboxes; browser-hosted builds use
// an origin-private filesystem backend instead, not covered here).
func CanUse() bool {
	_, err := os.Getwd()
	return err == nil
}

// AvailableRoots lists directories under the conventional gitvfs data
// directory that look like initialized roots (contain index.json).
func AvailableRoots(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var roots []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(path.Join(dataDir, e.Name(), indexFileName)); err == nil {
			roots = append(roots, e.Name())
		}
	}
	return roots, nil
}

// Delete removes a root directory and everything under it.
func Delete(dir string) error {
	return os.RemoveAll(dir)
}
