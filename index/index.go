// Package index maintains the in-memory projection of per-path entries that
// the VFS core reconciles against workspace edits and remote snapshots.
package index

import (
	"encoding/json"
	"fmt"
	"time"

	"dario.cat/mergo"
	"github.com/emirpasic/gods/maps/treemap"
)

// State is the closed set of lifecycle states an Entry can occupy.
type State string

const (
	Base     State = "base"
	Added    State = "added"
	Modified State = "modified"
	Deleted  State = "deleted"
	Conflict State = "conflict"
)

// Valid reports whether s is one of the five legal states.
func (s State) Valid() bool {
	switch s {
	case Base, Added, Modified, Deleted, Conflict:
		return true
	default:
		return false
	}
}

// Entry is the per-path metadata record described by the data model.
type Entry struct {
	Path         string    `json:"path"`
	State        State     `json:"state"`
	BaseSha      string    `json:"baseSha,omitempty"`
	WorkspaceSha string    `json:"workspaceSha,omitempty"`
	RemoteSha    string    `json:"remoteSha,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Merge replaces e's fields with patch's, including zero values, per the
// "compose-merge with the existing info record" rule of the storage
// backend's writeBlob contract: callers always pass the complete new state
// of an entry (e.g. a promotion to state=base clears workspaceSha), so the
// merge is a full overwrite keyed by path rather than a sparse patch.
func (e *Entry) Merge(patch Entry) error {
	if patch.State != "" && !patch.State.Valid() {
		return fmt.Errorf("index: invalid state %q", patch.State)
	}
	if err := mergo.Merge(e, patch, mergo.WithOverride, mergo.WithOverwriteWithEmptyValue); err != nil {
		return fmt.Errorf("index: merge entry %s: %w", patch.Path, err)
	}
	return nil
}

// Index is the aggregate `{head, lastCommitKey?, entries}` value the VFS
// core owns. Entries are kept in a path-sorted tree map so that iteration
// order already satisfies the lexicographic ordering getChangeSet requires.
type Index struct {
	Head          string
	LastCommitKey string

	entries *treemap.Map // string -> *Entry
}

// New returns an empty index with no recorded head.
func New() *Index {
	return &Index{entries: treemap.NewWithStringComparator()}
}

// Get returns the entry at path, if any.
func (idx *Index) Get(path string) (*Entry, bool) {
	v, found := idx.entries.Get(path)
	if !found {
		return nil, false
	}
	return v.(*Entry), true
}

// Put inserts or replaces the entry at path.
func (idx *Index) Put(e *Entry) {
	idx.entries.Put(e.Path, e)
}

// Delete removes the entry at path entirely.
func (idx *Index) Delete(path string) {
	idx.entries.Remove(path)
}

// Paths returns all tracked paths in sorted order, tombstones included.
func (idx *Index) Paths() []string {
	keys := idx.entries.Keys()
	paths := make([]string, 0, len(keys))
	for _, k := range keys {
		paths = append(paths, k.(string))
	}
	return paths
}

// Len returns the number of tracked entries, tombstones included.
func (idx *Index) Len() int {
	return idx.entries.Size()
}

// Each visits every entry in path order.
func (idx *Index) Each(fn func(*Entry)) {
	idx.entries.Each(func(_ interface{}, v interface{}) {
		fn(v.(*Entry))
	})
}

// fileForm is the on-wire JSON shape of an Index.
type fileForm struct {
	Head          string            `json:"head"`
	LastCommitKey string            `json:"lastCommitKey,omitempty"`
	Entries       map[string]*Entry `json:"entries"`
}

// MarshalJSON serializes the index to the `{head, lastCommitKey?, entries}`
// shape described by the data model.
func (idx *Index) MarshalJSON() ([]byte, error) {
	f := fileForm{Head: idx.Head, LastCommitKey: idx.LastCommitKey, Entries: map[string]*Entry{}}
	idx.Each(func(e *Entry) { f.Entries[e.Path] = e })
	return json.Marshal(f)
}

// UnmarshalJSON restores an index from its on-wire shape.
func (idx *Index) UnmarshalJSON(data []byte) error {
	var f fileForm
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	idx.Head = f.Head
	idx.LastCommitKey = f.LastCommitKey
	idx.entries = treemap.NewWithStringComparator()
	for path, e := range f.Entries {
		e.Path = path
		idx.entries.Put(path, e)
	}
	return nil
}
