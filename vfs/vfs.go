// Package vfs implements the client-side virtual filesystem state machine:
// the pull (three-way reconciliation), push (change-set commit), and the
// write/delete/rename operations that maintain the index invariants.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/nojaja/gitvfs/hash"
	"github.com/nojaja/gitvfs/index"
	"github.com/nojaja/gitvfs/remote"
	"github.com/nojaja/gitvfs/storage"
)

// Sentinel errors for the cases the caller must branch on.
var (
	ErrHeadMismatch        = errors.New("vfs: push parentSha does not match current head")
	ErrUnresolvedConflicts = errors.New("vfs: push attempted while conflicts remain unresolved")
	ErrSourceNotFound      = errors.New("vfs: rename source does not exist")
)

// StorageError wraps a backend I/O error so callers can tell a storage
// failure apart from a logic error with errors.As.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("vfs: storage failure during %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// nowFunc is overridable in tests; defaults to the wall clock.
var nowFunc = time.Now

// VFS is a single tracked root: one backend, one remote adapter, one
// branch, exclusive to this instance. Two VFS instances must not share a
// backend root. Callers must serialize calls into a given VFS; it performs
// no internal locking.
type VFS struct {
	backend storage.Backend
	adapter remote.Adapter
	branch  string

	idx *index.Index
}

// New wires a VFS instance to its backend and remote adapter. Call Init
// before any other method.
func New(backend storage.Backend, adapter remote.Adapter, branch string) *VFS {
	return &VFS{backend: backend, adapter: adapter, branch: branch}
}

// Init initializes the backend and loads the index, resetting to an empty
// index if none is persisted yet or the persisted one fails to parse. It
// performs no remote traffic.
func (v *VFS) Init() error {
	if err := v.backend.Init(); err != nil {
		return wrapStorage("init", err)
	}
	idx, err := v.backend.ReadIndex()
	if err != nil {
		slog.Warn("gitvfs: index unreadable, resetting", "error", err)
		idx = index.New()
	}
	v.idx = idx
	return nil
}

// Head returns the remote commit id the base segment currently reflects.
func (v *VFS) Head() string { return v.idx.Head }

// WriteFile implements §4.4.2: computing the new workspace state for path
// and transitioning its index entry accordingly.
func (v *VFS) WriteFile(path string, content []byte) error {
	sha := hash.Sum(content)
	now := nowFunc()
	e, exists := v.idx.Get(path)

	switch {
	case !exists:
		if err := v.backend.WriteBlob(path, content, storage.Workspace, index.Entry{
			Path: path, State: index.Added, WorkspaceSha: sha, UpdatedAt: now,
		}); err != nil {
			return wrapStorage("writeFile", err)
		}
		v.idx.Put(&index.Entry{Path: path, State: index.Added, WorkspaceSha: sha, UpdatedAt: now})

	case e.State == index.Base:
		if sha == e.BaseSha {
			return nil // no-op: identical to base, do not dirty
		}
		if err := v.backend.WriteBlob(path, content, storage.Workspace, index.Entry{
			Path: path, State: index.Modified, BaseSha: e.BaseSha, WorkspaceSha: sha, UpdatedAt: now,
		}); err != nil {
			return wrapStorage("writeFile", err)
		}
		e.State, e.WorkspaceSha, e.UpdatedAt = index.Modified, sha, now

	case e.State == index.Added || e.State == index.Modified:
		newState := index.Modified
		if e.State == index.Added {
			newState = index.Added
		}
		if e.BaseSha != "" && sha == e.BaseSha {
			// Reverts to the pre-edit content: collapse back to base.
			if err := v.backend.DeleteBlob(path, storage.Workspace); err != nil {
				return wrapStorage("writeFile", err)
			}
			e.State, e.WorkspaceSha, e.UpdatedAt = index.Base, "", now
			v.idx.Put(e)
			return v.persistIndex()
		}
		if err := v.backend.WriteBlob(path, content, storage.Workspace, index.Entry{
			Path: path, State: newState, BaseSha: e.BaseSha, WorkspaceSha: sha, UpdatedAt: now,
		}); err != nil {
			return wrapStorage("writeFile", err)
		}
		e.State, e.WorkspaceSha, e.UpdatedAt = newState, sha, now

	case e.State == index.Deleted:
		if err := v.backend.WriteBlob(path, content, storage.Workspace, index.Entry{
			Path: path, State: index.Modified, BaseSha: e.BaseSha, WorkspaceSha: sha, UpdatedAt: now,
		}); err != nil {
			return wrapStorage("writeFile", err)
		}
		e.State, e.WorkspaceSha, e.UpdatedAt = index.Modified, sha, now

	case e.State == index.Conflict:
		// Any write while conflicted is a resolution: accepting the remote
		// side or the pre-conflict base collapses back to base with nothing
		// left to push; anything else is a new local resolution to push.
		switch sha {
		case e.RemoteSha:
			// The base segment still holds the pre-conflict bytes; accepting
			// the remote side means base must now hold what was written here,
			// not just have its baseSha field relabeled.
			if err := v.backend.WriteBlob(path, content, storage.Base, index.Entry{
				Path: path, State: index.Base, BaseSha: e.RemoteSha, UpdatedAt: now,
			}); err != nil {
				return wrapStorage("writeFile", err)
			}
			if err := v.backend.DeleteBlob(path, storage.Workspace); err != nil {
				return wrapStorage("writeFile", err)
			}
			if err := v.backend.DeleteBlob(path, storage.ConflictSeg); err != nil {
				return wrapStorage("writeFile", err)
			}
			e.State, e.BaseSha, e.WorkspaceSha, e.RemoteSha, e.UpdatedAt = index.Base, sha, "", "", now
		case e.BaseSha:
			if err := v.backend.DeleteBlob(path, storage.Workspace); err != nil {
				return wrapStorage("writeFile", err)
			}
			if err := v.backend.DeleteBlob(path, storage.ConflictSeg); err != nil {
				return wrapStorage("writeFile", err)
			}
			e.State, e.WorkspaceSha, e.RemoteSha, e.UpdatedAt = index.Base, "", "", now
		default:
			if err := v.backend.WriteBlob(path, content, storage.Workspace, index.Entry{
				Path: path, State: index.Modified, BaseSha: e.BaseSha, WorkspaceSha: sha, UpdatedAt: now,
			}); err != nil {
				return wrapStorage("writeFile", err)
			}
			if err := v.backend.DeleteBlob(path, storage.ConflictSeg); err != nil {
				return wrapStorage("writeFile", err)
			}
			e.State, e.WorkspaceSha, e.RemoteSha, e.UpdatedAt = index.Modified, sha, "", now
		}
	}

	v.idx.Put(e)
	return v.persistIndex()
}

// DeleteFile implements §4.4.3.
func (v *VFS) DeleteFile(p string) error {
	e, exists := v.idx.Get(p)
	if !exists {
		return nil
	}

	now := nowFunc()
	switch e.State {
	case index.Base, index.Modified, index.Conflict:
		if err := v.backend.DeleteBlob(p, storage.Workspace); err != nil {
			return wrapStorage("deleteFile", err)
		}
		if err := v.backend.DeleteBlob(p, storage.ConflictSeg); err != nil {
			return wrapStorage("deleteFile", err)
		}
		tombstone := index.Entry{Path: p, State: index.Deleted, BaseSha: e.BaseSha, UpdatedAt: now}
		v.idx.Put(&tombstone)

	case index.Added:
		if err := v.backend.DeleteBlob(p, storage.Workspace); err != nil {
			return wrapStorage("deleteFile", err)
		}
		v.idx.Delete(p)

	case index.Deleted:
		return nil
	}
	return v.persistIndex()
}

// RenameWorkspace implements §4.4.4: a rename is exactly one create at to
// and one delete at from, expressed atomically with respect to the
// change-set view.
func (v *VFS) RenameWorkspace(from, to string) error {
	content, err := v.readEffective(from)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrSourceNotFound
		}
		return wrapStorage("renameWorkspace", err)
	}
	if err := v.WriteFile(to, content); err != nil {
		return err
	}
	return v.DeleteFile(from)
}

func (v *VFS) readEffective(p string) ([]byte, error) {
	return v.backend.ReadBlob(p, "")
}

// ApplyBaseSnapshot implements §4.4.5, used both by Pull and as a standalone
// primitive (e.g. seeding a fresh root from a known-good snapshot without a
// three-way reconciliation).
func (v *VFS) ApplyBaseSnapshot(snapshot map[string][]byte, head string) error {
	now := nowFunc()

	for p, content := range snapshot {
		sha := hash.Sum(content)
		if err := v.backend.WriteBlob(p, content, storage.Base, index.Entry{
			Path: p, State: index.Base, BaseSha: sha, UpdatedAt: now,
		}); err != nil {
			return wrapStorage("applyBaseSnapshot", err)
		}
		e, exists := v.idx.Get(p)
		if !exists {
			e = &index.Entry{Path: p}
		}
		e.Path, e.State, e.BaseSha, e.UpdatedAt = p, index.Base, sha, now
		v.idx.Put(e)
	}

	var dropErrs error
	for _, p := range v.idx.Paths() {
		e, _ := v.idx.Get(p)
		if e.BaseSha == "" {
			continue
		}
		if _, stillPresent := snapshot[p]; stillPresent {
			continue
		}
		if err := v.backend.DeleteBlob(p, storage.Base); err != nil {
			dropErrs = multierr.Append(dropErrs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		if e.WorkspaceSha == "" {
			v.idx.Delete(p)
		}
	}
	if dropErrs != nil {
		slog.Warn("gitvfs: applyBaseSnapshot: some stale base blobs could not be dropped", "error", dropErrs)
	}

	v.idx.Head = head
	return v.persistIndex()
}

// PullResult is returned by Pull and PullSnapshot.
type PullResult struct {
	FetchedPaths []string
	Conflicts    []Conflict
}

// Conflict describes one path where local and remote diverged.
type Conflict struct {
	Path      string
	RemoteSha string
}

// Pull fetches the current branch snapshot from the remote adapter and
// reconciles it against the local index.
func (v *VFS) Pull(ctx context.Context) (*PullResult, error) {
	snap, err := v.adapter.FetchSnapshot(ctx, v.branch)
	if err != nil {
		return nil, err
	}
	return v.PullSnapshot(snap.Head, snap.Files)
}

// PullSnapshot is the pure reconciliation core described in §4.4.6: a
// three-way merge of the local index against a precomputed remote
// snapshot, with no network access of its own. It is exercised directly by
// tests and by callers that already hold snapshot data.
func (v *VFS) PullSnapshot(remoteHead string, remoteSnapshot map[string][]byte) (*PullResult, error) {
	now := nowFunc()
	result := &PullResult{}

	paths := map[string]struct{}{}
	for _, p := range v.idx.Paths() {
		paths[p] = struct{}{}
	}
	for p := range remoteSnapshot {
		paths[p] = struct{}{}
	}

	var persistErrs error
	for p := range paths {
		remoteContent, inRemote := remoteSnapshot[p]
		e, exists := v.idx.Get(p)

		switch {
		case !exists && inRemote:
			sha := hash.Sum(remoteContent)
			if err := v.writeBase(p, remoteContent, sha, now); err != nil {
				persistErrs = multierr.Append(persistErrs, err)
				continue
			}
			result.FetchedPaths = append(result.FetchedPaths, p)

		case exists && e.State == index.Base && inRemote:
			sha := hash.Sum(remoteContent)
			if sha != e.BaseSha {
				if err := v.writeBase(p, remoteContent, sha, now); err != nil {
					persistErrs = multierr.Append(persistErrs, err)
					continue
				}
				result.FetchedPaths = append(result.FetchedPaths, p)
			}

		case exists && e.State == index.Modified && inRemote:
			remoteSha := hash.Sum(remoteContent)
			if remoteSha == e.WorkspaceSha {
				v.promoteWorkspaceToBase(e, now)
			} else if err := v.markConflict(e, remoteContent, remoteSha, now); err != nil {
				persistErrs = multierr.Append(persistErrs, err)
			} else {
				result.Conflicts = append(result.Conflicts, Conflict{Path: p, RemoteSha: remoteSha})
			}

		case exists && e.State == index.Added && inRemote:
			remoteSha := hash.Sum(remoteContent)
			if remoteSha == e.WorkspaceSha {
				v.promoteWorkspaceToBase(e, now)
			} else if err := v.markConflict(e, remoteContent, remoteSha, now); err != nil {
				persistErrs = multierr.Append(persistErrs, err)
			} else {
				result.Conflicts = append(result.Conflicts, Conflict{Path: p, RemoteSha: remoteSha})
			}

		case exists && e.State == index.Conflict && inRemote:
			remoteSha := hash.Sum(remoteContent)
			if remoteSha == e.WorkspaceSha {
				v.promoteWorkspaceToBase(e, now)
			} else if err := v.markConflict(e, remoteContent, remoteSha, now); err != nil {
				persistErrs = multierr.Append(persistErrs, err)
			} else {
				result.Conflicts = append(result.Conflicts, Conflict{Path: p, RemoteSha: remoteSha})
			}

		case exists && e.State == index.Deleted && !inRemote:
			v.idx.Delete(p)

		case exists && e.State == index.Deleted && inRemote:
			remoteSha := hash.Sum(remoteContent)
			if err := v.markConflict(e, remoteContent, remoteSha, now); err != nil {
				persistErrs = multierr.Append(persistErrs, err)
			} else {
				result.Conflicts = append(result.Conflicts, Conflict{Path: p, RemoteSha: remoteSha})
			}

		case exists && e.State == index.Base && !inRemote:
			if err := v.backend.DeleteBlob(p, storage.Base); err != nil {
				persistErrs = multierr.Append(persistErrs, fmt.Errorf("%s: %w", p, err))
				continue
			}
			v.idx.Delete(p)

		case exists && e.State == index.Modified && !inRemote:
			e.State, e.RemoteSha, e.UpdatedAt = index.Conflict, "", now
			v.idx.Put(e)
			result.Conflicts = append(result.Conflicts, Conflict{Path: p, RemoteSha: ""})

		case exists && e.State == index.Added && !inRemote:
			// keep as-is: local addition the remote never saw.
		}
	}

	if persistErrs != nil {
		slog.Warn("gitvfs: pull: some paths could not be reconciled, continuing", "error", persistErrs)
	}

	v.idx.Head = remoteHead
	if err := v.persistIndex(); err != nil {
		return nil, err
	}
	return result, nil
}

func (v *VFS) writeBase(p string, content []byte, sha string, now time.Time) error {
	if err := v.backend.WriteBlob(p, content, storage.Base, index.Entry{
		Path: p, State: index.Base, BaseSha: sha, UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	e, exists := v.idx.Get(p)
	if !exists {
		e = &index.Entry{}
	}
	e.Path, e.State, e.BaseSha, e.WorkspaceSha, e.UpdatedAt = p, index.Base, sha, "", now
	v.idx.Put(e)
	return nil
}

func (v *VFS) promoteWorkspaceToBase(e *index.Entry, now time.Time) {
	// Captured before WriteBlob: a backend may merge the info patch into
	// this same entry and clear WorkspaceSha.
	wsSha := e.WorkspaceSha
	content, err := v.backend.ReadBlob(e.Path, storage.Workspace)
	if err == nil {
		_ = v.backend.WriteBlob(e.Path, content, storage.Base, index.Entry{
			Path: e.Path, State: index.Base, BaseSha: wsSha, UpdatedAt: now,
		})
	}
	_ = v.backend.DeleteBlob(e.Path, storage.Workspace)
	_ = v.backend.DeleteBlob(e.Path, storage.ConflictSeg)
	e.State, e.BaseSha, e.WorkspaceSha, e.RemoteSha, e.UpdatedAt = index.Base, wsSha, "", "", now
	v.idx.Put(e)
}

// markConflict persists the remote bytes to the conflict segment and moves e
// to the Conflict state. A backend error is logged and returned, leaving e
// unchanged; PullSnapshot collects such errors and logs them instead of
// aborting the whole pull.
func (v *VFS) markConflict(e *index.Entry, remoteContent []byte, remoteSha string, now time.Time) error {
	if err := v.backend.WriteBlob(e.Path, remoteContent, storage.ConflictSeg, index.Entry{
		Path: e.Path, State: index.Conflict, BaseSha: e.BaseSha, WorkspaceSha: e.WorkspaceSha, RemoteSha: remoteSha, UpdatedAt: now,
	}); err != nil {
		slog.Warn("gitvfs: persistRemoteContentAsConflict failed", "path", e.Path, "error", err)
		return fmt.Errorf("%s: %w", e.Path, err)
	}
	e.State, e.RemoteSha, e.UpdatedAt = index.Conflict, remoteSha, now
	v.idx.Put(e)
	return nil
}

// PushOptions configures a Push call.
type PushOptions struct {
	Message   string
	ParentSha string
	// Changes overrides the computed change set, primarily for tests.
	Changes []remote.Action
}

// PushResult is returned by Push.
type PushResult struct {
	Noop      bool
	CommitSha string
}

// Push implements §4.4.7.
func (v *VFS) Push(ctx context.Context, opts PushOptions) (*PushResult, error) {
	if opts.ParentSha != v.idx.Head {
		return nil, ErrHeadMismatch
	}

	conflict := false
	v.idx.Each(func(e *index.Entry) {
		if e.State == index.Conflict {
			conflict = true
		}
	})
	if conflict {
		return nil, ErrUnresolvedConflicts
	}

	changes := opts.Changes
	if changes == nil {
		changes = v.GetChangeSet()
	}
	if len(changes) == 0 {
		return &PushResult{Noop: true, CommitSha: opts.ParentSha}, nil
	}

	commitSha, err := v.adapter.CreateCommitWithActions(ctx, v.branch, opts.Message, changes)
	if err != nil {
		return nil, err
	}

	now := nowFunc()
	for _, change := range changes {
		switch change.Kind {
		case remote.Create, remote.Update:
			content, err := v.backend.ReadBlob(change.Path, storage.Workspace)
			if err != nil {
				return nil, wrapStorage("push", err)
			}
			sha := hash.Sum(content)
			if err := v.backend.WriteBlob(change.Path, content, storage.Base, index.Entry{
				Path: change.Path, State: index.Base, BaseSha: sha, UpdatedAt: now,
			}); err != nil {
				return nil, wrapStorage("push", err)
			}
			if err := v.backend.DeleteBlob(change.Path, storage.Workspace); err != nil {
				return nil, wrapStorage("push", err)
			}
			v.idx.Put(&index.Entry{Path: change.Path, State: index.Base, BaseSha: sha, UpdatedAt: now})

		case remote.Delete:
			if err := v.backend.DeleteBlob(change.Path, ""); err != nil {
				return nil, wrapStorage("push", err)
			}
			v.idx.Delete(change.Path)
		}
	}

	v.idx.Head = commitSha
	if err := v.adapter.UpdateRef(ctx, v.branch, commitSha); err != nil {
		slog.Warn("gitvfs: push: updateRef failed, commit API may have advanced it already", "error", err)
	}

	if err := v.persistIndex(); err != nil {
		return nil, err
	}
	return &PushResult{CommitSha: commitSha}, nil
}

// GetChangeSet implements §4.4.8: a projection of the index into the list of
// actions a push would apply. It writes nothing, but Create and Update
// actions carry the workspace bytes read from the backend, and an entry whose
// workspace blob cannot be read is left out. Actions are sorted
// lexicographically by path
// (deletes ahead of creates/updates only insofar as that's the tiebreak on
// a repeated path, which the index's one-entry-per-path invariant means
// never actually happens within a single change set).
func (v *VFS) GetChangeSet() []remote.Action {
	// index.Index.Each already walks paths in lexicographic order (it's
	// backed by a treemap), and a path carries exactly one entry, so a
	// single pass in that order already satisfies "sorted by path, delete
	// before create/update on a same-path tie" — there is no same-path tie
	// to break here, just the ordering itself.
	var changes []remote.Action
	v.idx.Each(func(e *index.Entry) {
		switch e.State {
		case index.Added:
			content, err := v.backend.ReadBlob(e.Path, storage.Workspace)
			if err != nil {
				return
			}
			changes = append(changes, remote.Action{Kind: remote.Create, Path: e.Path, Content: content})
		case index.Modified:
			content, err := v.backend.ReadBlob(e.Path, storage.Workspace)
			if err != nil {
				return
			}
			changes = append(changes, remote.Action{Kind: remote.Update, Path: e.Path, Content: content})
		case index.Deleted:
			changes = append(changes, remote.Action{Kind: remote.Delete, Path: e.Path})
		}
	})
	return changes
}

// ListPaths implements §4.4.9: every path currently visible, tombstones
// hidden, in sorted order (per index.Index's ordering).
func (v *VFS) ListPaths() []string {
	var out []string
	v.idx.Each(func(e *index.Entry) {
		switch e.State {
		case index.Base, index.Added, index.Modified, index.Conflict:
			out = append(out, e.Path)
		}
	})
	return out
}

// StatusEntry is one path's current lifecycle state, for CLI/UI display.
type StatusEntry struct {
	Path  string
	State index.State
}

// Status returns every tracked path (tombstones included) with its current
// state, in sorted order.
func (v *VFS) Status() []StatusEntry {
	var out []StatusEntry
	v.idx.Each(func(e *index.Entry) {
		out = append(out, StatusEntry{Path: e.Path, State: e.State})
	})
	return out
}

// ReadFile returns workspace content if present, else base, else nil.
func (v *VFS) ReadFile(p string) ([]byte, error) {
	b, err := v.backend.ReadBlob(p, "")
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStorage("readFile", err)
	}
	return b, nil
}

// ReadWorkspace always reads through the backend's workspace segment, for
// test introspection.
func (v *VFS) ReadWorkspace(p string) ([]byte, error) {
	b, err := v.backend.ReadBlob(p, storage.Workspace)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStorage("readWorkspace", err)
	}
	return b, nil
}

func (v *VFS) persistIndex() error {
	if err := v.backend.WriteIndex(v.idx); err != nil {
		return wrapStorage("persistIndex", err)
	}
	return nil
}
