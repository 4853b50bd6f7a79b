package index_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nojaja/gitvfs/index"
	"github.com/stretchr/testify/require"
)

func TestPathsAreSorted(t *testing.T) {
	idx := index.New()
	for _, p := range []string{"z.txt", "a.txt", "m/b.txt"} {
		idx.Put(&index.Entry{Path: p, State: index.Base, BaseSha: "x", UpdatedAt: time.Now()})
	}
	require.Equal(t, []string{"a.txt", "m/b.txt", "z.txt"}, idx.Paths())
}

func TestMergeReplacesEntryWithNewState(t *testing.T) {
	e := &index.Entry{Path: "a", State: index.Base, BaseSha: "base1", UpdatedAt: time.Now()}
	err := e.Merge(index.Entry{Path: "a", State: index.Modified, BaseSha: "base1", WorkspaceSha: "ws1", UpdatedAt: time.Now()})
	require.NoError(t, err)
	require.Equal(t, index.Modified, e.State)
	require.Equal(t, "base1", e.BaseSha)
	require.Equal(t, "ws1", e.WorkspaceSha)
}

func TestMergeClearsFieldsNotSetOnPatch(t *testing.T) {
	e := &index.Entry{Path: "a", State: index.Modified, BaseSha: "base1", WorkspaceSha: "ws1", UpdatedAt: time.Now()}
	err := e.Merge(index.Entry{Path: "a", State: index.Base, BaseSha: "base1", UpdatedAt: time.Now()})
	require.NoError(t, err)
	require.Equal(t, index.Base, e.State)
	require.Equal(t, "", e.WorkspaceSha)
}

func TestMergeRejectsInvalidState(t *testing.T) {
	e := &index.Entry{Path: "a", State: index.Base}
	err := e.Merge(index.Entry{State: index.State("bogus")})
	require.Error(t, err)
}

func TestRoundTripJSON(t *testing.T) {
	idx := index.New()
	idx.Head = "deadbeef"
	idx.Put(&index.Entry{Path: "a.txt", State: index.Added, WorkspaceSha: "sha1", UpdatedAt: time.Now()})

	data, err := json.Marshal(idx)
	require.NoError(t, err)

	restored := index.New()
	require.NoError(t, json.Unmarshal(data, restored))
	require.Equal(t, "deadbeef", restored.Head)
	e, ok := restored.Get("a.txt")
	require.True(t, ok)
	require.Equal(t, index.Added, e.State)
}
