package memory_test

import (
	"testing"
	"time"

	"github.com/nojaja/gitvfs/index"
	"github.com/nojaja/gitvfs/storage"
	"github.com/nojaja/gitvfs/storage/memory"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	s := memory.NewStorage()
	require.NoError(t, s.Init())

	info := index.Entry{State: index.Added, WorkspaceSha: "sha1", UpdatedAt: time.Now()}
	require.NoError(t, s.WriteBlob("a.txt", []byte("hello"), storage.Workspace, info))

	b, err := s.ReadBlob("a.txt", "")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), b)

	files, err := s.ListFiles("", storage.Workspace, true)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "a.txt", files[0].Path)
	require.Equal(t, index.Added, files[0].Info.State)
}

func TestReadBlobNotFound(t *testing.T) {
	s := memory.NewStorage()
	require.NoError(t, s.Init())
	_, err := s.ReadBlob("missing.txt", "")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteBlobAllSegments(t *testing.T) {
	s := memory.NewStorage()
	require.NoError(t, s.Init())
	require.NoError(t, s.WriteBlob("a.txt", []byte("x"), storage.Workspace, index.Entry{State: index.Added}))
	require.NoError(t, s.DeleteBlob("a.txt", ""))
	_, err := s.ReadBlob("a.txt", "")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIndexPersistence(t *testing.T) {
	s := memory.NewStorage()
	require.NoError(t, s.Init())

	idx, err := s.ReadIndex()
	require.NoError(t, err)
	idx.Head = "abc123"
	require.NoError(t, s.WriteIndex(idx))

	reloaded, err := s.ReadIndex()
	require.NoError(t, err)
	require.Equal(t, "abc123", reloaded.Head)
}
