package github_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nojaja/gitvfs/remote"
	"github.com/nojaja/gitvfs/remote/github"
	"github.com/stretchr/testify/require"
)

func TestFetchSnapshotWalksRefCommitTreeAndBlobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "token test-token", r.Header.Get("Authorization"))
		switch {
		case r.URL.Path == "/repos/acme/widgets/git/ref/heads/main":
			fmt.Fprint(w, `{"object":{"sha":"commit1"}}`)
		case r.URL.Path == "/repos/acme/widgets/git/commits/commit1":
			fmt.Fprint(w, `{"tree":{"sha":"tree1"}}`)
		case r.URL.Path == "/repos/acme/widgets/git/trees/tree1":
			fmt.Fprint(w, `{"tree":[{"path":"a.txt","type":"blob","sha":"blob1"},{"path":"dir","type":"tree","sha":"treeX"}]}`)
		case r.URL.Path == "/repos/acme/widgets/git/blobs/blob1":
			fmt.Fprint(w, `{"content":"aGVsbG8=","encoding":"base64"}`)
		default:
			t.Fatalf("unexpected request: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	a := github.New("acme", "widgets", "test-token", github.WithAPIBase(srv.URL), github.WithBranch("main"))
	snap, err := a.FetchSnapshot(context.Background(), "main")
	require.NoError(t, err)
	require.Equal(t, "commit1", snap.Head)
	require.Equal(t, []byte("hello"), snap.Files["a.txt"])
	require.Len(t, snap.Files, 1)
}

func TestFetchSnapshotCachesRepeatedBlobRequests(t *testing.T) {
	blobHits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/acme/widgets/git/ref/heads/main":
			fmt.Fprint(w, `{"object":{"sha":"commit1"}}`)
		case r.URL.Path == "/repos/acme/widgets/git/commits/commit1":
			fmt.Fprint(w, `{"tree":{"sha":"tree1"}}`)
		case r.URL.Path == "/repos/acme/widgets/git/trees/tree1":
			fmt.Fprint(w, `{"tree":[{"path":"a.txt","type":"blob","sha":"blob1"},{"path":"b.txt","type":"blob","sha":"blob1"}]}`)
		case r.URL.Path == "/repos/acme/widgets/git/blobs/blob1":
			blobHits++
			fmt.Fprint(w, `{"content":"aGVsbG8=","encoding":"base64"}`)
		default:
			t.Fatalf("unexpected request: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	a := github.New("acme", "widgets", "t", github.WithAPIBase(srv.URL))
	snap, err := a.FetchSnapshot(context.Background(), "main")
	require.NoError(t, err)
	require.Len(t, snap.Files, 2)
	require.Equal(t, 1, blobHits, "identical blob sha across two paths should hit the cache on the second lookup")
}

func TestCreateCommitWithActionsBuildsTreeAndAdvancesRef(t *testing.T) {
	var gotTreeReq struct {
		BaseTree string `json:"base_tree"`
		Tree     []struct {
			Path string  `json:"path"`
			SHA  *string `json:"sha"`
		} `json:"tree"`
	}
	var refUpdated bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/acme/widgets/git/ref/heads/main" && r.Method == http.MethodGet:
			fmt.Fprint(w, `{"object":{"sha":"parent1"}}`)
		case r.URL.Path == "/repos/acme/widgets/git/commits/parent1":
			fmt.Fprint(w, `{"tree":{"sha":"basetree1"}}`)
		case r.URL.Path == "/repos/acme/widgets/git/blobs" && r.Method == http.MethodPost:
			fmt.Fprint(w, `{"sha":"newblob1"}`)
		case r.URL.Path == "/repos/acme/widgets/git/trees" && r.Method == http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotTreeReq))
			fmt.Fprint(w, `{"sha":"newtree1"}`)
		case r.URL.Path == "/repos/acme/widgets/git/commits" && r.Method == http.MethodPost:
			fmt.Fprint(w, `{"sha":"newcommit1"}`)
		case r.URL.Path == "/repos/acme/widgets/git/refs/heads/main" && r.Method == http.MethodPatch:
			refUpdated = true
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	a := github.New("acme", "widgets", "t", github.WithAPIBase(srv.URL), github.WithBranch("main"))
	sha, err := a.CreateCommitWithActions(context.Background(), "main", "msg", []remote.Action{
		{Kind: remote.Create, Path: "a.txt", Content: []byte("hi")},
	})
	require.NoError(t, err)
	require.Equal(t, "newcommit1", sha)
	require.True(t, refUpdated)
	require.Equal(t, "basetree1", gotTreeReq.BaseTree)
	require.Len(t, gotTreeReq.Tree, 1)
	require.Equal(t, "a.txt", gotTreeReq.Tree[0].Path)
	require.Equal(t, "newblob1", *gotTreeReq.Tree[0].SHA)
}

func TestFetchSnapshotRetriesTransientRefFailure(t *testing.T) {
	refAttempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/acme/widgets/git/ref/heads/main":
			refAttempts++
			if refAttempts < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			fmt.Fprint(w, `{"object":{"sha":"commit1"}}`)
		case r.URL.Path == "/repos/acme/widgets/git/commits/commit1":
			fmt.Fprint(w, `{"tree":{"sha":"tree1"}}`)
		case r.URL.Path == "/repos/acme/widgets/git/trees/tree1":
			fmt.Fprint(w, `{"tree":[]}`)
		default:
			t.Fatalf("unexpected request: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	a := github.New("acme", "widgets", "t", github.WithAPIBase(srv.URL))
	snap, err := a.FetchSnapshot(context.Background(), "main")
	require.NoError(t, err)
	require.Equal(t, "commit1", snap.Head)
	require.Equal(t, 3, refAttempts)
}

func TestFetchSnapshotTerminalErrorIsNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := github.New("acme", "widgets", "t", github.WithAPIBase(srv.URL))
	_, err := a.FetchSnapshot(context.Background(), "main")
	require.Error(t, err)
	require.ErrorIs(t, err, remote.ErrNonRetryableRemote)
	require.Equal(t, 1, attempts)
}
