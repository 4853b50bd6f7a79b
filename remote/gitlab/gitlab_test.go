package gitlab_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nojaja/gitvfs/remote"
	"github.com/nojaja/gitvfs/remote/gitlab"
	"github.com/stretchr/testify/require"
)

func TestFetchSnapshotWalksBranchTreeAndRawFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-token", r.Header.Get("PRIVATE-TOKEN"))
		switch {
		case r.URL.EscapedPath() == "/api/v4/projects/acme%2Fwidgets/repository/branches/main":
			fmt.Fprint(w, `{"commit":{"id":"commit1"}}`)
		case r.URL.EscapedPath() == "/api/v4/projects/acme%2Fwidgets/repository/tree":
			fmt.Fprint(w, `[{"path":"a.txt","type":"blob"},{"path":"dir","type":"tree"}]`)
		case r.URL.EscapedPath() == "/api/v4/projects/acme%2Fwidgets/repository/files/a.txt/raw":
			fmt.Fprint(w, "hello")
		default:
			t.Fatalf("unexpected request: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	a := gitlab.New("acme%2Fwidgets", "test-token", gitlab.WithHost(srv.URL), gitlab.WithBranch("main"))
	snap, err := a.FetchSnapshot(context.Background(), "main")
	require.NoError(t, err)
	require.Equal(t, "commit1", snap.Head)
	require.Equal(t, []byte("hello"), snap.Files["a.txt"])
	require.Len(t, snap.Files, 1)
}

func TestCreateCommitWithActionsPostsActionsAndRebuildsBodyOnRetry(t *testing.T) {
	attempts := 0
	var decoded struct {
		Branch        string `json:"branch"`
		CommitMessage string `json:"commit_message"`
		Actions       []struct {
			Action   string `json:"action"`
			FilePath string `json:"file_path"`
			Content  string `json:"content"`
		} `json:"actions"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&decoded))
		fmt.Fprint(w, `{"id":"commit2"}`)
	}))
	defer srv.Close()

	a := gitlab.New("acme%2Fwidgets", "t", gitlab.WithHost(srv.URL))
	sha, err := a.CreateCommitWithActions(context.Background(), "main", "msg", []remote.Action{
		{Kind: remote.Create, Path: "a.txt", Content: []byte("hi")},
		{Kind: remote.Delete, Path: "old.txt"},
	})
	require.NoError(t, err)
	require.Equal(t, "commit2", sha)
	require.Equal(t, 2, attempts)
	require.Len(t, decoded.Actions, 2)
	require.Equal(t, "create", decoded.Actions[0].Action)
	require.Equal(t, "hi", decoded.Actions[0].Content)
	require.Equal(t, "delete", decoded.Actions[1].Action)
}

func TestFetchSnapshotCachesRawFileByHead(t *testing.T) {
	rawHits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.EscapedPath() == "/api/v4/projects/acme%2Fwidgets/repository/branches/main":
			fmt.Fprint(w, `{"commit":{"id":"commit1"}}`)
		case r.URL.EscapedPath() == "/api/v4/projects/acme%2Fwidgets/repository/tree":
			fmt.Fprint(w, `[{"path":"a.txt","type":"blob"}]`)
		case r.URL.EscapedPath() == "/api/v4/projects/acme%2Fwidgets/repository/files/a.txt/raw":
			rawHits++
			fmt.Fprint(w, "hello")
		default:
			t.Fatalf("unexpected request: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	a := gitlab.New("acme%2Fwidgets", "t", gitlab.WithHost(srv.URL), gitlab.WithBranch("main"))
	_, err := a.FetchSnapshot(context.Background(), "main")
	require.NoError(t, err)
	_, err = a.FetchSnapshot(context.Background(), "main")
	require.NoError(t, err)
	require.Equal(t, 1, rawHits, "second fetch at the same head should hit the blob cache")
}
