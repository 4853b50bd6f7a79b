// Package github implements remote.Adapter against the GitHub REST API,
// using the standard blob/tree/commit/ref endpoints with the
// "Authorization: token …" header, per spec.md §6.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/nojaja/gitvfs/remote"
	"github.com/nojaja/gitvfs/retry"
)

const defaultAPIBase = "https://api.github.com"

// Adapter is a remote.Adapter backed by a single GitHub repository.
type Adapter struct {
	client *http.Client
	base   string
	owner  string
	repo   string
	token  string
	branch string
	policy retry.Policy

	blobCache *lru.Cache // key: blob sha -> []byte
}

// Option configures an Adapter.
type Option func(*Adapter)

func WithAPIBase(base string) Option        { return func(a *Adapter) { a.base = base } }
func WithBranch(branch string) Option       { return func(a *Adapter) { a.branch = branch } }
func WithHTTPClient(c *http.Client) Option  { return func(a *Adapter) { a.client = c } }
func WithRetryPolicy(p retry.Policy) Option { return func(a *Adapter) { a.policy = p } }

// New returns a GitHub adapter for owner/repo, authenticated with token.
func New(owner, repo, token string, opts ...Option) *Adapter {
	a := &Adapter{
		client:    &http.Client{Timeout: 30 * time.Second},
		base:      defaultAPIBase,
		owner:     owner,
		repo:      repo,
		token:     token,
		branch:    "main",
		policy:    retry.DefaultPolicy(),
		blobCache: lru.New(1024),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) repoURL(pathAndQuery string) string {
	return fmt.Sprintf("%s/repos/%s/%s%s", a.base, a.owner, a.repo, pathAndQuery)
}

func (a *Adapter) newRequest(ctx context.Context, method, reqURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "token "+a.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (a *Adapter) do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error), out any) error {
	return retry.Do(ctx, a.policy, func(ctx context.Context) retry.Result {
		req, err := newReq(ctx)
		if err != nil {
			return retry.Result{Err: err}
		}
		resp, err := a.client.Do(req)
		if err != nil {
			return retry.Result{Err: err, Retryable: true}
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			httpErr := remote.NewHTTPError(resp.StatusCode, string(body))
			var retryAfter time.Duration
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if d, err := time.ParseDuration(ra + "s"); err == nil {
					retryAfter = d
				}
			}
			return retry.Result{Err: httpErr, Retryable: remote.Retryable(resp.StatusCode), RetryAfter: retryAfter}
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return retry.Result{Err: fmt.Errorf("%w: invalid JSON response: %v", remote.ErrNonRetryableRemote, err)}
			}
		}
		return retry.Result{}
	})
}

type refResponse struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type treeResponse struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
	} `json:"tree"`
}

type commitResponse struct {
	Tree struct {
		SHA string `json:"sha"`
	} `json:"tree"`
}

type blobResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// FetchSnapshot resolves branch's head commit, its tree (recursively), and
// every blob's content.
func (a *Adapter) FetchSnapshot(ctx context.Context, branch string) (*remote.Snapshot, error) {
	if branch == "" {
		branch = a.branch
	}

	var ref refResponse
	refURL := a.repoURL(fmt.Sprintf("/git/ref/heads/%s", url.PathEscape(branch)))
	if err := a.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return a.newRequest(ctx, http.MethodGet, refURL, nil)
	}, &ref); err != nil {
		return nil, err
	}
	if ref.Object.SHA == "" {
		return nil, fmt.Errorf("%w: unexpected response", remote.ErrNonRetryableRemote)
	}
	head := ref.Object.SHA

	var commit commitResponse
	commitURL := a.repoURL(fmt.Sprintf("/git/commits/%s", head))
	if err := a.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return a.newRequest(ctx, http.MethodGet, commitURL, nil)
	}, &commit); err != nil {
		return nil, err
	}

	var tree treeResponse
	treeURL := a.repoURL(fmt.Sprintf("/git/trees/%s?recursive=true", commit.Tree.SHA))
	if err := a.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return a.newRequest(ctx, http.MethodGet, treeURL, nil)
	}, &tree); err != nil {
		return nil, err
	}

	snap := &remote.Snapshot{Head: head, Files: map[string][]byte{}}
	for _, entry := range tree.Tree {
		if entry.Type != "blob" {
			continue
		}
		content, err := a.fetchBlob(ctx, entry.Path, entry.SHA)
		if err != nil {
			return nil, err
		}
		snap.Files[entry.Path] = content
	}
	return snap, nil
}

func (a *Adapter) fetchBlob(ctx context.Context, path, sha string) ([]byte, error) {
	cacheKey := sha
	if v, ok := a.blobCache.Get(cacheKey); ok {
		return v.([]byte), nil
	}

	var blob blobResponse
	blobURL := a.repoURL(fmt.Sprintf("/git/blobs/%s", sha))
	if err := a.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return a.newRequest(ctx, http.MethodGet, blobURL, nil)
	}, &blob); err != nil {
		return nil, err
	}
	if blob.Encoding != "base64" {
		return nil, fmt.Errorf("%w: unexpected blob encoding %q", remote.ErrNonRetryableRemote, blob.Encoding)
	}
	content, err := base64.StdEncoding.DecodeString(blob.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid JSON response: %v", remote.ErrNonRetryableRemote, err)
	}
	a.blobCache.Add(cacheKey, content)
	return content, nil
}

// CreateCommitWithActions builds the blobs and a new tree/commit for
// changes and advances branch to the new commit, emulating an
// actions-based commit on top of GitHub's lower-level git data API (which
// has no single-request equivalent to GitLab's commits endpoint).
func (a *Adapter) CreateCommitWithActions(ctx context.Context, branch, message string, changes []remote.Action) (string, error) {
	if branch == "" {
		branch = a.branch
	}

	var ref refResponse
	refURL := a.repoURL(fmt.Sprintf("/git/ref/heads/%s", url.PathEscape(branch)))
	if err := a.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return a.newRequest(ctx, http.MethodGet, refURL, nil)
	}, &ref); err != nil {
		return "", err
	}
	parentSHA := ref.Object.SHA

	var parentCommit commitResponse
	parentCommitURL := a.repoURL(fmt.Sprintf("/git/commits/%s", parentSHA))
	if err := a.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return a.newRequest(ctx, http.MethodGet, parentCommitURL, nil)
	}, &parentCommit); err != nil {
		return "", err
	}

	treeSHA, err := a.buildTree(ctx, changes, parentCommit.Tree.SHA)
	if err != nil {
		return "", err
	}

	commitSHA, err := a.CreateCommit(ctx, treeSHA, parentSHA, message)
	if err != nil {
		return "", err
	}

	if err := a.UpdateRef(ctx, branch, commitSHA); err != nil {
		return "", err
	}
	return commitSHA, nil
}

type treeNode struct {
	Path    string `json:"path"`
	Mode    string `json:"mode"`
	Type    string `json:"type"`
	SHA     *string `json:"sha"`
	Content string `json:"content,omitempty"`
}

type createTreeRequest struct {
	BaseTree string     `json:"base_tree,omitempty"`
	Tree     []treeNode `json:"tree"`
}

type createTreeResponse struct {
	SHA string `json:"sha"`
}

// CreateBlob uploads raw content as a loose blob and returns its sha.
func (a *Adapter) CreateBlob(ctx context.Context, content []byte) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"content":  base64.StdEncoding.EncodeToString(content),
		"encoding": "base64",
	})
	if err != nil {
		return "", err
	}
	blobURL := a.repoURL("/git/blobs")
	var resp struct {
		SHA string `json:"sha"`
	}
	if err := a.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return a.newRequest(ctx, http.MethodPost, blobURL, bytes.NewReader(payload))
	}, &resp); err != nil {
		return "", err
	}
	if resp.SHA == "" {
		return "", fmt.Errorf("%w: unexpected response", remote.ErrNonRetryableRemote)
	}
	return resp.SHA, nil
}

// CreateTree is the legacy tree-building entry point required by
// remote.Adapter; it builds a standalone tree with no base. The actions-based
// path (CreateCommitWithActions) calls the unexported buildTree instead, so
// it can layer changes on top of the parent commit's existing tree.
func (a *Adapter) CreateTree(ctx context.Context, entries []remote.Action) (string, error) {
	return a.buildTree(ctx, entries, "")
}

func (a *Adapter) buildTree(ctx context.Context, entries []remote.Action, baseTree string) (string, error) {
	nodes := make([]treeNode, 0, len(entries))
	for _, e := range entries {
		switch e.Kind {
		case remote.Delete:
			nodes = append(nodes, treeNode{Path: e.Path, Mode: "100644", Type: "blob", SHA: nil})
		default:
			sha, err := a.CreateBlob(ctx, e.Content)
			if err != nil {
				return "", err
			}
			shaCopy := sha
			nodes = append(nodes, treeNode{Path: e.Path, Mode: "100644", Type: "blob", SHA: &shaCopy})
		}
	}

	req := createTreeRequest{Tree: nodes, BaseTree: baseTree}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	treeURL := a.repoURL("/git/trees")
	var resp createTreeResponse
	if err := a.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return a.newRequest(ctx, http.MethodPost, treeURL, bytes.NewReader(payload))
	}, &resp); err != nil {
		return "", err
	}
	if resp.SHA == "" {
		return "", fmt.Errorf("%w: unexpected response", remote.ErrNonRetryableRemote)
	}
	return resp.SHA, nil
}

// CreateCommit creates a commit object pointing at treeSha with a single
// parent.
func (a *Adapter) CreateCommit(ctx context.Context, treeSha, parentSha, message string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"message": message,
		"tree":    treeSha,
		"parents": []string{parentSha},
	})
	if err != nil {
		return "", err
	}
	commitURL := a.repoURL("/git/commits")
	var resp struct {
		SHA string `json:"sha"`
	}
	if err := a.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return a.newRequest(ctx, http.MethodPost, commitURL, bytes.NewReader(payload))
	}, &resp); err != nil {
		return "", err
	}
	if resp.SHA == "" {
		return "", fmt.Errorf("%w: unexpected response", remote.ErrNonRetryableRemote)
	}
	return resp.SHA, nil
}

// UpdateRef fast-forwards branch to point at commitSha.
func (a *Adapter) UpdateRef(ctx context.Context, branch, commitSha string) error {
	payload, err := json.Marshal(map[string]any{"sha": commitSha, "force": false})
	if err != nil {
		return err
	}
	refURL := a.repoURL(fmt.Sprintf("/git/refs/heads/%s", url.PathEscape(branch)))
	return a.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return a.newRequest(ctx, http.MethodPatch, refURL, bytes.NewReader(payload))
	}, nil)
}

var _ remote.Adapter = (*Adapter)(nil)
