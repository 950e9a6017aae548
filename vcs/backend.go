// Package vcs talks to the remote content-addressed version-control
// backend: low-level blob/tree/commit writes, branch refs, and the
// staging-branch lifecycle built on top of them.
package vcs

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-github/v71/github"

	"github.com/changegate/changegate/domain"
	"github.com/changegate/changegate/tokencache"
)

// TreeEntry is one path in a tree about to be written. Exactly one of
// Content (inline text) or SHA (a previously written blob) is set; the
// backend's tree call does not accept inline binary payloads.
type TreeEntry struct {
	Path    string
	Content string
	SHA     string
}

// Backend is the narrow surface of the remote backend the rest of the
// package needs. Tests fake it; production uses GitHubBackend.
type Backend interface {
	DefaultBranch(ctx context.Context) (string, error)
	GetRef(ctx context.Context, branch string) (string, error)
	CreateRef(ctx context.Context, branch, sha string) error
	UpdateRef(ctx context.Context, branch, sha string) error
	DeleteRef(ctx context.Context, branch string) error
	CreateBlob(ctx context.Context, base64Content string) (string, error)
	CreateTree(ctx context.Context, baseTree string, entries []TreeEntry) (string, error)
	CreateCommit(ctx context.Context, message, treeSHA string, parents []string) (string, error)
	// Merge merges head into base. It returns false with a nil error when
	// base already contains head (retrying a completed merge is success).
	Merge(ctx context.Context, base, head, message string) (bool, error)
}

// GitHubBackend implements Backend against the GitHub Git Data API.
// Tokens are installation-scoped and come from the injected cache.
type GitHubBackend struct {
	owner      string
	repo       string
	tokens     *tokencache.Cache
	httpClient *http.Client
}

func NewGitHubBackend(owner, repo string, tokens *tokencache.Cache) *GitHubBackend {
	return &GitHubBackend{
		owner:  owner,
		repo:   repo,
		tokens: tokens,
	}
}

func (b *GitHubBackend) client(ctx context.Context) (*github.Client, error) {
	token, err := b.tokens.Token(ctx, b.owner)
	if err != nil {
		return nil, fmt.Errorf("fetch installation token: %w", err)
	}
	return github.NewClient(b.httpClient).WithAuthToken(token), nil
}

func (b *GitHubBackend) DefaultBranch(ctx context.Context) (string, error) {
	c, err := b.client(ctx)
	if err != nil {
		return "", err
	}

	repo, resp, err := c.Repositories.Get(ctx, b.owner, b.repo)
	if err != nil {
		return "", remoteErr(resp, fmt.Errorf("get repository: %w", err))
	}
	return repo.GetDefaultBranch(), nil
}

func (b *GitHubBackend) GetRef(ctx context.Context, branch string) (string, error) {
	c, err := b.client(ctx)
	if err != nil {
		return "", err
	}

	ref, resp, err := c.Git.GetRef(ctx, b.owner, b.repo, "refs/heads/"+branch)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", domain.ErrRefNotFound
		}
		return "", remoteErr(resp, fmt.Errorf("get ref %s: %w", branch, err))
	}
	return ref.GetObject().GetSHA(), nil
}

func (b *GitHubBackend) CreateRef(ctx context.Context, branch, sha string) error {
	c, err := b.client(ctx)
	if err != nil {
		return err
	}

	_, resp, err := c.Git.CreateRef(ctx, b.owner, b.repo, &github.Reference{
		Ref:    github.Ptr("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.Ptr(sha)},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity {
			return domain.ErrBranchExists
		}
		return remoteErr(resp, fmt.Errorf("create ref %s: %w", branch, err))
	}
	return nil
}

func (b *GitHubBackend) UpdateRef(ctx context.Context, branch, sha string) error {
	c, err := b.client(ctx)
	if err != nil {
		return err
	}

	// Never force: a non-fast-forward update means someone else moved the
	// staging branch, which is a hard error for the caller.
	_, resp, err := c.Git.UpdateRef(ctx, b.owner, b.repo, &github.Reference{
		Ref:    github.Ptr("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.Ptr(sha)},
	}, false)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return domain.ErrRefNotFound
		}
		return remoteErr(resp, fmt.Errorf("update ref %s: %w", branch, err))
	}
	return nil
}

func (b *GitHubBackend) DeleteRef(ctx context.Context, branch string) error {
	c, err := b.client(ctx)
	if err != nil {
		return err
	}

	resp, err := c.Git.DeleteRef(ctx, b.owner, b.repo, "refs/heads/"+branch)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return domain.ErrRefNotFound
		}
		return remoteErr(resp, fmt.Errorf("delete ref %s: %w", branch, err))
	}
	return nil
}

func (b *GitHubBackend) CreateBlob(ctx context.Context, base64Content string) (string, error) {
	c, err := b.client(ctx)
	if err != nil {
		return "", err
	}

	blob, resp, err := c.Git.CreateBlob(ctx, b.owner, b.repo, &github.Blob{
		Content:  github.Ptr(base64Content),
		Encoding: github.Ptr("base64"),
	})
	if err != nil {
		return "", remoteErr(resp, fmt.Errorf("create blob: %w", err))
	}
	return blob.GetSHA(), nil
}

func (b *GitHubBackend) CreateTree(ctx context.Context, baseTree string, entries []TreeEntry) (string, error) {
	c, err := b.client(ctx)
	if err != nil {
		return "", err
	}

	ghEntries := make([]*github.TreeEntry, 0, len(entries))
	for _, e := range entries {
		entry := &github.TreeEntry{
			Path: github.Ptr(e.Path),
			Mode: github.Ptr("100644"),
			Type: github.Ptr("blob"),
		}
		if e.SHA != "" {
			entry.SHA = github.Ptr(e.SHA)
		} else {
			entry.Content = github.Ptr(e.Content)
		}
		ghEntries = append(ghEntries, entry)
	}

	tree, resp, err := c.Git.CreateTree(ctx, b.owner, b.repo, baseTree, ghEntries)
	if err != nil {
		return "", remoteErr(resp, fmt.Errorf("create tree: %w", err))
	}
	return tree.GetSHA(), nil
}

func (b *GitHubBackend) CreateCommit(ctx context.Context, message, treeSHA string, parents []string) (string, error) {
	c, err := b.client(ctx)
	if err != nil {
		return "", err
	}

	commit := &github.Commit{
		Message: github.Ptr(message),
		Tree:    &github.Tree{SHA: github.Ptr(treeSHA)},
	}
	for _, p := range parents {
		commit.Parents = append(commit.Parents, &github.Commit{SHA: github.Ptr(p)})
	}

	created, resp, err := c.Git.CreateCommit(ctx, b.owner, b.repo, commit, nil)
	if err != nil {
		return "", remoteErr(resp, fmt.Errorf("create commit: %w", err))
	}
	return created.GetSHA(), nil
}

func (b *GitHubBackend) Merge(ctx context.Context, base, head, message string) (bool, error) {
	c, err := b.client(ctx)
	if err != nil {
		return false, err
	}

	commit, resp, err := c.Repositories.Merge(ctx, b.owner, b.repo, &github.RepositoryMergeRequest{
		Base:          github.Ptr(base),
		Head:          github.Ptr(head),
		CommitMessage: github.Ptr(message),
	})
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusConflict:
				return false, domain.ErrMergeConflict
			case http.StatusNotFound:
				return false, domain.ErrNotFound
			}
		}
		return false, remoteErr(resp, fmt.Errorf("merge %s into %s: %w", head, base, err))
	}

	// 204 means base already contained head; nothing new was created.
	if resp != nil && resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	return commit.GetSHA() != "", nil
}

// remoteErr classifies backend failures: 5xx and transport errors become
// ErrRemoteUnavailable so callers can apply bounded retries; everything
// else passes through.
func remoteErr(resp *github.Response, err error) error {
	if resp == nil || resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s", domain.ErrRemoteUnavailable, err)
	}
	return err
}
