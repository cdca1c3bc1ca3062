package configrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// GitFetcher keeps a clone of every git config repo and reads the partials
// at the head of its branch. The revision is the commit hash.
type GitFetcher struct {
	// Root holds the clones of repos without a Dir, one directory per
	// repo id.
	Root string
	// Tokens maps repo ids to HTTP tokens for private repositories.
	Tokens map[string]string

	// locks serializes fetches of the same clone.
	locks sync.Map
}

// Fetch implements Fetcher.
func (f *GitFetcher) Fetch(ctx context.Context, repo Repo) (*Revision, error) {
	dir := f.checkoutDir(repo)
	if dir == "" {
		return nil, errors.New("git fetcher has no root directory")
	}
	mu, _ := f.locks.LoadOrStore(dir, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	r, err := f.sync(ctx, repo, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", repo.URL, err)
	}
	head, err := r.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD of %s: %w", repo.URL, err)
	}
	files, err := readPartials(dir, repo.Include)
	if err != nil {
		return nil, err
	}
	return &Revision{ID: head.Hash().String(), Files: files}, nil
}

func (f *GitFetcher) checkoutDir(repo Repo) string {
	if repo.Dir != "" {
		return repo.Dir
	}
	if f.Root == "" {
		return ""
	}
	return filepath.Join(f.Root, repo.ID)
}

func (f *GitFetcher) auth(repo Repo) transport.AuthMethod {
	token := f.Tokens[repo.ID]
	if token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "cruise", Password: token}
}

// sync clones dir on first use and pulls it afterwards.
func (f *GitFetcher) sync(ctx context.Context, repo Repo, dir string) (*git.Repository, error) {
	var ref plumbing.ReferenceName
	if repo.Branch != "" {
		ref = plumbing.NewBranchReferenceName(repo.Branch)
	}

	r, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return nil, err
		}
		return git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:           repo.URL,
			Auth:          f.auth(repo),
			ReferenceName: ref,
			SingleBranch:  true,
		})
	}
	if err != nil {
		return nil, err
	}
	wt, err := r.Worktree()
	if err != nil {
		return nil, err
	}
	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName:    git.DefaultRemoteName,
		ReferenceName: ref,
		SingleBranch:  true,
		Auth:          f.auth(repo),
		Force:         true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, err
	}
	return r, nil
}
