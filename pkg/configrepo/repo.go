package configrepo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rzbill/cruise/pkg/partial"
)

// Repository types.
const (
	TypeDir = "dir"
	TypeGit = "git"
)

// Repo is a config repository checked out on the server.
type Repo struct {
	ID  string `mapstructure:"id" yaml:"id" validate:"required"`
	URL string `mapstructure:"url" yaml:"url" validate:"required"`
	// Type selects the fetcher. Empty means TypeDir.
	Type string `mapstructure:"type" yaml:"type" validate:"omitempty,oneof=dir git"`
	// Branch is the branch cloned by GitFetcher. It also limits webhook
	// refreshes to pushes on this branch. Empty accepts every branch.
	Branch   string `mapstructure:"branch" yaml:"branch"`
	PluginID string `mapstructure:"plugin_id" yaml:"plugin_id"`
	// Dir is the local checkout. GitFetcher clones below its root when
	// empty.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Include limits the partials to files matching one of these
	// doublestar patterns, e.g. "pipelines/**/*.yaml".
	Include []string `mapstructure:"include" yaml:"include"`
}

// Kind is r.Type with the default applied.
func (r Repo) Kind() string {
	if r.Type == "" {
		return TypeDir
	}
	return r.Type
}

// Revision is the content of a repo at one point in time.
type Revision struct {
	ID    string
	Files partial.Files
}

// Fetcher reads the current revision of a config repository.
type Fetcher interface {
	Fetch(ctx context.Context, repo Repo) (*Revision, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, repo Repo) (*Revision, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, repo Repo) (*Revision, error) { return f(ctx, repo) }

// Fetchers dispatches to the fetcher registered for a repo's Kind.
type Fetchers map[string]Fetcher

// Fetch implements Fetcher.
func (m Fetchers) Fetch(ctx context.Context, repo Repo) (*Revision, error) {
	f, ok := m[repo.Kind()]
	if !ok {
		return nil, fmt.Errorf("no fetcher for config repo type %q", repo.Kind())
	}
	return f.Fetch(ctx, repo)
}

// DirFetcher reads the YAML documents of a local checkout. The revision is
// a digest of the documents.
type DirFetcher struct{}

// Fetch implements Fetcher.
func (DirFetcher) Fetch(ctx context.Context, repo Repo) (*Revision, error) {
	if repo.Dir == "" {
		return nil, errors.New("config repo has no checkout directory")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files, err := readPartials(repo.Dir, repo.Include)
	if err != nil {
		return nil, err
	}
	return &Revision{ID: Digest(files), Files: files}, nil
}

func readPartials(dir string, include []string) (partial.Files, error) {
	files, err := partial.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	return files.Select(include)
}

// Digest identifies the content of files.
func Digest(files partial.Files) string {
	h := sha256.New()
	for _, name := range files.Names() {
		fmt.Fprintf(h, "%s\x00%s\x00", name, files[name])
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// NormalizeURL reduces the common spellings of a repository URL to one
// form: no scheme, user, ".git" suffix or trailing slash, lower case, with
// scp-like "git@host:path" turned into "host/path".
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Host != "" {
		s = u.Host + u.Path
	} else if at := strings.Index(s, "@"); at >= 0 && strings.Contains(s[at:], ":") {
		s = strings.Replace(s[at+1:], ":", "/", 1)
	}
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")
	return strings.ToLower(s)
}

// Matches reports whether a push of branch to one of urls concerns r.
func (r Repo) Matches(urls []string, branch string) bool {
	if r.Branch != "" && branch != "" && r.Branch != branch {
		return false
	}
	own := NormalizeURL(r.URL)
	for _, u := range urls {
		if NormalizeURL(u) == own {
			return true
		}
	}
	return false
}
