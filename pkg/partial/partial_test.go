package partial

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rzbill/cruise/pkg/log"
	"github.com/rzbill/cruise/pkg/merge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const groupsYAML = `
groups:
  - name: first
    authorization:
      view:
        users: [alice]
      admins:
        roles: [ops]
    pipelines:
      - name: build
        label_template: "1.${COUNT}"
        materials:
          git:
            - url: https://example.com/app.git
              branch: main
          scm:
            - scm_id: scm-1
              folder: plugin
          packages:
            - package_id: pkg-1
        variables:
          - name: GOOS
            value: linux
      - name: deploy
        materials:
          dependencies:
            - pipeline: build
              stage: package
environments:
  - name: prod
    agents: [agent-1]
    pipelines: [deploy]
    variables:
      - name: REGION
        value: eu
scms:
  - id: scm-1
    name: plugin_scm
    plugin:
      id: github.pr
      version: "1"
    configuration:
      - key: url
        value: https://example.com/plugin.git
repositories:
  - id: repo-1
    name: yum
    plugin:
      id: yum
    configuration:
      - key: REPO_URL
        value: http://mirror
    packages:
      - id: pkg-1
        name: httpd
        auto_update: false
        configuration:
          - key: PACKAGE_SPEC
            value: httpd-2*
`

var testOrigin = merge.RepoOrigin{
	Repo:     merge.ConfigRepo{ID: "repo", URL: "https://example.com/config.git"},
	Revision: "abc123",
}

func TestDecode(t *testing.T) {
	p, err := Decode([]byte(groupsYAML), testOrigin)
	require.NoError(t, err)

	require.Len(t, p.Groups, 1)
	g := p.Groups[0]
	assert.Equal(t, "first", g.Group)
	assert.Equal(t, testOrigin, g.Origin)
	assert.True(t, g.Authorization.HasViewPermission("ALICE", nil))
	assert.True(t, g.Authorization.HasAdminPermission("bob", []string{"ops"}))

	require.Len(t, g.Pipelines, 2)
	build := g.Pipelines[0]
	assert.Equal(t, "1.${COUNT}", build.LabelTemplate)
	assert.Equal(t, []merge.GitMaterial{{URL: "https://example.com/app.git", Branch: "main"}}, build.Materials.Git)
	require.Len(t, build.Materials.SCM, 1)
	assert.Equal(t, "scm-1", build.Materials.SCM[0].SCMID)
	assert.Equal(t, "plugin", build.Materials.SCM[0].Folder)
	require.Len(t, build.Materials.Packages, 1)
	assert.Equal(t, "pkg-1", build.Materials.Packages[0].PackageID)
	assert.Equal(t, "linux", build.Variables[0].Value)

	deploy := g.Pipelines[1]
	assert.Equal(t, merge.DefaultLabelTemplate, deploy.LabelTemplate)
	assert.Equal(t, []string{"build"}, deploy.UpstreamPipelines())

	require.Len(t, p.Environments, 1)
	assert.Equal(t, []string{"deploy"}, p.Environments[0].Pipelines)
	assert.Equal(t, []string{"agent-1"}, p.Environments[0].Agents)

	require.Len(t, p.SCMs, 1)
	s := p.SCMs[0]
	assert.Equal(t, "plugin_scm", s.Name)
	assert.True(t, s.AutoUpdate)
	assert.Equal(t, "github.pr", s.PluginConfiguration.ID)
	assert.False(t, s.Configuration.GetProperty("url").IsSecure())

	require.Len(t, p.Repositories, 1)
	r := p.Repositories[0]
	require.Len(t, r.Packages, 1)
	assert.False(t, r.Packages[0].AutoUpdate)
	assert.Same(t, r, r.Packages[0].Repository())
}

func TestDecode_EncryptedValuesAreSecure(t *testing.T) {
	p, err := Decode([]byte(`
scms:
  - name: s
    plugin: {id: git}
    configuration:
      - key: token
        encrypted_value: AES:bm9uY2U=:c2VhbGVk
`), testOrigin)
	require.NoError(t, err)
	token := p.SCMs[0].Configuration.GetProperty("token")
	require.NotNil(t, token)
	assert.True(t, token.IsSecure())
	assert.Equal(t, "AES:bm9uY2U=:c2VhbGVk", token.EncryptedValue())
}

func TestDecode_ResolvesWhenMerged(t *testing.T) {
	p, err := Decode([]byte(groupsYAML), testOrigin)
	require.NoError(t, err)

	c, err := merge.Merge(nil, p)
	require.NoError(t, err)
	failures, err := c.Validate(merge.ValidationContext{})
	require.NoError(t, err)
	assert.Empty(t, failures)

	build, err := c.PipelineByName("build")
	require.NoError(t, err)
	assert.Equal(t, "plugin_scm", build.Materials.SCM[0].SCM.Name)
	assert.Equal(t, "httpd", build.Materials.Packages[0].Package.Name)

	vars, err := c.VariablesFor("deploy")
	require.NoError(t, err)
	assert.True(t, vars.Has("REGION"))
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "unknown key", yaml: "pipelines: []\n", want: "field pipelines not found"},
		{name: "malformed", yaml: "groups: [\n", want: "failed to parse YAML"},
		{name: "unnamed group", yaml: "groups:\n  - pipelines: []\n", want: "groups[0]: name is required"},
		{name: "unnamed environment", yaml: "environments:\n  - agents: [a]\n", want: "environments[0]: name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.yaml), testOrigin)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecode_Empty(t *testing.T) {
	p, err := Decode(nil, testOrigin)
	require.NoError(t, err)
	assert.Empty(t, p.Groups)
	assert.Equal(t, testOrigin, p.Origin)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.yaml", "groups:\n  - name: second\n    pipelines:\n      - name: two\n")
	writeFile(t, dir, "a.yml", "groups:\n  - name: first\n    pipelines:\n      - name: one\n")
	writeFile(t, dir, "nested/c.yaml", "environments:\n  - name: qa\n")
	writeFile(t, dir, ".git/config.yaml", "not: [valid")
	writeFile(t, dir, "README.md", "# docs")

	files, err := ReadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.yml", "b.yaml", "nested/c.yaml"}, files.Names())

	p, err := LoadDir(dir, testOrigin)
	require.NoError(t, err)
	require.Len(t, p.Groups, 2)
	assert.Equal(t, "first", p.Groups[0].Group)
	assert.Equal(t, "second", p.Groups[1].Group)
	require.Len(t, p.Environments, 1)
}

func TestLoadDir_NamesBrokenFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ok.yaml", "groups: []\n")
	writeFile(t, dir, "broken.yaml", "groups: [\n")

	_, err := LoadDir(dir, testOrigin)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cruise.yaml", groupsYAML)

	p, err := LoadFile(filepath.Join(dir, "cruise.yaml"), merge.FileOrigin{})
	require.NoError(t, err)
	assert.True(t, p.Groups[0].Origin.IsLocal())

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"), merge.FileOrigin{})
	assert.Error(t, err)
}

type memoryRepository struct {
	mu    sync.Mutex
	items map[Kind]map[string]*Snapshot
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{items: map[Kind]map[string]*Snapshot{}}
}

func (r *memoryRepository) Get(_ context.Context, kind Kind, repoID string) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[kind][repoID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (r *memoryRepository) Save(_ context.Context, kind Kind, s *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items[kind] == nil {
		r.items[kind] = map[string]*Snapshot{}
	}
	r.items[kind][s.RepoID] = s
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, kind Kind, repoID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[kind][repoID]; !ok {
		return ErrNotFound
	}
	delete(r.items[kind], repoID)
	return nil
}

func (r *memoryRepository) List(_ context.Context, kind Kind) ([]*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Snapshot
	for _, s := range r.items[kind] {
		out = append(out, s)
	}
	return out, nil
}

func snapshot(repoID, revision, content string) *Snapshot {
	return &Snapshot{
		RepoID:   repoID,
		URL:      "https://example.com/" + repoID + ".git",
		Revision: revision,
		Files:    Files{"cruise.yaml": content},
	}
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	cache := NewCache(repo, log.NewTestLogger())

	p, err := cache.Record(ctx, snapshot("r1", "rev1", "groups:\n  - name: g1\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/r1.git at rev1", p.Origin.DisplayName())

	_, ok := cache.LastValid("r1")
	assert.False(t, ok)
	require.NoError(t, cache.Promote(ctx, "r1"))

	_, err = cache.Record(ctx, snapshot("r1", "rev2", "groups:\n  - name: g2\n"))
	require.NoError(t, err)

	known, ok := cache.LastKnown("r1")
	require.True(t, ok)
	assert.Equal(t, "rev2", known.Revision)
	valid, ok := cache.LastValid("r1")
	require.True(t, ok)
	assert.Equal(t, "rev1", valid.Revision)

	partials, err := cache.LastValidPartials()
	require.NoError(t, err)
	require.Len(t, partials, 1)
	assert.Equal(t, "g1", partials[0].Groups[0].Group)

	t.Run("unparsable revision is not recorded", func(t *testing.T) {
		_, err := cache.Record(ctx, snapshot("r1", "rev3", "groups: [\n"))
		require.Error(t, err)
		known, _ := cache.LastKnown("r1")
		assert.Equal(t, "rev2", known.Revision)
	})

	t.Run("restore", func(t *testing.T) {
		restored := NewCache(repo, log.NewTestLogger())
		require.NoError(t, restored.Restore(ctx))
		valid, ok := restored.LastValid("r1")
		require.True(t, ok)
		assert.Equal(t, "rev1", valid.Revision)
		known, ok := restored.LastKnown("r1")
		require.True(t, ok)
		assert.Equal(t, "rev2", known.Revision)
	})

	t.Run("promote unknown repo", func(t *testing.T) {
		assert.ErrorIs(t, cache.Promote(ctx, "nope"), ErrNotFound)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, cache.Remove(ctx, "r1"))
		_, ok := cache.LastKnown("r1")
		assert.False(t, ok)
		_, err := repo.Get(ctx, KindLastValid, "r1")
		assert.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, cache.Remove(ctx, "r1"))
	})
}

func TestCache_RestoreDropsUnparsable(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	require.NoError(t, repo.Save(ctx, KindLastValid, snapshot("good", "1", "groups: []\n")))
	require.NoError(t, repo.Save(ctx, KindLastValid, snapshot("bad", "1", "groups: [\n")))

	logger := log.NewTestLogger()
	cache := NewCache(repo, logger)
	require.NoError(t, cache.Restore(ctx))

	_, ok := cache.LastValid("good")
	assert.True(t, ok)
	_, ok = cache.LastValid("bad")
	assert.False(t, ok)
}

func TestFiles_Select(t *testing.T) {
	files := Files{
		"pipelines/app/build.yaml": "a",
		"pipelines/deploy.yml":     "b",
		"envs/prod.yaml":           "c",
	}

	all, err := files.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := files.Select([]string{"pipelines/**/*.yaml", "envs/*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"envs/prod.yaml", "pipelines/app/build.yaml"}, some.Names())

	_, err = files.Select([]string{"pipelines/[*"})
	assert.ErrorContains(t, err, "invalid include pattern")
}
