package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rzbill/cruise/pkg/configrepo"
	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/crypto"
	"github.com/rzbill/cruise/pkg/log"
	"github.com/rzbill/cruise/pkg/merge"
	"github.com/rzbill/cruise/pkg/metrics"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/settings"
	"github.com/rzbill/cruise/pkg/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfigRepos struct {
	state     *configrepo.State
	failures  []merge.ValidationFailure
	repos     []configrepo.Repo
	refreshed []string
	matched   []string
}

func (f *fakeConfigRepos) Current() *configrepo.State           { return f.state }
func (f *fakeConfigRepos) Failures() []merge.ValidationFailure { return f.failures }
func (f *fakeConfigRepos) Repos() []configrepo.Repo            { return f.repos }

func (f *fakeConfigRepos) Status(id string) (configrepo.RepoStatus, bool) {
	for _, r := range f.repos {
		if r.ID == id {
			return configrepo.RepoStatus{Repo: r, LastKnownRevision: "r2", LastValidRevision: "r1", Error: errors.New("boom")}, true
		}
	}
	return configrepo.RepoStatus{}, false
}

func (f *fakeConfigRepos) Refresh(id string) error {
	if _, ok := f.Status(id); !ok {
		return fmt.Errorf("unknown config repo %q", id)
	}
	f.refreshed = append(f.refreshed, id)
	return nil
}

func (f *fakeConfigRepos) History(_ context.Context, id string) ([]string, []string, error) {
	return []string{"r2", "r1"}, []string{"r1"}, nil
}

func (f *fakeConfigRepos) RefreshMatching(_ context.Context, urls []string, _ string) (int, error) {
	f.matched = append(f.matched, urls...)
	return 1, nil
}

type fakeSettings struct {
	metadata map[string]settings.Metadata
	saved    map[string]*settings.PluginSettings
}

func (f *fakeSettings) Metadata(id string) (settings.Metadata, bool) {
	md, ok := f.metadata[id]
	return md, ok
}

func (f *fakeSettings) Get(_ context.Context, id string) (*settings.PluginSettings, error) {
	ps, ok := f.saved[id]
	if !ok {
		return nil, settings.ErrNotFound
	}
	return ps, nil
}

func (f *fakeSettings) History(_ context.Context, id string) ([]*settings.PluginSettings, error) {
	if ps, ok := f.saved[id]; ok {
		return []*settings.PluginSettings{ps}, nil
	}
	return []*settings.PluginSettings{}, nil
}

func (f *fakeSettings) Save(_ context.Context, ps *settings.PluginSettings) error {
	if p := ps.Configuration.GetProperty("url"); p != nil && p.PlainValue() == "" {
		ps.AddErrorFor("url", "URL must not be blank")
		return settings.ErrInvalid
	}
	f.saved[ps.PluginID] = ps
	return nil
}

type fakePlugins []plugin.Descriptor

func (f fakePlugins) Plugins() []plugin.Descriptor { return f }

func testCipher(t *testing.T) crypto.Cipher {
	t.Helper()
	c, err := crypto.NewAESCipher(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return c
}

func mergedState(t *testing.T) *configrepo.State {
	t.Helper()
	origin := merge.RepoOrigin{Repo: merge.ConfigRepo{ID: "app", URL: "https://example.com/app.git"}, Revision: "r1"}
	main := &merge.PartialConfig{
		Groups: []*merge.PipelinePart{merge.NewPipelinePart("first", nil, nil, merge.NewPipelineConfig("build", nil))},
	}
	remote := &merge.PartialConfig{
		Origin:       origin,
		Groups:       []*merge.PipelinePart{merge.NewPipelinePart("first", nil, nil, merge.NewPipelineConfig("deploy", nil))},
		Environments: []*merge.EnvironmentPart{merge.NewEnvironmentPart("prod", nil)},
	}
	remote.Environments[0].AddPipeline("deploy")
	cfg, err := merge.Merge(main, remote)
	require.NoError(t, err)
	return &configrepo.State{Config: cfg, Revisions: map[string]string{"app": "r1"}, LoadedAt: time.Now()}
}

type fixture struct {
	repos    *fakeConfigRepos
	settings *fakeSettings
	handler  http.Handler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		repos: &fakeConfigRepos{
			state: mergedState(t),
			repos: []configrepo.Repo{{ID: "app", URL: "https://example.com/app.git", Branch: "main"}},
		},
		settings: &fakeSettings{
			metadata: map[string]settings.Metadata{
				"github.pr": {Extension: "scm", Configuration: configuration.Schema{{Key: "url"}, {Key: "token", Secure: true}}},
			},
			saved: map[string]*settings.PluginSettings{},
		},
	}
	logger := log.NewTestLogger()
	all := append([]Option{
		WithLogger(logger),
		WithConfigRepos(f.repos),
		WithPluginSettings(f.settings, testCipher(t)),
		WithPlugins(fakePlugins{{ID: "github.pr", Extensions: map[string][]string{"scm": {"1.0"}}}}),
		WithWebhooks(webhook.NewHandler(webhook.Secrets{GitLab: "gl-token"}, f.repos, logger)),
	}, opts...)
	srv, err := New(all...)
	require.NoError(t, err)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealthAndVersion(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	f.repos.state = nil
	_, body = f.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, "loading", body["status"])

	rec, body = f.do(t, http.MethodGet, "/api/version", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "version")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, WithAuth([]string{"k1"}))
	rec, _ := f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	met := metrics.New()
	met.ObserveReload(metrics.ReloadValid, 1)
	f = newFixture(t, WithAuth([]string{"k1"}), WithMetrics(met))
	rec, _ = f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `cruise_config_reloads_total{result="valid"} 1`)
}

func TestGetConfig(t *testing.T) {
	f := newFixture(t)
	f.repos.failures = nil

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var view configView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Groups, 1)
	assert.Equal(t, "first", view.Groups[0].Name)
	assert.Equal(t, []pipelineView{
		{Name: "build", Origin: merge.MainConfigName},
		{Name: "deploy", Origin: "https://example.com/app.git at r1"},
	}, view.Groups[0].Pipelines)
	require.Len(t, view.Environments, 1)
	assert.Equal(t, []string{"deploy"}, view.Environments[0].Pipelines)
	assert.False(t, view.Environments[0].Local)
	assert.Equal(t, "r1", view.Revisions["app"])
	assert.Empty(t, view.Failures)

	f.repos.state = nil
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/config", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestConfigRepos(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/config_repos", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []configRepoView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []configRepoView{{
		ID: "app", URL: "https://example.com/app.git", Branch: "main",
		LastKnownRevision: "r2", LastValidRevision: "r1", Error: "boom",
	}}, list)

	rec, body := f.do(t, http.MethodGet, "/api/admin/config_repos/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Config repo 'missing' was not found!", body["message"])

	rec, _ = f.do(t, http.MethodPost, "/api/admin/config_repos/app/refresh", "", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"app"}, f.repos.refreshed)

	rec, _ = f.do(t, http.MethodPost, "/api/admin/config_repos/missing/refresh", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/config_repos/app/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var history historyView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Equal(t, historyView{ID: "app", LastKnown: []string{"r2", "r1"}, LastValid: []string{"r1"}}, history)

	rec, _ = f.do(t, http.MethodGet, "/api/admin/config_repos/missing/history", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPluginSettings(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodGet, "/api/admin/plugin_settings/github.pr", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body := f.do(t, http.MethodPut, "/api/admin/plugin_settings/unknown", `{"configuration":[]}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Plugin 'unknown' does not support plugin settings.", body["message"])

	rec, _ = f.do(t, http.MethodPut, "/api/admin/plugin_settings/github.pr", `{"configuration":[{"value":"x"}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPut, "/api/admin/plugin_settings/github.pr", `{`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/admin/plugin_settings/github.pr",
		strings.NewReader(`{"configuration":[{"key":"url","value":""}]}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var invalid settingsView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invalid))
	require.Len(t, invalid.Configuration, 1)
	assert.NotEmpty(t, invalid.Configuration[0].Errors)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/admin/plugin_settings/github.pr",
		strings.NewReader(`{"configuration":[{"key":"url","value":"https://example.com"},{"key":"token","value":"s3cret"}]}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var saved settingsView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	require.Len(t, saved.Configuration, 2)
	assert.Equal(t, "token", saved.Configuration[0].Key)
	assert.Empty(t, saved.Configuration[0].Value)
	assert.NotEmpty(t, saved.Configuration[0].EncryptedValue)
	assert.NotContains(t, rec.Body.String(), "s3cret")
	assert.Equal(t, "https://example.com", saved.Configuration[1].Value)

	rec, _ = f.do(t, http.MethodGet, "/api/admin/plugin_settings/github.pr", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/plugin_settings/github.pr/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var history []settingsView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "github.pr", history[0].PluginID)
	assert.NotContains(t, rec.Body.String(), "s3cret")
}

func TestPlugins(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/plugins", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []plugin.Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "github.pr", list[0].ID)
}

func TestAPIKeyGuardsAdminEndpoints(t *testing.T) {
	f := newFixture(t, WithAuth([]string{"key-1"}))

	rec, body := f.do(t, http.MethodGet, "/api/admin/config_repos", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized: Missing API key", body["message"])

	rec, body = f.do(t, http.MethodGet, "/api/admin/config_repos", "", http.Header{"Authorization": {"Basic abc"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized: Invalid Authorization format", body["message"])

	rec, _ = f.do(t, http.MethodGet, "/api/admin/config_repos", "", http.Header{"Authorization": {"Bearer nope"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/admin/config_repos", "", http.Header{"Authorization": {"Bearer key-1"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health and webhooks stay open.
	rec, _ = f.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookIsServed(t *testing.T) {
	f := newFixture(t)
	payload := `{"object_kind":"push","ref":"refs/heads/main","project":{"path_with_namespace":"acme/app","git_http_url":"https://gitlab.com/acme/app.git"}}`
	rec, _ := f.do(t, http.MethodPost, "/api/webhooks/gitlab/notify", payload, http.Header{
		"Content-Type":   {"application/json"},
		"X-Gitlab-Event": {"Push Hook"},
		"X-Gitlab-Token": {"gl-token"},
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, f.repos.matched, "https://gitlab.com/acme/app.git")
}

func TestStartStop(t *testing.T) {
	srv, err := New(WithLogger(log.NewTestLogger()))
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, srv.Serve(lis))
	assert.Error(t, srv.Serve(lis))

	resp, err := http.Get("http://" + srv.Addr().String() + "/api/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ok")

	require.NoError(t, srv.Stop())
}

func TestNew_TLSNeedsFiles(t *testing.T) {
	_, err := New(WithTLS("", ""))
	assert.Error(t, err)
}
