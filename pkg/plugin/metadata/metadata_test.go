package metadata

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/log"
	"github.com/rzbill/cruise/pkg/packages"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/extension/artifact"
	"github.com/rzbill/cruise/pkg/plugin/extension/authorization"
	"github.com/rzbill/cruise/pkg/plugin/extension/packagematerial"
	"github.com/rzbill/cruise/pkg/plugin/extension/scm"
	"github.com/rzbill/cruise/pkg/plugin/plugintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ configuration.SchemaSource = (*SCMStore)(nil)
	_ packages.MetadataSource    = (*PackageStore)(nil)
	_ plugin.Listener            = (*SCMLoader)(nil)
	_ plugin.Listener            = (*PackageLoader)(nil)
	_ plugin.Listener            = (*AuthorizationLoader)(nil)
	_ plugin.Listener            = (*ArtifactLoader)(nil)
)

func TestStore(t *testing.T) {
	s := NewStore[string]()
	s.AddMetadataFor("b", "two")
	s.AddMetadataFor("a", "one")

	v, ok := s.MetadataFor("a")
	assert.True(t, ok)
	assert.Equal(t, "one", v)
	assert.Equal(t, []string{"a", "b"}, s.PluginIDs())

	s.RemoveMetadataFor("a")
	assert.False(t, s.Has("a"))
	assert.True(t, s.Has("b"))

	s.Clear()
	assert.Empty(t, s.PluginIDs())
}

func TestStore_ConcurrentReadersAndWriters(t *testing.T) {
	s := NewStore[int]()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.AddMetadataFor(fmt.Sprintf("p-%d-%d", i, j), j)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.PluginIDs()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, s.PluginIDs(), 800)
}

func newManager(transport *plugintest.Transport) *plugin.Manager {
	return plugin.NewManager(transport, plugin.WithLogger(log.NewTestLogger()))
}

func TestSCMLoader(t *testing.T) {
	ctx := context.Background()
	transport := plugintest.NewTransport().
		RespondOK("git", scm.RequestSCMConfiguration, `{"url":{"part-of-identity":true}}`).
		RespondOK("git", scm.RequestSCMView, `{"displayValue":"Git","template":"<div/>"}`).
		RespondOK("broken", scm.RequestSCMConfiguration, `{"url":{}}`)
	m := newManager(transport)
	store := NewSCMStore()
	m.AddListener(NewSCMLoader(scm.New(m), store, WithLogger(log.NewTestLogger())))

	m.Load(ctx, plugintest.Descriptor("git", plugin.SCMExtension, "1.0"))
	m.Load(ctx, plugintest.Descriptor("broken", plugin.SCMExtension, "1.0"))
	m.Load(ctx, plugintest.Descriptor("ldap", plugin.AuthorizationExtension, "1.0"))

	schema, ok := store.SchemaFor("git")
	require.True(t, ok)
	assert.True(t, schema.IsPartOfIdentity("url"))
	md, _ := store.MetadataFor("git")
	assert.Equal(t, "Git", md.View.DisplayValue)

	assert.False(t, store.Has("broken"), "view failed, nothing cached")
	assert.False(t, store.Has("ldap"))

	m.Unload(ctx, "git")
	assert.False(t, store.Has("git"))
}

func TestPackageLoader(t *testing.T) {
	ctx := context.Background()
	transport := plugintest.NewTransport().
		RespondOK("yum", packagematerial.RequestRepositoryConfiguration, `{"REPO_URL":{}}`).
		RespondOK("yum", packagematerial.RequestPackageConfiguration, `{"PACKAGE_SPEC":{"part-of-identity":false}}`)
	m := newManager(transport)
	store := NewPackageStore()
	m.AddListener(NewPackageLoader(packagematerial.New(m), store, WithLogger(log.NewTestLogger())))

	m.Load(ctx, plugintest.Descriptor("yum", plugin.PackageMaterialExtension, "1.0"))

	repo, ok := store.RepositorySchema("yum")
	require.True(t, ok)
	assert.True(t, repo.IsPartOfIdentity("REPO_URL"))
	pkg, ok := store.PackageSchema("yum")
	require.True(t, ok)
	assert.False(t, pkg.IsPartOfIdentity("PACKAGE_SPEC"))

	_, ok = store.PackageSchema("missing")
	assert.False(t, ok)
}

func authTransport(id, capabilities string) *plugintest.Transport {
	return plugintest.NewTransport().
		RespondOK(id, authorization.RequestGetCapabilities, capabilities).
		RespondOK(id, authorization.RequestGetAuthConfigMetadata, `[{"key":"Url","metadata":{"required":true}}]`).
		RespondOK(id, authorization.RequestGetAuthConfigView, `{"template":"<auth/>"}`)
}

func TestAuthorizationLoader(t *testing.T) {
	ctx := context.Background()

	t.Run("stores metadata without role config when the plugin cannot authorize", func(t *testing.T) {
		transport := authTransport("ldap", `{"supported_auth_type":"password","can_search":true,"can_authorize":false}`)
		m := newManager(transport)
		store := NewAuthorizationStore()
		m.AddListener(NewAuthorizationLoader(authorization.New(m), store, WithLogger(log.NewTestLogger())))

		m.Load(ctx, plugintest.Descriptor("ldap", plugin.AuthorizationExtension, "1.0"))

		md, ok := store.MetadataFor("ldap")
		require.True(t, ok)
		assert.Nil(t, md.Icon, "icon failure is tolerated")
		assert.Nil(t, md.RoleConfig)
		assert.Equal(t, "<auth/>", md.AuthConfig.View)
		assert.True(t, store.CanSearch("ldap"))
		assert.Equal(t, []string{"ldap"}, store.PluginsSupporting(authorization.AuthTypePassword))
		assert.Zero(t, transport.Count(authorization.RequestGetRoleConfigMetadata))
	})

	t.Run("requires role config when the plugin can authorize", func(t *testing.T) {
		transport := authTransport("github", `{"supported_auth_type":"web","can_authorize":true}`)
		m := newManager(transport)
		store := NewAuthorizationStore()
		m.AddListener(NewAuthorizationLoader(authorization.New(m), store, WithLogger(log.NewTestLogger())))

		m.Load(ctx, plugintest.Descriptor("github", plugin.AuthorizationExtension, "1.0"))
		assert.False(t, store.Has("github"))
		assert.Equal(t, 1, transport.Count(authorization.RequestGetRoleConfigMetadata))

		transport.
			RespondOK("github", authorization.RequestGetRoleConfigMetadata, `[{"key":"Org"}]`).
			RespondOK("github", authorization.RequestGetRoleConfigView, `{"template":"<role/>"}`).
			RespondOK("github", authorization.RequestGetPluginIcon, `{"content_type":"image/png","data":"Zm9v"}`)
		m.Load(ctx, plugintest.Descriptor("github", plugin.AuthorizationExtension, "1.0"))

		md, ok := store.MetadataFor("github")
		require.True(t, ok)
		assert.Equal(t, "<role/>", md.RoleConfig.View)
		assert.Equal(t, "image/png", md.Icon.ContentType)
		assert.Equal(t, []string{"github"}, store.PluginsSupporting(authorization.AuthTypeWeb))

		m.Unload(ctx, "github")
		assert.False(t, store.Has("github"))
	})
}

func TestArtifactLoader(t *testing.T) {
	ctx := context.Background()
	transport := plugintest.NewTransport().
		RespondOK("s3", artifact.RequestGetCapabilities, `{}`).
		RespondOK("s3", artifact.RequestStoreConfigMetadata, `[{"key":"Bucket"}]`).
		RespondOK("s3", artifact.RequestStoreConfigView, `{"template":"<store/>"}`).
		RespondOK("s3", artifact.RequestPublishConfigMetadata, `[{"key":"Source"}]`).
		RespondOK("s3", artifact.RequestPublishConfigView, `{"template":"<publish/>"}`).
		RespondOK("s3", artifact.RequestFetchConfigMetadata, `[{"key":"Destination"}]`)
	m := newManager(transport)
	store := NewArtifactStore()
	m.AddListener(NewArtifactLoader(artifact.New(m), store, WithLogger(log.NewTestLogger())))

	m.Load(ctx, plugintest.Descriptor("s3", plugin.ArtifactExtension, "1.0"))
	assert.False(t, store.Has("s3"), "fetch view missing, partial metadata discarded")

	transport.RespondOK("s3", artifact.RequestFetchConfigView, `{"template":"<fetch/>"}`)
	m.Load(ctx, plugintest.Descriptor("s3", plugin.ArtifactExtension, "1.0"))

	md, ok := store.MetadataFor("s3")
	require.True(t, ok)
	assert.Equal(t, []string{"Bucket"}, md.Store.Schema.Keys())
	assert.Equal(t, "<fetch/>", md.Fetch.View)
	assert.Nil(t, md.Icon)
}
