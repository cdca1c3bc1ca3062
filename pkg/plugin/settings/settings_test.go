package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/crypto"
	"github.com/rzbill/cruise/pkg/log"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/extension"
	"github.com/rzbill/cruise/pkg/plugin/extension/packagematerial"
	"github.com/rzbill/cruise/pkg/plugin/extension/scm"
	"github.com/rzbill/cruise/pkg/plugin/plugintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ plugin.Listener            = (*MetadataLoader)(nil)
	_ configuration.SchemaSource = (*MetadataStore)(nil)
	_ Extension                  = (*scm.Extension)(nil)
)

type memoryRepository struct {
	mu    sync.Mutex
	saved map[string]*PluginSettings
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{saved: map[string]*PluginSettings{}}
}

func (r *memoryRepository) Get(_ context.Context, pluginID string) (*PluginSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.saved[pluginID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (r *memoryRepository) Save(_ context.Context, s *PluginSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[s.PluginID] = s
	return nil
}

func testCipher(t *testing.T) crypto.Cipher {
	t.Helper()
	c, err := crypto.NewAESCipher(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)
	return c
}

const settingsSchema = `{"url":{"required":true},"token":{"secure":true}}`

func scriptSettings(t *plugintest.Transport, pluginID string) *plugintest.Transport {
	return t.
		RespondOK(pluginID, extension.RequestPluginSettingsConfiguration, settingsSchema).
		RespondOK(pluginID, extension.RequestPluginSettingsView, `{"template":"<settings/>"}`)
}

type fixture struct {
	transport *plugintest.Transport
	manager   *plugin.Manager
	store     *MetadataStore
	loader    *MetadataLoader
}

func newFixture(transport *plugintest.Transport) *fixture {
	m := plugin.NewManager(transport, plugin.WithLogger(log.NewTestLogger()))
	store := NewMetadataStore()
	loader := NewMetadataLoader(store, log.NewTestLogger(), scm.New(m), packagematerial.New(m))
	m.AddListener(loader)
	return &fixture{transport: transport, manager: m, store: store, loader: loader}
}

func TestMetadataLoader(t *testing.T) {
	ctx := context.Background()
	f := newFixture(scriptSettings(plugintest.NewTransport(), "git"))

	f.manager.Load(ctx, plugintest.Descriptor("git", plugin.SCMExtension, "1.0"))

	md, ok := f.store.MetadataFor("git")
	require.True(t, ok)
	assert.Equal(t, plugin.SCMExtension, md.Extension)
	assert.Equal(t, "<settings/>", md.View)
	assert.Equal(t, []string{"url", "token"}, md.Configuration.Keys())

	schema, ok := f.store.SchemaFor("git")
	require.True(t, ok)
	assert.True(t, schema.IsSecure("token"))

	f.manager.Unload(ctx, "git")
	assert.False(t, f.store.Has("git"))
}

func TestMetadataLoader_FailedExtensionIsSkipped(t *testing.T) {
	ctx := context.Background()
	transport := plugintest.NewTransport().
		RespondOK("git", extension.RequestPluginSettingsConfiguration, settingsSchema)
	f := newFixture(transport)

	f.manager.Load(ctx, plugintest.Descriptor("git", plugin.SCMExtension, "1.0"))
	assert.False(t, f.store.Has("git"))
	assert.NoError(t, f.loader.Load(ctx, "git"))
}

func TestMetadataLoader_MoreThanOneExtension(t *testing.T) {
	ctx := context.Background()
	transport := scriptSettings(plugintest.NewTransport(), "both")
	m := plugintest.NewManager(transport, plugin.Descriptor{
		ID: "both",
		Extensions: map[string][]string{
			plugin.SCMExtension:             {"1.0"},
			plugin.PackageMaterialExtension: {"1.0"},
		},
	})
	store := NewMetadataStore()
	loader := NewMetadataLoader(store, log.NewTestLogger(), scm.New(m), packagematerial.New(m))

	err := loader.Load(ctx, "both")

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "Plugin with ID: both has more than one extension which supports plugin settings. "+
		"Only one extension should support it and respond to go.plugin-settings.get-configuration and go.plugin-settings.get-view.",
		err.Error())
	assert.False(t, store.Has("both"))
}

func TestNewPluginSettings(t *testing.T) {
	cipher := testCipher(t)
	schema := configuration.Schema{{Key: "url"}, {Key: "token", Secure: true}}

	ps, err := NewPluginSettings("git", map[string]string{"url": "https://example.com", "token": "s3cr3t"}, schema, cipher)
	require.NoError(t, err)

	assert.Equal(t, []string{"token", "url"}, ps.Configuration.Keys())
	token := ps.Configuration.GetProperty("token")
	require.NotNil(t, token)
	assert.True(t, token.IsSecure())
	assert.NotEqual(t, "s3cr3t", token.EncryptedValue())

	values, err := ps.Values(cipher)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"url": "https://example.com", "token": "s3cr3t"}, values)
}

func TestPluginSettings_JSONKeepsSecureValuesEncrypted(t *testing.T) {
	cipher := testCipher(t)
	schema := configuration.Schema{{Key: "token", Secure: true}}
	ps, err := NewPluginSettings("git", map[string]string{"token": "s3cr3t", "url": "u"}, schema, cipher)
	require.NoError(t, err)

	data, err := json.Marshal(ps)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "s3cr3t")

	var restored PluginSettings
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, "git", restored.PluginID)
	assert.True(t, restored.Configuration.GetProperty("token").IsSecure())
	values, err := restored.Values(cipher)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", values["token"])
	assert.Equal(t, "u", values["url"])
}

func loadedService(t *testing.T, transport *plugintest.Transport) (*Service, *memoryRepository) {
	t.Helper()
	f := newFixture(scriptSettings(transport, "git"))
	f.manager.Load(context.Background(), plugintest.Descriptor("git", plugin.SCMExtension, "1.0"))
	require.True(t, f.store.Has("git"))
	repo := newMemoryRepository()
	return NewService(f.loader, repo, testCipher(t), log.NewTestLogger()), repo
}

func TestService_ValidateRejectsUndecryptableSecureValues(t *testing.T) {
	transport := plugintest.NewTransport()
	svc, _ := loadedService(t, transport)

	ps := &PluginSettings{PluginID: "git"}
	ps.Configuration.Add(configuration.NewSecureProperty("secure-key", "value_encrypted_by_a_different_cipher"))

	require.NoError(t, svc.Validate(context.Background(), ps))

	assert.True(t, ps.HasErrors())
	assert.Equal(t, []string{
		"Encrypted value for property with key 'secure-key' is invalid. " +
			"This usually happens when the cipher text is modified to have an invalid value.",
	}, ps.Configuration.GetProperty("secure-key").Errors().All())
	assert.Zero(t, transport.Count(extension.RequestValidatePluginSettings))
}

func TestService_ValidateMapsPluginErrorsByKey(t *testing.T) {
	transport := plugintest.NewTransport().
		RespondOK("git", extension.RequestValidatePluginSettings,
			`[{"key":"url","message":"URL is malformed"},{"key":"region","message":"Region is required"}]`)
	svc, _ := loadedService(t, transport)

	ps, err := NewPluginSettings("git", map[string]string{"url": "nope"}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Validate(context.Background(), ps))

	assert.Equal(t, "URL is malformed",
		ps.Configuration.GetProperty("url").Errors().FirstOn(configuration.FieldConfigurationValue))
	assert.Equal(t, "Region is required", ps.Errors().FirstOn("region"))
	assert.JSONEq(t, `{"url":{"value":"nope"}}`, transport.Last().Body)
}

func TestService_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("stores valid settings and notifies the plugin", func(t *testing.T) {
		transport := plugintest.NewTransport().
			RespondOK("git", extension.RequestValidatePluginSettings, `[]`).
			RespondOK("git", extension.RequestPluginSettingsChanged, ``)
		svc, repo := loadedService(t, transport)

		ps, err := NewPluginSettings("git", map[string]string{"url": "https://example.com"}, nil, nil)
		require.NoError(t, err)
		require.NoError(t, svc.Save(ctx, ps))

		got, err := svc.Get(ctx, "git")
		require.NoError(t, err)
		assert.Same(t, ps, got)
		assert.Len(t, repo.saved, 1)
		assert.Equal(t, 1, transport.Count(extension.RequestPluginSettingsChanged))
		assert.JSONEq(t, `{"url":"https://example.com"}`, transport.Last().Body)
	})

	t.Run("a failed notification does not fail the save", func(t *testing.T) {
		transport := plugintest.NewTransport().
			RespondOK("git", extension.RequestValidatePluginSettings, `[]`)
		svc, repo := loadedService(t, transport)

		ps, err := NewPluginSettings("git", map[string]string{"url": "u"}, nil, nil)
		require.NoError(t, err)
		require.NoError(t, svc.Save(ctx, ps))
		assert.Len(t, repo.saved, 1)
		assert.Equal(t, 1, transport.Count(extension.RequestPluginSettingsChanged))
	})

	t.Run("invalid settings are not stored", func(t *testing.T) {
		transport := plugintest.NewTransport().
			RespondOK("git", extension.RequestValidatePluginSettings, `[{"key":"url","message":"bad"}]`)
		svc, repo := loadedService(t, transport)

		ps, err := NewPluginSettings("git", map[string]string{"url": "u"}, nil, nil)
		require.NoError(t, err)
		assert.ErrorIs(t, svc.Save(ctx, ps), ErrInvalid)
		assert.Empty(t, repo.saved)
		assert.Zero(t, transport.Count(extension.RequestPluginSettingsChanged))
	})

	t.Run("plugins without settings metadata are refused", func(t *testing.T) {
		svc, _ := loadedService(t, plugintest.NewTransport())

		err := svc.Save(ctx, &PluginSettings{PluginID: "unknown"})
		var unsupported *UnsupportedError
		require.True(t, errors.As(err, &unsupported))
		assert.Equal(t, "unknown", unsupported.PluginID)
	})
}

func TestService_GetMissing(t *testing.T) {
	svc, _ := loadedService(t, plugintest.NewTransport())
	_, err := svc.Get(context.Background(), "git")
	assert.ErrorIs(t, err, ErrNotFound)
}

type historyRepository struct {
	*memoryRepository
	revisions []*PluginSettings
}

func (r *historyRepository) History(_ context.Context, _ string) ([]*PluginSettings, error) {
	return r.revisions, nil
}

func TestService_History(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil, newMemoryRepository(), nil, log.NewTestLogger())

	history, err := svc.History(ctx, "git")
	require.NoError(t, err)
	assert.Empty(t, history)

	current := &PluginSettings{PluginID: "git"}
	require.NoError(t, svc.repo.Save(ctx, current))
	history, err = svc.History(ctx, "git")
	require.NoError(t, err)
	assert.Equal(t, []*PluginSettings{current}, history)

	older := &PluginSettings{PluginID: "git"}
	svc = NewService(nil, &historyRepository{memoryRepository: newMemoryRepository(), revisions: []*PluginSettings{current, older}}, nil, log.NewTestLogger())
	history, err = svc.History(ctx, "git")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
