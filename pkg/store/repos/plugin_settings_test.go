package repos

import (
	"context"
	"testing"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/plugin/settings"
	"github.com/rzbill/cruise/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pluginSettings(id string, values map[string]string) *settings.PluginSettings {
	ps := &settings.PluginSettings{PluginID: id}
	for k, v := range values {
		ps.Configuration.Add(configuration.NewProperty(k, v))
	}
	return ps
}

func TestPluginSettingsRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewPluginSettingsRepo(store.NewMemoryStore())

	_, err := repo.Get(ctx, "git")
	assert.ErrorIs(t, err, settings.ErrNotFound)

	require.NoError(t, repo.Save(ctx, pluginSettings("git", map[string]string{"url": "one"})))
	require.NoError(t, repo.Save(ctx, pluginSettings("git", map[string]string{"url": "two"})))

	got, err := repo.Get(ctx, "git")
	require.NoError(t, err)
	assert.Equal(t, "git", got.PluginID)
	assert.Equal(t, "two", got.Configuration.GetProperty("url").PlainValue())

	history, err := repo.History(ctx, "git")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "one", history[1].Configuration.GetProperty("url").PlainValue())


	history, err = repo.History(ctx, "yum")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestPluginSettingsRepo_SecureValuesStayEncrypted(t *testing.T) {
	ctx := context.Background()
	core := store.NewMemoryStore()
	repo := NewPluginSettingsRepo(core)

	ps := &settings.PluginSettings{PluginID: "git"}
	ps.Configuration.Add(configuration.NewSecureProperty("token", "AES:bm9uY2U=:c2VhbGVk"))
	require.NoError(t, repo.Save(ctx, ps))

	history, err := core.GetHistory(ctx, store.ResourcePluginSettings, "default", "git")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Contains(t, string(history[0].Resource), `"encrypted_value":"AES:bm9uY2U=:c2VhbGVk"`)

	got, err := repo.Get(ctx, "git")
	require.NoError(t, err)
	token := got.Configuration.GetProperty("token")
	require.NotNil(t, token)
	assert.True(t, token.IsSecure())
	assert.Equal(t, "AES:bm9uY2U=:c2VhbGVk", token.EncryptedValue())
}
