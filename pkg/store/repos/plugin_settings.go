package repos

import (
	"context"

	"github.com/rzbill/cruise/pkg/plugin/settings"
	"github.com/rzbill/cruise/pkg/store"
)

const settingsNamespace = "default"

var _ settings.HistoryRepository = (*PluginSettingsRepo)(nil)

// PluginSettingsRepo stores plugin settings by plugin id.
type PluginSettingsRepo struct {
	base *BaseRepo[settings.PluginSettings]
}

func NewPluginSettingsRepo(core store.Store) *PluginSettingsRepo {
	return &PluginSettingsRepo{base: NewBaseRepo[settings.PluginSettings](core, store.ResourcePluginSettings)}
}

// Get implements settings.Repository.
func (r *PluginSettingsRepo) Get(ctx context.Context, pluginID string) (*settings.PluginSettings, error) {
	ps, err := r.base.Get(ctx, settingsNamespace, pluginID)
	if store.IsNotFoundError(err) {
		return nil, settings.ErrNotFound
	}
	return ps, err
}

// Save implements settings.Repository.
func (r *PluginSettingsRepo) Save(ctx context.Context, ps *settings.PluginSettings) error {
	return r.base.Put(ctx, settingsNamespace, ps.PluginID, ps, store.WithSource(store.EventSourceAPI))
}

// History implements settings.HistoryRepository.
func (r *PluginSettingsRepo) History(ctx context.Context, pluginID string) ([]*settings.PluginSettings, error) {
	return r.base.History(ctx, settingsNamespace, pluginID)
}
