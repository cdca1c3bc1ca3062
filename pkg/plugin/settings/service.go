package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/rzbill/cruise/pkg/crypto"
	"github.com/rzbill/cruise/pkg/log"
	"github.com/rzbill/cruise/pkg/plugin/extension"
)

var (
	// ErrNotFound is returned by a Repository holding no settings for a plugin.
	ErrNotFound = errors.New("plugin settings not found")

	// ErrInvalid is returned by Save when validation recorded errors.
	ErrInvalid = errors.New("plugin settings are invalid")
)

// Repository persists plugin settings.
type Repository interface {
	Get(ctx context.Context, pluginID string) (*PluginSettings, error)
	Save(ctx context.Context, s *PluginSettings) error
}

// HistoryRepository is a Repository that keeps every saved revision.
type HistoryRepository interface {
	Repository
	History(ctx context.Context, pluginID string) ([]*PluginSettings, error)
}

// UnsupportedError is returned for a plugin with no settings metadata.
type UnsupportedError struct {
	PluginID string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("Plugin '%s' does not support plugin settings.", e.PluginID)
}

// Service validates, saves and reads plugin settings.
type Service struct {
	loader *MetadataLoader
	repo   Repository
	cipher crypto.Cipher
	logger log.Logger
}

// NewService returns a service answering for the plugins loader knows.
func NewService(loader *MetadataLoader, repo Repository, cipher crypto.Cipher, logger log.Logger) *Service {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Service{
		loader: loader,
		repo:   repo,
		cipher: cipher,
		logger: logger.WithComponent("plugin-settings"),
	}
}

// Metadata returns the settings metadata of pluginID.
func (s *Service) Metadata(pluginID string) (Metadata, bool) {
	return s.loader.store.MetadataFor(pluginID)
}

func (s *Service) extensionFor(pluginID string) (Extension, error) {
	md, ok := s.loader.store.MetadataFor(pluginID)
	if !ok {
		return nil, &UnsupportedError{PluginID: pluginID}
	}
	ext, ok := s.loader.extensionNamed(md.Extension)
	if !ok {
		return nil, &UnsupportedError{PluginID: pluginID}
	}
	return ext, nil
}

// Validate records problems on ps. Secure values must decrypt before the
// plugin is asked; the plugin's errors land on the properties they name.
// The returned error is for failures to validate at all.
func (s *Service) Validate(ctx context.Context, ps *PluginSettings) error {
	ext, err := s.extensionFor(ps.PluginID)
	if err != nil {
		return err
	}

	undecryptable := false
	for _, p := range ps.Configuration {
		if !p.IsSecure() {
			continue
		}
		if _, err := p.Value(s.cipher); err != nil {
			p.AddErrorAgainstConfigurationValue(fmt.Sprintf(
				"Encrypted value for property with key '%s' is invalid. "+
					"This usually happens when the cipher text is modified to have an invalid value.", p.Key()))
			undecryptable = true
		}
	}
	if undecryptable {
		return nil
	}

	values, err := extension.ValuesOf(ps.Configuration, s.cipher)
	if err != nil {
		return err
	}
	result, err := ext.ValidatePluginSettings(ctx, ps.PluginID, values)
	if err != nil {
		return err
	}
	for _, e := range result.Errors {
		ps.AddErrorFor(e.Key, e.Message)
	}
	return nil
}

// Save validates ps, stores it and tells the plugin. A failed notification
// is logged and does not fail the save.
func (s *Service) Save(ctx context.Context, ps *PluginSettings) error {
	if err := s.Validate(ctx, ps); err != nil {
		return err
	}
	if ps.HasErrors() {
		return ErrInvalid
	}
	if err := s.repo.Save(ctx, ps); err != nil {
		return fmt.Errorf("failed to save settings of plugin %s: %w", ps.PluginID, err)
	}
	s.notify(ctx, ps)
	return nil
}

// Get returns the saved settings of pluginID.
func (s *Service) Get(ctx context.Context, pluginID string) (*PluginSettings, error) {
	return s.repo.Get(ctx, pluginID)
}

// History returns the saved revisions of the settings of pluginID, newest
// first. Repositories without history return only the current settings.
func (s *Service) History(ctx context.Context, pluginID string) ([]*PluginSettings, error) {
	if h, ok := s.repo.(HistoryRepository); ok {
		return h.History(ctx, pluginID)
	}
	ps, err := s.repo.Get(ctx, pluginID)
	if errors.Is(err, ErrNotFound) {
		return []*PluginSettings{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []*PluginSettings{ps}, nil
}

func (s *Service) notify(ctx context.Context, ps *PluginSettings) {
	ext, err := s.extensionFor(ps.PluginID)
	if err != nil {
		return
	}
	values, err := extension.ValuesOf(ps.Configuration, s.cipher)
	if err != nil {
		s.logger.Warn("Cannot read plugin settings for change notification", log.Plugin(ps.PluginID), log.Err(err))
		return
	}
	if err := ext.NotifyPluginSettingsChange(ctx, ps.PluginID, values); err != nil {
		s.logger.Warn("Plugin settings change notification failed", log.Plugin(ps.PluginID), log.Err(err))
	}
}
