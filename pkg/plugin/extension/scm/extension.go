package scm

import (
	"context"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/extension"
)

// Request names.
const (
	RequestSCMConfiguration     = "scm-configuration"
	RequestSCMView              = "scm-view"
	RequestValidateSCM          = "validate-scm-configuration"
	RequestCheckSCMConnection   = "check-scm-connection"
	RequestLatestRevision       = "latest-revision"
	RequestLatestRevisionsSince = "latest-revisions-since"
	RequestCheckout             = "checkout"
)

// Extension is the SCM extension.
type Extension struct {
	extension.Base[Converter]
}

// New returns the extension speaking protocol 1.0.
func New(manager extension.PluginManager) *Extension {
	e := &Extension{Base: extension.NewBase[Converter](manager, plugin.SCMExtension, map[string]Converter{
		"1.0": ConverterV1{},
	})}
	e.WithPluginSettings(extension.SettingsVersions("1.0"))
	return e
}

// Configuration asks the plugin for its SCM schema.
func (e *Extension) Configuration(ctx context.Context, pluginID string) (configuration.Schema, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestSCMConfiguration, nil, Converter.ConfigurationFromResponse)
}

// View asks the plugin for its configuration form.
func (e *Extension) View(ctx context.Context, pluginID string) (*View, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestSCMView, nil, Converter.ViewFromResponse)
}

// IsConfigurationValid asks the plugin to validate cfg.
func (e *Extension) IsConfigurationValid(ctx context.Context, pluginID string, cfg extension.ConfigValues) (*plugin.ValidationResult, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestValidateSCM,
		func(c Converter) (string, error) { return c.ConfigurationRequest(cfg) },
		Converter.ValidationFromResponse)
}

// CheckConnection asks the plugin to reach the SCM described by cfg.
func (e *Extension) CheckConnection(ctx context.Context, pluginID string, cfg extension.ConfigValues) (*plugin.Result, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestCheckSCMConnection,
		func(c Converter) (string, error) { return c.ConfigurationRequest(cfg) },
		Converter.CheckConnectionFromResponse)
}

// LatestRevision polls for the newest revision. data is what the plugin
// returned on the previous poll.
func (e *Extension) LatestRevision(ctx context.Context, pluginID string, cfg extension.ConfigValues, data map[string]string, flyweight string) (*PollResult, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestLatestRevision,
		func(c Converter) (string, error) { return c.LatestRevisionRequest(cfg, data, flyweight) },
		Converter.LatestRevisionFromResponse)
}

// LatestRevisionsSince polls for every revision after previous.
func (e *Extension) LatestRevisionsSince(ctx context.Context, pluginID string, cfg extension.ConfigValues, data map[string]string, flyweight string, previous *Revision) (*PollResult, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestLatestRevisionsSince,
		func(c Converter) (string, error) {
			return c.LatestRevisionsSinceRequest(cfg, data, flyweight, previous)
		},
		Converter.LatestRevisionsSinceFromResponse)
}

// Checkout asks the plugin to check revision out into destination.
func (e *Extension) Checkout(ctx context.Context, pluginID string, cfg extension.ConfigValues, destination string, revision *Revision) (*plugin.Result, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestCheckout,
		func(c Converter) (string, error) { return c.CheckoutRequest(cfg, destination, revision) },
		Converter.CheckoutFromResponse)
}
