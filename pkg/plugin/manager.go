package plugin

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rzbill/cruise/pkg/log"
	"github.com/rzbill/cruise/pkg/metrics"
)

// Listener is told when plugins come and go. Callbacks run outside the
// manager's lock and may call back into it.
type Listener interface {
	PluginLoaded(ctx context.Context, d Descriptor)
	PluginUnloaded(ctx context.Context, d Descriptor)
}

type versionKey struct {
	pluginID  string
	extension string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger log.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics records every submitted request.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// Manager is the registry of loaded plugins. It negotiates the protocol
// version per plugin and extension and caches the result until the plugin
// is unloaded.
type Manager struct {
	transport Transport
	logger    log.Logger
	metrics   *metrics.Metrics

	mu        sync.RWMutex
	plugins   map[string]Descriptor
	versions  map[versionKey]string
	listeners []Listener
}

// NewManager returns a manager submitting requests through transport.
func NewManager(transport Transport, opts ...ManagerOption) *Manager {
	m := &Manager{
		transport: transport,
		logger:    log.GetDefaultLogger().WithComponent("plugin-manager"),
		plugins:   make(map[string]Descriptor),
		versions:  make(map[versionKey]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddListener registers l for load and unload events.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Load registers d, replacing any plugin with the same id, and notifies
// listeners.
func (m *Manager) Load(ctx context.Context, d Descriptor) {
	m.mu.Lock()
	if _, exists := m.plugins[d.ID]; exists {
		m.clearVersionsLocked(d.ID)
	}
	m.plugins[d.ID] = d
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	m.logger.Info("Plugin loaded", log.Plugin(d.ID), log.Any("extensions", d.ExtensionNames()))
	for _, l := range listeners {
		l.PluginLoaded(ctx, d)
	}
}

// Unload removes the plugin, drops its negotiated versions and notifies
// listeners. Unloading an unknown plugin is a no-op.
func (m *Manager) Unload(ctx context.Context, pluginID string) {
	m.mu.Lock()
	d, ok := m.plugins[pluginID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.plugins, pluginID)
	m.clearVersionsLocked(pluginID)
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	m.logger.Info("Plugin unloaded", log.Plugin(pluginID))
	for _, l := range listeners {
		l.PluginUnloaded(ctx, d)
	}
}

func (m *Manager) clearVersionsLocked(pluginID string) {
	for k := range m.versions {
		if k.pluginID == pluginID {
			delete(m.versions, k)
		}
	}
}

// Descriptor returns the descriptor of a loaded plugin.
func (m *Manager) Descriptor(pluginID string) (Descriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.plugins[pluginID]
	return d, ok
}

// HasPlugin reports whether pluginID is loaded.
func (m *Manager) HasPlugin(pluginID string) bool {
	_, ok := m.Descriptor(pluginID)
	return ok
}

// Plugins returns every loaded descriptor sorted by id.
func (m *Manager) Plugins() []Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Descriptor, 0, len(m.plugins))
	for _, d := range m.plugins {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsPluginOfType reports whether pluginID is loaded and implements extension.
func (m *Manager) IsPluginOfType(extension, pluginID string) bool {
	d, ok := m.Descriptor(pluginID)
	return ok && d.Implements(extension)
}

// ResolveExtensionVersion returns the highest version present in both
// serverVersions and the versions the plugin advertises for extension.
// The answer is cached until the plugin is unloaded or reloaded.
func (m *Manager) ResolveExtensionVersion(pluginID, extension string, serverVersions []string) (string, error) {
	key := versionKey{pluginID: pluginID, extension: extension}

	m.mu.RLock()
	d, ok := m.plugins[pluginID]
	cached, hit := m.versions[key]
	m.mu.RUnlock()
	if !ok {
		return "", &NotFoundError{PluginID: pluginID}
	}
	if hit {
		return cached, nil
	}

	resolved, err := HighestCommonVersion(serverVersions, d.Extensions[extension])
	if err != nil {
		return "", &UnsupportedVersionError{
			PluginID:       pluginID,
			Extension:      extension,
			ServerVersions: serverVersions,
			PluginVersions: d.Extensions[extension],
		}
	}

	m.mu.Lock()
	// The plugin may have been unloaded while negotiating.
	if _, still := m.plugins[pluginID]; still {
		m.versions[key] = resolved
	}
	m.mu.Unlock()

	m.logger.Debug("Resolved extension version", log.Plugin(pluginID), log.Extension(extension), log.Str("version", resolved))
	return resolved, nil
}

// Submit sends req to pluginID. The caller fills in the negotiated version.
func (m *Manager) Submit(ctx context.Context, pluginID string, req *Request) (*Response, error) {
	if !m.HasPlugin(pluginID) {
		return nil, &NotFoundError{PluginID: pluginID}
	}
	start := time.Now()
	resp, err := m.transport.Submit(ctx, pluginID, req)
	code := 0
	if resp != nil {
		code = resp.Code
	}
	m.metrics.ObservePluginRequest(pluginID, req.Extension, code, err, time.Since(start))
	return resp, err
}

// HighestCommonVersion picks the highest of serverVersions that the plugin
// also lists. Versions are compared semantically, so "1.0" matches "1.0.0".
// The server's spelling of the version is returned.
func HighestCommonVersion(serverVersions, pluginVersions []string) (string, error) {
	advertised := make([]*semver.Version, 0, len(pluginVersions))
	for _, raw := range pluginVersions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		advertised = append(advertised, v)
	}

	var (
		best    *semver.Version
		bestRaw string
	)
	for _, raw := range serverVersions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		for _, a := range advertised {
			if v.Equal(a) && (best == nil || v.GreaterThan(best)) {
				best, bestRaw = v, raw
			}
		}
	}
	if best == nil {
		return "", errNoCommonVersion
	}
	return bestRaw, nil
}

var errNoCommonVersion = errors.New("no common version")
