package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rzbill/cruise/pkg/log"
)

var _ Store = &MemoryStore{}

// MemoryStore is an in-memory implementation of the Store interface for
// tests and for servers started without a data directory. Resources are held
// as JSON so callers never share memory with the store.
type MemoryStore struct {
	mutex    sync.RWMutex
	data     map[string][]byte
	versions map[string][]HistoricalVersion
	watches  *watchHub
	clock    versionClock
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string][]byte),
		versions: make(map[string][]HistoricalVersion),
		watches:  newWatchHub(log.GetDefaultLogger().WithComponent("store")),
	}
}

// Open initializes the memory store.
func (m *MemoryStore) Open(string) error { return nil }

// Close closes every watch.
func (m *MemoryStore) Close() error {
	m.watches.close()
	return nil
}

func (m *MemoryStore) record(key string, data []byte) {
	now := time.Now()
	m.data[key] = data
	m.versions[key] = append(m.versions[key], HistoricalVersion{
		Version:   m.clock.next(now),
		Timestamp: now,
		Resource:  data,
	})
}

// Create creates a new resource.
func (m *MemoryStore) Create(ctx context.Context, resourceType ResourceType, namespace, name string, resource interface{}) error {
	data, err := json.Marshal(resource)
	if err != nil {
		return fmt.Errorf("failed to serialize resource: %w", err)
	}

	m.mutex.Lock()
	key := string(MakeKey(resourceType, namespace, name))
	if _, ok := m.data[key]; ok {
		m.mutex.Unlock()
		return alreadyExists(resourceType, namespace, name)
	}
	m.record(key, data)
	m.mutex.Unlock()

	m.watches.emit(WatchEvent{Type: WatchEventCreated, ResourceType: resourceType, Namespace: namespace, Name: name, Resource: resource})
	return nil
}

// Get retrieves an object from the memory store.
func (m *MemoryStore) Get(ctx context.Context, resourceType ResourceType, namespace, name string, value interface{}) error {
	m.mutex.RLock()
	data, ok := m.data[string(MakeKey(resourceType, namespace, name))]
	m.mutex.RUnlock()
	if !ok {
		return notFound(resourceType, namespace, name)
	}
	return json.Unmarshal(data, value)
}

// List retrieves all resources of a type in a namespace, ordered by key.
func (m *MemoryStore) List(ctx context.Context, resourceType ResourceType, namespace string, value interface{}) error {
	prefix := string(MakePrefix(resourceType, namespace))

	m.mutex.RLock()
	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	items := make([]json.RawMessage, 0, len(keys))
	for _, k := range keys {
		items = append(items, m.data[k])
	}
	m.mutex.RUnlock()

	return UnmarshalResource(items, value)
}

// Update updates an existing resource.
func (m *MemoryStore) Update(ctx context.Context, resourceType ResourceType, namespace, name string, value interface{}, opts ...UpdateOption) error {
	options := ParseUpdateOptions(opts...)
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize resource: %w", err)
	}

	m.mutex.Lock()
	key := string(MakeKey(resourceType, namespace, name))
	if _, ok := m.data[key]; !ok {
		m.mutex.Unlock()
		return notFound(resourceType, namespace, name)
	}
	m.record(key, data)
	m.mutex.Unlock()

	m.watches.emit(WatchEvent{
		Type:         WatchEventUpdated,
		ResourceType: resourceType,
		Namespace:    namespace,
		Name:         name,
		Resource:     value,
		Source:       options.Source,
	})
	return nil
}

// Delete removes a resource. Its history is kept.
func (m *MemoryStore) Delete(ctx context.Context, resourceType ResourceType, namespace, name string) error {
	m.mutex.Lock()
	key := string(MakeKey(resourceType, namespace, name))
	data, ok := m.data[key]
	if !ok {
		m.mutex.Unlock()
		return notFound(resourceType, namespace, name)
	}
	delete(m.data, key)
	m.mutex.Unlock()

	m.watches.emit(WatchEvent{Type: WatchEventDeleted, ResourceType: resourceType, Namespace: namespace, Name: name, Resource: json.RawMessage(data)})
	return nil
}

// Watch sets up a watch for changes to resources of a given type.
func (m *MemoryStore) Watch(ctx context.Context, resourceType ResourceType, namespace string) (<-chan WatchEvent, error) {
	return m.watches.watch(ctx, resourceType, namespace)
}

// GetHistory returns the versions of a resource, newest first.
func (m *MemoryStore) GetHistory(ctx context.Context, resourceType ResourceType, namespace, name string) ([]HistoricalVersion, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	versions := m.versions[string(MakeKey(resourceType, namespace, name))]
	out := make([]HistoricalVersion, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		out = append(out, versions[i])
	}
	return out, nil
}

// GetVersion decodes one version of a resource into value.
func (m *MemoryStore) GetVersion(ctx context.Context, resourceType ResourceType, namespace, name, version string, value interface{}) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, v := range m.versions[string(MakeKey(resourceType, namespace, name))] {
		if v.Version == version {
			return json.Unmarshal(v.Resource, value)
		}
	}
	return fmt.Errorf("version %s of resource %s/%s/%s %w", version, resourceType, namespace, name, ErrNotFound)
}
