// Package store provides the state storage used by the cruise server: saved
// plugin settings and the partial configs last read from config repositories.
package store

import (
	"context"
	"time"
)

// ResourceType names a kind of stored resource.
type ResourceType string

const (
	// ResourcePluginSettings holds plugin settings keyed by plugin id.
	ResourcePluginSettings ResourceType = "plugin-settings"

	// ResourcePartialConfig holds partial configs keyed by config repo id.
	ResourcePartialConfig ResourceType = "partial-configs"
)

// Store defines the interface for state storage operations.
type Store interface {
	// Open initializes and opens the store.
	Open(path string) error

	// Close closes the store and releases resources.
	Close() error

	// Create creates a new resource.
	Create(ctx context.Context, resourceType ResourceType, namespace string, name string, resource interface{}) error

	// Get retrieves a resource by type, namespace, and name.
	Get(ctx context.Context, resourceType ResourceType, namespace string, name string, resource interface{}) error

	// List retrieves all resources of a given type in a namespace.
	List(ctx context.Context, resourceType ResourceType, namespace string, resource interface{}) error

	// Update updates an existing resource.
	Update(ctx context.Context, resourceType ResourceType, namespace string, name string, resource interface{}, opts ...UpdateOption) error

	// Delete deletes a resource. Its history is kept.
	Delete(ctx context.Context, resourceType ResourceType, namespace string, name string) error

	// Watch streams changes to resources of a given type. An empty
	// namespace watches every namespace.
	Watch(ctx context.Context, resourceType ResourceType, namespace string) (<-chan WatchEvent, error)

	// GetHistory retrieves historical versions of a resource, newest first.
	GetHistory(ctx context.Context, resourceType ResourceType, namespace string, name string) ([]HistoricalVersion, error)

	// GetVersion decodes a specific version of a resource into resource.
	GetVersion(ctx context.Context, resourceType ResourceType, namespace string, name string, version string, resource interface{}) error
}

// WatchEventType defines the type of watch event.
type WatchEventType string

const (
	// WatchEventCreated indicates a resource was created.
	WatchEventCreated WatchEventType = "CREATED"

	// WatchEventUpdated indicates a resource was updated.
	WatchEventUpdated WatchEventType = "UPDATED"

	// WatchEventDeleted indicates a resource was deleted.
	WatchEventDeleted WatchEventType = "DELETED"
)

// EventSource tells watchers what caused a change.
type EventSource string

const (
	EventSourceAPI     EventSource = "api"
	EventSourcePoll    EventSource = "poll"
	EventSourceWebhook EventSource = "webhook"
)

// WatchEvent represents a change to a resource.
type WatchEvent struct {
	// Type is the type of event (created, updated, deleted).
	Type WatchEventType

	// ResourceType is the type of resource affected.
	ResourceType ResourceType

	// Namespace is the namespace of the resource.
	Namespace string

	// Name is the name of the resource.
	Name string

	// Resource is the resource as written.
	Resource interface{}

	// Source is what caused the change, when known.
	Source EventSource
}

// HistoricalVersion represents a historical version of a resource.
type HistoricalVersion struct {
	// Version is the version identifier.
	Version string

	// Timestamp is when this version was created.
	Timestamp time.Time

	// Resource is the raw JSON of this version.
	Resource []byte
}

// UpdateOption configures an update.
type UpdateOption func(*UpdateOptions)

// UpdateOptions are the parsed update options.
type UpdateOptions struct {
	Source EventSource
}

// WithSource records what caused the update.
func WithSource(source EventSource) UpdateOption {
	return func(o *UpdateOptions) {
		o.Source = source
	}
}

// ParseUpdateOptions applies opts to zero options.
func ParseUpdateOptions(opts ...UpdateOption) UpdateOptions {
	var o UpdateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
