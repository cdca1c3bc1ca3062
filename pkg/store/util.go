package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

var (
	// ErrNotFound is wrapped by errors for missing resources and versions.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is wrapped by Create for an existing resource.
	ErrAlreadyExists = errors.New("already exists")

	// ErrClosed is returned by a store that is not open.
	ErrClosed = errors.New("store is closed")
)

// MakeKey creates a standardized key for a resource.
func MakeKey(resourceType ResourceType, namespace, name string) []byte {
	return []byte(fmt.Sprintf("%s/%s/%s", resourceType, namespace, name))
}

// MakeVersionKey creates a standardized key for a resource version.
func MakeVersionKey(resourceType ResourceType, namespace, name, version string) []byte {
	return []byte(fmt.Sprintf("%s-versions/%s/%s/%s", resourceType, namespace, name, version))
}

// MakePrefix creates a prefix for listing resources by type and namespace.
// An empty namespace lists every namespace.
func MakePrefix(resourceType ResourceType, namespace string) []byte {
	if namespace == "" {
		return []byte(fmt.Sprintf("%s/", resourceType))
	}
	return []byte(fmt.Sprintf("%s/%s/", resourceType, namespace))
}

// MakeVersionPrefix creates a prefix for listing resource versions.
func MakeVersionPrefix(resourceType ResourceType, namespace, name string) []byte {
	return []byte(fmt.Sprintf("%s-versions/%s/%s/", resourceType, namespace, name))
}

// versionClock hands out version ids that sort in creation order, even for
// writes within the same clock tick.
type versionClock struct {
	last atomic.Int64
}

func (c *versionClock) next(now time.Time) string {
	for {
		last := c.last.Load()
		n := now.UnixNano()
		if n <= last {
			n = last + 1
		}
		if c.last.CompareAndSwap(last, n) {
			return fmt.Sprintf("v%020d", n)
		}
	}
}

type versionRecord struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Resource  json.RawMessage `json:"resource"`
}

func encodeVersion(id string, now time.Time, data []byte) ([]byte, error) {
	out, err := json.Marshal(versionRecord{ID: id, Timestamp: now, Resource: data})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize version: %w", err)
	}
	return out, nil
}

func decodeVersion(raw []byte) (HistoricalVersion, error) {
	var v versionRecord
	if err := json.Unmarshal(raw, &v); err != nil {
		return HistoricalVersion{}, fmt.Errorf("failed to deserialize version: %w", err)
	}
	return HistoricalVersion{Version: v.ID, Timestamp: v.Timestamp, Resource: v.Resource}, nil
}

// UnmarshalResource converts a resource interface to a target type using JSON marshaling/unmarshaling.
func UnmarshalResource(source interface{}, target interface{}) error {
	jsonData, err := json.Marshal(source)
	if err != nil {
		return fmt.Errorf("failed to marshal resource: %w", err)
	}
	if err := json.Unmarshal(jsonData, target); err != nil {
		return fmt.Errorf("failed to unmarshal resource: %w", err)
	}
	return nil
}

func notFound(resourceType ResourceType, namespace, name string) error {
	return fmt.Errorf("resource %s/%s/%s %w", resourceType, namespace, name, ErrNotFound)
}

func alreadyExists(resourceType ResourceType, namespace, name string) error {
	return fmt.Errorf("resource %s/%s/%s %w", resourceType, namespace, name, ErrAlreadyExists)
}

// IsAlreadyExistsError checks if an error is an already exists error.
func IsAlreadyExistsError(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsNotFoundError checks if an error is a not found error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
