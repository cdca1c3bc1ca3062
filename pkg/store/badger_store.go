package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rzbill/cruise/pkg/log"
)

// Validate that BadgerStore implements the Store interface
var _ Store = &BadgerStore{}

// BadgerStore implements the Store interface using BadgerDB. Every write
// also records a version, so the history of a resource survives its
// deletion.
type BadgerStore struct {
	db      *badger.DB
	path    string
	logger  log.Logger
	watches *watchHub
	now     func() time.Time
	clock   versionClock
}

// NewBadgerStore creates a new BadgerDB-backed store.
func NewBadgerStore(logger log.Logger) *BadgerStore {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	logger = logger.WithComponent("store")

	return &BadgerStore{
		logger:  logger,
		watches: newWatchHub(logger),
		now:     time.Now,
	}
}

// Open opens the BadgerDB database. An empty path opens an in-memory
// database.
func (s *BadgerStore) Open(path string) error {
	s.path = path

	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = &badgerLogAdapter{logger: s.logger}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("failed to open badger db: %w", err)
	}
	s.db = db

	s.logger.Info("Cruise store opened", log.Str("path", path))
	return nil
}

// Close closes the BadgerDB database.
func (s *BadgerStore) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Info("Closing cruise store", log.Str("path", s.path))
	s.watches.close()
	err := s.db.Close()
	s.db = nil
	return err
}

// put writes data under the resource key and a new version next to it.
func (s *BadgerStore) put(txn *badger.Txn, resourceType ResourceType, namespace, name string, data []byte) error {
	if err := txn.Set(MakeKey(resourceType, namespace, name), data); err != nil {
		return fmt.Errorf("failed to store resource: %w", err)
	}
	now := s.now()
	id := s.clock.next(now)
	version, err := encodeVersion(id, now, data)
	if err != nil {
		return err
	}
	if err := txn.Set(MakeVersionKey(resourceType, namespace, name, id), version); err != nil {
		return fmt.Errorf("failed to store version: %w", err)
	}
	return nil
}

func (s *BadgerStore) write(resourceType ResourceType, namespace, name string, resource interface{}, create bool) error {
	if s.db == nil {
		return ErrClosed
	}
	data, err := json.Marshal(resource)
	if err != nil {
		return fmt.Errorf("failed to serialize resource: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(MakeKey(resourceType, namespace, name))
		switch {
		case err == nil && create:
			return alreadyExists(resourceType, namespace, name)
		case errors.Is(err, badger.ErrKeyNotFound) && !create:
			return notFound(resourceType, namespace, name)
		case err != nil && !errors.Is(err, badger.ErrKeyNotFound):
			return fmt.Errorf("failed to check existing resource: %w", err)
		}
		return s.put(txn, resourceType, namespace, name, data)
	})
}

// Create creates a new resource.
func (s *BadgerStore) Create(ctx context.Context, resourceType ResourceType, namespace string, name string, resource interface{}) error {
	s.logger.Debug("Creating resource",
		log.Any("resourceType", resourceType),
		log.Str("namespace", namespace),
		log.Str("name", name))

	if err := s.write(resourceType, namespace, name, resource, true); err != nil {
		return err
	}
	s.watches.emit(WatchEvent{Type: WatchEventCreated, ResourceType: resourceType, Namespace: namespace, Name: name, Resource: resource})
	return nil
}

// Get retrieves a resource.
func (s *BadgerStore) Get(ctx context.Context, resourceType ResourceType, namespace string, name string, resource interface{}) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(MakeKey(resourceType, namespace, name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return notFound(resourceType, namespace, name)
		} else if err != nil {
			return fmt.Errorf("failed to get resource: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, resource)
		})
	})
}

// Update updates an existing resource.
func (s *BadgerStore) Update(ctx context.Context, resourceType ResourceType, namespace string, name string, resource interface{}, opts ...UpdateOption) error {
	s.logger.Debug("Updating resource",
		log.Any("resourceType", resourceType),
		log.Str("namespace", namespace),
		log.Str("name", name))

	options := ParseUpdateOptions(opts...)
	if err := s.write(resourceType, namespace, name, resource, false); err != nil {
		return err
	}
	s.watches.emit(WatchEvent{
		Type:         WatchEventUpdated,
		ResourceType: resourceType,
		Namespace:    namespace,
		Name:         name,
		Resource:     resource,
		Source:       options.Source,
	})
	return nil
}

// Delete deletes a resource.
func (s *BadgerStore) Delete(ctx context.Context, resourceType ResourceType, namespace string, name string) error {
	s.logger.Debug("Deleting resource",
		log.Any("resourceType", resourceType),
		log.Str("namespace", namespace),
		log.Str("name", name))

	if s.db == nil {
		return ErrClosed
	}
	key := MakeKey(resourceType, namespace, name)
	var raw json.RawMessage
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return notFound(resourceType, namespace, name)
		} else if err != nil {
			return fmt.Errorf("failed to check existing resource: %w", err)
		}
		if raw, err = item.ValueCopy(nil); err != nil {
			return fmt.Errorf("failed to read resource: %w", err)
		}
		// Versions are kept.
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}
	s.watches.emit(WatchEvent{Type: WatchEventDeleted, ResourceType: resourceType, Namespace: namespace, Name: name, Resource: raw})
	return nil
}

// List retrieves all resources of a given type in a namespace.
func (s *BadgerStore) List(ctx context.Context, resourceType ResourceType, namespace string, resource interface{}) error {
	if s.db == nil {
		return ErrClosed
	}
	resources := []json.RawMessage{}
	prefix := MakePrefix(resourceType, namespace)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read resource: %w", err)
			}
			resources = append(resources, val)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("Found resources", log.Any("resourceType", resourceType), log.Int("count", len(resources)))
	return UnmarshalResource(resources, resource)
}

// GetHistory retrieves historical versions of a resource.
func (s *BadgerStore) GetHistory(ctx context.Context, resourceType ResourceType, namespace string, name string) ([]HistoricalVersion, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var versions []HistoricalVersion
	prefix := MakeVersionPrefix(resourceType, namespace, name)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true // newest first
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(append(append([]byte{}, prefix...), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				v, err := decodeVersion(val)
				if err != nil {
					return err
				}
				versions = append(versions, v)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return versions, err
}

// GetVersion retrieves a specific version of a resource.
func (s *BadgerStore) GetVersion(ctx context.Context, resourceType ResourceType, namespace string, name string, version string, resource interface{}) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(MakeVersionKey(resourceType, namespace, name, version))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("version %s of resource %s/%s/%s %w", version, resourceType, namespace, name, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		return item.Value(func(val []byte) error {
			v, err := decodeVersion(val)
			if err != nil {
				return err
			}
			return json.Unmarshal(v.Resource, resource)
		})
	})
}

// Watch sets up a watch for changes to resources of a given type.
func (s *BadgerStore) Watch(ctx context.Context, resourceType ResourceType, namespace string) (<-chan WatchEvent, error) {
	return s.watches.watch(ctx, resourceType, namespace)
}

// badgerLogAdapter adapts our logger to BadgerDB's logger interface.
type badgerLogAdapter struct {
	logger log.Logger
}

// Errorf implements badger.Logger.
func (l *badgerLogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("BadgerDB: "+format, args...)
}

// Warningf implements badger.Logger.
func (l *badgerLogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warnf("BadgerDB: "+format, args...)
}

// Infof implements badger.Logger.
func (l *badgerLogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Debugf("BadgerDB: "+format, args...)
}

// Debugf implements badger.Logger.
func (l *badgerLogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debugf("BadgerDB: "+format, args...)
}
