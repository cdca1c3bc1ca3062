package store

import (
	"github.com/rzbill/cruise/pkg/log"
)

// StoreOptions configure the core store.
type StoreOptions struct {
	// Path is the Badger data directory. Empty selects MemoryStore.
	Path string

	// Logger is handed to the store.
	Logger log.Logger
}

// New opens the store described by opts.
func New(opts StoreOptions) (Store, error) {
	var s Store
	if opts.Path == "" {
		s = NewMemoryStore()
	} else {
		s = NewBadgerStore(opts.Logger)
	}
	if err := s.Open(opts.Path); err != nil {
		return nil, err
	}
	return s, nil
}
