package partial

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rzbill/cruise/pkg/log"
	"github.com/rzbill/cruise/pkg/merge"
)

// ErrNotFound is returned by a Repository for a missing snapshot.
var ErrNotFound = errors.New("partial snapshot not found")

// Kind tells which of the two snapshots of a config repository is meant.
type Kind string

const (
	// KindLastKnown is the latest revision that parsed.
	KindLastKnown Kind = "last-known"
	// KindLastValid is the latest revision that also merged without errors.
	KindLastValid Kind = "last-valid"
)

// Snapshot is the parsed content of a config repository at one revision.
type Snapshot struct {
	RepoID   string    `json:"repo_id"`
	URL      string    `json:"url"`
	PluginID string    `json:"plugin_id,omitempty"`
	Revision string    `json:"revision"`
	Files    Files     `json:"files"`
	ParsedAt time.Time `json:"parsed_at"`
}

// Origin returns the origin stamped on the snapshot's partial.
func (s *Snapshot) Origin() merge.RepoOrigin {
	return merge.RepoOrigin{
		Repo:     merge.ConfigRepo{ID: s.RepoID, URL: s.URL, PluginID: s.PluginID},
		Revision: s.Revision,
	}
}

// Partial parses the snapshot. Each call returns a fresh partial so merges
// never share mutable state.
func (s *Snapshot) Partial() (*merge.PartialConfig, error) {
	return Parse(s.Files, s.Origin())
}

// Repository persists snapshots.
type Repository interface {
	Get(ctx context.Context, kind Kind, repoID string) (*Snapshot, error)
	Save(ctx context.Context, kind Kind, s *Snapshot) error
	Delete(ctx context.Context, kind Kind, repoID string) error
	List(ctx context.Context, kind Kind) ([]*Snapshot, error)
}

// HistoryRepository is a Repository that keeps every saved snapshot.
type HistoryRepository interface {
	Repository
	Revisions(ctx context.Context, kind Kind, repoID string) ([]string, error)
}

// Cache keeps the last known and last valid snapshot of every config
// repository, backed by a Repository so a restart starts from the last
// valid partials.
type Cache struct {
	repo   Repository
	logger log.Logger

	mu    sync.RWMutex
	known map[string]*Snapshot
	valid map[string]*Snapshot
}

// NewCache returns an empty cache over repo.
func NewCache(repo Repository, logger log.Logger) *Cache {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Cache{
		repo:   repo,
		logger: logger.WithComponent("partial-cache"),
		known:  map[string]*Snapshot{},
		valid:  map[string]*Snapshot{},
	}
}

// Restore loads the persisted snapshots. Snapshots that no longer parse are
// dropped.
func (c *Cache) Restore(ctx context.Context) error {
	known, err := c.restore(ctx, KindLastKnown)
	if err != nil {
		return err
	}
	valid, err := c.restore(ctx, KindLastValid)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.known, c.valid = known, valid
	c.mu.Unlock()
	c.logger.Info("Restored config repository partials",
		log.Int("last_known", len(known)), log.Int("last_valid", len(valid)))
	return nil
}

func (c *Cache) restore(ctx context.Context, kind Kind) (map[string]*Snapshot, error) {
	list, err := c.repo.List(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s partials: %w", kind, err)
	}
	out := make(map[string]*Snapshot, len(list))
	for _, s := range list {
		if _, err := s.Partial(); err != nil {
			c.logger.Warn("Dropping stored partial that no longer parses",
				log.Repo(s.RepoID), log.Str("kind", string(kind)), log.Err(err))
			continue
		}
		out[s.RepoID] = s
	}
	return out, nil
}

// Record parses s and, when it parses, stores it as the last known snapshot
// of its repository.
func (c *Cache) Record(ctx context.Context, s *Snapshot) (*merge.PartialConfig, error) {
	p, err := s.Partial()
	if err != nil {
		return nil, err
	}
	if s.ParsedAt.IsZero() {
		s.ParsedAt = time.Now()
	}
	if err := c.repo.Save(ctx, KindLastKnown, s); err != nil {
		return nil, fmt.Errorf("failed to save last known partial of %s: %w", s.RepoID, err)
	}
	c.mu.Lock()
	c.known[s.RepoID] = s
	c.mu.Unlock()
	return p, nil
}

// Promote makes the last known snapshot of repoID its last valid one.
func (c *Cache) Promote(ctx context.Context, repoID string) error {
	c.mu.RLock()
	s, ok := c.known[repoID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no partial recorded for config repo %s: %w", repoID, ErrNotFound)
	}
	if err := c.repo.Save(ctx, KindLastValid, s); err != nil {
		return fmt.Errorf("failed to save last valid partial of %s: %w", repoID, err)
	}
	c.mu.Lock()
	c.valid[repoID] = s
	c.mu.Unlock()
	return nil
}

// LastKnown returns the last known snapshot of repoID.
func (c *Cache) LastKnown(repoID string) (*Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.known[repoID]
	return s, ok
}

// LastValid returns the last valid snapshot of repoID.
func (c *Cache) LastValid(repoID string) (*Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.valid[repoID]
	return s, ok
}

// LastKnownPartials parses every last known snapshot, ordered by repo id.
func (c *Cache) LastKnownPartials() ([]*merge.PartialConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return partialsOf(c.known)
}

// LastValidPartials parses every last valid snapshot, ordered by repo id.
func (c *Cache) LastValidPartials() ([]*merge.PartialConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return partialsOf(c.valid)
}

func partialsOf(snapshots map[string]*Snapshot) ([]*merge.PartialConfig, error) {
	ids := make([]string, 0, len(snapshots))
	for id := range snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*merge.PartialConfig, 0, len(ids))
	for _, id := range ids {
		p, err := snapshots[id].Partial()
		if err != nil {
			return nil, fmt.Errorf("config repo %s: %w", id, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Remove forgets both snapshots of repoID.
func (c *Cache) Remove(ctx context.Context, repoID string) error {
	c.mu.Lock()
	delete(c.known, repoID)
	delete(c.valid, repoID)
	c.mu.Unlock()
	for _, kind := range []Kind{KindLastKnown, KindLastValid} {
		if err := c.repo.Delete(ctx, kind, repoID); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to delete %s partial of %s: %w", kind, repoID, err)
		}
	}
	return nil
}

// History returns the revisions recorded as kind for repoID, newest first.
// It is empty when the repository keeps no history.
func (c *Cache) History(ctx context.Context, kind Kind, repoID string) ([]string, error) {
	h, ok := c.repo.(HistoryRepository)
	if !ok {
		return nil, nil
	}
	return h.Revisions(ctx, kind, repoID)
}
