package repos

import (
	"context"

	"github.com/rzbill/cruise/pkg/partial"
	"github.com/rzbill/cruise/pkg/store"
)

var _ partial.Repository = (*PartialConfigRepo)(nil)

// PartialConfigRepo stores config repository snapshots. The snapshot kind is
// the namespace and the repo id the name.
type PartialConfigRepo struct {
	base *BaseRepo[partial.Snapshot]
}

func NewPartialConfigRepo(core store.Store) *PartialConfigRepo {
	return &PartialConfigRepo{base: NewBaseRepo[partial.Snapshot](core, store.ResourcePartialConfig)}
}

// Get implements partial.Repository.
func (r *PartialConfigRepo) Get(ctx context.Context, kind partial.Kind, repoID string) (*partial.Snapshot, error) {
	s, err := r.base.Get(ctx, string(kind), repoID)
	if store.IsNotFoundError(err) {
		return nil, partial.ErrNotFound
	}
	return s, err
}

// Save implements partial.Repository.
func (r *PartialConfigRepo) Save(ctx context.Context, kind partial.Kind, s *partial.Snapshot) error {
	return r.base.Put(ctx, string(kind), s.RepoID, s, store.WithSource(store.EventSourcePoll))
}

// Delete implements partial.Repository.
func (r *PartialConfigRepo) Delete(ctx context.Context, kind partial.Kind, repoID string) error {
	err := r.base.Delete(ctx, string(kind), repoID)
	if store.IsNotFoundError(err) {
		return partial.ErrNotFound
	}
	return err
}

// List implements partial.Repository.
func (r *PartialConfigRepo) List(ctx context.Context, kind partial.Kind) ([]*partial.Snapshot, error) {
	return r.base.List(ctx, string(kind))
}

// Revisions returns the revisions recorded for repoID, newest first.
func (r *PartialConfigRepo) Revisions(ctx context.Context, kind partial.Kind, repoID string) ([]string, error) {
	snapshots, err := r.base.History(ctx, string(kind), repoID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, s.Revision)
	}
	return out, nil
}
