// Package repos provides typed repositories over the core store.
package repos

import (
	"context"

	"github.com/rzbill/cruise/pkg/store"
)

// BaseRepo stores values of T under one resource type. Every write keeps
// the previous value in the store's history.
type BaseRepo[T any] struct {
	core         store.Store
	resourceType store.ResourceType
}

func NewBaseRepo[T any](core store.Store, rt store.ResourceType) *BaseRepo[T] {
	return &BaseRepo[T]{core: core, resourceType: rt}
}

func (r *BaseRepo[T]) Get(ctx context.Context, namespace, name string) (*T, error) {
	var out T
	if err := r.core.Get(ctx, r.resourceType, namespace, name, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Put updates obj, creating it when it does not exist yet.
func (r *BaseRepo[T]) Put(ctx context.Context, namespace, name string, obj *T, opts ...store.UpdateOption) error {
	err := r.core.Update(ctx, r.resourceType, namespace, name, obj, opts...)
	if store.IsNotFoundError(err) {
		return r.core.Create(ctx, r.resourceType, namespace, name, obj)
	}
	return err
}

func (r *BaseRepo[T]) Delete(ctx context.Context, namespace, name string) error {
	return r.core.Delete(ctx, r.resourceType, namespace, name)
}

func (r *BaseRepo[T]) List(ctx context.Context, namespace string) ([]*T, error) {
	var items []T
	if err := r.core.List(ctx, r.resourceType, namespace, &items); err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(items))
	for i := range items {
		out = append(out, &items[i])
	}
	return out, nil
}

// History decodes every stored version of name, newest first.
func (r *BaseRepo[T]) History(ctx context.Context, namespace, name string) ([]*T, error) {
	versions, err := r.core.GetHistory(ctx, r.resourceType, namespace, name)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(versions))
	for _, v := range versions {
		var item T
		if err := r.core.GetVersion(ctx, r.resourceType, namespace, name, v.Version, &item); err != nil {
			return nil, err
		}
		out = append(out, &item)
	}
	return out, nil
}
