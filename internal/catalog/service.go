package catalog

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// loadTimeout bounds a shared load once it no longer follows a request ctx.
const loadTimeout = 10 * time.Second

// Service answers catalog lookups through the cache, coalescing concurrent
// misses for the same key.
type Service struct {
	store  Store
	cache  *Cache
	group  singleflight.Group
	logger *slog.Logger
}

// NewService constructs the catalog service. cache may be nil.
func NewService(store Store, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, logger: logger}
}

// Supplier returns the supplier with id.
func (s *Service) Supplier(ctx context.Context, id string) (Supplier, error) {
	return coalesce[Supplier](ctx, s, keySupplier(id), func(ctx context.Context) (any, error) {
		return s.store.Supplier(ctx, id)
	})
}

// Material returns the material with registration.
func (s *Service) Material(ctx context.Context, registration string) (Material, error) {
	return coalesce[Material](ctx, s, keyMaterial(registration), func(ctx context.Context) (any, error) {
		return s.store.Material(ctx, registration)
	})
}

// coalesce runs one cache load per key for concurrent callers. The load
// ignores cancellation of the caller that started it. Each caller stops
// waiting when its own ctx ends.
func coalesce[T any](ctx context.Context, s *Service, key string, loader func(context.Context) (any, error)) (T, error) {
	var zero T
	ch := s.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		var v T
		err := s.cache.FetchJSON(lctx, key, &v, loader)
		return v, err
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// ForgetSupplier drops a cached supplier after an out-of-band edit.
func (s *Service) ForgetSupplier(ctx context.Context, id string) {
	if err := s.cache.Invalidate(ctx, keySupplier(id)); err != nil {
		s.logger.Warn("catalog invalidate supplier", slog.String("supplier_id", id), slog.Any("error", err))
	}
}
