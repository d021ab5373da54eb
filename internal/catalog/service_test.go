package catalog

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/repairdesk/internal/platform/httpx"
)

type stubStore struct {
	suppliers     map[string]Supplier
	materials     map[string]Material
	supplierCalls int
	materialCalls int
}

func (s *stubStore) Supplier(ctx context.Context, id string) (Supplier, error) {
	s.supplierCalls++
	sup, ok := s.suppliers[id]
	if !ok {
		return Supplier{}, fmt.Errorf("supplier %s: %w", id, ErrNotFound)
	}
	return sup, nil
}

func (s *stubStore) Material(ctx context.Context, registration string) (Material, error) {
	s.materialCalls++
	m, ok := s.materials[registration]
	if !ok {
		return Material{}, fmt.Errorf("material %s: %w", registration, ErrNotFound)
	}
	return m, nil
}

// blockingStore holds Supplier until release is closed.
type blockingStore struct {
	stubStore
	entered chan struct{}
	release chan struct{}
	loadErr error
}

func (b *blockingStore) Supplier(ctx context.Context, id string) (Supplier, error) {
	close(b.entered)
	<-b.release
	b.loadErr = ctx.Err()
	return b.stubStore.Supplier(ctx, id)
}

func newTestService(t *testing.T, store Store) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(store, NewCache(client, time.Minute), nil), mr
}

func TestSupplierIsCached(t *testing.T) {
	store := &stubStore{suppliers: map[string]Supplier{"S1": {ID: "S1", Name: "Talleres Norte", External: true}}}
	svc, mr := newTestService(t, store)
	ctx := context.Background()

	first, err := svc.Supplier(ctx, "S1")
	require.NoError(t, err)
	second, err := svc.Supplier(ctx, "S1")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.True(t, second.External)
	require.Equal(t, 1, store.supplierCalls)
	require.True(t, mr.Exists("catalog:supplier:S1"))

	svc.ForgetSupplier(ctx, "S1")
	require.False(t, mr.Exists("catalog:supplier:S1"))
	_, err = svc.Supplier(ctx, "S1")
	require.NoError(t, err)
	require.Equal(t, 2, store.supplierCalls)
}

func TestMaterialNotFoundIsNotCached(t *testing.T) {
	store := &stubStore{materials: map[string]Material{}}
	svc, mr := newTestService(t, store)
	ctx := context.Background()

	_, err := svc.Material(ctx, "89000009")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, httpx.ErrNotFound)
	require.False(t, mr.Exists("catalog:material:89000009"))

	_, err = svc.Material(ctx, "89000009")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 2, store.materialCalls)
}

func TestNilCacheFallsThrough(t *testing.T) {
	store := &stubStore{materials: map[string]Material{"89000001": {Registration: "89000001", Description: "Compresor"}}}
	svc := NewService(store, nil, nil)

	m, err := svc.Material(context.Background(), "89000001")
	require.NoError(t, err)
	require.Equal(t, "Compresor", m.Description)
}

func TestSupplierLoadSurvivesCancelledCaller(t *testing.T) {
	store := &blockingStore{
		stubStore: stubStore{suppliers: map[string]Supplier{"S1": {ID: "S1", Name: "Talleres Norte"}}},
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	svc, mr := newTestService(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Supplier(ctx, "S1")
		done <- err
	}()
	<-store.entered
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(store.release)
	sup, err := svc.Supplier(context.Background(), "S1")
	require.NoError(t, err)
	require.Equal(t, "Talleres Norte", sup.Name)
	require.NoError(t, store.loadErr)
	require.Equal(t, 1, store.supplierCalls)
	require.True(t, mr.Exists("catalog:supplier:S1"))
}
