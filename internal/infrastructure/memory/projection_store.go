package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jhoicas/inventario-ledger/internal/domain"
	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/inventario-ledger/internal/domain/repository"
)

var _ repository.ProjectionRepository = (*ProjectionStore)(nil)

// ProjectionStore proyección en memoria. Cada ítem guarda un snapshot inmutable detrás de un
// atomic.Pointer: ApplyDelta es un compare-and-swap sin locks por clave.
type ProjectionStore struct {
	mu    sync.RWMutex
	items map[string]*atomic.Pointer[entity.InventoryItem]
	keys  map[string]string // producto|bodega -> itemID
}

// NewProjectionStore construye una proyección vacía.
func NewProjectionStore() *ProjectionStore {
	return &ProjectionStore{
		items: make(map[string]*atomic.Pointer[entity.InventoryItem]),
		keys:  make(map[string]string),
	}
}

func (s *ProjectionStore) slot(itemID string) (*atomic.Pointer[entity.InventoryItem], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[itemID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (s *ProjectionStore) CurrentQuantity(_ context.Context, itemID string) (int64, error) {
	p, err := s.slot(itemID)
	if err != nil {
		return 0, err
	}
	return p.Load().Quantity, nil
}

// ApplyDelta compare-and-swap sobre la cantidad. Si el snapshot cambió solo por Configure
// (misma cantidad) se reintenta internamente.
func (s *ProjectionStore) ApplyDelta(ctx context.Context, itemID string, delta, expectedPrevious int64) (repository.AppliedDelta, error) {
	p, err := s.slot(itemID)
	if err != nil {
		return repository.AppliedDelta{}, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return repository.AppliedDelta{}, err
		}
		cur := p.Load()
		if cur.Quantity != expectedPrevious {
			return repository.AppliedDelta{}, domain.ErrStaleQuantity
		}
		newQty := cur.Quantity + delta
		if newQty < 0 {
			return repository.AppliedDelta{}, domain.ErrInsufficientStock
		}
		next := *cur
		next.Quantity = newQty
		next.Version = cur.Version + 1
		next.UpdatedAt = time.Now()
		if p.CompareAndSwap(cur, &next) {
			return repository.AppliedDelta{
				PreviousQuantity: cur.Quantity,
				NewQuantity:      newQty,
				Sequence:         next.Version,
			}, nil
		}
	}
}

func (s *ProjectionStore) Get(_ context.Context, itemID string) (*entity.InventoryItem, error) {
	p, err := s.slot(itemID)
	if err != nil {
		return nil, err
	}
	return cloneItem(p.Load()), nil
}

func (s *ProjectionStore) Resolve(_ context.Context, productID, warehouseID string) (*entity.InventoryItem, error) {
	key := productID + "|" + warehouseID
	s.mu.RLock()
	id, ok := s.keys[key]
	s.mu.RUnlock()
	if ok {
		p, _ := s.slot(id)
		return cloneItem(p.Load()), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.keys[key]; ok {
		return cloneItem(s.items[id].Load()), nil
	}
	now := time.Now()
	item := &entity.InventoryItem{
		ID:          uuid.New().String(),
		ProductID:   productID,
		WarehouseID: warehouseID,
		Status:      entity.ItemStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	p := &atomic.Pointer[entity.InventoryItem]{}
	p.Store(item)
	s.items[item.ID] = p
	s.keys[key] = item.ID
	return cloneItem(item), nil
}

func (s *ProjectionStore) Configure(_ context.Context, itemID string, settings entity.ItemSettings) (*entity.InventoryItem, error) {
	p, err := s.slot(itemID)
	if err != nil {
		return nil, err
	}
	for {
		cur := p.Load()
		next := *cur
		next.MinStockLevel = settings.MinStockLevel
		next.MaxStockLevel = nil
		if settings.MaxStockLevel != nil {
			v := *settings.MaxStockLevel
			next.MaxStockLevel = &v
		}
		next.ReorderPoint = settings.ReorderPoint
		next.Status = settings.Status
		next.UpdatedAt = time.Now()
		if p.CompareAndSwap(cur, &next) {
			return cloneItem(&next), nil
		}
	}
}

func (s *ProjectionStore) List(_ context.Context, limit, offset int) ([]*entity.InventoryItem, error) {
	all := s.snapshot()
	if offset >= len(all) {
		return []*entity.InventoryItem{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

func (s *ProjectionStore) ListBelowReorderPoint(_ context.Context, warehouseID string) ([]*entity.InventoryItem, error) {
	var out []*entity.InventoryItem
	for _, item := range s.snapshot() {
		if warehouseID != "" && item.WarehouseID != warehouseID {
			continue
		}
		if item.BelowReorderPoint() {
			out = append(out, item)
		}
	}
	return out, nil
}

// snapshot copia de todos los ítems ordenada por fecha de creación e ID.
func (s *ProjectionStore) snapshot() []*entity.InventoryItem {
	s.mu.RLock()
	out := make([]*entity.InventoryItem, 0, len(s.items))
	for _, p := range s.items {
		out = append(out, cloneItem(p.Load()))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func cloneItem(item *entity.InventoryItem) *entity.InventoryItem {
	c := *item
	if item.MaxStockLevel != nil {
		v := *item.MaxStockLevel
		c.MaxStockLevel = &v
	}
	return &c
}
