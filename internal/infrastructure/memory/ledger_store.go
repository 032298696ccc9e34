package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jhoicas/inventario-ledger/internal/domain"
	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/inventario-ledger/internal/domain/repository"
)

var _ repository.LedgerRepository = (*LedgerStore)(nil)

// LedgerStore ledger append-only en memoria (modo memory y tests).
type LedgerStore struct {
	mu     sync.RWMutex
	byItem map[string][]*entity.InventoryTransaction
	refs   map[string]*entity.InventoryTransaction
	ids    map[string]*entity.InventoryTransaction
}

// NewLedgerStore construye un ledger vacío.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		byItem: make(map[string][]*entity.InventoryTransaction),
		refs:   make(map[string]*entity.InventoryTransaction),
		ids:    make(map[string]*entity.InventoryTransaction),
	}
}

func refKey(itemID string, ref entity.Reference, txType string) string {
	return fmt.Sprintf("%s|%s|%s|%s", itemID, ref.ID, ref.Type, txType)
}

// Append guarda una copia de la transacción; rechaza referencias e IDs duplicados.
// El ID y la fecha por defecto se asignan solo a la copia guardada.
func (s *LedgerStore) Append(ctx context.Context, tx *entity.InventoryTransaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if err := tx.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var key string
	if tx.Reference != nil {
		key = refKey(tx.InventoryItemID, *tx.Reference, tx.Type)
		if _, ok := s.refs[key]; ok {
			return "", domain.ErrDuplicateReference
		}
	}
	stored := cloneTx(tx)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if _, ok := s.ids[stored.ID]; ok {
		return "", domain.ErrDuplicateReference
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	list := append(s.byItem[stored.InventoryItemID], stored)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Sequence < list[j].Sequence })
	s.byItem[stored.InventoryItemID] = list
	s.ids[stored.ID] = stored
	if key != "" {
		s.refs[key] = stored
	}
	return stored.ID, nil
}

func (s *LedgerStore) GetByID(_ context.Context, id string) (*entity.InventoryTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tx, ok := s.ids[id]; ok {
		return cloneTx(tx), nil
	}
	return nil, nil
}

// ListFor devuelve copias ordenadas por secuencia.
func (s *LedgerStore) ListFor(_ context.Context, itemID string, since *time.Time) ([]*entity.InventoryTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.InventoryTransaction, 0, len(s.byItem[itemID]))
	for _, tx := range s.byItem[itemID] {
		if since != nil && tx.CreatedAt.Before(*since) {
			continue
		}
		out = append(out, cloneTx(tx))
	}
	return out, nil
}

func (s *LedgerStore) FindByReference(_ context.Context, itemID string, ref entity.Reference, txType string) (*entity.InventoryTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tx, ok := s.refs[refKey(itemID, ref, txType)]; ok {
		return cloneTx(tx), nil
	}
	return nil, nil
}

func (s *LedgerStore) ListByReference(_ context.Context, ref entity.Reference) ([]*entity.InventoryTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.InventoryTransaction
	for _, list := range s.byItem {
		for _, tx := range list {
			if tx.Reference != nil && *tx.Reference == ref {
				out = append(out, cloneTx(tx))
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListItemIDs devuelve, ordenados, los ítems con al menos una transacción.
func (s *LedgerStore) ListItemIDs(_ context.Context, limit, offset int) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.byItem))
	for id := range s.byItem {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	if offset >= len(ids) {
		return []string{}, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids, nil
}

// Len número total de transacciones registradas.
func (s *LedgerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, list := range s.byItem {
		n += len(list)
	}
	return n
}

func cloneTx(tx *entity.InventoryTransaction) *entity.InventoryTransaction {
	c := *tx
	if tx.Reference != nil {
		ref := *tx.Reference
		c.Reference = &ref
	}
	if tx.UnitCost != nil {
		cost := *tx.UnitCost
		c.UnitCost = &cost
	}
	return &c
}
