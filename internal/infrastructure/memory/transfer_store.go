package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jhoicas/inventario-ledger/internal/domain"
	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/inventario-ledger/internal/domain/repository"
)

var _ repository.TransferRepository = (*TransferStore)(nil)

type claim struct {
	token string
	until time.Time
}

// TransferStore traslados en memoria.
type TransferStore struct {
	mu        sync.Mutex
	transfers map[string]*entity.InventoryTransfer
	claims    map[string]claim
}

func NewTransferStore() *TransferStore {
	return &TransferStore{
		transfers: make(map[string]*entity.InventoryTransfer),
		claims:    make(map[string]claim),
	}
}

func (s *TransferStore) Create(_ context.Context, transfer *entity.InventoryTransfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transfers[transfer.ID]; ok {
		return domain.ErrConflict
	}
	s.transfers[transfer.ID] = cloneTransfer(transfer)
	return nil
}

func (s *TransferStore) GetByID(_ context.Context, id string) (*entity.InventoryTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[id]
	if !ok {
		return nil, nil
	}
	return cloneTransfer(t), nil
}

func (s *TransferStore) UpdateStatus(_ context.Context, transfer *entity.InventoryTransfer, from string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.transfers[transfer.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != from {
		return domain.ErrConflict
	}
	s.transfers[transfer.ID] = cloneTransfer(transfer)
	return nil
}

func (s *TransferStore) Claim(_ context.Context, id, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transfers[id]; !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	if cur, ok := s.claims[id]; ok && cur.token != token && now.Before(cur.until) {
		return domain.ErrConflict
	}
	s.claims[id] = claim{token: token, until: now.Add(ttl)}
	return nil
}

func (s *TransferStore) Release(_ context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.claims[id]; ok && cur.token == token {
		delete(s.claims, id)
	}
	return nil
}

func cloneTransfer(t *entity.InventoryTransfer) *entity.InventoryTransfer {
	c := *t
	c.Items = append([]entity.TransferLine(nil), t.Items...)
	return &c
}
