package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/inventario-ledger/internal/domain"
	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/inventario-ledger/internal/domain/repository"
)

var _ repository.ProjectionRepository = (*ProjectionStore)(nil)

const defaultPrefix = "inv:"

// Códigos devueltos por applyDeltaScript.
const (
	codeApplied      = 0
	codeNotFound     = -1
	codeStale        = -2
	codeInsufficient = -3
)

// applyDeltaScript compare-and-swap atómico: aplica el delta solo si la cantidad es la esperada
// y el resultado no es negativo. Devuelve {código, cantidad, versión}.
var applyDeltaScript = redis.NewScript(`
local qty = redis.call('HGET', KEYS[1], 'quantity')
if not qty then
	return {-1, 0, 0}
end

qty = tonumber(qty)
local delta = tonumber(ARGV[1])
local expected = tonumber(ARGV[2])
if qty ~= expected then
	return {-2, qty, 0}
end

local new = qty + delta
if new < 0 then
	return {-3, qty, 0}
end

redis.call('HSET', KEYS[1], 'quantity', new, 'updated_at', ARGV[3])
local version = redis.call('HINCRBY', KEYS[1], 'version', 1)
return {0, new, version}
`)

// resolveScript crea el ítem del par (producto, bodega) si no existe y devuelve su ID.
// KEYS: índice producto|bodega, conjunto ordenado de ítems, hash del ítem nuevo.
var resolveScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
	return existing
end

redis.call('HSET', KEYS[3],
	'id', ARGV[1], 'product_id', ARGV[2], 'warehouse_id', ARGV[3],
	'quantity', 0, 'min_stock_level', 0, 'max_stock_level', '', 'reorder_point', 0,
	'status', ARGV[4], 'version', 0, 'created_at', ARGV[5], 'updated_at', ARGV[5])
redis.call('SET', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
return ARGV[1]
`)

// configureScript actualiza umbrales y estado; nunca toca quantity ni version.
var configureScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end

redis.call('HSET', KEYS[1],
	'min_stock_level', ARGV[1], 'max_stock_level', ARGV[2], 'reorder_point', ARGV[3],
	'status', ARGV[4], 'updated_at', ARGV[5])
return 1
`)

// ProjectionStore proyección de cantidades en Redis: un hash por ítem y CAS vía scripts Lua.
type ProjectionStore struct {
	client redis.UniversalClient
	prefix string
}

// NewProjectionStore construye el adaptador. prefix vacío usa "inv:".
func NewProjectionStore(client redis.UniversalClient, prefix string) *ProjectionStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &ProjectionStore{client: client, prefix: prefix}
}

func (s *ProjectionStore) itemKey(id string) string { return s.prefix + "item:" + id }
func (s *ProjectionStore) indexKey(productID, warehouseID string) string {
	return s.prefix + "key:" + productID + "|" + warehouseID
}
func (s *ProjectionStore) itemsKey() string { return s.prefix + "items" }

// CurrentQuantity devuelve la cantidad almacenada.
func (s *ProjectionStore) CurrentQuantity(ctx context.Context, itemID string) (int64, error) {
	qty, err := s.client.HGet(ctx, s.itemKey(itemID), "quantity").Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrNotFound
		}
		return 0, unavailable("current quantity", err)
	}
	return qty, nil
}

// ApplyDelta compare-and-swap sobre la cantidad del ítem.
func (s *ProjectionStore) ApplyDelta(ctx context.Context, itemID string, delta, expectedPrevious int64) (repository.AppliedDelta, error) {
	now := strconv.FormatInt(time.Now().UTC().UnixNano(), 10)
	res, err := applyDeltaScript.Run(ctx, s.client, []string{s.itemKey(itemID)}, delta, expectedPrevious, now).Int64Slice()
	if err != nil {
		return repository.AppliedDelta{}, unavailable("apply delta", err)
	}
	if len(res) != 3 {
		return repository.AppliedDelta{}, fmt.Errorf("apply delta: respuesta inesperada %v", res)
	}
	switch res[0] {
	case codeApplied:
		return repository.AppliedDelta{PreviousQuantity: expectedPrevious, NewQuantity: res[1], Sequence: res[2]}, nil
	case codeNotFound:
		return repository.AppliedDelta{}, domain.ErrNotFound
	case codeStale:
		return repository.AppliedDelta{}, domain.ErrStaleQuantity
	case codeInsufficient:
		return repository.AppliedDelta{}, domain.ErrInsufficientStock
	}
	return repository.AppliedDelta{}, fmt.Errorf("apply delta: código desconocido %d", res[0])
}

// Get obtiene el ítem por ID.
func (s *ProjectionStore) Get(ctx context.Context, itemID string) (*entity.InventoryItem, error) {
	fields, err := s.client.HGetAll(ctx, s.itemKey(itemID)).Result()
	if err != nil {
		return nil, unavailable("get item", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	return decodeItem(fields)
}

// Resolve obtiene o crea el ítem del par (producto, bodega).
func (s *ProjectionStore) Resolve(ctx context.Context, productID, warehouseID string) (*entity.InventoryItem, error) {
	id := uuid.New().String()
	now := strconv.FormatInt(time.Now().UTC().UnixNano(), 10)
	keys := []string{s.indexKey(productID, warehouseID), s.itemsKey(), s.itemKey(id)}
	resolved, err := resolveScript.Run(ctx, s.client, keys, id, productID, warehouseID, entity.ItemStatusActive, now).Text()
	if err != nil {
		return nil, unavailable("resolve item", err)
	}
	return s.Get(ctx, resolved)
}

// Configure actualiza umbrales y estado.
func (s *ProjectionStore) Configure(ctx context.Context, itemID string, settings entity.ItemSettings) (*entity.InventoryItem, error) {
	maxLevel := ""
	if settings.MaxStockLevel != nil {
		maxLevel = strconv.FormatInt(*settings.MaxStockLevel, 10)
	}
	now := strconv.FormatInt(time.Now().UTC().UnixNano(), 10)
	ok, err := configureScript.Run(ctx, s.client, []string{s.itemKey(itemID)},
		settings.MinStockLevel, maxLevel, settings.ReorderPoint, settings.Status, now,
	).Int()
	if err != nil {
		return nil, unavailable("configure item", err)
	}
	if ok == 0 {
		return nil, domain.ErrNotFound
	}
	return s.Get(ctx, itemID)
}

// List lista ítems en orden de creación. limit 0 = todos.
func (s *ProjectionStore) List(ctx context.Context, limit, offset int) ([]*entity.InventoryItem, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}
	ids, err := s.client.ZRange(ctx, s.itemsKey(), int64(offset), stop).Result()
	if err != nil {
		return nil, unavailable("list items", err)
	}
	return s.load(ctx, ids)
}

// ListBelowReorderPoint ítems con cantidad <= punto de reorden. warehouseID vacío = todas las bodegas.
func (s *ProjectionStore) ListBelowReorderPoint(ctx context.Context, warehouseID string) ([]*entity.InventoryItem, error) {
	all, err := s.List(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*entity.InventoryItem, 0, len(all))
	for _, item := range all {
		if warehouseID != "" && item.WarehouseID != warehouseID {
			continue
		}
		if item.BelowReorderPoint() {
			out = append(out, item)
		}
	}
	return out, nil
}

// load lee varios hashes en un pipeline, conservando el orden de ids.
func (s *ProjectionStore) load(ctx context.Context, ids []string) ([]*entity.InventoryItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.itemKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable("load items", err)
	}
	out := make([]*entity.InventoryItem, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		item, err := decodeItem(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Ping verifica la conexión con Redis.
func (s *ProjectionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeItem(f map[string]string) (*entity.InventoryItem, error) {
	var (
		item entity.InventoryItem
		errs []error
	)
	parse := func(name string) int64 {
		n, err := strconv.ParseInt(f[name], 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		return n
	}
	item.ID = f["id"]
	item.ProductID = f["product_id"]
	item.WarehouseID = f["warehouse_id"]
	item.Status = f["status"]
	item.Quantity = parse("quantity")
	item.MinStockLevel = parse("min_stock_level")
	item.ReorderPoint = parse("reorder_point")
	item.Version = parse("version")
	item.CreatedAt = time.Unix(0, parse("created_at")).UTC()
	item.UpdatedAt = time.Unix(0, parse("updated_at")).UTC()
	if v := f["max_stock_level"]; v != "" {
		maxLevel := parse("max_stock_level")
		item.MaxStockLevel = &maxLevel
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", item.ID, err)
	}
	return &item, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStorageUnavailable, err)
}
