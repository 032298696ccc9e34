// Package bootstrap arma el motor del ledger (almacenamiento, eventos, métricas, coordinador,
// orquestador y reconciliador) a partir de la configuración. Lo comparten el daemon y la CLI.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/inventario-ledger/internal/application/transfer"
	"github.com/jhoicas/inventario-ledger/internal/domain/repository"
	"github.com/jhoicas/inventario-ledger/internal/infrastructure/events"
	"github.com/jhoicas/inventario-ledger/internal/infrastructure/memory"
	"github.com/jhoicas/inventario-ledger/internal/infrastructure/metrics"
	"github.com/jhoicas/inventario-ledger/internal/infrastructure/postgres"
	"github.com/jhoicas/inventario-ledger/internal/infrastructure/redisstore"
	"github.com/jhoicas/inventario-ledger/pkg/config"
	"github.com/jhoicas/inventario-ledger/pkg/logger"
)

// Engine componentes del ledger ya conectados.
type Engine struct {
	Ledger     repository.LedgerRepository
	Projection repository.ProjectionRepository
	Transfers  repository.TransferRepository

	Coordinator   *inventory.Coordinator
	Orchestrator  *transfer.Orchestrator
	Reconciler    *inventory.Reconciler
	Replenishment *inventory.ReplenishmentUseCase

	Registry *prometheus.Registry
	Checks   map[string]func(ctx context.Context) error

	closers []func() error
}

// New construye el motor según cfg.Ledger.ProjectionBackend:
//   - postgres: ledger, proyección y traslados en PostgreSQL.
//   - redis: ledger y traslados en PostgreSQL; proyección en Redis.
//   - memory: todo en memoria (desarrollo).
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Engine, error) {
	e := &Engine{Checks: map[string]func(ctx context.Context) error{}}

	var pool *pgxpool.Pool
	if cfg.Ledger.ProjectionBackend == config.BackendMemory {
		e.Ledger = memory.NewLedgerStore()
		e.Projection = memory.NewProjectionStore()
		e.Transfers = memory.NewTransferStore()
	} else {
		if cfg.DB.Migrate {
			if err := postgres.Migrate(cfg.DB.ConnectionString()); err != nil {
				return nil, fmt.Errorf("migraciones: %w", err)
			}
			log.Info().Msg("migraciones aplicadas")
		}
		var err error
		pool, err = postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("conexión a PostgreSQL: %w", err)
		}
		e.closers = append(e.closers, func() error { pool.Close(); return nil })
		e.Checks["postgres"] = pool.Ping

		e.Ledger = postgres.NewLedgerRepository(pool)
		e.Transfers = postgres.NewTransferRepository(pool, postgres.NewTxRunner(pool))
		e.Projection = postgres.NewProjectionRepository(pool)
	}

	if cfg.Ledger.ProjectionBackend == config.BackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			e.Close()
			return nil, fmt.Errorf("conexión a Redis: %w", err)
		}
		e.closers = append(e.closers, client.Close)
		store := redisstore.NewProjectionStore(client, cfg.Redis.KeyPrefix)
		e.Checks["redis"] = store.Ping
		e.Projection = store
	}

	notifier, err := e.notifier(cfg, pool, log)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.Registry = prometheus.NewRegistry()
	e.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(e.Registry)

	e.Coordinator = inventory.NewCoordinator(e.Ledger, e.Projection,
		inventory.Config{
			MaxCASRetries: cfg.Ledger.MaxCASRetries,
			AppendRetries: uint64(cfg.Ledger.AppendRetries),
			AppendBackoff: cfg.Ledger.AppendBackoff,
		},
		inventory.WithNotifier(notifier),
		inventory.WithMetrics(collector),
		inventory.WithLogger(log.Component("coordinator")),
	)
	e.Orchestrator = transfer.NewOrchestrator(
		e.Transfers, e.Ledger, e.Coordinator, notifier, collector, log.Component("transfer"),
	).WithClaimTTL(cfg.Ledger.TransferClaimTTL)
	e.Reconciler = inventory.NewReconciler(e.Ledger, e.Projection, notifier, collector,
		log.Component("reconciler"),
		inventory.ReconcilerConfig{
			Settle:         cfg.Reconcile.Settle,
			Concurrency:    cfg.Reconcile.Concurrency,
			AlarmRecipient: cfg.Reconcile.AlarmRecipient,
		},
	)
	e.Replenishment = inventory.NewReplenishmentUseCase(e.Projection, e.Ledger)
	return e, nil
}

// notifier publica en watermill-sql cuando hay PostgreSQL; en modo memoria usa gochannel.
func (e *Engine) notifier(cfg *config.Config, pool *pgxpool.Pool, log *logger.Logger) (inventory.Notifier, error) {
	if !cfg.Events.Enabled {
		return inventory.NopNotifier{}, nil
	}
	wlog := events.NewZerologAdapter(log.Zerolog())

	var publisher message.Publisher
	if pool != nil {
		db := stdlib.OpenDBFromPool(pool)
		pub, err := events.NewSQLPublisher(db, wlog)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		e.closers = append(e.closers, db.Close)
		publisher = pub
	} else {
		publisher = gochannel.NewGoChannel(gochannel.Config{}, wlog)
	}
	n := events.NewNotifier(publisher, cfg.Events.TopicPrefix)
	// El publisher se cierra antes que la base de datos (cierre en orden inverso).
	e.closers = append(e.closers, n.Close)
	return n, nil
}

// Close libera conexiones en orden inverso al de apertura.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
	e.closers = nil
}
