// import carga movimientos de inventario desde un CSV con encabezado
// op,product_id,warehouse_id,quantity[,reference,destination_warehouse_id,unit_cost].
//
// Uso: go run ./cmd/import [-by usuario] archivo.csv
// Usa la misma configuración que el daemon (LEDGER_PROJECTION_BACKEND, DATABASE_URL, ...).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jhoicas/inventario-ledger/internal/application/importer"
	"github.com/jhoicas/inventario-ledger/internal/bootstrap"
	"github.com/jhoicas/inventario-ledger/pkg/config"
	"github.com/jhoicas/inventario-ledger/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	performedBy := flag.String("by", "import", "usuario que registra los movimientos")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "uso: import [-by usuario] archivo.csv")
		return 2
	}
	path := flag.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cargar configuración: %v\n", err)
		return 1
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel, Service: "import"})

	f, err := os.Open(path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("abrir CSV")
		return 1
	}
	defer f.Close()

	rows, err := importer.ParseCSV(f)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("leer CSV")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("inicializar motor")
		return 1
	}
	defer engine.Close()

	im := importer.New(engine.Coordinator, engine.Orchestrator, log.Component("import"))
	res, err := im.Run(ctx, filepath.Base(path), *performedBy, rows)
	if err != nil {
		log.Error().Err(err).Msg("importación interrumpida")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
	if len(res.Failed) > 0 || err != nil {
		return 1
	}
	return 0
}
