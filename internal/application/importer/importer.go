// Package importer carga movimientos de inventario desde CSV (saldos iniciales, ajustes de
// conteo físico, traslados) usando el coordinador y el orquestador de traslados.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/inventario-ledger/internal/application/transfer"
	"github.com/jhoicas/inventario-ledger/internal/domain"
	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
)

// Columnas reconocidas. op, product_id, warehouse_id y quantity son obligatorias.
const (
	colOp          = "op"
	colProduct     = "product_id"
	colWarehouse   = "warehouse_id"
	colQuantity    = "quantity"
	colReference   = "reference"
	colDestination = "destination_warehouse_id"
	colUnitCost    = "unit_cost"
)

// Row fila del archivo ya interpretada.
type Row struct {
	Line                   int
	Op                     string
	ProductID              string
	WarehouseID            string
	Quantity               int64
	Reference              string
	DestinationWarehouseID string
	UnitCost               *decimal.Decimal
}

// ParseCSV lee el archivo completo. La primera fila es el encabezado; el orden de columnas es libre.
func ParseCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: encabezado: %v", domain.ErrInvalidInput, err)
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{colOp, colProduct, colWarehouse, colQuantity} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("%w: falta la columna %s", domain.ErrInvalidInput, required)
		}
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		line, _ := reader.FieldPos(0)
		field := func(name string) string {
			i, ok := idx[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		row := Row{
			Line:                   line,
			Op:                     strings.ToUpper(field(colOp)),
			ProductID:              field(colProduct),
			WarehouseID:            field(colWarehouse),
			Reference:              field(colReference),
			DestinationWarehouseID: field(colDestination),
		}
		if row.Op == "" && row.ProductID == "" {
			continue // línea vacía
		}
		qty, err := strconv.ParseInt(field(colQuantity), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: línea %d: cantidad %q", domain.ErrInvalidInput, line, field(colQuantity))
		}
		row.Quantity = qty
		if raw := field(colUnitCost); raw != "" {
			cost, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: línea %d: costo %q", domain.ErrInvalidInput, line, raw)
			}
			row.UnitCost = &cost
		}
		if !entity.ValidTransactionType(row.Op) {
			return nil, fmt.Errorf("%w: línea %d: operación %q", domain.ErrInvalidInput, line, row.Op)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Transfers parte del orquestador que usa el importador.
type Transfers interface {
	Initiate(ctx context.Context, in transfer.InitiateInput) (*entity.InventoryTransfer, error)
	Complete(ctx context.Context, id string) (*entity.InventoryTransfer, error)
}

// RowError fila que no se pudo aplicar.
type RowError struct {
	Line int    `json:"line"`
	Err  string `json:"error"`
}

// Result resumen de una importación.
type Result struct {
	Applied int        `json:"applied"`
	Skipped int        `json:"skipped"` // referencias ya registradas
	Failed  []RowError `json:"failed,omitempty"`
}

// Importer aplica filas una a una; una fila fallida no detiene el resto.
type Importer struct {
	inv       transfer.Submitter
	transfers Transfers
	log       zerolog.Logger
}

// New construye el importador.
func New(inv transfer.Submitter, transfers Transfers, log zerolog.Logger) *Importer {
	return &Importer{inv: inv, transfers: transfers, log: log}
}

// Run aplica las filas. source identifica el archivo: las filas sin referencia usan
// "source:línea", de modo que reimportar el mismo archivo no duplica movimientos.
// Las filas TRANSFER crean un traslado nuevo en cada ejecución.
func (im *Importer) Run(ctx context.Context, source, performedBy string, rows []Row) (Result, error) {
	var res Result
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := im.apply(ctx, source, performedBy, row)
		switch {
		case err == nil:
			res.Applied++
		case errors.Is(err, domain.ErrDuplicateReference):
			res.Skipped++
		default:
			res.Failed = append(res.Failed, RowError{Line: row.Line, Err: err.Error()})
			im.log.Warn().Err(err).Int("line", row.Line).Msg("fila no aplicada")
		}
	}
	return res, nil
}

func (im *Importer) apply(ctx context.Context, source, performedBy string, row Row) error {
	if row.Op == entity.TransactionTypeTransfer {
		t, err := im.transfers.Initiate(ctx, transfer.InitiateInput{
			SourceWarehouseID:      row.WarehouseID,
			DestinationWarehouseID: row.DestinationWarehouseID,
			Items:                  []entity.TransferLine{{ProductID: row.ProductID, Quantity: row.Quantity}},
			PerformedBy:            performedBy,
			Notes:                  fmt.Sprintf("importado de %s:%d", source, row.Line),
		})
		if err != nil {
			return err
		}
		_, err = im.transfers.Complete(ctx, t.ID)
		return err
	}

	item, err := im.inv.ResolveItem(ctx, row.ProductID, row.WarehouseID)
	if err != nil {
		return err
	}
	ref := row.Reference
	if ref == "" {
		ref = fmt.Sprintf("%s:%d", source, row.Line)
	}
	_, err = im.inv.Submit(ctx, inventory.SubmitInput{
		ItemID:      item.ID,
		Type:        row.Op,
		Delta:       signedDelta(row.Op, row.Quantity),
		Reference:   &entity.Reference{ID: ref, Type: entity.ReferenceTypeImport},
		PerformedBy: performedBy,
		UnitCost:    row.UnitCost,
		Notes:       fmt.Sprintf("importado de %s:%d", source, row.Line),
	})
	return err
}

// signedDelta convierte la cantidad del archivo al signo que exige el tipo; ADJUSTMENT conserva
// el signo escrito.
func signedDelta(op string, qty int64) int64 {
	abs := qty
	if abs < 0 {
		abs = -abs
	}
	switch op {
	case entity.TransactionTypeSale, entity.TransactionTypeDamaged, entity.TransactionTypeExpired:
		return -abs
	case entity.TransactionTypePurchase, entity.TransactionTypeReturn:
		return abs
	}
	return qty
}
