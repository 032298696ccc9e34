package inventory

import (
	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// CostCalculator implementa la lógica de costo promedio ponderado (servicio de dominio).
// NuevoCosto = ((StockActual * CostoActual) + (CantEntrada * CostoEntrada)) / (StockActual + CantEntrada)
func CostCalculator(stockActual, costoActual, cantEntrada, costoEntrada decimal.Decimal) decimal.Decimal {
	sum := stockActual.Add(cantEntrada)
	if sum.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	num := stockActual.Mul(costoActual).Add(cantEntrada.Mul(costoEntrada))
	return num.Div(sum)
}

// WeightedAverageCost recorre el ledger de un ítem (ordenado por secuencia) y devuelve el costo
// promedio ponderado. Solo las compras con UnitCost mueven el costo; las salidas lo conservan.
func WeightedAverageCost(txs []*entity.InventoryTransaction) decimal.Decimal {
	stock := decimal.Zero
	cost := decimal.Zero
	for _, tx := range txs {
		change := decimal.NewFromInt(tx.ChangeAmount)
		if tx.Type == entity.TransactionTypePurchase && tx.UnitCost != nil && tx.ChangeAmount > 0 {
			cost = CostCalculator(stock, cost, change, *tx.UnitCost)
		}
		stock = stock.Add(change)
		if stock.LessThan(decimal.Zero) {
			stock = decimal.Zero
		}
	}
	return cost
}
