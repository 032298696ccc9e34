package inventory

import "github.com/jhoicas/inventario-ledger/internal/domain/entity"

// ReplayResult resultado de plegar el ledger de un ítem desde cero.
type ReplayResult struct {
	Quantity       int64
	Entries        int
	ChainBreaks    int // entradas cuyo PreviousQuantity no coincide con el acumulado
	InvalidEntries int // entradas que violan New = Previous + Change
	LastSequence   int64
}

// Replay suma los ChangeAmount en orden de secuencia. Las rupturas de cadena son informativas:
// una compensación no registrada puede intercalarse entre entradas sin alterar la suma.
func Replay(txs []*entity.InventoryTransaction) ReplayResult {
	var r ReplayResult
	for _, tx := range txs {
		if tx.Validate() != nil {
			r.InvalidEntries++
		}
		if tx.PreviousQuantity != r.Quantity {
			r.ChainBreaks++
		}
		r.Quantity += tx.ChangeAmount
		r.Entries++
		if tx.Sequence > r.LastSequence {
			r.LastSequence = tx.Sequence
		}
	}
	return r
}
