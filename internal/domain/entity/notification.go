package entity

// Tipos de evento entregados al colaborador de notificaciones.
const (
	NotificationLowStock          = "LOW_STOCK"
	NotificationTransferCompleted = "TRANSFER_COMPLETED"
	NotificationTransferCancelled = "TRANSFER_CANCELLED"
	NotificationIntegrityAlarm    = "DATA_INTEGRITY_ALARM"
)

// Notification evento (type, recipientId, message, payload). La entrega y sus reintentos
// son responsabilidad del colaborador, no del ledger.
type Notification struct {
	Type        string         `json:"type"`
	RecipientID string         `json:"recipient_id"`
	Message     string         `json:"message"`
	Payload     map[string]any `json:"payload,omitempty"`
}
