// Package events publica las notificaciones del ledger (stock bajo, traslados, alarmas de
// integridad) como mensajes Watermill. En producción el publisher es watermill-sql sobre
// PostgreSQL; en pruebas, gochannel.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	watermillsql "github.com/ThreeDotsLabs/watermill-sql/v3/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jhoicas/inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
)

var _ inventory.Notifier = (*Notifier)(nil)

// Envelope cuerpo JSON de cada mensaje publicado.
type Envelope struct {
	Type        string         `json:"type"`
	RecipientID string         `json:"recipient_id"`
	Message     string         `json:"message"`
	Payload     map[string]any `json:"payload,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// Notifier implementa inventory.Notifier sobre un message.Publisher. El tópico es
// prefix + tipo en minúsculas (p. ej. "inventory.low_stock").
type Notifier struct {
	publisher message.Publisher
	prefix    string
}

// NewNotifier construye el notificador. prefix vacío usa "inventory.".
func NewNotifier(publisher message.Publisher, prefix string) *Notifier {
	if prefix == "" {
		prefix = "inventory."
	}
	return &Notifier{publisher: publisher, prefix: prefix}
}

// Topic devuelve el tópico en el que se publica un tipo de notificación.
func (n *Notifier) Topic(notificationType string) string {
	return n.prefix + strings.ToLower(notificationType)
}

// Notify serializa la notificación y la publica. El contexto de traza se propaga en la metadata.
func (n *Notifier) Notify(ctx context.Context, notification entity.Notification) error {
	body, err := json.Marshal(Envelope{
		Type:        notification.Type,
		RecipientID: notification.RecipientID,
		Message:     notification.Message,
		Payload:     notification.Payload,
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", notification.Type, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.Metadata.Set("type", notification.Type)
	msg.Metadata.Set("recipient_id", notification.RecipientID)
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		msg.Metadata.Set(k, v)
	}

	topic := n.Topic(notification.Type)
	if err := n.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("events: publish to %s: %w", topic, err)
	}
	return nil
}

// Close cierra el publisher subyacente.
func (n *Notifier) Close() error {
	return n.publisher.Close()
}

// NewSQLPublisher publisher durable sobre PostgreSQL (tablas creadas en el primer uso).
func NewSQLPublisher(db *sql.DB, logger watermill.LoggerAdapter) (message.Publisher, error) {
	pub, err := watermillsql.NewPublisher(
		db,
		watermillsql.PublisherConfig{
			SchemaAdapter:        watermillsql.DefaultPostgreSQLSchema{},
			AutoInitializeSchema: true,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("events: new sql publisher: %w", err)
	}
	return pub, nil
}
