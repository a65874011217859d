// Package events publishes terminal dispatch outcomes to NATS so downstream
// consumers (bots, dashboards) can react without polling the API.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Veenoway/spiky-faucet/internal/domain"
	"github.com/nats-io/nats.go"
)

// TransferEvent is the JSON payload published per terminal outcome.
type TransferEvent struct {
	RequestID string        `json:"request_id"`
	User      string        `json:"user"`
	Recipient string        `json:"recipient"`
	Amount    domain.Amount `json:"amount"`
	Status    string        `json:"status"`
	TxID      string        `json:"tx_id,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

type Emitter struct {
	conn    *nats.Conn
	subject string
}

func NewEmitter(natsURL, subject string) (*Emitter, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Emitter{conn: conn, subject: subject}, nil
}

// Emit publishes the event. A nil Emitter is a no-op so callers don't need
// to branch on whether eventing is configured.
func (e *Emitter) Emit(event TransferEvent) error {
	if e == nil {
		return nil
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return e.conn.Publish(e.subject, data)
}

func (e *Emitter) Close() {
	if e != nil && e.conn != nil {
		e.conn.Close()
	}
}
