package amqp

import (
	"encoding/json"
	"time"
)

// AnomalyReportMessage is the lightweight message queued when a
// transaction is flagged. It carries only the event ID and category;
// the worker fetches the full event from the database, so a stale or
// duplicated message can never export stale data.
type AnomalyReportMessage struct {
	ID        int64     `json:"id"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
}

// NewAnomalyReportMessage creates a report message for an anomaly event
func NewAnomalyReportMessage(id int64, category string) *AnomalyReportMessage {
	return &AnomalyReportMessage{
		ID:        id,
		Category:  category,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *AnomalyReportMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// AnomalyReportMessageFromJSON creates a message from JSON bytes
func AnomalyReportMessageFromJSON(data []byte) (*AnomalyReportMessage, error) {
	var msg AnomalyReportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
