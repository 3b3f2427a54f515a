package notification

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies what the receiving services should do for an account
type MessageType string

const (
	// MessageTypePlanChanged tells consumers to reload the account's plan
	MessageTypePlanChanged MessageType = "plan_changed"
	// MessageTypeRefreshCredentials tells consumers to re-issue the account's credentials
	MessageTypeRefreshCredentials MessageType = "refresh_credentials"
)

// Message is the wire payload shared by every backend
type Message struct {
	Type      MessageType `json:"type"`
	AccountID uuid.UUID   `json:"account_id"`
	SentAt    time.Time   `json:"sent_at"`
}

// Encode returns the JSON encoding of m
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", m.Type, err)
	}
	return data, nil
}

// DecodeMessage parses a payload written by Encode
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal notification message: %w", err)
	}
	return m, nil
}
