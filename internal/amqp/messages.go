package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// TransferPendingMessage announces a submitted transfer whose outcome is not
// yet known. It carries identifiers only; the consumer reads everything else
// from storage and the ledger.
type TransferPendingMessage struct {
	TransferID string    `json:"transfer_id"`
	SpenderID  string    `json:"spender_id"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewTransferPendingMessage(transferID, spenderID string) *TransferPendingMessage {
	return &TransferPendingMessage{
		TransferID: transferID,
		SpenderID:  spenderID,
		Timestamp:  time.Now().UTC(),
	}
}

func (m *TransferPendingMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransferPendingMessageFromJSON decodes and validates a message body.
func TransferPendingMessageFromJSON(data []byte) (*TransferPendingMessage, error) {
	var msg TransferPendingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.TransferID == "" || msg.SpenderID == "" {
		return nil, errors.New("pending message without transfer or spender id")
	}
	return &msg, nil
}
