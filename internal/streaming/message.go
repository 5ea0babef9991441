// Package streaming defines the ledger events published to Kafka.
package streaming

import (
	"encoding/json"
	"errors"
)

type MessageType string

const (
	MessageTypeTransactionConfirmed MessageType = "transaction_confirmed"
	MessageTypeHistoryReconciled    MessageType = "history_reconciled"
)

type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	ChainID   uint64      `json:"chain_id"`
	Account   string      `json:"account"`
	TraceID   string      `json:"trace_id,omitempty"`
	TxHash    string      `json:"tx_hash"`
	Status    string      `json:"status"`
	Kind      string      `json:"kind"`
	Amount    string      `json:"amount,omitempty"`
	Recipient string      `json:"recipient,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (t MessageType) Valid() bool {
	return t == MessageTypeTransactionConfirmed || t == MessageTypeHistoryReconciled
}

func Encode(msg Message) ([]byte, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if err := validate(msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func validate(msg Message) error {
	if !msg.Type.Valid() {
		return errors.New("message type is invalid")
	}
	if msg.ChainID == 0 {
		return errors.New("chain_id is required")
	}
	if msg.Account == "" {
		return errors.New("account is required")
	}
	if msg.TxHash == "" {
		return errors.New("tx_hash is required")
	}
	return nil
}
