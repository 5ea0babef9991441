package domain

type TxStatus string

const (
	TxStatusPending TxStatus = "pending"
	TxStatusSuccess TxStatus = "success"
	TxStatusFailed  TxStatus = "failed"
)

type TxKind string

const (
	TxKindTransfer TxKind = "transfer"
	TxKindBatch    TxKind = "batch"
)

// Transaction is a ledger record. Hash is its identity: two records with the
// same hash describe the same transaction whatever source produced them.
type Transaction struct {
	Hash      string   `json:"hash"`
	Status    TxStatus `json:"status"`
	Kind      TxKind   `json:"type"`
	Amount    string   `json:"amount,omitempty"`
	Recipient string   `json:"recipient,omitempty"`
	Timestamp int64    `json:"timestamp"`
}
