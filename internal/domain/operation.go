package domain

import "math/big"

// Call is one elementary call inside a user operation.
type Call struct {
	Target string
	Data   []byte
	Value  *big.Int
}

// OperationReceipt is the part of a user operation receipt the wallet needs.
type OperationReceipt struct {
	UserOpHash      string
	TransactionHash string
	Success         bool
	Reason          string
}

// RelayOperation is one entry of the bundler's per-address operation listing.
// Every field is optional on the wire.
type RelayOperation struct {
	UserOpHash      string
	TransactionHash string
	Success         bool
	Target          string
	Timestamp       uint64 // seconds, 0 when absent
}
