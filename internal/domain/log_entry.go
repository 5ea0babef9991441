package domain

// LogEntry represents a contract log returned by the chain.
type LogEntry struct {
	BlockNumber uint64
	BlockHash   string
	TxHash      string
	LogIndex    uint64
	Address     string
	Data        string
	Topics      []string
	Removed     bool
}

// TransferFilter selects ERC-20 Transfer logs of one token. From and To are
// matched against the indexed topics; an empty value matches any address.
type TransferFilter struct {
	Token     string
	From      string
	To        string
	FromBlock uint64
	ToBlock   uint64
}
