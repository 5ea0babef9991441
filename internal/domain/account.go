package domain

// AccountProfile pins everything the smart account address depends on besides
// the owner key. Changing any field moves the account to a different address,
// so every session must use the same profile.
type AccountProfile struct {
	KernelVersion         string
	EntryPointVersion     string
	EntryPointAddress     string
	FactoryAddress        string
	ImplementationAddress string
	ValidatorAddress      string
	AccountIndex          uint64
}

// KernelV31ECDSA is Kernel v3.1 with the ECDSA validator as root (sudo)
// validator on EntryPoint v0.7.
var KernelV31ECDSA = AccountProfile{
	KernelVersion:         "0.3.1",
	EntryPointVersion:     "0.7",
	EntryPointAddress:     "0x0000000071727De22E5E9d8BAf0edAc6f37da032",
	FactoryAddress:        "0xaac5D4240AF87249B3f71BC8E4A2cae074A3E419",
	ImplementationAddress: "0xBAC849bB641841b44E965fB01A4Bf5F074f84b4D",
	ValidatorAddress:      "0x845ADb2C711129d4f3966735eD98a9F09fC4cE57",
	AccountIndex:          0,
}

// TokenInfo describes the ERC-20 token the wallet operates on.
type TokenInfo struct {
	Address  string
	Symbol   string
	Name     string
	Decimals uint8
}
