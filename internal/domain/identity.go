package domain

// IdentityClaim is what the external login flow hands over. Only Email is
// used for key derivation; Name and Picture are carried for display.
type IdentityClaim struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Identity is the stable key a session is bound to.
type Identity struct {
	Email string
}

// StoredUser is persisted under the "user" slot of the local store.
type StoredUser struct {
	Email              string `json:"email"`
	Name               string `json:"name"`
	Picture            string `json:"picture"`
	SmartWalletAddress string `json:"smartWalletAddress"`
}
