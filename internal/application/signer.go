package application

import (
	"crypto/ecdsa"
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/crypto"
)

const DefaultSignerSalt = "zerodev-salt"

// DeriveSigner maps an email to its signing key: sha256(email || salt) read
// as a secp256k1 scalar. Same email and salt give the same key every time.
func DeriveSigner(email, salt string) (*ecdsa.PrivateKey, error) {
	if email == "" {
		return nil, &WalletError{Kind: KindDerivation, Op: "derive signer", Message: "User email is required"}
	}
	digest := sha256.Sum256([]byte(email + salt))
	key, err := crypto.ToECDSA(digest[:])
	if err != nil {
		return nil, newWalletError(KindDerivation, "derive signer", err)
	}
	return key, nil
}
