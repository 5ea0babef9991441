package application

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"aawallet/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AccountResolver computes the counterfactual account address of an owner
// under a pinned account profile. Implementations may only read chain state.
type AccountResolver interface {
	AccountAddress(ctx context.Context, owner common.Address) (common.Address, error)
}

// OperationClient submits batches for one account and waits for them.
type OperationClient interface {
	SubmitBatch(ctx context.Context, calls []domain.Call) (string, error)
	WaitForReceipt(ctx context.Context, userOpHash string) (domain.OperationReceipt, error)
}

// ClientFactory builds the execution client for a bootstrapped account.
// It must not perform any remote call.
type ClientFactory func(key *ecdsa.PrivateKey, account common.Address) (OperationClient, error)

type BootstrapConfig struct {
	RPCURL       string
	BundlerURL   string
	PaymasterURL string
	Profile      domain.AccountProfile
}

// SmartAccount is created once per session and never mutated.
type SmartAccount struct {
	Address common.Address
	Owner   common.Address
	Profile domain.AccountProfile

	client OperationClient
}

// Bootstrap resolves the account address of key's owner and binds an
// execution client to it. Only read calls are made.
func Bootstrap(ctx context.Context, key *ecdsa.PrivateKey, cfg BootstrapConfig, resolver AccountResolver, newClient ClientFactory) (*SmartAccount, error) {
	const op = "bootstrap account"
	if key == nil {
		return nil, &WalletError{Kind: KindBootstrap, Op: op, Message: "signer is required"}
	}
	if resolver == nil || newClient == nil {
		return nil, &WalletError{Kind: KindBootstrap, Op: op, Message: "account resolver and client factory are required"}
	}
	endpoints := []struct{ name, url string }{
		{"rpc", cfg.RPCURL},
		{"bundler", cfg.BundlerURL},
		{"paymaster", cfg.PaymasterURL},
	}
	for _, endpoint := range endpoints {
		if err := validateEndpoint(endpoint.url); err != nil {
			return nil, newWalletError(KindBootstrap, op, fmt.Errorf("%s endpoint: %w", endpoint.name, err))
		}
	}
	if err := validateProfile(cfg.Profile); err != nil {
		return nil, newWalletError(KindBootstrap, op, err)
	}

	owner := crypto.PubkeyToAddress(key.PublicKey)
	address, err := resolver.AccountAddress(ctx, owner)
	if err != nil {
		return nil, newWalletError(KindBootstrap, op, err)
	}
	client, err := newClient(key, address)
	if err != nil {
		return nil, newWalletError(KindBootstrap, op, err)
	}
	return &SmartAccount{Address: address, Owner: owner, Profile: cfg.Profile, client: client}, nil
}

func validateEndpoint(endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return errors.New("url is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("url host is required")
	}
	return nil
}

func validateProfile(profile domain.AccountProfile) error {
	if profile.KernelVersion == "" || profile.EntryPointVersion == "" {
		return errors.New("account versions are not pinned")
	}
	addresses := []struct{ name, addr string }{
		{"entry point", profile.EntryPointAddress},
		{"factory", profile.FactoryAddress},
		{"validator", profile.ValidatorAddress},
	}
	for _, a := range addresses {
		if !common.IsHexAddress(a.addr) {
			return fmt.Errorf("invalid %s address %q", a.name, a.addr)
		}
	}
	return nil
}
