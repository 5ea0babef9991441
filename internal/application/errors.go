package application

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindDerivation ErrorKind = "derivation"
	KindBootstrap  ErrorKind = "bootstrap"
	KindSubmission ErrorKind = "submission"
	KindValidation ErrorKind = "validation"
	KindRead       ErrorKind = "read"
)

var (
	ErrDerivation     = errors.New("signer derivation failed")
	ErrBootstrap      = errors.New("account bootstrap failed")
	ErrSubmission     = errors.New("operation submission failed")
	ErrValidation     = errors.New("invalid request")
	ErrRead           = errors.New("chain read failed")
	ErrNotInitialized = errors.New("wallet not initialized")
)

// WalletError carries the failure kind, the operation that failed and the
// message to show the user. For remote failures Message is the remote
// endpoint's own text.
type WalletError struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *WalletError) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *WalletError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *WalletError) Is(target error) bool {
	return target == kindSentinel(e.Kind)
}

func kindSentinel(kind ErrorKind) error {
	switch kind {
	case KindDerivation:
		return ErrDerivation
	case KindBootstrap:
		return ErrBootstrap
	case KindSubmission:
		return ErrSubmission
	case KindValidation:
		return ErrValidation
	case KindRead:
		return ErrRead
	default:
		return nil
	}
}

// remoteMessager is implemented by errors that wrap a remote endpoint's
// error object.
type remoteMessager interface {
	RemoteMessage() string
}

func newWalletError(kind ErrorKind, op string, err error) *WalletError {
	var existing *WalletError
	if errors.As(err, &existing) && existing.Kind == kind {
		return existing
	}
	return &WalletError{Kind: kind, Op: op, Message: errorMessage(err), Err: err}
}

func validationError(op, message string) *WalletError {
	return &WalletError{Kind: KindValidation, Op: op, Message: message}
}

// errorMessage prefers the remote endpoint's message so users can tell a
// paymaster rejection from an on-chain revert or a network failure.
func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	var remote remoteMessager
	if errors.As(err, &remote) && remote.RemoteMessage() != "" {
		return remote.RemoteMessage()
	}
	return err.Error()
}
