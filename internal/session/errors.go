package session

import (
	"errors"
	"fmt"
)

// ErrNoAccounts is returned when account authorization succeeds but yields an
// empty account list.
var ErrNoAccounts = errors.New("no accounts authorized")

// ErrNotConnected is returned by operations that need a live session.
var ErrNotConnected = errors.New("no wallet session connected")

// ConnectionRejectedError surfaces a provider-level rejection of a connect
// attempt. Never retried automatically.
type ConnectionRejectedError struct {
	Err error
}

func (e *ConnectionRejectedError) Error() string {
	return fmt.Sprintf("connection rejected by provider: %v", e.Err)
}

func (e *ConnectionRejectedError) Unwrap() error { return e.Err }

// ChainNotConfiguredError is returned by SwitchChain when the provider reports
// the target chain is unknown to it.
type ChainNotConfiguredError struct {
	ChainID uint64
}

func (e *ChainNotConfiguredError) Error() string {
	return fmt.Sprintf("chain %d is not configured in the wallet", e.ChainID)
}
