// Package provider defines the injected signing-provider surface the client
// consumes, and the registry that discovers providers at runtime.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known provider error codes.
const (
	CodeUserRejected   = 4001
	CodeUnknownChain   = 4902
	CodeUnauthorized   = 4100
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

// RPCError is a provider-level failure carrying the wallet error code.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// ErrorCode extracts the provider error code from err, or 0.
func ErrorCode(err error) int {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	return 0
}

// EventType enumerates the provider notifications a connected session reacts to.
type EventType int

const (
	EventAccountsChanged EventType = iota
	EventChainChanged
	EventDisconnect
)

// Event is one provider notification.
type Event struct {
	Type       EventType
	Accounts   []string // EventAccountsChanged
	ChainIDHex string   // EventChainChanged
}

// Provider is the signing-capability handle announced by a wallet. Request
// follows the injected-provider convention: a method name plus positional
// params, returning the raw JSON result. Requests may block on user
// interaction indefinitely; cancel via ctx.
type Provider interface {
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)

	// Subscribe registers for account/chain/disconnect notifications.
	// The returned func tears the subscription down; exactly one active
	// subscription per connected provider instance.
	Subscribe() (<-chan Event, func())
}

// Descriptor identifies an announced provider. Identity is the UUID.
type Descriptor struct {
	UUID     string
	Name     string
	RDNS     string
	Icon     string
	Provider Provider
}

// UnmarshalResult decodes a raw provider response into out.
func UnmarshalResult(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode provider result: %w", err)
	}
	return nil
}
