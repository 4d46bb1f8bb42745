package survey

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/cipherpoll/cipherpoll-client/internal/provider"
)

// Receipt is the subset of a transaction receipt the client consumes.
type Receipt struct {
	TxHash      string       `json:"transactionHash"`
	Status      hexutil.Uint `json:"status"`
	BlockNumber *hexutil.Big `json:"blockNumber"`
	Logs        []ReceiptLog `json:"logs"`
}

type ReceiptLog struct {
	Address string        `json:"address"`
	Topics  []string      `json:"topics"`
	Data    hexutil.Bytes `json:"data"`
}

// Backend routes contract calls and transactions through a wallet provider.
type Backend interface {
	Call(ctx context.Context, to string, data []byte) ([]byte, error)
	SendTransaction(ctx context.Context, to string, data []byte) (string, error)
	WaitMined(ctx context.Context, txHash string) (*Receipt, error)
}

// providerBackend speaks the standard request methods of a wallet provider.
type providerBackend struct {
	prov provider.Provider
	from string
}

func NewBackend(prov provider.Provider, from string) Backend {
	return &providerBackend{prov: prov, from: from}
}

func (b *providerBackend) Call(ctx context.Context, to string, data []byte) ([]byte, error) {
	msg := map[string]string{
		"from": b.from,
		"to":   to,
		"data": "0x" + hex.EncodeToString(data),
	}
	raw, err := b.prov.Request(ctx, "eth_call", msg, "latest")
	if err != nil {
		return nil, err
	}

	var out string
	if err := provider.UnmarshalResult(raw, &out); err != nil {
		return nil, err
	}
	return hex.DecodeString(strings.TrimPrefix(out, "0x"))
}

func (b *providerBackend) SendTransaction(ctx context.Context, to string, data []byte) (string, error) {
	msg := map[string]string{
		"from": b.from,
		"to":   to,
		"data": "0x" + hex.EncodeToString(data),
	}
	raw, err := b.prov.Request(ctx, "eth_sendTransaction", msg)
	if err != nil {
		return "", err
	}

	var txHash string
	if err := provider.UnmarshalResult(raw, &txHash); err != nil {
		return "", err
	}
	return txHash, nil
}

// WaitMined polls for a receipt with a growing delay until mined or the
// context expires.
func (b *providerBackend) WaitMined(ctx context.Context, txHash string) (*Receipt, error) {
	delay := 750 * time.Millisecond

	for {
		raw, err := b.prov.Request(ctx, "eth_getTransactionReceipt", txHash)
		if err != nil {
			return nil, err
		}
		if len(raw) > 0 && string(raw) != "null" {
			var r Receipt
			if err := json.Unmarshal(raw, &r); err != nil {
				return nil, fmt.Errorf("decode receipt: %w", err)
			}
			if r.Status == 0 {
				return &r, fmt.Errorf("transaction %s reverted", txHash)
			}
			return &r, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
			if delay < 3*time.Second {
				delay += 250 * time.Millisecond
			}
		}
	}
}

// callUnpack packs, calls, and unpacks one view method.
func callUnpack(ctx context.Context, backend Backend, parsed abi.ABI, to, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := backend.Call(ctx, to, data)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s: empty return", method)
	}

	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func asAddresses(v any) []string {
	addrs, ok := v.([]common.Address)
	if !ok {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}
