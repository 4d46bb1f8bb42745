package localwallet

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"

	"github.com/cipherpoll/cipherpoll-client/internal/networks"
	"github.com/cipherpoll/cipherpoll-client/internal/provider"
)

const (
	providerUUID = "5d3c1a7e-local-wallet"
	providerName = "CipherPoll Local Wallet"
	providerRDNS = "io.cipherpoll.localwallet"
)

// Wallet is the in-process provider. It answers the same request methods an
// external wallet would, signing locally and forwarding chain reads to the
// active network's RPC endpoint.
type Wallet struct {
	log      *zap.SugaredLogger
	rec      *keystoreRecord
	networks *networks.Manager

	mu      sync.Mutex
	current networks.Network
	rpc     *rpc.Client
	subs    map[int]chan provider.Event
	nextSub int
}

func New(rec *keystoreRecord, mgr *networks.Manager, initial networks.Network, log *zap.SugaredLogger) (*Wallet, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	client, err := rpc.Dial(initial.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", initial.RPCURL, err)
	}

	return &Wallet{
		log:      log,
		rec:      rec,
		networks: mgr,
		current:  initial,
		rpc:      client,
		subs:     map[int]chan provider.Event{},
	}, nil
}

// Descriptor returns the announcement payload for the provider bus.
func (w *Wallet) Descriptor() provider.Descriptor {
	return provider.Descriptor{
		UUID:     providerUUID,
		Name:     providerName,
		RDNS:     providerRDNS,
		Provider: w,
	}
}

// Announce publishes the wallet on the bus and answers later discovery
// requests, so re-announcement stays idempotent for listeners.
func (w *Wallet) Announce(bus *provider.Bus) {
	d := w.Descriptor()
	bus.Announce(d)
	go func() {
		for range bus.OnRequest() {
			bus.Announce(d)
		}
	}()
}

func (w *Wallet) Address() common.Address { return w.rec.address() }

func (w *Wallet) Subscribe() (<-chan provider.Event, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextSub
	w.nextSub++
	ch := make(chan provider.Event, 8)
	w.subs[id] = ch

	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if c, ok := w.subs[id]; ok {
			delete(w.subs, id)
			close(c)
		}
	}
}

func (w *Wallet) emit(ev provider.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (w *Wallet) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	switch method {
	case "eth_requestAccounts", "eth_accounts":
		return marshal([]string{w.rec.address().Hex()})

	case "eth_chainId":
		w.mu.Lock()
		hexID := w.current.ChainIDHex
		w.mu.Unlock()
		return marshal(hexID)

	case "eth_signTypedData_v4":
		return w.signTypedData(params)

	case "eth_sendTransaction":
		return w.sendTransaction(ctx, params)

	case "wallet_switchEthereumChain":
		return w.switchChain(params)

	default:
		// Chain reads go straight through to the node.
		var out json.RawMessage
		w.mu.Lock()
		client := w.rpc
		w.mu.Unlock()
		if err := client.CallContext(ctx, &out, method, params...); err != nil {
			return nil, wrapRPCError(err)
		}
		return out, nil
	}
}

// signTypedData expects params [address, typedDataJSON].
func (w *Wallet) signTypedData(params []any) (json.RawMessage, error) {
	if len(params) < 2 {
		return nil, &provider.RPCError{Code: provider.CodeInvalidParams, Message: "expected [address, typedData]"}
	}

	var raw []byte
	switch v := params[1].(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, &provider.RPCError{Code: provider.CodeInvalidParams, Message: err.Error()}
		}
		raw = b
	}

	var typed apitypes.TypedData
	if err := json.Unmarshal(raw, &typed); err != nil {
		return nil, &provider.RPCError{Code: provider.CodeInvalidParams, Message: fmt.Sprintf("decode typed data: %v", err)}
	}

	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}

	key, err := w.rec.privateKey()
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	// Wallets return V as 27/28, crypto.Sign as 0/1.
	sig[64] += 27

	return marshal("0x" + hex.EncodeToString(sig))
}

type txArgs struct {
	From  string         `json:"from"`
	To    string         `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value *hexutil.Big   `json:"value"`
	Gas   hexutil.Uint64 `json:"gas"`
}

// sendTransaction builds, signs, and broadcasts. Fees prefer EIP-1559 and
// fall back to legacy when the node cannot suggest a tip.
func (w *Wallet) sendTransaction(ctx context.Context, params []any) (json.RawMessage, error) {
	if len(params) < 1 {
		return nil, &provider.RPCError{Code: provider.CodeInvalidParams, Message: "expected transaction object"}
	}

	encoded, err := json.Marshal(params[0])
	if err != nil {
		return nil, &provider.RPCError{Code: provider.CodeInvalidParams, Message: err.Error()}
	}
	var args txArgs
	if err := json.Unmarshal(encoded, &args); err != nil {
		return nil, &provider.RPCError{Code: provider.CodeInvalidParams, Message: err.Error()}
	}

	w.mu.Lock()
	client := w.rpc
	chainID := new(big.Int).SetUint64(w.current.ChainID)
	w.mu.Unlock()

	from := w.rec.address()

	var nonceHex hexutil.Uint64
	if err := client.CallContext(ctx, &nonceHex, "eth_getTransactionCount", from.Hex(), "pending"); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	var to *common.Address
	if args.To != "" {
		a := common.HexToAddress(args.To)
		to = &a
	}

	value := big.NewInt(0)
	if args.Value != nil {
		value = args.Value.ToInt()
	}

	gasLimit := uint64(args.Gas)
	if gasLimit == 0 {
		gasLimit = w.estimateGas(ctx, client, from, to, value, args.Data)
	}

	tx, err := w.buildTx(ctx, client, chainID, uint64(nonceHex), to, value, gasLimit, args.Data)
	if err != nil {
		return nil, err
	}

	signer := gethtypes.LatestSignerForChainID(chainID)
	digest := signer.Hash(tx).Bytes()

	key, err := w.rec.privateKey()
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}

	signed, err := tx.WithSignature(signer, sig)
	if err != nil {
		return nil, fmt.Errorf("with signature: %w", err)
	}

	bin, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal tx: %w", err)
	}

	var txHash common.Hash
	if err := client.CallContext(ctx, &txHash, "eth_sendRawTransaction", "0x"+hex.EncodeToString(bin)); err != nil {
		return nil, wrapRPCError(err)
	}

	w.log.Infow("transaction broadcast", "hash", txHash.Hex(), "to", args.To)
	return marshal(txHash.Hex())
}

func (w *Wallet) buildTx(ctx context.Context, client *rpc.Client, chainID *big.Int, nonce uint64, to *common.Address, value *big.Int, gasLimit uint64, data []byte) (*gethtypes.Transaction, error) {
	var tipHex hexutil.Big
	if err := client.CallContext(ctx, &tipHex, "eth_maxPriorityFeePerGas"); err == nil {
		var gasPriceHex hexutil.Big
		if err := client.CallContext(ctx, &gasPriceHex, "eth_gasPrice"); err == nil {
			tip := tipHex.ToInt()
			maxFee := new(big.Int).Mul(gasPriceHex.ToInt(), big.NewInt(2))
			maxFee.Add(maxFee, tip)
			return gethtypes.NewTx(&gethtypes.DynamicFeeTx{
				ChainID:   chainID,
				Nonce:     nonce,
				GasTipCap: tip,
				GasFeeCap: maxFee,
				Gas:       gasLimit,
				To:        to,
				Value:     value,
				Data:      data,
			}), nil
		}
	}

	var gasPriceHex hexutil.Big
	if err := client.CallContext(ctx, &gasPriceHex, "eth_gasPrice"); err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	return gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPriceHex.ToInt(),
		Data:     data,
	}), nil
}

func (w *Wallet) estimateGas(ctx context.Context, client *rpc.Client, from common.Address, to *common.Address, value *big.Int, data []byte) uint64 {
	msg := map[string]any{"from": from.Hex()}
	if to != nil {
		msg["to"] = to.Hex()
	}
	if value.Sign() > 0 {
		msg["value"] = hexutil.EncodeBig(value)
	}
	if len(data) > 0 {
		msg["data"] = "0x" + hex.EncodeToString(data)
	}

	var est hexutil.Uint64
	if err := client.CallContext(ctx, &est, "eth_estimateGas", msg); err != nil {
		if to == nil {
			return 1_500_000
		}
		return 250_000
	}

	u := uint64(est)
	u += u / 10
	if u < 21_000 {
		u = 21_000
	}
	return u
}

type switchChainParam struct {
	ChainID string `json:"chainId"`
}

func (w *Wallet) switchChain(params []any) (json.RawMessage, error) {
	if len(params) < 1 {
		return nil, &provider.RPCError{Code: provider.CodeInvalidParams, Message: "expected chain parameter"}
	}

	encoded, err := json.Marshal(params[0])
	if err != nil {
		return nil, &provider.RPCError{Code: provider.CodeInvalidParams, Message: err.Error()}
	}
	var p switchChainParam
	if err := json.Unmarshal(encoded, &p); err != nil {
		return nil, &provider.RPCError{Code: provider.CodeInvalidParams, Message: err.Error()}
	}

	id, err := hexutil.DecodeUint64(p.ChainID)
	if err != nil {
		return nil, &provider.RPCError{Code: provider.CodeInvalidParams, Message: fmt.Sprintf("bad chain id %q", p.ChainID)}
	}

	net, found, err := w.networks.FindByChainID(id)
	if err != nil {
		return nil, fmt.Errorf("lookup chain %d: %w", id, err)
	}
	if !found {
		return nil, &provider.RPCError{Code: provider.CodeUnknownChain, Message: fmt.Sprintf("chain %d not configured", id)}
	}

	client, err := rpc.Dial(net.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", net.RPCURL, err)
	}

	w.mu.Lock()
	old := w.rpc
	w.rpc = client
	w.current = net
	w.mu.Unlock()
	old.Close()

	w.log.Infow("switched chain", "chainID", id, "network", net.Name)
	w.emit(provider.Event{Type: provider.EventChainChanged, ChainIDHex: net.ChainIDHex})
	return marshal(nil)
}

func marshal(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// wrapRPCError converts node-side JSON-RPC errors into the provider error
// shape so callers can switch on codes uniformly.
func wrapRPCError(err error) error {
	var je rpc.Error
	if errors.As(err, &je) {
		return &provider.RPCError{Code: je.ErrorCode(), Message: strings.TrimSpace(je.Error())}
	}
	return err
}
