package fhevm

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"

	"github.com/cipherpoll/cipherpoll-client/internal/handle"
)

// relayerInstance is the remote engine variant: encrypted-input proofs and
// user decryption go through the relayer gateway over HTTP.
type relayerInstance struct {
	httpClient *http.Client
	log        *zap.SugaredLogger

	network      NetworkConfig
	publicKey    string
	publicParams []byte
}

type keyURLResponse struct {
	Response struct {
		FHEKeyInfo []struct {
			FHEPublicKey struct {
				DataID string   `json:"data_id"`
				URLs   []string `json:"urls"`
			} `json:"fhe_public_key"`
		} `json:"fhe_key_info"`
	} `json:"response"`
}

// newRelayerInstance builds the remote variant. Public key material comes
// from cfg when the caller has it cached; otherwise it is fetched from the
// relayer's key endpoint.
func newRelayerInstance(ctx context.Context, httpClient *http.Client, cfg InstanceConfig, log *zap.SugaredLogger) (Instance, error) {
	inst := &relayerInstance{
		httpClient:   httpClient,
		log:          log,
		network:      cfg.Network,
		publicKey:    cfg.PublicKey,
		publicParams: cfg.PublicParams,
	}

	if inst.publicKey == "" {
		if err := inst.fetchKeyMaterial(ctx); err != nil {
			return nil, fmt.Errorf("fetch public key material: %w", err)
		}
	}
	return inst, nil
}

func (r *relayerInstance) fetchKeyMaterial(ctx context.Context) error {
	url := r.network.RelayerURL + "/v1/keyurl"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("keyurl: status %d: %s", resp.StatusCode, string(body))
	}

	var out keyURLResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("decode keyurl response: %w", err)
	}
	if len(out.Response.FHEKeyInfo) == 0 {
		return fmt.Errorf("keyurl: no key info returned")
	}
	r.publicKey = out.Response.FHEKeyInfo[0].FHEPublicKey.DataID
	return nil
}

func (r *relayerInstance) CreateEncryptedInput(contractAddress, userAddress string) EncryptedInputBuilder {
	return &relayerInputBuilder{
		inst:     r,
		contract: strings.ToLower(contractAddress),
		user:     strings.ToLower(userAddress),
	}
}

func (r *relayerInstance) GenerateKeypair() (Keypair, error) {
	return generateKeypair()
}

func (r *relayerInstance) CreateEIP712(publicKey string, contractAddresses []string, startTimestamp, durationDays int64) apitypes.TypedData {
	return buildDecryptionTypedData(r.network.ChainID, r.network.DecryptionVerifierAddress, publicKey, contractAddresses, startTimestamp, durationDays)
}

type userDecryptRequest struct {
	HandleContractPairs []handleContractPair `json:"handleContractPairs"`
	RequestValidity     requestValidity      `json:"requestValidity"`
	ContractsChainID    uint64               `json:"contractsChainId"`
	ContractAddresses   []string             `json:"contractAddresses"`
	UserAddress         string               `json:"userAddress"`
	Signature           string               `json:"signature"`
	PublicKey           string               `json:"publicKey"`
}

type handleContractPair struct {
	Handle          string `json:"handle"`
	ContractAddress string `json:"contractAddress"`
}

type requestValidity struct {
	StartTimestamp int64 `json:"startTimestamp"`
	DurationDays   int64 `json:"durationDays"`
}

type userDecryptResponse struct {
	Response []map[string]string `json:"response"`
}

func (r *relayerInstance) UserDecrypt(ctx context.Context, requests []HandleRequest, sig *DecryptionSignature) (map[string]*big.Int, error) {
	pairs := make([]handleContractPair, len(requests))
	for i, q := range requests {
		pairs[i] = handleContractPair{
			Handle:          q.Handle.Hex(),
			ContractAddress: strings.ToLower(q.ContractAddress),
		}
	}

	reqBody := userDecryptRequest{
		HandleContractPairs: pairs,
		RequestValidity: requestValidity{
			StartTimestamp: sig.StartTimestamp,
			DurationDays:   sig.DurationDays,
		},
		ContractsChainID:  r.network.ChainID,
		ContractAddresses: sig.ContractAddresses,
		UserAddress:       sig.UserAddress,
		Signature:         sig.Signature,
		PublicKey:         sig.PublicKey,
	}

	var out userDecryptResponse
	if err := r.postJSON(ctx, "/v1/user-decrypt", reqBody, &out); err != nil {
		return nil, err
	}

	result := make(map[string]*big.Int, len(requests))
	for _, entry := range out.Response {
		for h, v := range entry {
			n, ok := new(big.Int).SetString(strings.TrimPrefix(v, "0x"), 0)
			if !ok {
				n, ok = new(big.Int).SetString(v, 10)
			}
			if !ok {
				return nil, fmt.Errorf("user-decrypt: unparseable value %q for handle %s", v, h)
			}
			result[strings.ToLower(h)] = n
		}
	}
	return result, nil
}

func (r *relayerInstance) PublicKey() string    { return r.publicKey }
func (r *relayerInstance) PublicParams() []byte { return r.publicParams }

func (r *relayerInstance) postJSON(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.network.RelayerURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type relayerInputBuilder struct {
	inst     *relayerInstance
	contract string
	user     string
	values   []inputValue
}

type inputValue struct {
	Value string `json:"value"`
	Bits  int    `json:"bits"`
}

func (b *relayerInputBuilder) add(v uint64, bits int) {
	b.values = append(b.values, inputValue{Value: new(big.Int).SetUint64(v).String(), Bits: bits})
}

func (b *relayerInputBuilder) Add8(v uint8)   { b.add(uint64(v), 8) }
func (b *relayerInputBuilder) Add16(v uint16) { b.add(uint64(v), 16) }
func (b *relayerInputBuilder) Add32(v uint32) { b.add(uint64(v), 32) }
func (b *relayerInputBuilder) Add64(v uint64) { b.add(v, 64) }

type inputProofRequest struct {
	ContractAddress string       `json:"contractAddress"`
	UserAddress     string       `json:"userAddress"`
	ChainID         uint64       `json:"contractChainId"`
	Values          []inputValue `json:"ciphertextWithInputVerification"`
}

type inputProofResponse struct {
	Response struct {
		Handles []string `json:"handles"`
		Proof   string   `json:"proof"`
	} `json:"response"`
}

func (b *relayerInputBuilder) Encrypt(ctx context.Context) (*EncryptedInputBatch, error) {
	reqBody := inputProofRequest{
		ContractAddress: b.contract,
		UserAddress:     b.user,
		ChainID:         b.inst.network.ChainID,
		Values:          b.values,
	}

	var out inputProofResponse
	if err := b.inst.postJSON(ctx, "/v1/input-proof", reqBody, &out); err != nil {
		return nil, err
	}

	if len(out.Response.Handles) != len(b.values) {
		return nil, fmt.Errorf("input-proof: %d handles for %d values", len(out.Response.Handles), len(b.values))
	}

	handles := make([]handle.Handle, len(out.Response.Handles))
	for i, hx := range out.Response.Handles {
		h, err := handle.FromHex(hx)
		if err != nil {
			return nil, fmt.Errorf("input-proof: handle %d: %w", i, err)
		}
		handles[i] = h
	}

	proof, err := hex.DecodeString(strings.TrimPrefix(out.Response.Proof, "0x"))
	if err != nil {
		return nil, fmt.Errorf("input-proof: decode proof: %w", err)
	}

	return &EncryptedInputBatch{Handles: handles, Proof: proof}, nil
}
