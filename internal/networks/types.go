package networks

import "github.com/cipherpoll/cipherpoll-client/internal/constants"

// Network describes one chain the client can operate on. Mock networks run the
// local engine variant and carry the verifier/registry addresses it needs.
type Network struct {
	Name       string `json:"name"`
	ChainID    uint64 `json:"chainId"`
	ChainIDHex string `json:"chainIdHex"`
	RPCURL     string `json:"rpcUrl,omitempty"`
	Explorer   string `json:"explorer,omitempty"`
	Mock       bool   `json:"mock,omitempty"`

	// Survey factory deployment on this chain.
	FactoryAddress string `json:"factoryAddress,omitempty"`

	// Engine metadata. ACLAddress scopes public key material on every chain;
	// the verifier addresses are only needed by the mock engine variant.
	ACLAddress           string `json:"aclAddress,omitempty"`
	InputVerifierAddress string `json:"inputVerifierAddress,omitempty"`
	KMSVerifierAddress   string `json:"kmsVerifierAddress,omitempty"`
}

// Store is the on-disk networks file.
type Store struct {
	Schema   int                `json:"schema"`
	Networks map[string]Network `json:"networks"` // key = normalized name
}

func NewEmptyStore() Store {
	return Store{
		Schema:   constants.SchemaV1,
		Networks: map[string]Network{},
	}
}
