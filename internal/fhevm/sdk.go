package fhevm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// NetworkConfig is the network-configuration object the SDK module carries:
// the relayer gateway endpoint and the protocol contract addresses for one
// chain.
type NetworkConfig struct {
	ChainID                   uint64 `json:"chainId"`
	GatewayChainID            uint64 `json:"gatewayChainId"`
	RelayerURL                string `json:"relayerUrl"`
	ACLAddress                string `json:"aclContractAddress"`
	KMSVerifierAddress        string `json:"kmsContractAddress"`
	InputVerifierAddress      string `json:"inputVerifierContractAddress"`
	DecryptionVerifierAddress string `json:"verifyingContractAddressDecryption"`
	InputVerificationAddress  string `json:"verifyingContractAddressInputVerification"`
}

// InstanceConfig parameterizes instance creation.
type InstanceConfig struct {
	Network      NetworkConfig
	PublicKey    string
	PublicParams []byte
}

// SDK is the loaded engine module: exactly the three capabilities the
// bootstrapper requires. An object is only accepted past validateSDK.
type SDK struct {
	Init           func(ctx context.Context) error
	CreateInstance func(ctx context.Context, cfg InstanceConfig) (Instance, error)
	NetworkConfig  NetworkConfig

	mu          sync.Mutex
	initialized bool
}

// EnsureInit runs the module's init routine at most once.
func (s *SDK) EnsureInit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	if err := s.Init(ctx); err != nil {
		return err
	}
	s.initialized = true
	return nil
}

// validateSDK accepts an object as the engine module only if all three
// required capabilities are present; otherwise it rejects without partially
// proceeding.
func validateSDK(s *SDK) error {
	if s == nil {
		return &InvalidSDKShapeError{Missing: "module"}
	}
	if s.Init == nil {
		return &InvalidSDKShapeError{Missing: "init routine"}
	}
	if s.CreateInstance == nil {
		return &InvalidSDKShapeError{Missing: "instance-creation routine"}
	}
	if s.NetworkConfig.RelayerURL == "" || s.NetworkConfig.ACLAddress == "" {
		return &InvalidSDKShapeError{Missing: "network configuration"}
	}
	return nil
}

// Loader fetches the remote SDK manifest from its fixed, versioned location
// and builds the module. The resource is fetched at most once per process;
// concurrent loads share one in-flight fetch and its outcome.
type Loader struct {
	url        string
	httpClient *http.Client
	log        *zap.SugaredLogger

	group singleflight.Group
	mu    sync.Mutex
	sdk   *SDK
}

func NewLoader(url string, log *zap.SugaredLogger) *Loader {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Loader{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// Load returns the module, fetching it on first use. If the module is already
// present and structurally valid, loading is skipped.
func (l *Loader) Load(ctx context.Context) (*SDK, error) {
	l.mu.Lock()
	if l.sdk != nil {
		sdk := l.sdk
		l.mu.Unlock()
		if err := validateSDK(sdk); err != nil {
			return nil, err
		}
		return sdk, nil
	}
	l.mu.Unlock()

	v, err, _ := l.group.Do("sdk", func() (any, error) {
		sdk, err := l.fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := validateSDK(sdk); err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.sdk = sdk
		l.mu.Unlock()
		return sdk, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SDK), nil
}

func (l *Loader) fetch(ctx context.Context) (*SDK, error) {
	l.log.Infow("loading relayer SDK", "url", l.url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, &SDKLoadError{URL: l.url, Err: err}
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, &SDKLoadError{URL: l.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &SDKLoadError{URL: l.url, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}

	var netCfg NetworkConfig
	if err := json.NewDecoder(resp.Body).Decode(&netCfg); err != nil {
		return nil, &SDKLoadError{URL: l.url, Err: fmt.Errorf("decode manifest: %w", err)}
	}

	sdk := &SDK{
		NetworkConfig: netCfg,
		Init: func(ctx context.Context) error {
			// Nothing beyond the manifest is required today; the hook stays so
			// parameter preloading can move here without changing callers.
			return ctx.Err()
		},
	}
	sdk.CreateInstance = func(ctx context.Context, cfg InstanceConfig) (Instance, error) {
		return newRelayerInstance(ctx, l.httpClient, cfg, l.log)
	}

	l.log.Infow("relayer SDK loaded", "relayer", netCfg.RelayerURL)
	return sdk, nil
}
