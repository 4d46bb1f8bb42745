package fhevm

import (
	"context"

	"go.uber.org/zap"

	"github.com/cipherpoll/cipherpoll-client/internal/networks"
)

// Status names the observable phases of engine bootstrap, emitted in order
// through Config.OnStatus.
type Status string

const (
	StatusSDKLoading      Status = "sdk-loading"
	StatusSDKLoaded       Status = "sdk-loaded"
	StatusSDKInitializing Status = "sdk-initializing"
	StatusSDKInitialized  Status = "sdk-initialized"
	StatusCreating        Status = "creating"
	StatusReady           Status = "ready"
)

// Config parameterizes one bootstrap run.
type Config struct {
	Network  networks.Network
	KeyCache *KeyCache
	Loader   *Loader
	OnStatus func(Status)
	Log      *zap.SugaredLogger
}

func (c *Config) emit(s Status) {
	if c.OnStatus != nil {
		c.OnStatus(s)
	}
}

// CreateInstance runs the full bootstrap chain for one (chain, ACL contract)
// pair. Cancellation is checked before every side-effecting step; an aborted
// run returns ErrCreationAborted and leaves shared state untouched, except
// that a completed SDK fetch stays cached for the next run. Mock networks
// bypass the remote chain entirely.
func CreateInstance(ctx context.Context, cfg Config) (Instance, error) {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if err := aborted(ctx); err != nil {
		return nil, err
	}

	if cfg.Network.Mock {
		cfg.emit(StatusCreating)
		inst := NewMockInstance(cfg.Network.ChainID)
		cfg.emit(StatusReady)
		log.Infow("mock engine instance ready", "chainID", cfg.Network.ChainID)
		return inst, nil
	}

	cfg.emit(StatusSDKLoading)
	sdk, err := cfg.Loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	cfg.emit(StatusSDKLoaded)

	if err := aborted(ctx); err != nil {
		return nil, err
	}

	cfg.emit(StatusSDKInitializing)
	if err := sdk.EnsureInit(ctx); err != nil {
		return nil, err
	}
	cfg.emit(StatusSDKInitialized)

	if err := aborted(ctx); err != nil {
		return nil, err
	}

	acl := cfg.Network.ACLAddress
	if acl == "" {
		acl = sdk.NetworkConfig.ACLAddress
	}

	var cached PublicKeyRecord
	if cfg.KeyCache != nil {
		cached = cfg.KeyCache.Get(acl)
	}

	cfg.emit(StatusCreating)
	inst, err := sdk.CreateInstance(ctx, InstanceConfig{
		Network:      sdk.NetworkConfig,
		PublicKey:    cached.PublicKey,
		PublicParams: cached.PublicParams,
	})
	if err != nil {
		return nil, err
	}

	if err := aborted(ctx); err != nil {
		return nil, err
	}

	if cfg.KeyCache != nil && cached.PublicKey == "" {
		cfg.KeyCache.Set(acl, PublicKeyRecord{
			PublicKey:    inst.PublicKey(),
			PublicParams: inst.PublicParams(),
		})
	}

	cfg.emit(StatusReady)
	log.Infow("engine instance ready", "chainID", cfg.Network.ChainID, "acl", acl)
	return inst, nil
}

func aborted(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrCreationAborted
	}
	return nil
}
