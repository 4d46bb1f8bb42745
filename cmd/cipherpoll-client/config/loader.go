// Package config loads the client configuration: embedded defaults, then any
// config.yaml found on the candidate paths, then environment overrides.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/cipherpoll/cipherpoll-client/internal/constants"
	"github.com/cipherpoll/cipherpoll-client/internal/networks"
)

//go:embed default.yaml
var embeddedDefaults []byte

type ClientSettings struct {
	SDKBundleURL         string `mapstructure:"SDKBundleURL"`
	ReconnectWaitSeconds int    `mapstructure:"ReconnectWaitSeconds"`
	InfuraKey            string `mapstructure:"InfuraKey"`
}

type NetworkConfig struct {
	Name     string `mapstructure:"name"`
	ChainID  uint64 `mapstructure:"chainId"`
	RPCURL   string `mapstructure:"rpcUrl"`
	Explorer string `mapstructure:"explorer"`
	Mock     bool   `mapstructure:"mock"`

	FactoryAddress       string `mapstructure:"factoryAddress"`
	ACLAddress           string `mapstructure:"aclAddress"`
	InputVerifierAddress string `mapstructure:"inputVerifierAddress"`
	KMSVerifierAddress   string `mapstructure:"kmsVerifierAddress"`
}

type Config struct {
	ClientSettings ClientSettings           `mapstructure:"ClientSettings"`
	Networks       map[string]NetworkConfig `mapstructure:"Networks"`
}

// Load reads embedded defaults, merges config.yaml from the first candidate
// path that has one, and applies environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(embeddedDefaults)); err != nil {
		return nil, fmt.Errorf("read embedded defaults: %w", err)
	}

	for _, dir := range configDirs() {
		path := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merge %s: %w", path, err)
		}
		break
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := strings.TrimSpace(os.Getenv("CIPHERPOLL_INFURA_KEY")); key != "" {
		cfg.ClientSettings.InfuraKey = key
	}
	cfg.applyInfuraKey()

	return &cfg, nil
}

// applyInfuraKey completes Infura-style RPC URLs that end in the project path.
func (c *Config) applyInfuraKey() {
	if c.ClientSettings.InfuraKey == "" {
		return
	}
	for name, n := range c.Networks {
		if strings.HasSuffix(n.RPCURL, "/v3/") {
			n.RPCURL += c.ClientSettings.InfuraKey
			c.Networks[name] = n
		}
	}
}

// DefaultNetworks converts configured networks into the persisted registry shape.
func (c *Config) DefaultNetworks() []networks.Network {
	out := make([]networks.Network, 0, len(c.Networks))
	for _, n := range c.Networks {
		out = append(out, networks.Network{
			Name:                 n.Name,
			ChainID:              n.ChainID,
			RPCURL:               n.RPCURL,
			Explorer:             n.Explorer,
			Mock:                 n.Mock,
			FactoryAddress:       n.FactoryAddress,
			ACLAddress:           n.ACLAddress,
			InputVerifierAddress: n.InputVerifierAddress,
			KMSVerifierAddress:   n.KMSVerifierAddress,
		})
	}
	return out
}

func configDirs() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".config", constants.AppName),
		filepath.Join(home, "config"),
		".",
	}
}
