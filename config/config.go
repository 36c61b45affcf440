package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

const (
	AssetBook  = "book"
	AssetERC20 = "erc20"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Custody  CustodyConfig  `mapstructure:"custody"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Issuers  []string       `mapstructure:"issuers"`
	Assets   []AssetConfig  `mapstructure:"assets"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type CustodyConfig struct {
	Mnemonic     string `mapstructure:"mnemonic"`
	AccountIndex uint32 `mapstructure:"account_index"`
	// Address is used as the custody account when no mnemonic is set.
	Address string `mapstructure:"address"`
}

type ChainConfig struct {
	RPCURL    string `mapstructure:"rpc_url"`
	ChainID   int64  `mapstructure:"chain_id"`
	SignerURL string `mapstructure:"signer_url"`
	GasLimit  uint64 `mapstructure:"gas_limit"`
	// ReceiptTimeout bounds the wait for a token transfer to be mined.
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout"`
	// ReconcileInterval is how often journaled chain transfers are matched
	// against committed ledger operations.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

type AssetConfig struct {
	Address  string `mapstructure:"address"`
	Symbol   string `mapstructure:"symbol"`
	Decimals int32  `mapstructure:"decimals"`
	Kind     string `mapstructure:"kind"`
}

// Load reads path (or ./config.yaml when path is empty) and overlays GIFT_*
// environment variables. A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "gifts.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("chain.chain_id", 1)
	v.SetDefault("chain.gas_limit", 100000)
	v.SetDefault("chain.receipt_timeout", "2m")
	v.SetDefault("chain.reconcile_interval", "30s")

	v.SetEnvPrefix("GIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver %q: want postgres or sqlite", c.Database.Driver)
	}
	if c.Custody.Address != "" && !common.IsHexAddress(c.Custody.Address) {
		return fmt.Errorf("custody.address %q is not an address", c.Custody.Address)
	}
	for _, s := range c.Issuers {
		if !common.IsHexAddress(s) {
			return fmt.Errorf("issuer %q is not an address", s)
		}
	}
	for i, a := range c.Assets {
		if !common.IsHexAddress(a.Address) {
			return fmt.Errorf("assets[%d].address %q is not an address", i, a.Address)
		}
		switch a.Kind {
		case AssetBook:
		case AssetERC20:
			if c.Chain.RPCURL == "" {
				return fmt.Errorf("assets[%d] is an erc20 token but chain.rpc_url is empty", i)
			}
			// The transfer journal is written while a ledger transaction is
			// open, which sqlite's single writer cannot do.
			if c.Database.Driver != "postgres" {
				return fmt.Errorf("assets[%d] is an erc20 token, which needs database.driver postgres", i)
			}
		default:
			return fmt.Errorf("assets[%d].kind %q: want book or erc20", i, a.Kind)
		}
	}
	return nil
}

func (c *Config) IssuerAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.Issuers))
	for _, s := range c.Issuers {
		out = append(out, common.HexToAddress(s))
	}
	return out
}
