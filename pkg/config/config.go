package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Project  string         `mapstructure:"project"`
	Log      LogConfig      `mapstructure:"log"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Values   ValuesConfig   `mapstructure:"values"`
	Registry RegistryConfig `mapstructure:"registry"`
	RPC      RPCConfig      `mapstructure:"rpc"`
	API      APIConfig      `mapstructure:"api"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

type ScanConfig struct {
	ChainID  uint64 `mapstructure:"chain_id"`
	Contract string `mapstructure:"contract"`

	InitialChunkSize uint64 `mapstructure:"initial_chunk_size"`
	MaxChunkSize     uint64 `mapstructure:"max_chunk_size"`
	MinChunkSize     uint64 `mapstructure:"min_chunk_size"`

	TxBatchSize   int `mapstructure:"tx_batch_size"`
	BatchAttempts int `mapstructure:"batch_attempts"`

	InitialRetryDelay time.Duration `mapstructure:"initial_retry_delay"`
	MaxRetryDelay     time.Duration `mapstructure:"max_retry_delay"`

	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures"`

	// CheckpointPrefix: prefix for the cursor store (e.g., PG table prefix or Redis key prefix)
	CheckpointPrefix string `mapstructure:"checkpoint_prefix"`
}

type ValuesConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	BatchPause    time.Duration `mapstructure:"batch_pause"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type RegistryConfig struct {
	AssetURL     string `mapstructure:"asset_url"`
	ABIURL       string `mapstructure:"abi_url"`
	ChainListURL string `mapstructure:"chain_list_url"`
}

type RPCConfig struct {
	// Endpoints overrides the chain-list lookup when set
	Endpoints []string `mapstructure:"endpoints"`
	QPS       float64  `mapstructure:"qps"`
}

type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ORACLE_SCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Scan.InitialChunkSize == 0 {
		cfg.Scan.InitialChunkSize = 100_000
	}
	if cfg.Scan.TxBatchSize == 0 {
		cfg.Scan.TxBatchSize = 20
	}
	if cfg.Values.BatchSize == 0 {
		cfg.Values.BatchSize = 5
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = ":8080"
	}

	return &cfg, nil
}
