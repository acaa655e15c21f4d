package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "RELAYER"

// RelayerConfig is the whole relayer configuration, read from RELAYER_* env variables.
type RelayerConfig struct {
	Source      SourceConfig
	Destination DestinationConfig
	Queue       QueueConfig
	Dispatcher  DispatcherConfig
	Registry    RegistryConfig

	StoragePath         string        `split_words:"true" default:"storage/leveldb"`
	ListenAddr          string        `split_words:"true" default:"localhost:9999"`
	ShutdownGracePeriod time.Duration `split_words:"true" default:"30s"`
}

// SourceConfig describes the source Ethereum network and the depositor contract.
type SourceConfig struct {
	RPCAddr         string        `split_words:"true" required:"true"`
	ChainID         uint64        `split_words:"true"`
	ContractAddress string        `split_words:"true" required:"true"`
	Timeout         time.Duration `default:"30s"`
	// GenesisTime is the beacon chain genesis timestamp, in seconds.
	GenesisTime    uint64 `split_words:"true" required:"true"`
	SecondsPerSlot uint64 `split_words:"true" default:"12"`

	BackfillBlocks    uint64 `split_words:"true" default:"100"`
	BackfillBatchSize uint64 `split_words:"true" default:"1000"`
	SeenCacheSize     int    `split_words:"true" default:"4096"`
	HeaderCacheSize   int    `split_words:"true" default:"1024"`
	FeedCapacity      int    `split_words:"true" default:"256"`

	ReconnectInitialInterval time.Duration `split_words:"true" default:"1s"`
	ReconnectMaxInterval     time.Duration `split_words:"true" default:"1m"`
}

// DestinationConfig describes the destination gateway: the checkpoint feed and the redirect
// service.
type DestinationConfig struct {
	RPCAddr string        `split_words:"true" required:"true"`
	Timeout time.Duration `default:"30s"`
	// Program is the destination program the redirect service forwards proofs to.
	Program string `required:"true"`
	Route   string `default:"staking_receiver/submit_receipt"`

	FeedCapacity             int           `split_words:"true" default:"16"`
	ReconnectInitialInterval time.Duration `split_words:"true" default:"1s"`
	ReconnectMaxInterval     time.Duration `split_words:"true" default:"1m"`
}

type QueueConfig struct {
	MaxAttempts            uint32        `split_words:"true" default:"10"`
	MaxDataMissingAttempts uint32        `split_words:"true" default:"3"`
	RetryInitialInterval   time.Duration `split_words:"true" default:"5s"`
	RetryMaxInterval       time.Duration `split_words:"true" default:"5m"`
}

type DispatcherConfig struct {
	ProofWorkers    int     `split_words:"true" default:"4"`
	DispatchWorkers int     `split_words:"true" default:"2"`
	RateLimit       float64 `split_words:"true" default:"0"`
	RateBurst       int     `split_words:"true" default:"1"`
	// MinScanInterval bounds how often the queue is scanned for eligible messages.
	MinScanInterval time.Duration `split_words:"true" default:"100ms"`
}

// RegistryConfig is the optional watch list. Empty lists do not filter.
type RegistryConfig struct {
	Depositors []string
	Recipients []string
}

// NewRelayerConfig reads the configuration from the environment and validates it.
func NewRelayerConfig() (RelayerConfig, error) {
	var cfg RelayerConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c RelayerConfig) Validate() error {
	if !common.IsHexAddress(c.Source.ContractAddress) {
		return fmt.Errorf("source contract address %q is not a hex address", c.Source.ContractAddress)
	}
	if c.Source.SecondsPerSlot == 0 {
		return errors.New("source seconds per slot must be positive")
	}
	if c.Source.GenesisTime == 0 {
		return errors.New("source genesis time must be set")
	}
	if c.Queue.MaxAttempts == 0 {
		return errors.New("queue max attempts must be positive")
	}
	if c.Queue.MaxDataMissingAttempts > c.Queue.MaxAttempts {
		return fmt.Errorf("queue max data missing attempts (%d) exceeds max attempts (%d)",
			c.Queue.MaxDataMissingAttempts, c.Queue.MaxAttempts)
	}
	if c.Dispatcher.ProofWorkers <= 0 || c.Dispatcher.DispatchWorkers <= 0 {
		return errors.New("dispatcher worker counts must be positive")
	}
	if c.Dispatcher.RateLimit < 0 {
		return errors.New("dispatcher rate limit must not be negative")
	}
	for _, addr := range c.Registry.Depositors {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("registry depositor %q is not a hex address", addr)
		}
	}
	return nil
}
