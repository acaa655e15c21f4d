package app

import (
	"context"
	"fmt"

	nlogger "github.com/neutron-org/neutron-logger"
	"go.uber.org/zap"

	"github.com/neutron-org/deposit-relayer/internal/chain"
	"github.com/neutron-org/deposit-relayer/internal/config"
	"github.com/neutron-org/deposit-relayer/internal/destination"
	"github.com/neutron-org/deposit-relayer/internal/proof"
	"github.com/neutron-org/deposit-relayer/internal/slotclock"
)

// DependencyContainer holds the network clients of both chains and what is built directly on top
// of them.
type DependencyContainer struct {
	sourceClient      *chain.Client
	destinationClient *destination.Client
	proofGenerator    *proof.Generator
	slotClock         *slotclock.SlotClock
	logger            *zap.Logger
}

func NewDefaultDependencyContainer(ctx context.Context,
	cfg config.RelayerConfig,
	logRegistry *nlogger.Registry) (*DependencyContainer, error) {
	clock, err := slotclock.NewSlotClock(cfg.Source.GenesisTime, cfg.Source.SecondsPerSlot)
	if err != nil {
		return nil, fmt.Errorf("cannot create slot clock: %w", err)
	}

	sourceClient, err := dialSource(ctx, cfg, logRegistry)
	if err != nil {
		return nil, fmt.Errorf("could not initialize source chain client: %w", err)
	}

	destinationClient, err := dialDestination(ctx, cfg, logRegistry)
	if err != nil {
		sourceClient.Close()
		return nil, fmt.Errorf("could not initialize destination gateway client: %w", err)
	}

	return &DependencyContainer{
		sourceClient:      sourceClient,
		destinationClient: destinationClient,
		proofGenerator:    proof.NewGenerator(sourceClient, logRegistry.Get(ProofGeneratorContext)),
		slotClock:         clock,
		logger:            logRegistry.Get(AppContext),
	}, nil
}

func (c DependencyContainer) GetSourceClient() *chain.Client {
	return c.sourceClient
}

func (c DependencyContainer) GetDestinationClient() *destination.Client {
	return c.destinationClient
}

func (c DependencyContainer) GetProofGenerator() *proof.Generator {
	return c.proofGenerator
}

func (c DependencyContainer) GetSlotClock() *slotclock.SlotClock {
	return c.slotClock
}

// Close releases both network clients.
func (c DependencyContainer) Close() {
	c.sourceClient.Close()
	c.destinationClient.Close()
	c.logger.Info("network clients closed")
}
