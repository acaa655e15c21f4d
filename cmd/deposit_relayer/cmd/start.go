package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	nlogger "github.com/neutron-org/neutron-logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neutron-org/deposit-relayer/internal/app"
	"github.com/neutron-org/deposit-relayer/internal/config"
	"github.com/neutron-org/deposit-relayer/internal/relay"
)

const (
	mainContext = "main"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the deposit relayer main app",
	Run: func(cmd *cobra.Command, args []string) {
		startRelayer()
	},
}

func init() {
	RootCmd.AddCommand(startCmd)
}

func startRelayer() {
	logRegistry, err := nlogger.NewRegistry(append([]string{mainContext}, app.LogContexts()...)...)
	if err != nil {
		log.Fatalf("couldn't initialize loggers registry: %s", err)
	}
	logger := logRegistry.Get(mainContext)
	logger.Info("deposit-relayer starts...", zap.String("version", app.Version), zap.String("commit", app.Commit))

	cfg, err := config.NewRelayerConfig()
	if err != nil {
		logger.Fatal("cannot initialize relayer config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := &sync.WaitGroup{}

	// The storage has to be shared because of the LevelDB single process restriction.
	storage, err := app.NewDefaultStorage(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create NewDefaultStorage", zap.Error(err))
	}
	defer func(storage relay.Storage) {
		if err := storage.Close(); err != nil {
			logger.Error("failed to close storage", zap.Error(err))
		}
	}(storage)

	deps, err := app.NewDefaultDependencyContainer(ctx, cfg, logRegistry)
	if err != nil {
		logger.Error("failed to initialize dependency container", zap.Error(err))
		return
	}
	defer deps.Close()

	service, err := app.NewDefaultRelayService(cfg, logRegistry, storage, deps)
	if err != nil {
		logger.Error("failed to create NewDefaultRelayService", zap.Error(err))
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		if err := service.Start(ctx); err != nil {
			logger.Error("RelayService exited with an error", zap.Error(err))
		}
		cancel()
	}()

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

		select {
		case s := <-sigs:
			logger.Info("Received termination signal, gracefully shutting down...",
				zap.String("signal", s.String()))
			if err := service.Stop(); err != nil {
				logger.Error("failed to stop relay service gracefully", zap.Error(err))
			}
		case <-ctx.Done():
		}
	}()

	wg.Wait()
}
