package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"prizevault/internal/chain"
	"prizevault/internal/config"
	"prizevault/internal/ledger"
	"prizevault/internal/logger"
	"prizevault/internal/nonce"
	"prizevault/internal/storage"
	"prizevault/internal/tracker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)

	go func() {
		cfg := config.Load()
		logger.Initialize(logger.Configuration{
			LogFile:   cfg.LogFile,
			ErrorFile: cfg.ErrorFile,
			Level:     cfg.LogLevel,
			Console:   cfg.LogConsole,
		})

		store, err := storage.NewSqliteStorage(cfg.DatabasePath)
		if err != nil {
			errCh <- err
			return
		}

		nonces := nonce.NewAllocator(store)
		gateway := chain.NewSidecarClient(cfg.NodeURL, cfg.SidecarURL, cfg.NetworkName, cfg.ContractHash, cfg.AdminPublicKey, nonces)
		book := ledger.NewLedger(store)
		processor := tracker.NewProcessor(store, book, gateway)

		trackerInstance := tracker.NewTracker(gateway, processor)
		errCh <- trackerInstance.Run(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			fmt.Printf("stopping on error: %v\n", err)
		}
		cancel()
	case <-waitForInterrupt():
		fmt.Println("interrupt received")
		cancel()
	}
}

func waitForInterrupt() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	return sigCh
}
