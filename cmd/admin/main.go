package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/urfave/cli.v1"

	"prizevault/internal/chain"
	"prizevault/internal/config"
	"prizevault/internal/draw"
	"prizevault/internal/ledger"
	"prizevault/internal/logger"
	"prizevault/internal/nonce"
	"prizevault/internal/storage"
	"prizevault/internal/tracker"
)

// The admin binary is the trigger surface for draw and distribution
// operations. One caller at a time: these commands assume no concurrent
// admin activity against the same database.
type services struct {
	storage   storage.Storage
	gateway   chain.Gateway
	engine    *draw.Engine
	processor *tracker.Processor
	nonces    *nonce.Allocator
	cfg       *config.Config
}

func openServices() (*services, error) {
	cfg := config.Load()
	logger.Initialize(logger.Configuration{
		LogFile:   cfg.LogFile,
		ErrorFile: cfg.ErrorFile,
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
	})

	store, err := storage.NewSqliteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	nonces := nonce.NewAllocator(store)
	gateway := chain.NewSidecarClient(cfg.NodeURL, cfg.SidecarURL, cfg.NetworkName, cfg.ContractHash, cfg.AdminPublicKey, nonces)
	book := ledger.NewLedger(store)
	builder := draw.NewSnapshotBuilder(store, gateway, cfg.MinEligibleBalance, cfg.MinHoldDurationHours)

	return &services{
		storage:   store,
		gateway:   gateway,
		engine:    draw.NewEngine(store, gateway, builder),
		processor: tracker.NewProcessor(store, book, gateway),
		nonces:    nonces,
		cfg:       cfg,
	}, nil
}

func main() {
	app := cli.NewApp()
	app.Name = "prizevault-admin"
	app.Usage = "administrative triggers for the prize vault oracle"

	app.Commands = []cli.Command{
		{
			Name:  "run-draw",
			Usage: "start a draw",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "winners", Value: 5, Usage: "number of winners to select"},
				cli.BoolFlag{Name: "future-block", Usage: "seed from a future block hash"},
				cli.Int64Flag{Name: "block-offset", Value: 10, Usage: "blocks ahead for the future seed"},
			},
			Action: runDraw,
		},
		{
			Name:      "finalize-draw",
			Usage:     "finalize a pending future-block draw",
			ArgsUsage: "<draw-id>",
			Action:    finalizeDraw,
		},
		{
			Name:      "distribute-rewards",
			Usage:     "submit reward transfers for a completed draw",
			ArgsUsage: "<draw-id>",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "dry-run", Usage: "report transfers without submitting"},
			},
			Action: distributeRewards,
		},
		{
			Name:  "trigger-unstake",
			Usage: "trigger on-chain unstake processing for users with pending unstake",
			Flags: []cli.Flag{
				cli.StringSliceFlag{Name: "key", Usage: "participant public key (repeatable)"},
			},
			Action: triggerUnstake,
		},
		{
			Name:  "resync",
			Usage: "replay historical events through the dedup journal",
			Flags: []cli.Flag{
				cli.Int64Flag{Name: "from", Usage: "first chain height"},
				cli.Int64Flag{Name: "to", Value: -1, Usage: "last chain height (default: open-ended)"},
			},
			Action: resyncEvents,
		},
		{
			Name:  "manual-deposit",
			Usage: "apply a deposit through the normal event path",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "key", Usage: "participant public key"},
				cli.StringFlag{Name: "amount", Usage: "amount in motes"},
				cli.StringFlag{Name: "ref", Usage: "external transaction reference"},
			},
			Action: manualDeposit,
		},
		{
			Name:  "init-nonce",
			Usage: "reset the admin signer nonce counter",
			Flags: []cli.Flag{
				cli.Int64Flag{Name: "value", Value: 0, Usage: "starting nonce"},
			},
			Action: initNonce,
		},
		{
			Name:   "stats",
			Usage:  "print system counters",
			Action: printStats,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDraw(c *cli.Context) error {
	svc, err := openServices()
	if err != nil {
		return err
	}

	record, err := svc.engine.RunDraw(context.Background(), c.Int("winners"), c.Bool("future-block"), c.Int64("block-offset"))
	if err != nil {
		return err
	}

	if record.Status == storage.DrawStatusPending {
		fmt.Printf("draw %s pending, finalize once chain reaches height %d\n", record.DrawID, record.ChainHeightUsed)
		return nil
	}

	fmt.Printf("draw %s completed, pool %s motes\n", record.DrawID, record.TotalRewardPool)
	for _, winner := range record.Winners {
		fmt.Printf("  #%d %s  tickets=%d  reward=%s\n", winner.Rank, winner.PublicKey, winner.TicketsWon, winner.RewardAmount)
	}
	return nil
}

func finalizeDraw(c *cli.Context) error {
	drawID := c.Args().First()
	if drawID == "" {
		return cli.NewExitError("draw-id argument required", 1)
	}

	svc, err := openServices()
	if err != nil {
		return err
	}

	record, err := svc.engine.FinalizePendingDraw(context.Background(), drawID)
	if err != nil {
		return err
	}

	fmt.Printf("draw %s finalized with %d winners\n", record.DrawID, len(record.Winners))
	for _, winner := range record.Winners {
		fmt.Printf("  #%d %s  tickets=%d  reward=%s\n", winner.Rank, winner.PublicKey, winner.TicketsWon, winner.RewardAmount)
	}
	return nil
}

func distributeRewards(c *cli.Context) error {
	drawID := c.Args().First()
	if drawID == "" {
		return cli.NewExitError("draw-id argument required", 1)
	}

	svc, err := openServices()
	if err != nil {
		return err
	}

	result, err := svc.engine.DistributeRewards(context.Background(), drawID, c.Bool("dry-run"))
	if err != nil {
		return err
	}

	if result.DryRun {
		fmt.Printf("dry run: would distribute %s motes to %d winners\n", result.TotalDistributed, len(result.Transfers))
		return nil
	}

	fmt.Printf("distribution submitted, tx %s, total %s motes\n", result.TxRef, result.TotalDistributed)
	return nil
}

func triggerUnstake(c *cli.Context) error {
	publicKeys := c.StringSlice("key")
	if len(publicKeys) == 0 {
		return cli.NewExitError("at least one --key required", 1)
	}

	svc, err := openServices()
	if err != nil {
		return err
	}

	accounts, err := svc.storage.GetAccountsByPublicKeys(publicKeys)
	if err != nil {
		return err
	}

	withPending := make(map[string]bool, len(accounts))
	for _, account := range accounts {
		if account.PendingUnstake.IsPositive() {
			withPending[account.PublicKey] = true
		}
	}
	for _, publicKey := range publicKeys {
		if !withPending[publicKey] {
			return cli.NewExitError(fmt.Sprintf("%s has no pending unstake", publicKey), 1)
		}
	}

	result, err := svc.gateway.SubmitUnstakeTrigger(context.Background(), publicKeys)
	if err != nil {
		return err
	}
	if !result.OK {
		return cli.NewExitError("unstake trigger rejected: "+result.ErrorMessage, 1)
	}

	fmt.Printf("unstake processing submitted, tx %s\n", result.TxRef)
	return nil
}

func resyncEvents(c *cli.Context) error {
	svc, err := openServices()
	if err != nil {
		return err
	}

	var toHeight *int64
	if to := c.Int64("to"); to >= 0 {
		toHeight = &to
	}

	if err := svc.processor.ReplayEvents(context.Background(), c.Int64("from"), toHeight); err != nil {
		return err
	}

	fmt.Println("resync complete")
	return nil
}

func manualDeposit(c *cli.Context) error {
	publicKey := c.String("key")
	amount := c.String("amount")
	ref := c.String("ref")
	if publicKey == "" || amount == "" || ref == "" {
		return cli.NewExitError("--key, --amount and --ref are all required", 1)
	}

	svc, err := openServices()
	if err != nil {
		return err
	}

	event, err := buildManualDepositEvent(context.Background(), svc.gateway, publicKey, amount, ref)
	if err != nil {
		return err
	}

	if err := svc.processor.ProcessEvent(event); err != nil {
		return err
	}

	fmt.Printf("manual deposit of %s motes applied to %s\n", amount, publicKey)
	return nil
}

func buildManualDepositEvent(ctx context.Context, gateway chain.Gateway, publicKey string, amount string, ref string) (chain.Event, error) {
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return chain.Event{}, err
	}

	height, err := gateway.CurrentHeight(ctx)
	if err != nil {
		return chain.Event{}, err
	}

	return chain.Event{
		EventID:     "manual_" + ref,
		ExternalRef: ref,
		Type:        chain.DepositEventType,
		ChainHeight: height,
		At:          time.Now(),
		PublicKey:   publicKey,
		Amount:      value,
	}, nil
}

func initNonce(c *cli.Context) error {
	svc, err := openServices()
	if err != nil {
		return err
	}

	if err := svc.nonces.InitializeNonce(svc.cfg.AdminPublicKey, c.Int64("value")); err != nil {
		return err
	}

	fmt.Printf("nonce for %s set to %d\n", svc.cfg.AdminPublicKey, c.Int64("value"))
	return nil
}

func printStats(c *cli.Context) error {
	svc, err := openServices()
	if err != nil {
		return err
	}

	stats, err := svc.storage.GetSystemStats()
	if err != nil {
		return err
	}

	fmt.Printf("accounts: %d total, %d active\n", stats.TotalAccounts, stats.ActiveAccounts)
	fmt.Printf("locked:   %s motes\n", stats.TotalLocked)
	fmt.Printf("draws:    %d total, %d completed, %d pending\n", stats.TotalDraws, stats.CompletedDraws, stats.PendingDraws)
	return nil
}
