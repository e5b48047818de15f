package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitlock/params"
	"github.com/uhyunpark/limitlock/pkg/api"
	"github.com/uhyunpark/limitlock/pkg/asset"
	"github.com/uhyunpark/limitlock/pkg/escrow"
	"github.com/uhyunpark/limitlock/pkg/ledger"
	"github.com/uhyunpark/limitlock/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("node_starting", "db", cfg.Node.DBPath, "log_file", cfg.Node.LogFile)

	// ---- Ledger: the simulated chain, Pebble-backed ----
	chain, err := ledger.NewWithStore(cfg.Node.DBPath, sugar)
	if err != nil {
		sugar.Fatalw("ledger_init_failed", "err", err)
	}
	defer chain.Close()

	// ---- Genesis funding (devnet) ----
	if len(cfg.Node.GenesisAccounts) > 0 {
		amount, err := uint256.FromDecimal(cfg.Node.GenesisNative)
		if err != nil {
			sugar.Fatalw("invalid_genesis_amount", "amount", cfg.Node.GenesisNative, "err", err)
		}
		for _, s := range cfg.Node.GenesisAccounts {
			s = strings.TrimSpace(s)
			if !common.IsHexAddress(s) {
				sugar.Fatalw("invalid_genesis_account", "account", s)
			}
			addr := common.HexToAddress(s)
			// Fund once; a restarted node sees the persisted balance.
			if !chain.NativeBalance(addr).IsZero() {
				continue
			}
			if err := chain.Mint(addr, asset.NativePayment(amount)); err != nil {
				sugar.Fatalw("genesis_funding_failed", "account", addr.Hex(), "err", err)
			}
			sugar.Infow("genesis_account_funded", "account", addr.Hex(), "amount", amount.Dec())
		}
	}

	// ---- Escrow instances ----
	// Deployed in a fixed order from a fixed deployer, so instance
	// addresses are stable across restarts and persisted state reattaches.
	if !common.IsHexAddress(cfg.Node.Deployer) {
		sugar.Fatalw("invalid_deployer_address", "deployer", cfg.Node.Deployer)
	}
	deployer := common.HexToAddress(cfg.Node.Deployer)

	contracts := make([]*escrow.Contract, 0, cfg.Node.Instances)
	for i := 0; i < cfg.Node.Instances; i++ {
		var ct *escrow.Contract
		addr, err := chain.Deploy(deployer, func(h ledger.Host) ledger.Contract {
			ct = escrow.New(h, sugar)
			return ct
		})
		if err != nil {
			sugar.Fatalw("deploy_failed", "instance", i, "err", err)
		}
		contracts = append(contracts, ct)
		sugar.Infow("escrow_instance_ready", "instance", i, "address", addr.Hex())
	}

	// ---- API ----
	server := api.NewServer(chain, contracts, sugar)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.API.Addr, cfg.API.AllowedOrigins)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		sugar.Infow("shutting_down", "signal", sig.String())
	case err := <-errCh:
		sugar.Errorw("api_server_stopped", "err", err)
	}
}
