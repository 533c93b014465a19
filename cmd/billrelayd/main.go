package main

import (
	"context"
	"log"
	"net/http"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"billrelay/config"
	"billrelay/ledger"
	"billrelay/mirror"
	"billrelay/observability/logging"
	"billrelay/relay"
	"billrelay/server"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.Setup("billrelayd", cfg.Env)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("database connection error: %v", err)
	}
	if err := mirror.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate error: %v", err)
	}

	client, err := ledger.Dial(cfg.RPCURL)
	if err != nil {
		log.Fatalf("ledger dial error: %v", err)
	}

	relayKey, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.RelayKeyHex, "0x"))
	if err != nil {
		log.Fatalf("relay key error: %v", err)
	}

	gateway, err := ledger.New(client, ledger.Config{
		ChainID:        cfg.ChainID,
		RelayKey:       relayKey,
		TokenContract:  cfg.TokenContract,
		USDContract:    cfg.USDContract,
		BillContract:   cfg.BillContract,
		Confirmations:  cfg.Confirmations,
		ConfirmTimeout: cfg.ConfirmTimeout,
		PollInterval:   cfg.ConfirmPoll,
		GasLimit:       cfg.GasLimit,
		Logger:         logger,
	})
	if err != nil {
		log.Fatalf("ledger gateway error: %v", err)
	}

	store := mirror.NewStore(db)
	writer := mirror.NewWriter(db, gateway, logger)
	synchronizer := mirror.NewSynchronizer(store, gateway, gateway, ledger.TokenUBK, cfg.SyncWorkers, logger)
	service := relay.NewService(gateway, writer, store, logger)

	scheduler := relay.NewScheduler(relay.SchedulerConfig{
		Synchronizer: synchronizer,
		Interval:     cfg.SyncInterval,
		Logger:       logger,
	})
	go scheduler.Start(context.Background())

	srv := server.New(server.Config{
		Store:  store,
		Relay:  service,
		Ledger: gateway,
		Syncer: synchronizer,
		Logger: logger,
	})

	addr := ":" + cfg.Port
	logger.Info("starting billrelayd",
		"addr", addr,
		"relay_address", gateway.RelayAddress().Hex(),
		"chain_id", cfg.ChainID)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
