package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/transledger/ibex/params"
	"github.com/transledger/ibex/pkg/api"
	"github.com/transledger/ibex/pkg/asset"
	"github.com/transledger/ibex/pkg/exchange"
	"github.com/transledger/ibex/pkg/ledger"
	"github.com/transledger/ibex/pkg/util"
)

// ibexd runs the settlement core as a standalone dev node: durable pebble
// order store, in-process token ledger, REST + WebSocket API. In production
// the core executes inside the host ledger's state transition instead, with
// the real token ledger behind the same interfaces.
func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if !common.IsHexAddress(cfg.Exchange.SelfAddress) {
		sugar.Fatalw("bad_exchange_address", "addr", cfg.Exchange.SelfAddress)
	}
	self := common.HexToAddress(cfg.Exchange.SelfAddress)

	store, err := exchange.NewPebbleStore(cfg.Exchange.DataDir)
	if err != nil {
		sugar.Fatalw("open_store_failed", "dir", cfg.Exchange.DataDir, "err", err)
	}
	defer store.Close()

	// Dev ledger: register the fee currency plus a couple of trading pairs so
	// the node is usable out of the box. Balances and allowances are seeded
	// via the demo issuer.
	tl := ledger.NewMemLedger()
	issuer := common.HexToAddress("0x1100000000000000000000000000000000000000")
	for _, sym := range []asset.Symbol{
		cfg.Exchange.FeeSymbol,
		asset.NewSymbol("USD", 4),
		asset.NewSymbol("EUR", 4),
	} {
		if err := tl.RegisterCurrency(issuer, asset.New(asset.MaxAmount, sym)); err != nil {
			sugar.Fatalw("register_currency_failed", "symbol", sym.Code, "err", err)
		}
	}

	ex, err := exchange.New(exchange.Config{
		Self:      self,
		FeeSymbol: cfg.Exchange.FeeSymbol,
		Clock:     util.RealClock{},
		Logger:    logger,
	}, store, tl)
	if err != nil {
		sugar.Fatalw("exchange_init_failed", "err", err)
	}

	srv := api.NewServer(ex, logger)
	go func() {
		if err := srv.Start(cfg.API.ListenAddr, cfg.API.AllowedOrigins); err != nil {
			sugar.Fatalw("api_failed", "err", err)
		}
	}()
	sugar.Infow("ibexd_started",
		"exchange", self.Hex(),
		"fee_symbol", cfg.Exchange.FeeSymbol.String(),
		"listen", cfg.API.ListenAddr,
		"data_dir", cfg.Exchange.DataDir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	sugar.Infow("ibexd_shutdown")
}
