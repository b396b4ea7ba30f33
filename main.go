package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finwatch/go-orderbook-sync/config"
	"github.com/finwatch/go-orderbook-sync/domain"
	"github.com/finwatch/go-orderbook-sync/infrastructure/promclient"
	"github.com/finwatch/go-orderbook-sync/provider"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %s\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Debug)
	defer log.Sync()

	symbol, err := domain.NewMarketSymbolFromString(cfg.Symbol)
	if err != nil {
		log.Fatal("invalid symbol", zap.Error(err))
	}

	resolver := provider.NewAPIResolver(cfg.Providers, log)
	syncAPI, streamAPI, err := resolver.Resolve(cfg.Provider)
	if err != nil {
		log.Fatal("resolve provider", zap.Error(err))
	}

	manager := domain.NewManager(syncAPI, streamAPI, cfg.Book, log)

	go func() {
		if err := promclient.StartServer(cfg.PromListenAddr, log); err != nil {
			log.Error("prometheus server failed", zap.Error(err))
		}
	}()
	go exportNotifications(manager)

	if err := manager.Start(symbol, cfg.Book); err != nil {
		log.Fatal("start order book", zap.Error(err))
	}
	promclient.OpenOrderBooksGauge.Inc()

	go printQuotes(manager, symbol, log)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	manager.StopAll()
	promclient.OpenOrderBooksGauge.Dec()
}

func newLogger(debug bool) *zap.Logger {
	if debug {
		log, _ := zap.NewDevelopment()
		return log
	}

	log, _ := zap.NewProduction()
	return log
}

func exportNotifications(manager *domain.Manager) {
	for n := range manager.Notifications() {
		symbol := n.Symbol.String()

		switch n.Kind {
		case domain.NotificationResync:
			promclient.ResyncsTotal.WithLabelValues(symbol).Inc()
		case domain.NotificationPersistentDesync:
			promclient.PersistentDesyncsTotal.WithLabelValues(symbol).Inc()
		case domain.NotificationBufferOverflow:
			promclient.BufferOverflowsTotal.WithLabelValues(symbol).Inc()
		case domain.NotificationMalformed:
			promclient.MalformedEventsTotal.WithLabelValues(symbol).Inc()
		}
	}
}

func printQuotes(manager *domain.Manager, symbol *domain.MarketSymbol, log *zap.Logger) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if !manager.IsReady(symbol) {
			log.Info("order book not ready yet", zap.String("symbol", symbol.String()))
			continue
		}

		bid, _ := manager.BestBid(symbol)
		ask, _ := manager.BestAsk(symbol)
		spread, _ := manager.Spread(symbol)
		vwap, _ := manager.VWAP(symbol, domain.SideAsk, decimal.NewFromInt(1))
		imbalance, _ := manager.DepthImbalance(symbol, 5)

		log.Info("quote",
			zap.String("symbol", symbol.String()),
			zap.String("bestBid", bid.Price.String()),
			zap.String("bestAsk", ask.Price.String()),
			zap.String("spread", spread.String()),
			zap.String("askVwap1", vwap.Price.String()),
			zap.String("imbalance5", imbalance.StringFixed(4)))
	}
}
