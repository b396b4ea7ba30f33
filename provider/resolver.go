package provider

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/finwatch/go-orderbook-sync/domain"
	"github.com/finwatch/go-orderbook-sync/provider/binance"
	"github.com/finwatch/go-orderbook-sync/provider/kucoin"
)

// Config collects the per-exchange connection settings. Empty endpoints fall
// back to each provider's production default.
type Config struct {
	BinanceRestEndpoint   string
	BinanceStreamEndpoint string
	Kucoin                kucoin.Credentials
}

// APIResolver builds and caches the API pair for each supported provider.
// Connections are dialed on first resolve.
type APIResolver struct {
	cfg Config
	log *zap.Logger

	binanceSync   *binance.SyncAPI
	binanceStream *binance.StreamAPI
	kucoinSync    *kucoin.SyncAPI
	kucoinStream  *kucoin.StreamAPI
}

func NewAPIResolver(cfg Config, log *zap.Logger) *APIResolver {
	if log == nil {
		log = zap.NewNop()
	}

	return &APIResolver{cfg: cfg, log: log}
}

// Resolve returns the snapshot and stream APIs for a provider name.
func (r *APIResolver) Resolve(name string) (domain.SnapshotAPI, domain.StreamAPI, error) {
	switch name {
	case "binance":
		if r.binanceStream == nil {
			client := binance.NewStreamClient(r.cfg.BinanceStreamEndpoint, r.log)
			if err := client.Connect(); err != nil {
				return nil, nil, fmt.Errorf("connect binance stream: %w", err)
			}

			r.binanceSync = binance.NewSyncAPI(r.cfg.BinanceRestEndpoint, r.log)
			r.binanceStream = binance.NewStreamAPI(client, r.log)
		}
		return r.binanceSync, r.binanceStream, nil

	case "kucoin":
		if r.kucoinStream == nil {
			syncAPI := kucoin.NewSyncAPI(r.cfg.Kucoin, r.log)
			client := kucoin.NewStreamClient(syncAPI, r.log)
			if err := client.Connect(); err != nil {
				return nil, nil, fmt.Errorf("connect kucoin stream: %w", err)
			}

			r.kucoinSync = syncAPI
			r.kucoinStream = kucoin.NewStreamAPI(client, r.log)
		}
		return r.kucoinSync, r.kucoinStream, nil

	default:
		return nil, nil, fmt.Errorf("unknown provider %q", name)
	}
}
