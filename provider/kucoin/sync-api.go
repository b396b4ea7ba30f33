package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Kucoin/kucoin-go-sdk"
	"go.uber.org/zap"

	"github.com/finwatch/go-orderbook-sync/domain"
)

// Credentials configures the KuCoin API service. Only BaseURL is required for
// the public market-data endpoints used here; the key material is for
// accounts that want the authenticated rate-limit tier.
type Credentials struct {
	BaseURL    string
	Key        string
	Secret     string
	Passphrase string
}

// SyncAPI fetches full order book snapshots through the official SDK.
type SyncAPI struct {
	svc *kucoin.ApiService
	log *zap.Logger
}

func NewSyncAPI(creds Credentials, log *zap.Logger) *SyncAPI {
	if log == nil {
		log = zap.NewNop()
	}

	opts := []kucoin.ApiServiceOption{
		kucoin.ApiKeyOption(creds.Key),
		kucoin.ApiSecretOption(creds.Secret),
		kucoin.ApiPassPhraseOption(creds.Passphrase),
	}
	if creds.BaseURL != "" {
		opts = append(opts, kucoin.ApiBaseURIOption(creds.BaseURL))
	}

	return &SyncAPI{
		svc: kucoin.NewApiService(opts...),
		log: log.Named("kucoin-sync"),
	}
}

type fullOrderBookModel struct {
	Sequence string     `json:"sequence"`
	Time     int64      `json:"time"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
}

// OrderBookSnapshot fetches the aggregated full book and trims it to limit
// levels per side. The SDK call itself is not cancelable, so ctx expiry
// abandons the in-flight call and returns its deadline error.
func (a *SyncAPI) OrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	type result struct {
		snapshot *domain.OrderBookSnapshot
		err      error
	}

	ch := make(chan result, 1)
	go func() {
		s, err := a.fetch(symbol, limit)
		ch <- result{snapshot: s, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, ctx.Err())
	case r := <-ch:
		return r.snapshot, r.err
	}
}

func (a *SyncAPI) fetch(symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	resp, err := a.svc.AggregatedFullOrderBookV3(symbol.JoinUpper("-"))
	if err != nil {
		return nil, fmt.Errorf("%w: full order book request: %v", domain.ErrNetwork, err)
	}

	var book fullOrderBookModel
	if err := json.Unmarshal(resp.RawData, &book); err != nil {
		return nil, fmt.Errorf("%w: decode full order book: %v", domain.ErrMalformed, err)
	}

	sequence, err := strconv.ParseInt(book.Sequence, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: sequence %q: %v", domain.ErrMalformed, book.Sequence, err)
	}

	bids, err := parseChangeLevels(book.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := parseChangeLevels(book.Asks)
	if err != nil {
		return nil, err
	}

	if limit > 0 {
		if len(bids) > limit {
			bids = bids[:limit]
		}
		if len(asks) > limit {
			asks = asks[:limit]
		}
	}

	a.log.Debug("full order book fetched",
		zap.String("symbol", symbol.String()),
		zap.Int64("sequence", sequence))

	return &domain.OrderBookSnapshot{
		Symbol:       symbol,
		LastUpdateID: sequence,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

// parseChangeLevels reads [price, size, ...] rows; both the snapshot's
// two-field rows and the level2 stream's three-field rows (price, size,
// sequence) pass through here.
func parseChangeLevels(raw [][]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, row := range raw {
		if len(row) < 2 {
			return nil, fmt.Errorf("%w: level with %d fields", domain.ErrMalformed, len(row))
		}
		// KuCoin emits price "0" rows for changes outside the tracked
		// range; they carry no book information.
		if row[0] == "" || row[0] == "0" {
			continue
		}

		l, err := domain.ParsePriceLevel(row[0], row[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}

	return levels, nil
}
