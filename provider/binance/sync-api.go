package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/finwatch/go-orderbook-sync/domain"
)

const DefaultRestEndpoint = "https://api.binance.com"

// SyncAPI fetches depth snapshots from the Binance REST API.
type SyncAPI struct {
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

func NewSyncAPI(endpoint string, log *zap.Logger) *SyncAPI {
	if endpoint == "" {
		endpoint = DefaultRestEndpoint
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &SyncAPI{
		endpoint: endpoint,
		// Per-request deadlines come from ctx; this is a hard cap for
		// requests issued without one.
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log.Named("binance-sync"),
	}
}

type depthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// OrderBookSnapshot requests GET /api/v3/depth. Failures map onto the
// snapshot source taxonomy: transport problems wrap domain.ErrNetwork, HTTP
// 429/418 wrap domain.ErrRateLimited, undecodable bodies wrap
// domain.ErrMalformed.
func (a *SyncAPI) OrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	q := url.Values{}
	q.Set("symbol", symbol.JoinUpper(""))
	q.Set("limit", strconv.Itoa(limit))

	reqURL := a.endpoint + "/api/v3/depth?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build depth request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: depth request: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == 418:
		return nil, fmt.Errorf("%w: depth request got status %d", domain.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: depth request got status %d", domain.ErrNetwork, resp.StatusCode)
	}

	var body depthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode depth response: %v", domain.ErrMalformed, err)
	}

	bids, err := parseLevels(body.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := parseLevels(body.Asks)
	if err != nil {
		return nil, err
	}

	a.log.Debug("depth snapshot fetched",
		zap.String("symbol", symbol.String()),
		zap.Int64("lastUpdateId", body.LastUpdateID))

	return &domain.OrderBookSnapshot{
		Symbol:       symbol,
		LastUpdateID: body.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

func parseLevels(raw [][]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("%w: level with %d fields", domain.ErrMalformed, len(pair))
		}

		l, err := domain.ParsePriceLevel(pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}

	return levels, nil
}
