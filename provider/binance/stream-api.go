package binance

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/finwatch/go-orderbook-sync/domain"
)

// StreamAPI adapts the raw combined stream into typed depth diff events.
type StreamAPI struct {
	client *StreamClient
	log    *zap.Logger
}

func NewStreamAPI(client *StreamClient, log *zap.Logger) *StreamAPI {
	if log == nil {
		log = zap.NewNop()
	}

	return &StreamAPI{
		client: client,
		log:    log.Named("binance-stream-api"),
	}
}

type depthUpdateData struct {
	Event         string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

type depthStreamMessage struct {
	Stream string          `json:"stream"`
	Data   depthUpdateData `json:"data"`
}

// DepthDiffStream subscribes to <symbol>@depth@100ms and decodes frames in
// arrival order. Malformed frames are dropped with a log line; the resulting
// sequence gap, if any, is the maintainer's to detect.
func (s *StreamAPI) DepthDiffStream(symbol *domain.MarketSymbol) (*domain.Subscription[*domain.DepthUpdate], error) {
	topic := fmt.Sprintf("%s@depth@100ms", symbol.Join(""))

	sub, err := s.client.Subscribe(topic)
	if err != nil {
		return nil, err
	}

	out := make(chan *domain.DepthUpdate, 256)
	go func() {
		defer close(out)

		for raw := range sub.Stream {
			update, err := parseDepthUpdate(raw, symbol)
			if err != nil {
				s.log.Warn("dropping depth frame", zap.String("topic", topic), zap.Error(err))
				continue
			}
			out <- update
		}
	}()

	return &domain.Subscription[*domain.DepthUpdate]{
		Stream:      out,
		Topic:       topic,
		Unsubscribe: sub.Unsubscribe,
	}, nil
}

func parseDepthUpdate(raw []byte, symbol *domain.MarketSymbol) (*domain.DepthUpdate, error) {
	var msg depthStreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: decode depth frame: %v", domain.ErrMalformed, err)
	}

	bids, err := parseLevels(msg.Data.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := parseLevels(msg.Data.Asks)
	if err != nil {
		return nil, err
	}

	return &domain.DepthUpdate{
		Symbol:        symbol,
		FirstUpdateID: msg.Data.FirstUpdateID,
		FinalUpdateID: msg.Data.FinalUpdateID,
		EventTime:     time.UnixMilli(msg.Data.EventTime),
		Bids:          bids,
		Asks:          asks,
	}, nil
}
