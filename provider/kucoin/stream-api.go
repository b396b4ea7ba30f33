package kucoin

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/finwatch/go-orderbook-sync/domain"
)

// StreamAPI adapts the level2 market stream into typed depth diff events.
// KuCoin's sequenceStart/sequenceEnd play the role of Binance's U/u; the
// same bridge arithmetic applies.
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
		log:    log.Named("kucoin-stream-api"),
	}
}

type level2Data struct {
	SequenceStart int64  `json:"sequenceStart"`
	SequenceEnd   int64  `json:"sequenceEnd"`
	Symbol        string `json:"symbol"`
	Time          int64  `json:"time"`
	Changes       struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	} `json:"changes"`
}

func (s *StreamAPI) DepthDiffStream(symbol *domain.MarketSymbol) (*domain.Subscription[*domain.DepthUpdate], error) {
	topic := fmt.Sprintf("/market/level2:%s", symbol.JoinUpper("-"))

	sub, err := s.client.Subscribe(topic)
	if err != nil {
		return nil, err
	}

	out := make(chan *domain.DepthUpdate, 256)
	go func() {
		defer close(out)

		for raw := range sub.Stream {
			update, err := parseLevel2Update(raw, symbol)
			if err != nil {
				s.log.Warn("dropping level2 frame", zap.String("topic", topic), zap.Error(err))
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

func parseLevel2Update(raw []byte, symbol *domain.MarketSymbol) (*domain.DepthUpdate, error) {
	var data level2Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: decode level2 frame: %v", domain.ErrMalformed, err)
	}

	bids, err := parseChangeLevels(data.Changes.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := parseChangeLevels(data.Changes.Asks)
	if err != nil {
		return nil, err
	}

	return &domain.DepthUpdate{
		Symbol:        symbol,
		FirstUpdateID: data.SequenceStart,
		FinalUpdateID: data.SequenceEnd,
		EventTime:     time.UnixMilli(data.Time),
		Bids:          bids,
		Asks:          asks,
	}, nil
}
