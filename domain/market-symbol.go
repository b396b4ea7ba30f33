package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyAsset = errors.New("base and quote assets must not be empty")
	ErrSameAsset  = errors.New("base and quote assets must be different")
)

// MarketSymbol identifies a trading pair. Assets are stored lowercase;
// providers render them in whatever case and separator their wire format
// wants via Join/JoinUpper.
type MarketSymbol struct {
	BaseAsset  string
	QuoteAsset string
}

func NewMarketSymbol(base, quote string) (*MarketSymbol, error) {
	if base == "" || quote == "" {
		return nil, ErrEmptyAsset
	}

	base = strings.ToLower(base)
	quote = strings.ToLower(quote)
	if base == quote {
		return nil, ErrSameAsset
	}

	return &MarketSymbol{BaseAsset: base, QuoteAsset: quote}, nil
}

// NewMarketSymbolFromString parses a "base_quote" pair, e.g. "btc_usdt".
func NewMarketSymbolFromString(s string) (*MarketSymbol, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid market symbol %q: want base_quote", s)
	}

	return NewMarketSymbol(parts[0], parts[1])
}

func (ms *MarketSymbol) Join(sep string) string {
	return ms.BaseAsset + sep + ms.QuoteAsset
}

// JoinUpper renders the pair uppercased, e.g. JoinUpper("-") -> "BTC-USDT".
func (ms *MarketSymbol) JoinUpper(sep string) string {
	return strings.ToUpper(ms.Join(sep))
}

func (ms *MarketSymbol) String() string {
	return ms.Join("_")
}

func (ms *MarketSymbol) Equal(other *MarketSymbol) bool {
	return other != nil && ms.BaseAsset == other.BaseAsset && ms.QuoteAsset == other.QuoteAsset
}
