package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMarketSymbol(t *testing.T) {
	ms, err := NewMarketSymbol("BTC", "USDT")
	require.NoError(t, err)
	assert.Equal(t, "btc", ms.BaseAsset)
	assert.Equal(t, "usdt", ms.QuoteAsset)

	_, err = NewMarketSymbol("", "usdt")
	assert.ErrorIs(t, err, ErrEmptyAsset)
	_, err = NewMarketSymbol("btc", "")
	assert.ErrorIs(t, err, ErrEmptyAsset)
	_, err = NewMarketSymbol("btc", "BTC")
	assert.ErrorIs(t, err, ErrSameAsset)
}

func TestNewMarketSymbolFromString(t *testing.T) {
	ms, err := NewMarketSymbolFromString("eth_usdt")
	require.NoError(t, err)
	assert.Equal(t, "eth", ms.BaseAsset)
	assert.Equal(t, "usdt", ms.QuoteAsset)

	for _, bad := range []string{"", "ethusdt", "eth_usdt_x", "_usdt"} {
		_, err := NewMarketSymbolFromString(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestMarketSymbolRendering(t *testing.T) {
	ms, err := NewMarketSymbol("btc", "usdt")
	require.NoError(t, err)

	assert.Equal(t, "btc_usdt", ms.String())
	assert.Equal(t, "btcusdt", ms.Join(""))
	assert.Equal(t, "BTC-USDT", ms.JoinUpper("-"))
}

func TestMarketSymbolEqual(t *testing.T) {
	a, _ := NewMarketSymbol("btc", "usdt")
	b, _ := NewMarketSymbol("BTC", "USDT")
	c, _ := NewMarketSymbol("eth", "usdt")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
}
