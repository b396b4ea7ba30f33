package kucoin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finwatch/go-orderbook-sync/domain"
)

func testSymbol(t *testing.T) *domain.MarketSymbol {
	t.Helper()
	symbol, err := domain.NewMarketSymbol("btc", "usdt")
	require.NoError(t, err)
	return symbol
}

func TestParseLevel2Update(t *testing.T) {
	raw := []byte(`{
		"sequenceStart": 1545896669105,
		"sequenceEnd": 1545896669106,
		"symbol": "BTC-USDT",
		"time": 1663747504184,
		"changes": {
			"bids": [["50", "8", "1545896669105"]],
			"asks": [["48", "0", "1545896669106"]]
		}
	}`)

	u, err := parseLevel2Update(raw, testSymbol(t))
	require.NoError(t, err)

	assert.Equal(t, int64(1545896669105), u.FirstUpdateID)
	assert.Equal(t, int64(1545896669106), u.FinalUpdateID)
	assert.Equal(t, time.UnixMilli(1663747504184), u.EventTime)

	require.Len(t, u.Bids, 1)
	assert.Equal(t, "50", u.Bids[0].Price.String())
	assert.Equal(t, "8", u.Bids[0].Quantity.String())

	require.Len(t, u.Asks, 1)
	assert.True(t, u.Asks[0].Quantity.IsZero(), "zero size marks a removal")
}

func TestParseLevel2Update_Malformed(t *testing.T) {
	_, err := parseLevel2Update([]byte(`garbage`), testSymbol(t))
	assert.ErrorIs(t, err, domain.ErrMalformed)

	_, err = parseLevel2Update([]byte(`{"sequenceStart": 1, "sequenceEnd": 2,
		"changes": {"bids": [["50"]], "asks": []}}`), testSymbol(t))
	assert.ErrorIs(t, err, domain.ErrMalformed)
}

func TestParseChangeLevels_SkipsOutOfRangeRows(t *testing.T) {
	levels, err := parseChangeLevels([][]string{
		{"50", "1", "100"},
		{"0", "0", "101"}, // outside the tracked range, no book information
		{"", "0", "102"},
		{"49", "2", "103"},
	})
	require.NoError(t, err)

	require.Len(t, levels, 2)
	assert.Equal(t, "50", levels[0].Price.String())
	assert.Equal(t, "49", levels[1].Price.String())
}

func TestParseChangeLevels_TwoFieldSnapshotRows(t *testing.T) {
	levels, err := parseChangeLevels([][]string{{"50", "1"}, {"49", "2"}})
	require.NoError(t, err)
	assert.Len(t, levels, 2)
}
