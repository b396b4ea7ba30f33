package binance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finwatch/go-orderbook-sync/domain"
)

func TestParseDepthUpdate(t *testing.T) {
	raw := []byte(`{
		"stream": "btcusdt@depth@100ms",
		"data": {
			"e": "depthUpdate",
			"E": 1672515782136,
			"s": "BTCUSDT",
			"U": 157,
			"u": 160,
			"b": [["0.0024", "10"], ["0.0023", "0"]],
			"a": [["0.0026", "100"]]
		}
	}`)

	u, err := parseDepthUpdate(raw, testSymbol(t))
	require.NoError(t, err)

	assert.Equal(t, int64(157), u.FirstUpdateID)
	assert.Equal(t, int64(160), u.FinalUpdateID)
	assert.Equal(t, time.UnixMilli(1672515782136), u.EventTime)

	require.Len(t, u.Bids, 2)
	assert.Equal(t, "0.0024", u.Bids[0].Price.String())
	assert.True(t, u.Bids[1].Quantity.IsZero(), "zero-quantity removals pass through untouched")

	require.Len(t, u.Asks, 1)
	assert.Equal(t, "100", u.Asks[0].Quantity.String())

	require.NoError(t, u.Validate())
}

func TestParseDepthUpdate_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":    `garbage`,
		"short level": `{"stream": "x", "data": {"U": 1, "u": 2, "b": [["1.0"]], "a": []}}`,
		"bad price":   `{"stream": "x", "data": {"U": 1, "u": 2, "b": [], "a": [["x", "1"]]}}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseDepthUpdate([]byte(raw), testSymbol(t))
			assert.ErrorIs(t, err, domain.ErrMalformed)
		})
	}
}
