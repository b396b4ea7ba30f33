package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateVWAP_ExactFill(t *testing.T) {
	asks := []PriceLevel{
		level("10.0", "2"),
		level("10.1", "3"),
	}

	// 2@10.0 + 2@10.1 = 40.2 over 4 units
	res := CalculateVWAP(asks, dec("4"))

	require.True(t, res.Complete())
	assert.True(t, res.Price.Equal(dec("10.05")), "got %s", res.Price)
	assert.True(t, res.FilledQuantity.Equal(dec("4")))
}

func TestCalculateVWAP_InsufficientLiquidity(t *testing.T) {
	asks := []PriceLevel{level("10.0", "2")}

	res := CalculateVWAP(asks, dec("5"))

	assert.False(t, res.Complete())
	assert.True(t, res.FilledQuantity.Equal(dec("2")))
	assert.True(t, res.TargetQuantity.Equal(dec("5")))
	assert.True(t, res.Price.Equal(dec("10.0")))
}

func TestCalculateVWAP_EmptyLevels(t *testing.T) {
	res := CalculateVWAP(nil, dec("3"))

	assert.False(t, res.Complete())
	assert.True(t, res.FilledQuantity.IsZero())
	assert.True(t, res.Price.IsZero())
}

func TestCalculateVWAP_ZeroTarget(t *testing.T) {
	res := CalculateVWAP([]PriceLevel{level("10", "1")}, decimal.Zero)

	assert.True(t, res.Complete())
	assert.True(t, res.FilledQuantity.IsZero())
}

func TestCalculateDepthImbalance(t *testing.T) {
	bids := []PriceLevel{
		level("100", "10"),
		level("99", "10"),
		level("98", "10"),
	}
	asks := []PriceLevel{
		level("101", "5"),
		level("102", "5"),
	}

	// (30 - 10) / (30 + 10) = 0.5
	res := CalculateDepthImbalance(bids, asks, 5)
	assert.True(t, res.Equal(dec("0.5")), "got %s", res)
}

func TestCalculateDepthImbalance_TruncatesToTopN(t *testing.T) {
	bids := []PriceLevel{
		level("100", "1"),
		level("99", "100"),
	}
	asks := []PriceLevel{level("101", "1")}

	// only the best level per side counts
	res := CalculateDepthImbalance(bids, asks, 1)
	assert.True(t, res.IsZero(), "got %s", res)
}

func TestCalculateDepthImbalance_EmptyBookIsZeroNotNaN(t *testing.T) {
	res := CalculateDepthImbalance(nil, nil, 5)
	assert.True(t, res.IsZero())
}
