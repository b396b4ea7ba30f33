package domain

import "github.com/shopspring/decimal"

// VWAPResult is the quantity-weighted average price over the levels needed to
// fill TargetQuantity. When the side holds less liquidity than the target,
// Price covers only FilledQuantity and Complete reports false; insufficient
// depth is signalled through the result, never as an error.
type VWAPResult struct {
	Price          decimal.Decimal
	FilledQuantity decimal.Decimal
	TargetQuantity decimal.Decimal
}

func (r VWAPResult) Complete() bool {
	return r.FilledQuantity.Equal(r.TargetQuantity)
}

// CalculateVWAP walks levels in book order, consuming quantity until target
// is filled or the levels run out.
func CalculateVWAP(levels []PriceLevel, target decimal.Decimal) VWAPResult {
	res := VWAPResult{TargetQuantity: target}
	if !target.IsPositive() {
		return res
	}

	notional := decimal.Zero
	remaining := target

	for _, l := range levels {
		take := decimal.Min(remaining, l.Quantity)
		notional = notional.Add(take.Mul(l.Price))
		res.FilledQuantity = res.FilledQuantity.Add(take)
		remaining = remaining.Sub(take)

		if remaining.IsZero() {
			break
		}
	}

	if res.FilledQuantity.IsPositive() {
		res.Price = notional.Div(res.FilledQuantity)
	}

	return res
}

// CalculateDepthImbalance returns (sumBid - sumAsk) / (sumBid + sumAsk) over
// the top n levels per side: +1 is all bids, -1 all asks, 0 balanced or both
// sides empty.
func CalculateDepthImbalance(bids, asks []PriceLevel, n int) decimal.Decimal {
	sumBid := sumQuantity(bids, n)
	sumAsk := sumQuantity(asks, n)

	total := sumBid.Add(sumAsk)
	if total.IsZero() {
		return decimal.Zero
	}

	return sumBid.Sub(sumAsk).Div(total)
}

func sumQuantity(levels []PriceLevel, n int) decimal.Decimal {
	if n > 0 && n < len(levels) {
		levels = levels[:n]
	}

	sum := decimal.Zero
	for _, l := range levels {
		sum = sum.Add(l.Quantity)
	}

	return sum
}
