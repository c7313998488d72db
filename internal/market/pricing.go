package market

import (
	"github.com/shopspring/decimal"
)

var (
	nudgeCap = decimal.NewFromFloat(0.10)
	two      = decimal.NewFromInt(2)
)

// clearingPrice computes the execution price for a fill. The base price is
// the midpoint of the two limits, nudged toward the incoming order's limit so
// the side demanding immediacy concedes price to resting liquidity. The nudge
// is capped at 10% of the midpoint and scaled by the fill's share of all
// volume traded so far, so small fills in a deep market barely move off the
// midpoint. The result always stays inside [askLimit, bidLimit].
func clearingPrice(bidLimit, askLimit, incomingLimit, fill, totalVolume uint64) uint64 {
	bid := decimal.NewFromUint64(bidLimit)
	ask := decimal.NewFromUint64(askLimit)
	mid := bid.Add(ask).Div(two)

	scale := decimal.NewFromInt(1)
	if totalVolume > fill {
		scale = decimal.NewFromUint64(fill).Div(decimal.NewFromUint64(totalVolume))
	}
	nudge := mid.Mul(nudgeCap).Mul(scale)

	incoming := decimal.NewFromUint64(incomingLimit)
	var price decimal.Decimal
	switch {
	case incoming.GreaterThan(mid):
		price = decimal.Min(mid.Add(nudge), incoming)
	case incoming.LessThan(mid):
		price = decimal.Max(mid.Sub(nudge), incoming)
	default:
		price = mid
	}

	// The limits bound the price regardless of the nudge.
	price = decimal.Min(decimal.Max(price, ask), bid)

	out := price.Round(0).BigInt()
	if !out.IsUint64() {
		return bidLimit
	}
	return out.Uint64()
}

// computeVWAP folds the bounded price history into a volume-weighted average.
// Returns zero when the history is empty.
func computeVWAP(points []PricePoint) uint64 {
	if len(points) == 0 {
		return 0
	}
	value := decimal.Zero
	volume := decimal.Zero
	for _, p := range points {
		amount := decimal.NewFromUint64(p.Amount)
		value = value.Add(decimal.NewFromUint64(p.Price).Mul(amount))
		volume = volume.Add(amount)
	}
	if volume.IsZero() {
		return 0
	}
	out := value.Div(volume).Round(0).BigInt()
	if !out.IsUint64() {
		return 0
	}
	return out.Uint64()
}
