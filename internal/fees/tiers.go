// Package fees derives the venue fee tier and maker/taker rates from staked
// token balances. The breakpoint table is fixed venue configuration.
package fees

import "github.com/shopspring/decimal"

// Tier is a discrete fee discount level. Higher is cheaper.
type Tier int

const (
	Tier0 Tier = iota
	Tier1
	Tier2
	Tier3
	Tier4
	Tier5
	Tier6 // boosted-stake tier, reachable only via contributed stake
)

// Rates are the per-tier fee rates as fractions of notional. Maker is
// negative: a rebate.
type Rates struct {
	Maker decimal.Decimal `json:"maker"`
	Taker decimal.Decimal `json:"taker"`
}

// breakpoints maps minimum staked balances to tiers, ascending. The highest
// threshold not exceeding the balance wins.
var breakpoints = []struct {
	Min  decimal.Decimal
	Tier Tier
}{
	{decimal.NewFromInt(100), Tier1},
	{decimal.NewFromInt(1_000), Tier2},
	{decimal.NewFromInt(10_000), Tier3},
	{decimal.NewFromInt(100_000), Tier4},
	{decimal.NewFromInt(1_000_000), Tier5},
}

var takerRates = map[Tier]decimal.Decimal{
	Tier0: decimal.RequireFromString("0.0022"),
	Tier1: decimal.RequireFromString("0.0020"),
	Tier2: decimal.RequireFromString("0.0018"),
	Tier3: decimal.RequireFromString("0.0016"),
	Tier4: decimal.RequireFromString("0.0014"),
	Tier5: decimal.RequireFromString("0.0012"),
	Tier6: decimal.RequireFromString("0.0010"),
}

var (
	makerRebate      = decimal.RequireFromString("-0.0003")
	makerRebateTier6 = decimal.RequireFromString("-0.0005")

	// One whole unit of contributed boosted stake short-circuits to Tier6.
	boostThreshold = decimal.NewFromInt(1)
)

// TierFor selects the tier for a staked balance and a contributed
// boosted-stake balance. Monotonic non-decreasing in both arguments.
func TierFor(staked, contributed decimal.Decimal) Tier {
	if contributed.GreaterThanOrEqual(boostThreshold) {
		return Tier6
	}
	tier := Tier0
	for _, bp := range breakpoints {
		if staked.GreaterThanOrEqual(bp.Min) {
			tier = bp.Tier
		}
	}
	return tier
}

// RatesFor returns the maker/taker rates for a tier.
func RatesFor(tier Tier) Rates {
	maker := makerRebate
	if tier == Tier6 {
		maker = makerRebateTier6
	}
	taker, ok := takerRates[tier]
	if !ok {
		taker = takerRates[Tier0]
	}
	return Rates{Maker: maker, Taker: taker}
}

// Compute is the combined lookup: balance in, tier and rates out.
func Compute(staked, contributed decimal.Decimal) (Tier, Rates) {
	tier := TierFor(staked, contributed)
	return tier, RatesFor(tier)
}
