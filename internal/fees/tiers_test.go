package fees_test

import (
	"testing"

	"MarginSync/internal/fees"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTierFor_Breakpoints(t *testing.T) {
	cases := []struct {
		staked string
		want   fees.Tier
	}{
		{"0", fees.Tier0},
		{"99.99", fees.Tier0},
		{"100", fees.Tier1},
		{"999", fees.Tier1},
		{"1000", fees.Tier2},
		{"10000", fees.Tier3},
		{"100000", fees.Tier4},
		{"999999", fees.Tier4},
		{"1000000", fees.Tier5},
		{"50000000", fees.Tier5},
	}

	for _, tc := range cases {
		got := fees.TierFor(d(tc.staked), decimal.Zero)
		if got != tc.want {
			t.Errorf("TierFor(%s): got %d, want %d", tc.staked, got, tc.want)
		}
	}
}

func TestTierFor_ContributedStakeShortCircuits(t *testing.T) {
	// One whole contributed unit reaches Tier6 regardless of staked balance.
	if got := fees.TierFor(decimal.Zero, d("1")); got != fees.Tier6 {
		t.Errorf("got %d, want Tier6", got)
	}
	if got := fees.TierFor(d("1000000"), d("2")); got != fees.Tier6 {
		t.Errorf("got %d, want Tier6", got)
	}
	// A fractional contribution does not.
	if got := fees.TierFor(decimal.Zero, d("0.5")); got != fees.Tier0 {
		t.Errorf("got %d, want Tier0", got)
	}
}

func TestTierFor_MonotonicInStaked(t *testing.T) {
	balances := []string{"0", "50", "100", "500", "1000", "9999", "10000", "100000", "1000000"}
	prev := fees.Tier0
	for _, b := range balances {
		tier := fees.TierFor(d(b), decimal.Zero)
		if tier < prev {
			t.Fatalf("tier decreased at staked=%s: %d -> %d", b, prev, tier)
		}
		prev = tier
	}
}

func TestRatesFor_TakerDecreasesWithTier(t *testing.T) {
	prev := fees.RatesFor(fees.Tier0).Taker
	for tier := fees.Tier1; tier <= fees.Tier6; tier++ {
		taker := fees.RatesFor(tier).Taker
		if !taker.LessThan(prev) {
			t.Errorf("taker rate should strictly decrease: tier %d has %s, previous %s", tier, taker, prev)
		}
		prev = taker
	}
}

func TestRatesFor_MakerRebate(t *testing.T) {
	for tier := fees.Tier0; tier <= fees.Tier6; tier++ {
		maker := fees.RatesFor(tier).Maker
		if !maker.IsNegative() {
			t.Errorf("tier %d: maker rate %s should be a rebate", tier, maker)
		}
	}
	if got := fees.RatesFor(fees.Tier6).Maker; !got.Equal(d("-0.0005")) {
		t.Errorf("Tier6 maker: got %s, want -0.0005", got)
	}
	if got := fees.RatesFor(fees.Tier3).Maker; !got.Equal(d("-0.0003")) {
		t.Errorf("Tier3 maker: got %s, want -0.0003", got)
	}
}

func TestCompute_ZeroBalancesGetBaseRates(t *testing.T) {
	tier, rates := fees.Compute(decimal.Zero, decimal.Zero)
	if tier != fees.Tier0 {
		t.Fatalf("tier: got %d, want Tier0", tier)
	}
	if !rates.Taker.Equal(d("0.0022")) {
		t.Errorf("taker: got %s, want 0.0022", rates.Taker)
	}
}
