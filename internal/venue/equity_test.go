package venue_test

import (
	"testing"

	"MarginSync/internal/venue"

	"github.com/shopspring/decimal"
)

// --- Test helpers ---

// testGroup has BTC and ETH collateral with USDC as the quote token.
func testGroup() *venue.AccountGroup {
	return &venue.AccountGroup{
		Address: "group-main",
		Name:    "BTC_ETH_USDC",
		Tokens: []venue.TokenInfo{
			{Symbol: "BTC", Decimals: 6},
			{Symbol: "ETH", Decimals: 6},
			{Symbol: "USDC", Decimals: 6},
		},
	}
}

func testPrices() venue.PriceSet {
	return venue.PriceSet{
		"BTC": decimal.NewFromInt(40_000),
		"ETH": decimal.NewFromInt(2_500),
	}
}

func mustAccount(addr string, deposits, borrows []int64) *venue.MarginAccount {
	acct := &venue.MarginAccount{
		Address:      venue.Address(addr),
		GroupAddress: "group-main",
	}
	for _, d := range deposits {
		acct.Deposits = append(acct.Deposits, decimal.NewFromInt(d))
	}
	for _, b := range borrows {
		acct.Borrows = append(acct.Borrows, decimal.NewFromInt(b))
	}
	return acct
}

// ============================================================================
// Test: Equity
// ============================================================================

func TestEquity_SumsNetBalancesTimesPrice(t *testing.T) {
	// 1 BTC + 2 ETH + 100 USDC, borrowing 1 ETH:
	// 40_000 + 2_500 + 100 = 42_600
	acct := mustAccount("acct-1", []int64{1, 2, 100}, []int64{0, 1, 0})

	equity, ok := acct.Equity(testGroup(), testPrices())
	if !ok {
		t.Fatal("equity should be defined")
	}
	want := decimal.NewFromInt(42_600)
	if !equity.Equal(want) {
		t.Errorf("equity: got %s, want %s", equity, want)
	}
}

func TestEquity_QuoteTokenPricedAtOne(t *testing.T) {
	// Only USDC, and no USDC entry in the price set.
	acct := mustAccount("acct-1", []int64{0, 0, 500}, nil)

	equity, ok := acct.Equity(testGroup(), testPrices())
	if !ok {
		t.Fatal("equity should be defined")
	}
	if !equity.Equal(decimal.NewFromInt(500)) {
		t.Errorf("equity: got %s, want 500", equity)
	}
}

func TestEquity_NegativeWhenBorrowsDominate(t *testing.T) {
	acct := mustAccount("acct-1", []int64{0, 0, 100}, []int64{0, 1, 0})

	equity, ok := acct.Equity(testGroup(), testPrices())
	if !ok {
		t.Fatal("equity should be defined")
	}
	want := decimal.NewFromInt(-2_400)
	if !equity.Equal(want) {
		t.Errorf("equity: got %s, want %s", equity, want)
	}
}

func TestEquity_UndefinedWhenPriceMissing(t *testing.T) {
	acct := mustAccount("acct-1", []int64{1, 0, 0}, nil)
	prices := venue.PriceSet{"ETH": decimal.NewFromInt(2_500)} // no BTC price

	if _, ok := acct.Equity(testGroup(), prices); ok {
		t.Error("equity should be undefined when a held token has no price")
	}
}

func TestEquity_FlatTokenIgnoresMissingPrice(t *testing.T) {
	// BTC net is zero, so the missing BTC price must not matter.
	acct := mustAccount("acct-1", []int64{1, 0, 50}, []int64{1, 0, 0})
	prices := venue.PriceSet{"ETH": decimal.NewFromInt(2_500)}

	equity, ok := acct.Equity(testGroup(), prices)
	if !ok {
		t.Fatal("equity should be defined for flat tokens without prices")
	}
	if !equity.Equal(decimal.NewFromInt(50)) {
		t.Errorf("equity: got %s, want 50", equity)
	}
}

// ============================================================================
// Test: SelectBest
// ============================================================================

func TestSelectBest_PicksHighestEquity(t *testing.T) {
	low := mustAccount("acct-low", []int64{0, 0, 100}, nil)
	high := mustAccount("acct-high", []int64{1, 0, 0}, nil)
	mid := mustAccount("acct-mid", []int64{0, 1, 0}, nil)

	best := venue.SelectBest([]*venue.MarginAccount{low, high, mid}, testGroup(), testPrices())
	if best == nil {
		t.Fatal("expected a selection")
	}
	if best.Address != "acct-high" {
		t.Errorf("selected %s, want acct-high", best.Address)
	}
}

func TestSelectBest_EmptyReturnsNil(t *testing.T) {
	if best := venue.SelectBest(nil, testGroup(), testPrices()); best != nil {
		t.Errorf("expected nil, got %s", best.Address)
	}
}

func TestSelectBest_SingleCandidateAlwaysSelected(t *testing.T) {
	// A lone account wins even at negative equity.
	only := mustAccount("acct-only", nil, []int64{0, 1, 0})

	best := venue.SelectBest([]*venue.MarginAccount{only}, testGroup(), testPrices())
	if best == nil || best.Address != "acct-only" {
		t.Fatalf("expected acct-only, got %v", best)
	}
}

func TestSelectBest_TieKeepsFirst(t *testing.T) {
	a := mustAccount("acct-a", []int64{0, 0, 100}, nil)
	b := mustAccount("acct-b", []int64{0, 0, 100}, nil)

	best := venue.SelectBest([]*venue.MarginAccount{a, b}, testGroup(), testPrices())
	if best.Address != "acct-a" {
		t.Errorf("tie should keep the earlier candidate, got %s", best.Address)
	}
}

func TestSelectBest_SkipsUndefinedEquity(t *testing.T) {
	// acct-btc holds a token with no price; its equity is undefined, so the
	// small but defined account wins.
	prices := venue.PriceSet{"ETH": decimal.NewFromInt(2_500)}
	undefinedEq := mustAccount("acct-btc", []int64{5, 0, 0}, nil)
	defined := mustAccount("acct-usdc", []int64{0, 0, 10}, nil)

	best := venue.SelectBest([]*venue.MarginAccount{undefinedEq, defined}, testGroup(), prices)
	if best.Address != "acct-usdc" {
		t.Errorf("selected %s, want acct-usdc", best.Address)
	}
}
