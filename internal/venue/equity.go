package venue

import "github.com/shopspring/decimal"

// Equity values a margin account against the group's token list and a price
// set: sum over tokens of (deposits - borrows) * price, in the quote token.
// The quote token itself is priced at 1. The boolean is false when a token
// with non-zero net balance has no price — the account's equity is undefined
// for this price set.
func (a *MarginAccount) Equity(group *AccountGroup, prices PriceSet) (decimal.Decimal, bool) {
	quote := group.QuoteSymbol()
	total := decimal.Zero

	for i, tok := range group.Tokens {
		var net decimal.Decimal
		if i < len(a.Deposits) {
			net = a.Deposits[i]
		}
		if i < len(a.Borrows) {
			net = net.Sub(a.Borrows[i])
		}
		if net.IsZero() {
			continue
		}

		if tok.Symbol == quote {
			total = total.Add(net)
			continue
		}
		price, ok := prices[tok.Symbol]
		if !ok {
			return decimal.Zero, false
		}
		total = total.Add(net.Mul(price))
	}

	return total, true
}

// SelectBest picks the candidate with the highest equity. The scan is stable
// left-to-right: the first candidate is the baseline regardless of its equity
// (a single-candidate set is always returned, even at zero or negative
// equity), replacement requires strictly greater equity, and candidates whose
// equity is undefined under the given prices are skipped. Returns nil for an
// empty candidate set.
func SelectBest(candidates []*MarginAccount, group *AccountGroup, prices PriceSet) *MarginAccount {
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	bestEquity, bestDefined := best.Equity(group, prices)

	for _, cand := range candidates[1:] {
		equity, ok := cand.Equity(group, prices)
		if !ok {
			continue
		}
		if !bestDefined || equity.GreaterThan(bestEquity) {
			best = cand
			bestEquity = equity
			bestDefined = true
		}
	}

	return best
}
