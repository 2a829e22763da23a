package venue

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Address is an opaque on-chain account address.
type Address string

func (a Address) IsZero() bool {
	return a == ""
}

// GroupConfig is the static reference to an account group: where to find it
// and where its staked-token vault lives. The full AccountGroup is fetched
// from the ledger using this reference.
type GroupConfig struct {
	Name       string  `json:"name"`
	Address    Address `json:"address"`
	StakeVault Address `json:"stake_vault"`
}

// TokenInfo describes one collateral token inside a group.
type TokenInfo struct {
	Symbol   string  `json:"symbol"`
	Decimals int     `json:"decimals"`
	Vault    Address `json:"vault"`
}

// MarketInfo describes one spot market traded inside a group.
type MarketInfo struct {
	Name    string  `json:"name"`
	Base    string  `json:"base"`
	Quote   string  `json:"quote"`
	Address Address `json:"address"`
}

// AccountGroup is a venue configuration: the set of markets and tokens that
// share collateral and fee rules. Immutable once fetched — a refresh replaces
// the whole value, nothing mutates it in place.
type AccountGroup struct {
	Address    Address      `json:"address"`
	Name       string       `json:"name"`
	ProgramID  Address      `json:"program_id"`
	StakeVault Address      `json:"stake_vault"`
	Tokens     []TokenInfo  `json:"tokens"`
	Markets    []MarketInfo `json:"markets"`

	// Siblings lists every group the venue knows about, including this one.
	// Used by the cross-group equity sweep.
	Siblings []GroupConfig `json:"siblings"`

	FetchedAt time.Time `json:"fetched_at"`
}

// QuoteSymbol returns the symbol of the group's quote token, by convention
// the last entry of the token list.
func (g *AccountGroup) QuoteSymbol() string {
	if len(g.Tokens) == 0 {
		return ""
	}
	return g.Tokens[len(g.Tokens)-1].Symbol
}

// PriceSet maps token symbols to their current price in the group's quote
// token.
type PriceSet map[string]decimal.Decimal

// MarginAccount is a user-owned collateralized position record. Deposits and
// Borrows are indexed by the owning group's token list.
type MarginAccount struct {
	Address      Address `json:"address"`
	GroupAddress Address `json:"group_address"`
	Owner        Address `json:"owner"`

	// OpenOrders holds the sub-order-book account references, one per
	// market. Slots may be empty when the account never traded a market.
	OpenOrders []Address `json:"open_orders"`

	Deposits []decimal.Decimal `json:"deposits"`
	Borrows  []decimal.Decimal `json:"borrows"`

	FetchedAt time.Time `json:"fetched_at"`
}

// ActiveOpenOrders returns the non-empty sub-order-book references.
func (a *MarginAccount) ActiveOpenOrders() []Address {
	out := make([]Address, 0, len(a.OpenOrders))
	for _, oo := range a.OpenOrders {
		if !oo.IsZero() {
			out = append(out, oo)
		}
	}
	return out
}

// FillSource tags which feed delivered a fill record.
type FillSource string

const (
	SourceHistorical FillSource = "historical"
	SourceLive       FillSource = "live"
)

// Fill is a single matched execution belonging to an order. The same logical
// fill can arrive from both the historical REST feed and the live event feed;
// FillID is the venue-assigned identifier shared by both deliveries.
type Fill struct {
	OrderID       string          `json:"order_id"`
	Side          string          `json:"side"`
	Market        string          `json:"market"`
	BaseCurrency  string          `json:"base_currency"`
	QuoteCurrency string          `json:"quote_currency"`
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`
	Maker         bool            `json:"maker"`
	FillID        uuid.UUID       `json:"fill_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        FillSource      `json:"source"`
}

// DedupKey is the composite identity used to recognize the same fill across
// the two delivery feeds: (orderId, side, venue fill id).
func (f Fill) DedupKey() string {
	return f.OrderID + ":" + f.Side + ":" + f.FillID.String()
}

// Liquidity returns the display label for the maker/taker flag.
func (f Fill) Liquidity() string {
	if f.Maker {
		return "Maker"
	}
	return "Taker"
}
