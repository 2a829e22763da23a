package server

import (
	"time"

	"MarginSync/internal/registry"
	"MarginSync/internal/venue"
)

// Wire shapes for the JSON API. Decimals render as strings so clients never
// lose precision to float64.

type statusJSON struct {
	Connected    bool     `json:"connected"`
	Owner        string   `json:"owner,omitempty"`
	GroupState   string   `json:"group_state"`
	GroupName    string   `json:"group_name,omitempty"`
	GroupAddress string   `json:"group_address"`
	FeeTier      int      `json:"fee_tier"`
	MakerFee     string   `json:"maker_fee"`
	TakerFee     string   `json:"taker_fee"`
	Candidates   int      `json:"candidates"`
	Pending      []string `json:"pending,omitempty"`
	LastRefresh  string   `json:"last_refresh,omitempty"`
}

func statusView(st registry.Status) statusJSON {
	out := statusJSON{
		Connected:    st.Connected,
		Owner:        string(st.Owner),
		GroupState:   string(st.GroupState),
		GroupName:    st.GroupName,
		GroupAddress: string(st.GroupAddress),
		FeeTier:      int(st.FeeTier),
		MakerFee:     st.FeeRates.Maker.String(),
		TakerFee:     st.FeeRates.Taker.String(),
		Candidates:   st.Candidates,
		Pending:      st.Pending,
	}
	if !st.LastRefresh.IsZero() {
		out.LastRefresh = st.LastRefresh.UTC().Format(time.RFC3339Nano)
	}
	return out
}

type accountView struct {
	Address     string `json:"address"`
	Group       string `json:"group,omitempty"`
	Equity      string `json:"equity,omitempty"`
	EquityKnown bool   `json:"equity_known"`
	Active      bool   `json:"active"`
	OpenOrders  int    `json:"open_orders"`
}

func toAccountView(ae registry.AccountEquity) accountView {
	v := accountView{
		Address:     string(ae.Account.Address),
		Group:       ae.GroupName,
		EquityKnown: ae.EquityKnown,
		Active:      ae.Active,
		OpenOrders:  len(ae.Account.ActiveOpenOrders()),
	}
	if ae.EquityKnown {
		v.Equity = ae.Equity.String()
	}
	return v
}

type tradeView struct {
	OrderID   string `json:"order_id"`
	FillID    string `json:"fill_id"`
	Market    string `json:"market"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Value     string `json:"value"`
	Liquidity string `json:"liquidity"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

func toTradeView(f venue.Fill) tradeView {
	return tradeView{
		OrderID:   f.OrderID,
		FillID:    f.FillID.String(),
		Market:    f.Market,
		Side:      f.Side,
		Price:     f.Price.String(),
		Size:      f.Size.String(),
		Value:     f.Price.Mul(f.Size).Round(4).String(),
		Liquidity: f.Liquidity(),
		Timestamp: f.Timestamp.UTC().Format(time.RFC3339Nano),
		Source:    string(f.Source),
	}
}
