package registry

import (
	"context"
	"sort"
	"time"

	"MarginSync/internal/fees"
	"MarginSync/internal/venue"

	"github.com/shopspring/decimal"
)

// Status is a point-in-time copy of the registry's externally visible state.
type Status struct {
	Connected    bool
	Owner        venue.Address
	GroupState   GroupState
	GroupName    string
	GroupAddress venue.Address
	FeeTier      fees.Tier
	FeeRates     fees.Rates
	Candidates   int
	Pending      []string
	LastRefresh  time.Time
}

// AccountEquity pairs an account with its computed equity. EquityKnown is
// false when a price was missing for a non-flat token.
type AccountEquity struct {
	Account     *venue.MarginAccount
	Equity      decimal.Decimal
	EquityKnown bool
	GroupName   string
	Active      bool
}

// Snapshot returns the registry's current status.
func (r *Registry) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{
		Connected:    r.connected,
		Owner:        r.owner,
		GroupState:   r.groupState,
		GroupAddress: r.groupAddr,
		FeeTier:      r.feeTier,
		FeeRates:     r.feeRates,
		Candidates:   len(r.accounts),
		LastRefresh:  r.lastRefresh,
	}
	if r.group != nil {
		s.GroupName = r.group.Name
	}
	for op, inFlight := range r.pending {
		if inFlight {
			s.Pending = append(s.Pending, op)
		}
	}
	sort.Strings(s.Pending)
	return s
}

// ActiveAccount returns the active account, or nil, with its equity.
func (r *Registry) ActiveAccount() *AccountEquity {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return nil
	}
	ae := &AccountEquity{Account: r.active, Active: true}
	if r.group != nil {
		ae.GroupName = r.group.Name
		ae.Equity, ae.EquityKnown = r.active.Equity(r.group, r.prices)
	}
	return ae
}

// Accounts returns the candidate set with per-account equity, active first
// ordering preserved from the ledger listing.
func (r *Registry) Accounts() []AccountEquity {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]AccountEquity, 0, len(r.accounts))
	for _, a := range r.accounts {
		ae := AccountEquity{Account: a}
		if r.group != nil {
			ae.GroupName = r.group.Name
			ae.Equity, ae.EquityKnown = a.Equity(r.group, r.prices)
		}
		ae.Active = r.active != nil && r.active.Address == a.Address
		out = append(out, ae)
	}
	return out
}

// AllAccountsWithEquity sweeps the owner's accounts across every known group,
// the bootstrapped one plus its configured siblings. A failing group is
// logged and skipped; the sweep never fails whole.
func (r *Registry) AllAccountsWithEquity(ctx context.Context) ([]AccountEquity, error) {
	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		return nil, ErrNotConnected
	}
	if r.group == nil {
		r.mu.Unlock()
		return nil, ErrNoGroup
	}
	owner := r.owner
	// Siblings lists every known group including the bootstrapped one.
	groups := make([]venue.GroupConfig, len(r.group.Siblings))
	copy(groups, r.group.Siblings)
	if len(groups) == 0 {
		groups = []venue.GroupConfig{{Name: r.group.Name, Address: r.group.Address}}
	}
	r.mu.Unlock()

	var out []AccountEquity
	for _, gc := range groups {
		group, err := r.client.FetchGroup(ctx, gc.Address)
		if err != nil {
			r.skipGroup(gc, err)
			continue
		}
		prices, err := r.oracle.FetchPrices(ctx, gc.Address)
		if err != nil {
			r.skipGroup(gc, err)
			continue
		}
		accounts, err := r.client.ListAccounts(ctx, gc.Address, owner)
		if err != nil {
			r.skipGroup(gc, err)
			continue
		}
		for _, a := range accounts {
			ae := AccountEquity{Account: a, GroupName: group.Name}
			ae.Equity, ae.EquityKnown = a.Equity(group, prices)
			out = append(out, ae)
		}
	}
	return out, nil
}

func (r *Registry) skipGroup(gc venue.GroupConfig, err error) {
	if r.metrics != nil {
		r.metrics.CrossGroupErrors.Inc()
	}
	r.log.Warn().Err(err).Str("group", gc.Name).Msg("group skipped in cross-group sweep")
}
