// Package registry tracks the connected owner's margin accounts within an
// account group, keeps them fresh against the ledger service, selects the
// active account by equity, and derives the owner's fee tier from staked
// balances.
package registry

import (
	"context"
	"sync"
	"time"

	"MarginSync/internal/fees"
	"MarginSync/internal/observability"
	"MarginSync/internal/venue"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LedgerClient is the on-venue account surface the registry synchronizes
// against.
type LedgerClient interface {
	FetchGroup(ctx context.Context, addr venue.Address) (*venue.AccountGroup, error)
	ListAccounts(ctx context.Context, group, owner venue.Address) ([]*venue.MarginAccount, error)
	FetchAccount(ctx context.Context, addr venue.Address) (*venue.MarginAccount, error)
	FetchTokenBalance(ctx context.Context, vault venue.Address) (decimal.Decimal, error)
	FetchOwnerStake(ctx context.Context, owner venue.Address) (decimal.Decimal, error)
	CreateAccount(ctx context.Context, group, owner venue.Address) (*venue.MarginAccount, error)
}

// PriceOracle supplies spot prices for every token in a group.
type PriceOracle interface {
	FetchPrices(ctx context.Context, group venue.Address) (venue.PriceSet, error)
}

// GroupState is the lifecycle of the configured account group.
type GroupState string

const (
	GroupUnset   GroupState = "unset"
	GroupLoading GroupState = "loading"
	GroupReady   GroupState = "ready"
	GroupFailed  GroupState = "failed"
)

// Op kinds guarded by the pending map. At most one operation of each kind may
// be in flight.
const (
	OpCreateAccount = "create_account"
	OpListAccounts  = "list_accounts"
)

// Registry is the single writer for account-selection state. All reads go
// through Snapshot-style copies.
type Registry struct {
	client  LedgerClient
	oracle  PriceOracle
	log     zerolog.Logger
	metrics *observability.Metrics

	groupAddr venue.Address

	mu         sync.Mutex
	generation uint64
	connected  bool
	owner      venue.Address

	groupState GroupState
	group      *venue.AccountGroup
	prices     venue.PriceSet

	accounts []*venue.MarginAccount
	active   *venue.MarginAccount

	feeTier  fees.Tier
	feeRates fees.Rates

	pending     map[string]bool
	lastRefresh time.Time

	// Poll-timer signals, buffered so Connect and Disconnect never block
	// when no poller goroutine is running (tests drive the registry directly).
	rearm  chan struct{}
	disarm chan struct{}

	// onActiveChange fires whenever the active account changes, including to
	// nil on disconnect. Always invoked outside the registry lock.
	onActiveChange func(acct *venue.MarginAccount)
}

// New creates a registry bound to one configured account group.
// metrics may be nil in tests.
func New(client LedgerClient, oracle PriceOracle, groupAddr venue.Address, log zerolog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		client:     client,
		oracle:     oracle,
		log:        log,
		metrics:    metrics,
		groupAddr:  groupAddr,
		groupState: GroupUnset,
		pending:    make(map[string]bool),
		feeRates:   fees.RatesFor(fees.Tier0),
		rearm:      make(chan struct{}, 1),
		disarm:     make(chan struct{}, 1),
	}
}

// OnActiveChange registers the active-account callback. Must be called before
// Connect.
func (r *Registry) OnActiveChange(fn func(acct *venue.MarginAccount)) {
	r.onActiveChange = fn
}

// Generation returns the current session generation. Responses computed under
// an older generation must be discarded.
func (r *Registry) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// Connect binds an owner and bootstraps the account group. Connecting while
// already connected rebinds: previous state is cleared first.
func (r *Registry) Connect(ctx context.Context, owner venue.Address) error {
	r.mu.Lock()
	r.clearOwnerStateLocked()
	r.generation++
	r.connected = true
	r.owner = owner
	r.mu.Unlock()

	r.armPoller()
	r.notifyActive(nil)
	return r.Bootstrap(ctx)
}

// Disconnect unconditionally clears all owner-derived state. The group and
// its prices are public market data and survive.
func (r *Registry) Disconnect() {
	r.mu.Lock()
	r.clearOwnerStateLocked()
	r.generation++
	r.connected = false
	r.owner = venue.Address("")
	r.mu.Unlock()

	r.disarmPoller()
	r.notifyActive(nil)
	r.log.Info().Msg("owner disconnected, account state cleared")
}

func (r *Registry) clearOwnerStateLocked() {
	r.accounts = nil
	r.active = nil
	r.pending = make(map[string]bool)
	r.feeTier = fees.Tier0
	r.feeRates = fees.RatesFor(fees.Tier0)
	if r.metrics != nil {
		r.metrics.CandidateCount.Set(0)
		r.metrics.SelectedEquity.Set(0)
		r.metrics.FeeTier.Set(0)
	}
}

// Bootstrap loads the group, its prices, and the owner's accounts, then runs
// equity selection and fee derivation. Results computed under a superseded
// generation are discarded.
func (r *Registry) Bootstrap(ctx context.Context) error {
	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		return ErrNotConnected
	}
	gen := r.generation
	owner := r.owner
	r.groupState = GroupLoading
	r.mu.Unlock()

	group, err := r.client.FetchGroup(ctx, r.groupAddr)
	if err != nil {
		r.failBootstrap(gen, err)
		return &CollaboratorError{Op: "fetch group", Err: err}
	}
	prices, err := r.oracle.FetchPrices(ctx, r.groupAddr)
	if err != nil {
		r.failBootstrap(gen, err)
		return &CollaboratorError{Op: "fetch prices", Err: err}
	}
	accounts, err := r.client.ListAccounts(ctx, r.groupAddr, owner)
	if err != nil {
		r.failBootstrap(gen, err)
		return &CollaboratorError{Op: "list accounts", Err: err}
	}

	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		r.discarded("bootstrap")
		return nil
	}
	r.group = group
	r.prices = prices
	r.groupState = GroupReady
	r.accounts = accounts
	changed := r.selectBestLocked()
	active := r.active
	r.lastRefresh = time.Now()
	if r.metrics != nil {
		r.metrics.GroupBootstrap.WithLabelValues("ok").Inc()
	}
	r.mu.Unlock()

	if changed {
		r.notifyActive(active)
	}
	r.recomputeFees(ctx, gen)

	r.log.Info().Str("group", group.Name).Int("accounts", len(accounts)).
		Msg("account group bootstrapped")
	return nil
}

func (r *Registry) failBootstrap(gen uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation {
		return
	}
	r.groupState = GroupFailed
	if r.metrics != nil {
		r.metrics.GroupBootstrap.WithLabelValues("error").Inc()
	}
	r.log.Error().Err(err).Msg("account group bootstrap failed")
}

// selectBestLocked re-runs equity selection over the candidate set and
// reports whether the active account changed. Caller holds the lock.
func (r *Registry) selectBestLocked() bool {
	if r.group == nil {
		return false
	}
	best := venue.SelectBest(r.accounts, r.group, r.prices)

	if r.metrics != nil {
		r.metrics.SelectionRuns.Inc()
		r.metrics.CandidateCount.Set(float64(len(r.accounts)))
		if best != nil {
			if eq, ok := best.Equity(r.group, r.prices); ok {
				f, _ := eq.Float64()
				r.metrics.SelectedEquity.Set(f)
			}
		} else {
			r.metrics.SelectedEquity.Set(0)
		}
	}

	prev := r.active
	r.active = best
	switch {
	case prev == nil && best == nil:
		return false
	case prev == nil || best == nil:
		return true
	default:
		return prev.Address != best.Address
	}
}

// SelectAccount manually overrides equity selection with an account from the
// candidate set. Manual choice sticks until the candidate set changes.
func (r *Registry) SelectAccount(addr venue.Address) error {
	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		return ErrNotConnected
	}
	var chosen *venue.MarginAccount
	for _, a := range r.accounts {
		if a.Address == addr {
			chosen = a
			break
		}
	}
	if chosen == nil {
		r.mu.Unlock()
		return ErrUnknownAccount
	}
	changed := r.active == nil || r.active.Address != chosen.Address
	r.active = chosen
	r.mu.Unlock()

	if changed {
		r.notifyActive(chosen)
	}
	return nil
}

// CreateAccount creates a fresh margin account under the group and adopts it
// as active. Fails fast when the group isn't ready, and rejects overlapping
// creates.
func (r *Registry) CreateAccount(ctx context.Context) (*venue.MarginAccount, error) {
	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		return nil, ErrNotConnected
	}
	if r.groupState != GroupReady {
		r.mu.Unlock()
		return nil, ErrNoGroup
	}
	if r.pending[OpCreateAccount] {
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.PendingRejected.WithLabelValues(OpCreateAccount).Inc()
		}
		return nil, ErrAlreadyInProgress
	}
	r.pending[OpCreateAccount] = true
	gen := r.generation
	owner := r.owner
	r.mu.Unlock()

	acct, err := r.client.CreateAccount(ctx, r.groupAddr, owner)

	r.mu.Lock()
	r.pending[OpCreateAccount] = false
	if err != nil {
		r.mu.Unlock()
		return nil, &CollaboratorError{Op: "create account", Err: err}
	}
	if gen != r.generation {
		r.mu.Unlock()
		r.discarded("create_account")
		return acct, nil
	}
	r.accounts = append(r.accounts, acct)
	r.active = acct
	if r.metrics != nil {
		r.metrics.CandidateCount.Set(float64(len(r.accounts)))
	}
	r.mu.Unlock()

	r.notifyActive(acct)
	r.log.Info().Str("account", string(acct.Address)).Msg("margin account created and adopted")
	return acct, nil
}

// RefreshAll re-lists the owner's accounts and re-runs selection. Overlapping
// refreshes of the candidate set are rejected.
func (r *Registry) RefreshAll(ctx context.Context) error {
	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		return ErrNotConnected
	}
	if r.groupState != GroupReady {
		r.mu.Unlock()
		return ErrNoGroup
	}
	if r.pending[OpListAccounts] {
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.PendingRejected.WithLabelValues(OpListAccounts).Inc()
		}
		return ErrAlreadyInProgress
	}
	r.pending[OpListAccounts] = true
	gen := r.generation
	owner := r.owner
	r.mu.Unlock()

	accounts, err := r.client.ListAccounts(ctx, r.groupAddr, owner)

	r.mu.Lock()
	r.pending[OpListAccounts] = false
	if err != nil {
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.RefreshErrors.Inc()
		}
		return &CollaboratorError{Op: "list accounts", Err: err}
	}
	if gen != r.generation {
		r.mu.Unlock()
		r.discarded("refresh_all")
		return nil
	}
	r.accounts = accounts
	changed := r.selectBestLocked()
	active := r.active
	r.lastRefresh = time.Now()
	if r.metrics != nil {
		r.metrics.RefreshApplied.Inc()
	}
	r.mu.Unlock()

	if changed {
		r.notifyActive(active)
	}
	r.recomputeFees(ctx, gen)
	return nil
}

// RefreshActive re-fetches the current group, its prices, and the active
// account, then commits the lot if neither the session nor the active account
// changed while the requests were in flight. Stale responses are discarded
// whole. A successful group refresh also re-derives the fee tier.
func (r *Registry) RefreshActive(ctx context.Context) error {
	r.mu.Lock()
	if !r.connected || r.groupState != GroupReady {
		r.mu.Unlock()
		return nil
	}
	gen := r.generation
	var addr venue.Address
	if r.active != nil {
		addr = r.active.Address
	}
	r.mu.Unlock()

	group, err := r.client.FetchGroup(ctx, r.groupAddr)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RefreshErrors.Inc()
		}
		return &CollaboratorError{Op: "fetch group", Err: err}
	}
	prices, err := r.oracle.FetchPrices(ctx, r.groupAddr)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RefreshErrors.Inc()
		}
		return &CollaboratorError{Op: "fetch prices", Err: err}
	}
	var acct *venue.MarginAccount
	if !addr.IsZero() {
		acct, err = r.client.FetchAccount(ctx, addr)
		if err != nil {
			if r.metrics != nil {
				r.metrics.RefreshErrors.Inc()
			}
			return &CollaboratorError{Op: "fetch account", Err: err}
		}
	}

	r.mu.Lock()
	if gen != r.generation {
		r.discardedLocked("session_changed")
		r.mu.Unlock()
		return nil
	}
	var current venue.Address
	if r.active != nil {
		current = r.active.Address
	}
	if current != addr {
		r.discardedLocked("account_switched")
		r.mu.Unlock()
		return nil
	}
	r.group = group
	r.prices = prices
	if acct != nil {
		for i, a := range r.accounts {
			if a.Address == addr {
				r.accounts[i] = acct
				break
			}
		}
		r.active = acct
	}
	r.lastRefresh = time.Now()
	if r.metrics != nil {
		r.metrics.RefreshApplied.Inc()
	}
	r.mu.Unlock()

	r.recomputeFees(ctx, gen)
	return nil
}

// recomputeFees derives the fee tier from the owner's staked balance plus the
// group stake vault's contributed balance. A read failure keeps the previous
// tier rather than silently dropping the discount.
func (r *Registry) recomputeFees(ctx context.Context, gen uint64) {
	r.mu.Lock()
	if gen != r.generation || r.group == nil {
		r.mu.Unlock()
		return
	}
	owner := r.owner
	vault := r.group.StakeVault
	r.mu.Unlock()

	staked, err := r.client.FetchOwnerStake(ctx, owner)
	if err != nil {
		r.log.Warn().Err(err).Msg("owner stake read failed, keeping previous fee tier")
		return
	}
	contributed := decimal.Zero
	if !vault.IsZero() {
		contributed, err = r.client.FetchTokenBalance(ctx, vault)
		if err != nil {
			r.log.Warn().Err(err).Msg("stake vault read failed, keeping previous fee tier")
			return
		}
	}

	tier, rates := fees.Compute(staked, contributed)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation {
		return
	}
	r.feeTier = tier
	r.feeRates = rates
	if r.metrics != nil {
		r.metrics.FeeTier.Set(float64(tier))
	}
}

func (r *Registry) notifyActive(acct *venue.MarginAccount) {
	if r.onActiveChange != nil {
		r.onActiveChange(acct)
	}
}

func (r *Registry) discarded(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discardedLocked(reason)
}

func (r *Registry) discardedLocked(reason string) {
	if r.metrics != nil {
		r.metrics.RefreshDiscarded.WithLabelValues(reason).Inc()
	}
	r.log.Debug().Str("reason", reason).Msg("stale response discarded")
}
