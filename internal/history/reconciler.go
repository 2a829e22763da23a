// Package history maintains one ordered, deduplicated trade sequence for the
// active margin account by reconciling a bulk historical fetch with the
// incrementally arriving live fill stream.
package history

import (
	"context"
	"sync"
	"time"

	"MarginSync/internal/observability"
	"MarginSync/internal/venue"

	"github.com/rs/zerolog"
)

// Fetcher pulls historical fills for one sub-order-book account from the
// trades REST service.
type Fetcher interface {
	FetchHistoricalFills(ctx context.Context, subAccount venue.Address) ([]venue.Fill, error)
}

// Reconciler owns the merged trade sequence. It is the single writer; readers
// get copies via Snapshot.
type Reconciler struct {
	mu      sync.Mutex
	log     zerolog.Logger
	metrics *observability.Metrics
	fetcher Fetcher

	account    venue.Address
	generation uint64
	trades     []venue.Fill
	keys       map[string]struct{}
	loading    bool
}

// New creates a reconciler. metrics may be nil in tests.
func New(fetcher Fetcher, log zerolog.Logger, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{
		log:     log,
		metrics: metrics,
		fetcher: fetcher,
		keys:    make(map[string]struct{}),
	}
}

// Reset clears the accumulated sequence. Must be called when the active
// account goes away so fills from a previous owner context cannot linger.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked(venue.Address(""))
}

// SwitchTo binds the sequence to a new active account, clearing whatever the
// previous account accumulated, and returns a load token for the following
// BulkLoad. Switches are ordered by the caller; a load presenting a token
// superseded by a newer switch neither resets nor commits, so goroutine
// scheduling cannot drag the sequence back to a previous account.
func (r *Reconciler) SwitchTo(account venue.Address) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked(account)
	return r.generation
}

func (r *Reconciler) resetLocked(account venue.Address) {
	r.account = account
	r.generation++
	r.trades = nil
	r.keys = make(map[string]struct{})
	r.loading = false
	if r.metrics != nil {
		r.metrics.HistoryLength.Set(0)
	}
}

// BulkLoad fetches historical fills for every sub-order-book account under
// the given margin account, in parallel, and merges them into the sequence
// bound by the matching SwitchTo. A failed sub-fetch is logged and its slice
// omitted; the rest proceed. Live fills that arrived while the load was
// running are kept. A load whose token was superseded by a newer switch is a
// no-op at whichever point the supersession happened.
func (r *Reconciler) BulkLoad(ctx context.Context, acct *venue.MarginAccount, token uint64) error {
	subs := acct.ActiveOpenOrders()

	r.mu.Lock()
	if token != r.generation || r.account != acct.Address {
		r.mu.Unlock()
		return nil
	}
	if len(subs) == 0 {
		r.mu.Unlock()
		return nil
	}
	r.loading = true
	r.mu.Unlock()

	start := time.Now()
	results := make([][]venue.Fill, len(subs))

	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub venue.Address) {
			defer wg.Done()
			fills, err := r.fetcher.FetchHistoricalFills(ctx, sub)
			if err != nil {
				r.log.Warn().Err(err).Str("sub_account", string(sub)).
					Msg("historical fills fetch failed, slice omitted")
				if r.metrics != nil {
					r.metrics.BulkLoadErrors.Inc()
				}
				return
			}
			for j := range fills {
				fills[j].Source = venue.SourceHistorical
			}
			results[i] = fills
		}(i, sub)
	}
	wg.Wait()

	var flat []venue.Fill
	for _, slice := range results {
		flat = append(flat, slice...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if token != r.generation {
		// Account switched or reset while the load was in flight.
		return nil
	}

	r.trades = Merge(r.trades, flat)
	r.rebuildKeysLocked()
	r.loading = false

	if r.metrics != nil {
		r.metrics.BulkLoadDuration.Observe(time.Since(start).Seconds())
		r.metrics.HistoryLength.Set(float64(len(r.trades)))
	}
	r.log.Info().Int("fills", len(r.trades)).Str("account", string(acct.Address)).
		Dur("elapsed", time.Since(start)).Msg("trade history bulk load complete")

	return nil
}

// ApplyLive reconciles a live-fill batch against the merged sequence and
// returns the number of genuinely new fills. A fill is new iff its dedup key
// is absent; re-delivering known fills is a no-op that leaves the sequence
// unchanged.
func (r *Reconciler) ApplyLive(batch []venue.Fill) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.account.IsZero() {
		return 0
	}
	if r.metrics != nil {
		r.metrics.LiveFillsReceived.Add(float64(len(batch)))
	}

	fresh := make([]venue.Fill, 0, len(batch))
	seen := make(map[string]struct{}, len(batch))
	for _, f := range batch {
		key := f.DedupKey()
		if _, ok := r.keys[key]; ok {
			if r.metrics != nil {
				r.metrics.LiveFillsKnown.Inc()
			}
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		f.Source = venue.SourceLive
		fresh = append(fresh, f)
	}

	if len(fresh) == 0 {
		return 0
	}

	r.trades = Merge(r.trades, fresh)
	r.rebuildKeysLocked()

	if r.metrics != nil {
		r.metrics.LiveFillsMerged.Add(float64(len(fresh)))
		r.metrics.HistoryLength.Set(float64(len(r.trades)))
	}
	return len(fresh)
}

// Snapshot returns a copy of the merged sequence and whether the bulk load is
// still running. The loading flag is never true during incremental
// reconciliation.
func (r *Reconciler) Snapshot() ([]venue.Fill, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]venue.Fill, len(r.trades))
	copy(out, r.trades)
	return out, r.loading
}

// ActiveAccount returns the account the sequence currently belongs to.
func (r *Reconciler) ActiveAccount() venue.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.account
}

func (r *Reconciler) rebuildKeysLocked() {
	r.keys = make(map[string]struct{}, len(r.trades))
	for _, f := range r.trades {
		r.keys[f.DedupKey()] = struct{}{}
	}
}
