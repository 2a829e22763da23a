package history_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"MarginSync/internal/history"
	"MarginSync/internal/venue"

	"github.com/rs/zerolog"
)

// fakeFetcher serves canned fills per sub-account. gate blocks every fetch
// until released; gates blocks only the listed sub-accounts.
type fakeFetcher struct {
	fills map[venue.Address][]venue.Fill
	errs  map[venue.Address]error
	gate  chan struct{}
	gates map[venue.Address]chan struct{}
}

func (f *fakeFetcher) FetchHistoricalFills(ctx context.Context, sub venue.Address) ([]venue.Fill, error) {
	if f.gate != nil {
		<-f.gate
	}
	if g := f.gates[sub]; g != nil {
		<-g
	}
	if err := f.errs[sub]; err != nil {
		return nil, err
	}
	return f.fills[sub], nil
}

func newTestReconciler(f *fakeFetcher) *history.Reconciler {
	return history.New(f, zerolog.Nop(), nil)
}

func testAccount(addr string, subs ...string) *venue.MarginAccount {
	acct := &venue.MarginAccount{Address: venue.Address(addr)}
	for _, s := range subs {
		acct.OpenOrders = append(acct.OpenOrders, venue.Address(s))
	}
	return acct
}

// ============================================================================
// Test: BulkLoad
// ============================================================================

func TestBulkLoad_MergesAllSubAccounts(t *testing.T) {
	fetcher := &fakeFetcher{fills: map[venue.Address][]venue.Fill{
		"oo-1": {mustFill("order-1", "buy", uuidA, 30, venue.SourceHistorical)},
		"oo-2": {mustFill("order-2", "sell", uuidB, 10, venue.SourceHistorical)},
	}}
	rec := newTestReconciler(fetcher)

	acct := testAccount("acct-1", "oo-1", "oo-2")
	if err := rec.BulkLoad(context.Background(), acct, rec.SwitchTo(acct.Address)); err != nil {
		t.Fatalf("BulkLoad failed: %v", err)
	}

	trades, loading := rec.Snapshot()
	if loading {
		t.Error("loading should be false after BulkLoad returns")
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(trades))
	}
	if trades[0].OrderID != "order-2" {
		t.Errorf("newest first: got %s, want order-2", trades[0].OrderID)
	}
}

func TestBulkLoad_SkipsEmptyOpenOrderSlots(t *testing.T) {
	fetcher := &fakeFetcher{fills: map[venue.Address][]venue.Fill{
		"oo-1": {mustFill("order-1", "buy", uuidA, 30, venue.SourceHistorical)},
	}}
	rec := newTestReconciler(fetcher)

	acct := testAccount("acct-1", "oo-1", "", "")
	if err := rec.BulkLoad(context.Background(), acct, rec.SwitchTo(acct.Address)); err != nil {
		t.Fatalf("BulkLoad failed: %v", err)
	}

	trades, _ := rec.Snapshot()
	if len(trades) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(trades))
	}
}

func TestBulkLoad_PartialFailureKeepsHealthySlices(t *testing.T) {
	fetcher := &fakeFetcher{
		fills: map[venue.Address][]venue.Fill{
			"oo-1": {mustFill("order-1", "buy", uuidA, 30, venue.SourceHistorical)},
		},
		errs: map[venue.Address]error{
			"oo-2": errors.New("trades service unavailable"),
		},
	}
	rec := newTestReconciler(fetcher)

	acct := testAccount("acct-1", "oo-1", "oo-2")
	if err := rec.BulkLoad(context.Background(), acct, rec.SwitchTo(acct.Address)); err != nil {
		t.Fatalf("BulkLoad should tolerate per-sub failures: %v", err)
	}

	trades, _ := rec.Snapshot()
	if len(trades) != 1 {
		t.Fatalf("expected 1 fill from the healthy slice, got %d", len(trades))
	}
}

func TestBulkLoad_DiscardedAfterReset(t *testing.T) {
	fetcher := &fakeFetcher{
		fills: map[venue.Address][]venue.Fill{
			"oo-1": {mustFill("order-1", "buy", uuidA, 30, venue.SourceHistorical)},
		},
		gate: make(chan struct{}),
	}
	rec := newTestReconciler(fetcher)

	acct := testAccount("acct-1", "oo-1")
	token := rec.SwitchTo(acct.Address)
	done := make(chan error, 1)
	go func() {
		done <- rec.BulkLoad(context.Background(), acct, token)
	}()

	// Wait for the load to flag itself, then yank the account out from under it.
	waitForLoading(t, rec, true)
	rec.Reset()
	close(fetcher.gate)

	if err := <-done; err != nil {
		t.Fatalf("BulkLoad failed: %v", err)
	}

	trades, loading := rec.Snapshot()
	if len(trades) != 0 {
		t.Errorf("stale load committed %d fills, want 0", len(trades))
	}
	if loading {
		t.Error("loading should be false after reset")
	}
}

func TestBulkLoad_LoadingFlagWhileInFlight(t *testing.T) {
	fetcher := &fakeFetcher{
		fills: map[venue.Address][]venue.Fill{"oo-1": nil},
		gate:  make(chan struct{}),
	}
	rec := newTestReconciler(fetcher)

	acct := testAccount("acct-1", "oo-1")
	token := rec.SwitchTo(acct.Address)
	done := make(chan error, 1)
	go func() {
		done <- rec.BulkLoad(context.Background(), acct, token)
	}()

	waitForLoading(t, rec, true)
	close(fetcher.gate)
	if err := <-done; err != nil {
		t.Fatalf("BulkLoad failed: %v", err)
	}
	waitForLoading(t, rec, false)
}

// Two quick account switches where the scheduler runs the second load first:
// the superseded load must not adopt its account or commit anything.
func TestBulkLoad_RunsOnlyForLatestSwitch(t *testing.T) {
	fetcher := &fakeFetcher{fills: map[venue.Address][]venue.Fill{
		"oo-a": {mustFill("order-a", "buy", uuidA, 30, venue.SourceHistorical)},
		"oo-b": {mustFill("order-b", "sell", uuidB, 10, venue.SourceHistorical)},
	}}
	rec := newTestReconciler(fetcher)

	acctA := testAccount("acct-a", "oo-a")
	acctB := testAccount("acct-b", "oo-b")

	tokenA := rec.SwitchTo(acctA.Address)
	tokenB := rec.SwitchTo(acctB.Address)

	if err := rec.BulkLoad(context.Background(), acctB, tokenB); err != nil {
		t.Fatalf("BulkLoad for acct-b failed: %v", err)
	}
	if err := rec.BulkLoad(context.Background(), acctA, tokenA); err != nil {
		t.Fatalf("superseded BulkLoad failed: %v", err)
	}

	if got := rec.ActiveAccount(); got != "acct-b" {
		t.Fatalf("account: got %q, want acct-b", got)
	}
	trades, _ := rec.Snapshot()
	if len(trades) != 1 || trades[0].OrderID != "order-b" {
		t.Fatalf("sequence holds %d fills, want exactly order-b", len(trades))
	}
}

// Same race, other interleaving: the first load is mid-flight when the second
// switch lands and finishes, then the stale load completes last.
func TestBulkLoad_LateLoadFromPreviousSwitchDiscarded(t *testing.T) {
	gateA := make(chan struct{})
	fetcher := &fakeFetcher{
		fills: map[venue.Address][]venue.Fill{
			"oo-a": {mustFill("order-a", "buy", uuidA, 30, venue.SourceHistorical)},
			"oo-b": {mustFill("order-b", "sell", uuidB, 10, venue.SourceHistorical)},
		},
		gates: map[venue.Address]chan struct{}{"oo-a": gateA},
	}
	rec := newTestReconciler(fetcher)

	acctA := testAccount("acct-a", "oo-a")
	acctB := testAccount("acct-b", "oo-b")

	tokenA := rec.SwitchTo(acctA.Address)
	done := make(chan error, 1)
	go func() {
		done <- rec.BulkLoad(context.Background(), acctA, tokenA)
	}()
	waitForLoading(t, rec, true)

	tokenB := rec.SwitchTo(acctB.Address)
	if err := rec.BulkLoad(context.Background(), acctB, tokenB); err != nil {
		t.Fatalf("BulkLoad for acct-b failed: %v", err)
	}

	close(gateA)
	if err := <-done; err != nil {
		t.Fatalf("superseded BulkLoad failed: %v", err)
	}

	if got := rec.ActiveAccount(); got != "acct-b" {
		t.Fatalf("account: got %q, want acct-b", got)
	}
	trades, loading := rec.Snapshot()
	if loading {
		t.Error("loading should be false once the current load finished")
	}
	if len(trades) != 1 || trades[0].OrderID != "order-b" {
		t.Fatalf("sequence holds %d fills, want exactly order-b", len(trades))
	}
}

func waitForLoading(t *testing.T, rec *history.Reconciler, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, loading := rec.Snapshot(); loading == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("loading flag never became %v", want)
}

// ============================================================================
// Test: ApplyLive
// ============================================================================

func TestApplyLive_MergesOnlyNewFills(t *testing.T) {
	fetcher := &fakeFetcher{fills: map[venue.Address][]venue.Fill{
		"oo-1": {
			mustFill("order-1", "buy", uuidA, 30, venue.SourceHistorical),
			mustFill("order-2", "sell", uuidB, 20, venue.SourceHistorical),
		},
	}}
	rec := newTestReconciler(fetcher)
	acct := testAccount("acct-1", "oo-1")
	if err := rec.BulkLoad(context.Background(), acct, rec.SwitchTo(acct.Address)); err != nil {
		t.Fatalf("BulkLoad failed: %v", err)
	}

	// Live batch re-delivers order-2 and brings one new fill.
	batch := []venue.Fill{
		mustFill("order-2", "sell", uuidB, 20, venue.SourceLive),
		mustFill("order-3", "buy", uuidC, 5, venue.SourceLive),
	}

	if n := rec.ApplyLive(batch); n != 1 {
		t.Fatalf("new fills: got %d, want 1", n)
	}
	trades, _ := rec.Snapshot()
	if len(trades) != 3 {
		t.Fatalf("expected 3 fills, got %d", len(trades))
	}

	// Re-applying the same batch must be a no-op.
	if n := rec.ApplyLive(batch); n != 0 {
		t.Fatalf("second apply: got %d new fills, want 0", n)
	}
	trades, _ = rec.Snapshot()
	if len(trades) != 3 {
		t.Fatalf("length changed on idempotent apply: got %d, want 3", len(trades))
	}
}

func TestApplyLive_NoopWithoutAccount(t *testing.T) {
	rec := newTestReconciler(&fakeFetcher{})

	n := rec.ApplyLive([]venue.Fill{mustFill("order-1", "buy", uuidA, 1, venue.SourceLive)})
	if n != 0 {
		t.Fatalf("got %d new fills, want 0", n)
	}
	trades, _ := rec.Snapshot()
	if len(trades) != 0 {
		t.Errorf("fills accumulated without an active account: %d", len(trades))
	}
}

func TestReset_ClearsSequence(t *testing.T) {
	fetcher := &fakeFetcher{fills: map[venue.Address][]venue.Fill{
		"oo-1": {mustFill("order-1", "buy", uuidA, 30, venue.SourceHistorical)},
	}}
	rec := newTestReconciler(fetcher)
	acct := testAccount("acct-1", "oo-1")
	if err := rec.BulkLoad(context.Background(), acct, rec.SwitchTo(acct.Address)); err != nil {
		t.Fatalf("BulkLoad failed: %v", err)
	}

	rec.Reset()

	trades, _ := rec.Snapshot()
	if len(trades) != 0 {
		t.Errorf("expected empty sequence after reset, got %d fills", len(trades))
	}
	if got := rec.ActiveAccount(); !got.IsZero() {
		t.Errorf("account after reset: got %q, want empty", got)
	}
}
