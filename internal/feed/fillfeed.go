package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MarginSync/internal/observability"
	"MarginSync/internal/venue"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// DefaultBufferSize bounds the in-memory window of recent live fills.
const DefaultBufferSize = 1000

// FillFeed maintains one durable JetStream consumer on the active account's
// fill subject. Each delivered fill lands in a bounded most-recent-N buffer
// and the whole buffer is handed to onUpdate, which is expected to
// deduplicate. Switching accounts tears the consumer down and clears the
// buffer so fills never leak across accounts.
type FillFeed struct {
	js       jetstream.JetStream
	log      zerolog.Logger
	metrics  *observability.Metrics
	onUpdate func(batch []venue.Fill)
	size     int

	mu       sync.Mutex
	consumer jetstream.ConsumeContext
	account  venue.Address
	recent   []venue.Fill
}

// NewFillFeed creates a feed. onUpdate is invoked from the consumer goroutine
// with a copy of the buffer; it must not block for long.
func NewFillFeed(js jetstream.JetStream, size int, onUpdate func([]venue.Fill), log zerolog.Logger, metrics *observability.Metrics) *FillFeed {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &FillFeed{
		js:       js,
		log:      log,
		metrics:  metrics,
		onUpdate: onUpdate,
		size:     size,
	}
}

// Switch points the feed at a new account: the previous consumer is stopped,
// the buffer cleared, and a durable consumer created on the account's
// subject. An empty account just tears down.
func (f *FillFeed) Switch(ctx context.Context, account venue.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.consumer != nil {
		f.consumer.Stop()
		f.consumer = nil
	}
	f.recent = nil
	f.account = account

	if account.IsZero() {
		return nil
	}

	consumer, err := f.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       "msync-fills-" + string(account),
		FilterSubject: SubjectPrefix + string(account),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer for %s: %w", account, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		f.handle(account, msg)
	})
	if err != nil {
		return fmt.Errorf("consume fills for %s: %w", account, err)
	}

	f.consumer = cc
	f.log.Info().Str("account", string(account)).Msg("fill feed switched")
	return nil
}

func (f *FillFeed) handle(account venue.Address, msg jetstream.Msg) {
	if f.metrics != nil {
		f.metrics.FeedMessages.Inc()
	}

	fill, err := ParseFill(msg.Data())
	if err != nil {
		// Unparseable fills are dropped, not redelivered.
		f.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping bad fill message")
		if f.metrics != nil {
			f.metrics.FeedParseErrors.Inc()
		}
		msg.Ack()
		return
	}

	f.mu.Lock()
	if f.account != account {
		// Feed switched while this delivery was in flight.
		f.mu.Unlock()
		msg.Ack()
		return
	}
	f.recent = append(f.recent, fill)
	if len(f.recent) > f.size {
		f.recent = f.recent[len(f.recent)-f.size:]
	}
	batch := make([]venue.Fill, len(f.recent))
	copy(batch, f.recent)
	f.mu.Unlock()

	if f.onUpdate != nil {
		f.onUpdate(batch)
	}
	msg.Ack()
}

// Recent returns a copy of the buffered fills, newest last.
func (f *FillFeed) Recent() []venue.Fill {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]venue.Fill, len(f.recent))
	copy(out, f.recent)
	return out
}

// Stop tears down the consumer.
func (f *FillFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumer != nil {
		f.consumer.Stop()
		f.consumer = nil
	}
	f.account = venue.Address("")
	f.recent = nil
}
