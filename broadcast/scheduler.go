// Package broadcast periodically publishes the price of one symbol.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/papertrade/internal/logging"
	"github.com/rustyeddy/papertrade/market"
	"github.com/rustyeddy/papertrade/metrics"
	"github.com/rustyeddy/papertrade/pubsub"
)

const (
	DefaultTopic  = "priceUpdate"
	DefaultSymbol = market.Symbol("BTC-USD")
	DefaultPeriod = 5 * time.Second

	// FetchFailed is the error text sent to subscribers when no price is
	// available for a tick.
	FetchFailed = "failed to fetch price"
)

// Update is the event published on every tick. A failed tick carries a
// zero price and Error.
type Update struct {
	Symbol    market.Symbol   `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Error     string          `json:"error,omitempty"`
}

// Scheduler ticks on a fixed period. Ticks run one at a time on a single
// goroutine; a slow tick makes the ticker drop the ticks it missed.
type Scheduler struct {
	src    market.QuoteSource
	pub    pubsub.Publisher
	topic  string
	symbol market.Symbol
	period time.Duration
	now    func() time.Time
	log    logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Scheduler)

func WithTopic(topic string) Option {
	return func(s *Scheduler) { s.topic = topic }
}

func WithSymbol(sym market.Symbol) Option {
	return func(s *Scheduler) { s.symbol = sym }
}

// WithPeriod sets the tick period. Non-positive values are ignored.
func WithPeriod(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.period = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Scheduler) { s.log = logging.OrDiscard(log) }
}

func New(src market.QuoteSource, pub pubsub.Publisher, opts ...Option) *Scheduler {
	s := &Scheduler{
		src:    src,
		pub:    pub,
		topic:  DefaultTopic,
		symbol: DefaultSymbol,
		period: DefaultPeriod,
		now:    time.Now,
		log:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Period() time.Duration { return s.period }

// Start launches the tick loop. Calling Start on a running scheduler does
// nothing. The loop ends when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop cancels the loop and waits for it to exit. It is safe to call on a
// stopped scheduler, and the scheduler can be started again afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	log := s.log.WithFields(logrus.Fields{"symbol": s.symbol, "topic": s.topic})
	log.WithField("period", s.period).Info("price broadcast started")

	for {
		select {
		case <-ctx.Done():
			log.Info("price broadcast stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fetches the current quote and publishes one Update, bounded by one
// period. It returns what was published.
func (s *Scheduler) Tick(ctx context.Context) Update {
	ctx, cancel := context.WithTimeout(ctx, s.period)
	defer cancel()

	q, err := s.src.GetQuote(ctx, s.symbol)
	u := Update{Symbol: s.symbol, Price: q.Price, Timestamp: s.now()}
	if err != nil {
		u.Price = decimal.Zero
		u.Error = FetchFailed
		s.log.WithError(err).WithField("symbol", s.symbol).Warn("broadcast tick without price")
	}
	metrics.BroadcastTick(err == nil)

	if err := s.pub.Publish(s.topic, u); err != nil {
		s.log.WithError(err).WithField("topic", s.topic).Error("publish price update")
	}
	return u
}
