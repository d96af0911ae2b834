package fulfil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"fenixbot/internal/domain"
)

var (
	ErrUnknownBot   = errors.New("event for unknown bot")
	ErrInboxStopped = errors.New("inbox stopped")
)

// Dedup remembers offer events that were fully processed.
type Dedup interface {
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	IsProcessed(ctx context.Context, eventID string) (bool, error)
}

// Handler processes one offer event. A non-nil error schedules a retry.
type Handler func(ctx context.Context, ev domain.OfferEvent) error

type InboxConfig struct {
	Buffer      int
	RetryDelay  time.Duration
	MaxAttempts int
	DedupTTL    time.Duration
}

type envelope struct {
	event   domain.OfferEvent
	attempt int
}

// Inbox queues offer events per bot. Each bot has exactly one consumer so
// events of one bot are handled in order while bots progress in parallel.
type Inbox struct {
	cfg     InboxConfig
	handler Handler
	dedup   Dedup
	logger  *zap.Logger
	queues  map[string]chan envelope
	onEvent func(ev domain.OfferEvent, outcome string)

	mu      sync.Mutex
	done    chan struct{}
	started bool
	wg      sync.WaitGroup
}

func NewInbox(botIDs []string, handler Handler, dedup Dedup, cfg InboxConfig, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	queues := make(map[string]chan envelope, len(botIDs))
	for _, id := range botIDs {
		queues[id] = make(chan envelope, cfg.Buffer)
	}
	return &Inbox{
		cfg:     cfg,
		handler: handler,
		dedup:   dedup,
		logger:  logger.Named("inbox"),
		queues:  queues,
		done:    make(chan struct{}),
	}
}

// OnEvent registers a callback with the final outcome of every event.
func (in *Inbox) OnEvent(fn func(ev domain.OfferEvent, outcome string)) {
	in.onEvent = fn
}

// Publish enqueues ev on its bot's queue, blocking while the queue is full.
func (in *Inbox) Publish(ctx context.Context, ev domain.OfferEvent) error {
	return in.enqueue(ctx, envelope{event: ev, attempt: 1})
}

func (in *Inbox) enqueue(ctx context.Context, env envelope) error {
	q, ok := in.queues[env.event.BotID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBot, env.event.BotID)
	}
	select {
	case <-in.done:
		return ErrInboxStopped
	default:
	}
	select {
	case q <- env:
		return nil
	case <-in.done:
		return ErrInboxStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches one consumer per bot. Consumers exit when ctx is canceled
// or Stop is called.
func (in *Inbox) Start(ctx context.Context) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.started {
		return
	}
	in.started = true
	for botID, q := range in.queues {
		in.wg.Add(1)
		go in.consume(ctx, botID, q)
	}
}

func (in *Inbox) Stop() {
	in.mu.Lock()
	select {
	case <-in.done:
	default:
		close(in.done)
	}
	in.mu.Unlock()
	in.wg.Wait()
}

func (in *Inbox) consume(ctx context.Context, botID string, q chan envelope) {
	defer in.wg.Done()
	logger := in.logger.With(zap.String("bot_id", botID))
	for {
		select {
		case <-ctx.Done():
			return
		case <-in.done:
			return
		case env := <-q:
			in.process(ctx, logger, env)
		}
	}
}

func (in *Inbox) process(ctx context.Context, logger *zap.Logger, env envelope) {
	ev := env.event
	key := eventKey(ev)
	if in.dedup != nil {
		seen, err := in.dedup.IsProcessed(ctx, key)
		if err != nil {
			logger.Warn("dedup lookup failed", zap.String("event", key), zap.Error(err))
		} else if seen {
			in.report(ev, "deduplicated")
			return
		}
	}

	err := guard(logger, "event "+key, func() error { return in.handler(ctx, ev) })
	if err == nil {
		if in.dedup != nil {
			if _, derr := in.dedup.MarkProcessed(ctx, key, in.cfg.DedupTTL); derr != nil {
				logger.Warn("dedup mark failed", zap.String("event", key), zap.Error(derr))
			}
		}
		in.report(ev, "handled")
		return
	}

	if env.attempt >= in.cfg.MaxAttempts {
		logger.Error("giving up on offer event",
			zap.String("offer_id", ev.OfferID),
			zap.String("state", string(ev.State)),
			zap.Int("attempts", env.attempt),
			zap.Error(err))
		in.report(ev, "dropped")
		return
	}
	logger.Warn("offer event deferred",
		zap.String("offer_id", ev.OfferID),
		zap.Int("attempt", env.attempt),
		zap.Duration("retry_in", in.cfg.RetryDelay),
		zap.Error(err))
	in.report(ev, "retry")

	next := envelope{event: ev, attempt: env.attempt + 1}
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		timer := time.NewTimer(in.cfg.RetryDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
			if err := in.enqueue(ctx, next); err != nil && !errors.Is(err, ErrInboxStopped) && ctx.Err() == nil {
				logger.Warn("requeue offer event", zap.String("offer_id", ev.OfferID), zap.Error(err))
			}
		case <-ctx.Done():
		case <-in.done:
		}
	}()
}

func (in *Inbox) report(ev domain.OfferEvent, outcome string) {
	if in.onEvent != nil {
		in.onEvent(ev, outcome)
	}
}

func eventKey(ev domain.OfferEvent) string {
	return "offer:" + ev.BotID + ":" + ev.OfferID + ":" + string(ev.State)
}
