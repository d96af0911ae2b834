package fulfil

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fenixbot/internal/service/verify"
	"fenixbot/internal/store"
)

type EngineConfig struct {
	DispatchInterval time.Duration
	SweepInterval    time.Duration
	OfferDeadline    time.Duration
	PollInterval     time.Duration
	DeclineIncoming  bool
	Inbox            InboxConfig
}

// Engine wires the lifecycle components for a fixed set of bots.
type Engine struct {
	Service    *Service
	Dispatcher *Dispatcher
	Reconciler *Reconciler
	Sweeper    *Sweeper
	Publisher  *Publisher
	Inbox      *Inbox

	watchers  []*Watcher
	scheduler *Scheduler
	cfg       EngineConfig
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(cfg EngineConfig, st store.Store, listings store.ListingWriter, offers OfferBinder, botIDs []string, dedup Dedup, recorder Recorder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := NewPublisher(st, listings, recorder, logger)
	reconciler := NewReconciler(st, offers, verify.NewMatcher(), publisher, recorder, logger)
	inbox := NewInbox(botIDs, reconciler.Handle, dedup, cfg.Inbox, logger)

	e := &Engine{
		Service:    NewService(st, botIDs, recorder, logger),
		Dispatcher: NewDispatcher(st, offers, publisher, recorder, logger),
		Reconciler: reconciler,
		Sweeper:    NewSweeper(st, offers, inbox, cfg.OfferDeadline, recorder, logger),
		Publisher:  publisher,
		Inbox:      inbox,
		scheduler:  NewScheduler(logger),
		cfg:        cfg,
		logger:     logger.Named("engine"),
	}
	if cfg.PollInterval > 0 {
		for _, id := range botIDs {
			e.watchers = append(e.watchers, NewWatcher(id, offers, inbox, cfg.PollInterval, 2*cfg.OfferDeadline, cfg.DeclineIncoming, logger))
		}
	}
	e.scheduler.Every("dispatch", cfg.DispatchInterval, e.Dispatcher.Tick)
	e.scheduler.Every("sweep", cfg.SweepInterval, e.Sweeper.Tick)
	return e
}

// Start launches the inbox consumers, offer watchers and periodic jobs.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.Inbox.Start(ctx)
	for _, w := range e.watchers {
		w := w
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			w.Run(ctx)
		}()
	}
	e.scheduler.Start(ctx)
	e.logger.Info("fulfilment engine started",
		zap.Int("watchers", len(e.watchers)),
		zap.Duration("dispatch_interval", e.cfg.DispatchInterval),
		zap.Duration("sweep_interval", e.cfg.SweepInterval),
		zap.Duration("offer_deadline", e.cfg.OfferDeadline))
}

func (e *Engine) Stop(ctx context.Context) error {
	err := e.scheduler.Stop(ctx)
	if e.cancel != nil {
		e.cancel()
	}
	e.Inbox.Stop()
	e.wg.Wait()
	return err
}
