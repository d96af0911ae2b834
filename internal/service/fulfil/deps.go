// Package fulfil drives sell requests through their lifecycle: dispatching
// trade offers, reconciling offer outcomes, sweeping abandoned offers and
// publishing listings for verified items.
package fulfil

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"fenixbot/internal/domain"
	"fenixbot/internal/service/offer"
)

// OfferBinder hands out offer clients bound to a bot's live session.
type OfferBinder interface {
	Bind(ctx context.Context, botID string) (*offer.Client, error)
}

// EventSink accepts offer state changes for reconciliation.
type EventSink interface {
	Publish(ctx context.Context, event domain.OfferEvent) error
}

// Recorder receives engine counters. A nil Recorder is replaced by a no-op.
type Recorder interface {
	Transition(to domain.SellStatus)
	DispatchError(botID string)
	EventHandled(state domain.OfferState, outcome string)
	Swept(botID string)
}

type nopRecorder struct{}

func (nopRecorder) Transition(domain.SellStatus) {}
func (nopRecorder) DispatchError(string) {}
func (nopRecorder) EventHandled(domain.OfferState, string) {}
func (nopRecorder) Swept(string) {}

func recorderOrNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}

// groupByBot splits requests per owning bot, keeping their order.
func groupByBot(reqs []domain.SellRequest) (map[string][]domain.SellRequest, []string) {
	groups := make(map[string][]domain.SellRequest)
	order := make([]string, 0)
	for _, req := range reqs {
		if _, ok := groups[req.BotID]; !ok {
			order = append(order, req.BotID)
		}
		groups[req.BotID] = append(groups[req.BotID], req)
	}
	return groups, order
}

// guard runs fn and converts a panic into an error so one bot cannot take
// the process down.
func guard(logger *zap.Logger, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("recovered panic", zap.String("task", name), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("%s: %w: %v", name, errPanic, r)
		}
	}()
	return fn()
}

var errPanic = errors.New("panic")
