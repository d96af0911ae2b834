package fulfil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fenixbot/internal/domain"
	"fenixbot/internal/store"
)

var (
	ErrInvalidRequest = errors.New("invalid sell request")
	ErrNoBots         = errors.New("no bot identities configured")
)

type SubmitInput struct {
	UserID   string          `json:"user_id"`
	AssetID  string          `json:"asset_id"`
	ItemName string          `json:"item_name"`
	Price    decimal.Decimal `json:"price"`
}

// Service is the entry point used by the API layer.
type Service struct {
	store    store.Store
	bots     []string
	next     atomic.Uint64
	recorder Recorder
	logger   *zap.Logger
}

func NewService(st store.Store, botIDs []string, recorder Recorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    st,
		bots:     append([]string(nil), botIDs...),
		recorder: recorderOrNop(recorder),
		logger:   logger.Named("service"),
	}
}

// Submit stores a new pending request and assigns it a bot round-robin. The
// assignment never changes afterwards.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (domain.SellRequest, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.AssetID = strings.TrimSpace(in.AssetID)
	switch {
	case in.UserID == "":
		return domain.SellRequest{}, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	case in.AssetID == "":
		return domain.SellRequest{}, fmt.Errorf("%w: asset_id is required", ErrInvalidRequest)
	case strings.TrimSpace(in.ItemName) == "":
		return domain.SellRequest{}, fmt.Errorf("%w: item_name is required", ErrInvalidRequest)
	case !in.Price.IsPositive():
		return domain.SellRequest{}, fmt.Errorf("%w: price must be positive", ErrInvalidRequest)
	}
	if len(s.bots) == 0 {
		return domain.SellRequest{}, ErrNoBots
	}
	botID := s.bots[(s.next.Add(1)-1)%uint64(len(s.bots))]

	req, err := s.store.CreateSellRequest(ctx, domain.SellRequest{
		ID:       uuid.NewString(),
		UserID:   in.UserID,
		BotID:    botID,
		AssetID:  in.AssetID,
		ItemName: in.ItemName,
		Price:    in.Price,
		Status:   domain.SellStatusPending,
	})
	if err != nil {
		return domain.SellRequest{}, err
	}
	s.recorder.Transition(domain.SellStatusPending)
	s.logger.Info("sell request submitted",
		zap.String("request_id", req.ID),
		zap.String("user_id", req.UserID),
		zap.String("bot_id", botID))
	return req, nil
}

// Status returns the current request; ListingID is set once listed.
func (s *Service) Status(ctx context.Context, id string) (domain.SellRequest, error) {
	return s.store.GetSellRequest(ctx, id)
}
