// Package offer wraps the platform's trade offer primitives for one live bot
// session.
package offer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"fenixbot/internal/domain"
	"fenixbot/internal/platform"
	"fenixbot/internal/service/session"
)

var (
	ErrSendFailed    = errors.New("trade offer send failed")
	ErrInspectFailed = errors.New("item inspect failed")
)

// Sessions is the part of the session manager an offer client needs.
type Sessions interface {
	EnsureLive(ctx context.Context, botID string) (session.Session, error)
	Valid(s session.Session) bool
	Invalidate(s session.Session)
}

// Binder hands out clients bound to a bot's current live session.
type Binder struct {
	sessions Sessions
	message  string
	logger   *zap.Logger
}

func NewBinder(sessions Sessions, message string, logger *zap.Logger) *Binder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binder{sessions: sessions, message: message, logger: logger.Named("offer")}
}

// Bind returns a client for botID. It fails with session.ErrNoLiveSession or
// session.ErrBotDisabled when the bot cannot be used right now.
func (b *Binder) Bind(ctx context.Context, botID string) (*Client, error) {
	s, err := b.sessions.EnsureLive(ctx, botID)
	if err != nil {
		return nil, err
	}
	return &Client{sess: s, sessions: b.sessions, message: b.message, logger: b.logger.With(zap.String("bot_id", botID))}, nil
}

type Client struct {
	sess     session.Session
	sessions Sessions
	message  string
	logger   *zap.Logger
}

func (c *Client) BotID() string { return c.sess.BotID }

// CreateOffer asks the counterparty behind tradeHandle for a single item.
func (c *Client) CreateOffer(ctx context.Context, tradeHandle, assetID string) (string, error) {
	if err := c.guard(); err != nil {
		return "", err
	}
	if strings.TrimSpace(tradeHandle) == "" || strings.TrimSpace(assetID) == "" {
		return "", fmt.Errorf("%w: trade handle and asset id are required", ErrSendFailed)
	}
	id, err := c.sess.Client.SendOffer(ctx, c.sess.Cookies, platform.NewOffer{
		TradeURL:       tradeHandle,
		ItemsToReceive: []domain.AssetRef{c.sess.Client.AssetRef(assetID)},
		Message:        c.message,
	})
	if err != nil {
		if stale := c.checkExpired(err); stale != nil {
			return "", stale
		}
		return "", fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return id, nil
}

func (c *Client) FetchOfferState(ctx context.Context, offerID string) (domain.OfferState, error) {
	if err := c.guard(); err != nil {
		return "", err
	}
	o, err := c.sess.Client.GetOffer(ctx, c.sess.Cookies, offerID)
	if err != nil {
		if stale := c.checkExpired(err); stale != nil {
			return "", stale
		}
		return "", err
	}
	return o.State, nil
}

// FetchReceivedItems returns the items obtained through an accepted offer,
// each enriched with its inspect payload. Any inspect failure fails the call
// with ErrInspectFailed since unverifiable items must not be listed.
func (c *Client) FetchReceivedItems(ctx context.Context, offerID string) ([]domain.ReceivedItem, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	items, err := c.sess.Client.ReceivedItems(ctx, c.sess.Cookies, offerID)
	if err != nil {
		if stale := c.checkExpired(err); stale != nil {
			return nil, stale
		}
		return nil, err
	}
	for i := range items {
		payload, err := c.sess.Client.Inspect(ctx, items[i].InspectLink)
		if err != nil {
			c.logger.Warn("inspect failed",
				zap.String("offer_id", offerID),
				zap.String("asset_id", items[i].AssetID),
				zap.Error(err))
			return nil, fmt.Errorf("%w: asset %s: %v", ErrInspectFailed, items[i].AssetID, err)
		}
		items[i].Inspect = &payload
	}
	return items, nil
}

// CancelOffer cancels offerID if it is still active. Offers in any other
// state are left alone.
func (c *Client) CancelOffer(ctx context.Context, offerID string) error {
	state, err := c.FetchOfferState(ctx, offerID)
	if errors.Is(err, platform.ErrOfferNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if state != domain.OfferStateActive {
		return nil
	}
	if err := c.sess.Client.CancelOffer(ctx, c.sess.Cookies, offerID); err != nil {
		if stale := c.checkExpired(err); stale != nil {
			return stale
		}
		return err
	}
	c.logger.Info("offer canceled", zap.String("offer_id", offerID))
	return nil
}

func (c *Client) DeclineOffer(ctx context.Context, offerID string) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.sess.Client.DeclineOffer(ctx, c.sess.Cookies, offerID); err != nil {
		if stale := c.checkExpired(err); stale != nil {
			return stale
		}
		return err
	}
	return nil
}

// ListSent returns the bot's outbound offers updated since the given time.
func (c *Client) ListSent(ctx context.Context, since time.Time) ([]platform.Offer, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	offers, err := c.sess.Client.ListSentOffers(ctx, c.sess.Cookies, since)
	if err != nil {
		if stale := c.checkExpired(err); stale != nil {
			return nil, stale
		}
		return nil, err
	}
	return offers, nil
}

// ListIncoming returns active offers other accounts sent to the bot.
func (c *Client) ListIncoming(ctx context.Context) ([]platform.Offer, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	offers, err := c.sess.Client.ListReceivedOffers(ctx, c.sess.Cookies)
	if err != nil {
		if stale := c.checkExpired(err); stale != nil {
			return nil, stale
		}
		return nil, err
	}
	return offers, nil
}

func (c *Client) guard() error {
	if !c.sessions.Valid(c.sess) {
		return session.ErrStaleSession
	}
	return nil
}

func (c *Client) checkExpired(err error) error {
	if !errors.Is(err, platform.ErrUnauthorized) {
		return nil
	}
	c.sessions.Invalidate(c.sess)
	c.logger.Info("session expired during call", zap.Uint64("generation", c.sess.Generation))
	return fmt.Errorf("%w: %v", session.ErrStaleSession, err)
}
