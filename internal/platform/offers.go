package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"fenixbot/internal/domain"
)

// Raw trade offer states as reported by the platform.
const (
	rawStateInvalid                = 1
	rawStateActive                 = 2
	rawStateAccepted               = 3
	rawStateCountered              = 4
	rawStateExpired                = 5
	rawStateCanceled               = 6
	rawStateDeclined               = 7
	rawStateInvalidItems           = 8
	rawStateNeedsConfirmation      = 9
	rawStateCanceledBySecondFactor = 10
	rawStateInEscrow               = 11
)

// MapOfferState folds the platform's raw states onto the states the engine
// reasons about. Escrow and pending confirmation are not outcomes yet.
func MapOfferState(raw int) domain.OfferState {
	switch raw {
	case rawStateAccepted:
		return domain.OfferStateAccepted
	case rawStateCountered:
		return domain.OfferStateCountered
	case rawStateDeclined:
		return domain.OfferStateDeclined
	case rawStateExpired, rawStateCanceled, rawStateCanceledBySecondFactor:
		return domain.OfferStateCanceled
	case rawStateInvalid, rawStateInvalidItems:
		return domain.OfferStateInvalidItems
	default:
		return domain.OfferStateActive
	}
}

type Offer struct {
	ID          string
	State       domain.OfferState
	RawState    int
	IsOurOffer  bool
	UpdatedAt   time.Time
	ItemsToGive int
}

type offerPayload struct {
	ID          string     `json:"tradeofferid"`
	State       int        `json:"trade_offer_state"`
	IsOurOffer  bool       `json:"is_our_offer"`
	TimeUpdated int64      `json:"time_updated"`
	ItemsToGive []struct{} `json:"items_to_give"`
}

func (p offerPayload) toOffer() Offer {
	return Offer{
		ID:          p.ID,
		State:       MapOfferState(p.State),
		RawState:    p.State,
		IsOurOffer:  p.IsOurOffer,
		UpdatedAt:   time.Unix(p.TimeUpdated, 0).UTC(),
		ItemsToGive: len(p.ItemsToGive),
	}
}

type NewOffer struct {
	TradeURL       string
	ItemsToReceive []domain.AssetRef
	Message        string
}

// SendOffer creates and sends an outbound trade offer and returns its id.
func (c *Client) SendOffer(ctx context.Context, cookies []*http.Cookie, offer NewOffer) (string, error) {
	body := map[string]interface{}{
		"trade_url":        offer.TradeURL,
		"items_to_receive": offer.ItemsToReceive,
		"items_to_give":    []domain.AssetRef{},
		"message":          offer.Message,
	}
	var resp struct {
		TradeOfferID string `json:"tradeofferid"`
	}
	if err := c.postJSON(ctx, c.baseURL+"/tradeoffer/new", cookies, body, &resp); err != nil {
		return "", err
	}
	if resp.TradeOfferID == "" {
		return "", fmt.Errorf("send offer response missing tradeofferid")
	}
	return resp.TradeOfferID, nil
}

func (c *Client) GetOffer(ctx context.Context, cookies []*http.Cookie, offerID string) (Offer, error) {
	var resp struct {
		Offer offerPayload `json:"offer"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/tradeoffers/"+url.PathEscape(offerID), cookies, &resp); err != nil {
		return Offer{}, err
	}
	return resp.Offer.toOffer(), nil
}

// ListSentOffers returns outbound offers updated at or after since.
func (c *Client) ListSentOffers(ctx context.Context, cookies []*http.Cookie, since time.Time) ([]Offer, error) {
	q := url.Values{}
	q.Set("get_sent_offers", "1")
	q.Set("time_historical_cutoff", strconv.FormatInt(since.Unix(), 10))
	return c.listOffers(ctx, cookies, q, "sent")
}

// ListReceivedOffers returns active inbound offers.
func (c *Client) ListReceivedOffers(ctx context.Context, cookies []*http.Cookie) ([]Offer, error) {
	q := url.Values{}
	q.Set("get_received_offers", "1")
	q.Set("active_only", "1")
	return c.listOffers(ctx, cookies, q, "received")
}

func (c *Client) listOffers(ctx context.Context, cookies []*http.Cookie, q url.Values, key string) ([]Offer, error) {
	var resp struct {
		Sent     []offerPayload `json:"trade_offers_sent"`
		Received []offerPayload `json:"trade_offers_received"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/tradeoffers?"+q.Encode(), cookies, &resp); err != nil {
		return nil, err
	}
	payloads := resp.Sent
	if key == "received" {
		payloads = resp.Received
	}
	out := make([]Offer, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, p.toOffer())
	}
	return out, nil
}

// ReceivedItems returns the items the bot obtained from an accepted offer.
func (c *Client) ReceivedItems(ctx context.Context, cookies []*http.Cookie, offerID string) ([]domain.ReceivedItem, error) {
	var resp struct {
		Items []domain.ReceivedItem `json:"items"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/tradeoffers/"+url.PathEscape(offerID)+"/receipt", cookies, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) CancelOffer(ctx context.Context, cookies []*http.Cookie, offerID string) error {
	return c.postJSON(ctx, c.baseURL+"/tradeoffers/"+url.PathEscape(offerID)+"/cancel", cookies, nil, nil)
}

func (c *Client) DeclineOffer(ctx context.Context, cookies []*http.Cookie, offerID string) error {
	return c.postJSON(ctx, c.baseURL+"/tradeoffers/"+url.PathEscape(offerID)+"/decline", cookies, nil, nil)
}

// Inspect resolves an item's inspect link into wear, pattern and sticker data.
func (c *Client) Inspect(ctx context.Context, inspectLink string) (domain.InspectPayload, error) {
	if inspectLink == "" {
		return domain.InspectPayload{}, fmt.Errorf("item has no inspect link")
	}
	var resp struct {
		ItemInfo struct {
			FloatValue float64 `json:"floatvalue"`
			PaintSeed  int     `json:"paintseed"`
			PaintIndex int     `json:"paintindex"`
			ImageURL   string  `json:"imageurl"`
			Stickers   []struct {
				Slot int     `json:"slot"`
				Name string  `json:"name"`
				Wear float64 `json:"wear"`
			} `json:"stickers"`
		} `json:"iteminfo"`
	}
	u := c.inspectBaseURL + "/?url=" + url.QueryEscape(inspectLink)
	if err := c.getJSON(ctx, u, nil, &resp); err != nil {
		return domain.InspectPayload{}, err
	}
	info := resp.ItemInfo
	payload := domain.InspectPayload{
		FloatValue: info.FloatValue,
		PaintSeed:  info.PaintSeed,
		PaintIndex: info.PaintIndex,
		ImageURL:   info.ImageURL,
	}
	for _, s := range info.Stickers {
		payload.Stickers = append(payload.Stickers, domain.Sticker{Slot: s.Slot, Name: s.Name, Wear: s.Wear})
	}
	return payload, nil
}
