package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SellStatus string

const (
	SellStatusPending   SellStatus = "pending"
	SellStatusOfferSent SellStatus = "offer_sent"
	SellStatusAccepted  SellStatus = "accepted"
	SellStatusFailed    SellStatus = "failed"
	SellStatusListed    SellStatus = "listed"
)

// Terminal reports whether no further transition is allowed from s.
func (s SellStatus) Terminal() bool {
	return s == SellStatusFailed || s == SellStatusListed
}

var sellTransitions = map[SellStatus][]SellStatus{
	SellStatusPending:   {SellStatusOfferSent, SellStatusFailed},
	SellStatusOfferSent: {SellStatusAccepted, SellStatusFailed},
	SellStatusAccepted:  {SellStatusListed},
}

// CanTransition reports whether from -> to is an edge of the sell request
// state machine. Deletion of abandoned offer_sent rows is not a transition.
func CanTransition(from, to SellStatus) bool {
	for _, next := range sellTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type OfferState string

const (
	OfferStateActive       OfferState = "active"
	OfferStateAccepted     OfferState = "accepted"
	OfferStateDeclined     OfferState = "declined"
	OfferStateCanceled     OfferState = "canceled"
	OfferStateCountered    OfferState = "countered"
	OfferStateInvalidItems OfferState = "invalid-items"
)

type SellRequest struct {
	ID           string          `json:"request_id"`
	UserID       string          `json:"user_id"`
	BotID        string          `json:"bot_id"`
	AssetID      string          `json:"asset_id"`
	ItemName     string          `json:"item_name"`
	Price        decimal.Decimal `json:"price"`
	TradeOfferID string          `json:"trade_offer_id,omitempty"`
	Status       SellStatus      `json:"status"`
	ListingID    string          `json:"listing_id,omitempty"`
	Note         string          `json:"-"`
	Item         *ItemDetails    `json:"-"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type AssetRef struct {
	AppID     int    `json:"appid"`
	ContextID string `json:"contextid"`
	AssetID   string `json:"assetid"`
}

type Sticker struct {
	Slot int     `json:"slot"`
	Name string  `json:"name"`
	Wear float64 `json:"wear,omitempty"`
}

// InspectPayload is the per-item wear/pattern data fetched via the item's
// inspect link.
type InspectPayload struct {
	FloatValue float64   `json:"float_value"`
	PaintSeed  int       `json:"paint_seed"`
	PaintIndex int       `json:"paint_index"`
	Stickers   []Sticker `json:"stickers,omitempty"`
	ImageURL   string    `json:"image_url,omitempty"`
}

type ReceivedItem struct {
	AssetID     string          `json:"assetid"`
	Name        string          `json:"market_hash_name"`
	InspectLink string          `json:"inspect_link,omitempty"`
	IconURL     string          `json:"icon_url,omitempty"`
	Inspect     *InspectPayload `json:"inspect,omitempty"`
}

// ItemDetails is the verified, enriched item recorded when a request is
// accepted and later copied into its listing.
type ItemDetails struct {
	AssetID     string         `json:"asset_id"`
	DisplayName string         `json:"display_name"`
	IconURL     string         `json:"icon_url,omitempty"`
	Inspect     InspectPayload `json:"inspect"`
}

type Listing struct {
	ID        string          `json:"listing_id,omitempty"`
	RequestID string          `json:"request_id"`
	SellerID  string          `json:"seller_id"`
	BotID     string          `json:"bot_id"`
	Price     decimal.Decimal `json:"price"`
	Item      ItemDetails     `json:"item"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// OfferEvent is one observed change of an outbound offer's external state.
type OfferEvent struct {
	BotID      string     `json:"bot_id"`
	OfferID    string     `json:"offer_id"`
	State      OfferState `json:"state"`
	ObservedAt time.Time  `json:"observed_at"`
}

type BotIdentity struct {
	ID             string `json:"id"`
	AccountName    string `json:"account_name"`
	Password       string `json:"password"`
	SharedSecret   string `json:"shared_secret"`
	IdentitySecret string `json:"identity_secret,omitempty"`
}

type SessionState string

const (
	SessionDisconnected   SessionState = "disconnected"
	SessionAuthenticating SessionState = "authenticating"
	SessionLive           SessionState = "live"
	SessionCooldown       SessionState = "cooldown"
	SessionDisabled       SessionState = "disabled"
)

type BotStatus struct {
	BotID         string       `json:"bot_id"`
	State         SessionState `json:"state"`
	CooldownUntil *time.Time   `json:"cooldown_until,omitempty"`
	LiveSince     *time.Time   `json:"live_since,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
}
