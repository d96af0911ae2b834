// Package verify decides whether the items received through an accepted offer
// are the item a sell request asked for.
package verify

import (
	"strings"

	"fenixbot/internal/domain"
)

type Decision struct {
	Allowed    bool
	DenyReason string
	Item       domain.ItemDetails
}

type Matcher struct{}

func NewMatcher() *Matcher {
	return &Matcher{}
}

// Evaluate looks for a received item whose asset id and display name both
// equal the request's recorded values. Position in the receipt is ignored and
// neither field alone is enough.
func (m *Matcher) Evaluate(req domain.SellRequest, received []domain.ReceivedItem) Decision {
	if strings.TrimSpace(req.AssetID) == "" {
		return Decision{DenyReason: "asset_id_missing"}
	}
	if strings.TrimSpace(req.ItemName) == "" {
		return Decision{DenyReason: "item_name_missing"}
	}
	if len(received) == 0 {
		return Decision{DenyReason: "no_items_received"}
	}
	for _, item := range received {
		if item.AssetID != req.AssetID || item.Name != req.ItemName {
			continue
		}
		if item.Inspect == nil {
			return Decision{DenyReason: "inspect_missing"}
		}
		return Decision{
			Allowed: true,
			Item: domain.ItemDetails{
				AssetID:     item.AssetID,
				DisplayName: item.Name,
				IconURL:     item.IconURL,
				Inspect:     *item.Inspect,
			},
		}
	}
	return Decision{DenyReason: "items_mismatch"}
}
