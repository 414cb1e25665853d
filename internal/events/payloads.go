package events

import (
	"time"
)

// Event payload types that are shared between the auction engine, the
// broadcast hub and the NATS relay.

// LotSummary is the client-visible view of a lot.
type LotSummary struct {
	LotID    string            `json:"lot_id"`
	Name     string            `json:"name"`
	Role     string            `json:"role"`
	Stats    map[string]string `json:"stats,omitempty"`
	ImageRef string            `json:"image_ref,omitempty"`
}

// SoldLotSummary is a terminal sold lot with its winner and price.
type SoldLotSummary struct {
	LotSummary
	Winner string `json:"winner"`
	Price  int64  `json:"price"`
}

// WonLotSummary is one entry of a bidder's win history.
type WonLotSummary struct {
	LotID string `json:"lot_id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// LotOpenedPayload is the payload for a LotOpened event
type LotOpenedPayload struct {
	Lot        LotSummary `json:"lot"`
	BasePrice  int64      `json:"base_price"`
	Deadline   time.Time  `json:"deadline"`
	Commentary string     `json:"commentary,omitempty"`
}

// BidPlacedPayload is the payload for a BidPlaced event
type BidPlacedPayload struct {
	Bidder     string    `json:"bidder"`
	Amount     int64     `json:"amount"`
	Deadline   time.Time `json:"deadline"`
	Commentary string    `json:"commentary,omitempty"`
}

// LotResolvedPayload is the payload for a LotResolved event
type LotResolvedPayload struct {
	Lot        LotSummary `json:"lot"`
	Outcome    string     `json:"outcome"` // "sold" or "unsold"
	Winner     string     `json:"winner,omitempty"`
	Price      int64      `json:"price,omitempty"`
	Commentary string     `json:"commentary,omitempty"`
}

// BidderBalancePayload is the private balance view pushed to a single bidder
// after any transition that touched their ledger entry.
type BidderBalancePayload struct {
	Handle      string          `json:"handle"`
	DisplayName string          `json:"display_name"`
	Capital     int64           `json:"capital"`
	Escrow      int64           `json:"escrow"`
	WonLots     []WonLotSummary `json:"won_lots,omitempty"`
}

// EventErrorPayload echoes a command rejection back to the originating
// caller, with enough authoritative state to let the client resync.
type EventErrorPayload struct {
	Code     string     `json:"code"`
	Message  string     `json:"message"`
	HighBid  int64      `json:"high_bid"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

// AuctionSnapshotPayload is the full-detail admin view of the running event.
type AuctionSnapshotPayload struct {
	Phase      string                 `json:"phase"`
	CurrentLot *LotSummary            `json:"current_lot,omitempty"`
	HighBid    int64                  `json:"high_bid"`
	HighBidder string                 `json:"high_bidder,omitempty"`
	Deadline   *time.Time             `json:"deadline,omitempty"`
	Pending    int                    `json:"pending"`
	Sold       []SoldLotSummary       `json:"sold_lots"`
	Unsold     []LotSummary           `json:"unsold_lots"`
	Bidders    []BidderBalancePayload `json:"bidders"`
}
