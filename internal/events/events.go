package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuctionEvent is the envelope for every event the engine emits. Data holds
// the type-specific payload; the envelope is immutable once built.
type AuctionEvent struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType represents the type of auction event
type EventType string

const (
	EventTypeLotOpened       EventType = "LotOpened"
	EventTypeBidPlaced       EventType = "BidPlaced"
	EventTypeLotResolved     EventType = "LotResolved"
	EventTypeBidderBalance   EventType = "BidderBalance"
	EventTypeEventError      EventType = "EventError"
	EventTypeAuctionSnapshot EventType = "AuctionSnapshot"
)

// New builds an envelope around a typed payload.
func New(eventType EventType, at time.Time, payload interface{}) (*AuctionEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &AuctionEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: at,
		Data:      data,
	}, nil
}

// ParsePayload parses event data into the appropriate payload struct
func ParsePayload(event *AuctionEvent) (interface{}, error) {
	switch event.Type {
	case EventTypeLotOpened:
		var payload LotOpenedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeBidPlaced:
		var payload BidPlacedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeLotResolved:
		var payload LotResolvedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeBidderBalance:
		var payload BidderBalancePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeEventError:
		var payload EventErrorPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeAuctionSnapshot:
		var payload AuctionSnapshotPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
