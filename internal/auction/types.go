package auction

import (
	"github.com/google/uuid"

	"github.com/tarunjayantvm/cricket-auction/internal/events"
)

// LotStatus is the lifecycle state of a lot. Transitions happen only inside
// the engine; once sold or unsold a lot is immutable.
type LotStatus string

const (
	LotStatusPending LotStatus = "pending"
	LotStatusActive  LotStatus = "active"
	LotStatusSold    LotStatus = "sold"
	LotStatusUnsold  LotStatus = "unsold"
)

// Lot is one item on the block: a player with descriptive stats.
type Lot struct {
	ID        uuid.UUID
	Name      string
	Role      string
	Stats     map[string]string
	ImageRef  string
	BasePrice int64
	Status    LotStatus

	// Set at resolution, only for sold lots.
	Winner    string
	SoldPrice int64
}

// Summary converts the lot to its client-visible projection.
func (l *Lot) Summary() events.LotSummary {
	return events.LotSummary{
		LotID:    l.ID.String(),
		Name:     l.Name,
		Role:     l.Role,
		Stats:    l.Stats,
		ImageRef: l.ImageRef,
	}
}

// RegisterLotRequest carries the fields of the admin add-player form.
// BasePrice 0 means "use the engine default".
type RegisterLotRequest struct {
	Name      string            `json:"name"`
	Role      string            `json:"role"`
	Stats     map[string]string `json:"stats,omitempty"`
	ImageRef  string            `json:"image_ref,omitempty"`
	BasePrice int64             `json:"base_price,omitempty"`
}

// Phase is the engine's auction phase.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseOpen      Phase = "open"
	PhaseResolving Phase = "resolving"
)

// Outcome is the terminal decision for a lot.
type Outcome string

const (
	OutcomeSold   Outcome = "sold"
	OutcomeUnsold Outcome = "unsold"
)
