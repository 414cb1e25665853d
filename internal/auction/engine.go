package auction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/tarunjayantvm/cricket-auction/internal/events"
)

// EventSink receives events emitted by the engine. Publish fans an event out
// to subscribers (role partitioning is the sink's concern); PublishTo targets
// a single handle, used for private balances and command rejections.
// Implementations must not block: the engine calls both while holding its
// lock, so a sink that does I/O has to hand off to its own goroutine.
type EventSink interface {
	Publish(ev *events.AuctionEvent)
	PublishTo(handle string, ev *events.AuctionEvent)
}

// Defaults matching the original event's rules.
const (
	DefaultBidWindow       = 20 * time.Second
	DefaultBasePrice       = 25
	DefaultStartingCapital = 1000
)

// Config holds the auction-wide rules.
type Config struct {
	// BidWindow is the countdown armed on open and reset on every accepted
	// bid (soft close).
	BidWindow time.Duration
	// BasePrice is the opening high bid for lots without their own.
	BasePrice int64
	// StartingCapital is granted to bidders that register without one.
	StartingCapital int64
}

func (c Config) withDefaults() Config {
	if c.BidWindow <= 0 {
		c.BidWindow = DefaultBidWindow
	}
	if c.BasePrice <= 0 {
		c.BasePrice = DefaultBasePrice
	}
	if c.StartingCapital <= 0 {
		c.StartingCapital = DefaultStartingCapital
	}
	return c
}

// Engine is the auction state machine. It owns the ledger, the lot pool and
// the current lot, and serializes every command behind one mutex so the
// read-validate-mutate sequence of a bid can never interleave with another
// bid or with resolution. Deadline expiry goes through the same lock: the
// scheduler loop in Run only proposes expiry, expireDue decides under the
// lock whether it still applies.
type Engine struct {
	cfg    Config
	clock  clockwork.Clock
	ledger *LedgerStore
	queue  *LotQueue
	sinks  []EventSink

	mu         sync.Mutex
	phase      Phase
	current    *Lot
	highBid    int64
	highBidder string
	deadline   time.Time
	sold       []*Lot
	unsold     []*Lot
	// faulted holds lots whose outcome became indeterminate after a ledger
	// invariant break; they need operator intervention.
	faulted []*Lot

	// wakeCh nudges the scheduler loop whenever the deadline moves.
	wakeCh chan struct{}
}

// NewEngine creates an engine around the given collaborators. Pass
// clockwork.NewRealClock() in production and a fake clock in tests.
func NewEngine(cfg Config, ledger *LedgerStore, queue *LotQueue, clock clockwork.Clock, sinks ...EventSink) *Engine {
	return &Engine{
		cfg:    cfg.withDefaults(),
		clock:  clock,
		ledger: ledger,
		queue:  queue,
		sinks:  sinks,
		phase:  PhaseIdle,
		wakeCh: make(chan struct{}, 1),
	}
}

// RegisterBidder creates a bidder with the given starting capital, or the
// configured default when capital is zero.
func (e *Engine) RegisterBidder(handle, displayName string, startingCapital int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if handle == "" {
		return fmt.Errorf("register bidder: handle is required")
	}
	if displayName == "" {
		displayName = handle
	}
	if startingCapital <= 0 {
		startingCapital = e.cfg.StartingCapital
	}
	if err := e.ledger.Register(handle, displayName, startingCapital); err != nil {
		e.emitErrorLocked(handle, err)
		return err
	}
	e.emitBalanceLocked(handle)
	return nil
}

// RegisterLot adds a lot to the pending pool and returns it.
func (e *Engine) RegisterLot(req RegisterLotRequest) (*Lot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.Name == "" {
		return nil, fmt.Errorf("register lot: name is required")
	}
	lot := &Lot{
		ID:        uuid.New(),
		Name:      req.Name,
		Role:      req.Role,
		Stats:     req.Stats,
		ImageRef:  req.ImageRef,
		BasePrice: req.BasePrice,
		Status:    LotStatusPending,
	}
	e.queue.Add(lot)
	log.Info().Str("lot", lot.Name).Str("lot_id", lot.ID.String()).Msg("lot registered")
	return lot, nil
}

// OpenLot draws a random lot from the pool and puts it on the block. Valid
// only while Idle.
func (e *Engine) OpenLot() (*Lot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseIdle {
		return nil, fmt.Errorf("open lot in phase %s: %w", e.phase, ErrAuctionInProgress)
	}
	lot := e.queue.Draw()
	if lot == nil {
		return nil, ErrNoLotsRemaining
	}
	base := lot.BasePrice
	if base <= 0 {
		base = e.cfg.BasePrice
	}
	lot.Status = LotStatusActive
	e.current = lot
	e.highBid = base
	e.highBidder = ""
	e.deadline = e.clock.Now().Add(e.cfg.BidWindow)
	e.phase = PhaseOpen
	e.nudge()

	log.Info().
		Str("lot", lot.Name).
		Int64("base_price", base).
		Time("deadline", e.deadline).
		Msg("lot opened")

	e.emitLocked(events.EventTypeLotOpened, events.LotOpenedPayload{
		Lot:        lot.Summary(),
		BasePrice:  base,
		Deadline:   e.deadline,
		Commentary: fmt.Sprintf("Auction started for %s with base price %d lakhs.", lot.Name, base),
	})
	return lot, nil
}

// PlaceBid validates and applies a bid from the given bidder. On acceptance
// the previous high bidder is refunded in full before the new bid is locked,
// so at most one bidder holds escrow at any instant, and the deadline resets
// to now + BidWindow.
func (e *Engine) PlaceBid(handle string, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.validateBidLocked(handle, amount); err != nil {
		e.emitErrorLocked(handle, err)
		return err
	}

	prev := e.highBidder
	if prev != "" && prev != handle {
		if err := e.ledger.ReleaseEscrow(prev); err != nil {
			e.emitLocked(events.EventTypeEventError, e.errorPayloadLocked(err))
			return fmt.Errorf("refund outbid bidder %q: %w", prev, err)
		}
	}
	if err := e.ledger.PlaceBid(handle, amount); err != nil {
		// Validation already passed, so this is an invariant problem.
		e.emitLocked(events.EventTypeEventError, e.errorPayloadLocked(err))
		return err
	}

	e.highBid = amount
	e.highBidder = handle
	e.deadline = e.clock.Now().Add(e.cfg.BidWindow)
	e.nudge()

	log.Info().
		Str("bidder", handle).
		Int64("amount", amount).
		Time("deadline", e.deadline).
		Msg("bid accepted")

	e.emitLocked(events.EventTypeBidPlaced, events.BidPlacedPayload{
		Bidder:     handle,
		Amount:     amount,
		Deadline:   e.deadline,
		Commentary: fmt.Sprintf("New bid! %s bids %d lakhs.", handle, amount),
	})
	e.emitBalanceLocked(handle)
	if prev != "" && prev != handle {
		e.emitBalanceLocked(prev)
	}
	return nil
}

func (e *Engine) validateBidLocked(handle string, amount int64) error {
	if e.phase != PhaseOpen {
		return fmt.Errorf("no lot on the block: %w", ErrAuctionClosed)
	}
	if !e.clock.Now().Before(e.deadline) {
		// The timer has logically fired even if resolution has not been
		// applied yet; the late bid must lose that race.
		return fmt.Errorf("bid after deadline: %w", ErrAuctionClosed)
	}
	if amount <= e.highBid {
		return fmt.Errorf("bid %d against high bid %d: %w", amount, e.highBid, ErrBidTooLow)
	}
	available, err := e.ledger.Available(handle)
	if err != nil {
		return err
	}
	if amount > available {
		return fmt.Errorf("bid %d with %d available: %w", amount, available, ErrInsufficientFunds)
	}
	return nil
}

// ForceResolve applies an explicit admin outcome to the current lot,
// cancelling the pending deadline as part of the same transition.
func (e *Engine) ForceResolve(outcome Outcome) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseOpen {
		return fmt.Errorf("force resolve in phase %s: %w", e.phase, ErrAuctionClosed)
	}
	if outcome == OutcomeSold && e.highBidder == "" {
		return ErrNoBids
	}
	return e.resolveLocked(outcome)
}

// Run drives deadline expiry. It sleeps until the current deadline, wakes
// early whenever a command moves it, and proposes expiry to expireDue, which
// re-checks everything under the engine lock. Stale timer fires are no-ops.
func (e *Engine) Run(ctx context.Context) error {
	log.Info().Msg("auction scheduler started")
	timer := e.clock.NewTimer(0)
	defer timer.Stop()

	for {
		e.mu.Lock()
		armed := e.phase == PhaseOpen
		var wait time.Duration
		if armed {
			wait = e.deadline.Sub(e.clock.Now())
		}
		e.mu.Unlock()

		if !armed {
			select {
			case <-ctx.Done():
				log.Info().Msg("auction scheduler stopped")
				return nil
			case <-e.wakeCh:
				continue
			}
		}
		if wait <= 0 {
			e.expireDue()
			continue
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			log.Info().Msg("auction scheduler stopped")
			return nil
		case <-e.wakeCh:
			// Deadline moved; recompute the wait.
		case <-timer.Chan():
			e.expireDue()
		}
	}
}

// expireDue applies deadline expiry if, under the lock, the lot is still open
// and the deadline has really passed. Phase is the per-lot resolution guard:
// once a resolution commits the phase leaves Open, so a duplicate fire or a
// concurrent force-resolve cannot apply twice.
func (e *Engine) expireDue() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseOpen {
		return
	}
	if e.clock.Now().Before(e.deadline) {
		return
	}
	outcome := OutcomeUnsold
	if e.highBidder != "" {
		outcome = OutcomeSold
	}
	if err := e.resolveLocked(outcome); err != nil {
		log.Error().Err(err).Msg("deadline resolution failed")
	}
}

func (e *Engine) resolveLocked(outcome Outcome) error {
	e.phase = PhaseResolving
	lot := e.current
	winner := e.highBidder
	price := e.highBid

	var resolveErr error
	switch outcome {
	case OutcomeSold:
		if err := e.ledger.SettleWin(winner, price, lot.ID, lot.Name); err != nil {
			// Indeterminate outcome: the ledger entry is frozen, the lot
			// goes to the faulted list and the admins get the alert.
			e.faulted = append(e.faulted, lot)
			log.Error().Err(err).Str("lot", lot.Name).Str("bidder", winner).
				Msg("settlement broke a ledger invariant; lot outcome indeterminate")
			e.emitLocked(events.EventTypeEventError, e.errorPayloadLocked(err))
			resolveErr = err
		} else {
			lot.Status = LotStatusSold
			lot.Winner = winner
			lot.SoldPrice = price
			e.sold = append(e.sold, lot)
			log.Info().Str("lot", lot.Name).Str("winner", winner).Int64("price", price).Msg("lot sold")
			e.emitLocked(events.EventTypeLotResolved, events.LotResolvedPayload{
				Lot:        lot.Summary(),
				Outcome:    string(OutcomeSold),
				Winner:     winner,
				Price:      price,
				Commentary: fmt.Sprintf("Sold! %s goes to %s for %d lakhs.", lot.Name, winner, price),
			})
			e.emitBalanceLocked(winner)
		}

	case OutcomeUnsold:
		// A forced unsold can leave the high bidder in escrow; refund them.
		if winner != "" {
			if err := e.ledger.ReleaseEscrow(winner); err != nil {
				log.Error().Err(err).Str("bidder", winner).Msg("refund on unsold lot failed")
				e.emitLocked(events.EventTypeEventError, e.errorPayloadLocked(err))
				resolveErr = err
			} else {
				e.emitBalanceLocked(winner)
			}
		}
		lot.Status = LotStatusUnsold
		e.unsold = append(e.unsold, lot)
		log.Info().Str("lot", lot.Name).Msg("lot unsold")
		e.emitLocked(events.EventTypeLotResolved, events.LotResolvedPayload{
			Lot:        lot.Summary(),
			Outcome:    string(OutcomeUnsold),
			Commentary: fmt.Sprintf("%s remains unsold.", lot.Name),
		})
	}

	e.current = nil
	e.highBid = 0
	e.highBidder = ""
	e.deadline = time.Time{}
	e.phase = PhaseIdle
	e.nudge()

	e.emitLocked(events.EventTypeAuctionSnapshot, e.snapshotLocked())
	return resolveErr
}

// Snapshot returns the full-detail view of the running event.
func (e *Engine) Snapshot() events.AuctionSnapshotPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() events.AuctionSnapshotPayload {
	snap := events.AuctionSnapshotPayload{
		Phase:      string(e.phase),
		HighBid:    e.highBid,
		HighBidder: e.highBidder,
		Pending:    e.queue.Len(),
		Sold:       make([]events.SoldLotSummary, 0, len(e.sold)),
		Unsold:     make([]events.LotSummary, 0, len(e.unsold)),
		Bidders:    e.ledger.Balances(),
	}
	if e.current != nil {
		summary := e.current.Summary()
		snap.CurrentLot = &summary
	}
	if !e.deadline.IsZero() {
		deadline := e.deadline
		snap.Deadline = &deadline
	}
	for _, lot := range e.sold {
		snap.Sold = append(snap.Sold, events.SoldLotSummary{
			LotSummary: lot.Summary(),
			Winner:     lot.Winner,
			Price:      lot.SoldPrice,
		})
	}
	for _, lot := range e.unsold {
		snap.Unsold = append(snap.Unsold, lot.Summary())
	}
	return snap
}

func (e *Engine) nudge() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

func (e *Engine) emitLocked(eventType events.EventType, payload interface{}) {
	ev, err := events.New(eventType, e.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to build event")
		return
	}
	for _, sink := range e.sinks {
		sink.Publish(ev)
	}
}

func (e *Engine) emitToLocked(handle string, eventType events.EventType, payload interface{}) {
	ev, err := events.New(eventType, e.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to build event")
		return
	}
	for _, sink := range e.sinks {
		sink.PublishTo(handle, ev)
	}
}

func (e *Engine) emitBalanceLocked(handle string) {
	balance, err := e.ledger.Balance(handle)
	if err != nil {
		log.Error().Err(err).Str("bidder", handle).Msg("failed to read balance for event")
		return
	}
	e.emitToLocked(handle, events.EventTypeBidderBalance, balance)
}

func (e *Engine) emitErrorLocked(handle string, cmdErr error) {
	e.emitToLocked(handle, events.EventTypeEventError, e.errorPayloadLocked(cmdErr))
}

func (e *Engine) errorPayloadLocked(cmdErr error) events.EventErrorPayload {
	payload := events.EventErrorPayload{
		Code:    ErrorCode(cmdErr),
		Message: cmdErr.Error(),
		HighBid: e.highBid,
	}
	if !e.deadline.IsZero() {
		deadline := e.deadline
		payload.Deadline = &deadline
	}
	return payload
}
