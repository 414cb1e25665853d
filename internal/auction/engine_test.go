package auction

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarunjayantvm/cricket-auction/internal/events"
)

// recordingSink captures emitted events for assertions.
type recordingSink struct {
	mu        sync.Mutex
	broadcast []*events.AuctionEvent
	private   map[string][]*events.AuctionEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{private: make(map[string][]*events.AuctionEvent)}
}

func (s *recordingSink) Publish(ev *events.AuctionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcast = append(s.broadcast, ev)
}

func (s *recordingSink) PublishTo(handle string, ev *events.AuctionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.private[handle] = append(s.private[handle], ev)
}

func (s *recordingSink) broadcastTypes() []events.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]events.EventType, 0, len(s.broadcast))
	for _, ev := range s.broadcast {
		types = append(types, ev.Type)
	}
	return types
}

func (s *recordingSink) privateTypes(handle string) []events.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]events.EventType, 0, len(s.private[handle]))
	for _, ev := range s.private[handle] {
		types = append(types, ev.Type)
	}
	return types
}

func newTestEngine(t *testing.T) (*Engine, *clockwork.FakeClock, *recordingSink) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	sink := newRecordingSink()
	engine := NewEngine(Config{}, NewLedgerStore(), NewLotQueue(rand.New(rand.NewSource(7))), clock, sink)
	return engine, clock, sink
}

func mustBalance(t *testing.T, engine *Engine, handle string) events.BidderBalancePayload {
	t.Helper()
	for _, b := range engine.Snapshot().Bidders {
		if b.Handle == handle {
			return b
		}
	}
	t.Fatalf("no balance for %s", handle)
	return events.BidderBalancePayload{}
}

func TestOpenLotEmptyPool(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.OpenLot()
	require.ErrorIs(t, err, ErrNoLotsRemaining)
	assert.Equal(t, string(PhaseIdle), engine.Snapshot().Phase)
}

func TestOpenLotArmsDeadline(t *testing.T) {
	engine, clock, sink := newTestEngine(t)
	_, err := engine.RegisterLot(RegisterLotRequest{Name: "Rohit", Role: "Batsman"})
	require.NoError(t, err)

	lot, err := engine.OpenLot()
	require.NoError(t, err)
	assert.Equal(t, LotStatusActive, lot.Status)

	snap := engine.Snapshot()
	assert.Equal(t, string(PhaseOpen), snap.Phase)
	assert.Equal(t, int64(DefaultBasePrice), snap.HighBid)
	assert.Empty(t, snap.HighBidder)
	require.NotNil(t, snap.Deadline)
	assert.Equal(t, clock.Now().Add(DefaultBidWindow), *snap.Deadline)

	require.Equal(t, []events.EventType{events.EventTypeLotOpened}, sink.broadcastTypes())

	// Only one lot on the block at a time.
	_, err = engine.OpenLot()
	require.ErrorIs(t, err, ErrAuctionInProgress)
}

func TestOpenLotBasePriceOverride(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.RegisterLot(RegisterLotRequest{Name: "Virat", BasePrice: 200})
	require.NoError(t, err)

	_, err = engine.OpenLot()
	require.NoError(t, err)
	assert.Equal(t, int64(200), engine.Snapshot().HighBid)
}

// The walk-through scenario: A bids 50, B's 40 is too low, B's 80 refunds A,
// the deadline expires and B wins at 80.
func TestOutbidRefundScenario(t *testing.T) {
	engine, clock, sink := newTestEngine(t)
	require.NoError(t, engine.RegisterBidder("a", "A", 1000))
	require.NoError(t, engine.RegisterBidder("b", "B", 1000))
	_, err := engine.RegisterLot(RegisterLotRequest{Name: "Rohit", Role: "Batsman"})
	require.NoError(t, err)

	lot, err := engine.OpenLot()
	require.NoError(t, err)

	require.NoError(t, engine.PlaceBid("a", 50))
	a := mustBalance(t, engine, "a")
	assert.Equal(t, int64(950), a.Capital)
	assert.Equal(t, int64(50), a.Escrow)

	require.ErrorIs(t, engine.PlaceBid("b", 40), ErrBidTooLow)
	b := mustBalance(t, engine, "b")
	assert.Equal(t, int64(1000), b.Capital)

	require.NoError(t, engine.PlaceBid("b", 80))
	a = mustBalance(t, engine, "a")
	assert.Equal(t, int64(1000), a.Capital)
	assert.Equal(t, int64(0), a.Escrow)
	b = mustBalance(t, engine, "b")
	assert.Equal(t, int64(920), b.Capital)
	assert.Equal(t, int64(80), b.Escrow)

	clock.Advance(DefaultBidWindow + time.Second)
	engine.expireDue()

	snap := engine.Snapshot()
	assert.Equal(t, string(PhaseIdle), snap.Phase)
	assert.Equal(t, int64(0), snap.HighBid)
	assert.Empty(t, snap.HighBidder)
	require.Len(t, snap.Sold, 1)
	assert.Equal(t, lot.ID.String(), snap.Sold[0].LotID)
	assert.Equal(t, "b", snap.Sold[0].Winner)
	assert.Equal(t, int64(80), snap.Sold[0].Price)

	b = mustBalance(t, engine, "b")
	assert.Equal(t, int64(920), b.Capital)
	assert.Equal(t, int64(0), b.Escrow)
	require.Len(t, b.WonLots, 1)
	assert.Equal(t, lot.ID.String(), b.WonLots[0].LotID)

	// Events committed in transition order; the rejected bid is private.
	assert.Equal(t, []events.EventType{
		events.EventTypeLotOpened,
		events.EventTypeBidPlaced,
		events.EventTypeBidPlaced,
		events.EventTypeLotResolved,
		events.EventTypeAuctionSnapshot,
	}, sink.broadcastTypes())
	assert.Contains(t, sink.privateTypes("b"), events.EventTypeEventError)
}

func TestBidEqualToAvailableAccepted(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	require.NoError(t, engine.RegisterBidder("a", "A", 100))
	_, err := engine.RegisterLot(RegisterLotRequest{Name: "Virat"})
	require.NoError(t, err)
	_, err = engine.OpenLot()
	require.NoError(t, err)

	// Boundary: equality with available funds is allowed.
	require.NoError(t, engine.PlaceBid("a", 100))
	require.ErrorIs(t, engine.PlaceBid("a", 101), ErrInsufficientFunds)
}

func TestBidAfterDeadlineRejected(t *testing.T) {
	engine, clock, _ := newTestEngine(t)
	require.NoError(t, engine.RegisterBidder("a", "A", 1000))
	_, err := engine.RegisterLot(RegisterLotRequest{Name: "Virat"})
	require.NoError(t, err)
	_, err = engine.OpenLot()
	require.NoError(t, err)

	// The deadline has passed but the timer has not fired yet: the late bid
	// must lose the race, and the pending expiry must still apply.
	clock.Advance(DefaultBidWindow + time.Millisecond)
	require.ErrorIs(t, engine.PlaceBid("a", 50), ErrAuctionClosed)

	engine.expireDue()
	snap := engine.Snapshot()
	assert.Equal(t, string(PhaseIdle), snap.Phase)
	require.Len(t, snap.Unsold, 1)

	a := mustBalance(t, engine, "a")
	assert.Equal(t, int64(1000), a.Capital)
	assert.Equal(t, int64(0), a.Escrow)
}

func TestSoftCloseExtendsDeadline(t *testing.T) {
	engine, clock, _ := newTestEngine(t)
	require.NoError(t, engine.RegisterBidder("a", "A", 1000))
	_, err := engine.RegisterLot(RegisterLotRequest{Name: "Virat"})
	require.NoError(t, err)
	_, err = engine.OpenLot()
	require.NoError(t, err)
	opened := clock.Now()

	clock.Advance(15 * time.Second)
	require.NoError(t, engine.PlaceBid("a", 50))

	snap := engine.Snapshot()
	require.NotNil(t, snap.Deadline)
	assert.Equal(t, clock.Now().Add(DefaultBidWindow), *snap.Deadline)

	// A stale fire at the original deadline is a no-op.
	clock.Advance(opened.Add(DefaultBidWindow).Sub(clock.Now()) + time.Second)
	engine.expireDue()
	assert.Equal(t, string(PhaseOpen), engine.Snapshot().Phase)

	clock.Advance(DefaultBidWindow)
	engine.expireDue()
	snap = engine.Snapshot()
	assert.Equal(t, string(PhaseIdle), snap.Phase)
	require.Len(t, snap.Sold, 1)
	assert.Equal(t, "a", snap.Sold[0].Winner)
}

func TestResolveExactlyOnce(t *testing.T) {
	engine, clock, sink := newTestEngine(t)
	_, err := engine.RegisterLot(RegisterLotRequest{Name: "Virat"})
	require.NoError(t, err)
	_, err = engine.OpenLot()
	require.NoError(t, err)

	require.NoError(t, engine.ForceResolve(OutcomeUnsold))
	require.ErrorIs(t, engine.ForceResolve(OutcomeUnsold), ErrAuctionClosed)

	// A deadline fire after the forced resolution is a no-op.
	clock.Advance(DefaultBidWindow + time.Second)
	engine.expireDue()

	snap := engine.Snapshot()
	require.Len(t, snap.Unsold, 1)
	assert.Empty(t, snap.Sold)

	resolved := 0
	for _, eventType := range sink.broadcastTypes() {
		if eventType == events.EventTypeLotResolved {
			resolved++
		}
	}
	assert.Equal(t, 1, resolved)
}

func TestForceResolveSoldRequiresBid(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.RegisterLot(RegisterLotRequest{Name: "Virat"})
	require.NoError(t, err)
	_, err = engine.OpenLot()
	require.NoError(t, err)

	require.ErrorIs(t, engine.ForceResolve(OutcomeSold), ErrNoBids)
	assert.Equal(t, string(PhaseOpen), engine.Snapshot().Phase)
}

func TestForceResolveUnsoldRefundsHighBidder(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	require.NoError(t, engine.RegisterBidder("a", "A", 1000))
	_, err := engine.RegisterLot(RegisterLotRequest{Name: "Virat"})
	require.NoError(t, err)
	_, err = engine.OpenLot()
	require.NoError(t, err)
	require.NoError(t, engine.PlaceBid("a", 300))

	require.NoError(t, engine.ForceResolve(OutcomeUnsold))

	a := mustBalance(t, engine, "a")
	assert.Equal(t, int64(1000), a.Capital)
	assert.Equal(t, int64(0), a.Escrow)
	assert.Empty(t, a.WonLots)
	require.Len(t, engine.Snapshot().Unsold, 1)
}

func TestUnsoldExpiryLeavesLedgerUntouched(t *testing.T) {
	engine, clock, _ := newTestEngine(t)
	require.NoError(t, engine.RegisterBidder("a", "A", 1000))
	_, err := engine.RegisterLot(RegisterLotRequest{Name: "Virat"})
	require.NoError(t, err)
	_, err = engine.OpenLot()
	require.NoError(t, err)

	clock.Advance(DefaultBidWindow + time.Second)
	engine.expireDue()

	snap := engine.Snapshot()
	assert.Equal(t, string(PhaseIdle), snap.Phase)
	assert.Equal(t, int64(0), snap.HighBid)
	require.Len(t, snap.Unsold, 1)

	a := mustBalance(t, engine, "a")
	assert.Equal(t, int64(1000), a.Capital)
	assert.Equal(t, int64(0), a.Escrow)
}

func TestRegisterBidderDefaults(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	require.NoError(t, engine.RegisterBidder("a", "", 0))

	a := mustBalance(t, engine, "a")
	assert.Equal(t, "a", a.DisplayName)
	assert.Equal(t, int64(DefaultStartingCapital), a.Capital)

	require.ErrorIs(t, engine.RegisterBidder("a", "A", 0), ErrDuplicateBidder)
}

func TestConcurrentBidsSerialize(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	require.NoError(t, engine.RegisterBidder("a", "A", 1000))
	require.NoError(t, engine.RegisterBidder("b", "B", 1000))
	_, err := engine.RegisterLot(RegisterLotRequest{Name: "Virat"})
	require.NoError(t, err)
	_, err = engine.OpenLot()
	require.NoError(t, err)

	// Whichever order the commands serialize in, 70 ends up the high bid
	// and exactly one bidder holds escrow.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = engine.PlaceBid("a", 60)
	}()
	go func() {
		defer wg.Done()
		_ = engine.PlaceBid("b", 70)
	}()
	wg.Wait()

	snap := engine.Snapshot()
	assert.Equal(t, int64(70), snap.HighBid)
	assert.Equal(t, "b", snap.HighBidder)

	a := mustBalance(t, engine, "a")
	b := mustBalance(t, engine, "b")
	assert.Equal(t, int64(0), a.Escrow)
	assert.Equal(t, int64(1000), a.Capital)
	assert.Equal(t, int64(70), b.Escrow)
	assert.Equal(t, int64(930), b.Capital)
}

// Funds are never created: for every bidder, capital + escrow + the cost of
// won lots always equals the starting capital.
func TestFundsConservation(t *testing.T) {
	engine, clock, _ := newTestEngine(t)
	bidders := []string{"a", "b", "c"}
	for _, handle := range bidders {
		require.NoError(t, engine.RegisterBidder(handle, handle, 1000))
	}
	for _, name := range []string{"Rohit", "Virat", "Bumrah"} {
		_, err := engine.RegisterLot(RegisterLotRequest{Name: name})
		require.NoError(t, err)
	}

	check := func() {
		snap := engine.Snapshot()
		for _, balance := range snap.Bidders {
			total := balance.Capital + balance.Escrow
			for _, won := range balance.WonLots {
				total += won.Price
			}
			assert.Equal(t, int64(1000), total, "funds not conserved for %s", balance.Handle)
			assert.GreaterOrEqual(t, balance.Capital, int64(0))
			assert.GreaterOrEqual(t, balance.Escrow, int64(0))
		}
	}

	for lot := 0; lot < 3; lot++ {
		_, err := engine.OpenLot()
		require.NoError(t, err)
		check()

		amount := int64(30)
		for i := 0; i < 5; i++ {
			bidder := bidders[i%len(bidders)]
			err := engine.PlaceBid(bidder, amount)
			if err != nil {
				require.True(t, IsValidation(err), "unexpected error: %v", err)
			}
			check()
			amount += 25
		}

		clock.Advance(DefaultBidWindow + time.Second)
		engine.expireDue()
		check()
	}

	snap := engine.Snapshot()
	assert.Equal(t, 3, len(snap.Sold)+len(snap.Unsold))
}

func TestRunSchedulerResolvesOnDeadline(t *testing.T) {
	engine, clock, _ := newTestEngine(t)
	require.NoError(t, engine.RegisterBidder("a", "A", 1000))
	_, err := engine.RegisterLot(RegisterLotRequest{Name: "Virat"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = engine.Run(ctx)
	}()

	_, err = engine.OpenLot()
	require.NoError(t, err)
	require.NoError(t, engine.PlaceBid("a", 50))

	// Wait until the scheduler is parked on the deadline timer, then let it
	// fire.
	clock.BlockUntil(1)
	clock.Advance(DefaultBidWindow + time.Second)

	require.Eventually(t, func() bool {
		snap := engine.Snapshot()
		return snap.Phase == string(PhaseIdle) && len(snap.Sold) == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap := engine.Snapshot()
	assert.Equal(t, "a", snap.Sold[0].Winner)
	assert.Equal(t, int64(50), snap.Sold[0].Price)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on context cancellation")
	}
}

func TestRunSchedulerSoftClose(t *testing.T) {
	engine, clock, _ := newTestEngine(t)
	require.NoError(t, engine.RegisterBidder("a", "A", 1000))
	_, err := engine.RegisterLot(RegisterLotRequest{Name: "Virat"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = engine.Run(ctx) }()

	_, err = engine.OpenLot()
	require.NoError(t, err)

	clock.BlockUntil(1)
	clock.Advance(15 * time.Second)
	require.NoError(t, engine.PlaceBid("a", 50))

	// Past the original deadline but inside the extended one: still open.
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, string(PhaseOpen), engine.Snapshot().Phase)

	clock.BlockUntil(1)
	clock.Advance(DefaultBidWindow)
	require.Eventually(t, func() bool {
		return engine.Snapshot().Phase == string(PhaseIdle)
	}, 2*time.Second, 10*time.Millisecond)

	require.Len(t, engine.Snapshot().Sold, 1)
}
