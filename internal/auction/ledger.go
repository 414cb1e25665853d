package auction

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tarunjayantvm/cricket-auction/internal/events"
)

// account is the ledger entry for one bidder. capital and escrow are both
// kept non-negative; capital+escrow only shrinks when a win is settled.
type account struct {
	handle      string
	displayName string
	capital     int64
	escrow      int64
	wonLots     []events.WonLotSummary

	// frozen is set after a CorruptLedger detection; all further mutation
	// of this entry is rejected until an operator intervenes.
	frozen bool
}

// LedgerStore tracks per-bidder capital and escrow. It performs no locking of
// its own: the engine serializes every command that touches it.
type LedgerStore struct {
	accounts map[string]*account
}

// NewLedgerStore creates an empty ledger.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{accounts: make(map[string]*account)}
}

// Register creates a ledger entry for a new bidder.
func (s *LedgerStore) Register(handle, displayName string, startingCapital int64) error {
	if _, exists := s.accounts[handle]; exists {
		return fmt.Errorf("register %q: %w", handle, ErrDuplicateBidder)
	}
	s.accounts[handle] = &account{
		handle:      handle,
		displayName: displayName,
		capital:     startingCapital,
	}
	log.Info().Str("bidder", handle).Int64("capital", startingCapital).Msg("bidder registered")
	return nil
}

// Available returns the maximum amount the bidder could bid right now:
// spendable capital plus whatever is already locked behind their own
// outstanding bid.
func (s *LedgerStore) Available(handle string) (int64, error) {
	acct, ok := s.accounts[handle]
	if !ok {
		return 0, fmt.Errorf("available %q: %w", handle, ErrUnknownBidder)
	}
	return acct.capital + acct.escrow, nil
}

// PlaceBid locks amount in escrow for the bidder. Escrow is replaced, not
// stacked: a bidder has at most one outstanding bid per lot, so only the
// difference against the current escrow moves out of capital.
func (s *LedgerStore) PlaceBid(handle string, amount int64) error {
	acct, ok := s.accounts[handle]
	if !ok {
		return fmt.Errorf("place bid %q: %w", handle, ErrUnknownBidder)
	}
	if acct.frozen {
		return fmt.Errorf("place bid %q: %w", handle, ErrLedgerFrozen)
	}
	if amount > acct.capital+acct.escrow {
		return fmt.Errorf("place bid %q for %d with %d available: %w",
			handle, amount, acct.capital+acct.escrow, ErrInsufficientFunds)
	}
	acct.capital -= amount - acct.escrow
	acct.escrow = amount
	return s.check(acct)
}

// ReleaseEscrow refunds the bidder's outstanding escrow in full. Calling it
// on a bidder with no escrow is a no-op.
func (s *LedgerStore) ReleaseEscrow(handle string) error {
	acct, ok := s.accounts[handle]
	if !ok {
		return fmt.Errorf("release escrow %q: %w", handle, ErrUnknownBidder)
	}
	if acct.frozen {
		return fmt.Errorf("release escrow %q: %w", handle, ErrLedgerFrozen)
	}
	acct.capital += acct.escrow
	acct.escrow = 0
	return s.check(acct)
}

// SettleWin spends amount out of the bidder's escrow and records the won lot.
// Escrow smaller than amount means the books are broken: the entry is frozen
// and a CorruptLedgerError is returned.
func (s *LedgerStore) SettleWin(handle string, amount int64, lotID uuid.UUID, lotName string) error {
	acct, ok := s.accounts[handle]
	if !ok {
		return fmt.Errorf("settle win %q: %w", handle, ErrUnknownBidder)
	}
	if acct.frozen {
		return fmt.Errorf("settle win %q: %w", handle, ErrLedgerFrozen)
	}
	if acct.escrow < amount {
		acct.frozen = true
		return &CorruptLedgerError{
			Handle:  handle,
			Capital: acct.capital,
			Escrow:  acct.escrow,
			Detail:  fmt.Sprintf("settlement of %d exceeds escrow", amount),
		}
	}
	acct.escrow -= amount
	acct.wonLots = append(acct.wonLots, events.WonLotSummary{
		LotID: lotID.String(),
		Name:  lotName,
		Price: amount,
	})
	return s.check(acct)
}

// Balance returns the bidder's private balance view.
func (s *LedgerStore) Balance(handle string) (events.BidderBalancePayload, error) {
	acct, ok := s.accounts[handle]
	if !ok {
		return events.BidderBalancePayload{}, fmt.Errorf("balance %q: %w", handle, ErrUnknownBidder)
	}
	return acct.payload(), nil
}

// Balances returns every bidder's balance, sorted by handle for stable
// snapshots.
func (s *LedgerStore) Balances() []events.BidderBalancePayload {
	out := make([]events.BidderBalancePayload, 0, len(s.accounts))
	for _, acct := range s.accounts {
		out = append(out, acct.payload())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (a *account) payload() events.BidderBalancePayload {
	return events.BidderBalancePayload{
		Handle:      a.handle,
		DisplayName: a.displayName,
		Capital:     a.capital,
		Escrow:      a.escrow,
		WonLots:     append([]events.WonLotSummary(nil), a.wonLots...),
	}
}

// check freezes the entry if a mutation left it with negative funds.
func (s *LedgerStore) check(acct *account) error {
	if acct.capital < 0 || acct.escrow < 0 {
		acct.frozen = true
		return &CorruptLedgerError{
			Handle:  acct.handle,
			Capital: acct.capital,
			Escrow:  acct.escrow,
			Detail:  "negative funds after mutation",
		}
	}
	return nil
}
