package auction

import (
	"errors"
	"fmt"
)

// Validation errors. These are reported to the originating caller and leave
// all state unchanged.
var (
	ErrDuplicateBidder   = errors.New("bidder handle already registered")
	ErrUnknownBidder     = errors.New("unknown bidder")
	ErrBidTooLow         = errors.New("bid does not exceed current high bid")
	ErrInsufficientFunds = errors.New("bid exceeds available funds")
	ErrAuctionClosed     = errors.New("no lot open for bidding")
	ErrAuctionInProgress = errors.New("a lot is already on the block")
	ErrNoLotsRemaining   = errors.New("no lots remaining in the pool")
	ErrNoBids            = errors.New("cannot sell a lot with no bids")
	ErrLedgerFrozen      = errors.New("bidder ledger is frozen pending operator review")
)

// CorruptLedgerError reports a broken capital/escrow invariant. It is never
// expected in correct operation: the affected bidder's ledger entry is frozen
// and the lot outcome becomes indeterminate.
type CorruptLedgerError struct {
	Handle  string
	Capital int64
	Escrow  int64
	Detail  string
}

func (e *CorruptLedgerError) Error() string {
	return fmt.Sprintf("corrupt ledger for bidder %s (capital=%d escrow=%d): %s",
		e.Handle, e.Capital, e.Escrow, e.Detail)
}

// IsValidation reports whether err is a recoverable command rejection rather
// than an invariant violation.
func IsValidation(err error) bool {
	for _, v := range []error{
		ErrDuplicateBidder,
		ErrUnknownBidder,
		ErrBidTooLow,
		ErrInsufficientFunds,
		ErrAuctionClosed,
		ErrAuctionInProgress,
		ErrNoLotsRemaining,
		ErrNoBids,
		ErrLedgerFrozen,
	} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

// ErrorCode maps an engine error to the stable code echoed in EventError
// payloads.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateBidder):
		return "DuplicateBidder"
	case errors.Is(err, ErrUnknownBidder):
		return "UnknownBidder"
	case errors.Is(err, ErrBidTooLow):
		return "BidTooLow"
	case errors.Is(err, ErrInsufficientFunds):
		return "InsufficientFunds"
	case errors.Is(err, ErrAuctionClosed):
		return "AuctionClosed"
	case errors.Is(err, ErrAuctionInProgress):
		return "AuctionInProgress"
	case errors.Is(err, ErrNoLotsRemaining):
		return "NoLotsRemaining"
	case errors.Is(err, ErrNoBids):
		return "NoBids"
	case errors.Is(err, ErrLedgerFrozen):
		return "LedgerFrozen"
	default:
		var corrupt *CorruptLedgerError
		if errors.As(err, &corrupt) {
			return "CorruptLedger"
		}
		return "Internal"
	}
}
