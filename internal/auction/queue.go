package auction

import (
	"math/rand"
)

// LotQueue holds the not-yet-auctioned lots as an unordered pool. Draw picks
// uniformly at random without replacement, the way the original event ran its
// player order. The queue does no locking: only the engine, which serializes
// all commands, may touch it, since two unsynchronized draws could serve the
// same index twice.
type LotQueue struct {
	lots []*Lot
	rng  *rand.Rand
}

// NewLotQueue creates an empty pool drawing from the given source. A nil rng
// falls back to a shared seeded source.
func NewLotQueue(rng *rand.Rand) *LotQueue {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &LotQueue{rng: rng}
}

// Add appends a newly registered lot to the pool.
func (q *LotQueue) Add(lot *Lot) {
	q.lots = append(q.lots, lot)
}

// Draw removes and returns one lot chosen uniformly at random, or nil when
// the pool is empty. An empty pool is "no lots remaining", not an error.
func (q *LotQueue) Draw() *Lot {
	n := len(q.lots)
	if n == 0 {
		return nil
	}
	i := q.rng.Intn(n)
	lot := q.lots[i]
	q.lots[i] = q.lots[n-1]
	q.lots = q.lots[:n-1]
	return lot
}

// Len reports how many lots remain in the pool.
func (q *LotQueue) Len() int {
	return len(q.lots)
}
