package trigger

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"joinme/internal/storage"
)

// Selector picks one of a watcher's messages uniformly at random.
type Selector struct {
	store Store

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector returns a Selector drawing from rng. A nil rng is seeded from the clock.
func NewSelector(store Store, rng *rand.Rand) *Selector {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Selector{store: store, rng: rng}
}

// Pick returns nil when the watcher has no messages.
func (s *Selector) Pick(ctx context.Context, w storage.Watcher) (*storage.Message, error) {
	msgs, err := s.store.MessagesFor(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	i := s.rng.IntN(len(msgs))
	s.mu.Unlock()
	m := msgs[i]
	return &m, nil
}
