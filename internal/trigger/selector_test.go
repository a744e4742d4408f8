package trigger

import (
	"context"
	"math/rand/v2"
	"testing"
)

func TestSelectorIsUniform(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var wid int64
	for _, text := range []string{"A", "B", "C"} {
		wid = h.add(t, scope, "Factorio", text).WatcherID
	}
	w, ok, err := h.store.GetWatcher(ctx, wid)
	if err != nil || !ok {
		t.Fatalf("GetWatcher: ok=%v err=%v", ok, err)
	}

	sel := NewSelector(h.store, rand.New(rand.NewPCG(7, 11)))
	const trials = 3000
	counts := map[string]int{}
	for i := 0; i < trials; i++ {
		m, err := sel.Pick(ctx, w)
		if err != nil || m == nil {
			t.Fatalf("Pick: m=%v err=%v", m, err)
		}
		counts[m.Text]++
	}
	for _, text := range []string{"A", "B", "C"} {
		if c := counts[text]; c < 900 || c > 1100 {
			t.Fatalf("%s picked %d times out of %d; counts=%v", text, c, trials, counts)
		}
	}
}

func TestSelectorEmptyWatcher(t *testing.T) {
	h := newHarness(t)
	m, err := NewSelector(h.store, nil).Pick(context.Background(), h.mustWatcher(t, "Factorio"))
	if err != nil || m != nil {
		t.Fatalf("Pick on empty watcher: m=%v err=%v", m, err)
	}
}
