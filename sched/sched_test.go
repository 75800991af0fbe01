package sched

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeState(loads ...[2]int) State {
	state := State{Backends: make(map[int]Backend)}
	for i, ml := range loads {
		state.Backends[i+1] = Backend{
			Addr:    fmt.Sprintf("127.0.0.%d", i+2),
			Port:    "50000",
			MaxLoad: ml[0],
			CurLoad: ml[1],
		}
	}
	return state
}

func allPolicies(t *testing.T) map[Algorithm]*Selector {
	selectors := make(map[Algorithm]*Selector)
	for _, algo := range Algorithms {
		s, err := NewSelector(algo)
		require.NoError(t, err)
		selectors[algo] = s
	}
	return selectors
}

// randomState builds a pool with arbitrary loads, honoring the cur<=max
// data-model invariant.
func randomState(rng *rand.Rand) State {
	n := 1 + rng.Intn(6)
	state := State{Backends: make(map[int]Backend), HandleIP: "10.1.2.3"}
	for i := 0; i < n; i++ {
		max := 1 + rng.Intn(10)
		state.Backends[i+1] = Backend{
			Addr:    fmt.Sprintf("127.0.0.%d", i+2),
			MaxLoad: max,
			CurLoad: rng.Intn(max + 1),
		}
	}
	return state
}

func hasCapacity(state State) bool {
	for _, b := range state.Backends {
		if b.HasCapacity() {
			return true
		}
	}
	return false
}

// Whatever the policy, a selection must land on a worker with spare
// capacity, and saturation must surface as NoBackend.
func TestSelectHonorsCapacity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for algo, selector := range allPolicies(t) {
		for i := 0; i < 500; i++ {
			state := randomState(rng)
			id := selector.Select(state)
			if hasCapacity(state) {
				require.Greater(t, id, 0, "%v over %+v", algo, state.Backends)
				require.True(t, state.Backends[id].HasCapacity(),
					"%v picked a full worker over %+v", algo, state.Backends)
			} else {
				require.Equal(t, NoBackend, id, "%v over %+v", algo, state.Backends)
			}
		}
	}
}

// A round-robin pool of uniform capacity is visited exhaustively before
// any worker is revisited.
func TestRoundRobinVisitsAll(t *testing.T) {
	selector, err := NewSelector(RR)
	require.NoError(t, err)
	state := makeState([2]int{5, 0}, [2]int{5, 0}, [2]int{5, 0}, [2]int{5, 0})

	seen := make(map[int]bool)
	for i := 0; i < len(state.Backends); i++ {
		id := selector.Select(state)
		assert.False(t, seen[id], "revisited worker %v before a full cycle", id)
		seen[id] = true
	}
	assert.Len(t, seen, len(state.Backends))
}

func TestRoundRobinAlternates(t *testing.T) {
	selector, err := NewSelector(RR)
	require.NoError(t, err)
	state := makeState([2]int{5, 0}, [2]int{5, 0})

	var order []int
	for i := 0; i < 6; i++ {
		order = append(order, selector.Select(state))
	}
	assert.Equal(t, []int{1, 2, 1, 2, 1, 2}, order)
}

func TestRoundRobinSkipsFullWorkers(t *testing.T) {
	selector, err := NewSelector(RR)
	require.NoError(t, err)
	state := makeState([2]int{5, 4}, [2]int{5, 0}, [2]int{5, 4})

	for i := 0; i < 4; i++ {
		assert.Equal(t, 2, selector.Select(state))
	}
}

func TestWeightedRoundRobinPicksMostSpare(t *testing.T) {
	selector, err := NewSelector(WRR)
	require.NoError(t, err)

	state := makeState([2]int{5, 3}, [2]int{10, 2}, [2]int{4, 0})
	// Spare capacities are 2, 8 and 4.
	assert.Equal(t, 2, selector.Select(state))

	state.Backends[2] = Backend{MaxLoad: 10, CurLoad: 8}
	// Now 2, 2 and 4.
	assert.Equal(t, 3, selector.Select(state))
}

func TestWeightedRoundRobinTieBreaksFirst(t *testing.T) {
	selector, err := NewSelector(WRR)
	require.NoError(t, err)
	state := makeState([2]int{6, 2}, [2]int{6, 2}, [2]int{6, 2})
	assert.Equal(t, 1, selector.Select(state))
}

func TestLeastConnectionPicksLeastLoaded(t *testing.T) {
	selector, err := NewSelector(LC)
	require.NoError(t, err)
	state := makeState([2]int{5, 3}, [2]int{5, 1}, [2]int{5, 2})
	assert.Equal(t, 2, selector.Select(state))
}

// No capacity-holding worker may beat the selected one on the policy's
// own criterion.
func TestOptimalityOverRandomPools(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	wrr, err := NewSelector(WRR)
	require.NoError(t, err)
	lc, err := NewSelector(LC)
	require.NoError(t, err)
	wlc, err := NewSelector(WLC)
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		state := randomState(rng)
		if !hasCapacity(state) {
			continue
		}
		picked := state.Backends[wrr.Select(state)]
		for _, b := range state.Backends {
			if b.HasCapacity() {
				assert.LessOrEqual(t, b.MaxLoad-b.CurLoad, picked.MaxLoad-picked.CurLoad)
			}
		}
		picked = state.Backends[lc.Select(state)]
		for _, b := range state.Backends {
			if b.HasCapacity() {
				assert.GreaterOrEqual(t, b.CurLoad, picked.CurLoad)
			}
		}
		picked = state.Backends[wlc.Select(state)]
		for _, b := range state.Backends {
			if b.HasCapacity() {
				// b.cur/b.max >= picked.cur/picked.max, cross-multiplied.
				assert.GreaterOrEqual(t, b.CurLoad*picked.MaxLoad, picked.CurLoad*b.MaxLoad)
			}
		}
	}
}

func TestWeightedLeastConnectionBalancesRatios(t *testing.T) {
	selector, err := NewSelector(WLC)
	require.NoError(t, err)

	// Capacities 3, 6, 9: nine sequential dispatches settle near equal
	// cur/max ratios.
	state := makeState([2]int{3, 0}, [2]int{6, 0}, [2]int{9, 0})
	for i := 0; i < 9; i++ {
		id := selector.Select(state)
		require.Greater(t, id, 0)
		b := state.Backends[id]
		b.CurLoad++
		state.Backends[id] = b
	}
	for _, b := range state.Backends {
		ratio := float64(b.CurLoad) / float64(b.MaxLoad)
		slack := 1 / float64(b.MaxLoad)
		assert.InDelta(t, 0.5, ratio, slack+0.17, "worker %+v", b)
	}
}

func TestHashingDeterministic(t *testing.T) {
	for _, algo := range []Algorithm{DH, SH} {
		selector, err := NewSelector(algo)
		require.NoError(t, err)
		state := makeState([2]int{5, 0}, [2]int{5, 0}, [2]int{5, 0})

		state.HandleIP = "192.168.1.17"
		first := selector.Select(state)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, selector.Select(state), "%v is not deterministic", algo)
		}
	}
}

func TestHashingMalformedAddress(t *testing.T) {
	for _, algo := range []Algorithm{DH, SH} {
		selector, err := NewSelector(algo)
		require.NoError(t, err)
		state := makeState([2]int{5, 0}, [2]int{5, 0})

		for _, addr := range []string{"", "not-an-ip", "::1", "256.0.0.1"} {
			state.HandleIP = addr
			assert.Equal(t, BadAddress, selector.Select(state), "%v on %q", algo, addr)
		}
	}
}

func TestHashingFallsBackWhenHashedWorkerFull(t *testing.T) {
	selector, err := NewSelector(SH)
	require.NoError(t, err)
	state := makeState([2]int{5, 0}, [2]int{5, 0}, [2]int{5, 0})
	state.HandleIP = "10.0.0.1"

	hashed := selector.Select(state)
	full := state.Backends[hashed]
	full.CurLoad = full.MaxLoad
	state.Backends[hashed] = full

	fallback := selector.Select(state)
	assert.NotEqual(t, hashed, fallback)
	assert.True(t, state.Backends[fallback].HasCapacity())
}

func TestParseAlgorithm(t *testing.T) {
	for _, algo := range Algorithms {
		parsed, err := ParseAlgorithm(string(algo))
		require.NoError(t, err)
		assert.Equal(t, algo, parsed)
	}
	_, err := ParseAlgorithm("FASTEST")
	assert.Error(t, err)
}
