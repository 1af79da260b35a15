package game

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(localPlayer int, notify func(from, to, amount int)) *Router {
	return NewRouter(rand.New(rand.NewSource(1)), localPlayer, notify, nil)
}

func TestSendGarbageSelfTargetIgnored(t *testing.T) {
	r := newTestRouter(1, nil)
	r.SendGarbage(2, 2, 5)
	assert.Equal(t, 0, r.Pending(2))
}

func TestSendGarbageNonPositiveIgnored(t *testing.T) {
	r := newTestRouter(1, nil)
	r.SendGarbage(1, 2, 0)
	r.SendGarbage(1, 2, -3)
	assert.Equal(t, 0, r.Pending(2))
}

func TestSendGarbageNotifiesOnlyLocalAttacks(t *testing.T) {
	type attack struct{ from, to, amount int }
	var notified []attack
	r := newTestRouter(1, func(from, to, amount int) {
		notified = append(notified, attack{from, to, amount})
	})

	r.SendGarbage(1, 2, 4) // local attacker, goes on the wire
	r.SendGarbage(3, 2, 2) // remote attacker, already on the wire

	assert.Equal(t, 6, r.Pending(2))
	assert.Equal(t, []attack{{1, 2, 4}}, notified)
}

func TestTakePendingDrains(t *testing.T) {
	r := newTestRouter(1, nil)
	r.SendGarbage(1, 2, 3)
	assert.Equal(t, 3, r.TakePending(2))
	assert.Equal(t, 0, r.Pending(2))
	assert.Equal(t, 0, r.TakePending(2))
}

func TestInitTargetsRing(t *testing.T) {
	cases := []struct {
		alive []int
		want  map[int]int
	}{
		{[]int{1, 2, 3}, map[int]int{1: 2, 2: 3, 3: 1}},
		{[]int{1, 2, 3, 4}, map[int]int{1: 2, 2: 3, 3: 4, 4: 1}},
		{[]int{2, 3, 5}, map[int]int{2: 3, 3: 5, 5: 2}},
	}

	for _, tc := range cases {
		r := newTestRouter(1, nil)
		r.InitTargets(tc.alive)
		for attacker, want := range tc.want {
			got, ok := r.Target(attacker)
			require.True(t, ok, "attacker %d has no target", attacker)
			assert.Equal(t, want, got, "attacker %d", attacker)
			assert.NotEqual(t, attacker, got, "attacker %d targets itself", attacker)
		}
	}
}

func TestCycleTargetSkipsSelfAndWraps(t *testing.T) {
	alive := []int{1, 2, 3, 4}
	r := newTestRouter(1, nil)
	r.InitTargets(alive)

	expect := func(want int) {
		t.Helper()
		got, ok := r.Target(1)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	expect(2)
	r.CycleTarget(1, alive)
	expect(3)
	r.CycleTarget(1, alive)
	expect(4)
	r.CycleTarget(1, alive)
	expect(2) // wraps past the attacker
}

func TestRetargetAfterKO(t *testing.T) {
	r := newTestRouter(1, nil)
	r.InitTargets([]int{1, 2, 3})
	// 1->2, 2->3, 3->1

	r.RetargetAfterKO(2, []int{1, 3})

	got, ok := r.Target(1)
	require.True(t, ok)
	assert.Equal(t, 3, got, "attacker aiming at the knocked out player moves on")

	got, ok = r.Target(3)
	require.True(t, ok)
	assert.Equal(t, 1, got, "valid assignments survive")

	_, ok = r.Target(2)
	assert.False(t, ok, "the knocked out player no longer attacks")
}

func TestRouteBroadcastsWithTwoPlayers(t *testing.T) {
	r := newTestRouter(1, nil)
	r.Route(1, 3, []int{1, 2})
	assert.Equal(t, 3, r.Pending(2))
	assert.Equal(t, 0, r.Pending(1))
}

func TestRouteTargetsWithThreePlayers(t *testing.T) {
	alive := []int{1, 2, 3}
	r := newTestRouter(1, nil)
	r.InitTargets(alive)

	r.Route(1, 4, alive)
	assert.Equal(t, 4, r.Pending(2))
	assert.Equal(t, 0, r.Pending(3))
}

func TestRouteRecomputesStaleTarget(t *testing.T) {
	alive := []int{1, 2, 3}
	r := newTestRouter(1, nil)
	r.InitTargets([]int{1, 2, 3, 5})
	// Attacker 1 still aims at 5, who has since gone away.
	r.targets[1] = 5

	r.Route(1, 2, alive)
	assert.Equal(t, 2, r.Pending(2))
	assert.Equal(t, 0, r.Pending(3))
}

func TestAddGarbageLineShiftsStack(t *testing.T) {
	r := newTestRouter(1, nil)
	p := NewPlayerState(1, false)
	p.Grid[GridRows-1][4] = 7
	p.JustLocked = [][2]int{{0, 2}, {GridRows - 1, 4}}

	r.AddGarbageLine(p)

	assert.Equal(t, Cell(7), p.Grid[GridRows-2][4], "existing stack shifts up")

	holes := 0
	for c := 0; c < GridCols; c++ {
		switch p.Grid[GridRows-1][c] {
		case CellEmpty:
			holes++
		case CellGarbage:
		default:
			t.Fatalf("unexpected cell %d in garbage row", p.Grid[GridRows-1][c])
		}
	}
	assert.Equal(t, 1, holes, "garbage row has exactly one hole")

	// Flash cells ride the shift; the one pushed off the top is gone.
	assert.Equal(t, [][2]int{{GridRows - 2, 4}}, p.JustLocked)
}

func TestGarbageHoleColumnPersists(t *testing.T) {
	r := newTestRouter(1, nil)
	p := NewPlayerState(1, false)

	holeAt := func() int {
		for c := 0; c < GridCols; c++ {
			if p.Grid[GridRows-1][c] == CellEmpty {
				return c
			}
		}
		t.Fatal("garbage row has no hole")
		return -1
	}

	const samples = 400
	repeats := 0
	prev := -1
	for i := 0; i < samples; i++ {
		r.AddGarbageLine(p)
		h := holeAt()
		if h == prev {
			repeats++
		}
		prev = h
	}

	// With an 0.8 repeat chance plus accidental repeats from the random
	// draw, the observed rate sits near 0.82.
	rate := float64(repeats) / float64(samples)
	assert.Greater(t, rate, 0.68, "hole column should usually persist (rate %.2f)", rate)
	assert.Less(t, rate, 0.95, "hole column should sometimes move (rate %.2f)", rate)
}

func TestRouterReset(t *testing.T) {
	r := newTestRouter(1, nil)
	r.InitTargets([]int{1, 2, 3})
	r.SendGarbage(1, 2, 4)

	r.Reset()
	assert.Equal(t, 0, r.Pending(2))
	_, ok := r.Target(1)
	assert.False(t, ok)
}
