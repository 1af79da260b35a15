package game

import (
	"math/rand"
	"sort"

	"go.uber.org/zap"
)

// DefaultHoleRepeatChance is the probability that a new garbage line
// reuses the previous hole column, producing a climbable stack. Tunable;
// nothing on the wire depends on it.
const DefaultHoleRepeatChance = 0.8

// Router tracks pending garbage, targeting assignments and hole-column
// memory. With three or four players attacks go to the attacker's
// current target; with two or fewer they broadcast to every opponent.
type Router struct {
	log *zap.Logger
	rng *rand.Rand

	holeRepeatChance float64
	localPlayer      int

	// notify propagates an attack by the local player to the network
	// layer; nil for offline matches.
	notify func(from, to, amount int)

	pending  map[int]int // playerNumber -> uncommitted garbage lines
	lastHole map[int]int // playerNumber -> previous hole column
	targets  map[int]int // attacker -> defender, 3-4 player mode only
}

func NewRouter(rng *rand.Rand, localPlayer int, notify func(from, to, amount int), log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		log:              log,
		rng:              rng,
		holeRepeatChance: DefaultHoleRepeatChance,
		localPlayer:      localPlayer,
		notify:           notify,
		pending:          make(map[int]int),
		lastHole:         make(map[int]int),
		targets:          make(map[int]int),
	}
}

// SendGarbage queues an attack against a player. Self-targeting and
// non-positive amounts indicate a caller bug: they are logged (or
// silently dropped for bad amounts) and never mutate state.
func (r *Router) SendGarbage(from, to, amount int) {
	if from == to {
		r.log.Error("self-targeted garbage ignored", zap.Int("player", from), zap.Int("amount", amount))
		return
	}
	if amount <= 0 {
		return
	}
	r.pending[to] += amount
	if from == r.localPlayer && r.notify != nil {
		r.notify(from, to, amount)
	}
}

// Pending reports a player's queued, not yet committed garbage lines.
func (r *Router) Pending(player int) int { return r.pending[player] }

// TakePending drains a player's accumulator, returning what was queued.
// The manager calls it when starting the drop animation.
func (r *Router) TakePending(player int) int {
	n := r.pending[player]
	delete(r.pending, player)
	return n
}

// Target reports the attacker's current defender.
func (r *Router) Target(attacker int) (int, bool) {
	t, ok := r.targets[attacker]
	return t, ok
}

// InitTargets assigns every alive player the next alive player in
// ascending number order, wrapping, as its target. Only meaningful with
// three or more players.
func (r *Router) InitTargets(alive []int) {
	r.targets = make(map[int]int, len(alive))
	for _, p := range alive {
		if t, ok := nextInRing(p, p, alive); ok {
			r.targets[p] = t
		}
	}
}

// CycleTarget advances the attacker's target to the next alive player
// past the current one. A stale target (dead, missing, or the attacker
// itself) is recomputed from the attacker's own position.
func (r *Router) CycleTarget(attacker int, alive []int) {
	current, ok := r.targets[attacker]
	if !ok || current == attacker || !contains(alive, current) {
		current = attacker
	}
	if t, ok := nextInRing(attacker, current, alive); ok {
		r.targets[attacker] = t
	} else {
		delete(r.targets, attacker)
	}
}

// RetargetAfterKO reassigns every attacker whose target is the knocked
// out player or otherwise invalid. The map is snapshotted first; the
// rebuilt mapping replaces it in one swap.
func (r *Router) RetargetAfterKO(ko int, alive []int) {
	next := make(map[int]int, len(r.targets))
	for attacker, target := range r.targets {
		if !contains(alive, attacker) {
			continue
		}
		if target != ko && target != attacker && contains(alive, target) {
			next[attacker] = target
			continue
		}
		if t, ok := nextInRing(attacker, ko, alive); ok {
			next[attacker] = t
		}
	}
	r.targets = next
}

// Route applies the fanout policy for an attack originating at from:
// broadcast with two or fewer alive players, strictly-to-target with
// more.
func (r *Router) Route(from, amount int, alive []int) {
	if amount <= 0 {
		return
	}
	if len(alive) <= 2 {
		for _, p := range alive {
			if p != from {
				r.SendGarbage(from, p, amount)
			}
		}
		return
	}

	target, ok := r.targets[from]
	if !ok || target == from || !contains(alive, target) {
		r.CycleTarget(from, alive)
		target, ok = r.targets[from]
		if !ok {
			return
		}
	}
	r.SendGarbage(from, target, amount)
}

// AddGarbageLine commits one garbage row at the bottom of the player's
// grid: everything shifts up one row (top row discarded) and a solid row
// with a single hole comes in underneath. The hole column repeats the
// previous one with holeRepeatChance, and is only fully random on the
// player's first line.
func (r *Router) AddGarbageLine(p *PlayerState) {
	for row := 0; row < GridRows-1; row++ {
		p.Grid[row] = p.Grid[row+1]
	}

	hole, seen := r.lastHole[p.Number]
	if !seen || r.rng.Float64() >= r.holeRepeatChance {
		hole = r.rng.Intn(GridCols)
	}
	r.lastHole[p.Number] = hole

	for c := 0; c < GridCols; c++ {
		if c == hole {
			p.Grid[GridRows-1][c] = CellEmpty
		} else {
			p.Grid[GridRows-1][c] = CellGarbage
		}
	}

	// Flash bookkeeping rides along with the shifted rows.
	kept := p.JustLocked[:0]
	for _, cell := range p.JustLocked {
		cell[0]--
		if cell[0] >= 0 {
			kept = append(kept, cell)
		}
	}
	p.JustLocked = kept
}

// Reset clears per-match state; targeting survives only via a fresh
// InitTargets.
func (r *Router) Reset() {
	r.pending = make(map[int]int)
	r.lastHole = make(map[int]int)
	r.targets = make(map[int]int)
}

// nextInRing finds the first alive player after `after` in ascending
// order, wrapping, never the attacker itself.
func nextInRing(attacker, after int, alive []int) (int, bool) {
	sorted := append([]int(nil), alive...)
	sort.Ints(sorted)

	// Players numbered above `after` first, then wrap to the lowest.
	for _, p := range sorted {
		if p > after && p != attacker {
			return p, true
		}
	}
	for _, p := range sorted {
		if p != attacker {
			return p, true
		}
	}
	return 0, false
}

func contains(players []int, p int) bool {
	for _, q := range players {
		if q == p {
			return true
		}
	}
	return false
}
