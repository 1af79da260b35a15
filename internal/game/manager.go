package game

import (
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Hooks are the manager's outward calls. Rendering, piece mechanics and
// audio live behind them; any hook may be nil.
type Hooks struct {
	// SpawnPiece gives the player their next piece.
	SpawnPiece func(p *PlayerState)
	// SpawnBlocked reports whether the next piece would collide at
	// spawn, which knocks the player out.
	SpawnBlocked func(p *PlayerState) bool
	// StepPlayer advances one player's own simulation (input or CPU
	// driven). Never called for remote players.
	StepPlayer func(p *PlayerState, dt time.Duration)
	// NotifyAttack propagates a local player's attack to the network.
	NotifyAttack func(from, to, amount int)
	// NotifyKnockout reports the locally controlled player's
	// elimination to the network.
	NotifyKnockout func(player int)
	NotifyLevelUp  func(player, level int)
	// ResetTimeDilation clears any global slow-motion effect when a
	// clear commits.
	ResetTimeDilation func()
	// OnMatchEnd fires once; winner is 0 when nobody survived.
	OnMatchEnd func(winner int)
}

type Config struct {
	// LocalPlayer is the locally controlled player's number; its
	// attacks and knockout are the only ones propagated outward.
	LocalPlayer        int
	ClearDuration      time.Duration // default 300ms
	GarbageRowInterval time.Duration // default 40ms per row
	Rand               *rand.Rand
	Logger             *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.ClearDuration <= 0 {
		c.ClearDuration = 300 * time.Millisecond
	}
	if c.GarbageRowInterval <= 0 {
		c.GarbageRowInterval = 40 * time.Millisecond
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

type clearAnim struct {
	rec       ClearRecord
	remaining time.Duration
}

type garbageDrop struct {
	remaining int
	untilNext time.Duration
}

// Manager orchestrates up to four player states: clear and garbage-drop
// animation timers, scoring, garbage routing and knockout/match-end
// evaluation. It is single-owner: Update, OnPieceLocked, ReceiveAttack
// and the sync appliers must all run on the caller's loop.
type Manager struct {
	cfg    Config
	log    *zap.Logger
	hooks  Hooks
	router *Router

	players    map[int]*PlayerState
	order      []int
	clears     map[int]*clearAnim
	drops      map[int]*garbageDrop
	holdLocked map[int]bool
	over       bool
}

func NewManager(cfg Config, hooks Hooks) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:        cfg,
		log:        cfg.Logger,
		hooks:      hooks,
		players:    make(map[int]*PlayerState),
		clears:     make(map[int]*clearAnim),
		drops:      make(map[int]*garbageDrop),
		holdLocked: make(map[int]bool),
	}
	m.router = NewRouter(cfg.Rand, cfg.LocalPlayer, hooks.NotifyAttack, cfg.Logger)
	return m
}

func (m *Manager) AddPlayer(number int, remote bool) *PlayerState {
	p := NewPlayerState(number, remote)
	m.players[number] = p
	m.order = append(m.order, number)
	sort.Ints(m.order)
	return p
}

func (m *Manager) Player(number int) *PlayerState { return m.players[number] }

func (m *Manager) Router() *Router { return m.router }

func (m *Manager) MatchOver() bool { return m.over }

func (m *Manager) IsClearing(player int) bool { return m.clears[player] != nil }

func (m *Manager) IsDroppingGarbage(player int) bool { return m.drops[player] != nil }

// HoldLocked reports whether hold is suspended for the player (true
// while their garbage drop runs).
func (m *Manager) HoldLocked(player int) bool { return m.holdLocked[player] }

// StartMatch resets every player, rebuilds targeting for 3-4 player
// matches and spawns the opening pieces.
func (m *Manager) StartMatch() {
	m.over = false
	m.clears = make(map[int]*clearAnim)
	m.drops = make(map[int]*garbageDrop)
	m.holdLocked = make(map[int]bool)
	m.router.Reset()

	for _, n := range m.order {
		remote := m.players[n].Remote
		*m.players[n] = *NewPlayerState(n, remote)
	}
	if len(m.order) >= 3 {
		m.router.InitTargets(m.alive())
	}
	for _, n := range m.order {
		if p := m.players[n]; !p.Remote && m.hooks.SpawnPiece != nil {
			m.hooks.SpawnPiece(p)
		}
	}
	m.log.Info("match started", zap.Int("players", len(m.order)))
}

// Update advances all animation timers and simulations by dt.
func (m *Manager) Update(dt time.Duration) {
	if m.over {
		return
	}

	// Drops registered while committing a clear this tick start counting
	// down next tick, so the snapshot happens before the clears run.
	dropKeys := animKeys(m.drops, m.order)

	// Line-clear animations commit when their timer expires.
	for _, n := range animKeys(m.clears, m.order) {
		anim := m.clears[n]
		anim.remaining -= dt
		if anim.remaining > 0 {
			continue
		}
		delete(m.clears, n)
		m.commitClear(m.players[n], anim.rec)
		if m.over {
			return
		}
	}

	// Garbage drops commit one row per interval. A player mid-clear
	// never reaches here: drops only start once no clear is running.
	for _, n := range dropKeys {
		drop, ok := m.drops[n]
		if !ok {
			continue
		}
		p := m.players[n]
		drop.untilNext -= dt
		for drop.untilNext <= 0 && drop.remaining > 0 {
			m.router.AddGarbageLine(p)
			drop.remaining--
			drop.untilNext += m.cfg.GarbageRowInterval
		}
		if drop.remaining == 0 {
			delete(m.drops, n)
			m.holdLocked[n] = false
			m.spawnNext(p)
			if m.over {
				return
			}
		}
	}

	// Everyone not animating runs their own simulation; remote boards
	// advance via sync messages instead.
	for _, n := range m.order {
		p := m.players[n]
		if p.GameOver || p.Remote || m.clears[n] != nil || m.drops[n] != nil {
			continue
		}
		if m.hooks.StepPlayer != nil {
			m.hooks.StepPlayer(p, dt)
		}
	}
}

// OnPieceLocked is the puzzle layer's entry point after a piece locks.
// rec lists the completed rows and the spin classification of the lock.
func (m *Manager) OnPieceLocked(player int, rec ClearRecord) {
	p := m.players[player]
	if p == nil || p.GameOver || m.over {
		return
	}

	lines := len(rec.Rows)

	// Zero-line spins award score and an indicator but clear nothing,
	// leave combo and back-to-back alone, and spawn immediately.
	if lines == 0 && rec.Spin != SpinNone {
		res := Score(&p.Grid, rec, p.Level, p.Combo, p.BackToBack)
		p.Score += res.Score
		m.spawnNext(p)
		return
	}

	if lines == 0 {
		p.Combo = 0
		m.afterLock(p)
		return
	}

	m.clears[player] = &clearAnim{rec: rec, remaining: m.cfg.ClearDuration}
}

// ReceiveAttack feeds an attack into the router; used both for attacks
// arriving off the wire and for locally simulated opponents.
func (m *Manager) ReceiveAttack(from, to, amount int) {
	m.router.SendGarbage(from, to, amount)
}

// ApplyRemoteState overwrites a remote player's mirrored board from a
// sync message.
func (m *Manager) ApplyRemoteState(number int, grid Grid, score, lines, level, combo int, gameOver bool) {
	p := m.players[number]
	if p == nil || !p.Remote {
		return
	}
	p.Grid = grid
	p.Score = score
	p.Lines = lines
	p.Level = level
	p.Combo = combo
	if gameOver && !p.GameOver {
		m.MarkKnockedOut(number)
	}
}

// MarkKnockedOut eliminates a player on the say-so of the network (a
// remote game-over notice). No outward notification is sent.
func (m *Manager) MarkKnockedOut(number int) {
	p := m.players[number]
	if p == nil || p.GameOver {
		return
	}
	p.GameOver = true
	delete(m.clears, number)
	delete(m.drops, number)
	m.router.RetargetAfterKO(number, m.alive())
	m.log.Info("player knocked out", zap.Int("player", number))
	m.checkMatchEnd()
}

func (m *Manager) commitClear(p *PlayerState, rec ClearRecord) {
	res := Score(&p.Grid, rec, p.Level, p.Combo, p.BackToBack)
	p.Grid.ClearRows(rec.Rows)
	p.Score += res.Score
	p.Combo++
	p.BackToBack = res.BackToBack
	p.Lines += len(rec.Rows)

	if level := LevelForLines(p.Lines); level > p.Level {
		p.Level = level
		if m.hooks.NotifyLevelUp != nil {
			m.hooks.NotifyLevelUp(p.Number, level)
		}
	}

	if res.Garbage > 0 {
		m.router.Route(p.Number, res.Garbage, m.alive())
	}
	if m.hooks.ResetTimeDilation != nil {
		m.hooks.ResetTimeDilation()
	}

	m.log.Debug("clear committed",
		zap.Int("player", p.Number),
		zap.String("clear", res.Label),
		zap.Int("score", res.Score),
		zap.Int("garbage", res.Garbage),
		zap.Bool("perfect", res.PerfectClear),
	)

	if !p.GameOver {
		m.afterLock(p)
	}
}

// afterLock runs once a player's board settles: queued garbage drops in
// before the next piece spawns.
func (m *Manager) afterLock(p *PlayerState) {
	if pending := m.router.TakePending(p.Number); pending > 0 {
		m.drops[p.Number] = &garbageDrop{remaining: pending, untilNext: m.cfg.GarbageRowInterval}
		m.holdLocked[p.Number] = true
		return
	}
	m.spawnNext(p)
}

func (m *Manager) spawnNext(p *PlayerState) {
	if m.hooks.SpawnBlocked != nil && m.hooks.SpawnBlocked(p) {
		m.eliminate(p)
		return
	}
	if m.hooks.SpawnPiece != nil {
		m.hooks.SpawnPiece(p)
	}
}

// eliminate knocks a player out after a blocked spawn. The network is
// told about the local player's elimination before any match-end
// transition, so the opponents' clients cannot finish the match without
// having heard about it.
func (m *Manager) eliminate(p *PlayerState) {
	p.GameOver = true
	delete(m.clears, p.Number)
	delete(m.drops, p.Number)
	m.log.Info("player eliminated", zap.Int("player", p.Number))

	if p.Number == m.cfg.LocalPlayer && m.hooks.NotifyKnockout != nil {
		m.hooks.NotifyKnockout(p.Number)
	}
	m.router.RetargetAfterKO(p.Number, m.alive())
	m.checkMatchEnd()
}

func (m *Manager) checkMatchEnd() {
	active := m.alive()
	switch {
	case len(m.order) <= 1:
		if len(active) > 0 {
			return
		}
	default:
		if len(active) > 1 {
			return
		}
	}

	m.over = true
	winner := 0
	if len(m.order) > 1 && len(active) == 1 {
		winner = active[0]
	}
	m.log.Info("match over", zap.Int("winner", winner))
	if m.hooks.OnMatchEnd != nil {
		m.hooks.OnMatchEnd(winner)
	}
}

func (m *Manager) alive() []int {
	var out []int
	for _, n := range m.order {
		if !m.players[n].GameOver {
			out = append(out, n)
		}
	}
	return out
}

// animKeys snapshots a timer map's keys in player order so handlers may
// mutate the map while we walk it.
func animKeys[T any](anims map[int]*T, order []int) []int {
	out := make([]int, 0, len(anims))
	for _, n := range order {
		if _, ok := anims[n]; ok {
			out = append(out, n)
		}
	}
	return out
}
