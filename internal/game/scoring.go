package game

import "math"

// Spin classifies how a piece lock cleared its lines.
type Spin int

const (
	SpinNone Spin = iota
	SpinMini
	SpinFull
)

// ClearRecord describes one line-clear event. It exists from lock until
// the clear animation finishes.
type ClearRecord struct {
	Rows []int
	Spin Spin
}

// ClearResult is what a clear is worth.
type ClearResult struct {
	Score        int
	Garbage      int
	BackToBack   bool
	PerfectClear bool
	Label        string
}

const perfectClearBonus = 1800
const perfectClearGarbage = 10

// baseGarbage is lines-sent by spin classification and lines cleared.
func baseGarbage(spin Spin, lines int) int {
	switch spin {
	case SpinFull:
		switch lines {
		case 1:
			return 2
		case 2:
			return 4
		case 3:
			return 6
		}
		return 0
	case SpinMini:
		switch lines {
		case 1:
			return 1
		case 2:
			return 2
		}
		return 0
	default:
		switch lines {
		case 2:
			return 1
		case 3:
			return 2
		case 4:
			return 4
		}
		return 0
	}
}

// baseScore mirrors the garbage table's shape with guideline point
// values.
func baseScore(spin Spin, lines int) int {
	switch spin {
	case SpinFull:
		switch lines {
		case 0:
			return 400
		case 1:
			return 800
		case 2:
			return 1200
		case 3:
			return 1600
		}
		return 0
	case SpinMini:
		switch lines {
		case 0:
			return 100
		case 1:
			return 200
		case 2:
			return 400
		}
		return 0
	default:
		switch lines {
		case 1:
			return 100
		case 2:
			return 300
		case 3:
			return 500
		case 4:
			return 800
		}
		return 0
	}
}

func clearLabel(spin Spin, lines int) string {
	var base string
	switch lines {
	case 0:
		base = "none"
	case 1:
		base = "single"
	case 2:
		base = "double"
	case 3:
		base = "triple"
	default:
		base = "tetris"
	}
	switch spin {
	case SpinFull:
		return "spin-" + base
	case SpinMini:
		return "mini-spin-" + base
	default:
		return base
	}
}

// isDifficult marks the clears that sustain a back-to-back streak: a
// four-line no-spin clear, or any spin clear with at least one line.
func isDifficult(spin Spin, lines int) bool {
	if spin == SpinNone {
		return lines == 4
	}
	return lines >= 1
}

// Score evaluates one clear. It is pure: the grid is only read, to
// decide whether removing the cleared rows empties it.
//
// Zero-line spins are cosmetic: they score from the 0-line table but
// leave combo and back-to-back untouched.
func Score(grid *Grid, rec ClearRecord, level, combo int, wasBackToBack bool) ClearResult {
	lines := len(rec.Rows)
	base := float64(baseScore(rec.Spin, lines))
	garbage := baseGarbage(rec.Spin, lines)
	newB2B := wasBackToBack

	if lines > 0 {
		if isDifficult(rec.Spin, lines) {
			// The bonus needs two consecutive difficult clears, not one.
			if wasBackToBack {
				garbage++
				base *= 1.5
			}
			newB2B = true
		} else {
			newB2B = false
		}
	}

	comboBonus := 0
	if lines > 0 {
		comboBonus = 50 * combo * level
	}

	perfect := false
	if lines > 0 && clearedGridEmpty(grid, rec.Rows) {
		perfect = true
		garbage += perfectClearGarbage
	}

	total := base + float64(comboBonus)
	if perfect {
		total += perfectClearBonus
	}
	score := int(math.Floor(total * float64(level)))

	return ClearResult{
		Score:        score,
		Garbage:      garbage,
		BackToBack:   newB2B,
		PerfectClear: perfect,
		Label:        clearLabel(rec.Spin, lines),
	}
}

// clearedGridEmpty simulates removing the cleared rows and reports
// whether anything remains.
func clearedGridEmpty(grid *Grid, rows []int) bool {
	sim := *grid
	sim.ClearRows(rows)
	return sim.Empty()
}

// LevelForLines is the level implied by a cumulative line count: one
// level per ten lines.
func LevelForLines(totalLines int) int {
	return totalLines/10 + 1
}
