package game

const (
	GridRows = 20
	GridCols = 10
)

// Cell is one grid square. Zero is empty, CellGarbage marks an injected
// garbage cell, positive values are piece color indices owned by the
// rendering layer.
type Cell int8

const (
	CellEmpty   Cell = 0
	CellGarbage Cell = -1
)

// Grid is row-major with row 0 at the top.
type Grid [GridRows][GridCols]Cell

func (g *Grid) RowFull(r int) bool {
	for c := 0; c < GridCols; c++ {
		if g[r][c] == CellEmpty {
			return false
		}
	}
	return true
}

// FullRows lists completed rows top to bottom.
func (g *Grid) FullRows() []int {
	var rows []int
	for r := 0; r < GridRows; r++ {
		if g.RowFull(r) {
			rows = append(rows, r)
		}
	}
	return rows
}

// ClearRows removes the given rows and shifts everything above them
// down, feeding empty rows in at the top.
func (g *Grid) ClearRows(rows []int) {
	if len(rows) == 0 {
		return
	}
	cleared := make(map[int]bool, len(rows))
	for _, r := range rows {
		cleared[r] = true
	}

	var next Grid
	w := GridRows - 1
	for r := GridRows - 1; r >= 0; r-- {
		if cleared[r] {
			continue
		}
		next[w] = g[r]
		w--
	}
	*g = next
}

func (g *Grid) Empty() bool {
	for r := 0; r < GridRows; r++ {
		for c := 0; c < GridCols; c++ {
			if g[r][c] != CellEmpty {
				return false
			}
		}
	}
	return true
}

// Piece describes the falling piece only as far as the sync layer needs
// to ship it around; shapes and rotation rules live in the puzzle layer.
type Piece struct {
	Shape    int
	Rotation int
	X        int
	Y        int
}

// PlayerState is one participant's board and bookkeeping. It is owned by
// the Manager and must only be touched from the goroutine driving it.
type PlayerState struct {
	Number     int // 1-based, stable for the match
	Grid       Grid
	Piece      Piece
	Score      int
	Lines      int
	Level      int
	Combo      int
	BackToBack bool
	GameOver   bool

	// Remote players mirror state received in sync messages; their
	// simulation never runs locally.
	Remote bool

	// JustLocked holds {row, col} cells the renderer flashes after a
	// lock. Garbage insertion shifts these so the flash stays on the
	// right cells.
	JustLocked [][2]int
}

func NewPlayerState(number int, remote bool) *PlayerState {
	return &PlayerState{Number: number, Level: 1, Remote: remote}
}
