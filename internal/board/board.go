// Package board implements the external board-model collaborator the
// session protocol core depends on but does not specify: ship placement
// legality, fire resolution, and the textual grid renderings sent to
// players and spectators. The core only calls CanPlaceShip, DoPlaceShip,
// FireAt, AllShipsSunk and ParseCoordinate; everything else here is an
// implementation detail of this package.
package board

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is the grid dimension (10x10, rows A-J, columns 1-10).
const Size = 10

// Orientation selects how a ship occupies contiguous cells.
type Orientation int

const (
	Horizontal Orientation = iota
	Vertical
)

// Ship names the fixed fleet the game state machine walks through in order.
type Ship struct {
	Name string
	Size int
}

// Ships is the canonical Battleship fleet, five ships long as the core
// requires.
var Ships = []Ship{
	{"Carrier", 5},
	{"Battleship", 4},
	{"Cruiser", 3},
	{"Submarine", 3},
	{"Destroyer", 2},
}

const (
	cellEmpty = '.'
	cellShip  = 'S'
	cellHit   = 'X'
	cellMiss  = 'O'
)

// PlacedShip records where one ship's cells live, to detect when it sinks.
type PlacedShip struct {
	Name      string
	Cells     [][2]int
	HitsTaken int
}

func (p *PlacedShip) sunk() bool { return p.HitsTaken >= len(p.Cells) }

// Board is one player's grid: the hidden grid (ship positions visible) and
// the display grid (only hits/misses visible), plus placement bookkeeping.
type Board struct {
	hidden  [Size][Size]byte
	display [Size][Size]byte
	placed  []*PlacedShip
}

// New constructs an empty board.
func New() *Board {
	b := &Board{}
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			b.hidden[r][c] = cellEmpty
			b.display[r][c] = cellEmpty
		}
	}
	return b
}

// CanPlaceShip reports whether a ship of size cells, starting at (row,col)
// in the given orientation, fits on the board without overlapping another
// ship.
func (b *Board) CanPlaceShip(row, col, size int, o Orientation) bool {
	cells, ok := shipCells(row, col, size, o)
	if !ok {
		return false
	}
	for _, c := range cells {
		if b.hidden[c[0]][c[1]] != cellEmpty {
			return false
		}
	}
	return true
}

// DoPlaceShip places a previously-validated ship and returns its occupied
// cells. Callers must call CanPlaceShip first; DoPlaceShip does not
// re-validate.
func (b *Board) DoPlaceShip(row, col, size int, o Orientation, name string) [][2]int {
	cells, _ := shipCells(row, col, size, o)
	for _, c := range cells {
		b.hidden[c[0]][c[1]] = cellShip
	}
	b.placed = append(b.placed, &PlacedShip{Name: name, Cells: cells})
	return cells
}

func shipCells(row, col, size int, o Orientation) ([][2]int, bool) {
	if row < 0 || row >= Size || col < 0 || col >= Size || size <= 0 {
		return nil, false
	}
	cells := make([][2]int, size)
	for i := 0; i < size; i++ {
		r, c := row, col
		if o == Vertical {
			r += i
		} else {
			c += i
		}
		if r >= Size || c >= Size {
			return nil, false
		}
		cells[i] = [2]int{r, c}
	}
	return cells, true
}

// FireResult describes the outcome of a single shot.
type FireResult struct {
	AlreadyShot bool
	Hit         bool
	SunkShip    string // non-empty only when this shot sank a ship
}

// FireAt resolves a shot at (row,col) against this board.
func (b *Board) FireAt(row, col int) FireResult {
	if row < 0 || row >= Size || col < 0 || col >= Size {
		return FireResult{}
	}
	switch b.display[row][col] {
	case cellHit, cellMiss:
		return FireResult{AlreadyShot: true}
	}
	if b.hidden[row][col] == cellShip {
		b.display[row][col] = cellHit
		for _, ship := range b.placed {
			for _, c := range ship.Cells {
				if c[0] == row && c[1] == col {
					ship.HitsTaken++
					if ship.sunk() {
						return FireResult{Hit: true, SunkShip: ship.Name}
					}
					return FireResult{Hit: true}
				}
			}
		}
		return FireResult{Hit: true}
	}
	b.display[row][col] = cellMiss
	return FireResult{}
}

// AllShipsSunk reports whether every placed ship has been fully hit.
func (b *Board) AllShipsSunk() bool {
	if len(b.placed) == 0 {
		return false
	}
	for _, s := range b.placed {
		if !s.sunk() {
			return false
		}
	}
	return true
}

// render builds the pipe-separated board text the original protocol sends:
// a header row of column numbers, then one row per letter-labeled grid row,
// all joined with '|'.
func render(grid [Size][Size]byte) string {
	var sb strings.Builder
	sb.WriteString("  ")
	for i := 0; i < Size; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(fmt.Sprintf("%2s", strconv.Itoa(i+1)))
	}
	sb.WriteByte('|')
	for r := 0; r < Size; r++ {
		sb.WriteString(fmt.Sprintf("%-2c ", rune('A'+r)))
		for c := 0; c < Size; c++ {
			if c > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteByte(grid[r][c])
		}
		sb.WriteByte('|')
	}
	return sb.String()
}

// DisplayGrid renders the public view: ships are never shown, only hits and
// misses. This is what spectators and opponents see.
func (b *Board) DisplayGrid() string { return render(b.display) }

// HiddenGrid renders the owner's own view, with ship placement visible.
func (b *Board) HiddenGrid() string { return render(b.hidden) }

// ParseCoordinate parses a grid reference such as "B5" (letter row, decimal
// column, case-insensitive, whitespace-trimmed) into zero-based row/col
// indices.
func ParseCoordinate(s string) (row, col int, err error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, 0, fmt.Errorf("coordinate %q too short", s)
	}
	s = strings.ToUpper(s)
	rowCh := s[0]
	if rowCh < 'A' || int(rowCh-'A') >= Size {
		return 0, 0, fmt.Errorf("coordinate %q has invalid row", s)
	}
	col, err = strconv.Atoi(s[1:])
	if err != nil {
		return 0, 0, fmt.Errorf("coordinate %q has invalid column: %w", s, err)
	}
	if col < 1 || col > Size {
		return 0, 0, fmt.Errorf("coordinate %q column out of range", s)
	}
	return int(rowCh - 'A'), col - 1, nil
}
