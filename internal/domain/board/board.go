// Package board replays Go move lists into a 19x19 grid, resolving captures
// and refusing suicide. It has no state of its own: callers rebuild the grid
// from the authoritative move list whenever they need it.
package board

import (
	"errors"
	"fmt"
	"strings"

	"baduk_relay/internal/domain/game"
	errs "baduk_relay/internal/errors"
)

const Size = game.BoardSize

type Stone uint8

const (
	Empty Stone = iota
	BlackStone
	WhiteStone
)

func StoneOf(c game.Color) Stone {
	if c == game.White {
		return WhiteStone
	}
	return BlackStone
}

func (s Stone) Opponent() Stone {
	switch s {
	case BlackStone:
		return WhiteStone
	case WhiteStone:
		return BlackStone
	}
	return Empty
}

// Grid is indexed [y][x]; y=0 is the top row ("19").
type Grid [Size][Size]Stone

func (g *Grid) At(x, y int) Stone {
	return g[y][x]
}

func (g *Grid) Count() (black, white int) {
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			switch g[y][x] {
			case BlackStone:
				black++
			case WhiteStone:
				white++
			}
		}
	}
	return black, white
}

// Rows renders the grid as nested ints (0 empty, 1 black, 2 white) for JSON.
func (g *Grid) Rows() [][]int {
	rows := make([][]int, Size)
	for y := 0; y < Size; y++ {
		rows[y] = make([]int, Size)
		for x := 0; x < Size; x++ {
			rows[y][x] = int(g[y][x])
		}
	}
	return rows
}

func (g *Grid) String() string {
	var sb strings.Builder
	sb.WriteString("   ")
	for x := 0; x < Size; x++ {
		coord, _ := game.FormatCoord(x, 0)
		sb.WriteByte(' ')
		sb.WriteByte(coord[0])
	}
	sb.WriteByte('\n')
	for y := 0; y < Size; y++ {
		fmt.Fprintf(&sb, "%2d ", Size-y)
		for x := 0; x < Size; x++ {
			sb.WriteByte(' ')
			switch g[y][x] {
			case BlackStone:
				sb.WriteByte('X')
			case WhiteStone:
				sb.WriteByte('O')
			default:
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// IllegalMoveError reports which move of a list could not be played.
type IllegalMoveError struct {
	Index int
	Move  game.Move
	Err   error
}

func (e *IllegalMoveError) Error() string {
	return fmt.Sprintf("move %d (%s): %v", e.Index, e.Move, e.Err)
}

func (e *IllegalMoveError) Unwrap() error {
	return e.Err
}

// Replay builds the grid for a move list. Illegal moves are skipped so that
// late or duplicated deliveries never poison the picture.
func Replay(moves game.Moves) Grid {
	var g Grid
	for _, m := range moves {
		_ = PlayMove(&g, m)
	}
	return g
}

// Verify replays the list and reports the first move that could not be
// played as given.
func Verify(moves game.Moves) error {
	var g Grid
	for i, m := range moves {
		if err := PlayMove(&g, m); err != nil {
			return &IllegalMoveError{Index: i, Move: m, Err: err}
		}
	}
	return nil
}

// PlayMove places a stone and resolves captures. Passes are no-ops. When the
// move is rejected the grid is left exactly as it was.
func PlayMove(g *Grid, m game.Move) error {
	if m.Pass {
		return nil
	}
	if !m.OnBoard() {
		return fmt.Errorf("%w: (%d,%d)", errs.ErrOutOfBounds, m.X, m.Y)
	}
	if g[m.Y][m.X] != Empty {
		return fmt.Errorf("%w: %s", errs.ErrOccupied, m.Coordinate())
	}

	own := StoneOf(m.Color)
	g[m.Y][m.X] = own

	captured := 0
	for _, n := range neighbours(m.X, m.Y) {
		if g[n.y][n.x] != own.Opponent() {
			continue
		}
		group, libs := groupAt(g, n.x, n.y)
		if libs == 0 {
			removeGroup(g, group)
			captured += len(group)
		}
	}

	if captured == 0 {
		if _, libs := groupAt(g, m.X, m.Y); libs == 0 {
			// Nothing was captured, so taking the stone back restores the
			// grid exactly.
			g[m.Y][m.X] = Empty
			return fmt.Errorf("%w: %s", errs.ErrSuicide, m.Coordinate())
		}
	}
	return nil
}

// IsRuleViolation reports whether err came from PlayMove rejecting a move.
func IsRuleViolation(err error) bool {
	return errors.Is(err, errs.ErrOutOfBounds) ||
		errors.Is(err, errs.ErrOccupied) ||
		errors.Is(err, errs.ErrSuicide)
}

type point struct {
	x, y int
}

func neighbours(x, y int) []point {
	pts := make([]point, 0, 4)
	if x > 0 {
		pts = append(pts, point{x - 1, y})
	}
	if x < Size-1 {
		pts = append(pts, point{x + 1, y})
	}
	if y > 0 {
		pts = append(pts, point{x, y - 1})
	}
	if y < Size-1 {
		pts = append(pts, point{x, y + 1})
	}
	return pts
}

// groupAt flood-fills the group containing (x, y) and counts its distinct
// liberties.
func groupAt(g *Grid, x, y int) ([]point, int) {
	color := g[y][x]
	var seen [Size][Size]bool
	var libSeen [Size][Size]bool

	group := []point{{x, y}}
	seen[y][x] = true
	libs := 0
	for i := 0; i < len(group); i++ {
		p := group[i]
		for _, n := range neighbours(p.x, p.y) {
			switch g[n.y][n.x] {
			case Empty:
				if !libSeen[n.y][n.x] {
					libSeen[n.y][n.x] = true
					libs++
				}
			case color:
				if !seen[n.y][n.x] {
					seen[n.y][n.x] = true
					group = append(group, n)
				}
			}
		}
	}
	return group, libs
}

func removeGroup(g *Grid, group []point) {
	for _, p := range group {
		g[p.y][p.x] = Empty
	}
}
