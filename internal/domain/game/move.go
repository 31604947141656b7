package game

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	errs "baduk_relay/internal/errors"
)

const (
	BoardSize = 19
	PassToken = "pass"

	// columnLetters skips "I" as Go coordinates always do.
	columnLetters = "ABCDEFGHJKLMNOPQRST"
)

// @name Color
type Color string

const (
	Black Color = "b"
	White Color = "w"
)

func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "b", "black":
		return Black, nil
	case "w", "white":
		return White, nil
	}
	return "", fmt.Errorf("%w: %q", errs.ErrInvalidColor, s)
}

func (c Color) Opponent() Color {
	if c == Black {
		return White
	}
	return Black
}

func (c Color) Valid() bool {
	return c == Black || c == White
}

// ColorToMove follows the convention that black plays move index 0.
func ColorToMove(moveCount int) Color {
	if moveCount%2 == 0 {
		return Black
	}
	return White
}

// Move is either a stone placement at 0-based (X, Y) or a pass.
// Y counts from the top edge, so row "19" is Y=0.
//
// @name Move
type Move struct {
	Color Color
	X     int
	Y     int
	Pass  bool
}

func NewMove(color Color, x, y int) Move {
	return Move{Color: color, X: x, Y: y}
}

func NewPass(color Color) Move {
	return Move{Color: color, Pass: true}
}

func (m Move) OnBoard() bool {
	return !m.Pass && m.X >= 0 && m.X < BoardSize && m.Y >= 0 && m.Y < BoardSize
}

// Coordinate returns the engine-facing coordinate, e.g. "D16" or "pass".
// An off-board placement renders as "(x,y)", which the engine rejects.
func (m Move) Coordinate() string {
	if m.Pass {
		return PassToken
	}
	coord, err := FormatCoord(m.X, m.Y)
	if err != nil {
		return fmt.Sprintf("(%d,%d)", m.X, m.Y)
	}
	return coord
}

func (m Move) String() string {
	return string(m.Color) + " " + m.Coordinate()
}

// MarshalJSON encodes the move as [color, x, y] or [color, "pass"].
func (m Move) MarshalJSON() ([]byte, error) {
	if m.Pass {
		return json.Marshal([]any{m.Color, PassToken})
	}
	return json.Marshal([]any{m.Color, m.X, m.Y})
}

// UnmarshalJSON accepts [color, x, y], [color, "pass"] and
// [color, "d16"] / [color, "d", "16"] coordinate forms.
func (m *Move) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("move must be an array: %w", err)
	}
	if len(raw) < 2 || len(raw) > 3 {
		return fmt.Errorf("move must have 2 or 3 elements, got %d", len(raw))
	}

	var colorStr string
	if err := json.Unmarshal(raw[0], &colorStr); err != nil {
		return fmt.Errorf("move color: %w", err)
	}
	color, err := ParseColor(colorStr)
	if err != nil {
		return err
	}

	if len(raw) == 2 {
		var coord string
		if err := json.Unmarshal(raw[1], &coord); err != nil {
			return fmt.Errorf("move coordinate: %w", err)
		}
		parsed, err := ParseMove(color, coord)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	}

	var x, y int
	if json.Unmarshal(raw[1], &x) == nil && json.Unmarshal(raw[2], &y) == nil {
		*m = NewMove(color, x, y)
		return nil
	}

	var col, row string
	if err := json.Unmarshal(raw[1], &col); err != nil {
		return fmt.Errorf("move column: %w", err)
	}
	if err := json.Unmarshal(raw[2], &row); err != nil {
		return fmt.Errorf("move row: %w", err)
	}
	parsed, err := ParseMove(color, col+row)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func ParseMove(color Color, coord string) (Move, error) {
	if strings.EqualFold(strings.TrimSpace(coord), PassToken) {
		return NewPass(color), nil
	}
	x, y, err := ParseCoord(coord)
	if err != nil {
		return Move{}, err
	}
	return NewMove(color, x, y), nil
}

// ParseCoord converts "D16" (case-insensitive) into grid indices.
func ParseCoord(coord string) (x, y int, err error) {
	coord = strings.ToUpper(strings.TrimSpace(coord))
	if len(coord) < 2 {
		return 0, 0, fmt.Errorf("%w: %q", errs.ErrInvalidCoordinate, coord)
	}
	x = strings.IndexByte(columnLetters, coord[0])
	if x < 0 {
		return 0, 0, fmt.Errorf("%w: bad column in %q", errs.ErrInvalidCoordinate, coord)
	}
	row, err := strconv.Atoi(coord[1:])
	if err != nil || row < 1 || row > BoardSize {
		return 0, 0, fmt.Errorf("%w: bad row in %q", errs.ErrInvalidCoordinate, coord)
	}
	return x, BoardSize - row, nil
}

func FormatCoord(x, y int) (string, error) {
	if x < 0 || x >= BoardSize || y < 0 || y >= BoardSize {
		return "", fmt.Errorf("%w: (%d,%d)", errs.ErrOutOfBounds, x, y)
	}
	return fmt.Sprintf("%c%d", columnLetters[x], BoardSize-y), nil
}

// @name Moves
type Moves []Move

// ProtocolPairs renders the list in the engine's [[color, coord], ...] form.
func (ms Moves) ProtocolPairs() [][2]string {
	pairs := make([][2]string, 0, len(ms))
	for _, m := range ms {
		pairs = append(pairs, [2]string{strings.ToUpper(string(m.Color)), m.Coordinate()})
	}
	return pairs
}

func (ms Moves) Clone() Moves {
	if ms == nil {
		return nil
	}
	out := make(Moves, len(ms))
	copy(out, ms)
	return out
}

func (ms Moves) Last() (Move, bool) {
	if len(ms) == 0 {
		return Move{}, false
	}
	return ms[len(ms)-1], true
}
