package game

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"baduk_relay/internal/domain/game"
	"baduk_relay/internal/domain/sgf"
	errs "baduk_relay/internal/errors"
)

// ParseSGF reads a record into its game tree. Only the first game of a
// collection is kept.
func ParseSGF(data string) (*sgf.SGF, error) {
	p := &sgfParser{data: data}
	p.skipSpace()
	if !p.consume('(') {
		return nil, fmt.Errorf("%w: record must start with '('", errs.ErrInvalidSGF)
	}
	tree, err := p.parseTree()
	if err != nil {
		return nil, err
	}
	return &sgf.SGF{Root: tree}, nil
}

type sgfParser struct {
	data string
	pos  int
}

func (p *sgfParser) skipSpace() {
	for p.pos < len(p.data) && strings.ContainsRune(" \t\r\n", rune(p.data[p.pos])) {
		p.pos++
	}
}

func (p *sgfParser) consume(c byte) bool {
	if p.pos < len(p.data) && p.data[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

// parseTree expects the opening '(' to be consumed already.
func (p *sgfParser) parseTree() (*sgf.GameTree, error) {
	tree := &sgf.GameTree{}
	for {
		p.skipSpace()
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("%w: unexpected end of record", errs.ErrInvalidSGF)
		}
		switch p.data[p.pos] {
		case ';':
			p.pos++
			node, err := p.parseNode()
			if err != nil {
				return nil, err
			}
			tree.Nodes = append(tree.Nodes, node)
		case '(':
			p.pos++
			child, err := p.parseTree()
			if err != nil {
				return nil, err
			}
			tree.Children = append(tree.Children, child)
		case ')':
			p.pos++
			return tree, nil
		default:
			return nil, fmt.Errorf("%w: unexpected %q at offset %d", errs.ErrInvalidSGF, p.data[p.pos], p.pos)
		}
	}
}

func (p *sgfParser) parseNode() (sgf.Node, error) {
	node := sgf.Node{Properties: map[string][]string{}}
	for {
		p.skipSpace()
		start := p.pos
		for p.pos < len(p.data) && p.data[p.pos] >= 'A' && p.data[p.pos] <= 'Z' {
			p.pos++
		}
		if start == p.pos {
			return node, nil
		}
		key := p.data[start:p.pos]

		values := []string{}
		for {
			p.skipSpace()
			if !p.consume('[') {
				break
			}
			value, err := p.parseValue()
			if err != nil {
				return node, err
			}
			values = append(values, value)
		}
		if len(values) == 0 {
			return node, fmt.Errorf("%w: property %s has no value", errs.ErrInvalidSGF, key)
		}
		node.Properties[key] = append(node.Properties[key], values...)
	}
}

func (p *sgfParser) parseValue() (string, error) {
	var sb strings.Builder
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		p.pos++
		switch c {
		case '\\':
			if p.pos < len(p.data) {
				sb.WriteByte(p.data[p.pos])
				p.pos++
			}
		case ']':
			return sb.String(), nil
		default:
			sb.WriteByte(c)
		}
	}
	return "", fmt.Errorf("%w: unterminated value", errs.ErrInvalidSGF)
}

// MainLine follows the first variation from the root to the end of the game.
func MainLine(tree *sgf.GameTree) []sgf.Node {
	var nodes []sgf.Node
	for tree != nil {
		nodes = append(nodes, tree.Nodes...)
		if len(tree.Children) == 0 {
			break
		}
		tree = tree.Children[0]
	}
	return nodes
}

// ReviewUpdate turns a record into a full position update for the given
// game. Setup stones (AB/AW) are not supported since the engine only gets
// a move list.
func ReviewUpdate(id game.Identity, record *sgf.SGF) (game.PositionUpdate, error) {
	nodes := MainLine(record.Root)
	if len(nodes) == 0 {
		return game.PositionUpdate{}, fmt.Errorf("%w: empty record", errs.ErrInvalidSGF)
	}
	root := nodes[0].Properties

	if size := first(root, "SZ"); size != "" && size != strconv.Itoa(game.BoardSize) {
		return game.PositionUpdate{}, fmt.Errorf("%w: board size %s", errs.ErrInvalidSGF, size)
	}
	if len(root["AB"]) > 0 || len(root["AW"]) > 0 {
		return game.PositionUpdate{}, fmt.Errorf("%w: setup stones", errs.ErrInvalidSGF)
	}

	update := game.PositionUpdate{
		Identity: id,
		Moves:    game.Moves{},
		Rules:    strings.ToLower(first(root, "RU")),
		Players: &game.Players{
			Black: game.Player{Name: first(root, "PB"), Rank: first(root, "BR")},
			White: game.Player{Name: first(root, "PW"), Rank: first(root, "WR")},
		},
	}
	if km := first(root, "KM"); km != "" {
		komi, err := strconv.ParseFloat(km, 64)
		if err != nil {
			return game.PositionUpdate{}, fmt.Errorf("%w: komi %q", errs.ErrInvalidSGF, km)
		}
		update.Komi = &komi
	}

	for i, node := range nodes {
		for _, color := range []game.Color{game.Black, game.White} {
			values, ok := node.Properties[strings.ToUpper(string(color))]
			if !ok {
				continue
			}
			move, err := sgfMove(color, values[0])
			if err != nil {
				return game.PositionUpdate{}, fmt.Errorf("node %d: %w", i, err)
			}
			update.Moves = append(update.Moves, move)
		}
	}
	return update, nil
}

func first(props map[string][]string, key string) string {
	if values := props[key]; len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}

// sgfMove decodes "dd"-style points. An empty value, or "tt" on a 19x19
// board, is a pass.
func sgfMove(color game.Color, value string) (game.Move, error) {
	if value == "" || value == "tt" {
		return game.NewPass(color), nil
	}
	if len(value) != 2 {
		return game.Move{}, fmt.Errorf("%w: point %q", errs.ErrInvalidSGF, value)
	}
	move := game.NewMove(color, int(value[0]-'a'), int(value[1]-'a'))
	if !move.OnBoard() {
		return game.Move{}, fmt.Errorf("%w: point %q", errs.ErrOutOfBounds, value)
	}
	return move, nil
}

// LoadReviewDirectory reads every .sgf file under root. Each game is named
// after its file, without the extension. Files that fail to parse are
// skipped and reported together.
func LoadReviewDirectory(root string) ([]game.PositionUpdate, error) {
	var (
		updates []game.PositionUpdate
		errAll  error
	)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".sgf") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			errAll = multierr.Append(errAll, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		record, err := ParseSGF(string(data))
		if err != nil {
			errAll = multierr.Append(errAll, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		id := game.Identity{Kind: game.KindReview, ID: strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))}
		update, err := ReviewUpdate(id, record)
		if err != nil {
			errAll = multierr.Append(errAll, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		updates = append(updates, update)
		return nil
	})
	return updates, multierr.Append(walkErr, errAll)
}
