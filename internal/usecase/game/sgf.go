package game

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"baduk_relay/internal/domain/game"
	"baduk_relay/internal/domain/sgf"
)

// фиксированный порядок свойств SGF
var orderedKeys = []string{"FF", "GM", "SZ", "PB", "BR", "PW", "WR", "DT", "RE", "KM", "RU", "C", "B", "W"}

func PrepareSgfFile(g game.Game) sgf.SGF {
	size := g.BoardSize
	if size == 0 {
		size = game.BoardSize
	}
	props := map[string][]string{
		"FF": {"4"},
		"GM": {"1"},
		"SZ": {strconv.Itoa(size)},
		"PB": {g.Players.Black.Name},
		"PW": {g.Players.White.Name},
		"DT": {g.CreatedAt.Format("2006-01-02")},
		"KM": {strconv.FormatFloat(g.Komi, 'f', 1, 64)},
		"C":  {fmt.Sprintf("%s game %s", g.Identity.Kind, g.Identity.ID)},
	}
	if g.Players.Black.Rank != "" {
		props["BR"] = []string{g.Players.Black.Rank}
	}
	if g.Players.White.Rank != "" {
		props["WR"] = []string{g.Players.White.Rank}
	}
	if g.Rules != "" {
		props["RU"] = []string{g.Rules}
	}

	return sgf.SGF{
		Root: &sgf.GameTree{Nodes: []sgf.Node{{Properties: props}}},
	}
}

func AddMovesToSgf(tree *sgf.GameTree, moves game.Moves) {
	for _, move := range moves {
		value := ""
		if !move.Pass {
			value = sgf.Point(move.X, move.Y)
		}
		tree.Nodes = append(tree.Nodes, sgf.Node{
			Properties: map[string][]string{
				strings.ToUpper(string(move.Color)): {value},
			},
		})
	}
}

// ExportSGF renders the game's current line as an SGF record.
func ExportSGF(g game.Game) string {
	record := PrepareSgfFile(g)
	AddMovesToSgf(record.Root, g.LiveMoves)
	return SerializeSGF(&record)
}

func SerializeSGF(s *sgf.SGF) string {
	var builder strings.Builder
	builder.WriteString("(")
	serializeGameTree(&builder, s.Root)
	builder.WriteString(")")
	return builder.String()
}

func serializeGameTree(builder *strings.Builder, tree *sgf.GameTree) {
	for _, node := range tree.Nodes {
		builder.WriteString(";")

		used := make(map[string]bool)
		for _, key := range orderedKeys {
			if values, ok := node.Properties[key]; ok {
				used[key] = true
				writeProperty(builder, key, values)
			}
		}

		rest := make([]string, 0, len(node.Properties))
		for key := range node.Properties {
			if !used[key] {
				rest = append(rest, key)
			}
		}
		sort.Strings(rest)
		for _, key := range rest {
			writeProperty(builder, key, node.Properties[key])
		}
	}

	for _, child := range tree.Children {
		builder.WriteString("(")
		serializeGameTree(builder, child)
		builder.WriteString(")")
	}
}

func writeProperty(builder *strings.Builder, key string, values []string) {
	builder.WriteString(key)
	for _, v := range values {
		builder.WriteString("[" + sgf.Escape(v) + "]")
	}
}
