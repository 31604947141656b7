package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"baduk_relay/internal/domain/board"
	"baduk_relay/internal/domain/game"
)

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <moves...>",
		Short: "Print the board after a move sequence",
		Long: "Moves alternate colours starting with black, e.g. \"d16 q4 pass c3\".\n" +
			"A colour prefix such as \"w:q4\" overrides the alternation.",
		Args: cobra.MinimumNArgs(1),
		RunE: runReplayCmd,
	}
}

func runReplayCmd(cmd *cobra.Command, args []string) error {
	moves, err := parseMoveList(args)
	if err != nil {
		return err
	}

	grid := board.Replay(moves)
	out := cmd.OutOrStdout()
	fmt.Fprint(out, grid.String())

	black, white := grid.Count()
	fmt.Fprintf(out, "moves: %d  black stones: %d  white stones: %d  to play: %s\n",
		len(moves), black, white, game.ColorToMove(len(moves)))

	var illegal *board.IllegalMoveError
	if err := board.Verify(moves); errors.As(err, &illegal) {
		fmt.Fprintf(out, "skipped illegal move %d (%s): %v\n", illegal.Index+1, illegal.Move, illegal.Err)
	}
	return nil
}

// parseMoveList accepts coordinates separated by spaces, commas or semicolons.
func parseMoveList(args []string) (game.Moves, error) {
	tokens := strings.FieldsFunc(strings.Join(args, " "), func(r rune) bool {
		return r == ' ' || r == ',' || r == ';'
	})

	moves := make(game.Moves, 0, len(tokens))
	for i, token := range tokens {
		color := game.ColorToMove(len(moves))
		coord := token
		if prefix, rest, ok := strings.Cut(token, ":"); ok {
			c, err := game.ParseColor(prefix)
			if err != nil {
				return nil, fmt.Errorf("move %d: %w", i+1, err)
			}
			color, coord = c, rest
		}
		m, err := game.ParseMove(color, coord)
		if err != nil {
			return nil, fmt.Errorf("move %d: %w", i+1, err)
		}
		moves = append(moves, m)
	}
	return moves, nil
}
