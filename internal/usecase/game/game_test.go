package game

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"baduk_relay/internal/domain/game"
	errs "baduk_relay/internal/errors"
)

var liveGame = game.Identity{Kind: game.KindLive, ID: "1001"}

func newTestRegistry() *Registry {
	r := NewRegistry(Defaults{Rules: "japanese", Komi: 6.5})
	r.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func moves(coords ...string) game.Moves {
	out := make(game.Moves, 0, len(coords))
	for i, c := range coords {
		color := game.ColorToMove(i)
		if c == game.PassToken {
			out = append(out, game.NewPass(color))
			continue
		}
		m, err := game.ParseMove(color, c)
		if err != nil {
			panic(err)
		}
		out = append(out, m)
	}
	return out
}

func TestRegistryGetOrCreate(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Get(liveGame)
	require.ErrorIs(t, err, errs.ErrGameNotFound)

	first := r.GetOrCreate(liveGame)
	second := r.GetOrCreate(liveGame)
	require.NotEmpty(t, first.UUID)
	require.Equal(t, first.UUID, second.UUID, "uuid is assigned once")
	require.Equal(t, "japanese", first.Rules)
	require.Equal(t, 6.5, first.Komi)
	require.Equal(t, game.Black, first.CurrentPlayer)

	review := r.GetOrCreate(game.Identity{Kind: game.KindReview, ID: "1001"})
	require.NotEqual(t, first.UUID, review.UUID, "kind is part of the identity")
	require.Len(t, r.List(), 2)

	removed, ok := r.Remove(liveGame)
	require.True(t, ok)
	require.Equal(t, liveGame, removed.Identity)
	_, ok = r.Remove(liveGame)
	require.False(t, ok)
	_, err = r.Get(liveGame)
	require.ErrorIs(t, err, errs.ErrGameNotFound)
}

func TestRegistrySnapshotsAreCopies(t *testing.T) {
	r := newTestRegistry()
	_, err := r.ApplyPosition(game.PositionUpdate{Identity: liveGame, Moves: moves("D16", "Q4")})
	require.NoError(t, err)

	snap, err := r.Get(liveGame)
	require.NoError(t, err)
	snap.LiveMoves[0] = game.NewPass(game.Black)

	again, err := r.Get(liveGame)
	require.NoError(t, err)
	require.False(t, again.LiveMoves[0].Pass)
}

func TestApplyPositionFullReplacement(t *testing.T) {
	r := newTestRegistry()
	komi := 7.5

	g, err := r.ApplyPosition(game.PositionUpdate{
		Identity: liveGame,
		Moves:    moves("D16", "Q4", "C3"),
		Players:  &game.Players{Black: game.Player{Name: "lee", Rank: "9p"}},
		Komi:     &komi,
		Rules:    "chinese",
		Phase:    "playing",
	})
	require.NoError(t, err)
	require.Len(t, g.Moves, 3)
	require.Len(t, g.LiveMoves, 3)
	require.Equal(t, game.White, g.CurrentPlayer)
	require.Equal(t, int64(1), g.QueryCounter)
	require.Equal(t, 7.5, g.Komi)
	require.Equal(t, "chinese", g.Rules)
	require.Equal(t, "lee", g.Players.Black.Name)

	// A review scrubbing backwards replaces the line wholesale.
	g, err = r.ApplyPosition(game.PositionUpdate{Identity: liveGame, Moves: moves("D16")})
	require.NoError(t, err)
	require.Len(t, g.LiveMoves, 1)
	require.Equal(t, int64(2), g.QueryCounter)
	require.Equal(t, 7.5, g.Komi, "absent fields keep their values")
}

func TestApplyPositionIncremental(t *testing.T) {
	r := newTestRegistry()
	_, err := r.ApplyPosition(game.PositionUpdate{Identity: liveGame, Moves: moves("D16", "Q4")})
	require.NoError(t, err)

	t.Run("appends new moves", func(t *testing.T) {
		m, err := game.ParseMove(game.Black, "C3")
		require.NoError(t, err)
		g, err := r.ApplyPosition(game.PositionUpdate{
			Identity: liveGame, Incremental: true, MoveNumber: 3, Moves: game.Moves{m},
		})
		require.NoError(t, err)
		require.Len(t, g.LiveMoves, 3)
		require.Len(t, g.Moves, 2, "the authoritative list only changes on full updates")
		require.Equal(t, game.White, g.CurrentPlayer)
	})

	t.Run("repeated moves are skipped", func(t *testing.T) {
		all := moves("D16", "Q4", "C3", "R16")
		g, err := r.ApplyPosition(game.PositionUpdate{
			Identity: liveGame, Incremental: true, MoveNumber: 4, Moves: all[2:],
		})
		require.NoError(t, err)
		require.Len(t, g.LiveMoves, 4)
		last, _ := g.LiveMoves.Last()
		require.Equal(t, "R16", last.Coordinate())
	})

	t.Run("gap is rejected", func(t *testing.T) {
		before, err := r.Get(liveGame)
		require.NoError(t, err)

		g, err := r.ApplyPosition(game.PositionUpdate{
			Identity: liveGame, Incremental: true, MoveNumber: 9, Moves: moves("D16"),
		})
		require.True(t, errors.Is(err, errs.ErrMoveGap))
		require.Len(t, g.LiveMoves, 4)
		require.Equal(t, before.QueryCounter, g.QueryCounter)
	})

	t.Run("explicit current player wins", func(t *testing.T) {
		g, err := r.ApplyPosition(game.PositionUpdate{
			Identity: liveGame, Incremental: true, Moves: game.Moves{game.NewPass(game.Black)}, CurrentPlayer: game.Black,
		})
		require.NoError(t, err)
		require.Len(t, g.LiveMoves, 5)
		require.Equal(t, game.Black, g.CurrentPlayer)
	})
}

func TestApplyPositionRejectsEmptyIdentity(t *testing.T) {
	_, err := newTestRegistry().ApplyPosition(game.PositionUpdate{})
	require.ErrorIs(t, err, errs.ErrInvalidGame)
}

func TestApplyPositionRejectsOffBoardMoves(t *testing.T) {
	r := newTestRegistry()
	_, err := r.ApplyPosition(game.PositionUpdate{Identity: liveGame, Moves: moves("D16", "Q4")})
	require.NoError(t, err)

	for _, bad := range []game.Move{
		game.NewMove(game.White, 25, 4),
		game.NewMove(game.White, 3, -1),
		game.NewMove(game.White, 3, game.BoardSize),
	} {
		g, err := r.ApplyPosition(game.PositionUpdate{Identity: liveGame, Moves: game.Moves{game.NewMove(game.Black, 3, 3), bad}})
		require.ErrorIs(t, err, errs.ErrOutOfBounds)
		require.Contains(t, err.Error(), "move 2")
		require.Empty(t, g.UUID)
	}

	_, err = r.ApplyPosition(game.PositionUpdate{Identity: liveGame, Moves: game.Moves{{Color: "x", X: 1, Y: 1}}})
	require.ErrorIs(t, err, errs.ErrInvalidColor)

	stored, err := r.Get(liveGame)
	require.NoError(t, err)
	require.Equal(t, moves("D16", "Q4"), stored.LiveMoves)
	require.Equal(t, int64(1), stored.QueryCounter)
}

func TestRejectedUpdateDoesNotRegisterGame(t *testing.T) {
	r := newTestRegistry()
	other := game.Identity{Kind: game.KindLive, ID: "2002"}

	_, err := r.ApplyPosition(game.PositionUpdate{Identity: other, Incremental: true, MoveNumber: 5, Moves: moves("D16")})
	require.ErrorIs(t, err, errs.ErrMoveGap)
	_, err = r.ApplyPosition(game.PositionUpdate{Identity: other, Moves: game.Moves{game.NewMove(game.Black, 19, 0)}})
	require.ErrorIs(t, err, errs.ErrOutOfBounds)

	require.Empty(t, r.List())
	_, err = r.Get(other)
	require.ErrorIs(t, err, errs.ErrGameNotFound)

	g, err := r.ApplyPosition(game.PositionUpdate{Identity: other, Incremental: true, MoveNumber: 1, Moves: moves("D16")})
	require.NoError(t, err)
	require.Len(t, g.LiveMoves, 1)
	require.Equal(t, []game.Identity{other}, r.List())
}

func TestRegistryUpdate(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Update(liveGame, func(*game.Game) error { return nil })
	require.ErrorIs(t, err, errs.ErrGameNotFound)

	r.GetOrCreate(liveGame)
	g, err := r.Update(liveGame, func(g *game.Game) error {
		g.Phase = "scoring"
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "scoring", g.Phase)
}

func TestRegistryConcurrentPositions(t *testing.T) {
	r := newTestRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.ApplyPosition(game.PositionUpdate{Identity: liveGame, Moves: moves("D16")})
		}()
	}
	wg.Wait()

	g, err := r.Get(liveGame)
	require.NoError(t, err)
	require.Equal(t, int64(50), g.QueryCounter)
}
