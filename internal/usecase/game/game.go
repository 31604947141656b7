package game

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"baduk_relay/internal/domain/game"
	errs "baduk_relay/internal/errors"
)

type Defaults struct {
	Rules string
	Komi  float64
}

// Registry owns the state of every game the relay has heard about. Callers
// get copies; mutation goes through ApplyPosition and Update.
type Registry struct {
	defaults Defaults
	now      func() time.Time

	mu    sync.RWMutex
	games map[string]*game.Game
}

func NewRegistry(defaults Defaults) *Registry {
	return &Registry{
		defaults: defaults,
		now:      time.Now,
		games:    make(map[string]*game.Game),
	}
}

func (r *Registry) getOrCreateLocked(id game.Identity) *game.Game {
	if g, ok := r.games[id.Key()]; ok {
		return g
	}
	g := r.newGame(id)
	r.games[id.Key()] = g
	return g
}

func (r *Registry) newGame(id game.Identity) *game.Game {
	now := r.now()
	return &game.Game{
		Identity:      id,
		UUID:          uuid.New().String(),
		CurrentPlayer: game.Black,
		BoardSize:     game.BoardSize,
		Komi:          r.defaults.Komi,
		Rules:         r.defaults.Rules,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// GetOrCreate returns the game, registering it with a fresh uuid on first use.
func (r *Registry) GetOrCreate(id game.Identity) game.Game {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(id).Snapshot()
}

func (r *Registry) Get(id game.Identity) (game.Game, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.games[id.Key()]
	if !ok {
		return game.Game{}, fmt.Errorf("%w: %s", errs.ErrGameNotFound, id)
	}
	return g.Snapshot(), nil
}

// Update runs fn on the live game under the registry lock. fn must not block.
func (r *Registry) Update(id game.Identity, fn func(g *game.Game) error) (game.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[id.Key()]
	if !ok {
		return game.Game{}, fmt.Errorf("%w: %s", errs.ErrGameNotFound, id)
	}
	if err := fn(g); err != nil {
		return g.Snapshot(), err
	}
	g.UpdatedAt = r.now()
	return g.Snapshot(), nil
}

// Remove drops the game and returns its final state.
func (r *Registry) Remove(id game.Identity) (game.Game, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[id.Key()]
	if !ok {
		return game.Game{}, false
	}
	delete(r.games, id.Key())
	return g.Snapshot(), true
}

func (r *Registry) List() []game.Identity {
	r.mu.RLock()
	ids := make([]game.Identity, 0, len(r.games))
	for _, g := range r.games {
		ids = append(ids, g.Identity)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].Key() < ids[j].Key() })
	return ids
}

// ApplyPosition merges an upstream position into the game, creating it on
// first sight, and bumps its query counter. The returned snapshot is what
// the next analysis job should look at.
func (r *Registry) ApplyPosition(update game.PositionUpdate) (game.Game, error) {
	if update.Identity.ID == "" {
		return game.Game{}, errs.ErrInvalidGame
	}

	if err := validateMoves(update.Moves); err != nil {
		return game.Game{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// A rejected update must not leave a new, empty game behind.
	g, known := r.games[update.Identity.Key()]
	if !known {
		g = r.newGame(update.Identity)
	}
	if update.Incremental {
		if err := appendLiveMoves(g, update); err != nil {
			if !known {
				return game.Game{}, err
			}
			return g.Snapshot(), err
		}
	} else {
		g.Moves = update.Moves.Clone()
		g.LiveMoves = update.Moves.Clone()
	}

	g.CurrentPlayer = game.ColorToMove(len(g.LiveMoves))
	if update.CurrentPlayer.Valid() {
		g.CurrentPlayer = update.CurrentPlayer
	}
	if update.Players != nil {
		g.Players = *update.Players
	}
	if update.Rules != "" {
		g.Rules = update.Rules
	}
	if update.Komi != nil {
		g.Komi = *update.Komi
	}
	if update.Phase != "" {
		g.Phase = update.Phase
	}

	g.QueryCounter++
	g.UpdatedAt = r.now()
	if !known {
		r.games[update.Identity.Key()] = g
	}
	return g.Snapshot(), nil
}

// validateMoves refuses placements the engine would otherwise be sent in a
// different form than upstream meant.
func validateMoves(moves game.Moves) error {
	for i, m := range moves {
		if !m.Color.Valid() {
			return fmt.Errorf("%w: move %d has color %q", errs.ErrInvalidColor, i+1, m.Color)
		}
		if !m.Pass && !m.OnBoard() {
			return fmt.Errorf("%w: move %d at (%d,%d)", errs.ErrOutOfBounds, i+1, m.X, m.Y)
		}
	}
	return nil
}

// appendLiveMoves adds the moves the game does not have yet. MoveNumber is
// the move count after the update; zero means the moves simply follow on.
func appendLiveMoves(g *game.Game, update game.PositionUpdate) error {
	have := len(g.LiveMoves)
	first := have
	if update.MoveNumber > 0 {
		first = update.MoveNumber - len(update.Moves)
	}
	if first < 0 || first > have {
		return fmt.Errorf("%w: have %d moves, update starts at %d", errs.ErrMoveGap, have, first)
	}

	for i, m := range update.Moves {
		if first+i < have {
			continue
		}
		g.LiveMoves = append(g.LiveMoves, m)
	}
	return nil
}
