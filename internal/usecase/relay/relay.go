// Package relay ties position updates from the game service to the engine
// queue, and engine results back out to viewers.
package relay

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"baduk_relay/internal/domain/analysis"
	"baduk_relay/internal/domain/board"
	"baduk_relay/internal/domain/game"
	errs "baduk_relay/internal/errors"
	analysisuc "baduk_relay/internal/usecase/analysis"
	gameuc "baduk_relay/internal/usecase/game"
)

type Publisher interface {
	Publish(ctx context.Context, pub game.Publication) error
}

type Submitter interface {
	Submit(job analysis.Job) error
}

// backlogPruner is implemented by queues that can discard the pending jobs
// of a game instance before they reach the engine.
type backlogPruner interface {
	Drop(uuid string) int
}

type Relay struct {
	registry  *gameuc.Registry
	processor *analysisuc.Processor
	publisher Publisher
	queue     Submitter
	log       *zap.SugaredLogger
}

func NewRelay(registry *gameuc.Registry, processor *analysisuc.Processor, publisher Publisher, log *zap.SugaredLogger) *Relay {
	return &Relay{
		registry:  registry,
		processor: processor,
		publisher: publisher,
		log:       log,
	}
}

// Bind sets the queue positions are submitted to. The queue in turn hands
// its results back through HandleResult, so it is wired after construction.
func (r *Relay) Bind(queue Submitter) {
	r.queue = queue
}

// OnPosition records an upstream position and schedules its analysis.
func (r *Relay) OnPosition(ctx context.Context, update game.PositionUpdate) (game.Game, error) {
	g, err := r.registry.ApplyPosition(update)
	if err != nil {
		return g, err
	}

	if err := board.Verify(g.LiveMoves); err != nil {
		// The engine has the final word; it will reject the query if it agrees.
		r.log.Warnw("position does not replay cleanly", "game", g.Identity.Key(), "error", err)
	}

	job := analysis.Job{
		Identity: g.Identity,
		UUID:     g.UUID,
		Sequence: g.QueryCounter,
		Moves:    g.LiveMoves.Clone(),
		Rules:    g.Rules,
		Komi:     g.Komi,
	}
	if r.queue == nil {
		return g, errors.New("relay has no queue bound")
	}
	if err := r.queue.Submit(job); err != nil {
		return g, fmt.Errorf("submit analysis job: %w", err)
	}
	r.log.Debugw("position accepted", "game", g.Identity.Key(), "moves", len(g.LiveMoves), "seq", g.QueryCounter)
	return g, nil
}

// HandleResult turns an engine reply into statistics and publishes them.
func (r *Relay) HandleResult(ctx context.Context, job analysis.Job, resp analysis.AnalysisResponse) error {
	var stats game.Statistics
	g, err := r.registry.Update(job.Identity, func(g *game.Game) error {
		if g.UUID != job.UUID {
			return errs.ErrStaleResult
		}
		stats = r.processor.Process(g, job, resp)
		return nil
	})
	if errors.Is(err, errs.ErrStaleResult) {
		r.log.Infow("dropping result for a recreated game", "game", job.Identity.Key(), "uuid", job.UUID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("record statistics: %w", err)
	}

	grid := board.Replay(job.Moves)
	pub := game.Publication{
		Game:       job.Identity,
		UUID:       job.UUID,
		Statistics: stats,
		Board:      grid.Rows(),
		Players:    g.Players,
	}
	if last, ok := job.Moves.Last(); ok {
		pub.LastMove = &last
	}

	if err := r.publisher.Publish(ctx, pub); err != nil {
		return fmt.Errorf("publish analysis: %w", err)
	}
	return nil
}

func (r *Relay) Game(id game.Identity) (game.Game, error) {
	return r.registry.Get(id)
}

func (r *Relay) Games() []game.Identity {
	return r.registry.List()
}

// Forget drops the game and any of its jobs still waiting in the queue.
func (r *Relay) Forget(id game.Identity) bool {
	removed, ok := r.registry.Remove(id)
	if !ok {
		return false
	}
	if pruner, ok := r.queue.(backlogPruner); ok {
		if dropped := pruner.Drop(removed.UUID); dropped > 0 {
			r.log.Debugw("dropped queued jobs of forgotten game", "game", id.Key(), "jobs", dropped)
		}
	}
	return true
}
