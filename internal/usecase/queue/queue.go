// Package queue serialises analysis jobs onto the single engine process.
// Jobs for the same game are coalesced at dequeue time so the engine only
// ever sees the newest position of each game.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"baduk_relay/internal/domain/analysis"
	errs "baduk_relay/internal/errors"
)

type Analyzer interface {
	Query(ctx context.Context, request analysis.AnalysisRequest) (analysis.AnalysisResponse, error)
}

type ResultHandler interface {
	HandleResult(ctx context.Context, job analysis.Job, resp analysis.AnalysisResponse) error
}

type Config struct {
	JobTimeout time.Duration
	Request    analysis.RequestOptions
}

type AnalysisQueue struct {
	analyzer Analyzer
	handler  ResultHandler
	cfg      Config
	log      *zap.SugaredLogger

	mu       sync.Mutex
	backlog  []analysis.Job
	inFlight *analysis.Job
	closed   bool

	wake    chan struct{}
	stopped chan struct{}
}

func NewAnalysisQueue(analyzer Analyzer, handler ResultHandler, cfg Config, log *zap.SugaredLogger) *AnalysisQueue {
	return &AnalysisQueue{
		analyzer: analyzer,
		handler:  handler,
		cfg:      cfg,
		log:      log,
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
}

// Submit appends a job to the backlog. It never waits for the engine.
func (q *AnalysisQueue) Submit(job analysis.Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errs.ErrQueueClosed
	}
	q.backlog = append(q.backlog, job)
	size := len(q.backlog)
	q.mu.Unlock()

	q.log.Debugw("analysis job queued", "game", job.Identity.Key(), "seq", job.Sequence, "backlog", size)
	q.signal()
	return nil
}

// Drop removes every queued job of the game instance with this uuid. A job
// already with the analyzer is left to finish.
func (q *AnalysisQueue) Drop(uuid string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.backlog[:0]
	for _, job := range q.backlog {
		if job.UUID != uuid {
			kept = append(kept, job)
		}
	}
	dropped := len(q.backlog) - len(kept)
	clear(q.backlog[len(kept):])
	q.backlog = kept
	return dropped
}

func (q *AnalysisQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run drives jobs through the analyzer one at a time until ctx is done or
// the queue is closed and drained.
func (q *AnalysisQueue) Run(ctx context.Context) {
	defer close(q.stopped)
	for {
		job, ok := q.next()
		if !ok {
			if q.isClosed() {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		q.process(ctx, job)
		q.finish()

		if ctx.Err() != nil {
			return
		}
	}
}

// next pops the head of the backlog and folds every later job of the same
// game into it, keeping the most recently submitted one.
func (q *AnalysisQueue) next() (analysis.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.backlog) == 0 {
		return analysis.Job{}, false
	}

	retained := q.backlog[0]
	rest := make([]analysis.Job, 0, len(q.backlog)-1)
	dropped := 0
	for _, job := range q.backlog[1:] {
		if job.UUID == retained.UUID {
			retained = job
			dropped++
			continue
		}
		rest = append(rest, job)
	}
	q.backlog = rest
	q.inFlight = &retained

	if dropped > 0 {
		q.log.Debugw("coalesced stale analysis jobs", "game", retained.Identity.Key(), "dropped", dropped, "seq", retained.Sequence)
	}
	return retained, true
}

func (q *AnalysisQueue) finish() {
	q.mu.Lock()
	q.inFlight = nil
	q.mu.Unlock()
}

func (q *AnalysisQueue) process(ctx context.Context, job analysis.Job) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Errorw("analysis job panicked", "game", job.Identity.Key(), "seq", job.Sequence, "panic", fmt.Sprint(r))
		}
	}()

	queryCtx := ctx
	if q.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, q.cfg.JobTimeout)
		defer cancel()
	}

	request := analysis.BuildRequest(job, q.cfg.Request)
	started := time.Now()
	resp, err := q.analyzer.Query(queryCtx, request)
	if err != nil {
		q.log.Errorw("analysis query failed", "game", job.Identity.Key(), "id", request.ID, "error", err)
		return
	}

	if err := q.handler.HandleResult(ctx, job, resp); err != nil {
		q.log.Errorw("failed to handle analysis result", "game", job.Identity.Key(), "id", request.ID, "error", err)
		return
	}
	q.log.Infow("position analysed", "game", job.Identity.Key(), "moves", len(job.Moves), "took", time.Since(started))
}

func (q *AnalysisQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *AnalysisQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Busy reports whether a job is currently with the analyzer.
func (q *AnalysisQueue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight != nil
}

// Close stops accepting jobs and waits for Run to return, up to timeout.
func (q *AnalysisQueue) Close(timeout time.Duration) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()

	select {
	case <-q.stopped:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("analysis queue shutdown timeout exceeded")
	}
}
