package repository

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"baduk_relay/internal/bootstrap"
	"baduk_relay/internal/domain/analysis"
	errs "baduk_relay/internal/errors"
)

const (
	closeGracePeriod = 5 * time.Second
	// stderr usually ends a moment after stdout; its last lines explain a crash.
	stderrDrainTimeout = time.Second
	maxLineSize      = 8 << 20
)

// stderr lines containing one of these are surfaced at error level.
var stderrErrorMarkers = []string{"error", "exception", "uncaught"}

type queryResult struct {
	resp analysis.AnalysisResponse
	err  error
}

// KatagoClient owns one KataGo analysis process: it writes queries to its
// stdin and matches the JSON lines on its stdout back to the callers by id.
type KatagoClient struct {
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	writer       *bufio.Writer
	log          *zap.SugaredLogger
	parseRetries int
	readyMarker  string

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan queryResult
	order   []string // outstanding ids, oldest first
	exitErr error

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	// closed once stderr hits EOF; cmd.Wait must not run before that.
	stderrDone chan struct{}
}

// StartKatagoClient spawns the engine and waits until it reports being ready.
func StartKatagoClient(ctx context.Context, cfg *bootstrap.Config, log *zap.SugaredLogger) (*KatagoClient, error) {
	cmd := exec.Command(cfg.KatagoPath, cfg.KatagoArgs()...)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start katago: %w", err)
	}
	log.Infow("katago process started", "pid", cmd.Process.Pid, "path", cfg.KatagoPath, "args", cfg.KatagoArgs())

	client := newKatagoClient(cmd, stdinPipe, stdoutPipe, stderrPipe, cfg.KatagoParseRetries, cfg.KatagoReadyMarker, log)

	if err := client.waitReady(ctx, cfg.KatagoStartupTimeout); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}
	log.Info("katago is ready to handle requests")
	return client, nil
}

func newKatagoClient(cmd *exec.Cmd, stdin io.WriteCloser, stdout, stderr io.Reader, parseRetries int, readyMarker string, log *zap.SugaredLogger) *KatagoClient {
	c := &KatagoClient{
		cmd:          cmd,
		stdin:        stdin,
		writer:       bufio.NewWriter(stdin),
		log:          log,
		parseRetries: parseRetries,
		readyMarker:  readyMarker,
		pending:      make(map[string]chan queryResult),
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
		stderrDone:   make(chan struct{}),
	}
	if readyMarker == "" {
		c.markReady()
	}

	if stderr != nil {
		go c.drainStderr(stderr)
	} else {
		close(c.stderrDone)
	}
	go c.listenForResponses(stdout)
	return c
}

func (c *KatagoClient) waitReady(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.ready:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: %v", errs.ErrEngineStartup, c.Err())
	case <-timer.C:
		return fmt.Errorf("%w: no %q within %s", errs.ErrEngineStartup, c.readyMarker, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *KatagoClient) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// Query sends one analysis request and blocks until KataGo answers it, the
// process dies or ctx is done.
func (c *KatagoClient) Query(ctx context.Context, request analysis.AnalysisRequest) (analysis.AnalysisResponse, error) {
	responseChan := make(chan queryResult, 1)

	c.mu.Lock()
	if c.exitErr != nil {
		err := c.exitErr
		c.mu.Unlock()
		return analysis.AnalysisResponse{}, err
	}
	if _, dup := c.pending[request.ID]; dup {
		c.mu.Unlock()
		return analysis.AnalysisResponse{}, fmt.Errorf("query %s is already in flight", request.ID)
	}
	c.pending[request.ID] = responseChan
	c.order = append(c.order, request.ID)
	c.mu.Unlock()

	requestJSON, err := json.Marshal(request)
	if err != nil {
		c.take(request.ID)
		return analysis.AnalysisResponse{}, fmt.Errorf("failed to marshal query: %w", err)
	}

	started := time.Now()
	c.writeMu.Lock()
	_, err = c.writer.Write(append(requestJSON, '\n'))
	if err == nil {
		err = c.writer.Flush()
	}
	c.writeMu.Unlock()
	if err != nil {
		c.take(request.ID)
		return analysis.AnalysisResponse{}, fmt.Errorf("%w: write query: %v", errs.ErrEngineNotRunning, err)
	}

	select {
	case res := <-responseChan:
		if res.err == nil {
			c.log.Debugw("katago answered", "id", request.ID, "took", time.Since(started))
		}
		return res.resp, res.err
	case <-ctx.Done():
		c.take(request.ID)
		return analysis.AnalysisResponse{}, fmt.Errorf("query %s: %w", request.ID, ctx.Err())
	}
}

// listenForResponses reads stdout until the process goes away. A line that
// does not parse is kept and joined with the following lines, up to
// parseRetries more, before the oldest caller is failed.
func (c *KatagoClient) listenForResponses(stdout io.Reader) {
	reader := bufio.NewReaderSize(stdout, 64<<10)
	var buf []byte
	attempts := 0

	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > maxLineSize {
			c.log.Errorw("katago output line too long, dropping", "bytes", len(line))
			line = nil
		}
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			buf = append(buf, trimmed...)

			var resp analysis.AnalysisResponse
			switch {
			case json.Unmarshal(buf, &resp) == nil:
				c.dispatch(resp)
				buf, attempts = nil, 0
			case len(buf) > len(trimmed) && json.Unmarshal(trimmed, &resp) == nil:
				c.log.Warnw("discarding unparsable katago output", "bytes", len(buf)-len(trimmed))
				c.dispatch(resp)
				buf, attempts = nil, 0
			case attempts < c.parseRetries:
				attempts++
				c.log.Debugw("incomplete katago output, waiting for more", "attempt", attempts)
			default:
				c.log.Errorw("failed to unmarshal katago response", "line", truncate(string(buf), 200))
				c.rejectOldest(fmt.Errorf("%w after %d attempts", errs.ErrMalformedResponse, attempts+1))
				buf, attempts = nil, 0
			}
		}

		if readErr != nil {
			if readErr != io.EOF {
				c.log.Errorw("katago stdout read failed", "error", readErr)
			}
			break
		}
	}

	select {
	case <-c.stderrDone:
	case <-time.After(stderrDrainTimeout):
		c.log.Warn("katago stderr still open after stdout closed")
	}

	exitErr := errs.ErrEngineExited
	if c.cmd != nil {
		if waitErr := c.cmd.Wait(); waitErr != nil {
			exitErr = fmt.Errorf("%w: %v", errs.ErrEngineExited, waitErr)
		}
	}
	c.log.Errorw("katago process is gone", "error", exitErr)
	c.failAll(exitErr)
}

func (c *KatagoClient) dispatch(resp analysis.AnalysisResponse) {
	if resp.IsDuringSearch {
		return
	}

	if resp.Error != "" {
		engineErr := &analysis.EngineError{ID: resp.ID, Message: resp.Error, Field: resp.Field}
		if resp.ID == "" {
			// KataGo could not even read the id, so it belongs to whoever
			// has been waiting longest.
			c.log.Errorw("katago reported an error without id", "error", resp.Error)
			c.rejectOldest(engineErr)
			return
		}
		if ch, ok := c.take(resp.ID); ok {
			ch <- queryResult{err: engineErr}
			return
		}
		c.log.Warnw("katago error for unknown query", "id", resp.ID, "error", resp.Error)
		return
	}

	if resp.Warning != "" {
		c.log.Warnw("katago warning", "id", resp.ID, "field", resp.Field, "warning", resp.Warning)
		return
	}

	ch, ok := c.take(resp.ID)
	if !ok {
		c.log.Warnw("no pending query for katago response", "id", resp.ID)
		return
	}
	ch <- queryResult{resp: resp}
}

func (c *KatagoClient) take(id string) (chan queryResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.pending[id]
	if !ok {
		return nil, false
	}
	delete(c.pending, id)
	for i, pendingID := range c.order {
		if pendingID == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return ch, true
}

func (c *KatagoClient) rejectOldest(err error) {
	c.mu.Lock()
	if len(c.order) == 0 {
		c.mu.Unlock()
		c.log.Warnw("katago protocol error with nothing outstanding", "error", err)
		return
	}
	id := c.order[0]
	c.order = c.order[1:]
	ch := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	c.log.Errorw("rejecting oldest katago query", "id", id, "error", err)
	ch <- queryResult{err: err}
}

func (c *KatagoClient) failAll(err error) {
	c.mu.Lock()
	c.exitErr = err
	pending := c.pending
	c.pending = make(map[string]chan queryResult)
	c.order = nil
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- queryResult{err: err}
	}
	close(c.done)
}

func (c *KatagoClient) drainStderr(stderr io.Reader) {
	defer close(c.stderrDone)
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if c.readyMarker != "" && strings.Contains(line, c.readyMarker) {
			c.markReady()
		}
		if hasErrorMarker(line) {
			c.log.Errorw("katago stderr", "line", line)
			continue
		}
		c.log.Debugw("katago stderr", "line", line)
	}
}

func hasErrorMarker(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range stderrErrorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Done is closed once the process has exited and every caller was released.
func (c *KatagoClient) Done() <-chan struct{} {
	return c.done
}

func (c *KatagoClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}

func (c *KatagoClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Close shuts stdin so KataGo exits on its own, then kills it if it is still
// around after the grace period.
func (c *KatagoClient) Close() error {
	c.writeMu.Lock()
	err := c.stdin.Close()
	c.writeMu.Unlock()

	select {
	case <-c.done:
		return err
	case <-time.After(closeGracePeriod):
	}

	if c.cmd != nil && c.cmd.Process != nil {
		c.log.Warn("katago did not exit after stdin closed, killing it")
		return c.cmd.Process.Kill()
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
