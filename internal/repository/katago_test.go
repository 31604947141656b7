package repository

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"baduk_relay/internal/domain/analysis"
	errs "baduk_relay/internal/errors"
)

// fakeEngine plays the KataGo side of the pipes.
type fakeEngine struct {
	t        *testing.T
	requests chan analysis.AnalysisRequest
	stdout   *io.PipeWriter
	stderr   *io.PipeWriter
}

func startFakeEngine(t *testing.T, parseRetries int, readyMarker string) (*KatagoClient, *fakeEngine) {
	t.Helper()
	return startFakeEngineWithLog(t, parseRetries, readyMarker, zap.NewNop().Sugar())
}

func startFakeEngineWithLog(t *testing.T, parseRetries int, readyMarker string, log *zap.SugaredLogger) (*KatagoClient, *fakeEngine) {
	t.Helper()
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	engine := &fakeEngine{
		t:        t,
		requests: make(chan analysis.AnalysisRequest, 16),
		stdout:   stdoutW,
		stderr:   stderrW,
	}
	go func() {
		scanner := bufio.NewScanner(stdinR)
		for scanner.Scan() {
			var req analysis.AnalysisRequest
			if err := json.Unmarshal(scanner.Bytes(), &req); err == nil {
				engine.requests <- req
			}
		}
	}()

	client := newKatagoClient(nil, stdinW, stdoutR, stderrR, parseRetries, readyMarker, log)
	t.Cleanup(func() {
		_ = stdoutW.Close()
		_ = stderrW.Close()
		_ = stdinW.Close()
	})
	return client, engine
}

func (e *fakeEngine) nextRequest() analysis.AnalysisRequest {
	e.t.Helper()
	select {
	case req := <-e.requests:
		return req
	case <-time.After(2 * time.Second):
		e.t.Fatal("engine did not receive a request")
		return analysis.AnalysisRequest{}
	}
}

func (e *fakeEngine) writeLine(s string) {
	e.t.Helper()
	_, err := io.WriteString(e.stdout, s+"\n")
	require.NoError(e.t, err)
}

func (e *fakeEngine) reply(id string, winrate float64) {
	e.writeLine(fmt.Sprintf(`{"id":%q,"turnNumber":0,"isDuringSearch":false,"rootInfo":{"winrate":%v,"scoreLead":1.5,"currentPlayer":"B"},"moveInfos":[{"move":"D4","order":0,"visits":10}],"ownership":[0.5]}`, id, winrate))
}

type result struct {
	resp analysis.AnalysisResponse
	err  error
}

func queryAsync(client *KatagoClient, ctx context.Context, id string) <-chan result {
	out := make(chan result, 1)
	go func() {
		resp, err := client.Query(ctx, analysis.AnalysisRequest{ID: id, Rules: "japanese", BoardXSize: 19, BoardYSize: 19})
		out <- result{resp, err}
	}()
	return out
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("query did not complete")
		return result{}
	}
}

func TestKatagoClientQuery(t *testing.T) {
	client, engine := startFakeEngine(t, 2, "")

	pending := queryAsync(client, context.Background(), "g1_1")
	req := engine.nextRequest()
	require.Equal(t, "g1_1", req.ID)
	require.Equal(t, 19, req.BoardXSize)

	engine.reply("g1_1", 0.61)

	r := await(t, pending)
	require.NoError(t, r.err)
	require.Equal(t, "g1_1", r.resp.ID)
	require.InDelta(t, 0.61, r.resp.RootInfo.Winrate, 1e-9)
	require.Equal(t, []float64{0.5}, r.resp.Ownership)
	require.Zero(t, client.Pending())
}

func TestKatagoClientMatchesById(t *testing.T) {
	client, engine := startFakeEngine(t, 2, "")

	first := queryAsync(client, context.Background(), "a")
	engine.nextRequest()
	second := queryAsync(client, context.Background(), "b")
	engine.nextRequest()

	engine.reply("b", 0.2)
	engine.reply("a", 0.8)

	ra := await(t, first)
	rb := await(t, second)
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	require.InDelta(t, 0.8, ra.resp.RootInfo.Winrate, 1e-9)
	require.InDelta(t, 0.2, rb.resp.RootInfo.Winrate, 1e-9)
}

func TestKatagoClientMalformedOutput(t *testing.T) {
	t.Run("split line is reassembled", func(t *testing.T) {
		client, engine := startFakeEngine(t, 2, "")
		pending := queryAsync(client, context.Background(), "split")
		engine.nextRequest()

		engine.writeLine(`{"id":"split","rootInfo":`)
		engine.writeLine(`{"winrate":0.4}}`)

		r := await(t, pending)
		require.NoError(t, r.err)
		require.InDelta(t, 0.4, r.resp.RootInfo.Winrate, 1e-9)
	})

	t.Run("oldest caller rejected once retries run out", func(t *testing.T) {
		client, engine := startFakeEngine(t, 2, "")
		oldest := queryAsync(client, context.Background(), "old")
		engine.nextRequest()
		newest := queryAsync(client, context.Background(), "new")
		engine.nextRequest()

		engine.writeLine("garbage")
		engine.writeLine("more garbage")
		engine.writeLine("still garbage")

		r := await(t, oldest)
		require.ErrorIs(t, r.err, errs.ErrMalformedResponse)
		require.Equal(t, 1, client.Pending())

		engine.reply("new", 0.5)
		r = await(t, newest)
		require.NoError(t, r.err)
	})

	t.Run("valid line after garbage is still delivered", func(t *testing.T) {
		client, engine := startFakeEngine(t, 5, "")
		pending := queryAsync(client, context.Background(), "x")
		engine.nextRequest()

		engine.writeLine("KataGo noise")
		engine.reply("x", 0.3)

		r := await(t, pending)
		require.NoError(t, r.err)
	})
}

func TestKatagoClientEngineErrors(t *testing.T) {
	client, engine := startFakeEngine(t, 2, "")
	pending := queryAsync(client, context.Background(), "bad")
	engine.nextRequest()

	engine.writeLine(`{"id":"bad","field":"rules","warning":"unknown rules, using default"}`)
	engine.writeLine(`{"id":"bad","field":"moves","error":"illegal move"}`)

	r := await(t, pending)
	var engineErr *analysis.EngineError
	require.True(t, errors.As(r.err, &engineErr))
	require.Equal(t, "moves", engineErr.Field)
}

func TestKatagoClientProcessExit(t *testing.T) {
	client, engine := startFakeEngine(t, 2, "")
	first := queryAsync(client, context.Background(), "1")
	engine.nextRequest()
	second := queryAsync(client, context.Background(), "2")
	engine.nextRequest()

	require.NoError(t, engine.stdout.Close())
	require.NoError(t, engine.stderr.Close())

	require.ErrorIs(t, await(t, first).err, errs.ErrEngineExited)
	require.ErrorIs(t, await(t, second).err, errs.ErrEngineExited)

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("Done should be closed after exit")
	}

	_, err := client.Query(context.Background(), analysis.AnalysisRequest{ID: "3"})
	require.ErrorIs(t, err, errs.ErrEngineExited)
}

func TestKatagoClientReadsStderrBeforeExit(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	client, engine := startFakeEngineWithLog(t, 2, "", zap.New(core).Sugar())

	require.NoError(t, engine.stdout.Close())
	_, err := io.WriteString(engine.stderr, "Uncaught exception: could not open model file\n")
	require.NoError(t, err)
	require.NoError(t, engine.stderr.Close())

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done should be closed after exit")
	}
	require.Equal(t, 1, logs.FilterMessage("katago stderr").FilterField(zap.String("line", "Uncaught exception: could not open model file")).Len())
}

func TestKatagoClientQueryTimeout(t *testing.T) {
	client, engine := startFakeEngine(t, 2, "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	pending := queryAsync(client, ctx, "slow")
	engine.nextRequest()

	r := await(t, pending)
	require.ErrorIs(t, r.err, context.DeadlineExceeded)
	require.Zero(t, client.Pending())

	// A late answer for the abandoned query is dropped quietly.
	engine.reply("slow", 0.5)
	next := queryAsync(client, context.Background(), "next")
	engine.nextRequest()
	engine.reply("next", 0.5)
	require.NoError(t, await(t, next).err)
}

func TestKatagoClientWaitsForReadyMarker(t *testing.T) {
	client, engine := startFakeEngine(t, 2, "ready to begin")

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() { errCh <- client.waitReady(ctx, time.Second) }()

	_, err := io.WriteString(engine.stderr, "Loading model...\nStarted, ready to begin handling requests\n")
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	other, _ := startFakeEngine(t, 2, "never printed")
	require.ErrorIs(t, other.waitReady(ctx, 20*time.Millisecond), errs.ErrEngineStartup)
}
