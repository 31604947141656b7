package game

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"baduk_relay/internal/domain/board"
	"baduk_relay/internal/domain/game"
	errs "baduk_relay/internal/errors"
	"baduk_relay/internal/httpresponse"
	"baduk_relay/internal/repository"
	gameuc "baduk_relay/internal/usecase/game"
	"baduk_relay/internal/utils"
)

const (
	defaultHistoryLimit = 20
	maxSGFSize          = 1 << 20
)

type RelayService interface {
	OnPosition(ctx context.Context, update game.PositionUpdate) (game.Game, error)
	Game(id game.Identity) (game.Game, error)
	Games() []game.Identity
	Forget(id game.Identity) bool
}

type Viewers interface {
	ServeWS(w http.ResponseWriter, r *http.Request, id game.Identity)
	Forget(id game.Identity)
}

type LatestStore interface {
	Latest(ctx context.Context, id game.Identity) (game.Publication, bool, error)
}

type Archive interface {
	Recent(ctx context.Context, id game.Identity, limit int64) ([]repository.AnalysisDocument, error)
}

type HealthChecker interface {
	Serving() bool
}

type GameHandler struct {
	log     *zap.SugaredLogger
	relay   RelayService
	viewers Viewers
	health  HealthChecker
	latest  LatestStore
	archive Archive
}

func NewGameHandler(log *zap.SugaredLogger, relay RelayService, viewers Viewers, health HealthChecker) *GameHandler {
	return &GameHandler{
		log:     log,
		relay:   relay,
		viewers: viewers,
		health:  health,
	}
}

// WithLatestStore lets the analysis endpoint fall back to a shared cache
// for games this process has not analysed yet.
func (g *GameHandler) WithLatestStore(latest LatestStore) *GameHandler {
	g.latest = latest
	return g
}

func (g *GameHandler) WithArchive(archive Archive) *GameHandler {
	g.archive = archive
	return g
}

func (g *GameHandler) Routes(r chi.Router) {
	r.Get("/health", g.HandleHealth)
	r.Post("/positions", g.HandlePosition)
	r.Get("/games", g.HandleListGames)
	r.Route("/games/{kind}/{id}", func(r chi.Router) {
		r.Get("/", g.HandleGetGame)
		r.Delete("/", g.HandleForgetGame)
		r.Get("/analysis", g.HandleLatestAnalysis)
		r.Get("/history", g.HandleHistory)
		r.Get("/board", g.HandleBoard)
		r.Get("/sgf", g.HandleSGF)
		r.Put("/sgf", g.HandleUploadSGF)
		r.Get("/ws", g.HandleWatch)
	})
}

type positionAccepted struct {
	Game         game.Identity `json:"game"`
	UUID         string        `json:"uuid"`
	MoveNumber   int           `json:"move_number"`
	QueryCounter int64         `json:"query_counter"`
}

func (g *GameHandler) HandlePosition(w http.ResponseWriter, r *http.Request) {
	var update game.PositionUpdate
	if err := utils.DecodeJSONRequest(r, &update); err != nil {
		g.log.Warnw("bad position update", "error", err)
		httpresponse.WriteErrorWithStatus(w, http.StatusBadRequest, err.Error())
		return
	}

	kind, err := game.ParseKind(string(update.Identity.Kind))
	if err != nil {
		httpresponse.WriteErrorWithStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	update.Identity.Kind = kind

	g.accept(w, r, update)
}

// HandleUploadSGF replaces the game's moves with the main line of an SGF
// record sent as the request body.
func (g *GameHandler) HandleUploadSGF(w http.ResponseWriter, r *http.Request) {
	id, ok := g.identity(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSGFSize)
	data, err := utils.ReadRequestBody(r)
	if err != nil {
		httpresponse.WriteErrorWithStatus(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	record, err := gameuc.ParseSGF(string(data))
	if err != nil {
		httpresponse.WriteErrorWithStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	update, err := gameuc.ReviewUpdate(id, record)
	if err != nil {
		httpresponse.WriteErrorWithStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	g.accept(w, r, update)
}

func (g *GameHandler) accept(w http.ResponseWriter, r *http.Request, update game.PositionUpdate) {
	played, err := g.relay.OnPosition(r.Context(), update)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrInvalidGame), errors.Is(err, errs.ErrOutOfBounds), errors.Is(err, errs.ErrInvalidColor):
		httpresponse.WriteErrorWithStatus(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, errs.ErrMoveGap):
		httpresponse.WriteErrorWithStatus(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, errs.ErrQueueClosed):
		httpresponse.WriteErrorWithStatus(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		g.log.Errorw("failed to accept position", "game", update.Identity.Key(), "error", err)
		httpresponse.WriteInternalErrorResponse(w)
		return
	}

	httpresponse.WriteResponseWithStatus(w, http.StatusAccepted, positionAccepted{
		Game:         played.Identity,
		UUID:         played.UUID,
		MoveNumber:   len(played.LiveMoves),
		QueryCounter: played.QueryCounter,
	})
}

func (g *GameHandler) HandleListGames(w http.ResponseWriter, r *http.Request) {
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, g.relay.Games())
}

// identity reads {kind}/{id} from the path, writing a 400 when it is bad.
func (g *GameHandler) identity(w http.ResponseWriter, r *http.Request) (game.Identity, bool) {
	kind, err := game.ParseKind(chi.URLParam(r, "kind"))
	id := chi.URLParam(r, "id")
	if err != nil || id == "" {
		httpresponse.WriteErrorWithStatus(w, http.StatusBadRequest, "unknown game kind or empty id")
		return game.Identity{}, false
	}
	return game.Identity{Kind: kind, ID: id}, true
}

// lookup loads the game, writing a 404 when the relay does not know it.
func (g *GameHandler) lookup(w http.ResponseWriter, r *http.Request) (game.Game, bool) {
	id, ok := g.identity(w, r)
	if !ok {
		return game.Game{}, false
	}
	found, err := g.relay.Game(id)
	if err != nil {
		g.writeLookupError(w, err)
		return game.Game{}, false
	}
	return found, true
}

func (g *GameHandler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, errs.ErrGameNotFound) {
		httpresponse.WriteErrorWithStatus(w, http.StatusNotFound, err.Error())
		return
	}
	g.log.Error(err)
	httpresponse.WriteInternalErrorResponse(w)
}

func (g *GameHandler) HandleGetGame(w http.ResponseWriter, r *http.Request) {
	found, ok := g.lookup(w, r)
	if !ok {
		return
	}
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, found)
}

func (g *GameHandler) HandleForgetGame(w http.ResponseWriter, r *http.Request) {
	id, ok := g.identity(w, r)
	if !ok {
		return
	}
	if !g.relay.Forget(id) {
		httpresponse.WriteErrorWithStatus(w, http.StatusNotFound, errs.ErrGameNotFound.Error())
		return
	}
	g.viewers.Forget(id)
	g.log.Infow("game forgotten", "game", id.Key())
	w.WriteHeader(http.StatusNoContent)
}

func (g *GameHandler) HandleLatestAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := g.identity(w, r)
	if !ok {
		return
	}

	found, err := g.relay.Game(id)
	if err == nil {
		if latest, ok := found.Latest(); ok {
			httpresponse.WriteResponseWithStatus(w, http.StatusOK, latest)
			return
		}
	} else if !errors.Is(err, errs.ErrGameNotFound) {
		g.writeLookupError(w, err)
		return
	}

	if g.latest != nil {
		pub, ok, err := g.latest.Latest(r.Context(), id)
		if err != nil {
			g.log.Warnw("latest analysis cache lookup failed", "game", id.Key(), "error", err)
		} else if ok {
			httpresponse.WriteResponseWithStatus(w, http.StatusOK, pub.Statistics)
			return
		}
	}
	httpresponse.WriteErrorWithStatus(w, http.StatusNotFound, "no analysis yet")
}

func (g *GameHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := g.identity(w, r)
	if !ok {
		return
	}
	if g.archive == nil {
		httpresponse.WriteErrorWithStatus(w, http.StatusNotImplemented, "analysis archive is not configured")
		return
	}

	limit := int64(defaultHistoryLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			httpresponse.WriteErrorWithStatus(w, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		limit = parsed
	}

	docs, err := g.archive.Recent(r.Context(), id, limit)
	if err != nil {
		g.log.Errorw("failed to read analysis archive", "game", id.Key(), "error", err)
		httpresponse.WriteInternalErrorResponse(w)
		return
	}
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, docs)
}

type boardResponse struct {
	Board         [][]int    `json:"board"`
	MoveNumber    int        `json:"move_number"`
	CurrentPlayer game.Color `json:"current_player"`
	BlackStones   int        `json:"black_stones"`
	WhiteStones   int        `json:"white_stones"`
	LastMove      *game.Move `json:"last_move,omitempty"`
}

func (g *GameHandler) HandleBoard(w http.ResponseWriter, r *http.Request) {
	found, ok := g.lookup(w, r)
	if !ok {
		return
	}

	grid := board.Replay(found.LiveMoves)
	black, white := grid.Count()
	resp := boardResponse{
		Board:         grid.Rows(),
		MoveNumber:    len(found.LiveMoves),
		CurrentPlayer: found.CurrentPlayer,
		BlackStones:   black,
		WhiteStones:   white,
	}
	if last, ok := found.LiveMoves.Last(); ok {
		resp.LastMove = &last
	}
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, resp)
}

func (g *GameHandler) HandleSGF(w http.ResponseWriter, r *http.Request) {
	found, ok := g.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/x-go-sgf")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+found.Identity.ID+".sgf\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(gameuc.ExportSGF(found)))
}

func (g *GameHandler) HandleWatch(w http.ResponseWriter, r *http.Request) {
	id, ok := g.identity(w, r)
	if !ok {
		return
	}
	g.viewers.ServeWS(w, r, id)
}

type healthResponse struct {
	Engine string `json:"engine"`
}

func (g *GameHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if g.health != nil && !g.health.Serving() {
		httpresponse.WriteResponseWithStatus(w, http.StatusServiceUnavailable, healthResponse{Engine: "down"})
		return
	}
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, healthResponse{Engine: "up"})
}
