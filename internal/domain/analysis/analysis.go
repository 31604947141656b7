package analysis

import (
	"fmt"

	"baduk_relay/internal/domain/game"
)

// AnalysisRequest is one line written to KataGo's analysis engine stdin.
type AnalysisRequest struct {
	ID               string      `json:"id"`
	Moves            [][2]string `json:"moves"` // [["B","D4"], ["W","Q16"], ...]
	Rules            string      `json:"rules"`
	Komi             float64     `json:"komi"`
	BoardXSize       int         `json:"boardXSize"`
	BoardYSize       int         `json:"boardYSize"`
	IncludePolicy    bool        `json:"includePolicy"`
	IncludeOwnership bool        `json:"includeOwnership"`
	MaxVisits        int         `json:"maxVisits,omitempty"`
}

// Ответ KataGo с анализом позиции
type AnalysisResponse struct {
	ID             string     `json:"id"`
	TurnNumber     int        `json:"turnNumber"`
	IsDuringSearch bool       `json:"isDuringSearch"`
	RootInfo       RootInfo   `json:"rootInfo"`
	MoveInfos      []MoveInfo `json:"moveInfos"`
	Ownership      []float64  `json:"ownership,omitempty"`
	Policy         []float64  `json:"policy,omitempty"`

	// Set instead of the fields above when KataGo rejects a query.
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
	Field   string `json:"field,omitempty"`
}

type RootInfo struct {
	CurrentPlayer string  `json:"currentPlayer"` // "W" или "B"
	Winrate       float64 `json:"winrate"`
	ScoreLead     float64 `json:"scoreLead"`
	ScoreSelfplay float64 `json:"scoreSelfplay"`
	ScoreStdev    float64 `json:"scoreStdev"`
	Utility       float64 `json:"utility"`
	Visits        int     `json:"visits"`
}

type MoveInfo struct {
	Move      string   `json:"move"`
	Order     int      `json:"order"`
	Winrate   float64  `json:"winrate"`
	Visits    int      `json:"visits"`
	ScoreLead float64  `json:"scoreLead"`
	Prior     float64  `json:"prior"`
	PV        []string `json:"pv"`
}

// EngineError is KataGo's own report that it could not handle a query.
type EngineError struct {
	ID      string
	Message string
	Field   string
}

func (e *EngineError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("katago rejected query %s: %s (field %s)", e.ID, e.Message, e.Field)
	}
	return fmt.Sprintf("katago rejected query %s: %s", e.ID, e.Message)
}

// Job asks for one position of one game to be analysed. UUID is stable per
// game and is what the queue coalesces on.
type Job struct {
	Identity game.Identity
	UUID     string
	Sequence int64
	Moves    game.Moves
	Rules    string
	Komi     float64
}

func (j Job) QueryID() string {
	return fmt.Sprintf("%s_%d", j.UUID, j.Sequence)
}

type RequestOptions struct {
	MaxVisits     int
	IncludePolicy bool
}

// BuildRequest turns a job into the engine's wire query. Ownership is always
// requested since the statistics depend on it.
func BuildRequest(job Job, opts RequestOptions) AnalysisRequest {
	return AnalysisRequest{
		ID:               job.QueryID(),
		Moves:            job.Moves.ProtocolPairs(),
		Rules:            job.Rules,
		Komi:             job.Komi,
		BoardXSize:       game.BoardSize,
		BoardYSize:       game.BoardSize,
		IncludePolicy:    opts.IncludePolicy,
		IncludeOwnership: true,
		MaxVisits:        opts.MaxVisits,
	}
}
