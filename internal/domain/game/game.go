package game

import (
	"fmt"
	"time"
)

type Kind string

const (
	KindLive   Kind = "live"
	KindReview Kind = "review"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindLive, KindReview:
		return Kind(s), nil
	case "game", "":
		return KindLive, nil
	case "demo":
		return KindReview, nil
	}
	return "", fmt.Errorf("unknown game kind %q", s)
}

// Identity names a game on the upstream service. Live games and reviews
// share an id space upstream, so the kind is part of the key.
type Identity struct {
	Kind Kind   `json:"kind" bson:"kind"`
	ID   string `json:"id" bson:"id"`
}

func (i Identity) Key() string {
	return string(i.Kind) + ":" + i.ID
}

func (i Identity) String() string {
	return i.Key()
}

type Player struct {
	Name string `json:"name" bson:"name"`
	Rank string `json:"rank,omitempty" bson:"rank,omitempty"`
}

type Players struct {
	Black Player `json:"black" bson:"black"`
	White Player `json:"white" bson:"white"`
}

type Game struct {
	Identity      Identity     `json:"game" bson:"game"`
	UUID          string       `json:"uuid" bson:"uuid"`
	Moves         Moves        `json:"moves" bson:"moves"`
	LiveMoves     Moves        `json:"live_moves" bson:"live_moves"`
	CurrentPlayer Color        `json:"current_player" bson:"current_player"`
	QueryCounter  int64        `json:"query_counter" bson:"query_counter"`
	History       []Statistics `json:"history" bson:"history"`
	Players       Players      `json:"players" bson:"players"`
	BoardSize     int          `json:"board_size" bson:"board_size"`
	Komi          float64      `json:"komi" bson:"komi"`
	Rules         string       `json:"rules" bson:"rules"`
	Phase         string       `json:"phase" bson:"phase"`
	CreatedAt     time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" bson:"updated_at"`
}

// Latest returns the most recent statistics, if any were computed.
func (g *Game) Latest() (Statistics, bool) {
	if len(g.History) == 0 {
		return Statistics{}, false
	}
	return g.History[0], true
}

// Snapshot returns a deep enough copy to hand out of the registry lock.
func (g *Game) Snapshot() Game {
	cp := *g
	cp.Moves = g.Moves.Clone()
	cp.LiveMoves = g.LiveMoves.Clone()
	cp.History = append([]Statistics(nil), g.History...)
	return cp
}

// PositionUpdate is what the upstream game-service client hands over when a
// game reports a new position.
type PositionUpdate struct {
	Identity      Identity `json:"game"`
	Moves         Moves    `json:"moves"`
	Incremental   bool     `json:"incremental"`
	MoveNumber    int      `json:"move_number,omitempty"`
	CurrentPlayer Color    `json:"current_player,omitempty"`
	Players       *Players `json:"players,omitempty"`
	Rules         string   `json:"rules,omitempty"`
	Komi          *float64 `json:"komi,omitempty"`
	Phase         string   `json:"phase,omitempty"`
}
