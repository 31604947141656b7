package game

import "time"

type SuggestionRole string

const (
	RolePrimary   SuggestionRole = "primary"
	RoleSecondary SuggestionRole = "secondary"
	RoleTertiary  SuggestionRole = "tertiary"
)

var SuggestionRoles = []SuggestionRole{RolePrimary, RoleSecondary, RoleTertiary}

type Suggestion struct {
	Role    SuggestionRole `json:"role" bson:"role"`
	X       int            `json:"x" bson:"x"`
	Y       int            `json:"y" bson:"y"`
	Coord   string         `json:"coord" bson:"coord"`
	Order   int            `json:"order" bson:"order"`
	Visits  int            `json:"visits" bson:"visits"`
	Winrate float64        `json:"winrate" bson:"winrate"`
}

// Buckets holds per-colour confidence sums, most confident first.
type Buckets struct {
	Black []float64 `json:"black" bson:"black"`
	White []float64 `json:"white" bson:"white"`
}

// @name Statistics
type Statistics struct {
	QueryID       string       `json:"query_id" bson:"query_id"`
	MoveNumber    int          `json:"move_number" bson:"move_number"`
	CurrentPlayer Color        `json:"current_player" bson:"current_player"`
	Winrate       float64      `json:"winrate" bson:"winrate"`
	BlackWinrate  float64      `json:"black_winrate" bson:"black_winrate"`
	WhiteWinrate  float64      `json:"white_winrate" bson:"white_winrate"`
	ScoreLead     float64      `json:"score_lead" bson:"score_lead"`
	HumanBlack    float64      `json:"human_black_winrate" bson:"human_black_winrate"`
	HumanWhite    float64      `json:"human_white_winrate" bson:"human_white_winrate"`
	Tiers         Buckets      `json:"tiers" bson:"tiers"`
	Confidence    Buckets      `json:"confidence" bson:"confidence"`
	BlackScore    float64      `json:"black_territory" bson:"black_territory"`
	WhiteScore    float64      `json:"white_territory" bson:"white_territory"`
	LastMoveValue *float64     `json:"last_move_value,omitempty" bson:"last_move_value,omitempty"`
	Suggestions   []Suggestion `json:"suggestions" bson:"suggestions"`
	ComputedAt    time.Time    `json:"computed_at" bson:"computed_at"`
}

// WinrateFor returns the engine win rate for the given colour in percent.
func (s Statistics) WinrateFor(c Color) float64 {
	if c == White {
		return s.WhiteWinrate
	}
	return s.BlackWinrate
}
