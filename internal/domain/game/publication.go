package game

// Publication is what viewers receive after each completed analysis.
type Publication struct {
	Game       Identity   `json:"game" bson:"game"`
	UUID       string     `json:"uuid" bson:"uuid"`
	Statistics Statistics `json:"statistics" bson:"statistics"`
	Board      [][]int    `json:"board" bson:"board"`
	LastMove   *Move      `json:"last_move,omitempty" bson:"last_move,omitempty"`
	Players    Players    `json:"players" bson:"players"`
}
