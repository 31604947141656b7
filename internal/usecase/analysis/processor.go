package analysis

import (
	"math"
	"sort"
	"strings"
	"time"

	"baduk_relay/internal/domain/analysis"
	"baduk_relay/internal/domain/game"
)

const (
	// humanLevel calibrates HumanWinrate to the rank band viewers see.
	humanLevel = 7.0

	// komiBucketOffset is added to white's least confident bucket so the
	// territory bars line up with the score once komi is counted.
	komiBucketOffset = 7.0

	TierCount   = 10
	BucketCount = 4
)

var tierThresholds = [TierCount]float64{1.0, 0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1}

// bucketGroups collapses tiers 1-3, 4-6, 7-8 and 9-10 into display buckets.
var bucketGroups = [BucketCount][2]int{{0, 3}, {3, 6}, {6, 8}, {8, 10}}

type Processor struct {
	historySize int
	now         func() time.Time
}

func NewProcessor(historySize int) *Processor {
	if historySize < 2 {
		historySize = 2
	}
	return &Processor{historySize: historySize, now: time.Now}
}

// Process turns one engine reply into statistics for g and prepends them to
// g.History. The caller must hold whatever lock guards g.
func (p *Processor) Process(g *game.Game, job analysis.Job, resp analysis.AnalysisResponse) game.Statistics {
	moveCount := len(job.Moves)
	current := game.ColorToMove(moveCount)
	if c, err := game.ParseColor(resp.RootInfo.CurrentPlayer); err == nil {
		current = c
	}

	stats := game.Statistics{
		QueryID:       resp.ID,
		MoveNumber:    moveCount,
		CurrentPlayer: current,
		ScoreLead:     resp.RootInfo.ScoreLead,
		ComputedAt:    p.now(),
	}

	stats.Winrate = resp.RootInfo.Winrate * 100
	stats.BlackWinrate, stats.WhiteWinrate = splitForColors(stats.Winrate, current)

	human := HumanWinrate(resp.RootInfo.ScoreLead, moveCount)
	stats.HumanBlack, stats.HumanWhite = splitForColors(human, current)

	blackTiers, whiteTiers := OwnershipTiers(resp.Ownership, current)
	stats.Tiers = game.Buckets{Black: blackTiers[:], White: whiteTiers[:]}
	blackBuckets := CollapseTiers(blackTiers)
	whiteBuckets := CollapseTiers(whiteTiers)
	whiteBuckets[BucketCount-1] += komiBucketOffset
	stats.Confidence = game.Buckets{Black: blackBuckets[:], White: whiteBuckets[:]}
	stats.BlackScore, stats.WhiteScore = territoryEstimate(blackBuckets, whiteBuckets, moveCount, current)

	stats.Suggestions = TopSuggestions(resp.MoveInfos)

	if prev, ok := g.Latest(); ok && moveCount > 0 {
		mover := current.Opponent()
		value := stats.WinrateFor(mover) - prev.WinrateFor(mover)
		stats.LastMoveValue = &value
	}

	g.History = append([]game.Statistics{stats}, g.History...)
	if len(g.History) > p.historySize {
		g.History = g.History[:p.historySize]
	}
	return stats
}

// splitForColors assigns a side-to-move percentage to black and white.
func splitForColors(toMove float64, current game.Color) (black, white float64) {
	if current == game.White {
		return 100 - toMove, toMove
	}
	return toMove, 100 - toMove
}

// maxCalibratedMove keeps the curve's shape exponent k(n) = 1.99 - 0.00557n
// at or above 0.05. Later moves are rated on the move 348 curve.
const maxCalibratedMove = 348

// HumanWinrate maps a score lead at move n to a win percentage calibrated on
// human games, which moves much more slowly than the engine's own estimate.
func HumanWinrate(scoreLead float64, moveNumber int) float64 {
	if scoreLead == 0 || math.IsNaN(scoreLead) {
		return 50
	}
	n := float64(min(max(moveNumber, 0), maxCalibratedMove))
	k := 1.99 - 0.00557*n
	w := 0.0375 + 0.000543*humanLevel
	d := 0.00292*math.Exp(0.354*humanLevel) + 0.025
	g := 0.0001*math.Exp(w*n) + d

	// gx / (1+|gx|^k)^(1/k), rewritten so large leads cannot overflow.
	gx := g * scoreLead
	share := 1 / math.Pow(math.Pow(math.Abs(gx), -k)+1, 1/k)
	rate := 0.5 + 0.5*math.Copysign(share, gx)
	return math.Max(0, math.Min(100, math.Round(100*rate)))
}

// OwnershipTiers sums ownership confidence per owner into ten tiers, most
// confident first. Values are reported for the side to move, so they are
// flipped to make positive mean black.
func OwnershipTiers(ownership []float64, current game.Color) (black, white [TierCount]float64) {
	for _, v := range ownership {
		if current == game.White {
			v = -v
		}
		m := math.Min(math.Abs(v), 1)
		tier := tierOf(m)
		if tier < 0 {
			continue
		}
		if v > 0 {
			black[tier] += m
		} else {
			white[tier] += m
		}
	}
	return black, white
}

func tierOf(m float64) int {
	const eps = 1e-9
	for i, threshold := range tierThresholds {
		if m >= threshold-eps {
			return i
		}
	}
	return -1
}

func CollapseTiers(tiers [TierCount]float64) [BucketCount]float64 {
	var buckets [BucketCount]float64
	for b, group := range bucketGroups {
		for t := group[0]; t < group[1]; t++ {
			buckets[b] += tiers[t]
		}
	}
	return buckets
}

// territoryEstimate turns area into territory by taking off the stones each
// side has played so far.
func territoryEstimate(black, white [BucketCount]float64, moveCount int, current game.Color) (float64, float64) {
	half := float64(moveCount) / 2
	parity := 0.0
	if current == game.White {
		parity = 0.5
	}
	return sum(black[:]) - (half + parity), sum(white[:]) - (half - parity)
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

// TopSuggestions picks the engine's three best moves by its own ranking.
func TopSuggestions(infos []analysis.MoveInfo) []game.Suggestion {
	ranked := make([]analysis.MoveInfo, len(infos))
	copy(ranked, infos)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Order < ranked[j].Order
	})

	suggestions := make([]game.Suggestion, 0, len(game.SuggestionRoles))
	for _, info := range ranked {
		if len(suggestions) == len(game.SuggestionRoles) {
			break
		}
		if strings.EqualFold(info.Move, game.PassToken) {
			continue
		}
		x, y, err := game.ParseCoord(info.Move)
		if err != nil {
			continue
		}
		suggestions = append(suggestions, game.Suggestion{
			Role:    game.SuggestionRoles[len(suggestions)],
			X:       x,
			Y:       y,
			Coord:   strings.ToUpper(info.Move),
			Order:   info.Order,
			Visits:  info.Visits,
			Winrate: info.Winrate * 100,
		})
	}
	return suggestions
}
