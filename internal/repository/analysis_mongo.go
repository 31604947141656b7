package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"baduk_relay/internal/domain/game"
)

const (
	analysesCollection = "analyses"
	mongoTimeout       = 5 * time.Second
)

type AnalysisDocument struct {
	Game       game.Identity   `bson:"game"`
	UUID       string          `bson:"uuid"`
	MoveNumber int             `bson:"move_number"`
	LastMove   string          `bson:"last_move,omitempty"`
	Players    game.Players    `bson:"players"`
	Statistics game.Statistics `bson:"statistics"`
	ArchivedAt time.Time       `bson:"archived_at"`
}

func NewAnalysisDocument(pub game.Publication, now time.Time) AnalysisDocument {
	doc := AnalysisDocument{
		Game:       pub.Game,
		UUID:       pub.UUID,
		MoveNumber: pub.Statistics.MoveNumber,
		Players:    pub.Players,
		Statistics: pub.Statistics,
		ArchivedAt: now.UTC(),
	}
	if pub.LastMove != nil {
		doc.LastMove = pub.LastMove.String()
	}
	return doc
}

// AnalysisArchive keeps every publication in mongo for later review.
type AnalysisArchive struct {
	mongo *mongo.Database
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewAnalysisArchive(db *mongo.Database, log *zap.SugaredLogger) *AnalysisArchive {
	return &AnalysisArchive{mongo: db, log: log, now: time.Now}
}

func (a *AnalysisArchive) Publish(ctx context.Context, pub game.Publication) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	collection := a.mongo.Collection(analysesCollection)
	if _, err := collection.InsertOne(ctx, NewAnalysisDocument(pub, a.now())); err != nil {
		return fmt.Errorf("archive analysis of %s: %w", pub.Game.Key(), err)
	}
	return nil
}

// Recent returns up to limit archived analyses of a game, newest first.
func (a *AnalysisArchive) Recent(ctx context.Context, id game.Identity, limit int64) ([]AnalysisDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	collection := a.mongo.Collection(analysesCollection)
	filter := bson.M{
		"game.kind": id.Kind,
		"game.id":   id.ID,
	}
	opts := options.Find().SetSort(bson.D{{Key: "archived_at", Value: -1}}).SetLimit(limit)

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		a.log.Error(err)
		return nil, err
	}
	defer cursor.Close(ctx)

	var result []AnalysisDocument
	for cursor.Next(ctx) {
		var doc AnalysisDocument
		if err := cursor.Decode(&doc); err != nil {
			a.log.Error(err)
			return result, err
		}
		result = append(result, doc)
	}
	return result, cursor.Err()
}

// EnsureIndexes creates the lookup index Recent relies on.
func (a *AnalysisArchive) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	_, err := a.mongo.Collection(analysesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "game.kind", Value: 1}, {Key: "game.id", Value: 1}, {Key: "archived_at", Value: -1}},
	})
	return err
}
