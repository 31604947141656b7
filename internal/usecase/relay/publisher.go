package relay

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"baduk_relay/internal/domain/game"
)

// MultiPublisher fans a publication out to every sink. One sink failing does
// not stop the others.
type MultiPublisher struct {
	publishers []Publisher
	log        *zap.SugaredLogger
}

func NewMultiPublisher(log *zap.SugaredLogger, publishers ...Publisher) *MultiPublisher {
	m := &MultiPublisher{log: log}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

func (m *MultiPublisher) Add(p Publisher) {
	m.publishers = append(m.publishers, p)
}

func (m *MultiPublisher) Publish(ctx context.Context, pub game.Publication) error {
	var err error
	for _, p := range m.publishers {
		if pubErr := p.Publish(ctx, pub); pubErr != nil {
			m.log.Warnw("publisher failed", "game", pub.Game.Key(), "error", pubErr)
			err = multierr.Append(err, pubErr)
		}
	}
	return err
}
