package events

import (
	"context"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/adapter"
)

var _ adapter.OutcomePublisher = (*NoopPublisher)(nil)

// NoopPublisher is wired when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishOutcome(ctx context.Context, o model.Outcome) error { return nil }
func (NoopPublisher) Close() error                                              { return nil }
