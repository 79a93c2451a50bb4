package repositories

import (
	"context"

	"github.com/satriahrh/emora/domain/entities"
)

// EmotionPublisher fans stabilized emotion changes out to other systems
type EmotionPublisher interface {
	Publish(ctx context.Context, event entities.EmotionEvent) error
	Close() error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, entities.EmotionEvent) error { return nil }
func (NopPublisher) Close() error                                         { return nil }
