package usecase

import (
	"context"
	"time"

	"gigchat/internal/domain/entity"
)

// Transport is the push connection as the synchronizer sees it.
type Transport interface {
	IsConnected() bool
	Publish(ctx context.Context, cmd entity.Command) error
	Events() <-chan entity.Event
}

type Clock func() time.Time
