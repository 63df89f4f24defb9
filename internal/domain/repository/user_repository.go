package repository

import (
	"context"

	"gigchat/internal/domain/entity"
)

type UserRepository interface {
	GetProfile(ctx context.Context, id string) (*entity.Profile, error)
}
