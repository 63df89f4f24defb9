package repository

import (
	"context"
	"net/http"
	"net/url"

	"gigchat/internal/domain/entity"
	"gigchat/internal/domain/repository"
)

type restUserRepository struct {
	client *Client
}

func NewRestUserRepository(client *Client) repository.UserRepository {
	return &restUserRepository{client: client}
}

func (r *restUserRepository) GetProfile(ctx context.Context, id string) (*entity.Profile, error) {
	var dto profileDTO
	if err := r.client.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(id), nil, &dto); err != nil {
		return nil, err
	}
	return dto.toEntity(id), nil
}
