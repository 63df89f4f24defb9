package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"gigchat/internal/domain/entity"
	"gigchat/internal/domain/repository"
	"gigchat/internal/infrastructure/metrics"
	"gigchat/internal/infrastructure/ratelimit"
	"gigchat/pkg/errors"
	"gigchat/pkg/logger"
)

type StartConversationInput struct {
	Type         entity.ConversationType `json:"type" validate:"required,oneof=direct job project group"`
	Participants []string                `json:"participants" validate:"required,min=1,dive,required"`
	Title        string                  `json:"title" validate:"max=120"`
	JobID        string                  `json:"job_id" validate:"required_if=Type job"`
	BidID        string                  `json:"bid_id"`
	ProjectID    string                  `json:"project_id" validate:"required_if=Type project"`
}

// BootstrapUseCase starts a conversation or reuses a loaded one. Concurrent
// starts for the same key attach to a single remote create.
type BootstrapUseCase struct {
	chatRepo      repository.ChatRepository
	directory     *ConversationUseCase
	limiter       *ratelimit.RateLimiter
	metrics       *metrics.Metrics
	validate      *validator.Validate
	currentUserID string
	grace         time.Duration

	inflight singleflight.Group
	mu       sync.Mutex
	recent   map[string]string
}

func NewBootstrapUseCase(
	chatRepo repository.ChatRepository,
	directory *ConversationUseCase,
	limiter *ratelimit.RateLimiter,
	m *metrics.Metrics,
	currentUserID string,
	grace time.Duration,
) *BootstrapUseCase {
	return &BootstrapUseCase{
		chatRepo:      chatRepo,
		directory:     directory,
		limiter:       limiter,
		metrics:       m,
		validate:      validator.New(),
		currentUserID: currentUserID,
		grace:         grace,
		recent:        make(map[string]string),
	}
}

// ConversationKey identifies "the same conversation" without a server round trip.
func ConversationKey(params repository.CreateConversationParams) string {
	participants := strings.Join(entity.NormalizeParticipants(params.Participants), ",")
	switch params.Type {
	case entity.ConversationJob:
		return "job:" + params.JobID + "|" + participants
	case entity.ConversationProject:
		return "project:" + params.ProjectID + "|" + participants
	default:
		return string(params.Type) + "|" + participants
	}
}

func (uc *BootstrapUseCase) params(input StartConversationInput) (repository.CreateConversationParams, error) {
	if err := uc.validate.Struct(input); err != nil {
		return repository.CreateConversationParams{}, err
	}
	participants := entity.NormalizeParticipants(append(append([]string(nil), input.Participants...), uc.currentUserID))
	if input.Type == entity.ConversationDirect && len(participants) != 2 {
		return repository.CreateConversationParams{}, errors.BadRequest("A direct conversation needs exactly one other participant", entity.ErrInvalidParticipants)
	}
	return repository.CreateConversationParams{
		Type:         input.Type,
		Participants: participants,
		Title:        strings.TrimSpace(input.Title),
		JobID:        input.JobID,
		BidID:        input.BidID,
		ProjectID:    input.ProjectID,
	}, nil
}

// Start selects an existing match, or creates the conversation remotely.
func (uc *BootstrapUseCase) Start(ctx context.Context, input StartConversationInput) (*entity.Conversation, error) {
	params, err := uc.params(input)
	if err != nil {
		return nil, err
	}
	key := ConversationKey(params)

	if conv, ok := uc.recentlyCreated(key); ok {
		return conv, uc.directory.Select(conv.ID)
	}
	if conv, ok := uc.directory.FindMatch(params); ok {
		logger.Debug("StartConversation: Reusing conversation %s for key %s", conv.ID, key)
		return conv, uc.directory.Select(conv.ID)
	}

	v, err, shared := uc.inflight.Do(key, func() (interface{}, error) {
		if allowed, wait := uc.limiter.Allow(uc.currentUserID, ratelimit.ActionCreateConversation); !allowed {
			logger.Warn("StartConversation Rate Limited: User %s must wait %v", uc.currentUserID, wait)
			return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before starting another conversation", wait)
		}
		// Attached callers share this call; it must not die with the first caller's context.
		conv, err := uc.chatRepo.CreateOrGetConversation(context.WithoutCancel(ctx), params)
		if err != nil {
			logger.Error("StartConversation Error: Failed to create conversation for key %s: %v", key, err)
			return nil, err
		}
		stored, _ := uc.directory.Insert(conv)
		uc.remember(key, stored.ID)
		return stored, nil
	})
	if shared {
		uc.metrics.Coalesced("create_conversation")
	}
	if err != nil {
		return nil, err
	}

	conv := v.(*entity.Conversation).Clone()
	return conv, uc.directory.Select(conv.ID)
}

func (uc *BootstrapUseCase) recentlyCreated(key string) (*entity.Conversation, bool) {
	uc.mu.Lock()
	id, ok := uc.recent[key]
	uc.mu.Unlock()
	if !ok {
		return nil, false
	}
	conv, ok := uc.directory.Get(id)
	if !ok || !conv.IsActive {
		return nil, false
	}
	return conv, true
}

// remember keeps key resolved to id for the grace period after a create.
func (uc *BootstrapUseCase) remember(key, id string) {
	if uc.grace <= 0 {
		return
	}
	uc.mu.Lock()
	uc.recent[key] = id
	uc.mu.Unlock()

	time.AfterFunc(uc.grace, func() {
		uc.mu.Lock()
		defer uc.mu.Unlock()
		if uc.recent[key] == id {
			delete(uc.recent, key)
		}
	})
}
