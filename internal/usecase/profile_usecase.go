package usecase

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"gigchat/internal/domain/entity"
	"gigchat/internal/domain/repository"
	"gigchat/internal/infrastructure/metrics"
	"gigchat/pkg/logger"
)

// PendingDisplayName is shown while a profile lookup is still running.
const PendingDisplayName = "Loading..."

// ProfileUseCase caches participant profiles. Concurrent lookups of the same
// id share one fetch; a failed fetch caches a fallback profile.
type ProfileUseCase struct {
	userRepo repository.UserRepository
	hub      *StateHub
	metrics  *metrics.Metrics
	timeout  time.Duration

	group    singleflight.Group
	mu       sync.RWMutex
	profiles map[string]*entity.Profile
}

func NewProfileUseCase(userRepo repository.UserRepository, hub *StateHub, m *metrics.Metrics, timeout time.Duration) *ProfileUseCase {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ProfileUseCase{
		userRepo: userRepo,
		hub:      hub,
		metrics:  m,
		timeout:  timeout,
		profiles: make(map[string]*entity.Profile),
	}
}

// Get returns the cached profile or fetches it. It never fails: lookup errors
// produce the fallback profile.
func (uc *ProfileUseCase) Get(ctx context.Context, userID string) *entity.Profile {
	if p, ok := uc.Peek(userID); ok {
		return p
	}

	v, _, shared := uc.group.Do(userID, func() (interface{}, error) {
		if p, ok := uc.Peek(userID); ok {
			return p, nil
		}
		// The fetch outlives the first caller's cancellation; others may be attached.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.timeout)
		defer cancel()

		p, err := uc.userRepo.GetProfile(fetchCtx, userID)
		if err != nil || p == nil {
			logger.Warn("GetProfile Error: Failed to fetch profile %s: %v", userID, err)
			uc.metrics.ProfileFetch(false)
			p = entity.FallbackProfile(userID)
		} else {
			uc.metrics.ProfileFetch(true)
			if p.ID == "" {
				p.ID = userID
			}
			if p.DisplayName == "" {
				p.DisplayName = entity.FallbackDisplayName(userID)
			}
		}
		uc.store(p)
		return copyProfile(p), nil
	})
	if shared {
		uc.metrics.Coalesced("profile")
	}
	return copyProfile(v.(*entity.Profile))
}

// Prefetch resolves uncached ids in the background.
func (uc *ProfileUseCase) Prefetch(ctx context.Context, userIDs ...string) {
	for _, id := range entity.NormalizeParticipants(userIDs) {
		if _, ok := uc.Peek(id); ok {
			continue
		}
		go uc.Get(ctx, id)
	}
}

func (uc *ProfileUseCase) Peek(userID string) (*entity.Profile, bool) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	p, ok := uc.profiles[userID]
	if !ok {
		return nil, false
	}
	return copyProfile(p), true
}

// DisplayName never returns the raw id.
func (uc *ProfileUseCase) DisplayName(userID string) string {
	if p, ok := uc.Peek(userID); ok && p.DisplayName != "" {
		return p.DisplayName
	}
	return PendingDisplayName
}

// ApplyPresence refreshes a cached profile in place. Unknown users are only
// cached when the event names them.
func (uc *ProfileUseCase) ApplyPresence(ev entity.PresenceEvent) bool {
	if ev.UserID == "" {
		return false
	}
	uc.mu.Lock()
	p, ok := uc.profiles[ev.UserID]
	if !ok {
		if ev.DisplayName == "" {
			uc.mu.Unlock()
			return false
		}
		p = &entity.Profile{ID: ev.UserID, DisplayName: ev.DisplayName}
		uc.profiles[ev.UserID] = p
	}
	p.Online = ev.Online
	if !ev.LastSeen.IsZero() {
		p.LastSeen = ev.LastSeen
	}
	if ev.DisplayName != "" && p.Fallback {
		p.DisplayName = ev.DisplayName
		p.Fallback = false
	}
	uc.mu.Unlock()

	uc.hub.Publish(Change{Kind: ChangeProfiles})
	return true
}

// ObserveName fills in a name learned from a pushed message when nothing
// better is cached.
func (uc *ProfileUseCase) ObserveName(userID, name string) {
	if userID == "" || name == "" {
		return
	}
	uc.mu.Lock()
	p, ok := uc.profiles[userID]
	switch {
	case !ok:
		uc.profiles[userID] = &entity.Profile{ID: userID, DisplayName: name}
	case p.Fallback:
		p.DisplayName = name
		p.Fallback = false
	default:
		uc.mu.Unlock()
		return
	}
	uc.mu.Unlock()
	uc.hub.Publish(Change{Kind: ChangeProfiles})
}

func (uc *ProfileUseCase) store(p *entity.Profile) {
	uc.mu.Lock()
	uc.profiles[p.ID] = copyProfile(p)
	uc.mu.Unlock()
	uc.hub.Publish(Change{Kind: ChangeProfiles})
}

func copyProfile(p *entity.Profile) *entity.Profile {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}
