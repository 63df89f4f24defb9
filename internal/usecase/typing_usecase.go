package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gigchat/internal/domain/entity"
	"gigchat/internal/infrastructure/ratelimit"
	"gigchat/pkg/logger"
)

// TypingRegistry holds who is typing where. An explicit stop removes an
// entry; the TTL expires entries whose stop never arrived.
type TypingRegistry struct {
	ttl time.Duration
	now Clock

	mu      sync.Mutex
	entries map[string]map[string]entity.TypingEntry
}

func NewTypingRegistry(ttl time.Duration, now Clock) *TypingRegistry {
	if now == nil {
		now = time.Now
	}
	return &TypingRegistry{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]map[string]entity.TypingEntry),
	}
}

// Apply registers, refreshes or removes an entry. It reports a visible change.
func (r *TypingRegistry) Apply(ev entity.TypingEvent) bool {
	if ev.ConversationID == "" || ev.UserID == "" {
		return false
	}
	if !ev.Typing {
		return r.Remove(ev.ConversationID, ev.UserID)
	}

	now := r.now()
	expires := now.Add(r.ttl)
	if ev.ExpiresAt.After(now) && ev.ExpiresAt.Before(expires) {
		expires = ev.ExpiresAt
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.entries[ev.ConversationID]
	if !ok {
		users = make(map[string]entity.TypingEntry)
		r.entries[ev.ConversationID] = users
	}
	existing, refreshed := users[ev.UserID]
	started := now
	if refreshed && !existing.Expired(now) {
		started = existing.StartedAt
	}
	users[ev.UserID] = entity.TypingEntry{
		UserID:         ev.UserID,
		ConversationID: ev.ConversationID,
		StartedAt:      started,
		ExpiresAt:      expires,
	}
	return !refreshed || existing.Expired(now)
}

func (r *TypingRegistry) Remove(conversationID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.entries[conversationID]
	if !ok {
		return false
	}
	if _, ok := users[userID]; !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(r.entries, conversationID)
	}
	return true
}

// Active lists live entries for a conversation, oldest first.
func (r *TypingRegistry) Active(conversationID string) []entity.TypingEntry {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.TypingEntry
	for _, e := range r.entries[conversationID] {
		if !e.Expired(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Sweep drops expired entries and returns the conversations that changed.
func (r *TypingRegistry) Sweep() []string {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed []string
	for convID, users := range r.entries {
		removed := false
		for userID, e := range users {
			if e.Expired(now) {
				delete(users, userID)
				removed = true
			}
		}
		if len(users) == 0 {
			delete(r.entries, convID)
		}
		if removed {
			changed = append(changed, convID)
		}
	}
	sort.Strings(changed)
	return changed
}

// StartJanitor sweeps every interval until ctx ends.
func (r *TypingRegistry) StartJanitor(ctx context.Context, interval time.Duration, onChange func(conversationID string)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, id := range r.Sweep() {
					onChange(id)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// TypingBroadcaster turns composer input into typing_start/typing_stop
// frames. A start goes out on the first keystroke and is refreshed at most
// once per limiter window; a stop follows after the idle interval or a send.
type TypingBroadcaster struct {
	transport Transport
	limiter   *ratelimit.RateLimiter
	idle      time.Duration

	mu     sync.Mutex
	typing map[string]*typingTimer
}

// typingTimer is an outstanding start. gen changes on every keystroke so an
// idle callback that lost the race with a newer keystroke does nothing.
type typingTimer struct {
	timer *time.Timer
	gen   uint64
}

func NewTypingBroadcaster(transport Transport, limiter *ratelimit.RateLimiter, idle time.Duration) *TypingBroadcaster {
	return &TypingBroadcaster{
		transport: transport,
		limiter:   limiter,
		idle:      idle,
		typing:    make(map[string]*typingTimer),
	}
}

func (b *TypingBroadcaster) Composing(ctx context.Context, conversationID, text string) {
	if strings.TrimSpace(text) == "" {
		b.Stop(ctx, conversationID)
		return
	}

	b.mu.Lock()
	entry, active := b.typing[conversationID]
	if active {
		entry.timer.Stop()
		entry.gen++
	} else {
		b.limiter.Reset(conversationID, ratelimit.ActionTyping)
		entry = &typingTimer{}
		b.typing[conversationID] = entry
	}
	gen := entry.gen
	entry.timer = time.AfterFunc(b.idle, func() {
		b.expire(context.Background(), conversationID, gen)
	})
	allowed, _ := b.limiter.Allow(conversationID, ratelimit.ActionTyping)
	b.mu.Unlock()

	if allowed {
		b.publish(ctx, entity.TypingCommand{ConversationID: conversationID, Typing: true})
	}
}

// Stop sends typing_stop if a start is outstanding.
func (b *TypingBroadcaster) Stop(ctx context.Context, conversationID string) {
	b.mu.Lock()
	entry, active := b.typing[conversationID]
	if active {
		entry.timer.Stop()
		delete(b.typing, conversationID)
	}
	b.mu.Unlock()

	if active {
		b.publish(ctx, entity.TypingCommand{ConversationID: conversationID, Typing: false})
	}
}

// expire is the idle callback for the keystroke numbered gen.
func (b *TypingBroadcaster) expire(ctx context.Context, conversationID string, gen uint64) {
	b.mu.Lock()
	entry, active := b.typing[conversationID]
	current := active && entry.gen == gen
	if current {
		delete(b.typing, conversationID)
	}
	b.mu.Unlock()

	if current {
		b.publish(ctx, entity.TypingCommand{ConversationID: conversationID, Typing: false})
	}
}

func (b *TypingBroadcaster) IsTyping(conversationID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.typing[conversationID]
	return ok
}

func (b *TypingBroadcaster) publish(ctx context.Context, cmd entity.TypingCommand) {
	if !b.transport.IsConnected() {
		return
	}
	if err := b.transport.Publish(ctx, cmd); err != nil {
		logger.Debug("Typing: Failed to publish for conversation %s: %v", cmd.ConversationID, err)
	}
}
