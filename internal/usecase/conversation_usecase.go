package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"gigchat/internal/domain/entity"
	"gigchat/internal/domain/repository"
	"gigchat/internal/infrastructure/metrics"
	"gigchat/pkg/errors"
	"gigchat/pkg/logger"
)

// ConversationUseCase is the conversation directory: the ordered list,
// unread counters, previews, search and the active selection.
// Conversations are never dropped once loaded; deleting one hides it.
type ConversationUseCase struct {
	chatRepo      repository.ChatRepository
	profiles      *ProfileUseCase
	hub           *StateHub
	metrics       *metrics.Metrics
	currentUserID string

	group         singleflight.Group
	mu            sync.RWMutex
	conversations []*entity.Conversation
	activeID      string
	recent        map[string][]string
	optimistic    map[string]entity.LastMessage
}

func NewConversationUseCase(
	chatRepo repository.ChatRepository,
	profiles *ProfileUseCase,
	hub *StateHub,
	m *metrics.Metrics,
	currentUserID string,
) *ConversationUseCase {
	return &ConversationUseCase{
		chatRepo:      chatRepo,
		profiles:      profiles,
		hub:           hub,
		metrics:       m,
		currentUserID: currentUserID,
	}
}

// Refresh reloads the list from the server. Concurrent refreshes share one fetch.
func (uc *ConversationUseCase) Refresh(ctx context.Context) error {
	_, err, shared := uc.group.Do("list", func() (interface{}, error) {
		fetched, err := uc.chatRepo.ListConversations(ctx)
		if err != nil {
			logger.Error("RefreshConversations Error: Failed to list conversations: %v", err)
			return nil, err
		}
		uc.replace(fetched)
		return nil, nil
	})
	if shared {
		uc.metrics.Coalesced("conversation_list")
	}
	return err
}

func (uc *ConversationUseCase) replace(fetched []*entity.Conversation) {
	var others []string

	uc.mu.Lock()
	byID := make(map[string]*entity.Conversation, len(uc.conversations))
	for _, c := range uc.conversations {
		byID[c.ID] = c
	}

	seen := make(map[string]bool, len(fetched))
	next := make([]*entity.Conversation, 0, len(fetched)+len(uc.conversations))
	for _, c := range fetched {
		if c == nil || c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		conv := c.Clone()
		if conv.ID == uc.activeID {
			conv.UnreadCount = 0
		}
		if prev, ok := byID[conv.ID]; ok && !prev.IsActive {
			conv.IsActive = false
		}
		if conv.LastMessage != nil {
			uc.remember(conv.ID, *conv.LastMessage)
		}
		delete(uc.optimistic, conv.ID)
		next = append(next, conv)
		if conv.Type == entity.ConversationDirect {
			others = append(others, conv.OtherParticipant(uc.currentUserID))
		}
	}
	for _, c := range uc.conversations {
		if !seen[c.ID] {
			next = append(next, c)
		}
	}
	uc.conversations = next
	uc.mu.Unlock()

	uc.profiles.Prefetch(context.Background(), others...)
	uc.hub.Publish(Change{Kind: ChangeConversations})
}

func (uc *ConversationUseCase) indexOf(id string) int {
	for i, c := range uc.conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// List returns the visible conversations, most recently active first.
func (uc *ConversationUseCase) List() []*entity.Conversation {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	out := make([]*entity.Conversation, 0, len(uc.conversations))
	for _, c := range uc.conversations {
		if c.IsActive {
			out = append(out, c.Clone())
		}
	}
	return out
}

// Get finds a conversation including hidden ones.
func (uc *ConversationUseCase) Get(id string) (*entity.Conversation, bool) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	if i := uc.indexOf(id); i >= 0 {
		return uc.conversations[i].Clone(), true
	}
	return nil, false
}

// Search matches the display title, the type tag and the correlation ids,
// case-insensitively. List order is kept.
func (uc *ConversationUseCase) Search(query string) []*entity.Conversation {
	all := uc.List()
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all
	}
	out := make([]*entity.Conversation, 0, len(all))
	for _, c := range all {
		fields := []string{uc.DisplayTitle(c), string(c.Type), c.JobID, c.BidID, c.ProjectID}
		for _, f := range fields {
			if f != "" && strings.Contains(strings.ToLower(f), q) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Insert adds a conversation unless one with the same id is already loaded,
// in which case the loaded one is refreshed from conv and returned.
func (uc *ConversationUseCase) Insert(conv *entity.Conversation) (*entity.Conversation, bool) {
	uc.mu.Lock()
	if i := uc.indexOf(conv.ID); i >= 0 {
		existing := uc.conversations[i]
		existing.IsActive = true
		if conv.Title != "" {
			existing.Title = conv.Title
		}
		if len(conv.Participants) > 0 {
			existing.Participants = append([]string(nil), conv.Participants...)
		}
		out := existing.Clone()
		uc.mu.Unlock()
		uc.hub.Publish(Change{Kind: ChangeConversations})
		return out, false
	}
	stored := conv.Clone()
	stored.IsActive = true
	uc.conversations = append([]*entity.Conversation{stored}, uc.conversations...)
	out := stored.Clone()
	uc.mu.Unlock()

	if out.Type == entity.ConversationDirect {
		uc.profiles.Prefetch(context.Background(), out.OtherParticipant(uc.currentUserID))
	}
	uc.hub.Publish(Change{Kind: ChangeConversations})
	return out, true
}

// FindMatch looks for a visible conversation structurally equal to the
// request: same type and participant set, plus the correlation id for job and
// project conversations and the title for groups.
func (uc *ConversationUseCase) FindMatch(params repository.CreateConversationParams) (*entity.Conversation, bool) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	for _, c := range uc.conversations {
		if !c.IsActive || c.Type != params.Type || !entity.SameParticipants(c.Participants, params.Participants) {
			continue
		}
		switch params.Type {
		case entity.ConversationJob:
			if c.JobID == "" || c.JobID != params.JobID {
				continue
			}
		case entity.ConversationProject:
			if c.ProjectID == "" || c.ProjectID != params.ProjectID {
				continue
			}
		case entity.ConversationGroup:
			if !strings.EqualFold(strings.TrimSpace(c.Title), strings.TrimSpace(params.Title)) {
				continue
			}
		}
		return c.Clone(), true
	}
	return nil, false
}

// recentPerConversation bounds the message keys remembered for unread
// de-duplication.
const recentPerConversation = 64

// RecordMessage counts a newly seen message and moves the conversation to the
// front. The preview is replaced only by a message at least as recent as the
// current one, or by the confirmed copy of an optimistic local send.
// countUnread increments the counter unless the conversation is selected or
// the message is our own. A message seen through two push kinds counts once.
// It reports whether the conversation is known.
func (uc *ConversationUseCase) RecordMessage(conversationID string, lm entity.LastMessage, countUnread bool) bool {
	uc.mu.Lock()
	i := uc.indexOf(conversationID)
	if i < 0 {
		uc.mu.Unlock()
		return false
	}
	c := uc.conversations[i]
	if !uc.remember(conversationID, lm) || (c.LastMessage != nil && samePreview(*c.LastMessage, lm)) {
		uc.mu.Unlock()
		return true
	}
	if countUnread && lm.SenderID != uc.currentUserID && c.ID != uc.activeID {
		c.UnreadCount++
	}
	if uc.confirmsOptimistic(conversationID, lm) || c.LastMessage == nil || !lm.CreatedAt.Before(c.LastMessage.CreatedAt) {
		delete(uc.optimistic, conversationID)
		preview := lm
		c.LastMessage = &preview
	}
	if lm.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = lm.CreatedAt
	}
	uc.moveToFront(i)
	uc.mu.Unlock()

	uc.hub.Publish(Change{Kind: ChangeConversations, ConversationID: conversationID})
	return true
}

// RecordLocalSend shows an optimistic send as the preview until the server
// confirms it through RecordMessage.
func (uc *ConversationUseCase) RecordLocalSend(conversationID string, lm entity.LastMessage) bool {
	uc.mu.Lock()
	i := uc.indexOf(conversationID)
	if i < 0 {
		uc.mu.Unlock()
		return false
	}
	c := uc.conversations[i]
	preview := lm
	c.LastMessage = &preview
	if lm.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = lm.CreatedAt
	}
	if uc.optimistic == nil {
		uc.optimistic = make(map[string]entity.LastMessage)
	}
	uc.optimistic[conversationID] = lm
	uc.moveToFront(i)
	uc.mu.Unlock()

	uc.hub.Publish(Change{Kind: ChangeConversations, ConversationID: conversationID})
	return true
}

func (uc *ConversationUseCase) confirmsOptimistic(conversationID string, lm entity.LastMessage) bool {
	local, ok := uc.optimistic[conversationID]
	return ok && lm.SenderID == local.SenderID && lm.Content == local.Content
}

// remember records the message key and reports whether it was new.
func (uc *ConversationUseCase) remember(conversationID string, lm entity.LastMessage) bool {
	key := messageKey(lm)
	keys := uc.recent[conversationID]
	for _, k := range keys {
		if k == key {
			return false
		}
	}
	if len(keys) >= recentPerConversation {
		keys = keys[1:]
	}
	if uc.recent == nil {
		uc.recent = make(map[string][]string)
	}
	uc.recent[conversationID] = append(keys, key)
	return true
}

func (uc *ConversationUseCase) moveToFront(i int) {
	if i > 0 {
		c := uc.conversations[i]
		copy(uc.conversations[1:i+1], uc.conversations[:i])
		uc.conversations[0] = c
	}
}

func messageKey(lm entity.LastMessage) string {
	return fmt.Sprintf("%s|%d|%s", lm.SenderID, lm.CreatedAt.UnixNano(), lm.Content)
}

func samePreview(a, b entity.LastMessage) bool {
	return a.Content == b.Content && a.SenderID == b.SenderID && a.CreatedAt.Equal(b.CreatedAt)
}

// ApplyUpdate handles a chat_list_update push.
func (uc *ConversationUseCase) ApplyUpdate(ev entity.ConversationUpdateEvent) bool {
	if ev.LastMessage == nil {
		_, ok := uc.Get(ev.ConversationID)
		return ok
	}
	return uc.RecordMessage(ev.ConversationID, *ev.LastMessage, true)
}

// UpdatePreview rewrites the preview content when it still shows the message
// that was edited or deleted.
func (uc *ConversationUseCase) UpdatePreview(conversationID string, msg entity.Message) {
	uc.mu.Lock()
	i := uc.indexOf(conversationID)
	if i < 0 {
		uc.mu.Unlock()
		return
	}
	lm := uc.conversations[i].LastMessage
	if lm == nil || lm.SenderID != msg.SenderID || !lm.CreatedAt.Equal(msg.CreatedAt) || lm.Content == msg.Content {
		uc.mu.Unlock()
		return
	}
	lm.Content = msg.Content
	uc.mu.Unlock()
	uc.hub.Publish(Change{Kind: ChangeConversations, ConversationID: conversationID})
}

// ResetUnread zeroes the counter. It reports whether anything changed.
func (uc *ConversationUseCase) ResetUnread(conversationID string) bool {
	uc.mu.Lock()
	i := uc.indexOf(conversationID)
	if i < 0 || uc.conversations[i].UnreadCount == 0 {
		uc.mu.Unlock()
		return false
	}
	uc.conversations[i].UnreadCount = 0
	uc.mu.Unlock()
	uc.hub.Publish(Change{Kind: ChangeConversations, ConversationID: conversationID})
	return true
}

// Delete soft-deletes remotely and then hides the conversation locally.
func (uc *ConversationUseCase) Delete(ctx context.Context, conversationID string) error {
	if _, ok := uc.Get(conversationID); !ok {
		return errors.NotFound("Conversation", entity.ErrConversationNotFound)
	}
	if err := uc.chatRepo.DeleteConversation(ctx, conversationID); err != nil {
		logger.Error("DeleteConversation Error: Failed to delete conversation %s: %v", conversationID, err)
		return err
	}

	uc.mu.Lock()
	if i := uc.indexOf(conversationID); i >= 0 {
		uc.conversations[i].IsActive = false
	}
	wasActive := uc.activeID == conversationID
	if wasActive {
		uc.activeID = ""
	}
	uc.mu.Unlock()

	uc.hub.Publish(Change{Kind: ChangeConversations, ConversationID: conversationID})
	if wasActive {
		uc.hub.Publish(Change{Kind: ChangeActive})
	}
	return nil
}

func (uc *ConversationUseCase) Select(conversationID string) error {
	uc.mu.Lock()
	i := uc.indexOf(conversationID)
	if i < 0 {
		uc.mu.Unlock()
		return errors.NotFound("Conversation", entity.ErrConversationNotFound)
	}
	if !uc.conversations[i].IsActive {
		uc.mu.Unlock()
		return errors.BadRequest("Conversation is no longer available", entity.ErrConversationInactive)
	}
	changed := uc.activeID != conversationID
	uc.activeID = conversationID
	uc.mu.Unlock()

	if changed {
		uc.hub.Publish(Change{Kind: ChangeActive, ConversationID: conversationID})
	}
	return nil
}

func (uc *ConversationUseCase) Active() string {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.activeID
}

func (uc *ConversationUseCase) TotalUnread() int {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	total := 0
	for _, c := range uc.conversations {
		if c.IsActive {
			total += c.UnreadCount
		}
	}
	return total
}

// DisplayTitle derives the label shown for a conversation.
func (uc *ConversationUseCase) DisplayTitle(c *entity.Conversation) string {
	switch c.Type {
	case entity.ConversationDirect:
		other := c.OtherParticipant(uc.currentUserID)
		if other == "" {
			return PendingDisplayName
		}
		return uc.profiles.DisplayName(other)
	case entity.ConversationJob:
		if c.Title != "" {
			return c.Title
		}
		if c.JobID != "" {
			return "Job #" + c.JobID
		}
		if c.BidID != "" {
			return "Bid #" + c.BidID
		}
		return "Job Chat"
	case entity.ConversationProject:
		if c.Title != "" {
			return c.Title
		}
		if c.ProjectID != "" {
			return "Project #" + c.ProjectID
		}
		return "Project Chat"
	default:
		if c.Title != "" {
			return c.Title
		}
		return fmt.Sprintf("Group Chat (%d members)", len(c.Participants))
	}
}

// Views renders the visible list with titles and, for direct chats, presence.
func (uc *ConversationUseCase) Views(now time.Time) []ConversationView {
	return uc.views(uc.List(), now)
}

// SearchViews is Views restricted to the Search result.
func (uc *ConversationUseCase) SearchViews(query string, now time.Time) []ConversationView {
	return uc.views(uc.Search(query), now)
}

func (uc *ConversationUseCase) views(list []*entity.Conversation, now time.Time) []ConversationView {
	views := make([]ConversationView, 0, len(list))
	for _, c := range list {
		view := ConversationView{Conversation: c, DisplayTitle: uc.DisplayTitle(c)}
		if c.Type == entity.ConversationDirect {
			if p, ok := uc.profiles.Peek(c.OtherParticipant(uc.currentUserID)); ok {
				view.Presence = p.PresenceLabel(now)
			}
		}
		views = append(views, view)
	}
	return views
}
