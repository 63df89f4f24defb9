package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gigchat/internal/domain/entity"
	"gigchat/internal/domain/repository"
	"gigchat/internal/infrastructure/ratelimit"
	"gigchat/pkg/config"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeChatRepo struct {
	mu            sync.Mutex
	conversations []*entity.Conversation
	messages      map[string][]*entity.Message
	nextID        int

	sendErr   error
	editErr   error
	deleteErr error
	createErr error
	// createGate, when set, blocks CreateOrGetConversation until closed.
	createGate chan struct{}

	listCalls   int32
	createCalls int32
	markCalls   int32
	sendCalls   int32
	sent        []repository.SendMessageParams
	deleted     []string
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{messages: make(map[string][]*entity.Message)}
}

func (r *fakeChatRepo) ListConversations(ctx context.Context) ([]*entity.Conversation, error) {
	atomic.AddInt32(&r.listCalls, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.Conversation, 0, len(r.conversations))
	for _, c := range r.conversations {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (r *fakeChatRepo) GetMessages(ctx context.Context, conversationID string, limit int) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Message
	for _, m := range r.messages[conversationID] {
		cp := m.Clone()
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeChatRepo) SendMessage(ctx context.Context, conversationID string, params repository.SendMessageParams) (*entity.Message, error) {
	atomic.AddInt32(&r.sendCalls, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, params)
	if r.sendErr != nil {
		return nil, r.sendErr
	}
	r.nextID++
	msg := &entity.Message{
		ID:             fmt.Sprintf("srv-%d", r.nextID),
		ConversationID: conversationID,
		SenderID:       "me",
		Content:        params.Content,
		CreatedAt:      t0.Add(time.Duration(r.nextID) * time.Second),
		Status:         entity.MessageStatusSent,
	}
	r.messages[conversationID] = append(r.messages[conversationID], msg)
	cp := msg.Clone()
	return &cp, nil
}

func (r *fakeChatRepo) EditMessage(ctx context.Context, conversationID, messageID, content string) (*entity.Message, error) {
	if r.editErr != nil {
		return nil, r.editErr
	}
	return &entity.Message{ID: messageID, ConversationID: conversationID, Content: content, IsEdited: true}, nil
}

func (r *fakeChatRepo) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	return r.deleteErr
}

func (r *fakeChatRepo) MarkRead(ctx context.Context, conversationID string) error {
	atomic.AddInt32(&r.markCalls, 1)
	return nil
}

func (r *fakeChatRepo) CreateOrGetConversation(ctx context.Context, params repository.CreateConversationParams) (*entity.Conversation, error) {
	atomic.AddInt32(&r.createCalls, 1)
	if r.createGate != nil {
		<-r.createGate
	}
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	conv := &entity.Conversation{
		ID:           fmt.Sprintf("conv-%d", r.nextID),
		Type:         params.Type,
		Participants: params.Participants,
		Title:        params.Title,
		JobID:        params.JobID,
		ProjectID:    params.ProjectID,
		IsActive:     true,
		CreatedAt:    t0,
	}
	r.conversations = append(r.conversations, conv)
	return conv.Clone(), nil
}

func (r *fakeChatRepo) DeleteConversation(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, conversationID)
	return nil
}

type fakeUserRepo struct {
	calls int32
	gate  chan struct{}
	err   error
	names map[string]string
}

func (r *fakeUserRepo) GetProfile(ctx context.Context, id string) (*entity.Profile, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		return nil, r.err
	}
	name := r.names[id]
	if name == "" {
		name = "Name " + id
	}
	return &entity.Profile{ID: id, DisplayName: name}, nil
}

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	failSend  bool
	published []entity.Command
	events    chan entity.Event
}

func newFakeTransport(connected bool) *fakeTransport {
	return &fakeTransport{connected: connected, events: make(chan entity.Event, 16)}
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Publish(ctx context.Context, cmd entity.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return fmt.Errorf("not connected")
	}
	if _, ok := cmd.(entity.SendMessageCommand); ok && f.failSend {
		return fmt.Errorf("write failed")
	}
	f.published = append(f.published, cmd)
	return nil
}

func (f *fakeTransport) Events() <-chan entity.Event {
	return f.events
}

func (f *fakeTransport) commands() []entity.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.Command(nil), f.published...)
}

func (f *fakeTransport) sends() []entity.SendMessageCommand {
	var out []entity.SendMessageCommand
	for _, c := range f.commands() {
		if s, ok := c.(entity.SendMessageCommand); ok {
			out = append(out, s)
		}
	}
	return out
}

func testSyncConfig() config.Sync {
	return config.Sync{
		EchoMatchWindow: 30 * time.Second,
		DuplicateWindow: 5 * time.Second,
		AckTimeout:      time.Hour,
		TypingTTL:       5 * time.Second,
		TypingIdle:      time.Hour,
		TypingRefresh:   3 * time.Second,
		CreateGrace:     2 * time.Second,
	}
}

type harness struct {
	repo      *fakeChatRepo
	users     *fakeUserRepo
	transport *fakeTransport
	hub       *StateHub
	profiles  *ProfileUseCase
	directory *ConversationUseCase
	bootstrap *BootstrapUseCase
	chat      *ChatUseCase
}

func newHarness(connected bool, conversations ...*entity.Conversation) *harness {
	h := &harness{
		repo:      newFakeChatRepo(),
		users:     &fakeUserRepo{},
		transport: newFakeTransport(connected),
		hub:       NewStateHub(),
	}
	h.repo.conversations = conversations
	limiter := ratelimit.NewRateLimiter(ratelimit.DefaultLimits())
	h.profiles = NewProfileUseCase(h.users, h.hub, nil, time.Second)
	h.directory = NewConversationUseCase(h.repo, h.profiles, h.hub, nil, "me")
	h.bootstrap = NewBootstrapUseCase(h.repo, h.directory, limiter, nil, "me", time.Second)
	h.chat = NewChatUseCase(h.repo, h.transport, h.directory, h.profiles, h.bootstrap, limiter, h.hub, testSyncConfig(), "me",
		WithClock(func() time.Time { return t0 }))
	return h
}

func directConversation(id, other string) *entity.Conversation {
	return &entity.Conversation{
		ID:           id,
		Type:         entity.ConversationDirect,
		Participants: []string{"me", other},
		IsActive:     true,
		CreatedAt:    t0.Add(-time.Hour),
	}
}
