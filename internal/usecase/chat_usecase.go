package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"gigchat/internal/domain/entity"
	"gigchat/internal/domain/repository"
	"gigchat/internal/infrastructure/metrics"
	"gigchat/internal/infrastructure/ratelimit"
	ws "gigchat/internal/infrastructure/websocket"
	"gigchat/pkg/config"
	"gigchat/pkg/errors"
	"gigchat/pkg/logger"
)

// ChatUseCase owns every conversation timeline. It merges REST history,
// pushed events and optimistic local sends, and exposes the operations the
// UI calls.
type ChatUseCase struct {
	chatRepo    repository.ChatRepository
	transport   Transport
	directory   *ConversationUseCase
	profiles    *ProfileUseCase
	bootstrap   *BootstrapUseCase
	typing      *TypingRegistry
	broadcaster *TypingBroadcaster
	rateLimiter *ratelimit.RateLimiter
	hub         *StateHub
	metrics     *metrics.Metrics
	validate    *validator.Validate
	cfg         config.Sync
	pageSize    int
	userID      string
	now         Clock

	history singleflight.Group

	mu         sync.Mutex
	timelines  map[string]*Timeline
	connection entity.ConnectionState
	lastError  string
	runCtx     context.Context
}

type ChatOption func(*ChatUseCase)

func WithClock(now Clock) ChatOption {
	return func(uc *ChatUseCase) { uc.now = now }
}

func WithChatMetrics(m *metrics.Metrics) ChatOption {
	return func(uc *ChatUseCase) { uc.metrics = m }
}

func WithHistoryPageSize(n int) ChatOption {
	return func(uc *ChatUseCase) {
		if n > 0 {
			uc.pageSize = n
		}
	}
}

func NewChatUseCase(
	chatRepo repository.ChatRepository,
	transport Transport,
	directory *ConversationUseCase,
	profiles *ProfileUseCase,
	bootstrap *BootstrapUseCase,
	rateLimiter *ratelimit.RateLimiter,
	hub *StateHub,
	cfg config.Sync,
	userID string,
	opts ...ChatOption,
) *ChatUseCase {
	uc := &ChatUseCase{
		chatRepo:    chatRepo,
		transport:   transport,
		directory:   directory,
		profiles:    profiles,
		bootstrap:   bootstrap,
		rateLimiter: rateLimiter,
		hub:         hub,
		validate:    validator.New(),
		cfg:         cfg,
		pageSize:    50,
		userID:      userID,
		now:         time.Now,
		timelines:   make(map[string]*Timeline),
		connection:  entity.ConnectionState{Status: entity.ConnectionDisconnected},
		runCtx:      context.Background(),
	}
	for _, opt := range opts {
		opt(uc)
	}
	uc.typing = NewTypingRegistry(cfg.TypingTTL, uc.now)
	uc.broadcaster = NewTypingBroadcaster(transport, rateLimiter, cfg.TypingIdle)
	return uc
}

type SendMessageInput struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content" validate:"required"`
	ReplyTo        string `json:"reply_to"`
}

type EditMessageInput struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	MessageID      string `json:"message_id" validate:"required"`
	Content        string `json:"content" validate:"required"`
}

// timeline returns the conversation's timeline, creating it. Callers hold uc.mu.
func (uc *ChatUseCase) timeline(conversationID string) *Timeline {
	tl, ok := uc.timelines[conversationID]
	if !ok {
		tl = NewTimeline(conversationID)
		uc.timelines[conversationID] = tl
	}
	return tl
}

func (uc *ChatUseCase) changed(kind ChangeKind, conversationID string) {
	uc.hub.Publish(Change{Kind: kind, ConversationID: conversationID})
}

func (uc *ChatUseCase) publish(ctx context.Context, cmd entity.Command) {
	if !uc.transport.IsConnected() {
		return
	}
	if err := uc.transport.Publish(ctx, cmd); err != nil {
		logger.Debug("Publish: Failed to send %T: %v", cmd, err)
	}
}

// SelectConversation makes a conversation active: joins its room, loads the
// history and marks it read.
func (uc *ChatUseCase) SelectConversation(ctx context.Context, conversationID string) error {
	previous := uc.directory.Active()
	if err := uc.directory.Select(conversationID); err != nil {
		return err
	}
	if previous != "" && previous != conversationID {
		uc.broadcaster.Stop(ctx, previous)
		uc.publish(ctx, entity.LeaveConversationCommand{ConversationID: previous})
	}
	uc.publish(ctx, entity.JoinConversationCommand{ConversationID: conversationID})

	if err := uc.loadHistory(ctx, conversationID); err != nil {
		return err
	}
	if err := uc.MarkRead(ctx, conversationID); err != nil {
		logger.Warn("SelectConversation: Failed to mark %s read: %v", conversationID, err)
	}
	return nil
}

// loadHistory replaces the timeline with the server's latest page. Concurrent
// loads of one conversation share a fetch.
func (uc *ChatUseCase) loadHistory(ctx context.Context, conversationID string) error {
	_, err, shared := uc.history.Do(conversationID, func() (interface{}, error) {
		history, err := uc.chatRepo.GetMessages(ctx, conversationID, uc.pageSize)
		if err != nil {
			logger.Error("LoadHistory Error: Failed to fetch messages for %s: %v", conversationID, err)
			return nil, err
		}

		senders := make([]string, 0, len(history))
		for _, m := range history {
			if m != nil {
				senders = append(senders, m.SenderID)
			}
		}

		uc.mu.Lock()
		uc.timeline(conversationID).ReplaceHistory(history, uc.userID, uc.cfg.EchoMatchWindow)
		uc.mu.Unlock()

		uc.profiles.Prefetch(uc.baseContext(), senders...)
		uc.changed(ChangeMessages, conversationID)
		return nil, nil
	})
	if shared {
		uc.metrics.Coalesced("history")
	}
	return err
}

// SendMessage appends an optimistic message and delivers it over the
// transport when connected, else over REST.
func (uc *ChatUseCase) SendMessage(ctx context.Context, input SendMessageInput) (*entity.Message, error) {
	if err := uc.validate.Struct(input); err != nil {
		return nil, err
	}
	content, err := entity.ValidateMessageText(input.Content)
	if err != nil {
		return nil, errors.BadRequest(err.Error(), err)
	}

	conversationID := input.ConversationID
	if conversationID == "" {
		conversationID = uc.directory.Active()
	}
	if conversationID == "" {
		return nil, errors.BadRequest("Select a conversation first", entity.ErrNoActiveConversation)
	}
	conv, ok := uc.directory.Get(conversationID)
	if !ok {
		return nil, errors.NotFound("Conversation", entity.ErrConversationNotFound)
	}
	if !conv.IsActive {
		return nil, errors.BadRequest("Conversation is no longer available", entity.ErrConversationInactive)
	}

	allowed, wait := uc.rateLimiter.Allow(uc.userID, ratelimit.ActionSendMessage)
	if !allowed {
		logger.Warn("SendMessage Rate Limited: User %s must wait %v", uc.userID, wait)
		return nil, errors.TooManyRequests("Rate limit exceeded. Please slow down", wait)
	}

	sender, _ := uc.profiles.Peek(uc.userID)
	msg := entity.Message{
		TempID:         "tmp-" + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       uc.userID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      uc.now(),
		Status:         entity.MessageStatusPending,
		Sending:        true,
		ReplyTo:        input.ReplyTo,
	}

	uc.mu.Lock()
	uc.timeline(conversationID).Append(msg)
	uc.mu.Unlock()

	uc.broadcaster.Stop(ctx, conversationID)
	uc.directory.RecordLocalSend(conversationID, entity.LastMessage{
		Content:   content,
		SenderID:  uc.userID,
		CreatedAt: msg.CreatedAt,
	})
	uc.changed(ChangeMessages, conversationID)

	return uc.deliver(ctx, msg)
}

func (uc *ChatUseCase) deliver(ctx context.Context, msg entity.Message) (*entity.Message, error) {
	if uc.transport.IsConnected() {
		err := uc.transport.Publish(ctx, entity.SendMessageCommand{
			TempID:         msg.TempID,
			ConversationID: msg.ConversationID,
			Content:        msg.Content,
			ReplyTo:        msg.ReplyTo,
			CreatedAt:      msg.CreatedAt,
		})
		if err == nil {
			uc.metrics.Send("transport", true)
			uc.armAckTimeout(msg.ConversationID, msg.TempID)
			return &msg, nil
		}
		uc.metrics.Send("transport", false)
		logger.Warn("SendMessage: Transport send failed for %s, falling back to REST: %v", msg.TempID, err)
	}

	saved, err := uc.chatRepo.SendMessage(ctx, msg.ConversationID, repository.SendMessageParams{
		Content: msg.Content,
		ReplyTo: msg.ReplyTo,
		TempID:  msg.TempID,
	})
	if err != nil {
		uc.metrics.Send("rest", false)
		logger.Error("SendMessage Error: Failed to send message %s in %s: %v", msg.TempID, msg.ConversationID, err)
		uc.mu.Lock()
		uc.timeline(msg.ConversationID).MarkFailed(msg.TempID)
		uc.mu.Unlock()
		uc.changed(ChangeMessages, msg.ConversationID)
		return nil, err
	}
	uc.metrics.Send("rest", true)
	if saved.ConversationID == "" {
		saved.ConversationID = msg.ConversationID
	}
	if saved.SenderID == "" {
		saved.SenderID = uc.userID
	}

	uc.mu.Lock()
	final, outcome := uc.timeline(msg.ConversationID).Confirm(msg.TempID, *saved)
	uc.mu.Unlock()
	uc.metrics.Reconciled(string(outcome))

	uc.directory.RecordMessage(msg.ConversationID, entity.LastMessage{
		Content:   final.Content,
		SenderID:  final.SenderID,
		CreatedAt: final.CreatedAt,
	}, false)
	uc.changed(ChangeMessages, msg.ConversationID)
	return &final, nil
}

// armAckTimeout ends the sending affordance if no echo arrives in time. The
// message stays pending; a late echo still promotes it.
func (uc *ChatUseCase) armAckTimeout(conversationID, tempID string) {
	time.AfterFunc(uc.cfg.AckTimeout, func() {
		uc.mu.Lock()
		changed := uc.timeline(conversationID).ClearSending(tempID)
		uc.mu.Unlock()
		if changed {
			logger.Debug("SendMessage: No acknowledgement for %s after %v", tempID, uc.cfg.AckTimeout)
			uc.changed(ChangeMessages, conversationID)
		}
	})
}

// RetryMessage resends a failed message, or a pending one whose
// acknowledgement window passed.
func (uc *ChatUseCase) RetryMessage(ctx context.Context, conversationID, tempID string) (*entity.Message, error) {
	uc.mu.Lock()
	tl := uc.timeline(conversationID)
	msg, ok := tl.Retryable(tempID)
	if ok {
		tl.MarkSending(tempID)
	}
	uc.mu.Unlock()
	if !ok {
		return nil, errors.BadRequest("Message cannot be retried", entity.ErrNotFailed)
	}

	uc.changed(ChangeMessages, conversationID)
	msg.Status = entity.MessageStatusPending
	msg.Sending = true
	return uc.deliver(ctx, msg)
}

// DiscardMessage drops an unconfirmed message that will not be retried.
func (uc *ChatUseCase) DiscardMessage(conversationID, tempID string) error {
	uc.mu.Lock()
	tl := uc.timeline(conversationID)
	_, ok := tl.Retryable(tempID)
	if ok {
		tl.Discard(tempID)
	}
	uc.mu.Unlock()
	if !ok {
		return errors.BadRequest("Message cannot be discarded", entity.ErrNotFailed)
	}
	uc.changed(ChangeMessages, conversationID)
	return nil
}

// ownedMessage checks that the current user may mutate the message.
func (uc *ChatUseCase) ownedMessage(conversationID, messageID string) (entity.Message, error) {
	uc.mu.Lock()
	msg, ok := uc.timeline(conversationID).Find(messageID)
	uc.mu.Unlock()
	switch {
	case !ok:
		return msg, errors.NotFound("Message", entity.ErrMessageNotFound)
	case msg.SenderID != uc.userID:
		return msg, errors.Forbidden("You can only change your own messages", entity.ErrNotOwner)
	case msg.IsDeleted:
		return msg, errors.BadRequest("Message was deleted", entity.ErrMessageDeleted)
	case msg.ID == "":
		return msg, errors.BadRequest("Message is not confirmed yet", nil)
	}
	return msg, nil
}

// EditMessage changes the content after the server accepts it. A rejected
// edit leaves the timeline untouched.
func (uc *ChatUseCase) EditMessage(ctx context.Context, input EditMessageInput) (*entity.Message, error) {
	if err := uc.validate.Struct(input); err != nil {
		return nil, err
	}
	content, err := entity.ValidateMessageText(input.Content)
	if err != nil {
		return nil, errors.BadRequest(err.Error(), err)
	}
	if _, err := uc.ownedMessage(input.ConversationID, input.MessageID); err != nil {
		return nil, err
	}

	updated, err := uc.chatRepo.EditMessage(ctx, input.ConversationID, input.MessageID, content)
	if err != nil {
		logger.Error("EditMessage Error: Failed to edit message %s: %v", input.MessageID, err)
		return nil, err
	}
	if updated != nil && updated.Content != "" {
		content = updated.Content
	}

	uc.mu.Lock()
	tl := uc.timeline(input.ConversationID)
	tl.ApplyEdit(input.MessageID, content)
	msg, _ := tl.Find(input.MessageID)
	uc.mu.Unlock()

	uc.directory.UpdatePreview(input.ConversationID, msg)
	uc.changed(ChangeMessages, input.ConversationID)
	return &msg, nil
}

// DeleteMessage tombstones the message after the server accepts the delete.
func (uc *ChatUseCase) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	if _, err := uc.ownedMessage(conversationID, messageID); err != nil {
		return err
	}
	if err := uc.chatRepo.DeleteMessage(ctx, conversationID, messageID); err != nil {
		logger.Error("DeleteMessage Error: Failed to delete message %s: %v", messageID, err)
		return err
	}

	uc.mu.Lock()
	tl := uc.timeline(conversationID)
	tl.Tombstone(messageID)
	msg, _ := tl.Find(messageID)
	uc.mu.Unlock()

	uc.directory.UpdatePreview(conversationID, msg)
	uc.changed(ChangeMessages, conversationID)
	return nil
}

// MarkRead zeroes the local counter, tells the server and broadcasts a read
// receipt for the newest message from someone else.
func (uc *ChatUseCase) MarkRead(ctx context.Context, conversationID string) error {
	if _, ok := uc.directory.Get(conversationID); !ok {
		return errors.NotFound("Conversation", entity.ErrConversationNotFound)
	}
	uc.directory.ResetUnread(conversationID)

	if err := uc.chatRepo.MarkRead(ctx, conversationID); err != nil {
		logger.Error("MarkRead Error: Failed to mark %s read: %v", conversationID, err)
		return err
	}

	uc.mu.Lock()
	last, ok := uc.timeline(conversationID).LastFrom(uc.userID)
	uc.mu.Unlock()
	if ok {
		uc.publish(ctx, entity.ReadReceiptCommand{ConversationID: conversationID, MessageID: last.ID})
	}
	return nil
}

// UpdateComposer reports the local user's draft for typing indicators.
func (uc *ChatUseCase) UpdateComposer(ctx context.Context, conversationID, text string) {
	if conversationID == "" {
		return
	}
	uc.broadcaster.Composing(ctx, conversationID, text)
}

func (uc *ChatUseCase) StartConversation(ctx context.Context, input StartConversationInput) (*entity.Conversation, error) {
	conv, err := uc.bootstrap.Start(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := uc.SelectConversation(ctx, conv.ID); err != nil {
		logger.Warn("StartConversation: Conversation %s created but could not be opened: %v", conv.ID, err)
	}
	return conv, nil
}

func (uc *ChatUseCase) DeleteConversation(ctx context.Context, conversationID string) error {
	wasActive := uc.directory.Active() == conversationID
	if err := uc.directory.Delete(ctx, conversationID); err != nil {
		return err
	}
	if wasActive {
		uc.broadcaster.Stop(ctx, conversationID)
		uc.publish(ctx, entity.LeaveConversationCommand{ConversationID: conversationID})
	}
	return nil
}

// Messages returns a copy of one conversation's timeline.
func (uc *ChatUseCase) Messages(conversationID string) []entity.Message {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	tl, ok := uc.timelines[conversationID]
	if !ok {
		return []entity.Message{}
	}
	return tl.Messages()
}

// Snapshot copies out the state a view renders.
func (uc *ChatUseCase) Snapshot() Snapshot {
	now := uc.now()
	active := uc.directory.Active()

	uc.mu.Lock()
	var messages []entity.Message
	if tl, ok := uc.timelines[active]; ok && active != "" {
		messages = tl.Messages()
	}
	conn := uc.connection
	lastError := uc.lastError
	uc.mu.Unlock()

	var unresolved []string
	for i := range messages {
		if p, ok := uc.profiles.Peek(messages[i].SenderID); ok {
			messages[i].Sender = p
		} else {
			unresolved = append(unresolved, messages[i].SenderID)
		}
	}
	if len(unresolved) > 0 {
		uc.profiles.Prefetch(uc.baseContext(), unresolved...)
	}

	var typing []TypingView
	for _, e := range uc.typing.Active(active) {
		typing = append(typing, TypingView{
			UserID:      e.UserID,
			DisplayName: uc.profiles.DisplayName(e.UserID),
			ExpiresAt:   e.ExpiresAt,
		})
	}

	if messages == nil {
		messages = []entity.Message{}
	}
	return Snapshot{
		CurrentUserID:        uc.userID,
		Conversations:        uc.directory.Views(now),
		TotalUnread:          uc.directory.TotalUnread(),
		ActiveConversationID: active,
		Messages:             messages,
		Typing:               typing,
		Connection:           conn,
		LastError:            lastError,
		GeneratedAt:          now,
	}
}

func (uc *ChatUseCase) Connection() entity.ConnectionState {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.connection
}

// Run consumes transport events until ctx ends or the stream closes.
func (uc *ChatUseCase) Run(ctx context.Context) error {
	uc.mu.Lock()
	uc.runCtx = ctx
	uc.mu.Unlock()

	uc.typing.StartJanitor(ctx, time.Second, func(conversationID string) {
		uc.changed(ChangeTyping, conversationID)
	})

	events := uc.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			uc.metrics.Event(ws.EventKind(ev))
			ev.Accept(uc)
		}
	}
}

func (uc *ChatUseCase) baseContext() context.Context {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.runCtx
}

func (uc *ChatUseCase) HandleNewMessage(ev entity.NewMessageEvent) {
	msg := ev.Message
	if msg.ConversationID == "" || msg.ID == "" {
		return
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = uc.now()
	}
	if msg.Status == "" || msg.Status == entity.MessageStatusPending {
		msg.Status = entity.MessageStatusSent
	}
	uc.profiles.ObserveName(msg.SenderID, ev.SenderName)
	if uc.typing.Remove(msg.ConversationID, msg.SenderID) {
		uc.changed(ChangeTyping, msg.ConversationID)
	}

	uc.mu.Lock()
	outcome := uc.timeline(msg.ConversationID).Merge(msg, uc.userID, uc.cfg.EchoMatchWindow, uc.cfg.DuplicateWindow)
	uc.mu.Unlock()
	uc.metrics.Reconciled(string(outcome))

	switch outcome {
	case OutcomeAppended, OutcomePromotedTempID, OutcomePromotedMatch:
	default:
		return
	}

	known := uc.directory.RecordMessage(msg.ConversationID, entity.LastMessage{
		Content:   msg.Content,
		SenderID:  msg.SenderID,
		CreatedAt: msg.CreatedAt,
	}, outcome == OutcomeAppended)
	if !known {
		go uc.refreshDirectory()
	}
	uc.profiles.Prefetch(uc.baseContext(), msg.SenderID)
	uc.changed(ChangeMessages, msg.ConversationID)
}

func (uc *ChatUseCase) HandleMessageAck(ev entity.MessageAckEvent) {
	uc.mu.Lock()
	changed := false
	if tl, ok := uc.timelines[ev.ConversationID]; ok {
		changed = tl.Ack(ev)
	} else if ev.ConversationID == "" {
		for _, tl := range uc.timelines {
			if tl.Ack(ev) {
				changed = true
				ev.ConversationID = tl.conversationID
				break
			}
		}
	}
	uc.mu.Unlock()
	if changed {
		uc.changed(ChangeMessages, ev.ConversationID)
	}
}

func (uc *ChatUseCase) HandleTyping(ev entity.TypingEvent) {
	if ev.UserID == uc.userID {
		return
	}
	uc.profiles.ObserveName(ev.UserID, ev.UserName)
	if uc.typing.Apply(ev) {
		uc.changed(ChangeTyping, ev.ConversationID)
	}
}

// HandleReadReceipt ignores receipts for messages not materialized locally.
func (uc *ChatUseCase) HandleReadReceipt(ev entity.ReadReceiptEvent) {
	if ev.ReaderID == uc.userID {
		return
	}
	at := ev.ReadAt
	if at.IsZero() {
		at = uc.now()
	}
	uc.mu.Lock()
	changed := false
	if tl, ok := uc.timelines[ev.ConversationID]; ok {
		changed = tl.ApplyReadReceipt(ev.MessageID, ev.ReaderID, at)
	}
	uc.mu.Unlock()
	if changed {
		uc.changed(ChangeMessages, ev.ConversationID)
	}
}

func (uc *ChatUseCase) HandlePresence(ev entity.PresenceEvent) {
	uc.profiles.ApplyPresence(ev)
}

func (uc *ChatUseCase) HandleConversationUpdate(ev entity.ConversationUpdateEvent) {
	if ev.LastMessage != nil {
		uc.profiles.ObserveName(ev.LastMessage.SenderID, ev.SenderName)
	}
	if !uc.directory.ApplyUpdate(ev) {
		go uc.refreshDirectory()
	}
}

func (uc *ChatUseCase) HandleError(ev entity.ErrorEvent) {
	logger.Warn("Transport: Server reported error: %s", ev.Message)
	uc.mu.Lock()
	uc.lastError = ev.Message
	uc.mu.Unlock()
	uc.changed(ChangeConnection, "")
}

func (uc *ChatUseCase) HandleConnection(ev entity.ConnectionEvent) {
	uc.mu.Lock()
	uc.connection = ev.State
	if ev.State.Status == entity.ConnectionConnected {
		uc.lastError = ""
	}
	uc.mu.Unlock()
	uc.changed(ChangeConnection, "")

	if ev.State.Status == entity.ConnectionConnected {
		go uc.resync(uc.baseContext())
	}
}

// resync catches up after a (re)connect: the list, the active room and its
// history. Local pending and failed messages survive the history reload.
func (uc *ChatUseCase) resync(ctx context.Context) {
	if err := uc.directory.Refresh(ctx); err != nil {
		logger.LogSyncError("", "refresh_conversations", err)
	}
	active := uc.directory.Active()
	if active == "" {
		return
	}
	uc.publish(ctx, entity.JoinConversationCommand{ConversationID: active})
	if err := uc.loadHistory(ctx, active); err != nil {
		logger.LogSyncError(active, "load_history", err)
	}
}

func (uc *ChatUseCase) refreshDirectory() {
	if err := uc.directory.Refresh(uc.baseContext()); err != nil {
		logger.LogSyncError("", "refresh_conversations", err)
	}
}
