package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigchat/internal/domain/entity"
	"gigchat/pkg/errors"
)

func selected(t *testing.T, h *harness, id string) {
	t.Helper()
	require.NoError(t, h.directory.Refresh(context.Background()))
	require.NoError(t, h.chat.SelectConversation(context.Background(), id))
}

func TestSendMessageConnectedThenEchoYieldsOneMessage(t *testing.T) {
	h := newHarness(true, directConversation("c1", "u2"))
	selected(t, h, "c1")

	sent, err := h.chat.SendMessage(context.Background(), SendMessageInput{ConversationID: "c1", Content: "  hello  "})
	require.NoError(t, err)
	assert.Equal(t, "hello", sent.Content)
	assert.True(t, sent.IsPending())
	assert.Zero(t, atomic.LoadInt32(&h.repo.sendCalls), "connected sends go over the transport")

	sends := h.transport.sends()
	require.Len(t, sends, 1)
	assert.Equal(t, sent.TempID, sends[0].TempID)

	h.chat.HandleNewMessage(entity.NewMessageEvent{Message: pushed("srv-1", "me", "hello", t0.Add(time.Second))})

	msgs := h.chat.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.Equal(t, entity.MessageStatusSent, msgs[0].Status)
	assert.False(t, msgs[0].Sending)
}

func TestSendMessageDisconnectedFallsBackToREST(t *testing.T) {
	h := newHarness(false, directConversation("c1", "u2"))
	selected(t, h, "c1")

	sent, err := h.chat.SendMessage(context.Background(), SendMessageInput{Content: "via rest"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", sent.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.repo.sendCalls))
	require.Len(t, h.repo.sent, 1)
	assert.NotEmpty(t, h.repo.sent[0].TempID)

	msgs := h.chat.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.Empty(t, msgs[0].TempID)

	conv, _ := h.directory.Get("c1")
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "via rest", conv.LastMessage.Content)
}

func TestSendMessageTransportErrorFallsBackToREST(t *testing.T) {
	h := newHarness(true, directConversation("c1", "u2"))
	selected(t, h, "c1")
	h.transport.failSend = true

	sent, err := h.chat.SendMessage(context.Background(), SendMessageInput{ConversationID: "c1", Content: "retry me"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", sent.ID)
	assert.Len(t, h.chat.Messages("c1"), 1)
}

func TestSendMessageRESTFailureMarksFailedAndRetries(t *testing.T) {
	h := newHarness(false, directConversation("c1", "u2"))
	selected(t, h, "c1")
	h.repo.sendErr = fmt.Errorf("503")

	_, err := h.chat.SendMessage(context.Background(), SendMessageInput{ConversationID: "c1", Content: "fragile"})
	require.Error(t, err)

	msgs := h.chat.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, entity.MessageStatusFailed, msgs[0].Status)
	tempID := msgs[0].TempID

	h.repo.sendErr = nil
	retried, err := h.chat.RetryMessage(context.Background(), "c1", tempID)
	require.NoError(t, err)
	assert.NotEmpty(t, retried.ID)

	msgs = h.chat.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, entity.MessageStatusSent, msgs[0].Status)

	_, err = h.chat.RetryMessage(context.Background(), "c1", tempID)
	assert.Error(t, err, "confirmed messages cannot be retried")
}

func TestDiscardFailedMessage(t *testing.T) {
	h := newHarness(false, directConversation("c1", "u2"))
	selected(t, h, "c1")
	h.repo.sendErr = fmt.Errorf("boom")

	_, _ = h.chat.SendMessage(context.Background(), SendMessageInput{ConversationID: "c1", Content: "bye"})
	tempID := h.chat.Messages("c1")[0].TempID

	require.NoError(t, h.chat.DiscardMessage("c1", tempID))
	assert.Empty(t, h.chat.Messages("c1"))
	assert.Error(t, h.chat.DiscardMessage("c1", tempID))
}

func TestSendMessageValidation(t *testing.T) {
	h := newHarness(false, directConversation("c1", "u2"))
	require.NoError(t, h.directory.Refresh(context.Background()))

	_, err := h.chat.SendMessage(context.Background(), SendMessageInput{ConversationID: "c1", Content: "   "})
	require.Error(t, err)
	assert.True(t, errors.Is(err, "BAD_REQUEST"))

	_, err = h.chat.SendMessage(context.Background(), SendMessageInput{Content: "no selection"})
	require.Error(t, err)

	_, err = h.chat.SendMessage(context.Background(), SendMessageInput{ConversationID: "missing", Content: "hi"})
	assert.True(t, errors.Is(err, "NOT_FOUND"))
	assert.Zero(t, atomic.LoadInt32(&h.repo.sendCalls))
}

func TestAckTimeoutLeavesMessagePending(t *testing.T) {
	h := newHarness(true, directConversation("c1", "u2"))
	h.chat.cfg.AckTimeout = 10 * time.Millisecond
	selected(t, h, "c1")

	_, err := h.chat.SendMessage(context.Background(), SendMessageInput{ConversationID: "c1", Content: "slow"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := h.chat.Messages("c1")
		return len(msgs) == 1 && !msgs[0].Sending
	}, time.Second, 5*time.Millisecond)
	assert.True(t, h.chat.Messages("c1")[0].IsPending())

	h.chat.HandleNewMessage(entity.NewMessageEvent{Message: pushed("srv-late", "me", "slow", t0.Add(10*time.Second))})
	msgs := h.chat.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-late", msgs[0].ID)
}

func TestSelectConversationLoadsHistoryAndMarksRead(t *testing.T) {
	conv := directConversation("c1", "u2")
	conv.UnreadCount = 3
	h := newHarness(true, conv)
	h.repo.messages["c1"] = []*entity.Message{
		ptr(pushed("m2", "u2", "second", t0.Add(time.Second))),
		ptr(pushed("m1", "u2", "first", t0)),
	}
	selected(t, h, "c1")

	assert.Equal(t, []string{"m1", "m2"}, keys(h.chat.Messages("c1")))
	assert.Equal(t, 0, h.directory.TotalUnread())
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.repo.markCalls))

	cmds := h.transport.commands()
	assert.Contains(t, cmds, entity.Command(entity.JoinConversationCommand{ConversationID: "c1"}))
	assert.Contains(t, cmds, entity.Command(entity.ReadReceiptCommand{ConversationID: "c1", MessageID: "m2"}))
}

func TestSelectingAnotherConversationLeavesThePrevious(t *testing.T) {
	h := newHarness(true, directConversation("c1", "u2"), directConversation("c2", "u3"))
	selected(t, h, "c1")
	require.NoError(t, h.chat.SelectConversation(context.Background(), "c2"))

	assert.Contains(t, h.transport.commands(), entity.Command(entity.LeaveConversationCommand{ConversationID: "c1"}))
	assert.Equal(t, "c2", h.directory.Active())
}

func TestMarkReadIsIdempotent(t *testing.T) {
	conv := directConversation("c1", "u2")
	conv.UnreadCount = 5
	h := newHarness(false, conv)
	require.NoError(t, h.directory.Refresh(context.Background()))

	require.NoError(t, h.chat.MarkRead(context.Background(), "c1"))
	first, _ := h.directory.Get("c1")
	require.NoError(t, h.chat.MarkRead(context.Background(), "c1"))
	second, _ := h.directory.Get("c1")

	assert.Equal(t, 0, first.UnreadCount)
	assert.Equal(t, first.UnreadCount, second.UnreadCount)
}

func TestEditMessageKeepsOrder(t *testing.T) {
	h := newHarness(false, directConversation("c1", "u2"))
	h.repo.messages["c1"] = []*entity.Message{
		ptr(pushed("A", "me", "hi", t0)),
		ptr(pushed("B", "u2", "hello", t0.Add(5*time.Second))),
	}
	selected(t, h, "c1")

	edited, err := h.chat.EditMessage(context.Background(), EditMessageInput{ConversationID: "c1", MessageID: "A", Content: "hi there"})
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)

	msgs := h.chat.Messages("c1")
	assert.Equal(t, []string{"A", "B"}, keys(msgs))
	assert.Equal(t, "hi there", msgs[0].Content)
	assert.True(t, msgs[0].IsEdited)
	assert.False(t, msgs[1].IsEdited)
}

func TestEditMessageRejections(t *testing.T) {
	h := newHarness(false, directConversation("c1", "u2"))
	h.repo.messages["c1"] = []*entity.Message{
		ptr(pushed("A", "me", "mine", t0)),
		ptr(pushed("B", "u2", "theirs", t0.Add(time.Second))),
	}
	selected(t, h, "c1")

	_, err := h.chat.EditMessage(context.Background(), EditMessageInput{ConversationID: "c1", MessageID: "B", Content: "hijack"})
	assert.True(t, errors.Is(err, "FORBIDDEN"))

	h.repo.editErr = fmt.Errorf("server said no")
	_, err = h.chat.EditMessage(context.Background(), EditMessageInput{ConversationID: "c1", MessageID: "A", Content: "changed"})
	require.Error(t, err)
	assert.Equal(t, "mine", h.chat.Messages("c1")[0].Content, "failed edits leave state intact")
	assert.False(t, h.chat.Messages("c1")[0].IsEdited)
}

func TestDeleteMessageTombstones(t *testing.T) {
	h := newHarness(false, directConversation("c1", "u2"))
	h.repo.messages["c1"] = []*entity.Message{
		ptr(pushed("A", "me", "oops", t0)),
		ptr(pushed("B", "u2", "what?", t0.Add(time.Second))),
	}
	selected(t, h, "c1")

	require.NoError(t, h.chat.DeleteMessage(context.Background(), "c1", "A"))
	msgs := h.chat.Messages("c1")
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsDeleted)
	assert.Equal(t, entity.DeletedMessageContent, msgs[0].Content)

	err := h.chat.DeleteMessage(context.Background(), "c1", "A")
	assert.True(t, errors.Is(err, "BAD_REQUEST"), "already deleted")
}

func TestDeleteMessageFailureKeepsContent(t *testing.T) {
	h := newHarness(false, directConversation("c1", "u2"))
	h.repo.messages["c1"] = []*entity.Message{ptr(pushed("A", "me", "keep", t0))}
	selected(t, h, "c1")
	h.repo.deleteErr = fmt.Errorf("nope")

	require.Error(t, h.chat.DeleteMessage(context.Background(), "c1", "A"))
	assert.Equal(t, "keep", h.chat.Messages("c1")[0].Content)
}

func TestIncomingMessageCountsUnreadOutsideActiveConversation(t *testing.T) {
	h := newHarness(false, directConversation("c1", "u2"), directConversation("c2", "u3"))
	selected(t, h, "c1")

	ping := pushed("x1", "u3", "ping", t0)
	ping.ConversationID = "c2"
	h.chat.HandleNewMessage(entity.NewMessageEvent{Message: ping})
	h.chat.HandleConversationUpdate(entity.ConversationUpdateEvent{
		ConversationID: "c2",
		LastMessage:    &entity.LastMessage{Content: "ping", SenderID: "u3", CreatedAt: t0},
	})
	h.chat.HandleNewMessage(entity.NewMessageEvent{Message: pushed("x2", "u2", "here", t0)})

	c2, _ := h.directory.Get("c2")
	assert.Equal(t, 1, c2.UnreadCount, "message and list update for the same message count once")
	c1, _ := h.directory.Get("c1")
	assert.Zero(t, c1.UnreadCount)
}

func TestIncomingMessagesOutOfOrderCountEachOnce(t *testing.T) {
	h := newHarness(false, directConversation("c1", "u2"), directConversation("c2", "u3"))
	selected(t, h, "c1")

	second := pushed("m2", "u3", "second", t0.Add(6*time.Second))
	second.ConversationID = "c2"
	first := pushed("m1", "u3", "first", t0.Add(5*time.Second))
	first.ConversationID = "c2"
	h.chat.HandleNewMessage(entity.NewMessageEvent{Message: second})
	h.chat.HandleNewMessage(entity.NewMessageEvent{Message: first})
	h.chat.HandleConversationUpdate(entity.ConversationUpdateEvent{
		ConversationID: "c2",
		LastMessage:    &entity.LastMessage{Content: "first", SenderID: "u3", CreatedAt: t0.Add(5 * time.Second)},
	})

	c2, _ := h.directory.Get("c2")
	assert.Equal(t, 2, c2.UnreadCount)
	assert.Equal(t, "second", c2.LastMessage.Content)
}

func TestReplyCountsUnreadWhenServerClockLagsLocalSend(t *testing.T) {
	h := newHarness(true, directConversation("c1", "u2"), directConversation("c2", "u3"))
	selected(t, h, "c1")

	sent, err := h.chat.SendMessage(context.Background(), SendMessageInput{ConversationID: "c2", Content: "hi"})
	require.NoError(t, err)

	reply := pushed("m1", "u3", "hey", t0.Add(-10*time.Second))
	reply.ConversationID = "c2"
	h.chat.HandleNewMessage(entity.NewMessageEvent{Message: reply})

	c2, _ := h.directory.Get("c2")
	assert.Equal(t, 1, c2.UnreadCount)
	assert.Equal(t, "hi", c2.LastMessage.Content)

	echo := pushed("m2", "me", "hi", t0.Add(-5*time.Second))
	echo.ConversationID = "c2"
	echo.TempID = sent.TempID
	h.chat.HandleNewMessage(entity.NewMessageEvent{Message: echo})

	c2, _ = h.directory.Get("c2")
	assert.True(t, c2.LastMessage.CreatedAt.Equal(t0.Add(-5*time.Second)), "the echo replaces the optimistic preview")
	assert.Equal(t, 1, c2.UnreadCount)
}

func TestReadReceiptForUnknownMessageIsNoOp(t *testing.T) {
	h := newHarness(false, directConversation("c1", "u2"))
	h.repo.messages["c1"] = []*entity.Message{ptr(pushed("A", "me", "hi", t0))}
	selected(t, h, "c1")
	before := h.chat.Messages("c1")

	assert.NotPanics(t, func() {
		h.chat.HandleReadReceipt(entity.ReadReceiptEvent{ConversationID: "c1", MessageID: "ghost", ReaderID: "u2"})
		h.chat.HandleReadReceipt(entity.ReadReceiptEvent{ConversationID: "nowhere", MessageID: "A", ReaderID: "u2"})
	})
	assert.Equal(t, before, h.chat.Messages("c1"))

	h.chat.HandleReadReceipt(entity.ReadReceiptEvent{ConversationID: "c1", MessageID: "A", ReaderID: "u2", ReadAt: t0})
	assert.True(t, h.chat.Messages("c1")[0].IsReadBy("u2"))
}

func TestTypingEventsSurfaceForActiveConversation(t *testing.T) {
	h := newHarness(false, directConversation("c1", "u2"), directConversation("c2", "u3"))
	selected(t, h, "c1")

	h.chat.HandleTyping(entity.TypingEvent{ConversationID: "c1", UserID: "u2", UserName: "Ana", Typing: true})
	h.chat.HandleTyping(entity.TypingEvent{ConversationID: "c2", UserID: "u3", Typing: true})
	h.chat.HandleTyping(entity.TypingEvent{ConversationID: "c1", UserID: "me", Typing: true})

	snap := h.chat.Snapshot()
	require.Len(t, snap.Typing, 1)
	assert.Equal(t, "u2", snap.Typing[0].UserID)

	h.chat.HandleNewMessage(entity.NewMessageEvent{Message: pushed("m1", "u2", "done typing", t0)})
	assert.Empty(t, h.chat.Snapshot().Typing, "a message from the typist clears the indicator")
}

func TestRunDispatchesEventsAndResyncsOnConnect(t *testing.T) {
	h := newHarness(true, directConversation("c1", "u2"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.chat.Run(ctx) }()

	h.transport.events <- entity.ConnectionEvent{State: entity.ConnectionState{Status: entity.ConnectionConnected}}
	require.Eventually(t, func() bool { return len(h.directory.List()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, entity.ConnectionConnected, h.chat.Connection().Status)

	h.transport.events <- entity.ErrorEvent{Message: "slow down"}
	require.Eventually(t, func() bool { return h.chat.Snapshot().LastError == "slow down" }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestStartConversationSelectsIt(t *testing.T) {
	h := newHarness(true)
	conv, err := h.chat.StartConversation(context.Background(), StartConversationInput{Type: entity.ConversationDirect, Participants: []string{"u2"}})
	require.NoError(t, err)
	assert.Equal(t, conv.ID, h.directory.Active())
	assert.Contains(t, h.transport.commands(), entity.Command(entity.JoinConversationCommand{ConversationID: conv.ID}))
}

func TestDeleteConversationClearsSelection(t *testing.T) {
	h := newHarness(true, directConversation("c1", "u2"))
	selected(t, h, "c1")

	require.NoError(t, h.chat.DeleteConversation(context.Background(), "c1"))
	assert.Empty(t, h.directory.Active())
	assert.Empty(t, h.chat.Snapshot().Conversations)
	assert.Contains(t, h.transport.commands(), entity.Command(entity.LeaveConversationCommand{ConversationID: "c1"}))
}

func TestAckPromotesThenDeliveryReceiptUpgrades(t *testing.T) {
	h := newHarness(true, directConversation("c1", "u2"))
	selected(t, h, "c1")

	sent, err := h.chat.SendMessage(context.Background(), SendMessageInput{Content: "quote attached"})
	require.NoError(t, err)

	h.chat.HandleMessageAck(entity.MessageAckEvent{TempID: sent.TempID, MessageID: "srv-9", Status: entity.MessageStatusSent})
	msgs := h.chat.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-9", msgs[0].ID)
	assert.Equal(t, entity.MessageStatusSent, msgs[0].Status)

	receipt := entity.MessageAckEvent{ConversationID: "c1", MessageID: "srv-9", Status: entity.MessageStatusDelivered}
	h.chat.HandleMessageAck(receipt)
	h.chat.HandleMessageAck(receipt)
	assert.Equal(t, entity.MessageStatusDelivered, h.chat.Messages("c1")[0].Status)

	h.chat.HandleNewMessage(entity.NewMessageEvent{Message: pushed("srv-9", "me", "quote attached", t0)})
	assert.Len(t, h.chat.Messages("c1"), 1, "late echo of an acked message is a duplicate")
}

func TestListUpdateForUnknownConversationRefreshesDirectory(t *testing.T) {
	h := newHarness(false, directConversation("c1", "u2"))
	require.NoError(t, h.directory.Refresh(context.Background()))

	h.repo.mu.Lock()
	h.repo.conversations = append(h.repo.conversations, directConversation("c9", "u7"))
	h.repo.mu.Unlock()

	h.chat.HandleConversationUpdate(entity.ConversationUpdateEvent{
		ConversationID: "c9",
		SenderName:     "Kim",
		LastMessage:    &entity.LastMessage{Content: "are you available?", SenderID: "u7", CreatedAt: t0},
	})

	require.Eventually(t, func() bool {
		_, ok := h.directory.Get("c9")
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Kim", h.profiles.DisplayName("u7"))
}
