package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigchat/internal/domain/entity"
)

const (
	echoWindow = 30 * time.Second
	dupWindow  = 5 * time.Second
)

func pending(tempID, content string, at time.Time) entity.Message {
	return entity.Message{
		TempID:         tempID,
		ConversationID: "c1",
		SenderID:       "me",
		Content:        content,
		CreatedAt:      at,
		Status:         entity.MessageStatusPending,
		Sending:        true,
	}
}

func pushed(id, sender, content string, at time.Time) entity.Message {
	return entity.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       sender,
		Content:        content,
		CreatedAt:      at,
		Status:         entity.MessageStatusSent,
	}
}

func keys(msgs []entity.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Key())
	}
	return out
}

func assertOrdered(t *testing.T, msgs []entity.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt), "message %d is older than its predecessor", i)
	}
}

func TestTimelineOrdersByCreatedAtThenInsertion(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Merge(pushed("b", "u2", "second", t0.Add(2*time.Second)), "me", echoWindow, dupWindow)
	tl.Merge(pushed("a", "u2", "first", t0), "me", echoWindow, dupWindow)
	tl.Merge(pushed("c", "u3", "tie", t0.Add(2*time.Second)), "me", echoWindow, dupWindow)
	tl.Append(pending("tmp-1", "mine", t0.Add(time.Second)))

	msgs := tl.Messages()
	assert.Equal(t, []string{"a", "tmp-1", "b", "c"}, keys(msgs))
	assertOrdered(t, msgs)
}

func TestTimelineDuplicateIDIsDropped(t *testing.T) {
	tl := NewTimeline("c1")
	assert.Equal(t, OutcomeAppended, tl.Merge(pushed("m1", "u2", "hi", t0), "me", echoWindow, dupWindow))
	assert.Equal(t, OutcomeDuplicate, tl.Merge(pushed("m1", "u2", "hi", t0), "me", echoWindow, dupWindow))
	assert.Equal(t, 1, tl.Len())
}

func TestTimelineEchoPromotesPendingInPlace(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Merge(pushed("m0", "u2", "before", t0.Add(-time.Minute)), "me", echoWindow, dupWindow)
	tl.Append(pending("tmp-1", "hello", t0))

	outcome := tl.Merge(pushed("srv-1", "me", "hello", t0.Add(2*time.Second)), "me", echoWindow, dupWindow)
	assert.Equal(t, OutcomePromotedMatch, outcome)

	msgs := tl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "srv-1", msgs[1].ID)
	assert.Empty(t, msgs[1].TempID)
	assert.Equal(t, entity.MessageStatusSent, msgs[1].Status)
	assert.False(t, msgs[1].Sending)
	assert.Equal(t, t0.Add(2*time.Second), msgs[1].CreatedAt)

	_, found := tl.Find("tmp-1")
	assert.False(t, found, "temp id is retired after promotion")
}

func TestTimelineEchoWithTempIDMatchesExactly(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Append(pending("tmp-1", "same", t0))
	tl.Append(pending("tmp-2", "same", t0.Add(time.Second)))

	echo := pushed("srv-2", "me", "same", t0.Add(time.Second))
	echo.TempID = "tmp-2"
	assert.Equal(t, OutcomePromotedTempID, tl.Merge(echo, "me", echoWindow, dupWindow))

	first, ok := tl.Find("tmp-1")
	require.True(t, ok)
	assert.True(t, first.IsPending())
	second, ok := tl.Find("srv-2")
	require.True(t, ok)
	assert.Equal(t, entity.MessageStatusSent, second.Status)
}

func TestTimelineOutOfOrderEchoesMatchByContent(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Append(pending("tmp-ping", "ping", t0))
	tl.Append(pending("tmp-pong", "pong", t0.Add(100*time.Millisecond)))

	assert.Equal(t, OutcomePromotedMatch, tl.Merge(pushed("srv-pong", "me", "pong", t0.Add(100*time.Millisecond)), "me", echoWindow, dupWindow))
	assert.Equal(t, OutcomePromotedMatch, tl.Merge(pushed("srv-ping", "me", "ping", t0), "me", echoWindow, dupWindow))

	msgs := tl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "srv-ping", msgs[0].ID)
	assert.Equal(t, "ping", msgs[0].Content)
	assert.Equal(t, "srv-pong", msgs[1].ID)
	assert.Equal(t, "pong", msgs[1].Content)
}

func TestTimelineEchoOutsideWindowIsAppended(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Append(pending("tmp-1", "hello", t0))

	assert.Equal(t, OutcomeAppended, tl.Merge(pushed("srv-1", "me", "hello", t0.Add(time.Minute)), "me", echoWindow, dupWindow))
	assert.Equal(t, 2, tl.Len())
}

func TestTimelineNearDuplicateEchoIsDropped(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Merge(pushed("srv-1", "me", "hello", t0), "me", echoWindow, dupWindow)

	assert.Equal(t, OutcomeDroppedEcho, tl.Merge(pushed("srv-retry", "me", "hello", t0.Add(2*time.Second)), "me", echoWindow, dupWindow))
	assert.Equal(t, OutcomeAppended, tl.Merge(pushed("srv-later", "me", "hello", t0.Add(10*time.Second)), "me", echoWindow, dupWindow))
	assert.Equal(t, 2, tl.Len())
}

func TestTimelineSameContentFromOthersIsAppended(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Append(pending("tmp-1", "ok", t0))

	assert.Equal(t, OutcomeAppended, tl.Merge(pushed("srv-9", "u2", "ok", t0), "me", echoWindow, dupWindow))
	mine, ok := tl.Find("tmp-1")
	require.True(t, ok)
	assert.True(t, mine.IsPending())
}

func TestTimelineConfirmReplacesTemporaryOnce(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Append(pending("tmp-1", "hi", t0))

	msg, outcome := tl.Confirm("tmp-1", pushed("srv-1", "me", "hi", t0.Add(time.Second)))
	assert.Equal(t, OutcomePromotedTempID, outcome)
	assert.Equal(t, "srv-1", msg.ID)

	_, outcome = tl.Confirm("tmp-1", pushed("srv-1", "me", "hi", t0.Add(time.Second)))
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, 1, tl.Len())
}

func TestTimelineConfirmAfterSeparateEchoRemovesTemporary(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Append(pending("tmp-1", "hi", t0))
	// Echo arrives outside the match window and is appended on its own.
	tl.Merge(pushed("srv-1", "me", "hi", t0.Add(time.Minute)), "me", echoWindow, dupWindow)
	require.Equal(t, 2, tl.Len())

	_, outcome := tl.Confirm("tmp-1", pushed("srv-1", "me", "hi", t0.Add(time.Minute)))
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, []string{"srv-1"}, keys(tl.Messages()))
}

func TestTimelineReplaceHistoryKeepsUnconfirmedLocals(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Merge(pushed("old", "u2", "stale", t0.Add(-time.Hour)), "me", echoWindow, dupWindow)
	tl.Append(pending("tmp-confirmed", "made it", t0))
	tl.Append(pending("tmp-lost", "still pending", t0.Add(time.Second)))
	failed := pending("tmp-failed", "failed one", t0.Add(2*time.Second))
	tl.Append(failed)
	tl.MarkFailed("tmp-failed")

	history := []*entity.Message{
		ptr(pushed("h2", "me", "made it", t0.Add(500*time.Millisecond))),
		ptr(pushed("h1", "u2", "hello", t0.Add(-time.Minute))),
	}
	tl.ReplaceHistory(history, "me", echoWindow)

	msgs := tl.Messages()
	assert.Equal(t, []string{"h1", "h2", "tmp-lost", "tmp-failed"}, keys(msgs))
	assert.True(t, tl.Loaded())
	assertOrdered(t, msgs)
	f, ok := tl.Find("tmp-failed")
	require.True(t, ok)
	assert.Equal(t, entity.MessageStatusFailed, f.Status)
}

func TestTimelineReplaceHistoryKeepsNewerPushedMessages(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Merge(pushed("late", "u2", "arrived during fetch", t0.Add(time.Minute)), "me", echoWindow, dupWindow)

	tl.ReplaceHistory([]*entity.Message{ptr(pushed("h1", "u2", "hello", t0))}, "me", echoWindow)
	assert.Equal(t, []string{"h1", "late"}, keys(tl.Messages()))
}

func TestTimelineReplaceHistoryWithEmptySnapshotDropsConfirmed(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Merge(pushed("gone", "u2", "deleted upstream", t0), "me", echoWindow, dupWindow)
	tl.Append(pending("tmp-1", "still going", t0.Add(time.Second)))

	tl.ReplaceHistory(nil, "me", echoWindow)
	assert.Equal(t, []string{"tmp-1"}, keys(tl.Messages()))
	assert.True(t, tl.Loaded())
}

func TestTimelineEditKeepsOrder(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Merge(pushed("A", "me", "hi", t0), "me", echoWindow, dupWindow)
	tl.Merge(pushed("B", "u2", "hello", t0.Add(5*time.Second)), "me", echoWindow, dupWindow)

	require.True(t, tl.ApplyEdit("A", "hi there"))
	msgs := tl.Messages()
	assert.Equal(t, []string{"A", "B"}, keys(msgs))
	assert.Equal(t, "hi there", msgs[0].Content)
	assert.True(t, msgs[0].IsEdited)
	assert.False(t, msgs[1].IsEdited)
	assert.Equal(t, t0, msgs[0].CreatedAt)
}

func TestTimelineTombstoneKeepsCountAndReplies(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Merge(pushed("A", "me", "original", t0), "me", echoWindow, dupWindow)
	reply := pushed("B", "u2", "answer", t0.Add(time.Second))
	reply.ReplyTo = "A"
	tl.Merge(reply, "me", echoWindow, dupWindow)

	require.True(t, tl.Tombstone("A"))
	assert.Equal(t, 2, tl.Len())

	target, ok := tl.Find(tl.Messages()[1].ReplyTo)
	require.True(t, ok)
	assert.True(t, target.IsDeleted)
	assert.Equal(t, entity.DeletedMessageContent, target.Content)
}

func TestTimelineReadReceipts(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Merge(pushed("m1", "me", "one", t0), "me", echoWindow, dupWindow)
	tl.Merge(pushed("m2", "u2", "theirs", t0.Add(time.Second)), "me", echoWindow, dupWindow)
	tl.Merge(pushed("m3", "me", "three", t0.Add(2*time.Second)), "me", echoWindow, dupWindow)

	assert.False(t, tl.ApplyReadReceipt("unknown", "u2", t0), "unknown message is a no-op")
	assert.True(t, tl.ApplyReadReceipt("m3", "u2", t0.Add(time.Minute)))
	assert.False(t, tl.ApplyReadReceipt("m3", "u2", t0.Add(2*time.Minute)), "second receipt changes nothing")

	msgs := tl.Messages()
	assert.True(t, msgs[0].IsReadBy("u2"))
	assert.False(t, msgs[1].IsReadBy("u2"), "own message of the reader")
	assert.True(t, msgs[2].IsReadBy("u2"))
	assert.Len(t, msgs[2].ReadBy, 1)
}

func TestTimelineAck(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Append(pending("tmp-1", "hi", t0))

	assert.True(t, tl.Ack(entity.MessageAckEvent{TempID: "tmp-1", MessageID: "srv-1", Status: entity.MessageStatusSent}))
	assert.True(t, tl.Ack(entity.MessageAckEvent{MessageID: "srv-1", Status: entity.MessageStatusDelivered}))
	assert.False(t, tl.Ack(entity.MessageAckEvent{MessageID: "srv-1", Status: entity.MessageStatusDelivered}))
	assert.False(t, tl.Ack(entity.MessageAckEvent{MessageID: "nope", Status: entity.MessageStatusDelivered}))

	msg, ok := tl.Find("srv-1")
	require.True(t, ok)
	assert.Equal(t, entity.MessageStatusDelivered, msg.Status)
	assert.Equal(t, t0, msg.CreatedAt, "ack without timestamp keeps the local one")
}

func TestTimelineRetryAndDiscard(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Append(pending("tmp-1", "hi", t0))

	_, ok := tl.Retryable("tmp-1")
	assert.False(t, ok, "still sending")

	require.True(t, tl.ClearSending("tmp-1"))
	_, ok = tl.Retryable("tmp-1")
	assert.True(t, ok, "ack window passed")

	require.True(t, tl.MarkFailed("tmp-1"))
	require.True(t, tl.MarkSending("tmp-1"))
	m, _ := tl.Find("tmp-1")
	assert.True(t, m.Sending)
	assert.True(t, m.IsPending())

	tl.MarkFailed("tmp-1")
	assert.True(t, tl.Discard("tmp-1"))
	assert.Equal(t, 0, tl.Len())
}

func ptr(m entity.Message) *entity.Message {
	return &m
}
