package usecase

import (
	"sort"
	"time"

	"gigchat/internal/domain/entity"
)

// MergeOutcome says what happened to a pushed message.
type MergeOutcome string

const (
	OutcomeAppended       MergeOutcome = "appended"
	OutcomeDuplicate      MergeOutcome = "duplicate"
	OutcomePromotedTempID MergeOutcome = "promoted_temp_id"
	OutcomePromotedMatch  MergeOutcome = "promoted_match"
	OutcomeDroppedEcho    MergeOutcome = "dropped_echo"
	OutcomeIgnored        MergeOutcome = "ignored"
)

type timelineEntry struct {
	msg entity.Message
	seq uint64
}

// Timeline is the ordered message list of one conversation: by created_at,
// then by insertion sequence. It is not safe for concurrent use; ChatUseCase
// guards it.
type Timeline struct {
	conversationID string
	entries        []*timelineEntry
	nextSeq        uint64
	loaded         bool
}

func NewTimeline(conversationID string) *Timeline {
	return &Timeline{conversationID: conversationID}
}

func (t *Timeline) Loaded() bool {
	return t.loaded
}

func (t *Timeline) Len() int {
	return len(t.entries)
}

func before(a, b *timelineEntry) bool {
	if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
		return a.msg.CreatedAt.Before(b.msg.CreatedAt)
	}
	return a.seq < b.seq
}

func (t *Timeline) insert(e *timelineEntry) {
	i := sort.Search(len(t.entries), func(i int) bool { return before(e, t.entries[i]) })
	t.entries = append(t.entries, nil)
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = e
}

func (t *Timeline) add(msg entity.Message) {
	if msg.ID != "" {
		msg.TempID = ""
	}
	t.nextSeq++
	t.insert(&timelineEntry{msg: msg.Clone(), seq: t.nextSeq})
}

func (t *Timeline) removeAt(i int) {
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
}

// reposition restores order after entry i changed its created_at. The entry
// keeps its sequence number, so equal timestamps keep their relative order.
func (t *Timeline) reposition(i int) {
	e := t.entries[i]
	t.removeAt(i)
	t.insert(e)
}

func (t *Timeline) indexByID(id string) int {
	if id == "" {
		return -1
	}
	for i, e := range t.entries {
		if e.msg.ID == id {
			return i
		}
	}
	return -1
}

// indexByTempID only finds unconfirmed entries; promotion retires the temp id.
func (t *Timeline) indexByTempID(tempID string) int {
	if tempID == "" {
		return -1
	}
	for i, e := range t.entries {
		if e.msg.ID == "" && e.msg.TempID == tempID {
			return i
		}
	}
	return -1
}

func (t *Timeline) indexByKey(key string) int {
	if i := t.indexByID(key); i >= 0 {
		return i
	}
	return t.indexByTempID(key)
}

func within(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// Append adds a locally originated pending message.
func (t *Timeline) Append(msg entity.Message) {
	t.add(msg)
}

// Merge applies a pushed message:
//  1. a known server id is a duplicate;
//  2. an own message whose temp id or (content, time window) matches a
//     pending entry promotes that entry in place;
//  3. an own message equal to a confirmed one within dupWindow is an echo;
//  4. anything else is appended.
func (t *Timeline) Merge(msg entity.Message, currentUserID string, echoWindow, dupWindow time.Duration) MergeOutcome {
	if msg.ID == "" {
		return OutcomeIgnored
	}
	if t.indexByID(msg.ID) >= 0 {
		return OutcomeDuplicate
	}

	if msg.SenderID == currentUserID {
		if i := t.indexByTempID(msg.TempID); i >= 0 {
			t.promote(i, msg)
			return OutcomePromotedTempID
		}
		if i := t.pendingMatch(msg, echoWindow); i >= 0 {
			t.promote(i, msg)
			return OutcomePromotedMatch
		}
		if t.recentDuplicate(msg, dupWindow) {
			return OutcomeDroppedEcho
		}
	}

	t.add(msg)
	return OutcomeAppended
}

// pendingMatch picks the oldest pending entry with the same sender and
// content inside the window.
func (t *Timeline) pendingMatch(msg entity.Message, window time.Duration) int {
	best := -1
	for i, e := range t.entries {
		m := &e.msg
		if m.ID != "" || !m.IsPending() || m.SenderID != msg.SenderID || m.Content != msg.Content {
			continue
		}
		if !within(m.CreatedAt, msg.CreatedAt, window) {
			continue
		}
		if best < 0 || e.seq < t.entries[best].seq {
			best = i
		}
	}
	return best
}

func (t *Timeline) recentDuplicate(msg entity.Message, window time.Duration) bool {
	for _, e := range t.entries {
		m := &e.msg
		if m.ID == "" || m.IsPending() || m.IsDeleted {
			continue
		}
		if m.SenderID == msg.SenderID && m.Content == msg.Content && within(m.CreatedAt, msg.CreatedAt, window) {
			return true
		}
	}
	return false
}

func (t *Timeline) promote(i int, confirmed entity.Message) {
	e := t.entries[i]
	previous := e.msg.CreatedAt

	e.msg.ID = confirmed.ID
	e.msg.TempID = ""
	e.msg.Sending = false
	switch confirmed.Status {
	case entity.MessageStatusDelivered:
		e.msg.Status = entity.MessageStatusDelivered
	default:
		e.msg.Status = entity.MessageStatusSent
	}
	if confirmed.Content != "" {
		e.msg.Content = confirmed.Content
	}
	if confirmed.ReplyTo != "" {
		e.msg.ReplyTo = confirmed.ReplyTo
	}
	if confirmed.IsEdited {
		e.msg.IsEdited = true
	}
	if confirmed.IsDeleted {
		e.msg.Tombstone()
	}
	for _, r := range confirmed.ReadBy {
		e.msg.MarkReadBy(r.UserID, r.ReadAt)
	}
	if !confirmed.CreatedAt.IsZero() {
		e.msg.CreatedAt = confirmed.CreatedAt
	}
	if !e.msg.CreatedAt.Equal(previous) {
		t.reposition(i)
	}
}

// Confirm applies the authoritative REST reply for a send. It tolerates the
// push echo having arrived first.
func (t *Timeline) Confirm(tempID string, saved entity.Message) (entity.Message, MergeOutcome) {
	if i := t.indexByTempID(tempID); i >= 0 {
		if j := t.indexByID(saved.ID); j >= 0 {
			t.removeAt(i)
			msg, _ := t.Find(saved.ID)
			return msg, OutcomeDuplicate
		}
		t.promote(i, saved)
		msg, _ := t.Find(saved.ID)
		return msg, OutcomePromotedTempID
	}
	if msg, ok := t.Find(saved.ID); ok {
		return msg, OutcomeDuplicate
	}
	t.add(saved)
	msg, _ := t.Find(saved.ID)
	return msg, OutcomeAppended
}

// ReplaceHistory installs a REST snapshot. Unconfirmed local entries survive
// unless the snapshot already holds their server copy, and confirmed entries
// newer than a non-empty snapshot (pushed while it was in flight) are kept.
// An empty snapshot drops every confirmed entry.
func (t *Timeline) ReplaceHistory(history []*entity.Message, currentUserID string, echoWindow time.Duration) {
	snapshot := make([]entity.Message, 0, len(history))
	seen := make(map[string]int, len(history))
	for _, m := range history {
		if m == nil || m.ID == "" {
			continue
		}
		if idx, dup := seen[m.ID]; dup {
			snapshot[idx] = *m
			continue
		}
		seen[m.ID] = len(snapshot)
		snapshot = append(snapshot, *m)
	}
	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].CreatedAt.Before(snapshot[j].CreatedAt)
	})

	keepNewer := len(snapshot) > 0
	var newest time.Time
	if keepNewer {
		newest = snapshot[len(snapshot)-1].CreatedAt
	}

	used := make(map[int]bool)
	var keep []entity.Message
	for _, e := range t.entries {
		m := e.msg
		if m.ID != "" {
			if _, inSnapshot := seen[m.ID]; keepNewer && !inSnapshot && m.CreatedAt.After(newest) {
				keep = append(keep, m)
			}
			continue
		}
		if idx := matchInSnapshot(snapshot, m, currentUserID, echoWindow, used); idx >= 0 {
			used[idx] = true
			continue
		}
		keep = append(keep, m)
	}

	t.entries = nil
	for _, m := range snapshot {
		t.add(m)
	}
	for _, m := range keep {
		t.add(m)
	}
	t.loaded = true
}

func matchInSnapshot(snapshot []entity.Message, local entity.Message, currentUserID string, window time.Duration, used map[int]bool) int {
	if local.TempID != "" {
		for i := range snapshot {
			if !used[i] && snapshot[i].TempID == local.TempID {
				return i
			}
		}
	}
	if local.SenderID != currentUserID {
		return -1
	}
	for i := range snapshot {
		s := &snapshot[i]
		if used[i] || s.SenderID != currentUserID || s.Content != local.Content {
			continue
		}
		if within(s.CreatedAt, local.CreatedAt, window) {
			return i
		}
	}
	return -1
}

// Ack handles message_sent and delivery_receipt. Unknown targets are ignored.
func (t *Timeline) Ack(ev entity.MessageAckEvent) bool {
	if i := t.indexByTempID(ev.TempID); i >= 0 && ev.MessageID != "" && t.indexByID(ev.MessageID) < 0 {
		t.promote(i, entity.Message{ID: ev.MessageID, Status: ev.Status, CreatedAt: ev.CreatedAt})
		return true
	}
	if i := t.indexByID(ev.MessageID); i >= 0 {
		m := &t.entries[i].msg
		if ev.Status == entity.MessageStatusDelivered && m.Status == entity.MessageStatusSent {
			m.Status = entity.MessageStatusDelivered
			return true
		}
	}
	return false
}

// ApplyReadReceipt marks the referenced message and every earlier confirmed
// message the reader did not send as read by them.
func (t *Timeline) ApplyReadReceipt(messageID, readerID string, at time.Time) bool {
	i := t.indexByID(messageID)
	if i < 0 || readerID == "" {
		return false
	}
	changed := false
	for j := 0; j <= i; j++ {
		m := &t.entries[j].msg
		if m.ID == "" || m.SenderID == readerID {
			continue
		}
		if m.MarkReadBy(readerID, at) {
			changed = true
		}
	}
	return changed
}

func (t *Timeline) ApplyEdit(messageID, content string) bool {
	i := t.indexByID(messageID)
	if i < 0 {
		return false
	}
	m := &t.entries[i].msg
	m.Content = content
	m.IsEdited = true
	return true
}

func (t *Timeline) Tombstone(messageID string) bool {
	i := t.indexByID(messageID)
	if i < 0 {
		return false
	}
	t.entries[i].msg.Tombstone()
	return true
}

func (t *Timeline) MarkFailed(tempID string) bool {
	i := t.indexByTempID(tempID)
	if i < 0 {
		return false
	}
	m := &t.entries[i].msg
	m.Status = entity.MessageStatusFailed
	m.Sending = false
	return true
}

// ClearSending ends the "sending" affordance; the entry stays pending.
func (t *Timeline) ClearSending(tempID string) bool {
	i := t.indexByTempID(tempID)
	if i < 0 || !t.entries[i].msg.Sending {
		return false
	}
	t.entries[i].msg.Sending = false
	return true
}

// Retryable reports whether an unconfirmed entry may be sent again: it failed,
// or its acknowledgement window passed without confirmation.
func (t *Timeline) Retryable(tempID string) (entity.Message, bool) {
	i := t.indexByTempID(tempID)
	if i < 0 {
		return entity.Message{}, false
	}
	m := t.entries[i].msg
	if m.Status == entity.MessageStatusFailed || (m.IsPending() && !m.Sending) {
		return m.Clone(), true
	}
	return entity.Message{}, false
}

func (t *Timeline) MarkSending(tempID string) bool {
	i := t.indexByTempID(tempID)
	if i < 0 {
		return false
	}
	m := &t.entries[i].msg
	m.Status = entity.MessageStatusPending
	m.Sending = true
	return true
}

// Discard removes an unconfirmed entry. Confirmed messages are never removed.
func (t *Timeline) Discard(tempID string) bool {
	i := t.indexByTempID(tempID)
	if i < 0 {
		return false
	}
	t.removeAt(i)
	return true
}

// Find looks a message up by server id or, before confirmation, by temp id.
func (t *Timeline) Find(key string) (entity.Message, bool) {
	if i := t.indexByKey(key); i >= 0 {
		return t.entries[i].msg.Clone(), true
	}
	return entity.Message{}, false
}

// LastFrom returns the newest confirmed message not sent by excludeSender.
func (t *Timeline) LastFrom(excludeSender string) (entity.Message, bool) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		m := t.entries[i].msg
		if m.ID != "" && m.SenderID != excludeSender {
			return m.Clone(), true
		}
	}
	return entity.Message{}, false
}

func (t *Timeline) Messages() []entity.Message {
	out := make([]entity.Message, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.msg.Clone())
	}
	return out
}
