package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"gigchat/internal/domain/entity"
)

// Frame types spoken by the marketplace push server.
const (
	MessageTypePing            = "ping"
	MessageTypePong            = "pong"
	MessageTypeSendMessage     = "send_message"
	MessageTypeMessage         = "message"
	MessageTypeNewMessage      = "new_message"
	MessageTypeMessageSent     = "message_sent"
	MessageTypeTyping          = "typing"
	MessageTypeTypingIndicator = "typing_indicator"
	MessageTypeTypingStart     = "typing_start"
	MessageTypeTypingStop      = "typing_stop"
	MessageTypeJoinChatRoom    = "join_chat_room"
	MessageTypeLeaveChatRoom   = "leave_chat_room"
	MessageTypeMarkMessageRead = "mark_message_read"
	MessageTypeReadReceipt     = "read_receipt"
	MessageTypeDeliveryReceipt = "delivery_receipt"
	MessageTypePresence        = "presence"
	MessageTypeUserPresence    = "user_presence"
	MessageTypeChatListUpdate  = "chat_list_update"
	MessageTypeError           = "error"
)

// WSMessage is the outbound envelope.
type WSMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	ChatID    string      `json:"chat_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type SendMessageData struct {
	TempID    string `json:"temp_id"`
	ChatID    string `json:"chat_id"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	ReplyTo   string `json:"reply_to,omitempty"`
	Timestamp string `json:"timestamp"`
}

type MessageData struct {
	ID         string   `json:"id"`
	TempID     string   `json:"temp_id,omitempty"`
	ChatID     string   `json:"chat_id"`
	SenderID   string   `json:"sender_id"`
	SenderName string   `json:"sender_name"`
	Content    string   `json:"content"`
	Type       string   `json:"type"`
	Status     string   `json:"status"`
	ReplyTo    string   `json:"reply_to,omitempty"`
	Timestamp  string   `json:"timestamp"`
	CreatedAt  string   `json:"created_at,omitempty"`
	ReadBy     []string `json:"read_by,omitempty"`
}

type TypingData struct {
	ChatID    string `json:"chat_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Typing    bool   `json:"typing"`
	ExpiresAt string `json:"expires_at"`
}

type ReadReceiptData struct {
	ChatID     string `json:"chat_id"`
	MessageID  string `json:"message_id"`
	ReaderID   string `json:"reader_id"`
	ReaderName string `json:"reader_name"`
	ReadAt     string `json:"read_at,omitempty"`
}

type DeliveryReceiptData struct {
	ChatID      string `json:"chat_id"`
	MessageID   string `json:"message_id"`
	DeliveredTo string `json:"delivered_to"`
}

type PresenceData struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	IsOnline     bool   `json:"is_online"`
	LastSeen     string `json:"last_seen"`
	LastActivity string `json:"last_activity"`
}

// inboundFrame covers the enveloped frames ({type, data}) and the flat ones
// the server emits for new_message and chat_list_update.
type inboundFrame struct {
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data"`
	ChatID        string          `json:"chat_id"`
	Timestamp     string          `json:"timestamp"`
	Message       json.RawMessage `json:"message"`
	Sender        *senderData     `json:"sender"`
	LastMessage   string          `json:"last_message"`
	LastMessageAt string          `json:"last_message_at"`
	SenderID      string          `json:"sender_id"`
	SenderName    string          `json:"sender_name"`
}

type senderData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// DecodeEvent turns a raw frame into an event. Frames that carry nothing for
// the client (pong, unknown types) return a nil event and no error.
func DecodeEvent(raw []byte) (entity.Event, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	switch frame.Type {
	case MessageTypeMessage:
		var data MessageData
		if err := frame.decodeData(&data); err != nil {
			return nil, err
		}
		return data.toEvent(frame.ChatID), nil

	case MessageTypeNewMessage:
		var data MessageData
		payload := frame.Message
		if len(payload) == 0 {
			payload = frame.Data
		}
		if err := decodeInto(frame.Type, payload, &data); err != nil {
			return nil, err
		}
		if data.SenderName == "" && frame.Sender != nil {
			data.SenderName = frame.Sender.Username
		}
		return data.toEvent(frame.ChatID), nil

	case MessageTypeMessageSent:
		var data MessageData
		if err := frame.decodeData(&data); err != nil {
			return nil, err
		}
		return entity.MessageAckEvent{
			ConversationID: firstNonEmpty(data.ChatID, frame.ChatID),
			MessageID:      data.ID,
			TempID:         data.TempID,
			Status:         entity.MessageStatusSent,
			CreatedAt:      parseTime(firstNonEmpty(data.CreatedAt, data.Timestamp)),
		}, nil

	case MessageTypeDeliveryReceipt:
		var data DeliveryReceiptData
		if err := frame.decodeData(&data); err != nil {
			return nil, err
		}
		return entity.MessageAckEvent{
			ConversationID: firstNonEmpty(data.ChatID, frame.ChatID),
			MessageID:      data.MessageID,
			Status:         entity.MessageStatusDelivered,
		}, nil

	case MessageTypeTyping, MessageTypeTypingIndicator:
		var data TypingData
		if err := frame.decodeData(&data); err != nil {
			return nil, err
		}
		return entity.TypingEvent{
			ConversationID: firstNonEmpty(data.ChatID, frame.ChatID),
			UserID:         data.UserID,
			UserName:       data.UserName,
			Typing:         data.Typing,
			ExpiresAt:      parseTime(data.ExpiresAt),
		}, nil

	case MessageTypeTypingStart, MessageTypeTypingStop:
		var data TypingData
		if len(frame.Data) > 0 {
			if err := frame.decodeData(&data); err != nil {
				return nil, err
			}
		}
		return entity.TypingEvent{
			ConversationID: firstNonEmpty(data.ChatID, frame.ChatID),
			UserID:         firstNonEmpty(data.UserID, frame.SenderID),
			UserName:       data.UserName,
			Typing:         frame.Type == MessageTypeTypingStart,
			ExpiresAt:      parseTime(data.ExpiresAt),
		}, nil

	case MessageTypeReadReceipt:
		var data ReadReceiptData
		if err := frame.decodeData(&data); err != nil {
			return nil, err
		}
		return entity.ReadReceiptEvent{
			ConversationID: firstNonEmpty(data.ChatID, frame.ChatID),
			MessageID:      data.MessageID,
			ReaderID:       data.ReaderID,
			ReadAt:         parseTime(firstNonEmpty(data.ReadAt, frame.Timestamp)),
		}, nil

	case MessageTypePresence, MessageTypeUserPresence:
		var data PresenceData
		if err := frame.decodeData(&data); err != nil {
			return nil, err
		}
		return entity.PresenceEvent{
			UserID:      data.UserID,
			DisplayName: data.Username,
			Online:      data.IsOnline,
			LastSeen:    parseTime(firstNonEmpty(data.LastSeen, data.LastActivity)),
		}, nil

	case MessageTypeChatListUpdate:
		update := entity.ConversationUpdateEvent{
			ConversationID: frame.ChatID,
			SenderName:     frame.SenderName,
		}
		if frame.LastMessage != "" || frame.SenderID != "" {
			update.LastMessage = &entity.LastMessage{
				Content:   frame.LastMessage,
				SenderID:  frame.SenderID,
				CreatedAt: parseTime(frame.LastMessageAt),
			}
		}
		return update, nil

	case MessageTypeError:
		var data struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if len(frame.Data) > 0 {
			if err := frame.decodeData(&data); err != nil {
				return nil, err
			}
		}
		return entity.ErrorEvent{Message: firstNonEmpty(data.Error, data.Message, "unknown server error")}, nil

	default:
		return nil, nil
	}
}

func (f *inboundFrame) decodeData(v interface{}) error {
	return decodeInto(f.Type, f.Data, v)
}

func decodeInto(frameType string, raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%s frame has no payload", frameType)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", frameType, err)
	}
	return nil
}

func (d MessageData) toEvent(chatID string) entity.NewMessageEvent {
	status := entity.MessageStatus(d.Status)
	if status != entity.MessageStatusDelivered {
		status = entity.MessageStatusSent
	}
	msg := entity.Message{
		ID:             d.ID,
		TempID:         d.TempID,
		ConversationID: firstNonEmpty(d.ChatID, chatID),
		SenderID:       d.SenderID,
		Content:        d.Content,
		CreatedAt:      parseTime(firstNonEmpty(d.CreatedAt, d.Timestamp)),
		Status:         status,
		ReplyTo:        d.ReplyTo,
	}
	for _, reader := range d.ReadBy {
		msg.MarkReadBy(reader, msg.CreatedAt)
	}
	return entity.NewMessageEvent{Message: msg, SenderName: d.SenderName}
}

// EncodeCommand renders an outgoing command in the frame shape the server expects.
func EncodeCommand(cmd entity.Command) ([]byte, error) {
	now := formatTime(time.Time{})
	var msg WSMessage

	switch c := cmd.(type) {
	case entity.SendMessageCommand:
		msg = WSMessage{
			Type: MessageTypeSendMessage,
			Data: SendMessageData{
				TempID:    c.TempID,
				ChatID:    c.ConversationID,
				Content:   c.Content,
				Type:      "text",
				ReplyTo:   c.ReplyTo,
				Timestamp: formatTime(c.CreatedAt),
			},
			ChatID:    c.ConversationID,
			Timestamp: now,
		}
	case entity.TypingCommand:
		frameType := MessageTypeTypingStop
		if c.Typing {
			frameType = MessageTypeTypingStart
		}
		msg = WSMessage{Type: frameType, ChatID: c.ConversationID, Timestamp: now}
	case entity.ReadReceiptCommand:
		msg = WSMessage{
			Type:      MessageTypeMarkMessageRead,
			ChatID:    c.ConversationID,
			Data:      map[string]string{"message_id": c.MessageID},
			Timestamp: now,
		}
	case entity.JoinConversationCommand:
		msg = WSMessage{Type: MessageTypeJoinChatRoom, ChatID: c.ConversationID, Timestamp: now}
	case entity.LeaveConversationCommand:
		msg = WSMessage{Type: MessageTypeLeaveChatRoom, ChatID: c.ConversationID, Timestamp: now}
	default:
		return nil, fmt.Errorf("unsupported command %T", cmd)
	}

	return json.Marshal(msg)
}

// EventKind names an event for logs and metrics.
func EventKind(ev entity.Event) string {
	switch ev.(type) {
	case entity.NewMessageEvent:
		return "new_message"
	case entity.MessageAckEvent:
		return "ack"
	case entity.TypingEvent:
		return "typing"
	case entity.ReadReceiptEvent:
		return "read_receipt"
	case entity.PresenceEvent:
		return "presence"
	case entity.ConversationUpdateEvent:
		return "conversation_update"
	case entity.ErrorEvent:
		return "error"
	case entity.ConnectionEvent:
		return "connection"
	}
	return "unknown"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
