package entity

import "time"

// Command is an outgoing transport frame.
type Command interface {
	command()
}

type SendMessageCommand struct {
	TempID         string
	ConversationID string
	Content        string
	ReplyTo        string
	CreatedAt      time.Time
}

type TypingCommand struct {
	ConversationID string
	Typing         bool
}

type ReadReceiptCommand struct {
	ConversationID string
	MessageID      string
}

type JoinConversationCommand struct {
	ConversationID string
}

type LeaveConversationCommand struct {
	ConversationID string
}

func (SendMessageCommand) command()       {}
func (TypingCommand) command()            {}
func (ReadReceiptCommand) command()       {}
func (JoinConversationCommand) command()  {}
func (LeaveConversationCommand) command() {}
