package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"gigchat/internal/domain/entity"
	"gigchat/internal/usecase"
	"gigchat/pkg/logger"
)

func init() {
	rootCmd.AddCommand(tailCmd)

	tailCmd.Flags().String("conversation", "", "open this conversation and follow its messages")
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow conversation state changes in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		conversationID, _ := cmd.Flags().GetString("conversation")
		return tail(path, conversationID, os.Stdout)
	},
}

func tail(configPath, conversationID string, out io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Configure(cfg.Environment, cfg.LogLevel)
	logger.SetOutput(os.Stderr)

	en, err := newEngine(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	changes, cancel := en.hub.Subscribe(256)
	defer cancel()

	if conversationID != "" {
		if err := en.directory.Refresh(ctx); err != nil {
			return err
		}
		if err := en.chat.SelectConversation(ctx, conversationID); err != nil {
			return err
		}
	}

	go func() {
		if err := en.run(ctx); err != nil {
			logger.Error("Engine Error: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case change := <-changes:
			line := describeChange(change, en.chat.Snapshot(), en.chat.Messages, en.profiles.DisplayName)
			if line != "" {
				fmt.Fprintln(out, line)
			}
		}
	}
}

// describeChange renders one state change as a terminal line. It returns ""
// for changes that have nothing to show.
func describeChange(change usecase.Change, snap usecase.Snapshot, messages func(string) []entity.Message, displayName func(string) string) string {
	switch change.Kind {
	case usecase.ChangeConnection:
		line := fmt.Sprintf("[connection] %s", snap.Connection.Status)
		if snap.Connection.Attempt > 0 {
			line += fmt.Sprintf(" (attempt %d)", snap.Connection.Attempt)
		}
		if snap.Connection.AuthFailed {
			line += " - credentials rejected"
		}
		return line

	case usecase.ChangeConversations:
		return fmt.Sprintf("[conversations] %s conversations, %s unread",
			humanize.Comma(int64(len(snap.Conversations))), humanize.Comma(int64(snap.TotalUnread)))

	case usecase.ChangeActive:
		if snap.ActiveConversationID == "" {
			return "[active] none"
		}
		return fmt.Sprintf("[active] %s", titleOf(snap, snap.ActiveConversationID))

	case usecase.ChangeMessages:
		list := messages(change.ConversationID)
		if len(list) == 0 {
			return ""
		}
		return formatMessage(titleOf(snap, change.ConversationID), list[len(list)-1], displayName)

	case usecase.ChangeTyping:
		if change.ConversationID != snap.ActiveConversationID {
			return ""
		}
		if len(snap.Typing) == 0 {
			return fmt.Sprintf("[%s] nobody is typing", titleOf(snap, change.ConversationID))
		}
		names := make([]string, 0, len(snap.Typing))
		for _, t := range snap.Typing {
			names = append(names, t.DisplayName)
		}
		return fmt.Sprintf("[%s] %s typing...", titleOf(snap, change.ConversationID), strings.Join(names, ", "))
	}
	return ""
}

func formatMessage(title string, msg entity.Message, displayName func(string) string) string {
	content := msg.Content
	if msg.IsEdited && !msg.IsDeleted {
		content += " (edited)"
	}

	line := fmt.Sprintf("[%s] %s: %s - %s", title, displayName(msg.SenderID), content, humanize.Time(msg.CreatedAt))
	switch {
	case msg.Status == entity.MessageStatusFailed:
		line += " [failed]"
	case msg.IsPending():
		line += " [sending]"
	}
	return line
}

func titleOf(snap usecase.Snapshot, conversationID string) string {
	for _, c := range snap.Conversations {
		if c.ID == conversationID {
			return c.DisplayTitle
		}
	}
	return conversationID
}
