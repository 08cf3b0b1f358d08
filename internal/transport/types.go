package transport

import (
	"context"
	"errors"
)

// ErrChatUnavailable marks a send that can never succeed: the bot was
// blocked, kicked, or the chat no longer exists.
var ErrChatUnavailable = errors.New("chat unavailable")

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	// UpdateJoined is sent when the bot becomes a member of a chat.
	UpdateJoined UpdateKind = "joined"
	// UpdateLeft is sent when the bot loses access to a chat.
	UpdateLeft UpdateKind = "left"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Member  *MemberChange
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromIsBot    bool
	Text         string
	IsGroup      bool
}

// MemberChange describes the bot's own membership in a chat.
type MemberChange struct {
	ChatID  int64
	ByID    int64
	IsGroup bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Notification struct {
	Channel  string // "telegram" now
	Priority int    // 0 low.. 10 high
	Target   ChatTarget
	Text     string
	Options  *SendOptions
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
