// Package relay routes inbound Telegram and ClickUp webhook updates to the
// actions that mirror them on the other side.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/clickgram/internal/base"
	"github.com/basket/clickgram/internal/clickup"
	"github.com/basket/clickgram/internal/locale"
	"github.com/basket/clickgram/internal/telegram"
)

var (
	// ErrUnroutable means no handler exists for an update, command,
	// callback or event.
	ErrUnroutable = errors.New("unroutable update")
	// ErrNoRecord means a task-side update names a task with no record.
	ErrNoRecord = errors.New("no record for task")
)

// Records is the part of the record index the routers use.
type Records interface {
	GetByChat(chat string) (base.Record, bool)
	GetByTask(task string) (base.Record, bool)
	HasChat(chat string) bool
	SetByChat(chat string, rec base.Record) error
	DeleteByTask(task string)
}

// TaskTracker is the ClickUp side.
type TaskTracker interface {
	CreateTask(ctx context.Context, listID string, task clickup.TaskRequest) (clickup.Task, error)
	FindField(ctx context.Context, listID, name string) (clickup.CustomField, bool, error)
	CreateTaskComment(ctx context.Context, taskID string, comment clickup.CommentRequest) (clickup.CommentResult, error)
	CreateTaskAttachment(ctx context.Context, taskID, filename string, data []byte) (clickup.Attachment, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// Messenger is the Telegram side.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard [][]telegram.Button) (tgbotapi.Message, error)
	SendDocument(ctx context.Context, chatID int64, filename string, data []byte) (tgbotapi.Message, error)
	GetFile(ctx context.Context, fileID string) (tgbotapi.File, error)
	FetchFile(ctx context.Context, filePath string) ([]byte, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Settings are the reloadable knobs of both routers.
type Settings struct {
	ListID        string
	CommandPrefix string
	AccountField  string
	Strings       *locale.Catalog
}

func (s Settings) withDefaults() Settings {
	if s.CommandPrefix == "" {
		s.CommandPrefix = "/tg"
	}
	if s.AccountField == "" {
		s.AccountField = "Telegram/Signal"
	}
	if s.Strings == nil {
		s.Strings = locale.Default
	}
	return s
}

// Deps are the collaborators shared by both routers.
type Deps struct {
	Records Records
	Tasks   TaskTracker
	Chat    Messenger
	Logger  *slog.Logger
}

// settingsHolder lets a router pick up new settings without a restart.
type settingsHolder struct {
	cur atomic.Pointer[Settings]
}

func (h *settingsHolder) UpdateSettings(s Settings) {
	s = s.withDefaults()
	h.cur.Store(&s)
}

func (h *settingsHolder) settings() Settings {
	return *h.cur.Load()
}
