package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/basket/clickgram/internal/clickup"
)

type eventHandler func(ctx context.Context, p *clickup.Payload) error

// ClickUpRouter handles ClickUp webhook deliveries.
type ClickUpRouter struct {
	settingsHolder
	deps   Deps
	events map[string]eventHandler
}

func NewClickUpRouter(deps Deps, s Settings) *ClickUpRouter {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := &ClickUpRouter{deps: deps}
	r.UpdateSettings(s)
	r.events = map[string]eventHandler{
		clickup.EventTaskCommentPosted: r.handleComment,
		clickup.EventTaskDeleted:       r.handleTaskDeleted,
	}
	return r
}

func (r *ClickUpRouter) Source() string { return "clickup" }

func (r *ClickUpRouter) Route(ctx context.Context, body []byte) (string, error) {
	var p clickup.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", fmt.Errorf("decode clickup payload: %w", err)
	}
	handler, ok := r.events[p.Event]
	if !ok {
		return p.Event, fmt.Errorf("%w: clickup event %q", ErrUnroutable, p.Event)
	}
	return p.Event, handler(ctx, &p)
}

// IsCommand reports whether a comment is addressed to the chat: it starts
// with prefix and carries something besides it.
func IsCommand(text, prefix string) bool {
	return strings.HasPrefix(text, prefix) && strings.TrimSpace(text) != prefix
}

// handleComment forwards every command comment of the delivery, in order,
// to the task's chat. Attachment titles are cut out of the text and the
// files are sent as documents.
func (r *ClickUpRouter) handleComment(ctx context.Context, p *clickup.Payload) error {
	prefix := r.settings().CommandPrefix
	var chatID int64
	resolved := false
	for _, item := range p.HistoryItems {
		if item.Comment == nil {
			continue
		}
		text := item.Comment.TextContent
		if !IsCommand(text, prefix) {
			continue
		}
		if !resolved {
			id, err := r.resolveChat(p.TaskID)
			if err != nil {
				return err
			}
			chatID, resolved = id, true
		}

		var attachments []*clickup.Attachment
		for _, line := range item.Comment.Lines {
			if line.Attachment == nil {
				continue
			}
			attachments = append(attachments, line.Attachment)
			text = strings.Replace(text, line.Attachment.Title, "", 1)
		}
		text = strings.TrimSpace(strings.Replace(text, prefix, "", 1))

		if text != "" {
			if _, err := r.deps.Chat.SendMessage(ctx, chatID, text, nil); err != nil {
				return err
			}
		}
		for _, att := range attachments {
			data, err := r.deps.Tasks.Download(ctx, att.URL)
			if err != nil {
				return err
			}
			if _, err := r.deps.Chat.SendDocument(ctx, chatID, att.Title, data); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *ClickUpRouter) resolveChat(task string) (int64, error) {
	rec, ok := r.deps.Records.GetByTask(task)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoRecord, task)
	}
	id, err := strconv.ParseInt(rec.Chat, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("record of task %s has chat %q: %w", task, rec.Chat, err)
	}
	return id, nil
}

func (r *ClickUpRouter) handleTaskDeleted(_ context.Context, p *clickup.Payload) error {
	r.deps.Records.DeleteByTask(p.TaskID)
	r.deps.Logger.Info("record removed with task", "task_id", p.TaskID)
	return nil
}
