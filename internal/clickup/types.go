package clickup

import (
	"bytes"
	"encoding/json"
)

// Webhook event names the relay routes.
const (
	EventTaskCommentPosted = "taskCommentPosted"
	EventTaskDeleted       = "taskDeleted"
)

// ID accepts both JSON strings and numbers; the API is not consistent.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Payload is the body of a webhook delivery.
type Payload struct {
	Event        string        `json:"event"`
	TaskID       string        `json:"task_id"`
	WebhookID    string        `json:"webhook_id"`
	HistoryItems []HistoryItem `json:"history_items,omitempty"`
}

type HistoryItem struct {
	ID      ID           `json:"id"`
	Field   string       `json:"field,omitempty"`
	Date    string       `json:"date,omitempty"`
	User    *User        `json:"user,omitempty"`
	Comment *CommentItem `json:"comment,omitempty"`
}

type CommentItem struct {
	ID          ID            `json:"id"`
	Lines       []CommentLine `json:"comment"`
	TextContent string        `json:"text_content"`
	User        *User         `json:"user,omitempty"`
}

// CommentLine is one block of a rich comment; attachment lines carry the
// uploaded file.
type CommentLine struct {
	Text       string      `json:"text"`
	Type       string      `json:"type,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

type Attachment struct {
	ID        ID     `json:"id"`
	Title     string `json:"title"`
	Extension string `json:"extension,omitempty"`
	Mimetype  string `json:"mimetype,omitempty"`
	Size      int64  `json:"size,omitempty"`
	URL       string `json:"url"`
}

type User struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

type Task struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	URL          string        `json:"url,omitempty"`
	CustomFields []CustomField `json:"custom_fields,omitempty"`
}

// TaskRequest is the body of create and update task calls.
type TaskRequest struct {
	Name         string             `json:"name,omitempty"`
	Description  string             `json:"description,omitempty"`
	CustomFields []CustomFieldValue `json:"custom_fields,omitempty"`
}

type CustomFieldValue struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

type CustomField struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
	Value    any    `json:"value,omitempty"`
}

type List struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
}

type CommentRequest struct {
	CommentText string `json:"comment_text"`
	NotifyAll   bool   `json:"notify_all,omitempty"`
}

type CommentResult struct {
	ID     ID    `json:"id"`
	HistID ID    `json:"hist_id"`
	Date   int64 `json:"date"`
}

type Webhook struct {
	ID       string   `json:"id"`
	UserID   ID       `json:"userid,omitempty"`
	TeamID   ID       `json:"team_id,omitempty"`
	Endpoint string   `json:"endpoint"`
	ClientID string   `json:"client_id,omitempty"`
	Events   []string `json:"events"`
	TaskID   string   `json:"task_id,omitempty"`
	ListID   ID       `json:"list_id,omitempty"`
	FolderID ID       `json:"folder_id,omitempty"`
	SpaceID  ID       `json:"space_id,omitempty"`
	Secret   string   `json:"secret,omitempty"`
}

type WebhookRequest struct {
	Endpoint string   `json:"endpoint"`
	Events   []string `json:"events"`
	Status   string   `json:"status,omitempty"`
	SpaceID  string   `json:"space_id,omitempty"`
	FolderID string   `json:"folder_id,omitempty"`
	ListID   string   `json:"list_id,omitempty"`
	TaskID   string   `json:"task_id,omitempty"`
}
