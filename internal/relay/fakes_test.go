package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/clickgram/internal/base"
	"github.com/basket/clickgram/internal/clickup"
	"github.com/basket/clickgram/internal/telegram"
)

type sentMessage struct {
	ChatID   int64
	Text     string
	Keyboard [][]telegram.Button
}

type sentDocument struct {
	ChatID   int64
	Filename string
	Data     string
}

type fakeMessenger struct {
	mu        sync.Mutex
	messages  []sentMessage
	documents []sentDocument
	answers   []string
	files     map[string]tgbotapi.File // file id -> file
	contents  map[string]string        // file path -> content
	failSend  error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{files: map[string]tgbotapi.File{}, contents: map[string]string{}}
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string, keyboard [][]telegram.Button) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend != nil {
		return tgbotapi.Message{}, f.failSend
	}
	f.messages = append(f.messages, sentMessage{chatID, text, keyboard})
	return tgbotapi.Message{MessageID: len(f.messages)}, nil
}

func (f *fakeMessenger) SendDocument(_ context.Context, chatID int64, filename string, data []byte) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents = append(f.documents, sentDocument{chatID, filename, string(data)})
	return tgbotapi.Message{}, nil
}

func (f *fakeMessenger) GetFile(_ context.Context, fileID string) (tgbotapi.File, error) {
	file, ok := f.files[fileID]
	if !ok {
		return tgbotapi.File{}, fmt.Errorf("file %s not found", fileID)
	}
	return file, nil
}

func (f *fakeMessenger) FetchFile(_ context.Context, filePath string) ([]byte, error) {
	return []byte(f.contents[filePath]), nil
}

func (f *fakeMessenger) AnswerCallback(_ context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, callbackID+":"+text)
	return nil
}

func (f *fakeMessenger) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, m.Text)
	}
	return out
}

type attachmentCall struct {
	Task     string
	Filename string
	Data     string
}

type fakeTracker struct {
	mu          sync.Mutex
	fields      []clickup.CustomField
	created     []clickup.TaskRequest
	comments    map[string][]string
	attachments []attachmentCall
	downloads   map[string]string
	nextTask    int
	failCreate  error
	createDelay time.Duration
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{comments: map[string][]string{}, downloads: map[string]string{}}
}

func (f *fakeTracker) CreateTask(_ context.Context, _ string, task clickup.TaskRequest) (clickup.Task, error) {
	time.Sleep(f.createDelay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return clickup.Task{}, f.failCreate
	}
	f.created = append(f.created, task)
	f.nextTask++
	return clickup.Task{ID: fmt.Sprintf("task%d", f.nextTask), Name: task.Name}, nil
}

func (f *fakeTracker) FindField(_ context.Context, _ string, name string) (clickup.CustomField, bool, error) {
	for _, field := range f.fields {
		if field.Name == name {
			return field, true, nil
		}
	}
	return clickup.CustomField{}, false, nil
}

func (f *fakeTracker) CreateTaskComment(_ context.Context, taskID string, c clickup.CommentRequest) (clickup.CommentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[taskID] = append(f.comments[taskID], c.CommentText)
	return clickup.CommentResult{ID: "1"}, nil
}

func (f *fakeTracker) CreateTaskAttachment(_ context.Context, taskID, filename string, data []byte) (clickup.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachments = append(f.attachments, attachmentCall{taskID, filename, string(data)})
	return clickup.Attachment{ID: "a", Title: filename}, nil
}

func (f *fakeTracker) Download(_ context.Context, url string) ([]byte, error) {
	data, ok := f.downloads[url]
	if !ok {
		return nil, fmt.Errorf("no download at %s", url)
	}
	return []byte(data), nil
}

func (f *fakeTracker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.created) + len(f.attachments)
	for _, c := range f.comments {
		n += len(c)
	}
	return n
}

type fixture struct {
	index   *base.Index
	chat    *fakeMessenger
	tasks   *fakeTracker
	tg      *TelegramRouter
	cu      *ClickUpRouter
	setting Settings
}

func newFixture() *fixture {
	f := &fixture{
		index: base.NewIndex(base.Options{}),
		chat:  newFakeMessenger(),
		tasks: newFakeTracker(),
		setting: Settings{
			ListID:        "901",
			CommandPrefix: "/tg",
			AccountField:  "Telegram/Signal",
		},
	}
	deps := Deps{Records: f.index, Tasks: f.tasks, Chat: f.chat}
	f.tg = NewTelegramRouter(deps, f.setting)
	f.cu = NewClickUpRouter(deps, f.setting)
	return f
}
