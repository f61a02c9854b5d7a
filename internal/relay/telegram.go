package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/clickgram/internal/base"
	"github.com/basket/clickgram/internal/clickup"
	"github.com/basket/clickgram/internal/locale"
	"github.com/basket/clickgram/internal/telegram"
)

// Telegram update kinds, in classification order.
const (
	UpdateCallback = "callback"
	UpdateCommand  = "command"
	UpdateMessage  = "message"
)

type (
	updateHandler func(ctx context.Context, u *tgbotapi.Update) error
	userAction    func(ctx context.Context, user *tgbotapi.User) error
)

// TelegramRouter handles Bot API webhook updates.
type TelegramRouter struct {
	settingsHolder
	deps  Deps
	chats chatLocks

	updates   map[string]updateHandler
	commands  map[string]userAction
	callbacks map[string]map[string]userAction
}

func NewTelegramRouter(deps Deps, s Settings) *TelegramRouter {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := &TelegramRouter{deps: deps}
	r.UpdateSettings(s)
	r.updates = map[string]updateHandler{
		UpdateCallback: r.handleCallback,
		UpdateCommand:  r.handleCommand,
		UpdateMessage:  r.handleMessage,
	}
	r.commands = map[string]userAction{
		"contacts": r.sendString(locale.Contacts),
		"donate":   r.sendString(locale.Donate),
		"feedback": r.sendString(locale.Feedback),
		"start":    r.start,
	}
	r.callbacks = map[string]map[string]userAction{
		"agreement": {
			"yes":  r.agreementYes,
			"no":   r.agreementNo,
			"info": r.agreementInfo,
		},
	}
	return r
}

func (r *TelegramRouter) Source() string { return "telegram" }

// Route decodes one update, classifies it and runs its handler. It returns
// the update kind for logging.
func (r *TelegramRouter) Route(ctx context.Context, body []byte) (string, error) {
	var u tgbotapi.Update
	if err := json.Unmarshal(body, &u); err != nil {
		return "", fmt.Errorf("decode telegram update: %w", err)
	}
	kind := Classify(&u)
	handler, ok := r.updates[kind]
	if !ok {
		return kind, fmt.Errorf("%w: telegram update %d has no supported content", ErrUnroutable, u.UpdateID)
	}
	return kind, handler(ctx, &u)
}

// Classify returns the update kind: a callback query first, then a bot
// command in a new message, then any new or edited message. Commands in
// captions count as plain messages.
func Classify(u *tgbotapi.Update) string {
	switch {
	case u.CallbackQuery != nil:
		return UpdateCallback
	case u.Message != nil && u.Message.IsCommand():
		return UpdateCommand
	case message(u) != nil:
		return UpdateMessage
	default:
		return ""
	}
}

func message(u *tgbotapi.Update) *tgbotapi.Message {
	if u.Message != nil {
		return u.Message
	}
	return u.EditedMessage
}

func chatKey(user *tgbotapi.User) string {
	return strconv.FormatInt(user.ID, 10)
}

func (r *TelegramRouter) text(user *tgbotapi.User, key string) string {
	return r.settings().Strings.Get(user.LanguageCode, key)
}

func (r *TelegramRouter) send(ctx context.Context, user *tgbotapi.User, key string, keyboard [][]telegram.Button) error {
	_, err := r.deps.Chat.SendMessage(ctx, user.ID, r.text(user, key), keyboard)
	return err
}

func (r *TelegramRouter) sendString(key string) userAction {
	return func(ctx context.Context, user *tgbotapi.User) error {
		return r.send(ctx, user, key, nil)
	}
}

func (r *TelegramRouter) handleCallback(ctx context.Context, u *tgbotapi.Update) error {
	cb := u.CallbackQuery
	if cb.From == nil {
		return fmt.Errorf("%w: callback without sender", ErrUnroutable)
	}
	if err := r.deps.Chat.AnswerCallback(ctx, cb.ID, r.text(cb.From, locale.Thank)); err != nil {
		return err
	}
	category, action, _ := strings.Cut(cb.Data, ".")
	run, ok := r.callbacks[category][action]
	if !ok {
		return fmt.Errorf("%w: callback %q", ErrUnroutable, cb.Data)
	}
	return run(ctx, cb.From)
}

func (r *TelegramRouter) handleCommand(ctx context.Context, u *tgbotapi.Update) error {
	msg := u.Message
	if msg.From == nil {
		return fmt.Errorf("%w: command without sender", ErrUnroutable)
	}
	name := msg.Command()
	run, ok := r.commands[name]
	if !ok {
		return fmt.Errorf("%w: command /%s", ErrUnroutable, name)
	}
	return run(ctx, msg.From)
}

func (r *TelegramRouter) handleMessage(ctx context.Context, u *tgbotapi.Update) error {
	msg := message(u)
	user := msg.From
	if user == nil {
		return fmt.Errorf("%w: message without sender", ErrUnroutable)
	}
	rec, ok := r.deps.Records.GetByChat(chatKey(user))
	if !ok {
		return r.agreementNo(ctx, user)
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text != "" {
		if _, err := r.deps.Tasks.CreateTaskComment(ctx, rec.Task, clickup.CommentRequest{CommentText: text}); err != nil {
			return err
		}
	}

	m, ok := mediaOf(msg)
	if !ok {
		return nil
	}
	file, err := r.deps.Chat.GetFile(ctx, m.fileID)
	if err != nil {
		return err
	}
	filename := m.name
	if filename == "" && file.FilePath != "" {
		filename = path.Base(file.FilePath)
	}
	if filename == "" {
		filename = m.uniqueID
	}
	data, err := r.deps.Chat.FetchFile(ctx, file.FilePath)
	if err != nil {
		return err
	}
	_, err = r.deps.Tasks.CreateTaskAttachment(ctx, rec.Task, filename, data)
	return err
}

func (r *TelegramRouter) start(ctx context.Context, user *tgbotapi.User) error {
	if r.deps.Records.HasChat(chatKey(user)) {
		return r.send(ctx, user, locale.WelcomeBack, nil)
	}
	keyboard := [][]telegram.Button{{
		{Text: r.text(user, locale.Yes), Data: "agreement.yes"},
		{Text: r.text(user, locale.No), Data: "agreement.no"},
		{Text: r.text(user, locale.Info), Data: "agreement.info"},
	}}
	return r.send(ctx, user, locale.DoYouAgree, keyboard)
}

func (r *TelegramRouter) agreementYes(ctx context.Context, user *tgbotapi.User) error {
	if err := r.ensureRecord(ctx, user); err != nil {
		return err
	}
	return r.send(ctx, user, locale.HowCanWeHelp, nil)
}

// ensureRecord creates the user's record unless one exists. The check and
// the insert run under the chat's lock so concurrent callbacks open one task.
func (r *TelegramRouter) ensureRecord(ctx context.Context, user *tgbotapi.User) error {
	unlock := r.chats.lock(chatKey(user))
	defer unlock()
	if r.deps.Records.HasChat(chatKey(user)) {
		return nil
	}
	_, err := r.createRecord(ctx, user)
	return err
}

func (r *TelegramRouter) agreementNo(ctx context.Context, user *tgbotapi.User) error {
	if err := r.send(ctx, user, locale.WeCannotProceed, nil); err != nil {
		return err
	}
	return r.start(ctx, user)
}

func (r *TelegramRouter) agreementInfo(ctx context.Context, user *tgbotapi.User) error {
	if err := r.send(ctx, user, locale.AgreementInfo, nil); err != nil {
		return err
	}
	return r.start(ctx, user)
}

// createRecord opens a task for the user and links it to their chat.
func (r *TelegramRouter) createRecord(ctx context.Context, user *tgbotapi.User) (base.Record, error) {
	s := r.settings()
	chat := chatKey(user)
	req := clickup.TaskRequest{
		Name:        strings.TrimSpace(user.FirstName + " " + user.LastName),
		Description: fmt.Sprintf("chat-id: %s\naccount: %s", chat, user.UserName),
	}
	field, ok, err := r.deps.Tasks.FindField(ctx, s.ListID, s.AccountField)
	if err != nil {
		return base.Record{}, err
	}
	if ok {
		req.CustomFields = []clickup.CustomFieldValue{{ID: field.ID, Value: user.UserName}}
	}
	task, err := r.deps.Tasks.CreateTask(ctx, s.ListID, req)
	if err != nil {
		return base.Record{}, err
	}
	rec := base.Record{Chat: chat, Task: task.ID, Account: user.UserName}
	if err := r.deps.Records.SetByChat(chat, rec); err != nil {
		return base.Record{}, err
	}
	r.deps.Logger.Info("record created", "chat_id", chat, "task_id", task.ID)
	return rec, nil
}

type media struct {
	fileID   string
	uniqueID string
	name     string
}

// mediaOf returns the file attached to msg. Photos resolve to their largest
// size.
func mediaOf(msg *tgbotapi.Message) (media, bool) {
	switch {
	case msg.Animation != nil:
		return media{msg.Animation.FileID, msg.Animation.FileUniqueID, msg.Animation.FileName}, true
	case msg.Document != nil:
		return media{msg.Document.FileID, msg.Document.FileUniqueID, msg.Document.FileName}, true
	case len(msg.Photo) > 0:
		p := msg.Photo[len(msg.Photo)-1]
		return media{p.FileID, p.FileUniqueID, ""}, true
	case msg.Video != nil:
		return media{msg.Video.FileID, msg.Video.FileUniqueID, msg.Video.FileName}, true
	case msg.Audio != nil:
		return media{msg.Audio.FileID, msg.Audio.FileUniqueID, msg.Audio.FileName}, true
	case msg.Voice != nil:
		return media{msg.Voice.FileID, msg.Voice.FileUniqueID, ""}, true
	case msg.VideoNote != nil:
		return media{msg.VideoNote.FileID, msg.VideoNote.FileUniqueID, ""}, true
	case msg.Sticker != nil:
		return media{msg.Sticker.FileID, msg.Sticker.FileUniqueID, ""}, true
	default:
		return media{}, false
	}
}
