// Package telegram wraps the Bot API client with the calls the relay makes:
// messages, documents, file downloads, callback answers and webhook setup.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/clickgram/internal/otel"
)

const (
	DefaultAPIEndpoint  = tgbotapi.APIEndpoint
	DefaultFileEndpoint = tgbotapi.FileEndpoint

	// MaxSecretTokenLen is the longest secret token the Bot API accepts.
	MaxSecretTokenLen = 256
	// DefaultMaxConnections is used when the requested value is out of 1..100.
	DefaultMaxConnections = 40
)

// ErrNoToken is returned by calls made before a bot token is installed.
var ErrNoToken = errors.New("telegram: bot token is not set")

// Button is one inline keyboard button carrying callback data.
type Button struct {
	Text string
	Data string
}

type Options struct {
	Token        string
	SecretToken  string
	APIEndpoint  string // format string taking token and method
	FileEndpoint string // format string taking token and file path
	HTTPClient   *http.Client
	Tracer       trace.Tracer
	Metrics      *otel.Metrics
}

type Client struct {
	apiEndpoint  string
	fileEndpoint string
	http         *http.Client
	tracer       trace.Tracer
	metrics      *otel.Metrics

	mu          sync.RWMutex
	bot         *tgbotapi.BotAPI
	secretToken string
}

func New(opts Options) *Client {
	c := &Client{
		apiEndpoint:  opts.APIEndpoint,
		fileEndpoint: opts.FileEndpoint,
		http:         opts.HTTPClient,
		tracer:       opts.Tracer,
		metrics:      opts.Metrics,
		secretToken:  truncateSecret(opts.SecretToken),
	}
	if c.apiEndpoint == "" {
		c.apiEndpoint = DefaultAPIEndpoint
	}
	if c.fileEndpoint == "" {
		c.fileEndpoint = DefaultFileEndpoint
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 60 * time.Second}
	}
	if c.tracer == nil {
		c.tracer = otel.NoopTracer()
	}
	if opts.Token != "" {
		c.bot = c.newBot(opts.Token)
	}
	return c
}

// newBot builds a BotAPI without the getMe round trip NewBotAPI makes, so
// construction never touches the network.
func (c *Client) newBot(token string) *tgbotapi.BotAPI {
	bot := &tgbotapi.BotAPI{
		Token:  token,
		Client: c.http,
		Buffer: 100,
	}
	bot.SetAPIEndpoint(c.apiEndpoint)
	return bot
}

// SetCredentials installs the bot token and, when non-empty, the webhook
// secret token.
func (c *Client) SetCredentials(token, secretToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token != "" {
		c.bot = c.newBot(token)
	}
	if secretToken != "" {
		c.secretToken = truncateSecret(secretToken)
	}
}

// SecretToken is the value Telegram echoes in X-Telegram-Bot-Api-Secret-Token.
func (c *Client) SecretToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.secretToken
}

func (c *Client) current() (*tgbotapi.BotAPI, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.bot == nil {
		return nil, ErrNoToken
	}
	return c.bot, nil
}

// call runs fn inside a client span with the bot current at call time.
func (c *Client) call(ctx context.Context, op string, chatID int64, fn func(bot *tgbotapi.BotAPI) error) (err error) {
	ctx, span := otel.StartClientSpan(ctx, c.tracer, "telegram."+op,
		otel.AttrRemoteOp.String(op),
		otel.AttrChatID.String(strconv.FormatInt(chatID, 10)),
	)
	start := time.Now()
	defer func() {
		c.metrics.RecordRemoteCall(ctx, "telegram", op, time.Since(start), err)
		otel.EndSpan(span, err)
	}()

	bot, err := c.current()
	if err != nil {
		return err
	}
	if err := fn(bot); err != nil {
		return fmt.Errorf("telegram %s: %w", op, err)
	}
	return nil
}

// SendMessage sends text as MarkdownV2 with every markup character escaped,
// optionally with an inline keyboard.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard [][]Button) (tgbotapi.Message, error) {
	var sent tgbotapi.Message
	err := c.call(ctx, "sendMessage", chatID, func(bot *tgbotapi.BotAPI) error {
		msg := tgbotapi.NewMessage(chatID, EscapeMarkdownV2(text))
		msg.ParseMode = tgbotapi.ModeMarkdownV2
		if len(keyboard) > 0 {
			msg.ReplyMarkup = inlineKeyboard(keyboard)
		}
		var err error
		sent, err = bot.Send(msg)
		return err
	})
	return sent, err
}

func inlineKeyboard(rows [][]Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}

// SendDocument uploads data to the chat as a file called filename.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename string, data []byte) (tgbotapi.Message, error) {
	var sent tgbotapi.Message
	err := c.call(ctx, "sendDocument", chatID, func(bot *tgbotapi.BotAPI) error {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: data})
		var err error
		sent, err = bot.Send(doc)
		return err
	})
	return sent, err
}

// GetFile resolves a file id to a downloadable file path.
func (c *Client) GetFile(ctx context.Context, fileID string) (tgbotapi.File, error) {
	var file tgbotapi.File
	err := c.call(ctx, "getFile", 0, func(bot *tgbotapi.BotAPI) error {
		var err error
		file, err = bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
		return err
	})
	return file, err
}

// FetchFile downloads a file previously resolved by GetFile.
func (c *Client) FetchFile(ctx context.Context, filePath string) ([]byte, error) {
	var data []byte
	err := c.call(ctx, "fetchFile", 0, func(bot *tgbotapi.BotAPI) error {
		url := fmt.Sprintf(c.fileEndpoint, bot.Token, filePath)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("download %s: %s", filePath, resp.Status)
		}
		data, err = io.ReadAll(resp.Body)
		return err
	})
	return data, err
}

// AnswerCallback acknowledges an inline keyboard press with a short notice.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", 0, func(bot *tgbotapi.BotAPI) error {
		_, err := bot.Request(tgbotapi.NewCallback(callbackID, text))
		return err
	})
}

// WebhookOptions configures SetWebhook.
type WebhookOptions struct {
	URL string
	// SecretToken defaults to the client's token, generating one if unset.
	SecretToken    string
	MaxConnections int
	AllowedUpdates []string
	DropPending    bool
}

// SetWebhook registers url for update delivery and returns the secret token
// Telegram will echo back.
func (c *Client) SetWebhook(ctx context.Context, opts WebhookOptions) (string, error) {
	secret := truncateSecret(opts.SecretToken)
	if secret == "" {
		secret = c.ensureSecretToken()
	}
	maxConns := opts.MaxConnections
	if maxConns < 1 || maxConns > 100 {
		maxConns = DefaultMaxConnections
	}
	err := c.call(ctx, "setWebhook", 0, func(bot *tgbotapi.BotAPI) error {
		params := tgbotapi.Params{}
		params["url"] = opts.URL
		params.AddNonEmpty("secret_token", secret)
		params.AddNonZero("max_connections", maxConns)
		params.AddBool("drop_pending_updates", opts.DropPending)
		if len(opts.AllowedUpdates) > 0 {
			if err := params.AddInterface("allowed_updates", opts.AllowedUpdates); err != nil {
				return err
			}
		}
		_, err := bot.MakeRequest("setWebhook", params)
		return err
	})
	if err != nil {
		return "", err
	}
	return secret, nil
}

// WebhookInfo reports the current webhook registration.
func (c *Client) WebhookInfo(ctx context.Context) (tgbotapi.WebhookInfo, error) {
	var info tgbotapi.WebhookInfo
	err := c.call(ctx, "getWebhookInfo", 0, func(bot *tgbotapi.BotAPI) error {
		var err error
		info, err = bot.GetWebhookInfo()
		return err
	})
	return info, err
}

// DeleteWebhook removes the webhook registration.
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.call(ctx, "deleteWebhook", 0, func(bot *tgbotapi.BotAPI) error {
		_, err := bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: dropPending})
		return err
	})
}

func (c *Client) ensureSecretToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.secretToken == "" {
		c.secretToken = uuid.NewString()
	}
	return c.secretToken
}

func truncateSecret(s string) string {
	if len(s) > MaxSecretTokenLen {
		return s[:MaxSecretTokenLen]
	}
	return s
}
