package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/basket/clickgram/internal/otel"
)

const (
	// TelegramSecretHeader carries the secret token given to setWebhook.
	TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	// ClickUpSignatureHeader carries the hex HMAC-SHA256 of the body.
	ClickUpSignatureHeader = "X-Signature"

	maxSignedBody = 10 << 20
)

// WebhookAuth checks that webhook deliveries come from the services they
// claim to. Secrets are read per request so rotated credentials apply
// without a restart; an empty secret disables the check for that source.
type WebhookAuth struct {
	telegramSecret func() string
	clickupSecret  func() string
	metrics        *otel.Metrics
	logger         *slog.Logger
}

func NewWebhookAuth(telegramSecret, clickupSecret func() string, metrics *otel.Metrics, logger *slog.Logger) *WebhookAuth {
	if telegramSecret == nil {
		telegramSecret = func() string { return "" }
	}
	if clickupSecret == nil {
		clickupSecret = func() string { return "" }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookAuth{
		telegramSecret: telegramSecret,
		clickupSecret:  clickupSecret,
		metrics:        metrics,
		logger:         logger.With("component", "gateway"),
	}
}

// Telegram compares the secret token header in constant time.
func (a *WebhookAuth) Telegram(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := a.telegramSecret()
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get(TelegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			a.reject(w, r, "telegram")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClickUp verifies the body signature. The body is buffered and handed on
// unchanged.
func (a *WebhookAuth) ClickUp(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := a.clickupSecret()
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if !VerifySignature(secret, body, r.Header.Get(ClickUpSignatureHeader)) {
			a.reject(w, r, "clickup")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (a *WebhookAuth) reject(w http.ResponseWriter, r *http.Request, source string) {
	a.metrics.CountAuthReject(r.Context(), source)
	a.logger.Warn("webhook rejected", "source", source, "remote", clientIP(r))
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is Sign(secret, body).
func VerifySignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
