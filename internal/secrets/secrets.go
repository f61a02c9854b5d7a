// Package secrets bootstraps API credentials. A sidecar drops a small
// indirection file naming the real credentials file; the loader waits for
// it, reads (and optionally age-decrypts) the credentials, hands them to
// the API clients and removes the indirection file.
package secrets

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
	"github.com/fsnotify/fsnotify"

	"github.com/basket/clickgram/internal/config"
	"github.com/basket/clickgram/internal/shared"
)

// AgeSuffix marks credential files that must be decrypted.
const AgeSuffix = ".age"

var (
	// ErrEmptyPath means the indirection file names no credentials file.
	ErrEmptyPath = errors.New("secrets: indirection file is empty")
	// ErrNoIdentity means an encrypted credentials file was found but no
	// age identity is configured.
	ErrNoIdentity = errors.New("secrets: encrypted credentials need an age identity")
)

// Credentials are the secrets both API clients need.
type Credentials struct {
	TelegramToken string `json:"telegramToken"`
	ClickUpToken  string `json:"clickupToken"`
	ClickUpTeam   string `json:"clickupTeam"`
	SecretToken   string `json:"secretToken"`
}

// LogValue keeps tokens out of logs.
func (c Credentials) LogValue() slog.Value {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "[REDACTED]"
	}
	return slog.GroupValue(
		slog.String("telegram_token", mask(c.TelegramToken)),
		slog.String("clickup_token", mask(c.ClickUpToken)),
		slog.String("clickup_team", c.ClickUpTeam),
		slog.String("secret_token", mask(c.SecretToken)),
	)
}

// ClickUpTarget receives the ClickUp credentials.
type ClickUpTarget interface {
	SetCredentials(token, team string)
}

// TelegramTarget receives the Telegram credentials.
type TelegramTarget interface {
	SetCredentials(token, secretToken string)
}

type Loader struct {
	dir         string
	file        string
	ageIdentity string
	logger      *slog.Logger
}

func NewLoader(cfg config.SecretsConfig, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		dir:         cfg.Dir,
		file:        cfg.File,
		ageIdentity: cfg.AgeIdentity,
		logger:      logger.With("component", "secrets"),
	}
}

// Path is the indirection file the loader waits for.
func (l *Loader) Path() string {
	return filepath.Join(l.dir, l.file)
}

// Load waits for the indirection file, reads the credentials it names,
// injects them and removes the indirection file.
func (l *Loader) Load(ctx context.Context, cu ClickUpTarget, tg TelegramTarget) (Credentials, error) {
	if err := l.Wait(ctx); err != nil {
		return Credentials{}, err
	}
	creds, err := l.Read()
	if err != nil {
		return Credentials{}, err
	}
	if cu != nil {
		cu.SetCredentials(creds.ClickUpToken, creds.ClickUpTeam)
	}
	if tg != nil {
		tg.SetCredentials(creds.TelegramToken, creds.SecretToken)
	}
	if err := os.Remove(l.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return creds, fmt.Errorf("remove %s: %w", l.Path(), err)
	}
	l.logger.Info("credentials loaded", "credentials", creds)
	return creds, nil
}

// Wait blocks until the indirection file exists and is not empty.
func (l *Loader) Wait(ctx context.Context) error {
	if ready(l.Path()) {
		return nil
	}
	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return fmt.Errorf("create secrets dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch secrets dir: %w", err)
	}
	defer w.Close()
	if err := w.Add(l.dir); err != nil {
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	// The file may have appeared between the first check and Add.
	if ready(l.Path()) {
		return nil
	}

	l.logger.Info("waiting for secrets", "path", l.Path())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("secrets watcher closed")
			}
			if filepath.Base(ev.Name) != l.file {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			// Create fires before the content lands; wait for a write.
			if ready(l.Path()) {
				return nil
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("secrets watcher closed")
			}
			l.logger.Warn("secrets watcher error", "error", err)
		}
	}
}

func ready(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// Read resolves the indirection file and parses the credentials it names.
func (l *Loader) Read() (Credentials, error) {
	raw, err := os.ReadFile(l.Path())
	if err != nil {
		return Credentials{}, fmt.Errorf("read indirection file: %w", err)
	}
	target := strings.TrimSpace(string(raw))
	if target == "" {
		return Credentials{}, ErrEmptyPath
	}

	content, err := os.ReadFile(target)
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	if strings.HasSuffix(target, AgeSuffix) {
		content, err = l.decrypt(content)
		if err != nil {
			return Credentials{}, err
		}
	}

	var creds Credentials
	if err := json.Unmarshal(content, &creds); err != nil {
		// The decoder error may quote file content.
		return Credentials{}, fmt.Errorf("parse credentials %s: %s", target, shared.Redact(err.Error()))
	}
	return creds, nil
}

func (l *Loader) decrypt(ciphertext []byte) ([]byte, error) {
	if l.ageIdentity == "" {
		return nil, ErrNoIdentity
	}
	identities, err := ReadIdentities(l.ageIdentity)
	if err != nil {
		return nil, err
	}
	return Decrypt(ciphertext, identities...)
}

// ReadIdentities parses an age identity file.
func ReadIdentities(path string) ([]age.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open age identity: %w", err)
	}
	defer f.Close()
	identities, err := age.ParseIdentities(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("parse age identity: %w", err)
	}
	return identities, nil
}

// Decrypt opens an age file, binary or ASCII-armored.
func Decrypt(ciphertext []byte, identities ...age.Identity) ([]byte, error) {
	var src io.Reader = bytes.NewReader(ciphertext)
	if bytes.HasPrefix(bytes.TrimSpace(ciphertext), []byte(armor.Header)) {
		src = armor.NewReader(src)
	}
	r, err := age.Decrypt(src, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read decrypted credentials: %w", err)
	}
	return plaintext, nil
}
