package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/basket/clickgram/internal/clickup"
	"github.com/basket/clickgram/internal/config"
	"github.com/basket/clickgram/internal/secrets"
	"github.com/basket/clickgram/internal/telegram"
)

// webhookEvents are the ClickUp events the relay routes.
var webhookEvents = []string{clickup.EventTaskCommentPosted, clickup.EventTaskDeleted}

type webhookFlags struct {
	globalFlags
	url            string
	endpoint       string
	dropPending    bool
	telegramToken  string
	clickupToken   string
	clickupTeam    string
	allowedUpdates []string
}

func runWebhookCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var f webhookFlags
	flags := pflag.NewFlagSet("webhook", pflag.ContinueOnError)
	f.register(flags)
	flags.StringVar(&f.url, "url", "", "telegram webhook url (default: telegram.webhook_url)")
	flags.StringVar(&f.endpoint, "endpoint", "", "clickup webhook endpoint")
	flags.BoolVar(&f.dropPending, "drop-pending", false, "drop updates queued at Telegram")
	flags.StringVar(&f.telegramToken, "telegram-token", "", "bot token (default: from the secrets file)")
	flags.StringVar(&f.clickupToken, "clickup-token", "", "clickup token (default: from the secrets file)")
	flags.StringVar(&f.clickupTeam, "clickup-team", "", "clickup team id (default: clickup.team_id)")
	flags.StringSliceVar(&f.allowedUpdates, "allowed-updates", []string{"message", "edited_message", "callback_query"}, "telegram update types to receive")
	if code, done := parseFlags(flags, args, stdout, stderr); done {
		return code
	}
	rest := flags.Args()
	if len(rest) < 2 {
		fmt.Fprintln(stderr, "webhook needs a service and an action")
		printUsage(stderr, flags)
		return 2
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fatalStartup(nil, stderr, "E_CONFIG_LOAD", err)
	}
	creds := f.credentials(cfg)

	service, action := strings.ToLower(rest[0]), strings.ToLower(rest[1])
	switch service {
	case "telegram":
		tg := telegram.New(telegram.Options{
			Token:        creds.TelegramToken,
			SecretToken:  creds.SecretToken,
			APIEndpoint:  cfg.Telegram.APIEndpoint,
			FileEndpoint: cfg.Telegram.FileEndpoint,
		})
		err = telegramWebhook(ctx, tg, cfg, &f, action, stdout)
	case "clickup":
		cu := clickup.New(clickup.Options{
			BaseURL: cfg.ClickUp.APIURL,
			Token:   creds.ClickUpToken,
			Team:    creds.ClickUpTeam,
		})
		err = clickupWebhook(ctx, cu, cfg, &f, action, rest[2:], stdout)
	default:
		err = fmt.Errorf("unknown service %q", service)
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

// credentials prefers flags, then the secrets file when it is present.
// The file is read but left in place for the relay.
func (f *webhookFlags) credentials(cfg config.Config) secrets.Credentials {
	var creds secrets.Credentials
	if !f.skipSecrets {
		if c, err := secrets.NewLoader(cfg.Secrets, nil).Read(); err == nil {
			creds = c
		}
	}
	if f.telegramToken != "" {
		creds.TelegramToken = f.telegramToken
	}
	if f.clickupToken != "" {
		creds.ClickUpToken = f.clickupToken
	}
	switch {
	case f.clickupTeam != "":
		creds.ClickUpTeam = f.clickupTeam
	case creds.ClickUpTeam == "":
		creds.ClickUpTeam = cfg.ClickUp.TeamID
	}
	return creds
}

func telegramWebhook(ctx context.Context, tg *telegram.Client, cfg config.Config, f *webhookFlags, action string, out io.Writer) error {
	switch action {
	case "set":
		url := f.url
		if url == "" {
			url = cfg.Telegram.WebhookURL
		}
		if url == "" {
			return fmt.Errorf("no webhook url: pass --url or set telegram.webhook_url")
		}
		secret, err := tg.SetWebhook(ctx, telegram.WebhookOptions{
			URL:            url,
			MaxConnections: cfg.Telegram.MaxConnections,
			AllowedUpdates: f.allowedUpdates,
			DropPending:    f.dropPending,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "webhook set to %s\nsecret token: %s\n", url, secret)
		return nil
	case "info":
		info, err := tg.WebhookInfo(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, info)
	case "delete":
		if err := tg.DeleteWebhook(ctx, f.dropPending); err != nil {
			return err
		}
		fmt.Fprintln(out, "webhook deleted")
		return nil
	default:
		return fmt.Errorf("unknown telegram webhook action %q", action)
	}
}

func clickupWebhook(ctx context.Context, cu *clickup.Client, cfg config.Config, f *webhookFlags, action string, args []string, out io.Writer) error {
	switch action {
	case "set":
		if f.endpoint == "" {
			return fmt.Errorf("no endpoint: pass --endpoint")
		}
		hook, verb, err := upsertClickUpWebhook(ctx, cu, clickup.WebhookRequest{
			Endpoint: f.endpoint,
			Events:   webhookEvents,
			ListID:   cfg.ClickUp.ListID,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "webhook %s %s for %s\n", hook.ID, verb, hook.Endpoint)
		if hook.Secret != "" {
			fmt.Fprintf(out, "set clickup.webhook_secret to: %s\n", hook.Secret)
		}
		return nil
	case "list":
		hooks, err := cu.ListWebhooks(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, hooks)
	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("delete needs exactly one webhook id")
		}
		if err := cu.DeleteWebhook(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "webhook %s deleted\n", args[0])
		return nil
	default:
		return fmt.Errorf("unknown clickup webhook action %q", action)
	}
}

// upsertClickUpWebhook updates the team's webhook for the same endpoint or
// creates one.
func upsertClickUpWebhook(ctx context.Context, cu *clickup.Client, req clickup.WebhookRequest) (clickup.Webhook, string, error) {
	hooks, err := cu.ListWebhooks(ctx)
	if err != nil {
		return clickup.Webhook{}, "", err
	}
	for _, h := range hooks {
		if h.Endpoint == req.Endpoint {
			req.Status = "active"
			updated, err := cu.UpdateWebhook(ctx, h.ID, req)
			return updated, "updated", err
		}
	}
	created, err := cu.CreateWebhook(ctx, req)
	return created, "created", err
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
