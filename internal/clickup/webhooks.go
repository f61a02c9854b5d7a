package clickup

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// ErrNoTeam is returned by team-scoped calls before a team is known.
var ErrNoTeam = errors.New("clickup: team id is not set")

func (c *Client) teamPath() (string, error) {
	_, team := c.credentials()
	if team == "" {
		return "", ErrNoTeam
	}
	return "/team/" + url.PathEscape(team) + "/webhook", nil
}

func (c *Client) CreateWebhook(ctx context.Context, hook WebhookRequest) (Webhook, error) {
	path, err := c.teamPath()
	if err != nil {
		return Webhook{}, err
	}
	var out struct {
		ID      string  `json:"id"`
		Webhook Webhook `json:"webhook"`
	}
	if err := c.do(ctx, "createWebhook", http.MethodPost, path, hook, "", &out); err != nil {
		return Webhook{}, err
	}
	if out.Webhook.ID == "" {
		out.Webhook.ID = out.ID
	}
	return out.Webhook, nil
}

func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	path, err := c.teamPath()
	if err != nil {
		return nil, err
	}
	var out struct {
		Webhooks []Webhook `json:"webhooks"`
	}
	err = c.do(ctx, "getWebhooks", http.MethodGet, path, nil, "", &out)
	return out.Webhooks, err
}

func (c *Client) UpdateWebhook(ctx context.Context, id string, hook WebhookRequest) (Webhook, error) {
	var out struct {
		ID      string  `json:"id"`
		Webhook Webhook `json:"webhook"`
	}
	if err := c.do(ctx, "updateWebhook", http.MethodPut, "/webhook/"+url.PathEscape(id), hook, "", &out); err != nil {
		return Webhook{}, err
	}
	if out.Webhook.ID == "" {
		out.Webhook.ID = out.ID
	}
	return out.Webhook, nil
}

func (c *Client) DeleteWebhook(ctx context.Context, id string) error {
	return c.do(ctx, "deleteWebhook", http.MethodDelete, "/webhook/"+url.PathEscape(id), nil, "", nil)
}
