// Package pushover sends push notifications for events worth a human's
// attention, like failed device commands or a dead microphone.
package pushover

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voicehome/config"
	"voicehome/internal/infra"
)

const apiURL = "https://api.pushover.net/1/messages.json"

type Client struct {
	token      string
	userKey    string
	httpClient *http.Client
}

func NewClient(cfg config.PushoverConfig) *Client {
	return &Client{
		token:      cfg.Token,
		userKey:    cfg.UserKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify sends one message. Without credentials it silently does nothing,
// so the assistant runs fine unconfigured.
func (c *Client) Notify(ctx context.Context, message string) error {
	if c.token == "" || c.userKey == "" {
		return nil
	}

	data := url.Values{}
	data.Set("token", c.token)
	data.Set("user", c.userKey)
	data.Set("message", message)
	data.Set("title", "Voice Assistant")

	return infra.WithRetry(ctx, infra.DefaultRetryConfig(), func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sending notification: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("pushover error: %s", resp.Status)
		}
		return nil
	})
}
