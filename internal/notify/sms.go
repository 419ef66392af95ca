package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/careslot/internal/model"
)

// WebhookSMSChannel posts SMS reminders to a provider webhook.
type WebhookSMSChannel struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSMSChannel(url string, token string) *WebhookSMSChannel {
	return &WebhookSMSChannel{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *WebhookSMSChannel) Send(ctx context.Context, task model.NotificationTask) error {
	if c.url == "" {
		return errors.New("sms webhook url not configured")
	}
	payload := map[string]string{
		"to":   task.Recipient,
		"body": task.Message,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: sms webhook returned %d", ErrDeliveryFailed, resp.StatusCode)
	}
	return nil
}
