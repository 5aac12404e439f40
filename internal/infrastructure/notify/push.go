package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PushClient 封裝推播閘道的送訊 API。
type PushClient struct {
	authToken  string
	bundleID   string
	baseURL    string
	httpClient *http.Client
}

func NewPushClient(baseURL, authToken, bundleID string, timeout time.Duration) *PushClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PushClient{
		authToken: authToken,
		bundleID:  bundleID,
		baseURL:   baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// PushMessage 為送往單一裝置的推播內容。
type PushMessage struct {
	DeviceToken string         `json:"deviceToken"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Priority    float64        `json:"priority"`
	Payload     map[string]any `json:"payload,omitempty"`
	BundleID    string         `json:"bundleId,omitempty"`
}

// Send 將推播送到指定裝置。
func (c *PushClient) Send(ctx context.Context, msg PushMessage) error {
	if c == nil {
		return fmt.Errorf("push client is nil")
	}
	if c.baseURL == "" || c.authToken == "" {
		return fmt.Errorf("push base_url or auth_token missing")
	}
	if msg.DeviceToken == "" {
		return fmt.Errorf("device token missing")
	}

	msg.BundleID = c.bundleID
	body, _ := json.Marshal(msg)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/push", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("push send failed status=%d body=%s", resp.StatusCode, string(raw))
	}
	return nil
}
