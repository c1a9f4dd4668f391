package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultTelegramBaseURL is the Bot API root.
const DefaultTelegramBaseURL = "https://api.telegram.org"

// TelegramChannel posts staff alerts to a Telegram chat through the Bot API.
type TelegramChannel struct {
	baseURL    string
	token      string
	chatID     string
	httpClient *http.Client
}

// NewTelegramChannel creates a channel. An empty baseURL selects DefaultTelegramBaseURL.
func NewTelegramChannel(token, chatID, baseURL string) *TelegramChannel {
	if baseURL == "" {
		baseURL = DefaultTelegramBaseURL
	}
	return &TelegramChannel{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		chatID:  chatID,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Name implements Channel.
func (t *TelegramChannel) Name() string { return ChannelTelegram }

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send implements Channel.
func (t *TelegramChannel) Send(ctx context.Context, n Notification) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    n.Text(),
	})
	if err != nil {
		return t.chatID, fmt.Errorf("failed to encode telegram message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return t.chatID, fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of logs.
		return t.chatID, fmt.Errorf("telegram request failed: %w", redactToken(err, t.token))
	}
	defer resp.Body.Close()

	var tr telegramResponse
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(body, &tr)

	if resp.StatusCode != http.StatusOK || !tr.OK {
		return t.chatID, fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, tr.Description)
	}
	return t.chatID, nil
}

type redactedError struct{ msg string }

func (e *redactedError) Error() string { return e.msg }

func redactToken(err error, token string) error {
	if token == "" {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<redacted>")}
}
