package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/social-dispatch/internal/domain"
)

const (
	DefaultTelegramAPIURL = "https://api.telegram.org"

	telegramMaxCaptionLength = 1024
	telegramMaxMessageLength = 4096
)

type TelegramConfig struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Timeout  time.Duration
}

// TelegramAdapter posts to a Telegram channel via the Bot API.
type TelegramAdapter struct {
	cfg    TelegramConfig
	client *resty.Client
	guard  *Guard
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text,omitempty"`
	Photo     string `json:"photo,omitempty"`
	Caption   string `json:"caption,omitempty"`
	ParseMode string `json:"parse_mode"`
}

func NewTelegramAdapter(cfg TelegramConfig, guard *Guard) (*TelegramAdapter, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultTelegramAPIURL
	}

	client, err := newRestyClient(cfg.BaseURL, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	return &TelegramAdapter{cfg: cfg, client: client, guard: guard}, nil
}

func (a *TelegramAdapter) Platform() domain.Platform { return domain.PlatformTelegram }

func (a *TelegramAdapter) Publish(ctx context.Context, content Content) domain.PublishOutcome {
	if a.cfg.BotToken == "" || a.cfg.ChatID == "" {
		return domain.FailedOutcome(domain.PlatformTelegram,
			"telegram credentials not configured (TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID missing)", nil)
	}

	body, err := a.guard.Execute(ctx, func(ctx context.Context) (map[string]any, error) {
		return a.send(ctx, content)
	})
	return outcomeOf(domain.PlatformTelegram, body, err)
}

func (a *TelegramAdapter) send(ctx context.Context, content Content) (map[string]any, error) {
	text := formatTelegramText(content.Title, content.Body)

	msg := telegramMessage{ChatID: a.cfg.ChatID, ParseMode: "MarkdownV2"}
	method := "sendMessage"
	if content.MediaURL != "" {
		method = "sendPhoto"
		msg.Photo = content.MediaURL
		msg.Caption = truncateMarkdownV2(text, telegramMaxCaptionLength)
	} else {
		msg.Text = truncateMarkdownV2(text, telegramMaxMessageLength)
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(msg).
		Post(fmt.Sprintf("/bot%s/%s", a.cfg.BotToken, method))

	body, err := handleResponse(domain.PlatformTelegram, resp, err, telegramErrorMessage)
	if err != nil {
		return body, err
	}
	// The Bot API reports some failures with a 200 and ok=false.
	if ok, present := body["ok"].(bool); present && !ok {
		errMsg := telegramErrorMessage(body)
		if errMsg == "" {
			errMsg = "telegram API returned ok=false"
		}
		return body, &PlatformError{
			Platform: domain.PlatformTelegram.String(),
			Message:  errMsg,
			Response: body,
		}
	}
	return body, nil
}

func formatTelegramText(title, body string) string {
	return fmt.Sprintf("📢 *%s*\n\n%s", escapeMarkdownV2(title), escapeMarkdownV2(body))
}

var markdownV2Replacer = strings.NewReplacer(
	`\`, `\\`,
	"_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
	"=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

func escapeMarkdownV2(s string) string {
	return markdownV2Replacer.Replace(s)
}

// truncateMarkdownV2 cuts s to at most limit runes without leaving a dangling
// escape character at the end.
func truncateMarkdownV2(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	runes = runes[:limit]

	trailing := 0
	for i := len(runes) - 1; i >= 0 && runes[i] == '\\'; i-- {
		trailing++
	}
	if trailing%2 == 1 {
		runes = runes[:len(runes)-1]
	}
	return string(runes)
}

func telegramErrorMessage(body map[string]any) string {
	return stringField(body, "description")
}
