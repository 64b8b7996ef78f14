// Package telegram sends a digest of a completed run via the Telegram Bot
// API: the peak bucket, the strongest correlations, and any sources that
// failed. Delivery uses linear retry; a digest is best-effort and never
// fails the run that produced it.
package telegram

import (
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/hypetrack/internal/models"
)

// Client handles Telegram notifications
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SendDigest sends the run summary for a completed query.
func (c *Client) SendDigest(q models.Query, h models.HypeSeries) error {
	message := formatDigest(q, h)

	msg := tgbotapi.NewMessage(c.chatID, message)
	msg.ParseMode = "MarkdownV2" // Use MarkdownV2 for better escaping support

	// Send with retry
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatDigest formats a completed run into a Telegram message
func formatDigest(q models.Query, h models.HypeSeries) string {
	term := escapeMarkdownV2(q.Term)
	window := escapeMarkdownV2(fmt.Sprintf("%s to %s",
		q.Start.Format("2006-01-02"), q.End.Format("2006-01-02")))

	message := fmt.Sprintf("📊 *Hype index: %s*\n%s\n\n", term, window)

	if h.PeakBucket >= 0 && h.PeakBucket < len(h.Points) {
		peak := h.Points[h.PeakBucket]
		label := escapeMarkdownV2(peak.Span.Label(q.Bucket))
		score := escapeMarkdownV2(fmt.Sprintf("%.2f", peak.Composite))
		message += fmt.Sprintf("🔥 Peak: *%s* \\(score %s\\)\n", label, score)
	}

	for _, corr := range h.Correlations {
		coeff := escapeMarkdownV2(fmt.Sprintf("%+.2f", corr.Coefficient))
		message += fmt.Sprintf("🔗 %s ↔ %s: %s\n", corr.A, corr.B, coeff)
	}
	if h.WeakStats {
		message += escapeMarkdownV2("⚠️ Window too short for reliable correlations\n")
	}

	if len(h.Missing) > 0 {
		names := ""
		for i, id := range h.Missing {
			if i > 0 {
				names += ", "
			}
			names += string(id)
		}
		message += fmt.Sprintf("🚫 Unavailable: %s\n", escapeMarkdownV2(names))
	}

	return message
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	// Note: We escape all of them with \ prefix

	result := ""
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			result += "\\" + string(char)
		default:
			result += string(char)
		}
	}
	return result
}
