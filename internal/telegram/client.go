// Package telegram provides a client for sending signal notifications via
// the Telegram Bot API.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ambrusq/marketsig/internal/models"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
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

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a detection error notification.
func (c *Client) SendError(runErr error) error {
	return c.sendMarkdownV2(formatError(runErr))
}

func formatError(err error) string {
	return fmt.Sprintf("⚠️ *Detection error*\n`%s`", escapeMarkdownV2(err.Error()))
}

// Send sends a digest of the detected signals, grouped by market.
func (c *Client) Send(signals []models.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	return c.sendMarkdownV2(formatMessage(signals))
}

// formatMessage formats signals into a Telegram MarkdownV2 digest. Input
// order is preserved within each market group.
func formatMessage(signals []models.Signal) string {
	message := "🚨 *Price Signals Detected*\n\n"

	dateStr := escapeMarkdownV2(signals[0].DetectedAt.Format("2006-01-02 15:04:05"))
	message += fmt.Sprintf("📅 Detected: %s\n\n", dateStr)

	var order []string
	grouped := make(map[string][]models.Signal)
	for _, sig := range signals {
		if _, ok := grouped[sig.MarketID]; !ok {
			order = append(order, sig.MarketID)
		}
		grouped[sig.MarketID] = append(grouped[sig.MarketID], sig)
	}

	for i, marketID := range order {
		group := grouped[marketID]
		header := fmt.Sprintf("%s \\(%s\\)", escapeMarkdownV2(marketID), group[0].Source)
		message += fmt.Sprintf("%d\\. %s\n", i+1, header)

		for _, sig := range group {
			directionEmoji := "📈"
			if sig.Direction == models.DirectionDown {
				directionEmoji = "📉"
			}

			label := string(sig.Kind)
			if sig.Severity == models.SeverityLarge {
				label += " large"
			}
			if sig.Rapid {
				label += " ⚡"
			}

			fromStr := escapeMarkdownV2(fmt.Sprintf("%.1f%%", sig.From.Price*100))
			toStr := escapeMarkdownV2(fmt.Sprintf("%.1f%%", sig.To.Price*100))
			deltaStr := escapeMarkdownV2(fmt.Sprintf("%+.1f%%", sig.DeltaAbs*100))

			message += fmt.Sprintf("   %s *%s* %s → %s \\(%s, %s\\)\n",
				directionEmoji, escapeMarkdownV2(label), fromStr, toStr, deltaStr, sig.Window)
		}

		message += "\n"
	}

	return message
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
