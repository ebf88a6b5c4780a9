// Package telegram sends screening alerts through the Telegram Bot API.
// Only tumor-positive predictions with high or very high confidence produce an alert;
// everything else is skipped silently.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/brainscan/internal/logger"
	"github.com/rewired-gh/brainscan/internal/models"
)

// sender is the part of tgbotapi.BotAPI the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
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
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
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

// ShouldAlert reports whether a prediction warrants an alert.
func ShouldAlert(interp models.Interpretation) bool {
	if !interp.TumorDetected() {
		return false
	}
	return interp.ConfidenceTier == models.TierHigh || interp.ConfidenceTier == models.TierVeryHigh
}

// NotifyPrediction sends an alert for result if it qualifies.
func (c *Client) NotifyPrediction(ctx context.Context, result models.PredictionResult) error {
	if !ShouldAlert(result.Interpretation) {
		logger.Debug("No alert for %s (%s, %s)", result.File.Name, result.Interpretation.Category, result.Interpretation.ConfidenceTier)
		return nil
	}

	msg := tgbotapi.NewMessage(c.chatID, formatMessage(result))
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			logger.Info("Sent alert for %s", result.File.Name)
			return nil
		}
		lastErr = err
		logger.Warn("Telegram send attempt %d failed: %v", i+1, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatMessage renders a prediction as a MarkdownV2 message.
func formatMessage(result models.PredictionResult) string {
	interp := result.Interpretation
	var b strings.Builder

	b.WriteString("🧠 *Tumor Detected*\n\n")
	fmt.Fprintf(&b, "*%s*\n", escapeMarkdownV2(interp.Title))
	fmt.Fprintf(&b, "📄 File: %s \\(%s\\)\n",
		escapeMarkdownV2(result.File.Name), escapeMarkdownV2(humanize.Bytes(uint64(result.File.Size))))
	fmt.Fprintf(&b, "⚠️ Severity: %s\n", escapeMarkdownV2(interp.Severity.Label()))
	fmt.Fprintf(&b, "📊 Confidence: *%s* \\(%s\\)\n",
		escapeMarkdownV2(fmt.Sprintf("%.1f%%", interp.Confidence)), escapeMarkdownV2(string(interp.ConfidenceTier)))
	if result.Raw.ProcessingTime > 0 {
		d := time.Duration(result.Raw.ProcessingTime * float64(time.Second))
		fmt.Fprintf(&b, "⏱ Processing: %s\n", escapeMarkdownV2(formatDuration(d)))
	}
	if !result.CompletedAt.IsZero() {
		fmt.Fprintf(&b, "📅 %s\n", escapeMarkdownV2(result.CompletedAt.Format("2006-01-02 15:04:05")))
	}

	if len(interp.Recommendations) > 0 {
		b.WriteString("\n*Recommendations*\n")
		for _, r := range interp.Recommendations {
			fmt.Fprintf(&b, "• %s\n", escapeMarkdownV2(r))
		}
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// formatDuration formats a processing time
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
