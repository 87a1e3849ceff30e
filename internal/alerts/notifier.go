package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"golang.org/x/time/rate"

	"ops-gateway/internal/logging"
	"ops-gateway/internal/models"
)

// Notifier pushes critical alerts to an operator Telegram chat. The
// Telegram API throttles bots hard, so sends go through a shared rate
// limiter and are retried a few times before giving up.
type Notifier struct {
	botToken string
	chatID   int64
	limiter  *rate.Limiter
	logger   *logging.Logger
}

// NewNotifier returns nil when no bot token is configured; callers
// treat a nil Notifier as "notifications disabled".
func NewNotifier(botToken string, chatID int64, ratePerSecond int, logger *logging.Logger) *Notifier {
	if botToken == "" || chatID == 0 {
		return nil
	}
	if ratePerSecond < 1 {
		ratePerSecond = 1
	}
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		limiter:  rate.NewLimiter(rate.Limit(float64(ratePerSecond)), ratePerSecond),
		logger:   logger,
	}
}

// Notify sends one alert message, blocking on the rate limiter first.
func (n *Notifier) Notify(ctx context.Context, alert models.Alert) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit wait: %w", err)
	}

	text := fmt.Sprintf(
		"*%s alert: %s*\n%s\n\n*Service:* %s\n*Time:* %s",
		alert.Severity,
		alert.Type,
		alert.Message,
		alert.Service,
		alert.Timestamp.UTC().Format(time.RFC3339),
	)

	return retry(n.logger, 3, time.Second, func() error {
		b, err := bot.New(n.botToken)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram bot: %w", err)
		}
		params := &bot.SendMessageParams{
			ChatID:    n.chatID,
			Text:      text,
			ParseMode: "Markdown",
		}
		if _, err := b.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("failed to send Telegram message to chat_id %d: %w", n.chatID, err)
		}
		return nil
	})
}

func retry(logger *logging.Logger, maxAttempts int, delay time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			logger.Errorf("Attempt %d/%d failed: %v", attempt, maxAttempts, err)
			if attempt < maxAttempts {
				time.Sleep(delay)
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}
