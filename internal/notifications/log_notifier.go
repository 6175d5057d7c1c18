package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aivent/aivent/internal/actorctx"
)

// LogNotifier is the dev/test delivery collaborator: it logs instead of
// sending. Env knobs simulate a slow or failing provider so the retry and
// circuit-breaker paths can be exercised locally.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Send(ctx context.Context, email Email) error {
	if msStr := os.Getenv("NOTIFIER_SLEEP_MS"); msStr != "" {
		ms, _ := strconv.Atoi(msStr)
		if ms > 0 {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if os.Getenv("NOTIFIER_FAIL") == "1" {
		return fmt.Errorf("provider down (simulated)")
	}

	attrs := []any{
		"to", email.To,
		"subject", email.Subject,
		"bytes", len(email.HTML),
	}
	if userID, ok := actorctx.UserIDFrom(ctx); ok {
		attrs = append(attrs, "user_id", userID)
	}

	slog.Default().InfoContext(ctx, "notification.send", attrs...)
	return nil
}
