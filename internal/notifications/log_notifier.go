package notifications

import (
	"context"
	"log/slog"

	"github.com/geocoder89/authcore/internal/security"
)

// LogNotifier writes alerts to the log. It stands in for a mail or push
// provider.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendSecurityAlert(ctx context.Context, a Alert) error {
	attrs := []any{
		"kind", string(a.Kind),
		"user_id", a.UserID,
		"email", security.MaskEmail(a.Email),
		"at", a.At,
	}
	for k, v := range a.Detail {
		attrs = append(attrs, k, v)
	}

	n.log.InfoContext(ctx, "notification.security_alert", attrs...)
	return nil
}
