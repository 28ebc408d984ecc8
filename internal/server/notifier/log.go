package notifier

import (
	"context"

	"github.com/dkarpov/studenthub/internal/logging"
)

// LogNotifier writes mail events to the structured log instead of a broker.
// Used when no broker is configured, typically single-node and development
// deployments. Tokens are logged so an operator can complete flows by hand.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(l logging.Logger) *LogNotifier {
	return &LogNotifier{logger: l.With("module", "notifier")}
}

func (n *LogNotifier) NotifyVerification(ctx context.Context, email, name, token string) error {
	n.logger.Info(ctx, "verification mail event", "type", EventTypeVerification, "email", email, "name", name, "token", token)
	return nil
}

func (n *LogNotifier) NotifyPasswordReset(ctx context.Context, email, name, token string) error {
	n.logger.Info(ctx, "password reset mail event", "type", EventTypePasswordReset, "email", email, "name", name, "token", token)
	return nil
}
