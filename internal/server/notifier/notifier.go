// Package notifier defines the outbound contract for relaying side-channel
// tokens to the email delivery collaborator. Delivery is fire-and-forget
// from the identity core's perspective: a notifier failure never unwinds an
// already-committed identity mutation.
package notifier

import "context"

// EventTypeVerification and EventTypePasswordReset discriminate the
// messages handed to the mail collaborator.
const (
	EventTypeVerification  = "verify_email"
	EventTypePasswordReset = "password_reset"
)

// MailEvent is the payload relayed to the delivery side.
type MailEvent struct {
	Type  string `json:"type"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

type Notifier interface {
	NotifyVerification(ctx context.Context, email, name, token string) error
	NotifyPasswordReset(ctx context.Context, email, name, token string) error
}
