// Package notify holds the outbound-notification collaborator used by the
// identity core. Delivery mechanics live behind the auth.Notifier interface;
// this implementation only records the hand-off, which is enough for
// environments without a mail relay and for tests.
package notify

import (
	"context"

	"tenbase.org/internal/obs"
)

// LogNotifier logs each notification instead of delivering it.
type LogNotifier struct{}

// NewLogNotifier returns the logging notifier.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) VerificationEmail(ctx context.Context, email, token string) error {
	n.emit("verification", email)
	return nil
}

func (n *LogNotifier) PasswordResetEmail(ctx context.Context, email, token string) error {
	n.emit("password_reset", email)
	return nil
}

func (n *LogNotifier) WelcomeEmail(ctx context.Context, email string) error {
	n.emit("welcome", email)
	return nil
}

func (n *LogNotifier) emit(kind, email string) {
	obs.LogRequest(map[string]any{
		"level": "info",
		"msg":   "notification queued",
		"kind":  kind,
		"email": email,
	})
}
