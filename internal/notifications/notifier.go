package notifications

import "context"

// Email is one rendered message ready for the delivery collaborator.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// Notifier is the email-delivery collaborator. Implementations must be safe
// for concurrent use by the worker pool.
type Notifier interface {
	Send(ctx context.Context, email Email) error
}
