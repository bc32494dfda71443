package notifications

import "context"

type SendEmailInput struct {
	To       string
	Template string
	Context  map[string]any
}

type Notifier interface {
	SendEmail(ctx context.Context, input SendEmailInput) error
}
