package wiki

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Notifier delivers the wiki-completion notification for email uploads
// (§4.13 notification hook). No notification is sent for user_project runs;
// callers simply don't invoke it in that case.
type Notifier interface {
	Notify(ctx context.Context, email, projectName, publicWikiURL string) error
}

// sendgridNotifier sends the completion email through the SendGrid API.
type sendgridNotifier struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
}

// NewSendgridNotifier builds a Notifier backed by SendGrid's transactional
// mail API.
func NewSendgridNotifier(apiKey, fromEmail, fromName string) Notifier {
	return &sendgridNotifier{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (n *sendgridNotifier) Notify(ctx context.Context, email, projectName, publicWikiURL string) error {
	from := mail.NewEmail(n.fromName, n.fromEmail)
	to := mail.NewEmail("", email)
	subject := fmt.Sprintf("Your wiki for %q is ready", projectName)
	plainText := fmt.Sprintf("Your generated wiki for %q is ready: %s", projectName, publicWikiURL)
	html := fmt.Sprintf("<p>Your generated wiki for <strong>%s</strong> is ready.</p><p><a href=%q>%s</a></p>", projectName, publicWikiURL, publicWikiURL)

	message := mail.NewSingleEmail(from, subject, to, plainText, html)

	resp, err := n.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("send wiki notification: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("send wiki notification: sendgrid returned status %d", resp.StatusCode)
	}
	return nil
}
