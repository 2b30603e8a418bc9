package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/modulab/foreman/internal/foreman"
)

// SMTPNotifier delivers notifications directly over SMTP, for deployments
// without the HTTP mail gateway.
type SMTPNotifier struct {
	host     string
	port     int
	from     string
	password string
	to       string
}

func NewSMTPNotifier(host string, port int, from, password, to string) *SMTPNotifier {
	if port == 0 {
		port = 587
	}
	return &SMTPNotifier{host: host, port: port, from: from, password: password, to: to}
}

func (s *SMTPNotifier) Notify(ctx context.Context, n foreman.Notification) error {
	subject, body := Render(n)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		s.from, s.to, subject, body)

	var auth smtp.Auth
	if s.password != "" {
		auth = smtp.PlainAuth("", s.from, s.password, s.host)
	}

	if err := smtp.SendMail(addr, auth, s.from, []string{s.to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	slog.Info("notification mailed via smtp", "kind", n.Kind, "to", s.to, "subject", subject)
	return nil
}
