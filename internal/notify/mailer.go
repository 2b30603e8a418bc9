package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/modulab/foreman/internal/foreman"
)

// Mailer delivers notifications through the external mail gateway: a POST
// of {"to","subject","content"} JSON to the configured endpoint.
type Mailer struct {
	apiURL string
	to     string
	client *http.Client
}

func NewMailer(apiURL, to string) *Mailer {
	return &Mailer{
		apiURL: apiURL,
		to:     to,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type mailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Content string `json:"content"`
}

// Notify renders the notification and posts it to the gateway. A non-2xx
// response is an error; callers log it and move on.
func (m *Mailer) Notify(ctx context.Context, n foreman.Notification) error {
	subject, body := Render(n)

	payload, err := json.Marshal(mailRequest{To: m.to, Subject: subject, Content: body})
	if err != nil {
		return fmt.Errorf("marshal mail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mail gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	slog.Info("notification mailed", "kind", n.Kind, "to", m.to, "subject", subject)
	return nil
}
