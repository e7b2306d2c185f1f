package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"workspace-realtime/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// SMTPConfig define o servidor usado para os alertas por email
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// Enabled indica se há servidor SMTP configurado
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Transport entrega alertas por SMTP e por webhook JSON
type Transport struct {
	smtp     SMTPConfig
	client   *http.Client
	sendMail sendMailFunc
	logger   domain.Logger
}

// NewTransport cria o transporte; client nil usa um http.Client com timeout de 5s
func NewTransport(smtpConfig SMTPConfig, client *http.Client, logger domain.Logger) *Transport {
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	return &Transport{
		smtp:     smtpConfig,
		client:   client,
		sendMail: smtp.SendMail,
		logger:   logger,
	}
}

// SendEmail envia um email de texto simples
func (t *Transport) SendEmail(ctx context.Context, to, subject, body string) error {
	if !t.smtp.Enabled() {
		return fmt.Errorf("smtp host not configured")
	}

	var auth smtp.Auth
	if t.smtp.Username != "" {
		auth = smtp.PlainAuth("", t.smtp.Username, t.smtp.Password, t.smtp.Host)
	}

	addr := net.JoinHostPort(t.smtp.Host, t.smtp.Port)
	msg := buildMessage(t.smtp.From, to, subject, body)

	// smtp.SendMail não aceita contexto; o envio segue em background se o prazo vencer
	errCh := make(chan error, 1)
	go func() {
		errCh <- t.sendMail(addr, auth, t.smtp.From, []string{to}, msg)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		t.logger.Debug("Alert email sent", map[string]interface{}{"to": to, "subject": subject})
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to send email: %w", ctx.Err())
	}
}

// SendWebhook publica o payload como JSON; respostas fora de 2xx são erro
func (t *Transport) SendWebhook(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	t.logger.Debug("Alert webhook delivered", map[string]interface{}{
		"url":    url,
		"status": resp.StatusCode,
	})
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
