package email

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
	"github.com/ternarybob/dispatch/internal/models"
)

// smtpTransport is one configured SMTP endpoint (main or backup)
type smtpTransport struct {
	settings *models.MailTransportSettings
}

// newSMTPTransport validates and wraps the settings
func newSMTPTransport(settings *models.MailTransportSettings) (*smtpTransport, error) {
	if !settings.IsComplete() {
		return nil, fmt.Errorf("incomplete SMTP configuration for host %q", settings.Host)
	}
	return &smtpTransport{settings: settings}, nil
}

func (t *smtpTransport) addr() string {
	return fmt.Sprintf("%s:%d", t.settings.Host, t.settings.Port)
}

func (t *smtpTransport) auth() smtp.Auth {
	return smtp.PlainAuth("", t.settings.Username, t.settings.Password, t.settings.Host)
}

// Send delivers one message and returns a generated message id
func (t *smtpTransport) Send(to, subject, htmlBody, textBody string) (string, error) {
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), t.settings.Host)
	msg := t.buildMessage(messageID, to, subject, htmlBody, textBody)

	var err error
	if t.settings.UseTLS {
		err = t.sendWithTLS(to, msg)
	} else {
		err = smtp.SendMail(t.addr(), t.auth(), t.settings.From, []string{to}, []byte(msg))
	}
	if err != nil {
		return "", err
	}
	return messageID, nil
}

// Verify performs a handshake and authentication without sending
func (t *smtpTransport) Verify() error {
	host := t.settings.Host

	if t.settings.UseTLS {
		conn, err := tls.Dial("tcp", t.addr(), &tls.Config{ServerName: host})
		if err != nil {
			return t.verifyWithSTARTTLS()
		}
		defer conn.Close()

		client, err := smtp.NewClient(conn, host)
		if err != nil {
			return fmt.Errorf("failed to create SMTP client: %w", err)
		}
		defer client.Close()

		if err := client.Auth(t.auth()); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
		return client.Quit()
	}

	client, err := smtp.Dial(t.addr())
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()
	return client.Quit()
}

func (t *smtpTransport) verifyWithSTARTTLS() error {
	client, err := smtp.Dial(t.addr())
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: t.settings.Host}); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}
	if err := client.Auth(t.auth()); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}
	return client.Quit()
}

// buildMessage assembles the MIME message. HTML bodies go out as
// multipart/alternative with base64 parts; RFC 5322 limits line length
// so base64 with 76-char breaks keeps every server happy.
func (t *smtpTransport) buildMessage(messageID, to, subject, htmlBody, textBody string) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", t.settings.FromName, t.settings.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))

	if htmlBody != "" {
		boundary := generateBoundary()
		msg.WriteString("MIME-Version: 1.0\r\n")
		msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
		msg.WriteString("\r\n")

		if textBody != "" {
			msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
			msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
			msg.WriteString("Content-Transfer-Encoding: base64\r\n")
			msg.WriteString("\r\n")
			msg.WriteString(encodeBase64WithLineBreaks(textBody))
			msg.WriteString("\r\n")
		}

		msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
		msg.WriteString("Content-Transfer-Encoding: base64\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(encodeBase64WithLineBreaks(htmlBody))
		msg.WriteString("\r\n")

		msg.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	} else {
		msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(textBody)
	}

	return msg.String()
}

// sendWithTLS sends over a direct TLS connection, falling back to
// STARTTLS when the direct dial fails
func (t *smtpTransport) sendWithTLS(to, msg string) error {
	host := t.settings.Host

	conn, err := tls.Dial("tcp", t.addr(), &tls.Config{ServerName: host})
	if err != nil {
		return t.sendWithSTARTTLS(to, msg)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	return t.submit(client, to, msg)
}

// sendWithSTARTTLS sends via plaintext dial upgraded with STARTTLS
func (t *smtpTransport) sendWithSTARTTLS(to, msg string) error {
	client, err := smtp.Dial(t.addr())
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: t.settings.Host}); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}

	return t.submit(client, to, msg)
}

func (t *smtpTransport) submit(client *smtp.Client, to, msg string) error {
	if err := client.Auth(t.auth()); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}
	if err := client.Mail(t.settings.From); err != nil {
		return fmt.Errorf("failed to set mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set mail recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}

// generateBoundary creates a unique MIME boundary string
func generateBoundary() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "dispatch_boundary_fallback"
	}
	return fmt.Sprintf("dispatch_%x", b)
}

// encodeBase64WithLineBreaks encodes content as base64 with 76-char
// line breaks per RFC 2045
func encodeBase64WithLineBreaks(content string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))

	var result strings.Builder
	const lineLen = 76

	for i := 0; i < len(encoded); i += lineLen {
		end := i + lineLen
		if end > len(encoded) {
			end = len(encoded)
		}
		result.WriteString(encoded[i:end])
		if end < len(encoded) {
			result.WriteString("\r\n")
		}
	}

	return result.String()
}
