// Package mailer delivers rendered campaign messages. Senders either relay
// through an SMTP submission server or capture messages in a local sandbox.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sender delivers a message and returns its Message-ID
type Sender interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// Message is a single outbound email
type Message struct {
	From     string
	FromName string
	ReplyTo  string
	To       string
	ToName   string
	Subject  string
	HTML     string
	Text     string
	Headers  map[string]string
}

// ErrNoRecipient is returned for messages without a valid To address
var ErrNoRecipient = errors.New("message has no valid recipient")

// Validate checks the envelope addresses
func (m *Message) Validate() error {
	if _, err := mail.ParseAddress(m.From); err != nil {
		return fmt.Errorf("invalid from address %q: %w", m.From, err)
	}
	if m.To == "" {
		return ErrNoRecipient
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("%w: %q", ErrNoRecipient, m.To)
	}
	return nil
}

// Build renders the message as RFC 5322 data and returns it with the
// generated Message-ID
func (m *Message) Build(now time.Time) ([]byte, string) {
	var buf bytes.Buffer
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domainOf(m.From))

	buf.WriteString(fmt.Sprintf("From: %s\r\n", formatAddress(m.FromName, m.From)))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", formatAddress(m.ToName, m.To)))
	if m.ReplyTo != "" {
		buf.WriteString(fmt.Sprintf("Reply-To: %s\r\n", m.ReplyTo))
	}
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject)))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", now.Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))

	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString(fmt.Sprintf("%s: %s\r\n", k, m.Headers[k]))
	}

	buf.WriteString("MIME-Version: 1.0\r\n")
	if m.HTML != "" {
		boundary := uuid.New().String()
		buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
		buf.WriteString("\r\n")

		if m.Text != "" {
			buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
			buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
			buf.WriteString("\r\n")
			buf.WriteString(crlf(m.Text))
			buf.WriteString("\r\n")
		}

		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(crlf(m.HTML))
		buf.WriteString("\r\n")

		buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	} else {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(crlf(m.Text))
	}

	return buf.Bytes(), messageID
}

func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return (&mail.Address{Name: name, Address: addr}).String()
}

// domainOf extracts the domain part of an address, "localhost" when absent
func domainOf(addr string) string {
	if a, err := mail.ParseAddress(addr); err == nil {
		addr = a.Address
	}
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "localhost"
	}
	return strings.ToLower(addr[at+1:])
}

func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
