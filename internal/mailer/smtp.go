package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// TLS modes for the relay connection
const (
	TLSNone     = "none"
	TLSStartTLS = "starttls"
	TLSImplicit = "tls"
)

// DeliveryError is a failed delivery. Temporary errors may succeed on retry.
type DeliveryError struct {
	Temporary bool
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// IsTemporaryError reports whether err is worth retrying
func IsTemporaryError(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true
}

// SMTPConfig configures an SMTPSender
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	TLS                string
	InsecureSkipVerify bool
	Hostname           string
	Timeout            time.Duration
}

// SMTPSender relays messages through an SMTP submission server
type SMTPSender struct {
	cfg    SMTPConfig
	signer *Signer
	logger *slog.Logger
}

// NewSMTPSender creates a relay sender
func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.TLS == "" {
		cfg.TLS = TLSStartTLS
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SMTPSender{cfg: cfg, logger: logger}
}

// SetDKIMSigner signs every outgoing message with signer
func (s *SMTPSender) SetDKIMSigner(signer *Signer) {
	s.signer = signer
}

// Send delivers msg to the relay and returns its Message-ID
func (s *SMTPSender) Send(ctx context.Context, msg *Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", &DeliveryError{Temporary: false, Message: err.Error()}
	}

	data, messageID := msg.Build(time.Now())
	if s.signer != nil {
		signed, err := s.signer.Sign(data)
		if err != nil {
			s.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", s.signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	if err := s.deliver(ctx, msg.From, msg.To, data); err != nil {
		return "", err
	}

	s.logger.Debug("message relayed",
		"message_id", messageID,
		"from", msg.From,
		"to", msg.To,
	)
	return messageID, nil
}

func (s *SMTPSender) deliver(ctx context.Context, from, to string, data []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	tlsConfig := &tls.Config{
		ServerName:         s.cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	}

	client, err := s.connect(ctx, addr, tlsConfig)
	if err != nil {
		return err
	}
	defer client.Close()
	// go-smtp clears the connection deadline after the greeting
	client.CommandTimeout = s.cfg.Timeout
	client.SubmissionTimeout = s.cfg.Timeout

	if err := client.Hello(s.cfg.Hostname); err != nil {
		return categorizeError(err, "EHLO")
	}

	if s.cfg.Username != "" {
		auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return categorizeError(err, "AUTH")
		}
	}

	if err := client.Mail(from, nil); err != nil {
		return categorizeError(err, "MAIL FROM")
	}
	if err := client.Rcpt(to, nil); err != nil {
		return categorizeError(err, fmt.Sprintf("RCPT TO %s", to))
	}

	wc, err := client.Data()
	if err != nil {
		return categorizeError(err, "DATA")
	}
	if _, err := bytes.NewReader(data).WriteTo(wc); err != nil {
		wc.Close()
		return &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("failed to write message data: %v", err),
		}
	}
	if err := wc.Close(); err != nil {
		return categorizeError(err, "DATA close")
	}

	client.Quit()
	return nil
}

// connect opens an SMTP session in the configured TLS mode. In STARTTLS mode
// a relay that does not advertise the extension is used in plaintext with a
// warning.
func (s *SMTPSender) connect(ctx context.Context, addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	conn, err := s.dial(ctx, addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	if s.cfg.TLS != TLSStartTLS {
		return smtp.NewClient(conn), nil
	}

	client, err := smtp.NewClientStartTLS(conn, tlsConfig)
	if err == nil {
		return client, nil
	}
	if !strings.Contains(err.Error(), errNoStartTLS) {
		return nil, categorizeError(err, "STARTTLS")
	}

	s.logger.Warn("relay does not offer STARTTLS, continuing without encryption", "addr", addr)
	conn, err = s.dial(ctx, addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	return smtp.NewClient(conn), nil
}

// errNoStartTLS is the text go-smtp reports when EHLO lacks STARTTLS
const errNoStartTLS = "doesn't support STARTTLS"

func (s *SMTPSender) dial(ctx context.Context, addr string, tlsConfig *tls.Config) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	var conn net.Conn
	var err error
	if s.cfg.TLS == TLSImplicit {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("connection failed to %s: %v", addr, err),
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	}
	return conn, nil
}

// categorizeError maps SMTP reply codes to temporary (4xx) or permanent (5xx)
func categorizeError(err error, stage string) *DeliveryError {
	msg := fmt.Sprintf("%s failed: %v", stage, err)

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Code >= 500 {
		return &DeliveryError{Temporary: false, Message: msg}
	}
	return &DeliveryError{Temporary: true, Message: msg}
}
