package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

// OTPMessage is everything needed to render a one time code mail.
type OTPMessage struct {
	Code          string
	Purpose       string
	ExpiryMinutes int
}

var otpTemplate = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif">
  <h2>PJ {{.Purpose}}</h2>
  <p>Your verification code is:</p>
  <p style="font-size: 28px; letter-spacing: 6px"><strong>{{.Code}}</strong></p>
  <p>The code is valid for {{.ExpiryMinutes}} minutes. If you did not request it, ignore this mail.</p>
</body>
</html>`))

// RenderOTP renders the subject and html body for an OTP mail.
func RenderOTP(msg OTPMessage) (subject string, body string, err error) {
	purpose := formatPurpose(msg.Purpose)
	var buf bytes.Buffer
	err = otpTemplate.Execute(&buf, OTPMessage{
		Code:          msg.Code,
		Purpose:       purpose,
		ExpiryMinutes: msg.ExpiryMinutes,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to render otp mail: %w", err)
	}
	return fmt.Sprintf("PJ %s code", purpose), buf.String(), nil
}

func formatPurpose(purpose string) string {
	p := strings.ReplaceAll(purpose, "_", " ")
	return cases.Title(language.English).String(p)
}

// SMTPSender delivers OTP mails over implicit TLS (port 465).
type SMTPSender struct {
	config  SMTPConfig
	purpose string
	ttl     time.Duration
}

func NewSMTPSender(config SMTPConfig, purpose string, ttl time.Duration) *SMTPSender {
	if config.From == "" {
		config.From = config.Username
	}
	return &SMTPSender{config: config, purpose: purpose, ttl: ttl}
}

func (s *SMTPSender) SendOTP(ctx context.Context, to, code string) error {
	subject, body, err := RenderOTP(OTPMessage{Code: code, Purpose: s.purpose, ExpiryMinutes: int(s.ttl.Minutes())})
	if err != nil {
		return err
	}
	if err := s.send(ctx, to, subject, body); err != nil {
		return fmt.Errorf("failed to send code to %s: %w", to, err)
	}
	slog.Info("OTP mail sent", "to", to)
	return nil
}

func (s *SMTPSender) send(ctx context.Context, to, subject, body string) error {
	msg := []byte(
		fmt.Sprintf("From: %s\r\n", s.config.From) +
			fmt.Sprintf("To: %s\r\n", to) +
			fmt.Sprintf("Subject: %s\r\n", subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=\"utf-8\"\r\n" +
			"\r\n" +
			body,
	)

	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(deadline)
	}
	conn := tls.Client(raw, &tls.Config{ServerName: s.config.Host})
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return err
	}
	defer client.Quit()

	auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	if err := client.Auth(auth); err != nil {
		return err
	}
	if err := client.Mail(s.config.From); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	return w.Close()
}

// LogSender writes codes to the log instead of mailing them. Development only.
type LogSender struct{}

func (LogSender) SendOTP(_ context.Context, to, code string) error {
	slog.Warn("OTP mail not sent, log sender in use", "to", to, "code", code)
	return nil
}
