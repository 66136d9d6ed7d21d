// Package email sends workspace invitation notices over SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/time/rate"
)

var (
	ErrNotConfigured = errors.New("email not configured")
	ErrRateLimited   = errors.New("email rate limit exceeded")
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// PerMinute caps outgoing mail. Zero or less disables the cap.
	PerMinute int
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config  Config
	server  string
	auth    smtp.Auth
	limiter *rate.Limiter
	send    sendFunc
}

func NewService(config Config) *Service {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.PerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.PerMinute)), config.PerMinute)
	}
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config:  config,
		server:  config.Host + ":" + config.Port,
		auth:    auth,
		limiter: limiter,
		send:    smtp.SendMail,
	}
}

func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	addr := mail.Address{Name: s.config.FromName, Address: s.config.From}
	return addr.String()
}

// SendHTMLEmail sends a multipart message with a plain text fallback.
func (s *Service) SendHTMLEmail(ctx context.Context, to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.limiter.Allow() {
		return ErrRateLimited
	}
	msg := buildMessage(s.fromHeader(), to, subject, textBody, htmlBody)
	if err := s.send(s.server, s.auth, s.config.From, to, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

const boundary = "writeshare-boundary"

func buildMessage(from string, to []string, subject, textBody, htmlBody string) []byte {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerText(subject)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(textBody + "\r\n\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.WriteString(htmlBody + "\r\n\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

// headerText folds control characters to spaces so a value cannot end
// the header it is written into.
func headerText(value string) string {
	return strings.Join(strings.FieldsFunc(value, unicode.IsControl), " ")
}

type InviteData struct {
	WorkspaceName string
	InviterName   string
	InviteeEmail  string
	WorkspaceURL  string
}

func (s *Service) SendInviteEmail(ctx context.Context, data InviteData) error {
	var html bytes.Buffer
	if err := inviteTemplate.Execute(&html, data); err != nil {
		return fmt.Errorf("render invite template: %w", err)
	}
	subject := fmt.Sprintf("%s invited you to %s", inviterName(data), data.WorkspaceName)
	text := fmt.Sprintf("%s added you to the %q workspace on WriteShare.\r\nOpen it here: %s",
		inviterName(data), data.WorkspaceName, data.WorkspaceURL)
	return s.SendHTMLEmail(ctx, []string{data.InviteeEmail}, subject, text, html.String())
}

func inviterName(data InviteData) string {
	if strings.TrimSpace(data.InviterName) == "" {
		return "A teammate"
	}
	return data.InviterName
}

var inviteTemplate = template.Must(template.New("invite").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Join {{.WorkspaceName}} on WriteShare</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #37352f; max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 10px 20px; background: #2383e2; color: white; text-decoration: none; border-radius: 4px; margin: 16px 0; }
        .footer { margin-top: 28px; font-size: 12px; color: #787774; }
    </style>
</head>
<body>
    <h2>You have been added to {{.WorkspaceName}}</h2>
    <p>{{if .InviterName}}{{.InviterName}}{{else}}A teammate{{end}} gave {{.InviteeEmail}} access to this workspace.</p>
    <p><a href="{{.WorkspaceURL}}" class="button">Open workspace</a></p>
    <div class="footer">
        <p>You received this because someone invited your address to a WriteShare workspace.</p>
    </div>
</body>
</html>`))
