package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"net/url"
	"time"

	"github.com/tutorhub/lessons-api/internal/logging"
)

const productName = "Aula Online"

//go:embed templates/*.html
var templateFS embed.FS

// Config holds the SMTP settings and the base URLs used in links
type Config struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	From         string
	// APIURL is the public base URL of this service; verification links
	// point straight at GET /auth/verify-email.
	APIURL string
	// FrontendURL hosts the page where a new password is typed.
	FrontendURL string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	cfg          Config
	verification *template.Template
	reset        *template.Template
	send         sendFunc
	now          func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	verification, err := template.ParseFS(templateFS, "templates/layout.html", "templates/verification.html")
	if err != nil {
		return nil, fmt.Errorf("parse verification template: %w", err)
	}
	reset, err := template.ParseFS(templateFS, "templates/layout.html", "templates/password_reset.html")
	if err != nil {
		return nil, fmt.Errorf("parse password reset template: %w", err)
	}

	if cfg.From == "" {
		cfg.From = cfg.SMTPUser
	}

	return &Service{
		cfg:          cfg,
		verification: verification,
		reset:        reset,
		send:         smtp.SendMail,
		now:          time.Now,
	}, nil
}

type emailData struct {
	Name    string
	Link    string
	Heading string
	Accent  string
	Expiry  string
	Product string
	Year    int
}

// SendVerificationEmail sends the email verification link
func (s *Service) SendVerificationEmail(ctx context.Context, toEmail, name, token string) error {
	link := s.cfg.APIURL + "/auth/verify-email?token=" + url.QueryEscape(token)
	return s.deliver(ctx, "verification", s.verification, toEmail, "Verifique seu email - "+productName, emailData{
		Name:    name,
		Link:    link,
		Heading: "Bem-vindo à " + productName + "!",
		Accent:  "#007bff",
		Expiry:  "Este link expira em 24 horas.",
	})
}

// SendPasswordResetEmail sends the password reset link
func (s *Service) SendPasswordResetEmail(ctx context.Context, toEmail, name, token string) error {
	link := s.cfg.FrontendURL + "/reset-password?token=" + url.QueryEscape(token)
	return s.deliver(ctx, "password_reset", s.reset, toEmail, "Recuperação de Senha - "+productName, emailData{
		Name:    name,
		Link:    link,
		Heading: "Recuperação de Senha",
		Accent:  "#dc3545",
		Expiry:  "Este link expira em 1 hora.",
	})
}

func (s *Service) deliver(ctx context.Context, kind string, tmpl *template.Template, to, subject string, data emailData) error {
	logger := logging.GetLoggerFromContext(ctx)

	if s.cfg.SMTPHost == "" {
		logger.Warn("email delivery disabled: SMTP_HOST is not set", "kind", kind, "email", to)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data.Product = productName
	data.Year = s.now().Year()

	var body bytes.Buffer
	if err := tmpl.ExecuteTemplate(&body, "layout", data); err != nil {
		logger.Error("failed to render email template", "kind", kind, "error", err)
		return fmt.Errorf("render template: %w", err)
	}

	msg := s.buildMessage(to, subject, body.String())
	auth := smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	addr := net.JoinHostPort(s.cfg.SMTPHost, s.cfg.SMTPPort)

	if err := s.send(addr, auth, s.cfg.From, []string{to}, msg); err != nil {
		logger.Error("failed to send email", "kind", kind, "email", to, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("email sent", "kind", kind, "email", to)
	return nil
}

func (s *Service) buildMessage(to, subject, body string) []byte {
	from := (&mail.Address{Name: productName, Address: s.cfg.From}).String()

	return []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		from, to, mime.QEncoding.Encode("utf-8", subject), body,
	))
}
