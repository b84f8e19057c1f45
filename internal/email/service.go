// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured reports whether SMTP settings are present. Callers skip
// sending entirely when this is false.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart message with a plain-text fallback part.
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-caseflow"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// InviteData holds data for the collaborator invite email
type InviteData struct {
	AppName         string
	InviteeName     string
	InviterName     string
	ClientName      string
	RoleName        string
	RoleDescription string
	CaseURL         string
}

// DeadlineData holds data for the milestone deadline email
type DeadlineData struct {
	AppName     string
	OwnerName   string
	ClientName  string
	Milestone   string
	DueDate     string
	Priority    string
	Description string
	CaseURL     string
}

// SendInviteEmail notifies a broker they were added to a case roster.
func (s *Service) SendInviteEmail(to string, data InviteData) error {
	if data.AppName == "" {
		data.AppName = "Caseflow"
	}
	subject := fmt.Sprintf("%s added you to the %s case", data.InviterName, data.ClientName)
	html, err := renderTemplate(inviteEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render invite template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendDeadlineEmail warns a milestone owner of an approaching due date.
func (s *Service) SendDeadlineEmail(to string, data DeadlineData) error {
	if data.AppName == "" {
		data.AppName = "Caseflow"
	}
	subject := fmt.Sprintf("Milestone due soon: %s (%s)", data.Milestone, data.ClientName)
	html, err := renderTemplate(deadlineEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render deadline template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, subject, html)
}

// FormatDueDate renders a due date the way the email templates expect.
func FormatDueDate(t time.Time) string {
	return t.Format("Monday, 2 January 2006")
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const inviteEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>You were added to a case on {{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .role { background: #f0f6ff; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hi {{.InviteeName}},</h2>

    <p>{{.InviterName}} added you to the <strong>{{.ClientName}}</strong> onboarding case.</p>

    <div class="role">
        <strong>Your role: {{.RoleName}}</strong><br>
        {{.RoleDescription}}
    </div>

    <p>
        <a href="{{.CaseURL}}" class="button">Open the case</a>
    </p>

    <div class="footer">
        <p>You are receiving this because a colleague added you to a shared case on {{.AppName}}.</p>
    </div>
</body>
</html>`

const deadlineEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Milestone due soon on {{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #cc6600; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #cc6600; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .warning { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hi {{.OwnerName}},</h2>

    <p>A milestone you own on the <strong>{{.ClientName}}</strong> case is coming up.</p>

    <div class="warning">
        <strong>{{.Milestone}}</strong>{{if .Priority}} &middot; {{.Priority}} priority{{end}}<br>
        Due {{.DueDate}}{{if .Description}}<br>
        {{.Description}}{{end}}
    </div>

    <p>
        <a href="{{.CaseURL}}" class="button">Review the milestone</a>
    </p>

    <div class="footer">
        <p>You own this milestone on {{.AppName}}. If it is already handled, mark it completed to stop reminders.</p>
    </div>
</body>
</html>`
