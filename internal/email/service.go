// Package email sends form notifications via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"sort"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	AppName  string
}

// Service provides email sending
type Service struct {
	config   Config
	server   string
	auth     smtp.Auth
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewService(config Config) *Service {
	if config.AppName == "" {
		config.AppName = "Formvault"
	}
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config:   config,
		server:   config.Host + ":" + config.Port,
		auth:     auth,
		sendMail: smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendHTMLEmail sends a multipart email with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	boundary := "boundary-formvault"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.sendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// SubmissionData is the template input of a submission notice.
type SubmissionData struct {
	AppName      string
	FormTitle    string
	SubmissionID string
	Fields       []SubmissionField
}

type SubmissionField struct {
	Name  string
	Value string
}

// SendSubmissionNotice tells the form owner about a new submission. The
// answers are listed in field-name order.
func (s *Service) SendSubmissionNotice(to, formTitle, submissionID string, data map[string]any) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	notice := SubmissionData{
		AppName:      s.config.AppName,
		FormTitle:    formTitle,
		SubmissionID: submissionID,
		Fields:       summarize(data),
	}

	html, err := renderTemplate(submissionNoticeTemplate, notice)
	if err != nil {
		return fmt.Errorf("render submission template: %w", err)
	}
	var text strings.Builder
	fmt.Fprintf(&text, "New submission %s for %q\n\n", submissionID, formTitle)
	for _, field := range notice.Fields {
		fmt.Fprintf(&text, "%s: %s\n", field.Name, field.Value)
	}

	subject := fmt.Sprintf("New submission: %s", formTitle)
	return s.SendHTMLEmail([]string{to}, subject, text.String(), html)
}

func summarize(data map[string]any) []SubmissionField {
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]SubmissionField, 0, len(names))
	for _, name := range names {
		value := data[name]
		var rendered string
		switch v := value.(type) {
		case []any:
			parts := make([]string, len(v))
			for i, item := range v {
				parts[i] = fmt.Sprint(item)
			}
			rendered = strings.Join(parts, ", ")
		default:
			rendered = fmt.Sprint(v)
		}
		fields = append(fields, SubmissionField{Name: name, Value: rendered})
	}
	return fields
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const submissionNoticeTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New submission for {{.FormTitle}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        table { border-collapse: collapse; width: 100%; }
        th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid #eee; vertical-align: top; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>New submission for {{.FormTitle}}</h2>

    <table>
    {{- range .Fields}}
        <tr><th>{{.Name}}</th><td>{{.Value}}</td></tr>
    {{- end}}
    </table>

    <div class="footer">
        <p>Submission {{.SubmissionID}}</p>
    </div>
</body>
</html>`
