package service

import (
	"errors"
	"fmt"
	"html"
	"io"
	"strings"

	"ledger/config"
	"ledger/models"

	"gopkg.in/gomail.v2"
)

// ErrEmailDisabled 未启用邮件服务
var ErrEmailDisabled = errors.New("email service is disabled, set LEDGER_EMAIL_ENABLED=true")

// EmailService 邮件服务
type EmailService struct {
	cfg  *config.EmailConfig
	send func(m *gomail.Message) error
}

// NewEmailService 创建邮件服务
func NewEmailService(cfg *config.EmailConfig) *EmailService {
	s := &EmailService{cfg: cfg}
	s.send = s.dialAndSend
	return s
}

// Enabled 是否已启用
func (s *EmailService) Enabled() bool {
	return s.cfg != nil && s.cfg.Enabled
}

// Attachment 邮件附件
type Attachment struct {
	Filename string
	Data     []byte
}

// SendEntriesReport 发送购买记录报表，Excel 作为附件
func (s *EmailService) SendEntriesReport(toEmail, username string, summary *EntrySummary, attachment Attachment) error {
	if !s.Enabled() {
		return ErrEmailDisabled
	}

	subject := "[Ledger] Purchase report"
	body := s.generateReportEmailBody(username, summary)

	m := s.newMessage(toEmail, subject, body)
	data := attachment.Data
	m.Attach(attachment.Filename, gomail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}))
	return s.send(m)
}

// generateReportEmailBody 生成报表邮件正文
func (s *EmailService) generateReportEmailBody(username string, summary *EntrySummary) string {
	var rows strings.Builder
	for _, c := range summary.Categories {
		name := "(deleted)"
		if c.CategoryName != nil {
			name = *c.CategoryName
		}
		fmt.Fprintf(&rows, "<tr><td>%s</td><td>%d</td><td style=\"text-align:right\">%s</td></tr>\n",
			html.EscapeString(name), c.Count, html.EscapeString(c.TotalDisplay))
	}

	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; background: #f5f5f5; margin: 0; padding: 20px; }
        .container { max-width: 600px; margin: 0 auto; background: #fff; border-radius: 12px; overflow: hidden; }
        .header { background: #2563eb; color: white; padding: 24px; text-align: center; }
        .content { padding: 30px; color: #333; }
        table { width: 100%%; border-collapse: collapse; }
        td, th { border-bottom: 1px solid #eee; padding: 8px; }
        .total { font-weight: bold; }
        .footer { background: #f8f9fa; padding: 16px; text-align: center; color: #6c757d; font-size: 12px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header"><h1>Ledger</h1></div>
        <div class="content">
            <p>Hello <strong>%s</strong>,</p>
            <p>your purchase report is attached (%d entries).</p>
            <table>
                <tr><th>Category</th><th>Entries</th><th>Total</th></tr>
                %s
                <tr class="total"><td>Total</td><td>%d</td><td style="text-align:right">%s</td></tr>
            </table>
        </div>
        <div class="footer"><p>This email was sent automatically, please do not reply.</p></div>
    </div>
</body>
</html>
`, html.EscapeString(username), summary.Count, rows.String(), summary.Count, html.EscapeString(summary.TotalDisplay))
}

// SendTestEmail 发送测试邮件
func (s *EmailService) SendTestEmail(toEmail string) error {
	if !s.Enabled() {
		return ErrEmailDisabled
	}
	body := `<!DOCTYPE html><html><head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; padding: 20px;"><h2>Email configuration works</h2></body></html>`
	return s.send(s.newMessage(toEmail, "[Ledger] Test email", body))
}

func (s *EmailService) newMessage(to, subject, body string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(s.cfg.Username, s.cfg.From))
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)
	return m
}

// dialAndSend 发送邮件
func (s *EmailService) dialAndSend(m *gomail.Message) error {
	d := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// reportFilename 报表附件文件名
func reportFilename(start, end string) string {
	switch {
	case start == "" && end == "":
		return "purchases.xlsx"
	case start == "":
		start = "begin"
	case end == "":
		end = "now"
	}
	return fmt.Sprintf("purchases_%s_%s.xlsx", start, end)
}

// SendEntriesReportFor 生成 Excel 并发送给用户
func (s *EmailService) SendEntriesReportFor(toEmail, username string, views []models.EntryView, start, end string) error {
	if !s.Enabled() {
		return ErrEmailDisabled
	}
	data, err := EntriesXLSXBytes(views)
	if err != nil {
		return err
	}
	return s.SendEntriesReport(toEmail, username, Summarize(views), Attachment{
		Filename: reportFilename(start, end),
		Data:     data,
	})
}
