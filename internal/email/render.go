package email

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"lmsmail/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(
	template.New("email").Option("missingkey=error").ParseFS(templateFS, "templates/*.html"),
)

const (
	placeholder        = "Not provided"
	memberIDPending    = "Will be assigned shortly"
	defaultCompanyName = "Learning Portal"
	defaultStaffRole   = "staff member"
	defaultDueDate     = "Upon receipt"
)

// Rendered is the output of Render: everything the transport needs except
// the recipient.
type Rendered struct {
	Subject     string
	FromName    string
	FromAddress string
	HTML        string
}

// Message addresses r to the recipient of item.
func (r Rendered) Message(item models.QueueItem) Message {
	return Message{
		To:          item.RecipientEmail,
		ToName:      item.RecipientName,
		FromName:    r.FromName,
		FromAddress: r.FromAddress,
		Subject:     r.Subject,
		HTML:        r.HTML,
		Tag:         string(item.EmailType),
	}
}

// DecodePayload decodes raw template data into the payload shape of t.
// An empty or null payload decodes to the zero value of that shape.
func DecodePayload(t models.EmailType, raw json.RawMessage) (models.Payload, error) {
	switch t {
	case models.EmailTypeStudentWelcome:
		var d models.StudentWelcomeData
		if err := decodeInto(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case models.EmailTypeStaffWelcome:
		var d models.StaffWelcomeData
		if err := decodeInto(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case models.EmailTypeInvoice:
		var d models.InvoiceData
		if err := decodeInto(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEmailType, string(t))
	}
}

func decodeInto(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Render maps a queue item to its subject, sender identity and HTML body.
// It performs no I/O and its output depends only on its inputs.
func Render(item models.QueueItem, s models.CompanySettings) (Rendered, error) {
	payload, err := DecodePayload(item.EmailType, item.TemplateData)
	if err != nil {
		return Rendered{}, err
	}

	company := firstNonEmpty(s.CompanyName, defaultCompanyName)

	switch p := payload.(type) {
	case models.StudentWelcomeData:
		return renderStudentWelcome(p, item, s, company)
	case models.StaffWelcomeData:
		return renderStaffWelcome(p, item, s, company)
	case models.InvoiceData:
		return renderInvoice(p, item, s, company)
	default:
		return Rendered{}, fmt.Errorf("%w: %T", ErrUnknownEmailType, payload)
	}
}

type layout struct {
	CompanyName string
	Subject     string
	Name        string
}

type link struct {
	URL   string
	Label string
}

type studentWelcomeView struct {
	layout
	Email      string
	Password   string
	MemberID   string
	CourseName string
	Login      link
}

func renderStudentWelcome(p models.StudentWelcomeData, item models.QueueItem, s models.CompanySettings, company string) (Rendered, error) {
	fromName, fromAddr, err := lmsSender(s, company)
	if err != nil {
		return Rendered{}, err
	}

	subject := fmt.Sprintf("Welcome to %s: your student account is ready", company)
	v := studentWelcomeView{
		layout: layout{
			CompanyName: company,
			Subject:     subject,
			Name:        firstNonEmpty(p.StudentName, item.RecipientName, "there"),
		},
		Email:      firstNonEmpty(p.Email, item.RecipientEmail),
		Password:   firstNonEmpty(p.Password, placeholder),
		MemberID:   firstNonEmpty(p.MemberID, memberIDPending),
		CourseName: p.CourseName,
		Login:      link{URL: p.LoginURL, Label: "Log in to your dashboard"},
	}

	return execute("student_welcome.html", v, subject, fromName, fromAddr)
}

type staffWelcomeView struct {
	layout
	Email    string
	Password string
	Role     string
	Login    link
}

func renderStaffWelcome(p models.StaffWelcomeData, item models.QueueItem, s models.CompanySettings, company string) (Rendered, error) {
	fromName, fromAddr, err := lmsSender(s, company)
	if err != nil {
		return Rendered{}, err
	}

	subject := fmt.Sprintf("Welcome to the %s team", company)
	v := staffWelcomeView{
		layout: layout{
			CompanyName: company,
			Subject:     subject,
			Name:        firstNonEmpty(p.FullName, item.RecipientName, "there"),
		},
		Email:    firstNonEmpty(p.Email, item.RecipientEmail),
		Password: firstNonEmpty(p.Password, placeholder),
		Role:     firstNonEmpty(p.Role, defaultStaffRole),
		Login:    link{URL: p.LoginURL, Label: "Open the staff dashboard"},
	}

	return execute("staff_welcome.html", v, subject, fromName, fromAddr)
}

type invoiceView struct {
	layout
	InvoiceNumber string
	Description   string
	Amount        string
	DueDate       string
	Pay           link
}

func renderInvoice(p models.InvoiceData, item models.QueueItem, s models.CompanySettings, company string) (Rendered, error) {
	fromName, fromAddr, err := invoiceSender(s, company)
	if err != nil {
		return Rendered{}, err
	}

	number := firstNonEmpty(p.InvoiceNumber, placeholder)
	subject := fmt.Sprintf("Invoice %s from %s", number, company)
	v := invoiceView{
		layout: layout{
			CompanyName: company,
			Subject:     subject,
			Name:        firstNonEmpty(p.StudentName, item.RecipientName, "there"),
		},
		InvoiceNumber: number,
		Description:   firstNonEmpty(p.Description, placeholder),
		Amount:        formatAmount(p.Amount, p.Currency),
		DueDate:       firstNonEmpty(p.DueDate, defaultDueDate),
		Pay:           link{URL: p.PaymentURL, Label: "Pay invoice"},
	}

	return execute("invoice.html", v, subject, fromName, fromAddr)
}

func execute(name string, view any, subject, fromName, fromAddr string) (Rendered, error) {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, name, view); err != nil {
		return Rendered{}, fmt.Errorf("template execution error: %w", err)
	}

	return Rendered{
		Subject:     subject,
		FromName:    fromName,
		FromAddress: fromAddr,
		HTML:        body.String(),
	}, nil
}

// lmsSender is the identity used for account and course mail.
func lmsSender(s models.CompanySettings, company string) (string, string, error) {
	addr := firstNonEmpty(s.LMSFromEmail, s.InvoiceFromEmail)
	if addr == "" {
		return "", "", fmt.Errorf("%w: sender address for LMS mail is not set", ErrInvalidConfig)
	}
	return firstNonEmpty(s.LMSFromName, company), addr, nil
}

// invoiceSender is the identity used for billing mail.
func invoiceSender(s models.CompanySettings, company string) (string, string, error) {
	addr := firstNonEmpty(s.InvoiceFromEmail, s.LMSFromEmail)
	if addr == "" {
		return "", "", fmt.Errorf("%w: sender address for invoice mail is not set", ErrInvalidConfig)
	}
	return firstNonEmpty(s.InvoiceFromName, company+" Billing"), addr, nil
}

func formatAmount(amount float64, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return fmt.Sprintf("%.2f", amount)
	}
	return fmt.Sprintf("%s %.2f", currency, amount)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
