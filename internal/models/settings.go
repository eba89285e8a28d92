package models

// CompanySettings is the singleton settings row read by the drainer.
type CompanySettings struct {
	CompanyName string `json:"company_name" yaml:"company_name"`

	LMSFromName      string `json:"lms_from_name" yaml:"lms_from_name"`
	LMSFromEmail     string `json:"lms_from_email" yaml:"lms_from_email"`
	InvoiceFromName  string `json:"invoice_from_name" yaml:"invoice_from_name"`
	InvoiceFromEmail string `json:"invoice_from_email" yaml:"invoice_from_email"`

	SMTPHost     string `json:"smtp_host" yaml:"smtp_host"`
	SMTPPort     int    `json:"smtp_port" yaml:"smtp_port"`
	SMTPUsername string `json:"smtp_username" yaml:"smtp_username"`
	SMTPPassword string `json:"-" yaml:"smtp_password"`
	SMTPSecure   bool   `json:"smtp_secure" yaml:"smtp_secure"`
}

// HasSMTP reports whether host, username and password are all present.
func (s CompanySettings) HasSMTP() bool {
	return s.SMTPHost != "" && s.SMTPUsername != "" && s.SMTPPassword != ""
}
