package models

// Payload is the typed template_data of a queue item. Each email type has
// exactly one payload shape.
type Payload interface {
	EmailType() EmailType
}

// StudentWelcomeData carries the login credentials of a newly enrolled student.
type StudentWelcomeData struct {
	StudentName string `json:"student_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	MemberID    string `json:"member_id,omitempty"`
	CourseName  string `json:"course_name,omitempty"`
	LoginURL    string `json:"login_url,omitempty"`
}

func (StudentWelcomeData) EmailType() EmailType { return EmailTypeStudentWelcome }

// StaffWelcomeData carries the login credentials of a new mentor or admin.
type StaffWelcomeData struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
	LoginURL string `json:"login_url,omitempty"`
}

func (StaffWelcomeData) EmailType() EmailType { return EmailTypeStaffWelcome }

// InvoiceData describes an invoice that is ready for payment.
type InvoiceData struct {
	InvoiceNumber string  `json:"invoice_number"`
	StudentName   string  `json:"student_name"`
	Description   string  `json:"description,omitempty"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency,omitempty"`
	DueDate       string  `json:"due_date,omitempty"`
	PaymentURL    string  `json:"payment_url,omitempty"`
}

func (InvoiceData) EmailType() EmailType { return EmailTypeInvoice }
