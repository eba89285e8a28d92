package csvparser

import (
	"io"
	"os"

	"lmsmail/internal/models"
)

// Header aliases accepted for each student column, lower-cased.
var (
	nameColumns     = []string{"name", "full name", "full_name", "student name", "student_name"}
	passwordColumns = []string{"password", "temporary password", "temp_password"}
	memberIDColumns = []string{"member id", "member_id", "memberid"}
	courseColumns   = []string{"course", "course name", "course_name", "pathway"}
)

// StudentRow is one student of a bulk import.
type StudentRow struct {
	Line       int
	Email      string
	Name       string
	Password   string
	MemberID   string
	CourseName string
}

// WelcomeData is the student_welcome payload for the row.
func (s StudentRow) WelcomeData(loginURL string) models.StudentWelcomeData {
	return models.StudentWelcomeData{
		StudentName: s.Name,
		Email:       s.Email,
		Password:    s.Password,
		MemberID:    s.MemberID,
		CourseName:  s.CourseName,
		LoginURL:    loginURL,
	}
}

// ImportBatch is the outcome of parsing a student CSV.
type ImportBatch struct {
	Students []StudentRow
	Skipped  int
	Overflow int
}

func ParseStudents(r io.Reader, maxRows int) (ImportBatch, error) {
	rows, stats, err := ParseRecipientRows(r, maxRows)
	if err != nil {
		return ImportBatch{Skipped: stats.Skipped, Overflow: stats.Overflow}, err
	}

	batch := ImportBatch{
		Students: make([]StudentRow, 0, len(rows)),
		Skipped:  stats.Skipped,
		Overflow: stats.Overflow,
	}
	for _, row := range rows {
		batch.Students = append(batch.Students, StudentRow{
			Line:       row.Line,
			Email:      row.Email,
			Name:       firstNonEmpty(lookup(row.Fields, nameColumns), row.DisplayName),
			Password:   lookup(row.Fields, passwordColumns),
			MemberID:   lookup(row.Fields, memberIDColumns),
			CourseName: lookup(row.Fields, courseColumns),
		})
	}
	return batch, nil
}

// ParseStudentsFile parses the student CSV at path.
func ParseStudentsFile(path string, maxRows int) (ImportBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportBatch{}, err
	}
	defer f.Close()

	return ParseStudents(f, maxRows)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func lookup(fields map[string]string, keys []string) string {
	for _, k := range keys {
		if v := fields[k]; v != "" {
			return v
		}
	}
	return ""
}
