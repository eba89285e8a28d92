package csvparser

import (
	"encoding/csv"
	"errors"
	"io"
	"net/mail"
	"strings"
)

var (
	ErrEmptyHeader   = errors.New("csv header row is empty")
	ErrNoEmailColumn = errors.New("csv must contain an Email column")
	ErrNoRows        = errors.New("csv must contain at least one data row")
)

// RecipientRow represents a single recipient extracted from a CSV.
// Email is taken from the "Email" column (case-insensitive); DisplayName is
// the name part of a cell like "Jane Doe <jane@example.com>".
// Line is the physical line the record starts on.
// Fields contains all other columns keyed by lower-cased header.
type RecipientRow struct {
	Line        int
	Email       string
	DisplayName string
	Fields      map[string]string
}

// ParseStats counts the data rows that did not become recipients.
type ParseStats struct {
	// Skipped rows had the wrong column count or no valid address.
	Skipped int
	// Overflow rows came after the first maxRows recipients.
	Overflow int
}

// ParseRecipientRows parses a CSV from an io.Reader. The CSV must contain a header row
// with an "Email" column (case-insensitive). Rows with the wrong column count or
// without a valid address are skipped and counted. Email holds the bare address
// even when the cell carries a display name.
//
// maxRows limits how many rows are returned (excluding header); the rest are
// read and counted as overflow.
func ParseRecipientRows(r io.Reader, maxRows int) ([]RecipientRow, ParseStats, error) {
	var stats ParseStats

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, stats, ErrEmptyHeader
	}
	if err != nil {
		return nil, stats, err
	}

	emailIdx := -1
	normalized := make([]string, len(headers))
	for i, h := range headers {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		normalized[i] = h
		if h == "email" {
			emailIdx = i
		}
	}
	if len(headers) == 1 && normalized[0] == "" {
		return nil, stats, ErrEmptyHeader
	}
	if emailIdx == -1 {
		return nil, stats, ErrNoEmailColumn
	}

	if maxRows <= 0 {
		maxRows = 1000
	}

	rows := make([]RecipientRow, 0)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, err
		}

		if len(rows) >= maxRows {
			stats.Overflow++
			continue
		}

		if len(record) != len(headers) {
			// skip malformed row
			stats.Skipped++
			continue
		}

		addr, err := mail.ParseAddress(strings.TrimSpace(record[emailIdx]))
		if err != nil {
			stats.Skipped++
			continue
		}

		fields := make(map[string]string, len(headers)-1)
		for i := range record {
			if i == emailIdx {
				continue
			}
			key := normalized[i]
			if key == "" {
				continue
			}
			fields[key] = strings.TrimSpace(record[i])
		}

		line, _ := reader.FieldPos(0)
		rows = append(rows, RecipientRow{
			Line:        line,
			Email:       addr.Address,
			DisplayName: addr.Name,
			Fields:      fields,
		})
	}

	if len(rows) == 0 {
		return nil, stats, ErrNoRows
	}

	return rows, stats, nil
}
