package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"lmsmail/internal/models"
)

// LoadSettings reads the singleton company_settings row.
func (s *Store) LoadSettings(ctx context.Context) (models.CompanySettings, error) {
	var (
		cs   models.CompanySettings
		port *int32
	)

	err := s.Pool.QueryRow(ctx,
		`SELECT company_name,
		        COALESCE(lms_from_name, ''), COALESCE(lms_from_email, ''),
		        COALESCE(invoice_from_name, ''), COALESCE(invoice_from_email, ''),
		        COALESCE(smtp_host, ''), smtp_port,
		        COALESCE(smtp_username, ''), COALESCE(smtp_password, ''),
		        COALESCE(smtp_secure, false)
		 FROM company_settings
		 ORDER BY created_at ASC
		 LIMIT 1`,
	).Scan(
		&cs.CompanyName,
		&cs.LMSFromName, &cs.LMSFromEmail,
		&cs.InvoiceFromName, &cs.InvoiceFromEmail,
		&cs.SMTPHost, &port,
		&cs.SMTPUsername, &cs.SMTPPassword,
		&cs.SMTPSecure,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return cs, fmt.Errorf("company settings: %w", ErrNotFound)
	}
	if err != nil {
		return cs, fmt.Errorf("load company settings: %w", err)
	}

	if port != nil {
		cs.SMTPPort = int(*port)
	}
	return cs, nil
}
