// Package gsheet publishes export tables to a Google Sheets tab.
package gsheet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"eduitraya/internal/export"
	"eduitraya/internal/log"
)

var ErrNotConfigured = errors.New("google sheets export not configured")

// Config selects the spreadsheet and the credentials used to reach it.
type Config struct {
	SpreadsheetID string
	SheetName     string
	// CredentialsJSON takes precedence over CredentialsFile.
	CredentialsJSON string
	CredentialsFile string
}

// ConfigFromEnv reads GOOGLE_SPREADSHEET_ID, GOOGLE_SHEET_NAME and the
// service account variables.
func ConfigFromEnv() Config {
	file := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	return Config{
		SpreadsheetID:   strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID")),
		SheetName:       strings.TrimSpace(os.Getenv("GOOGLE_SHEET_NAME")),
		CredentialsJSON: strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")),
		CredentialsFile: file,
	}
}

// Publisher replaces the contents of one sheet with an export table.
type Publisher struct {
	svc           *sheets.Service
	spreadsheetID string
	sheet         string
	logger        *log.Logger
}

// New authenticates with the service account in cfg.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Publisher, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("%w: missing GOOGLE_SPREADSHEET_ID", ErrNotConfigured)
	}
	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, cfg.SpreadsheetID, cfg.SheetName, logger), nil
}

// NewWithService wraps an existing Sheets service.
func NewWithService(svc *sheets.Service, spreadsheetID, sheet string, logger *log.Logger) *Publisher {
	if sheet == "" {
		sheet = export.SheetName
	}
	return &Publisher{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheet:         sheet,
		logger:        log.OrDiscard(logger).WithComponent(log.ComponentSheets),
	}
}

// newSheetsService initializes a Sheets service from service account
// credentials, inline JSON first and then a key file.
func newSheetsService(ctx context.Context, cfg Config) (*sheets.Service, error) {
	var credentialsJSON []byte
	switch {
	case cfg.CredentialsJSON != "":
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, fmt.Errorf("%w: missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)", ErrNotConfigured)
	}

	svc, err := sheets.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// Sheet returns the target tab name.
func (p *Publisher) Sheet() string { return p.sheet }

// Publish clears the sheet and writes the table rows from A1.
func (p *Publisher) Publish(ctx context.Context, t export.Table) error {
	if p.svc == nil {
		return errors.New("sheets service not initialized")
	}

	clearRange := p.quotedSheet() + "!A:E"
	if _, err := p.svc.Spreadsheets.Values.Clear(p.spreadsheetID, clearRange, &sheets.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		p.logFailure(ctx, err)
		return fmt.Errorf("clear sheet: %w", err)
	}

	rows := t.Rows()
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		values[i] = make([]interface{}, len(row))
		for j, v := range row {
			values[i][j] = v
		}
	}
	vr := &sheets.ValueRange{Values: values}
	if _, err := p.svc.Spreadsheets.Values.Update(p.spreadsheetID, p.quotedSheet()+"!A1", vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		p.logFailure(ctx, err)
		return fmt.Errorf("write sheet: %w", err)
	}

	p.logger.InfoContext(ctx, "Sheet published",
		log.FieldRecipientCount, t.Count(),
		"sheet", p.sheet)
	return nil
}

// quotedSheet quotes the tab name for A1 notation, doubling embedded quotes.
func (p *Publisher) quotedSheet() string {
	return "'" + strings.ReplaceAll(p.sheet, "'", "''") + "'"
}

func (p *Publisher) logFailure(ctx context.Context, err error) {
	p.logger.ErrorContext(ctx, "Sheet publish failed",
		log.NewFields().
			WithOperation(log.OpExport).
			WithErrorType(log.ErrorTypeNetwork).
			WithError(err).ToSlice()...)
}
