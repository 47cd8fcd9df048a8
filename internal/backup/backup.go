// Package backup writes and validates full-collection backup files.
//
// A backup is a JSON document holding every recipient plus a little metadata.
// Restoring is two steps: Parse validates a file and returns a Plan, then the
// caller confirms and commits Plan.Valid through the store.
package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"eduitraya/internal/core"
)

// Version is written into every backup.
const Version = "1.0"

// MaxSize caps how much of a backup file Parse reads.
const MaxSize = 16 << 20

var (
	ErrInvalidFormat     = errors.New("invalid backup file format")
	ErrNoValidRecipients = errors.New("no valid recipients found in backup file")
)

// Reasons an entry is left out of a restore.
var (
	ErrNotObject    = errors.New("entry is not an object")
	ErrMissingID    = errors.New("id must be a non-empty string")
	ErrMissingName  = errors.New("name must be a non-empty string")
	ErrAmountNotNum = errors.New("amount must be a number")
	ErrAmountNotPos = errors.New("amount must be positive")
	ErrMissingNote  = errors.New("note must be a non-empty string")
	ErrDuplicateID  = errors.New("id already used by an earlier entry")
)

type (
	Document struct {
		Version    string           `json:"version"`
		ExportDate time.Time        `json:"exportDate"`
		Recipients []core.Recipient `json:"recipients"`
		Metadata   Metadata         `json:"metadata"`
	}

	Metadata struct {
		TotalRecipients int        `json:"totalRecipients"`
		TotalAmount     core.Money `json:"totalAmount"`
	}

	// Plan is the outcome of validating a backup. Nothing has been written
	// yet when a Plan exists.
	Plan struct {
		Version    string
		ExportDate time.Time
		Valid      []core.Recipient
		Rejected   []Rejection
	}

	// Rejection explains why the entry at Index was dropped.
	Rejection struct {
		Index  int
		ID     string
		Reason error
	}
)

func (r Rejection) Error() string {
	if r.ID != "" {
		return fmt.Sprintf("entry %d (%s): %v", r.Index, r.ID, r.Reason)
	}
	return fmt.Sprintf("entry %d: %v", r.Index, r.Reason)
}

// New builds a backup document for list. No validation is done.
func New(list []core.Recipient, now time.Time) Document {
	recipients := make([]core.Recipient, len(list))
	copy(recipients, list)
	return Document{
		Version:    Version,
		ExportDate: now.UTC(),
		Recipients: recipients,
		Metadata: Metadata{
			TotalRecipients: len(list),
			TotalAmount:     core.Sum(list),
		},
	}
}

// Encode writes doc as indented JSON.
func Encode(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	return nil
}

// FileName is the default backup file name for the given day.
func FileName(now time.Time) string {
	return "eduit-raya-backup-" + now.Format(time.DateOnly) + ".json"
}

// Parse validates a backup file. Entries that fail validation are listed in
// Plan.Rejected and left out of Plan.Valid.
func Parse(r io.Reader) (Plan, error) {
	return ParseAt(r, time.Now())
}

// ParseAt is Parse with an explicit clock, used to stamp entries that carry
// no dateAdded when the file has no exportDate either.
func ParseAt(r io.Reader, now time.Time) (Plan, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return Plan{}, fmt.Errorf("read backup: %w", err)
	}
	if len(data) > MaxSize {
		return Plan{}, fmt.Errorf("%w: file larger than %d bytes", ErrInvalidFormat, MaxSize)
	}

	var raw struct {
		Version    string          `json:"version"`
		ExportDate string          `json:"exportDate"`
		Recipients json.RawMessage `json:"recipients"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if !isArray(raw.Recipients) {
		return Plan{}, fmt.Errorf("%w: recipients must be an array", ErrInvalidFormat)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw.Recipients, &entries); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	plan := Plan{Version: raw.Version}
	fallback := now.UTC()
	if t, err := time.Parse(time.RFC3339Nano, raw.ExportDate); err == nil {
		plan.ExportDate = t
		fallback = t
	}

	seen := make(map[string]bool, len(entries))
	for i, entry := range entries {
		rec, err := parseEntry(entry, fallback)
		if err == nil && seen[rec.ID] {
			err = ErrDuplicateID
		}
		if err != nil {
			plan.Rejected = append(plan.Rejected, Rejection{Index: i, ID: rec.ID, Reason: err})
			continue
		}
		seen[rec.ID] = true
		plan.Valid = append(plan.Valid, rec)
	}

	if len(plan.Valid) == 0 {
		return plan, ErrNoValidRecipients
	}
	return plan, nil
}

// parseEntry keeps stricter rules than a plain field check: a blank id, a
// non-positive amount or one that does not fit in cents rejects the entry,
// since the stored list must satisfy the same invariants as added records.
// Duplicate ids are rejected by Parse.
func parseEntry(data json.RawMessage, fallback time.Time) (core.Recipient, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return core.Recipient{}, ErrNotObject
	}

	var rec core.Recipient
	id, ok := stringField(fields, "id")
	rec.ID = id
	if !ok || strings.TrimSpace(id) == "" {
		return rec, ErrMissingID
	}
	if rec.Name, ok = stringField(fields, "name"); !ok || strings.TrimSpace(rec.Name) == "" {
		return rec, ErrMissingName
	}
	amount, ok := fields["amount"]
	if !ok || !isNumber(amount) {
		return rec, ErrAmountNotNum
	}
	if err := json.Unmarshal(amount, &rec.Amount); err != nil {
		return rec, ErrAmountNotNum
	}
	if rec.Amount.Cents <= 0 {
		return rec, ErrAmountNotPos
	}
	if rec.Note, ok = stringField(fields, "note"); !ok || strings.TrimSpace(rec.Note) == "" {
		return rec, ErrMissingNote
	}
	rec.DuitnowID, _ = stringField(fields, "duitnowId")

	rec.DateAdded = fallback
	if s, ok := stringField(fields, "dateAdded"); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			rec.DateAdded = t
		}
	}
	return rec, nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := fields[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func isNumber(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	c := raw[0]
	return c == '-' || (c >= '0' && c <= '9')
}
