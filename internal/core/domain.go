package core

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxNameLength = 50
	MaxNoteLength = 100
	// MaxAmountCents is RM 10,000.00.
	MaxAmountCents = 10000 * 100
)

type (
	// Recipient is one gift record. ID and DateAdded are assigned once at
	// insert time and never change afterwards.
	Recipient struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		Amount    Money     `json:"amount"`
		Note      string    `json:"note"`
		DuitnowID string    `json:"duitnowId,omitempty"`
		DateAdded time.Time `json:"dateAdded"`
	}

	// RecipientInput is the form data used to create a recipient.
	RecipientInput struct {
		Name      string
		Amount    Money
		Note      string
		DuitnowID string
	}

	// RecipientPatch carries the fields an update replaces. Nil fields keep
	// their previous value.
	RecipientPatch struct {
		Name      *string
		Amount    *Money
		Note      *string
		DuitnowID *string
	}
)

var (
	ErrEmptyName      = errors.New("name is required")
	ErrNameTooLong    = errors.New("name must be less than 50 characters")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrAmountTooLarge = errors.New("amount must be less than RM 10,000")
	// ErrAmountOutOfRange marks a decoded amount that does not fit in cents.
	ErrAmountOutOfRange = errors.New("amount out of range")
	ErrEmptyNote      = errors.New("note is required")
	ErrNoteTooLong    = errors.New("note must be less than 100 characters")
)

// CheckRequired reports whether the fields a stored record cannot live
// without are present. Length and range limits are Validate's job.
func (in RecipientInput) CheckRequired() error {
	if strings.TrimSpace(in.Name) == "" {
		return ErrEmptyName
	}
	if err := in.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(in.Note) == "" {
		return ErrEmptyNote
	}
	return nil
}

// Validate applies the full form rules.
func (in RecipientInput) Validate() error {
	if err := validateName(in.Name); err != nil {
		return err
	}
	if err := validateAmount(in.Amount); err != nil {
		return err
	}
	return validateNote(in.Note)
}

// Normalize trims surrounding whitespace from the text fields.
func (in RecipientInput) Normalize() RecipientInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Note = strings.TrimSpace(in.Note)
	in.DuitnowID = strings.TrimSpace(in.DuitnowID)
	return in
}

// IsEmpty reports whether the patch would change nothing.
func (p RecipientPatch) IsEmpty() bool {
	return p.Name == nil && p.Amount == nil && p.Note == nil && p.DuitnowID == nil
}

// Validate checks only the supplied fields.
func (p RecipientPatch) Validate() error {
	if p.Name != nil {
		if err := validateName(*p.Name); err != nil {
			return err
		}
	}
	if p.Amount != nil {
		if err := validateAmount(*p.Amount); err != nil {
			return err
		}
	}
	if p.Note != nil {
		if err := validateNote(*p.Note); err != nil {
			return err
		}
	}
	return nil
}

// Apply merges the patch into r. ID and DateAdded are carried over as is.
func (p RecipientPatch) Apply(r Recipient) Recipient {
	if p.Name != nil {
		r.Name = strings.TrimSpace(*p.Name)
	}
	if p.Amount != nil {
		r.Amount = *p.Amount
	}
	if p.Note != nil {
		r.Note = strings.TrimSpace(*p.Note)
	}
	if p.DuitnowID != nil {
		r.DuitnowID = strings.TrimSpace(*p.DuitnowID)
	}
	return r
}

// HasPaymentID reports whether a QR code can be generated for r.
func (r Recipient) HasPaymentID() bool {
	return strings.TrimSpace(r.DuitnowID) != ""
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

func validateAmount(m Money) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Cents > MaxAmountCents {
		return ErrAmountTooLarge
	}
	return nil
}

func validateNote(note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return ErrEmptyNote
	}
	if utf8.RuneCountInString(note) > MaxNoteLength {
		return ErrNoteTooLong
	}
	return nil
}
