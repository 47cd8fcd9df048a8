// Package qr renders payment QR codes for recipients. The payloads are
// placeholders, not the DuitNow wire format.
package qr

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"strings"
	"time"

	"eduitraya/internal/core"
	"eduitraya/internal/log"
)

var ErrMissingPaymentID = errors.New("duitnow id is required for a payment qr code")

const (
	PaymentSize = 150
	DuitNowSize = 200
)

var (
	// PaymentGreen is the foreground of payment codes (#16a34a).
	PaymentGreen = color.RGBA{R: 0x16, G: 0xa3, B: 0x4a, A: 0xff}
	White        = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	Black        = color.RGBA{A: 0xff}
)

// PaymentPayload builds "PAY:<name>:<amount>[:<id>]". The amount is written
// without trailing zeros, e.g. 10 or 10.5.
func PaymentPayload(name string, amount core.Money, id string) string {
	payload := "PAY:" + name + ":" + amount.Decimal().String()
	if id != "" {
		payload += ":" + id
	}
	return payload
}

type duitNowPayload struct {
	DuitnowID string     `json:"duitnowId"`
	Amount    core.Money `json:"amount"`
	Recipient string     `json:"recipient"`
	Timestamp time.Time  `json:"timestamp"`
}

// DuitNowPayload builds the JSON payload of a DuitNow style code.
func DuitNowPayload(id string, amount core.Money, name string, now time.Time) (string, error) {
	data, err := json.Marshal(duitNowPayload{
		DuitnowID: id,
		Amount:    amount,
		Recipient: name,
		Timestamp: now.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("encode duitnow payload: %w", err)
	}
	return string(data), nil
}

// Generator renders recipient codes with an Encoder.
type Generator struct {
	enc      Encoder
	now      func() time.Time
	captions bool
	logger   *log.Logger
}

// Option customises a Generator.
type Option func(*Generator)

func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithCaptions prints the recipient name and amount under payment codes.
func WithCaptions() Option {
	return func(g *Generator) { g.captions = true }
}

func WithLogger(logger *log.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger.WithComponent(log.ComponentQR)
		}
	}
}

// NewGenerator uses enc, or DefaultEncoder when enc is nil.
func NewGenerator(enc Encoder, opts ...Option) *Generator {
	if enc == nil {
		enc = DefaultEncoder()
	}
	g := &Generator{enc: enc, now: time.Now, logger: log.Discard()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// PaymentQR renders a green payment code for a recipient with a DuitNow id.
func (g *Generator) PaymentQR(name string, amount core.Money, id string) ([]byte, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrMissingPaymentID
	}
	opts := Options{Size: PaymentSize, Foreground: PaymentGreen, Background: White}
	if g.captions {
		opts.Caption = name + " - " + amount.Label()
	}
	return g.encode(PaymentPayload(name, amount, id), opts)
}

// RecipientQR is PaymentQR for a stored record.
func (g *Generator) RecipientQR(r core.Recipient) ([]byte, error) {
	return g.PaymentQR(r.Name, r.Amount, r.DuitnowID)
}

// DuitNowQR renders a black on white code carrying a JSON payload.
func (g *Generator) DuitNowQR(id string, amount core.Money, name string) ([]byte, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrMissingPaymentID
	}
	payload, err := DuitNowPayload(id, amount, name, g.now())
	if err != nil {
		return nil, err
	}
	return g.encode(payload, Options{Size: DuitNowSize, Foreground: Black, Background: White})
}

func (g *Generator) encode(payload string, opts Options) ([]byte, error) {
	data, err := g.enc.Encode(payload, opts)
	if err != nil {
		g.logger.Error("Failed to generate QR code",
			log.NewFields().
				WithOperation(log.OpEncode).
				WithErrorType(log.ErrorTypeInternal).
				WithError(err).ToSlice()...)
		return nil, fmt.Errorf("generate qr code: %w", err)
	}
	return data, nil
}
