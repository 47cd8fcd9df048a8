package views

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"eduitraya/internal/core"
)

// MaxBulkCount caps one bulk add.
const MaxBulkCount = 500

// bulkWorkers bounds how many adds run at once.
const bulkWorkers = 8

var ErrInvalidBulk = errors.New("bulk add needs a positive amount and count")

// Preset is a common duit raya amount.
type Preset struct {
	Amount      core.Money
	Description string
}

// Label formats the amount, e.g. "RM 5".
func (p Preset) Label() string {
	if p.Amount.Cents%100 == 0 {
		return fmt.Sprintf("RM %d", p.Amount.Cents/100)
	}
	return p.Amount.Label()
}

var Presets = []Preset{
	{Amount: core.RM(5, 0), Description: "Children"},
	{Amount: core.RM(10, 0), Description: "Young relatives"},
	{Amount: core.RM(20, 0), Description: "Standard"},
	{Amount: core.RM(50, 0), Description: "Close family"},
	{Amount: core.RM(100, 0), Description: "Special"},
}

// FindPreset matches s against a preset description (case-insensitive) or
// its whole ringgit amount.
func FindPreset(s string) (Preset, bool) {
	s = strings.TrimSpace(s)
	for _, p := range Presets {
		if strings.EqualFold(p.Description, s) {
			return p, true
		}
	}
	if m, err := core.ParseMoney(s); err == nil {
		for _, p := range Presets {
			if p.Amount == m {
				return p, true
			}
		}
	}
	return Preset{}, false
}

// Adder is the part of store.Store the shortcuts need.
type Adder interface {
	Add(ctx context.Context, in core.RecipientInput) (core.Recipient, error)
	Len() int
}

// QuickAdd adds one placeholder recipient with the preset's amount; the
// description becomes the note.
func QuickAdd(ctx context.Context, a Adder, p Preset) (core.Recipient, error) {
	return a.Add(ctx, core.RecipientInput{
		Name:   placeholderName(a.Len() + 1),
		Amount: p.Amount,
		Note:   p.Description,
	})
}

// BulkAdd adds count placeholder recipients of amount concurrently. Names
// continue the current numbering; notes read "Bulk added (i/N)". The added
// records come back in numbering order; on error the ones that made it are
// still returned.
func BulkAdd(ctx context.Context, a Adder, amount core.Money, count int) ([]core.Recipient, error) {
	if count <= 0 || amount.Cents <= 0 {
		return nil, ErrInvalidBulk
	}
	if count > MaxBulkCount {
		return nil, fmt.Errorf("%w: at most %d at once", ErrInvalidBulk, MaxBulkCount)
	}

	base := a.Len() + 1
	added := make([]core.Recipient, count)
	ok := make([]bool, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkWorkers)
	for i := range count {
		g.Go(func() error {
			r, err := a.Add(gctx, core.RecipientInput{
				Name:   placeholderName(base + i),
				Amount: amount,
				Note:   fmt.Sprintf("Bulk added (%d/%d)", i+1, count),
			})
			if err != nil {
				return err
			}
			added[i], ok[i] = r, true
			return nil
		})
	}
	err := g.Wait()

	out := make([]core.Recipient, 0, count)
	for i := range added {
		if ok[i] {
			out = append(out, added[i])
		}
	}
	return out, err
}

func placeholderName(n int) string {
	return fmt.Sprintf("Recipient %d", n)
}
