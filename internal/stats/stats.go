// Package stats derives aggregates from a recipient list. Nothing here is
// stored; every value is recomputed from the list it is given.
package stats

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"eduitraya/internal/core"
)

const (
	// LowMaxCents and MediumMaxCents are the inclusive upper bounds of the
	// low and medium amount ranges.
	LowMaxCents    = 20 * 100
	MediumMaxCents = 100 * 100

	// RecentDays is how many calendar days back RecentCount looks.
	RecentDays = 7

	// RecentActivityLimit is how many entries the dashboard lists.
	RecentActivityLimit = 5
)

var hundred = decimal.NewFromInt(100)

// Total sums every amount.
func Total(list []core.Recipient) core.Money {
	return core.Sum(list)
}

// Average is the exact mean in ringgit, zero for an empty list. Round it for
// display.
func Average(list []core.Recipient) decimal.Decimal {
	if len(list) == 0 {
		return decimal.Zero
	}
	return Total(list).Decimal().Div(decimal.NewFromInt(int64(len(list))))
}

// Min returns the smallest amount, zero for an empty list.
func Min(list []core.Recipient) core.Money {
	if len(list) == 0 {
		return core.Money{}
	}
	m := list[0].Amount
	for _, r := range list[1:] {
		if r.Amount.Cents < m.Cents {
			m = r.Amount
		}
	}
	return m
}

// Max returns the largest amount, zero for an empty list.
func Max(list []core.Recipient) core.Money {
	if len(list) == 0 {
		return core.Money{}
	}
	m := list[0].Amount
	for _, r := range list[1:] {
		if r.Amount.Cents > m.Cents {
			m = r.Amount
		}
	}
	return m
}

// Bucket is one amount range of the histogram.
type Bucket struct {
	Name  string
	Label string
	Count int
	// Percent of all recipients, exact; zero for an empty list.
	Percent decimal.Decimal
}

// PercentLabel formats the share with one decimal, e.g. "33.3%".
func (b Bucket) PercentLabel() string {
	return b.Percent.StringFixed(1) + "%"
}

// Distribution splits recipients into amount ranges.
type Distribution struct {
	Low    Bucket
	Medium Bucket
	High   Bucket
}

// Buckets returns the ranges in ascending order.
func (h Distribution) Buckets() []Bucket {
	return []Bucket{h.Low, h.Medium, h.High}
}

// Histogram groups the list into amounts up to RM 20, up to RM 100 and
// above RM 100.
func Histogram(list []core.Recipient) Distribution {
	h := Distribution{
		Low:    Bucket{Name: "low", Label: "RM 1 - RM 20"},
		Medium: Bucket{Name: "medium", Label: "RM 21 - RM 100"},
		High:   Bucket{Name: "high", Label: "RM 100+"},
	}
	for _, r := range list {
		switch c := r.Amount.Cents; {
		case c <= LowMaxCents:
			h.Low.Count++
		case c <= MediumMaxCents:
			h.Medium.Count++
		default:
			h.High.Count++
		}
	}
	h.Low.Percent = share(h.Low.Count, len(list))
	h.Medium.Percent = share(h.Medium.Count, len(list))
	h.High.Percent = share(h.High.Count, len(list))
	return h
}

func share(count, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(count)).Mul(hundred).Div(decimal.NewFromInt(int64(total)))
}

// RecentCount counts entries added at or after now minus seven days.
func RecentCount(list []core.Recipient, now time.Time) int {
	cutoff := now.AddDate(0, 0, -RecentDays)
	n := 0
	for _, r := range list {
		if !r.DateAdded.Before(cutoff) {
			n++
		}
	}
	return n
}

// Mode returns the most frequent amount. On a tie the amount that appears
// first in the list wins. ok is false for an empty list.
func Mode(list []core.Recipient) (amount core.Money, ok bool) {
	counts := make(map[int64]int, len(list))
	best, bestCount := int64(0), 0
	for _, r := range list {
		counts[r.Amount.Cents]++
	}
	for _, r := range list {
		if c := counts[r.Amount.Cents]; c > bestCount {
			best, bestCount = r.Amount.Cents, c
		}
	}
	return core.Money{Cents: best}, bestCount > 0
}

// Recent returns up to n entries, newest first. The input is not modified.
func Recent(list []core.Recipient, n int) []core.Recipient {
	out := make([]core.Recipient, len(list))
	copy(out, list)
	slices.SortStableFunc(out, func(a, b core.Recipient) int {
		return b.DateAdded.Compare(a.DateAdded)
	})
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Summary holds every aggregate the dashboard shows.
type Summary struct {
	Count       int
	Total       core.Money
	Average     decimal.Decimal
	Min         core.Money
	Max         core.Money
	Histogram   Distribution
	RecentCount int
	Mode        core.Money
	HasMode     bool
	Recent      []core.Recipient
}

// AverageLabel formats the average rounded to two decimals, e.g. "RM 56.67".
func (s Summary) AverageLabel() string {
	return "RM " + s.Average.StringFixed(2)
}

func Summarize(list []core.Recipient, now time.Time) Summary {
	mode, ok := Mode(list)
	return Summary{
		Count:       len(list),
		Total:       Total(list),
		Average:     Average(list),
		Min:         Min(list),
		Max:         Max(list),
		Histogram:   Histogram(list),
		RecentCount: RecentCount(list, now),
		Mode:        mode,
		HasMode:     ok,
		Recent:      Recent(list, RecentActivityLimit),
	}
}
