// Package views shapes recipient snapshots for the terminal: filtering and
// sorting, the list table, the dashboard and the quick add shortcuts.
package views

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"eduitraya/internal/core"
)

type SortField string

const (
	SortName   SortField = "name"
	SortAmount SortField = "amount"
	SortDate   SortField = "date"
)

type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// Query is a search term plus an ordering. The zero value sorts by name,
// ascending, without filtering.
type Query struct {
	Search string
	SortBy SortField
	Order  Order
}

func ParseSortField(s string) (SortField, error) {
	switch f := SortField(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return SortName, nil
	case SortName, SortAmount, SortDate:
		return f, nil
	default:
		return "", fmt.Errorf("unknown sort field %q: use name, amount or date", s)
	}
}

func ParseOrder(s string) (Order, error) {
	switch o := Order(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return Asc, nil
	case Asc, Desc:
		return o, nil
	default:
		return "", fmt.Errorf("unknown sort order %q: use asc or desc", s)
	}
}

// Filter returns the recipients whose name or note contains the search
// term, case-insensitively, in the requested order. list is not modified.
// Ties keep their stored order.
func Filter(list []core.Recipient, q Query) []core.Recipient {
	term := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]core.Recipient, 0, len(list))
	for _, r := range list {
		if term == "" ||
			strings.Contains(strings.ToLower(r.Name), term) ||
			strings.Contains(strings.ToLower(r.Note), term) {
			out = append(out, r)
		}
	}

	compare := func(a, b core.Recipient) int {
		switch q.SortBy {
		case SortAmount:
			return cmp.Compare(a.Amount.Cents, b.Amount.Cents)
		case SortDate:
			return a.DateAdded.Compare(b.DateAdded)
		default:
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}
	}
	if q.Order == Desc {
		slices.SortStableFunc(out, func(a, b core.Recipient) int { return compare(b, a) })
	} else {
		slices.SortStableFunc(out, compare)
	}
	return out
}
