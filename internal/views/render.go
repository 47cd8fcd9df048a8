package views

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"eduitraya/internal/core"
	"eduitraya/internal/stats"
)

// DateLayout is how dates appear on screen.
const DateLayout = "02/01/2006 15:04"

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// Table writes list as aligned columns followed by a total line.
func Table(w io.Writer, list []core.Recipient) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No recipients yet.")
		return err
	}

	tw := newTabWriter(w)
	fmt.Fprintln(tw, "ID\tNAME\tAMOUNT\tNOTE\tDUITNOW ID\tADDED")
	for _, r := range list {
		duitnow := r.DuitnowID
		if duitnow == "" {
			duitnow = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(r.ID), r.Name, r.Amount.Grouped(), r.Note, duitnow,
			r.DateAdded.Local().Format(DateLayout))
	}
	fmt.Fprintf(tw, "\t\t\t\t\t\n")
	fmt.Fprintf(tw, "\tTOTAL\t%s\t%s\t\t\n", core.Sum(list).Grouped(), humanize.Comma(int64(len(list)))+" recipients")
	return tw.Flush()
}

// Recipient writes one record in full.
func Recipient(w io.Writer, r core.Recipient) error {
	tw := newTabWriter(w)
	fmt.Fprintf(tw, "ID:\t%s\n", r.ID)
	fmt.Fprintf(tw, "Name:\t%s\n", r.Name)
	fmt.Fprintf(tw, "Amount:\t%s\n", r.Amount.Grouped())
	fmt.Fprintf(tw, "Note:\t%s\n", r.Note)
	if r.DuitnowID != "" {
		fmt.Fprintf(tw, "DuitNow ID:\t%s\n", r.DuitnowID)
	}
	fmt.Fprintf(tw, "Added:\t%s\n", r.DateAdded.Local().Format(DateLayout))
	return tw.Flush()
}

// Dashboard writes the summary figures, the amount distribution and the
// most recent additions relative to now.
func Dashboard(w io.Writer, s stats.Summary, now time.Time) error {
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "eDuit Raya")
	fmt.Fprintf(tw, "Recipients:\t%s\n", humanize.Comma(int64(s.Count)))
	fmt.Fprintf(tw, "Total given:\t%s\n", s.Total.Grouped())
	fmt.Fprintf(tw, "Average:\t%s\n", s.AverageLabel())
	fmt.Fprintf(tw, "Smallest:\t%s\n", s.Min.Grouped())
	fmt.Fprintf(tw, "Largest:\t%s\n", s.Max.Grouped())
	mode := "-"
	if s.HasMode {
		mode = s.Mode.Grouped()
	}
	fmt.Fprintf(tw, "Most common:\t%s\n", mode)
	fmt.Fprintf(tw, "Added in the last %d days:\t%d\n", stats.RecentDays, s.RecentCount)
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Distribution")
	tw = newTabWriter(w)
	for _, b := range s.Histogram.Buckets() {
		fmt.Fprintf(tw, "  %s\t%d\t%s\n", b.Label, b.Count, b.PercentLabel())
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Recent activity")
	if len(s.Recent) == 0 {
		_, err := fmt.Fprintln(w, "  Nothing added yet.")
		return err
	}
	tw = newTabWriter(w)
	for _, r := range s.Recent {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", r.Name, r.Amount.Grouped(), humanize.RelTime(r.DateAdded, now, "ago", "from now"))
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
