package export

import (
	"fmt"
	"time"

	"eduitraya/internal/core"
)

// DateLayout is how dates appear in exported rows.
const DateLayout = "02/01/2006"

// Header is the column row of every tabular export.
var Header = []string{"Name", "Amount", "Note", "DuitNow ID", "Date Added"}

// Table is a snapshot laid out for export. It is built once per export and
// shared by every sink.
type Table struct {
	Recipients []core.Recipient
	Total      core.Money
	ExportDate time.Time
}

// NewTable captures list as of now. The list is copied.
func NewTable(list []core.Recipient, now time.Time) Table {
	recipients := make([]core.Recipient, len(list))
	copy(recipients, list)
	return Table{
		Recipients: recipients,
		Total:      core.Sum(list),
		ExportDate: now,
	}
}

// Count returns the number of recipients.
func (t Table) Count() int { return len(t.Recipients) }

// CountLabel is the count as the summary row shows it, e.g. "3 recipients".
func (t Table) CountLabel() string {
	return fmt.Sprintf("%d recipients", t.Count())
}

// Rows returns the header, one row per recipient, a blank separator and the
// TOTAL row.
func (t Table) Rows() [][]string {
	rows := make([][]string, 0, len(t.Recipients)+3)
	rows = append(rows, append([]string(nil), Header...))
	for _, r := range t.Recipients {
		rows = append(rows, []string{
			r.Name,
			r.Amount.Label(),
			r.Note,
			r.DuitnowID,
			r.DateAdded.Local().Format(DateLayout),
		})
	}
	rows = append(rows,
		make([]string, len(Header)),
		[]string{"TOTAL", t.Total.Label(), t.CountLabel(), "", t.ExportDate.Format(DateLayout)},
	)
	return rows
}
