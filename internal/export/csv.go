package export

import (
	"encoding/csv"
	"io"
)

// CSVSink writes the table as comma separated values.
type CSVSink struct{}

func (CSVSink) Format() Format { return CSV }

func (CSVSink) Write(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(t.Rows()); err != nil {
		return err
	}
	return cw.Error()
}
