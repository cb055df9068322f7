package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/JonMunkholm/moneyfest/internal/model"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// exportHeader is the AceMoney layout every export uses.
var exportHeader = []string{
	"transaction", "date", "payee", "category", "status",
	"withdrawal", "deposit", "total", "comment",
}

const exportDateLayout = "02.01.2006"

// Export writes records in the AceMoney layout, ISO-8859-1 encoded with CRLF
// line endings. The assigned category and note win over the values found
// in the original file, so exporting a parsed export reproduces it exactly.
func Export(w io.Writer, recs []model.Record) error {
	tw := transform.NewWriter(w, charmap.ISO8859_1.NewEncoder())

	cw := csv.NewWriter(tw)
	cw.UseCRLF = true

	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}

	for _, rec := range recs {
		if err := cw.Write(exportRow(rec)); err != nil {
			return fmt.Errorf("export: record %d: %w", rec.ID, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("export: encode: %w", err)
	}
	return nil
}

func exportRow(rec model.Record) []string {
	var withdrawal, deposit string
	if rec.Amount.IsNegative() {
		withdrawal = rec.Amount.Abs().StringFixed(2)
	} else {
		deposit = rec.Amount.StringFixed(2)
	}

	category := rec.Category
	if category == "" {
		category = rec.OriginalCategory
	}
	comment := rec.Note
	if comment == "" {
		comment = rec.OriginalComment
	}

	return []string{
		"",
		rec.Date.In(time.UTC).Format(exportDateLayout),
		latin1Safe(strings.TrimSpace(rec.Payee)),
		latin1Safe(CleanCell(category)),
		"",
		withdrawal,
		deposit,
		"",
		latin1Safe(strings.TrimSpace(comment)),
	}
}

// latin1Safe replaces runes ISO-8859-1 cannot represent with '?'.
func latin1Safe(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 0xFF {
			return '?'
		}
		return r
	}, s)
}
