package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/JonMunkholm/moneyfest/internal/ingest"
	"github.com/JonMunkholm/moneyfest/internal/model"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newInspectCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Detect a statement's format and preview its records without uploading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			return runInspect(cmd.OutOrStdout(), raw, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "records to show (0 for all)")
	return cmd
}

func runInspect(out io.Writer, raw []byte, limit int) error {
	desc, res, err := ingest.DetectAndParse(raw)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Format:    %s\n", desc.Kind)
	fmt.Fprintf(out, "Encoding:  %s\n", desc.Encoding)
	fmt.Fprintf(out, "Delimiter: %q\n", desc.Delimiter)
	fmt.Fprintf(out, "Records:   %d\n", len(res.Records))

	dates := make([]civil.Date, 0, len(res.Records))
	for _, r := range res.Records {
		dates = append(dates, r.Date)
	}
	if from, to, ok := ingest.DateRange(dates); ok {
		fmt.Fprintf(out, "Period:    %s to %s\n", from, to)
	}

	if w := res.Warning(); w != nil {
		fmt.Fprintf(out, "Skipped:   %s\n", w.Error())
		for _, s := range w.Rows {
			fmt.Fprintf(out, "  row %d: %s\n", s.Row, s.Reason)
		}
	}
	fmt.Fprintln(out)

	recs := res.Records
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	renderRecords(out, recs)
	if len(recs) < len(res.Records) {
		fmt.Fprintf(out, "... %d more\n", len(res.Records)-len(recs))
	}
	return nil
}

func renderRecords(out io.Writer, recs []model.Record) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"#", "Date", "Payee", "Amount", "Category"})
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_LEFT,
	})

	for _, r := range recs {
		category := r.Category
		if category == "" {
			category = r.OriginalCategory
		}
		table.Append([]string{
			strconv.Itoa(r.Seq),
			r.Date.String(),
			r.Payee,
			r.Amount.StringFixed(2),
			category,
		})
	}
	table.Render()
}
