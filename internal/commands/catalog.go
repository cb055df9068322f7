package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/JonMunkholm/moneyfest/internal/model"
	"github.com/JonMunkholm/moneyfest/internal/rules"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// ----------------------------------------------------------------------------
// Categories
// ----------------------------------------------------------------------------

func newCategoriesCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "List or import categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cats []model.Category
			if err := g.client().getJSON(cmd.Context(), "/api/categories", &cats); err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Category", "Used"})
			table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
			for _, c := range cats {
				table.Append([]string{c.FullPath, strconv.FormatUint(c.Usage, 10)})
			}
			table.Render()
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Add every category in a catalog file, one Parent:Child path per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			data, err := g.client().do(cmd.Context(), http.MethodPost, "/api/categories/import", bytes.NewReader(raw), "text/plain")
			if err != nil {
				return err
			}

			var res struct {
				Added int `json:"added"`
				Total int `json:"total"`
			}
			if err := json.Unmarshal(data, &res); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %d categories (%d total)\n", res.Added, res.Total)
			return nil
		},
	})

	return cmd
}

// ----------------------------------------------------------------------------
// Rules
// ----------------------------------------------------------------------------

func newRulesCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List, export or import categorisation rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rs []model.Rule
			if err := g.client().getJSON(cmd.Context(), "/api/rules", &rs); err != nil {
				return err
			}
			renderRules(cmd.OutOrStdout(), rs)
			return nil
		},
	}

	var output string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write all rules as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := g.client().do(cmd.Context(), http.MethodGet, "/api/rules/export", nil, "")
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output, data)
		},
	}
	export.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	var dryRun bool
	imp := &cobra.Command{
		Use:   "import <file>",
		Short: "Create every rule in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			// Validate locally first for a precise error.
			rs, err := rules.ReadFile(bytes.NewReader(raw))
			if err != nil {
				return err
			}
			if dryRun {
				renderRules(cmd.OutOrStdout(), rs)
				return nil
			}

			data, err := g.client().do(cmd.Context(), http.MethodPost, "/api/rules/import", bytes.NewReader(raw), "application/yaml")
			if err != nil {
				return err
			}
			var res struct {
				Imported int `json:"imported"`
			}
			if err := json.Unmarshal(data, &res); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rules\n", res.Imported)
			return nil
		},
	}
	imp.Flags().BoolVar(&dryRun, "dry-run", false, "validate and print the rules without sending them")

	cmd.AddCommand(export, imp)
	return cmd
}

func renderRules(out io.Writer, rs []model.Rule) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"ID", "Pattern", "Match", "Category", "By"})
	table.SetAutoWrapText(false)
	for _, r := range rs {
		id := ""
		if r.ID != 0 {
			id = strconv.FormatInt(r.ID, 10)
		}
		table.Append([]string{id, r.Pattern, r.Mode, r.Category, r.CreatedBy})
	}
	table.Render()
}
