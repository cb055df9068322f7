package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/JonMunkholm/moneyfest/internal/core"
	"github.com/JonMunkholm/moneyfest/internal/model"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newUploadCommand(g *globals) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a statement as a new batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer f.Close()

			body, contentType, err := multipartFile(filepath.Base(args[0]), name, f)
			if err != nil {
				return err
			}

			data, err := g.client().do(cmd.Context(), http.MethodPost, "/api/batches", body, contentType)
			if err != nil {
				return err
			}

			var res core.IngestResult
			if err := json.Unmarshal(data, &res); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created batch %d %q: %d records (%s, %s)\n",
				res.Batch.ID, res.Batch.Name, res.Batch.Total, res.Format.Kind, res.Format.Encoding)
			if res.Warning != nil {
				fmt.Fprintf(out, "Warning: %s\n", res.Warning.Error())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "batch name (defaults to the file name)")
	return cmd
}

// multipartFile builds an upload body with a "file" part and an optional
// "name" field.
func multipartFile(filename, name string, r io.Reader) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, "", fmt.Errorf("reading file: %w", err)
	}
	if name != "" {
		if err := mw.WriteField("name", name); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func newBatchesCommand(g *globals) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List batches and their progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/batches"
			if status != "" {
				path += "?status=" + status
			}

			var batches []model.Batch
			if err := g.client().getJSON(cmd.Context(), path, &batches); err != nil {
				return err
			}
			renderBatches(cmd.OutOrStdout(), batches)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status: in_progress, complete, archived")
	return cmd
}

func renderBatches(out io.Writer, batches []model.Batch) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"ID", "Name", "Status", "Period", "Progress", "By"})
	table.SetAutoWrapText(false)

	for _, b := range batches {
		table.Append([]string{
			strconv.FormatInt(b.ID, 10),
			b.Name,
			b.Status,
			fmt.Sprintf("%s to %s", b.DateFrom, b.DateTo),
			fmt.Sprintf("%d/%d (%d%%)", b.Categorized, b.Total, b.Progress().Percent()),
			b.CreatedBy,
		})
	}
	table.Render()
}

func newExportCommand(g *globals) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <batch-id>",
		Short: "Download a batch as an AceMoney CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid batch id %q", args[0])
			}

			data, err := g.client().do(cmd.Context(), http.MethodGet, fmt.Sprintf("/api/batches/%d/export", id), nil, "")
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output, data)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

// writeOutput writes data to path, or to out when path is empty or "-".
func writeOutput(out io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := out.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
