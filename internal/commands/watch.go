package commands

import (
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/JonMunkholm/moneyfest/internal/synchub"
	"github.com/spf13/cobra"
)

func newWatchCommand(g *globals) *cobra.Command {
	var heartbeat time.Duration

	cmd := &cobra.Command{
		Use:   "watch <batch-id>...",
		Short: "Follow live categorisation changes for one or more batches",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groups := make([]int64, len(args))
			for i, a := range args {
				id, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid batch id %q", a)
				}
				groups[i] = id
			}

			api := g.client()
			wsURL, err := api.wsURL()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			client := &synchub.Client{
				URL:       wsURL,
				Header:    api.header(),
				Groups:    groups,
				Heartbeat: heartbeat,
				OnConnect: func() { fmt.Fprintf(out, "connected to %s\n", wsURL) },
			}

			// Run only returns once ctx is done.
			_ = client.Run(ctx, func(m synchub.Message) { printEvent(out, m) })
			return nil
		},
	}

	cmd.Flags().DurationVar(&heartbeat, "heartbeat", 30*time.Second, "ping interval, 0 to disable")
	return cmd
}

// printEvent writes one line per hub message.
func printEvent(out io.Writer, m synchub.Message) {
	ts := time.Now().Format(time.TimeOnly)
	switch m.Type {
	case synchub.TypeRecordMutated:
		if m.Record == nil {
			return
		}
		r := m.Record
		category := r.Category
		if category == "" {
			category = "(cleared)"
		}
		fmt.Fprintf(out, "%s batch %d: %s %s %s -> %s by %s\n",
			ts, m.Group, r.Date, r.Payee, r.Amount.StringFixed(2), category, r.AssignedBy)
	case synchub.TypeProgressChanged:
		if m.Done != nil && m.Total != nil {
			fmt.Fprintf(out, "%s batch %d: %d/%d categorised\n", ts, m.Group, *m.Done, *m.Total)
		}
	case synchub.TypeGroupComplete:
		fmt.Fprintf(out, "%s batch %d: complete\n", ts, m.Group)
	case synchub.TypeSubscribed:
		fmt.Fprintf(out, "%s watching batch %d\n", ts, m.Group)
	case synchub.TypeError:
		fmt.Fprintf(out, "%s error: %s\n", ts, m.Message)
	}
}
