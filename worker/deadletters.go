package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	listOffset int64
	listLimit  int64
	listJSON   bool
)

var deadLettersCmd = &cobra.Command{
	Use:     "deadletters",
	Aliases: []string{"dlq"},
	Short:   "Inspect and replay terminally failed jobs",
}

var deadLettersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-letter records, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		_, p, release, err := setup(ctx)
		if err != nil {
			return err
		}
		defer release()

		records, err := p.DeadLetters.List(ctx, listOffset, listLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if listJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "INDEX\tTIMESTAMP\tJOB\tATTEMPTS\tOBJECT\tREASON")
		for i, r := range records {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
				listOffset+int64(i), r.Timestamp.Format(time.RFC3339), r.JobID, r.Attempts, r.ObjectName, r.Reason)
		}
		return tw.Flush()
	},
}

var deadLettersReplayCmd = &cobra.Command{
	Use:   "replay <index>",
	Short: "Enqueue a fresh job for a dead-letter record",
	Long:  "Enqueue a fresh create_thumbnail job for the source object of the record at index. The record stays in the log.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || index < 0 {
			return fmt.Errorf("invalid index %q", args[0])
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		_, p, release, err := setup(ctx)
		if err != nil {
			return err
		}
		defer release()

		record, err := p.DeadLetters.Get(ctx, index)
		if err != nil {
			return err
		}
		id, err := p.Dispatcher.Replay(ctx, *record)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "replayed %s as job %s\n", record.ObjectName, id)
		return nil
	},
}

func init() {
	deadLettersListCmd.Flags().Int64Var(&listOffset, "offset", 0, "index of the first record")
	deadLettersListCmd.Flags().Int64Var(&listLimit, "limit", 50, "maximum number of records, 0 for all")
	deadLettersListCmd.Flags().BoolVar(&listJSON, "json", false, "print records as JSON")

	deadLettersCmd.AddCommand(deadLettersListCmd)
	deadLettersCmd.AddCommand(deadLettersReplayCmd)
}
