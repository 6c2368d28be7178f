package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <job_id>",
	Short: "Show recorded deliveries for a job (requires MYSQL_DSN)",
	Args:  cobra.ExactArgs(1),
	Run:   runHistory,
}

// init registers the history command.
func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(_ *cobra.Command, args []string) {
	ctx := context.Background()
	d, err := bootstrap(ctx)
	if err != nil {
		fatal(err)
	}
	defer d.Close()

	if d.history == nil {
		d.log.Fatal("Delivery history is disabled: MYSQL_DSN is not set")
	}
	entries, err := d.history.ListByJobID(ctx, args[0])
	if err != nil {
		d.log.Fatalf("Failed to read history: %v", err)
	}
	if len(entries) == 0 {
		fmt.Printf("no deliveries recorded for %s\n", args[0])
		return
	}
	for _, entry := range entries {
		fmt.Printf("%s entry=%s status=%d retry=%d message_id=%s error=%q\n",
			entry.CreatedAt.Format(time.RFC3339), entry.EntryID, entry.Status, entry.RetryCount, entry.MessageID, entry.Error)
	}
}
