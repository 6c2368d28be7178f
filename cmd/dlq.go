package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-mailer/app/lock"
	"github.com/vibast-solutions/ms-go-mailer/app/queue"
)

var (
	dlqListStart string
	dlqListCount int64
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay dead-lettered emails",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print DLQ records as JSON lines",
	Args:  cobra.NoArgs,
	Run:   runDLQList,
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print pending and dead-lettered entry counts",
	Args:  cobra.NoArgs,
	Run:   runDLQStats,
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay <entry_id>...",
	Short: "Re-enqueue dead-lettered jobs with a fresh retry budget",
	Args:  cobra.MinimumNArgs(1),
	Run:   runDLQReplay,
}

// init registers dlq subcommands.
func init() {
	dlqListCmd.Flags().StringVar(&dlqListStart, "start", "-", "first DLQ entry ID to list")
	dlqListCmd.Flags().Int64Var(&dlqListCount, "count", 50, "maximum number of records")
	dlqCmd.AddCommand(dlqListCmd, dlqStatsCmd, dlqReplayCmd)
	rootCmd.AddCommand(dlqCmd)
}

func newDeadLetterQueue(d *deps) (*queue.DeadLetterQueue, error) {
	locker, err := lock.New(d.cfg.LockBackend, d.rdb, d.db)
	if err != nil {
		return nil, err
	}
	return queue.NewDeadLetterQueue(d.stream(), locker, d.cfg.DLQStreamName, d.cfg.StreamName, d.log), nil
}

func runDLQList(_ *cobra.Command, _ []string) {
	ctx := context.Background()
	d, err := bootstrap(ctx)
	if err != nil {
		fatal(err)
	}
	defer d.Close()

	dlq, err := newDeadLetterQueue(d)
	if err != nil {
		d.log.Fatalf("Failed to build DLQ: %v", err)
	}
	letters, err := dlq.List(ctx, dlqListStart, dlqListCount)
	if err != nil {
		d.log.Fatalf("Failed to list DLQ: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, letter := range letters {
		record := struct {
			EntryID string `json:"entry_id"`
			queue.DeadLetter
		}{EntryID: letter.EntryID, DeadLetter: letter}
		if err := enc.Encode(record); err != nil {
			d.log.Fatalf("Failed to write record: %v", err)
		}
	}
}

func runDLQReplay(_ *cobra.Command, args []string) {
	ctx := context.Background()
	d, err := bootstrap(ctx)
	if err != nil {
		fatal(err)
	}
	defer d.Close()

	dlq, err := newDeadLetterQueue(d)
	if err != nil {
		d.log.Fatalf("Failed to build DLQ: %v", err)
	}
	result, err := dlq.Replay(ctx, args)
	if err != nil {
		d.log.Fatalf("Replay failed: %v", err)
	}

	for dlqID, entryID := range result.Replayed {
		fmt.Printf("replayed %s -> %s\n", dlqID, entryID)
	}
	for _, id := range result.Skipped {
		fmt.Printf("skipped %s (no replayable job)\n", id)
	}
	for _, id := range result.Missing {
		fmt.Printf("missing %s\n", id)
	}
}

func runDLQStats(_ *cobra.Command, _ []string) {
	ctx := context.Background()
	d, err := bootstrap(ctx)
	if err != nil {
		fatal(err)
	}
	defer d.Close()

	stream := d.stream()
	pending, err := stream.PendingCount(ctx, d.cfg.StreamName, d.cfg.ConsumerGroup)
	if err != nil {
		d.log.Fatalf("Failed to read pending count: %v", err)
	}
	dead, err := stream.Length(ctx, d.cfg.DLQStreamName)
	if err != nil {
		d.log.Fatalf("Failed to read DLQ length: %v", err)
	}

	fmt.Printf("%s pending (group %s): %d\n", d.cfg.StreamName, d.cfg.ConsumerGroup, pending)
	fmt.Printf("%s entries: %d\n", d.cfg.DLQStreamName, dead)
}
