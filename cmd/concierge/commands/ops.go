package commands

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/conciergehq/concierge/pkg/concierge/config"
	"github.com/conciergehq/concierge/pkg/concierge/pending"
)

// newOpsCmd creates the `concierge ops` command for offline snapshot
// inspection and cleanup.
func newOpsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Inspect the pending-operation snapshot",
		Long: `Read the operation snapshot on disk and print a status summary without
starting the bot. With --cleanup, also evict resolved operations past
their retention windows and write the pruned snapshot back.

Examples:
  concierge ops
  concierge ops --cleanup`,
		RunE: runOps,
	}

	cmd.Flags().Bool("cleanup", false, "prune resolved operations past retention")
	return cmd
}

func runOps(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Pending.SnapshotFile == "" {
		return fmt.Errorf("persistence is disabled (pending.snapshot_file is empty)")
	}

	logger := newLogger(cmd)
	snapshotPath := filepath.Join(cfg.DataDir, cfg.Pending.SnapshotFile)

	cleanup, _ := cmd.Flags().GetBool("cleanup")
	if cleanup {
		// Opening a store against the snapshot restores it (expiring any
		// operations whose windows lapsed while the bot was down); Close
		// writes the pruned state back.
		store := pending.NewStore(pending.Options{SnapshotPath: snapshotPath}, logger)
		result := store.ForceCleanup()
		stats := store.GetStatistics()
		store.Close()

		fmt.Printf("Cleanup removed %d operations (expired: %d, completed: %d, stale: %d)\n",
			result.Total(), result.Expired, result.Completed, result.Stale)
		fmt.Printf("%d operations remain\n", stats.Total)
		return nil
	}

	ops, err := pending.NewSnapshotter(snapshotPath, logger).Load()
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	if ops == nil {
		fmt.Println("No snapshot found.")
		return nil
	}

	printSnapshotSummary(ops, snapshotPath)
	return nil
}

func printSnapshotSummary(ops []*pending.Operation, path string) {
	fmt.Printf("Snapshot: %s\n", path)
	fmt.Printf("Operations: %d\n", len(ops))
	if len(ops) == 0 {
		return
	}

	byStatus := make(map[pending.Status]int)
	for _, op := range ops {
		byStatus[op.Status]++
	}
	statuses := make([]string, 0, len(byStatus))
	for st := range byStatus {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		fmt.Printf("  %s: %d\n", st, byStatus[pending.Status(st)])
	}

	now := time.Now()
	fmt.Println("\nPending:")
	pendingCount := 0
	for _, op := range ops {
		if op.Status != pending.StatusPending {
			continue
		}
		pendingCount++
		fmt.Printf("  %s  %s  (user %s, expires in %s)\n",
			op.ID, op.Type, op.UserID, op.RemainingLabel(now))
	}
	if pendingCount == 0 {
		fmt.Println("  (none)")
	}
}
