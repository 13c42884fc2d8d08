package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/rostrum-oss/rostrum/internal/checkpoint"
	"github.com/rostrum-oss/rostrum/internal/state"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpointed system state",
	Long: `Display the latest checkpoint: workflow, task, and debate states
plus resource counters, and the most recent checkpoints in the store.

Examples:
  rostrum status          # Show current state
  rostrum status --watch  # Live dashboard`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "watch mode with live updates")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := checkpoint.Open(cfg.Store())
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer store.Close()

	if statusWatch {
		return watchStatus(store)
	}

	return showStatus(store)
}

func showStatus(store checkpoint.Store) error {
	ctx := context.Background()

	metas, err := store.ListRecent(ctx, 5)
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(metas) == 0 {
		fmt.Println("No checkpoints found. Run a workflow first.")
		return nil
	}

	latest := metas[0]
	blob, err := store.Read(ctx, latest.ID)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint %s: %w", latest.ID, err)
	}
	var snap state.SystemState
	if err := json.Unmarshal(blob, &snap); err != nil {
		return fmt.Errorf("failed to decode checkpoint %s: %w", latest.ID, err)
	}

	fmt.Printf("Checkpoint %s  taken %s\n", shortID(latest.ID), latest.CreatedAt.Format(time.RFC3339))
	fmt.Println("--------------------------------------------")

	if len(snap.WorkflowStates) > 0 {
		fmt.Println("Workflows:")
		for _, id := range sortedKeys(snap.WorkflowStates) {
			st := snap.WorkflowStates[id]
			fmt.Printf("  %s %s (%s)\n", getStatusIcon(string(st)), id, st)
		}
	}

	if len(snap.DebateStates) > 0 {
		fmt.Println("Debates:")
		for _, id := range sortedKeys(snap.DebateStates) {
			st := snap.DebateStates[id]
			fmt.Printf("  %s %s (%s)\n", getStatusIcon(string(st)), id, st)
		}
	}

	if len(snap.WorkflowStates) == 0 && len(snap.DebateStates) == 0 {
		fmt.Println("No tracked workflows or debates.")
	}

	if line := taskSummary(snap.TaskStates); line != "" {
		fmt.Printf("Tasks: %s\n", line)
	}

	if len(snap.Resources) > 0 {
		fmt.Println("Resources:")
		for _, k := range sortedKeys(snap.Resources) {
			fmt.Printf("  %s: %v\n", k, snap.Resources[k])
		}
	}

	fmt.Println("\nRecent checkpoints:")
	for _, m := range metas {
		fmt.Printf("  %s  %s  (%s ago)\n",
			shortID(m.ID),
			m.CreatedAt.Format(time.RFC3339),
			time.Since(m.CreatedAt).Round(time.Second),
		)
	}

	return nil
}

func watchStatus(store checkpoint.Store) error {
	fmt.Println("Watching for updates... (Ctrl+C to stop)")

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		// Clear screen (simple approach)
		fmt.Print("\033[H\033[2J")

		if err := showStatus(store); err != nil {
			fmt.Printf("Error: %v\n", err)
		}

		fmt.Printf("\nLast updated: %s\n", time.Now().Format(time.RFC3339))

		<-ticker.C
	}
}

// taskSummary condenses per-task states into status counts.
func taskSummary(tasks map[string]state.TaskStatus) string {
	if len(tasks) == 0 {
		return ""
	}
	counts := make(map[state.TaskStatus]int)
	for _, st := range tasks {
		counts[st]++
	}
	order := []state.TaskStatus{
		state.TaskCompleted, state.TaskInProgress, state.TaskReady,
		state.TaskPending, state.TaskFailed, state.TaskTerminated,
	}
	line := ""
	for _, st := range order {
		if counts[st] == 0 {
			continue
		}
		if line != "" {
			line += ", "
		}
		line += fmt.Sprintf("%d %s", counts[st], st)
	}
	return line
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func getStatusIcon(status string) string {
	switch status {
	case "pending":
		return "○"
	case "ready", "in_progress":
		return "◐"
	case "paused":
		return "◑"
	case "completed", "consensus_reached":
		return "●"
	case "failed":
		return "✗"
	case "cancelled", "terminated":
		return "◌"
	default:
		return "?"
	}
}
