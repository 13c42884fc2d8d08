package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rostrum-oss/rostrum/internal/checkpoint"
	"github.com/rostrum-oss/rostrum/internal/config"
	"github.com/rostrum-oss/rostrum/internal/state"
)

var (
	checkpointsLimit     int
	checkpointsOlderThan time.Duration
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage stored checkpoints",
	Long: `Commands for inspecting and pruning checkpoint blobs.

Examples:
  rostrum checkpoints list
  rostrum checkpoints show 3f2a91c4
  rostrum checkpoints prune --older-than 168h`,
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints, newest first",
	RunE:  runCheckpointsList,
}

var checkpointsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a checkpoint's system state",
	Long:  `Print the full system state stored in a checkpoint. The id may be a unique prefix.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsShow,
}

var checkpointsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete checkpoints past the retention age",
	RunE:  runCheckpointsPrune,
}

func init() {
	checkpointsListCmd.Flags().IntVarP(&checkpointsLimit, "limit", "n", 20, "maximum checkpoints to list (0 for all)")
	checkpointsPruneCmd.Flags().DurationVar(&checkpointsOlderThan, "older-than", 0, "age cutoff (defaults to checkpoint.retention)")

	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsShowCmd)
	checkpointsCmd.AddCommand(checkpointsPruneCmd)
}

func openStore() (checkpoint.Store, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := checkpoint.Open(cfg.Store())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	return store, cfg, nil
}

func runCheckpointsList(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	metas, err := store.ListRecent(context.Background(), checkpointsLimit)
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(metas) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}

	for _, m := range metas {
		fmt.Printf("%s  %s  (%s ago)\n",
			m.ID,
			m.CreatedAt.Format(time.RFC3339),
			time.Since(m.CreatedAt).Round(time.Second),
		)
	}
	return nil
}

func runCheckpointsShow(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	id, err := resolveCheckpointID(ctx, store, args[0])
	if err != nil {
		return err
	}

	blob, err := store.Read(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint %s: %w", id, err)
	}
	var snap state.SystemState
	if err := json.Unmarshal(blob, &snap); err != nil {
		return fmt.Errorf("failed to decode checkpoint %s: %w", id, err)
	}

	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint %s: %w", id, err)
	}

	fmt.Printf("Checkpoint %s\n", id)
	fmt.Println(string(out))
	return nil
}

func runCheckpointsPrune(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	olderThan := checkpointsOlderThan
	if olderThan == 0 {
		olderThan = cfg.Checkpoint.Retention
	}

	ctx := context.Background()
	metas, err := store.ListRecent(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, m := range metas {
		if m.CreatedAt.After(cutoff) {
			continue
		}
		if err := store.Delete(ctx, m.ID); err != nil {
			return fmt.Errorf("failed to delete checkpoint %s: %w", m.ID, err)
		}
		removed++
	}

	fmt.Printf("Pruned %d of %d checkpoints older than %s.\n", removed, len(metas), olderThan)
	return nil
}

// resolveCheckpointID expands a unique id prefix to the full checkpoint id.
func resolveCheckpointID(ctx context.Context, store checkpoint.Store, arg string) (string, error) {
	metas, err := store.ListRecent(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("failed to list checkpoints: %w", err)
	}

	var matches []string
	for _, m := range metas {
		if m.ID == arg {
			return arg, nil
		}
		if strings.HasPrefix(m.ID, arg) {
			matches = append(matches, m.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no checkpoint matches %q", arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("checkpoint id %q is ambiguous (%d matches)", arg, len(matches))
	}
}
