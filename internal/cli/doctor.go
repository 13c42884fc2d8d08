package cli

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/rostrum-oss/rostrum/internal/checkpoint"
	"github.com/rostrum-oss/rostrum/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check environment and dependencies",
	Long:  "Validate that configuration, the checkpoint store, and task tooling are properly set up.",
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Println("rostrum doctor — checking your environment")
	fmt.Println()
	allOK := true

	// 1. Go version
	fmt.Printf("  Go version: %s", runtime.Version())
	fmt.Println(" ✓")

	// 2. OS/Arch
	fmt.Printf("  Platform:   %s/%s", runtime.GOOS, runtime.GOARCH)
	fmt.Println(" ✓")

	// 3. Configuration
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  Config:     INVALID (%s) ✗\n", err)
		fmt.Println("    → Fix the reported setting in rostrum.yaml or the environment")
		allOK = false
	} else {
		fmt.Printf("  Config:     driver %s, %d concurrent workflows", cfg.Checkpoint.Driver, cfg.Scheduler.MaxConcurrentWorkflows)
		fmt.Println(" ✓")
	}

	// 4. Checkpoint store round-trip
	if cfg != nil {
		if err := probeStore(cfg); err != nil {
			fmt.Printf("  Store:      FAILED (%s) ✗\n", err)
			allOK = false
		} else {
			fmt.Printf("  Store:      %s", cfg.Checkpoint.Driver)
			fmt.Println(" ✓")
		}
	}

	// 5. Workflow definitions
	if paths, err := config.ListDefinitions("workflows"); err == nil && len(paths) > 0 {
		fmt.Printf("  Workflows:  %d in workflows/", len(paths))
		fmt.Println(" ✓")
	} else {
		fmt.Println("  Workflows:  none found")
		fmt.Println("    → Run 'rostrum init' to scaffold a project")
	}

	// 6. Shell for the command executor
	if _, err := exec.LookPath("sh"); err == nil {
		fmt.Println("  Shell:      available ✓")
	} else {
		fmt.Println("  Shell:      NOT FOUND ✗")
		fmt.Println("    → Install a POSIX shell or use --executor skeleton")
		allOK = false
	}

	fmt.Println()
	if allOK {
		fmt.Println("All checks passed!")
	} else {
		fmt.Println("Some checks failed. See above for details.")
	}

	return nil
}

// probeStore writes, reads, and deletes a throwaway blob so connectivity
// problems surface here instead of mid-run.
func probeStore(cfg *config.Config) error {
	store, err := checkpoint.Open(cfg.Store())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := fmt.Sprintf("doctor-probe-%d", time.Now().UnixNano())
	if err := store.Write(ctx, id, []byte(`{}`)); err != nil {
		return err
	}
	if _, err := store.Read(ctx, id); err != nil {
		return err
	}
	return store.Delete(ctx, id)
}
