package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [project-name]",
	Short: "Initialize a new rostrum project",
	Long: `Initialize a new rostrum project with the standard directory
structure, a runtime configuration, and starter workflow definitions.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	projectName := "."
	if len(args) > 0 {
		projectName = args[0]
	}

	// Create project directory if not current directory
	if projectName != "." {
		if err := os.MkdirAll(projectName, 0755); err != nil {
			return fmt.Errorf("failed to create project directory: %w", err)
		}
	}

	// Create directory structure
	dirs := []string{
		"workflows",
		".rostrum/checkpoints",
		".rostrum/logs",
	}

	for _, dir := range dirs {
		path := filepath.Join(projectName, dir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := createRuntimeConfig(projectName); err != nil {
		return err
	}
	if err := createStarterWorkflows(projectName); err != nil {
		return err
	}
	if err := createGitignore(projectName); err != nil {
		return err
	}

	fmt.Printf("Initialized rostrum project in %s\n", projectName)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Adjust rostrum.yaml for your checkpoint store")
	fmt.Println("  2. Edit the workflows in workflows/")
	fmt.Println("  3. Run 'rostrum run workflows/build.yaml'")

	return nil
}

func createRuntimeConfig(projectDir string) error {
	content := `# rostrum.yaml - Runtime configuration
# Values here override ROSTRUM_* environment variables.

log:
  level: info
  format: text  # text | json

bus:
  queue_size: 1024
  poll_interval: 1s

scheduler:
  max_concurrent_workflows: 5

checkpoint:
  driver: file  # memory | file | sqlite | redis
  dir: .rostrum/checkpoints
  retention: 720h

# Prometheus scrape endpoint and JSONL metrics export
# metrics:
#   addr: :9090
#   file: .rostrum/metrics.jsonl
`
	return os.WriteFile(filepath.Join(projectDir, "rostrum.yaml"), []byte(content), 0644)
}

func createStarterWorkflows(projectDir string) error {
	build := `# A sequential pipeline. Each task's metadata command runs through
# the shell; its output becomes the task result.
id: build
name: Build pipeline
description: Compile, test, and package

tasks:
  - id: compile
    name: Compile sources
    owner_group: engineering
    metadata:
      command: echo "compiling..."

  - id: test
    name: Run tests
    owner_group: engineering
    depends_on:
      - compile
    metadata:
      command: echo "testing..."

  - id: package
    name: Package artifacts
    owner_group: engineering
    depends_on:
      - test
    metadata:
      command: echo "packaging..."
`
	if err := os.WriteFile(filepath.Join(projectDir, "workflows", "build.yaml"), []byte(build), 0644); err != nil {
		return err
	}

	fanout := `# A diamond-shaped schedule. Tasks without a command sleep their
# estimated duration, which makes this a pure scheduling dry run.
id: fanout
name: Parallel fan-out
description: Two branches that rejoin

max_parallel_tasks: 2
timeout: 5m

tasks:
  - id: plan
    name: Plan
    estimated_duration: 200ms

  - id: research
    name: Research
    depends_on: [plan]
    estimated_duration: 500ms

  - id: draft
    name: Draft
    depends_on: [plan]
    estimated_duration: 500ms

  - id: review
    name: Review
    depends_on: [research, draft]
    estimated_duration: 200ms
`
	return os.WriteFile(filepath.Join(projectDir, "workflows", "fanout.yaml"), []byte(fanout), 0644)
}

func createGitignore(projectDir string) error {
	content := `# rostrum
.rostrum/

# Secrets
*.env
.env.*

# OS
.DS_Store
Thumbs.db
`
	return os.WriteFile(filepath.Join(projectDir, ".gitignore"), []byte(content), 0644)
}
