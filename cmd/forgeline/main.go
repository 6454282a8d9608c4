// Command forgeline is a small CLI around the core: it opens the control
// directory inside a repository, wires up the store, cache, and repository
// lock, and exposes the service facade's operations as subcommands. The
// richer TUI, hook execution, and MCP transport layers are external
// collaborators this binary does not attempt to replace.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forgeline/core/pkg/cache"
	"github.com/forgeline/core/pkg/clock"
	"github.com/forgeline/core/pkg/config"
	"github.com/forgeline/core/pkg/log"
	"github.com/forgeline/core/pkg/repolock"
	"github.com/forgeline/core/pkg/service"
	"github.com/forgeline/core/pkg/store"
)

const controlSubdir = ".forgeline"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "forgeline",
	Short: "forgeline - issue and task tracking stored inside your repository",
	Long: `forgeline stores issues, milestones, and tasks as an append-only event
history inside an ordinary version-control repository, using the
repository's object graph as both transport and durable log.`,
}

func init() {
	rootCmd.PersistentFlags().String("repo", ".", "Path to the repository root")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("actor-name", "", "Override the resolved actor name for this invocation")
	rootCmd.PersistentFlags().String("actor-email", "", "Override the resolved actor email for this invocation")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(commentCmd)
	rootCmd.AddCommand(labelCmd)
	rootCmd.AddCommand(assigneeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(importCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// app bundles everything a command needs to call into the service facade,
// closed together once the command returns.
type app struct {
	svc   *service.Service
	store store.Store
	cache *cache.Cache
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// openApp reads repo's configuration (falling back to defaults), opens the
// persistent store and cache inside its control directory, and returns a
// service.Service bound to a clock for this process's replica identity.
func openApp(cmd *cobra.Command) (*app, error) {
	repoPath, _ := cmd.Flags().GetString("repo")
	controlDir := filepath.Join(repoPath, controlSubdir)
	if err := os.MkdirAll(controlDir, 0755); err != nil {
		return nil, fmt.Errorf("creating control directory: %w", err)
	}

	cfg := config.Default()
	if loaded, err := config.Load(filepath.Join(controlDir, "config.yaml")); err == nil {
		cfg = loaded
	}

	st, err := store.Open(controlDir)
	if err != nil {
		return nil, err
	}
	lock, err := repolock.Open(controlDir)
	if err != nil {
		st.Close()
		return nil, err
	}
	c, err := cache.Open(controlDir, cache.Config{
		Capacity:            cfg.Cache.Capacity,
		TTL:                 cfg.Cache.TTL,
		MaintenanceInterval: cfg.Cache.MaintenanceInterval,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	if cfg.Cache.MaintenanceInterval > 0 {
		c.Start()
	}

	replica := replicaIdentity(controlDir)
	svc := service.New(cfg, clock.NewReplicaId(replica), st, lock, c, nil)
	return &app{svc: svc, store: st, cache: c}, nil
}

// replicaIdentity derives a stable replica id for this process x repository
// pairing from the hostname and control directory path.
func replicaIdentity(controlDir string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	abs, err := filepath.Abs(controlDir)
	if err != nil {
		abs = controlDir
	}
	return host + ":" + abs
}

func actorFromFlags(cmd *cobra.Command) service.Actor {
	name, _ := cmd.Flags().GetString("actor-name")
	email, _ := cmd.Flags().GetString("actor-email")
	return service.Actor{Name: name, Email: email}
}

func parseKind(s string) (service.Kind, error) {
	switch s {
	case "issue", "issues":
		return service.Issues, nil
	case "milestone", "milestones":
		return service.Milestones, nil
	case "task", "tasks":
		return service.Tasks, nil
	default:
		return "", fmt.Errorf("unknown entity kind %q (want issue, milestone, or task)", s)
	}
}
