package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lowforge/internal/automation"
	"lowforge/internal/config"
	"lowforge/internal/embedding"
	"lowforge/internal/knowledge"
	"lowforge/internal/llm"
	"lowforge/internal/logging"
	"lowforge/internal/store"
	"lowforge/internal/vision"
	"lowforge/internal/workflow"
)

var (
	// Global flags
	verbose    bool
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "lowforge",
	Short: "lowforge - LLM-driven feature construction for low-code platforms",
	Long: `lowforge builds features on a low-code platform by coordinating three
agents through a bounded workflow: a developer plans and executes UI
operations in a browser, a validator generates and runs test scenarios
against the result, and a knowledge manager persists accepted solutions
for reuse on similar requests.

Requests come from YAML files (see 'lowforge run') or a watched
directory (see 'lowforge watch').`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		path := configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		debug := cfg.Logging.Debug || verbose
		if err := logging.Initialize(cfg.DataDir, debug, cfg.Logging.Level); err != nil {
			logger.Warn("File logging unavailable", zap.Error(err))
		}
		if cfg.Logging.Audit {
			if err := logging.InitAudit(cfg.DataDir); err != nil {
				logger.Warn("Audit trail unavailable", zap.Error(err))
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./lowforge.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(solutionsCmd)
	rootCmd.AddCommand(knowledgeCmd)
	rootCmd.AddCommand(rewardCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore opens the configured SQLite store.
func openStore() (store.Store, error) {
	return store.NewSQLiteStore(cfg.Store.Driver, cfg.Store.DatabasePath)
}

// newManager builds a knowledge manager. With requireLLM false the
// completion client may be absent (sufficient for rollback/cleanup,
// which never prompt the model).
func newManager(st store.Store, requireLLM bool) (*knowledge.Manager, error) {
	var client llm.Client
	if cfg.LLM.APIKey != "" {
		c, err := llm.New(cfg)
		if err != nil {
			return nil, err
		}
		client = c
	} else if requireLLM {
		return nil, fmt.Errorf("completion API key not configured (set OPENAI_API_KEY, ANTHROPIC_API_KEY, or LOWFORGE_API_KEY)")
	}

	embedder, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		logger.Warn("Embedding engine unavailable, semantic indexing disabled", zap.Error(err))
		embedder = nil
	}
	return knowledge.NewManager(client, st, embedder), nil
}

// appRuntime holds the fully wired workflow stack.
type appRuntime struct {
	store   store.Store
	manager *knowledge.Manager
	factory *automation.RodFactory
	orch    *workflow.Orchestrator
}

// newAppRuntime wires the complete stack for commands that run
// workflows. The browser is launched lazily on first session.
func newAppRuntime() (*appRuntime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := openStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	manager, err := newManager(st, true)
	if err != nil {
		st.Close()
		return nil, err
	}

	client, err := llm.New(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	var analyzer vision.Analyzer
	if cfg.Vision.Enabled {
		analyzer = vision.NewClient(cfg)
	} else {
		logger.Warn("Vision disabled; target resolution falls back to synthesized locators")
	}

	factory := automation.NewRodFactory(cfg)
	orch := workflow.NewOrchestrator(cfg, client, analyzer, factory, manager)

	return &appRuntime{store: st, manager: manager, factory: factory, orch: orch}, nil
}

func (r *appRuntime) Close() {
	if err := r.factory.Shutdown(); err != nil {
		logger.Warn("Browser shutdown failed", zap.Error(err))
	}
	if err := r.store.Close(); err != nil {
		logger.Warn("Store close failed", zap.Error(err))
	}
}
