package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"casewise/internal/config"
	"casewise/internal/llm"
	"casewise/internal/logging"
	"casewise/internal/pipeline"
	"casewise/internal/store"
	"casewise/internal/tasks"
	"casewise/internal/telemetry"
	"casewise/internal/watch"
)

var (
	// Global flags
	verbose   bool
	workspace string
	apiKey    string
	trace     bool

	// process flags
	caseID  string
	resume  bool
	asJSON  bool

	// Logger
	logger *zap.Logger

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "casewise",
	Short: "casewise - staged evaluation pipeline for application cases",
	Long: `casewise evaluates student application packets through a staged
analysis pipeline: intake extraction fans out to parallel facet analyses
(institution, grades, essay, recommendations), a grade audit checkpoint
cross-checks the transcript reading with bounded remediation, and a
synthesis pass folds everything into a reviewer-facing report.

Every intermediate result is persisted before any dependent task runs, so
an interrupted case can be resumed without repeating finished work.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real deployments use the environment directly
		_ = godotenv.Load()

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, _ = os.Getwd()
		}
		cfg, err = config.Load(workspace)
		if err != nil {
			return err
		}
		if apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}

		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("debug logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// processCmd evaluates one packet file through the full pipeline.
var processCmd = &cobra.Command{
	Use:   "process [packet-file]",
	Short: "Evaluate one application packet",
	Long: `Runs the full pipeline over a single packet file and prints the
outcome. The case id defaults to the file name; pass --case to pin one,
or --resume to continue a previously interrupted case.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

// showCmd prints a case's persisted state.
var showCmd = &cobra.Command{
	Use:   "show [case-id]",
	Short: "Show a case's results and validation history",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

// watchCmd runs the intake directory watcher.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the intake directory and evaluate packets as they arrive",
	Long: `Watches the configured intake directory. Each new .txt or .md file
is evaluated as a case once its writes settle; processed files move to
intake/processed.`,
	RunE: runWatch,
}

// initCmd writes the default config into the workspace.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default .casewise/config.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Save(workspace); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", filepath.Join(workspace, config.ConfigFileName))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Model API key (or set ANTHROPIC_API_KEY / GEMINI_API_KEY)")
	rootCmd.PersistentFlags().BoolVar(&trace, "trace", false, "Export OTLP traces")

	processCmd.Flags().StringVar(&caseID, "case", "", "Case id (default: packet file name)")
	processCmd.Flags().BoolVar(&resume, "resume", false, "Skip tasks with persisted results")
	processCmd.Flags().BoolVar(&asJSON, "json", false, "Print the outcome as JSON")
	showCmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()
	return ctx, cancel
}

// initTracing starts the OTLP exporter when --trace or the config enables
// it. The returned shutdown func is safe to call either way.
func initTracing(ctx context.Context) func(context.Context) error {
	if !trace && !cfg.Telemetry.Enabled {
		return func(context.Context) error { return nil }
	}
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.Service,
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		Insecure:       true,
	})
	if err != nil {
		logger.Warn("tracing unavailable", zap.Error(err))
		return func(context.Context) error { return nil }
	}
	return shutdown
}

// buildClient constructs the configured model client.
func buildClient(ctx context.Context) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "gemini":
		return llm.NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	default:
		acfg := llm.DefaultAnthropicConfig(cfg.LLM.APIKey)
		if cfg.LLM.Model != "" {
			acfg.Model = cfg.LLM.Model
		}
		if cfg.LLM.BaseURL != "" {
			acfg.BaseURL = cfg.LLM.BaseURL
		}
		acfg.Timeout = cfg.GetLLMTimeout()
		return llm.NewAnthropicClientWithConfig(acfg), nil
	}
}

// buildPipeline assembles the store, audit trail, graph, and orchestrator.
// The returned cleanup closes everything in reverse order.
func buildPipeline(ctx context.Context, resuming bool) (*pipeline.Orchestrator, *store.SQLiteStore, func(), error) {
	client, err := buildClient(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	specs := tasks.NewAnalyzer(client).Specs()
	if p := cfg.Pipeline.GraphOverlayPath; p != "" {
		overlay, err := pipeline.LoadGraphOverlay(filepath.Join(workspace, p))
		if err != nil {
			return nil, nil, nil, err
		}
		if overlay != nil {
			if specs, err = overlay.Apply(specs); err != nil {
				return nil, nil, nil, err
			}
		}
	}
	graph, err := pipeline.BuildGraph(specs)
	if err != nil {
		return nil, nil, nil, err
	}

	db, err := store.NewSQLiteStore(filepath.Join(workspace, cfg.Store.DatabasePath))
	if err != nil {
		return nil, nil, nil, err
	}

	audit, err := logging.NewAuditTrail(filepath.Join(workspace, cfg.Store.AuditDir))
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	orch, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Graph:                 graph,
		Gateway:               db,
		Auditor:               audit,
		CheckpointProducer:    tasks.CheckpointProducer,
		CheckpointValidator:   tasks.CheckpointValidator,
		MaxRemediations:       cfg.Pipeline.MaxRemediations,
		TaskTimeout:           cfg.GetTaskTimeout(),
		DegradedForcesPartial: cfg.Pipeline.DegradedForcesPartial,
		Resume:                resuming,
	})
	if err != nil {
		audit.Close()
		db.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		if err := audit.Close(); err != nil {
			logger.Warn("audit close", zap.Error(err))
		}
		if err := db.Close(); err != nil {
			logger.Warn("store close", zap.Error(err))
		}
	}
	return orch, db, cleanup, nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	shutdownTracing := initTracing(ctx)
	defer func() { _ = shutdownTracing(context.Background()) }()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read packet: %w", err)
	}
	id := caseID
	if id == "" {
		base := filepath.Base(args[0])
		id = base[:len(base)-len(filepath.Ext(base))]
	}

	orch, _, cleanup, err := buildPipeline(ctx, resume)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("Processing case", zap.String("case_id", id))
	outcome, err := orch.Process(ctx, id, string(data))
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	}
	printOutcome(outcome)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	db, err := store.NewSQLiteStore(filepath.Join(workspace, cfg.Store.DatabasePath))
	if err != nil {
		return err
	}
	defer db.Close()

	id := args[0]
	c, err := db.GetCase(ctx, id)
	if err != nil {
		return err
	}
	results, err := db.ListResults(ctx, id)
	if err != nil {
		return err
	}
	attempts, err := db.ListValidationAttempts(ctx, id)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Case               pipeline.Case                 `json:"case"`
			Results            map[string]pipeline.TaskResult `json:"results"`
			ValidationAttempts []pipeline.ValidationAttempt   `json:"validation_attempts"`
		}{c, results, attempts})
	}

	fmt.Printf("case %s  status=%s  created=%s\n", c.ID, c.Status, c.CreatedAt.Format(time.RFC3339))
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := results[name]
		fmt.Printf("  %-16s %-9s attempt=%d confidence=%s\n", r.TaskName, r.Status, r.Attempt, r.Confidence)
		if r.ErrorMessage != "" {
			fmt.Printf("    error: %s\n", r.ErrorMessage)
		}
	}
	for _, va := range attempts {
		fmt.Printf("  audit round %d: %s", va.AttemptNumber, va.Verdict)
		if va.RemediationHint != "" {
			fmt.Printf(" (%s)", va.RemediationHint)
		}
		fmt.Println()
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	shutdownTracing := initTracing(ctx)
	defer func() { _ = shutdownTracing(context.Background()) }()

	orch, _, cleanup, err := buildPipeline(ctx, true)
	if err != nil {
		return err
	}
	defer cleanup()

	handler := func(ctx context.Context, id, sourceText string) error {
		outcome, err := orch.Process(ctx, id, sourceText)
		if err != nil {
			return err
		}
		logger.Info("Case evaluated",
			zap.String("case_id", outcome.CaseID),
			zap.String("status", string(outcome.Status)),
			zap.Duration("elapsed", outcome.Elapsed))
		return nil
	}

	iw, err := watch.NewIntakeWatcher(filepath.Join(workspace, cfg.Watch.IntakeDir), cfg.GetWatchSettle(), handler)
	if err != nil {
		return err
	}
	if err := iw.Start(ctx); err != nil {
		return err
	}
	defer iw.Stop()

	logger.Info("Watching intake directory", zap.String("dir", cfg.Watch.IntakeDir))
	<-ctx.Done()
	return nil
}

func printOutcome(outcome pipeline.CaseOutcome) {
	fmt.Printf("case %s: %s in %s\n", outcome.CaseID, outcome.Status, outcome.Elapsed.Round(time.Millisecond))
	names := make([]string, 0, len(outcome.Results))
	for name := range outcome.Results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := outcome.Results[name]
		fmt.Printf("  %-16s %s\n", name, r.Status)
	}
	if len(outcome.Failed) > 0 {
		fmt.Printf("failed: %v\n", outcome.Failed)
	}
	if len(outcome.Degraded) > 0 {
		fmt.Printf("degraded: %v\n", outcome.Degraded)
	}
	if len(outcome.Skipped) > 0 {
		fmt.Printf("skipped: %v\n", outcome.Skipped)
	}
}
