package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/genforge/internal/artifacts"
	"github.com/fyrsmithlabs/genforge/internal/config"
	"github.com/fyrsmithlabs/genforge/internal/generation"
	"github.com/fyrsmithlabs/genforge/internal/logging"
	"github.com/fyrsmithlabs/genforge/internal/orchestrator"
	"github.com/fyrsmithlabs/genforge/internal/sandbox"
	"github.com/fyrsmithlabs/genforge/internal/telemetry"
)

const (
	featurePrompt     = "Would you like to add more features? (yes/no)"
	descriptionPrompt = "Please describe the new feature: "
)

type specNotFoundError struct {
	path string
}

func (e *specNotFoundError) Error() string {
	return fmt.Sprintf("specification file %q not found", e.path)
}

type generateOptions struct {
	configPath  string
	envFile     string
	interactive bool
}

func newGenerateCmd() *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate <spec-file>",
		Short: "Generate a project from a specification file",
		Long: `Generate a project from a specification file.

Examples:
  # Generate with the default configuration
  genforge generate calculator.txt

  # Use a specific config file and skip the feature prompt
  genforge generate --config ./genforge.yaml --interactive=false calculator.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/genforge/config.yaml)")
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before configuration")
	cmd.Flags().BoolVar(&opts.interactive, "interactive", true, "prompt for additional features after the run")
	return cmd
}

// readSpec loads the specification text from path.
func readSpec(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &specNotFoundError{path: path}
		}
		return "", fmt.Errorf("failed to read specification: %w", err)
	}
	spec := strings.TrimSpace(string(data))
	if spec == "" {
		return "", fmt.Errorf("specification file %q is empty", path)
	}
	return spec, nil
}

// loadEnv loads a dotenv file. A missing file is not an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func runGenerate(cmd *cobra.Command, specPath string, opts *generateOptions) error {
	spec, err := readSpec(specPath)
	if err != nil {
		return err
	}

	if err := loadEnv(opts.envFile); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return err
	}

	tel, logger, err := initObservability(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
		_ = tel.Shutdown(context.Background())
	}()

	pipeline, err := buildPipeline(cfg, spec, tel, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	res, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), res)
	flushTelemetry(ctx, tel, logger)

	if !opts.interactive {
		return nil
	}
	return promptFeatures(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), pipeline)
}

// initObservability builds the logger and telemetry from their config sections.
func initObservability(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, *logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	if err := cfg.Section("logging", logCfg); err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	telCfg := telemetry.NewDefaultConfig()
	telCfg.ServiceVersion = version
	if err := cfg.Section("telemetry", telCfg); err != nil {
		return nil, nil, err
	}
	tel, err := telemetry.New(ctx, telCfg, logger.Underlying().Named("telemetry"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if tel.Degraded() {
		logger.Warn(ctx, "telemetry running degraded")
	}
	return tel, logger, nil
}

// flushTelemetry exports a finished run while the process waits for input.
func flushTelemetry(ctx context.Context, tel *telemetry.Telemetry, logger *logging.Logger) {
	if !tel.IsEnabled() {
		return
	}
	if err := tel.ForceFlush(ctx); err != nil {
		logger.Warn(ctx, "failed to flush telemetry", zap.Error(err))
	}
}

func buildPipeline(cfg *config.Config, spec string, tel *telemetry.Telemetry, logger *logging.Logger, out io.Writer) (*orchestrator.Pipeline, error) {
	zl := logger.Underlying()

	gen, err := generation.NewClient(generation.ConfigFrom(cfg.Generation), zl.Named("generation"))
	if err != nil {
		return nil, fmt.Errorf("failed to create generation client: %w", err)
	}

	sb := sandbox.New(sandbox.ConfigFrom(cfg.Sandbox, cfg.Pipeline.ProjectRoot), zl.Named("sandbox"))

	var storeOpts []artifacts.Option
	if len(cfg.Store.IgnorePatterns) > 0 {
		storeOpts = append(storeOpts, artifacts.WithIgnorePatterns(cfg.Store.IgnorePatterns))
	}
	if cfg.Store.S3Enabled {
		mirror, err := artifacts.NewS3Mirror(artifacts.S3ConfigFrom(cfg.Store), zl.Named("s3"))
		if err != nil {
			return nil, fmt.Errorf("failed to create project mirror: %w", err)
		}
		storeOpts = append(storeOpts, artifacts.WithMirror(mirror))
	}
	store := artifacts.NewFSStore(cfg.Pipeline.ProjectRoot, cfg.Store.OutputDir, zl.Named("store"), storeOpts...)

	telCfg := tel.Config()
	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger.Named("orchestrator")),
		orchestrator.WithTelemetry(tel),
		orchestrator.WithProgress(progressPrinter(out)),
	}
	if telCfg != nil {
		opts = append(opts, orchestrator.WithPusher(telemetry.NewPusher(telCfg.Pushgateway, zl.Named("pushgateway"))))
	}
	if cfg.Sandbox.FailureLog != "" {
		opts = append(opts, orchestrator.WithFailureRecorder(sandbox.NewFailureLog(cfg.Sandbox.FailureLog)))
	}

	logger.Info(context.Background(), "pipeline configured",
		zap.String("provider", cfg.Generation.Provider),
		zap.String("model", cfg.Generation.Model),
		zap.String("project_root", cfg.Pipeline.ProjectRoot),
		zap.String("output_dir", cfg.Store.OutputDir),
		zap.Bool("s3_mirror", cfg.Store.S3Enabled))

	return orchestrator.New(spec, gen, sb, store, orchestrator.ConfigFrom(cfg.Pipeline), opts...)
}

func progressPrinter(out io.Writer) orchestrator.ProgressCallback {
	return func(p orchestrator.Progress) {
		if p.Iteration > 0 {
			fmt.Fprintf(out, "[%d] %s: %s\n", p.Iteration, p.Stage, p.Message)
			return
		}
		fmt.Fprintf(out, "%s: %s\n", p.Stage, p.Message)
	}
}

func printResult(out io.Writer, res *orchestrator.RunResult) {
	fmt.Fprintf(out, "\nProject generated in %s\n", res.Destination)
	fmt.Fprintf(out, "Status:     %s\n", res.Status)
	fmt.Fprintf(out, "Files:      %d\n", len(res.Files))
	fmt.Fprintf(out, "Iterations: %d\n", res.Iterations)
	fmt.Fprintf(out, "Review:     %s after %d review(s), %d fix(es)\n", res.Review.State, res.Review.Reviews, res.Review.Fixes)
	if res.Execution.Ran {
		verdict := "failed"
		if res.Execution.Passed {
			verdict = "passed"
		}
		fmt.Fprintf(out, "Execution:  %s\n", verdict)
	}
	for _, v := range res.Violations {
		fmt.Fprintf(out, "  %s (%s): %s\n", v.Type, v.Stage, v.Description)
	}
}

// featureAdder extends the specification and runs again.
type featureAdder interface {
	AddFeature(ctx context.Context, description string) (*orchestrator.RunResult, error)
}

// promptFeatures asks for additional features until the answer is not yes
// or input ends.
func promptFeatures(ctx context.Context, in io.Reader, out io.Writer, p featureAdder) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintln(out, featurePrompt)
		if !scanner.Scan() {
			return scanner.Err()
		}
		if strings.ToLower(strings.TrimSpace(scanner.Text())) != "yes" {
			return nil
		}

		fmt.Fprint(out, descriptionPrompt)
		if !scanner.Scan() {
			return scanner.Err()
		}
		description := strings.TrimSpace(scanner.Text())
		if description == "" {
			fmt.Fprintln(out, "No feature description given.")
			continue
		}

		res, err := p.AddFeature(ctx, description)
		if err != nil {
			return err
		}
		printResult(out, res)
	}
}
