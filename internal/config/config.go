// Package config provides configuration loading for genforge.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then GENFORGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/v2"
)

// Config holds the complete genforge configuration.
type Config struct {
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Generation GenerationConfig `koanf:"generation"`
	Sandbox    SandboxConfig    `koanf:"sandbox"`
	Store      StoreConfig      `koanf:"store"`

	// k retains the merged sources so other packages can decode their own
	// sections (logging, telemetry) without this package importing them.
	k *koanf.Koanf
}

// PipelineConfig controls the orchestration loops.
type PipelineConfig struct {
	MaxIterations       int    `koanf:"max_iterations"`
	MaxReviewIterations int    `koanf:"max_review_iterations"`
	ProjectRoot         string `koanf:"project_root"`
	ApprovalMarker      string `koanf:"approval_marker"`
	ExecutableExtension string `koanf:"executable_extension"`
}

// GenerationConfig configures the LLM-backed generation client.
type GenerationConfig struct {
	Provider    string   `koanf:"provider"`
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	Temperature float64  `koanf:"temperature"`
	MaxTokens   int      `koanf:"max_tokens"`
	RateLimit   float64  `koanf:"rate_limit"` // requests per second
	Burst       int      `koanf:"burst"`
	MaxRetries  int      `koanf:"max_retries"`
	Timeout     Duration `koanf:"timeout"`
}

// SandboxConfig configures the script/test runner.
type SandboxConfig struct {
	Interpreter    string   `koanf:"interpreter"`
	TestArgs       []string `koanf:"test_args"` // placed between the interpreter and the test file
	RunTimeout     Duration `koanf:"run_timeout"`
	TestTimeout    Duration `koanf:"test_timeout"`
	MaxOutputBytes int      `koanf:"max_output_bytes"`
	FailureLog     string   `koanf:"failure_log"` // empty disables the failure log
}

// StoreConfig configures where generated projects are persisted.
// S3 fields are flat so GENFORGE_STORE_S3_BUCKET maps onto store.s3_bucket.
type StoreConfig struct {
	OutputDir   string `koanf:"output_dir"`
	S3Enabled   bool   `koanf:"s3_enabled"`
	S3Endpoint  string `koanf:"s3_endpoint"`
	S3Region    string `koanf:"s3_region"`
	S3Bucket    string `koanf:"s3_bucket"`
	S3Prefix    string `koanf:"s3_prefix"`
	S3AccessKey Secret `koanf:"s3_access_key"`
	S3SecretKey Secret `koanf:"s3_secret_key"`
	S3UseSSL    bool   `koanf:"s3_use_ssl"`

	// IgnorePatterns replace the built-in cache patterns when set.
	IgnorePatterns []string `koanf:"ignore_patterns"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			MaxIterations:       1,
			MaxReviewIterations: 2,
			ProjectRoot:         "src",
			ApprovalMarker:      "Approved",
			ExecutableExtension: ".py",
		},
		Generation: GenerationConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   4096,
			RateLimit:   1,
			Burst:       1,
			MaxRetries:  3,
			Timeout:     Duration(2 * time.Minute),
		},
		Sandbox: SandboxConfig{
			Interpreter:    "python",
			TestArgs:       []string{"-m", "pytest"},
			RunTimeout:     Duration(30 * time.Second),
			TestTimeout:    Duration(60 * time.Second),
			MaxOutputBytes: 1 << 20,
			FailureLog:     "testing_agent_output.txt",
		},
		Store: StoreConfig{
			OutputDir: "generated_projects",
			S3Region:  "us-east-1",
		},
	}
}

// Section decodes the configuration subtree at path into out.
// out should already hold its defaults; keys absent from every source are left untouched.
func (c *Config) Section(path string, out interface{}) error {
	if c.k == nil || !c.k.Exists(path) {
		return nil
	}
	if err := c.k.Unmarshal(path, out); err != nil {
		return fmt.Errorf("failed to decode %s config: %w", path, err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Pipeline.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_iterations must be >= 1, got %d", c.Pipeline.MaxIterations))
	}
	if c.Pipeline.MaxReviewIterations < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_review_iterations must be >= 1, got %d", c.Pipeline.MaxReviewIterations))
	}
	if strings.TrimSpace(c.Pipeline.ProjectRoot) == "" {
		errs = append(errs, errors.New("pipeline.project_root is required"))
	}
	if c.Pipeline.ApprovalMarker == "" {
		errs = append(errs, errors.New("pipeline.approval_marker is required"))
	}

	switch c.Generation.Provider {
	case "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("generation.provider %q is not supported", c.Generation.Provider))
	}
	if c.Generation.RateLimit <= 0 {
		errs = append(errs, errors.New("generation.rate_limit must be positive"))
	}
	if c.Generation.Burst < 1 {
		errs = append(errs, errors.New("generation.burst must be >= 1"))
	}
	if c.Generation.MaxRetries < 0 {
		errs = append(errs, errors.New("generation.max_retries must be >= 0"))
	}

	if c.Sandbox.Interpreter == "" {
		errs = append(errs, errors.New("sandbox.interpreter is required"))
	}
	if c.Sandbox.RunTimeout.Duration() <= 0 || c.Sandbox.TestTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("sandbox timeouts must be positive"))
	}

	if c.Store.OutputDir == "" {
		errs = append(errs, errors.New("store.output_dir is required"))
	}
	if c.Store.S3Enabled && (c.Store.S3Endpoint == "" || c.Store.S3Bucket == "") {
		errs = append(errs, errors.New("store.s3_endpoint and store.s3_bucket are required when s3 is enabled"))
	}

	return errors.Join(errs...)
}
