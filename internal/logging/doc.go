// Package logging provides structured logging for genforge on top of Zap.
//
// The wrapper adds:
//   - a Trace level (-2) for full prompt and response bodies
//   - console (stderr) and OpenTelemetry outputs
//   - correlation fields (run ID, stage, iteration) taken from the context
//   - secret redaction by key and by value pattern
//   - level-aware sampling where errors are never sampled
//
// # Usage
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithStage(ctx, "code")
//	logger.Info(ctx, "stage complete", zap.Int("bytes", n))
//
// Tests use NewTestLogger and its Assert helpers.
package logging
