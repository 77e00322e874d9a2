// Package telemetry provides OpenTelemetry tracing and metrics for genforge,
// plus a Pushgateway client for per-run summaries.
//
// Telemetry is disabled by default. When enabled, spans and metrics are sent
// over OTLP (grpc or http/protobuf) to a collector:
//
//	tel, err := telemetry.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tracer := tel.Tracer("genforge/orchestrator")
//	ctx, span := tracer.Start(ctx, "pipeline.run")
//	defer span.End()
//
// Provider setup errors degrade to no-op providers rather than failing a run.
// Tests use NewTestTelemetry for in-memory spans and metrics.
package telemetry
