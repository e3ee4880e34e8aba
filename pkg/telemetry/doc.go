// Package telemetry provides observability instrumentation for converge.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), and metrics (Prometheus) into a single bundle that the
// CLI wires up at startup.
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "converge"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Component loggers carry a component field and any per-run context:
//
//	logger := tel.Logger.NewComponentLogger("executor")
//	logger = logger.WithRunID(runID).WithRef("package/nginx")
//	logger.Info("applying action")
//
// Tracing wraps each run, probe, and action in a span:
//
//	ctx, span := tel.Tracer.StartRunSpan(ctx, runID)
//	defer span.End()
//
// Metrics cover run outcomes, per-action verb/status counters, probe
// failures, and handler firings, exposed on an optional HTTP endpoint
// via StartMetricsServer.
package telemetry
