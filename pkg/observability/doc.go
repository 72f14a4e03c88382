// Package observability provides structured logging and OpenTelemetry tracing setup.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("subject_id", id).Info("quota denied", "capability", "alerts")
//
// Loggers travel in contexts:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx, fallback).Debug("resolved limit")
//
// # Tracing
//
//	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "entitle",
//	}, logger)
//	defer tp.Shutdown(ctx)
package observability
